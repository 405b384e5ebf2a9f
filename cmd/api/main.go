package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scheduling-platform/internal/auth"
	"scheduling-platform/internal/availability"
	"scheduling-platform/internal/booking"
	"scheduling-platform/internal/calendar"
	"scheduling-platform/internal/config"
	"scheduling-platform/internal/quota"
	"scheduling-platform/internal/slots"
	"scheduling-platform/pkg/logger"
	"scheduling-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Slot grid per the configured business-hours window.
	loc, err := time.LoadLocation(cfg.Booking.TimeZone)
	if err != nil {
		log.Error("invalid booking timezone", "err", err)
		os.Exit(1)
	}
	window, err := slots.NewWindow(cfg.Booking.BusinessHoursStart, cfg.Booking.BusinessHoursEnd)
	if err != nil {
		log.Error("invalid business-hours window", "err", err)
		os.Exit(1)
	}
	gen, err := slots.NewGenerator(window, time.Duration(cfg.Booking.SlotMinutes)*time.Minute, loc)
	if err != nil {
		log.Error("slot generator init failed", "err", err)
		os.Exit(1)
	}

	provider, err := newCalendarProvider(cfg.Calendar, db)
	if err != nil {
		log.Error("calendar provider init failed", "err", err)
		os.Exit(1)
	}

	repo := booking.NewPostgresRepo(db)
	resolver := availability.NewResolver(gen, provider, repo)
	cache := availability.NewCache(rdb, cfg.Booking.AvailabilityCacheTTL)

	limits := booking.Limits{
		Caller: cfg.Booking.CallerMonthlyLimit,
		Callee: cfg.Booking.CalleeMonthlyLimit,
	}
	bookingSvc := booking.NewService(repo, resolver, provider,
		booking.NewLogDispatcher(log), limits, cfg.Booking.ConfirmTimeout, log)
	quotaSvc := quota.NewService(quota.NewSQLStore(db))

	// Background retry of failed external calendar writes.
	syncWorker := booking.NewSyncWorker(repo, provider, 50, log)
	if err := syncWorker.Start(cfg.Booking.SyncRetryEvery); err != nil {
		log.Error("sync worker start failed", "err", err)
		os.Exit(1)
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		auth:         authManager,
		booking:      bookingSvc,
		availability: resolver,
		cache:        cache,
		quota:        quotaSvc,
		redis:        rdb,
		limits:       limits,
		db:           db,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "calendar_provider", provider.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	syncWorker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

func newCalendarProvider(cfg config.CalendarConfig, db *sql.DB) (calendar.Provider, error) {
	switch cfg.Provider {
	case "http":
		return calendar.NewHTTPProvider(cfg.BaseURL, calendar.NewSQLCredentialStore(db), cfg.FetchTimeout)
	case "ics":
		return calendar.NewICSProvider(calendar.NewSQLFeedStore(db), cfg.FetchTimeout)
	default:
		return nil, fmt.Errorf("unknown calendar provider %q", cfg.Provider)
	}
}

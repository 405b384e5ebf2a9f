package main

import (
	"database/sql"
	"net/http"
	"time"

	"scheduling-platform/internal/auth"
	"scheduling-platform/internal/availability"
	"scheduling-platform/internal/booking"
	"scheduling-platform/internal/httpapi"
	"scheduling-platform/internal/quota"
	"scheduling-platform/internal/rbac"
	"scheduling-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type routeDeps struct {
	auth         *auth.Manager
	booking      *booking.Service
	availability *availability.Resolver
	cache        *availability.Cache
	quota        *quota.Service
	redis        *redis.Client
	limits       booking.Limits
	db           *sql.DB
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	h := httpapi.Handlers{
		Auth:         deps.auth,
		Booking:      deps.booking,
		Availability: deps.availability,
		Cache:        deps.cache,
		Quota:        deps.quota,
		Redis:        deps.redis,
		Limits:       deps.limits,
	}

	// public
	r.GET("/healthz", func(c *gin.Context) {
		if deps.db != nil {
			if err := utils.HealthCheck(c.Request.Context(), deps.db, 2*time.Second); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(deps.auth))
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
		})
		v1.GET("/me/quota", h.MyQuota)

		// AVAILABILITY routes: any authenticated user can browse a callee's grid.
		v1.GET("/callees/:callee_id/availability", h.GetAvailability)

		// BOOKING routes: only callers start bookings; both sides can read
		// and cancel their own.
		bookings := v1.Group("/bookings")
		{
			bookings.POST("", rbac.RequireAnyRole(rbac.RoleCaller), h.CreateBooking)
			bookings.GET("/:id", h.GetBooking)
			bookings.POST("/:id/cancel", h.CancelBooking)
		}
	}
}

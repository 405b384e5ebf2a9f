package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"scheduling-platform/internal/calendar"

	"github.com/robfig/cron/v3"
)

// SyncWorker retries external calendar writes for calls left in
// calendar_sync_pending. It runs on a fixed interval and processes a bounded
// batch per tick, oldest first.
type SyncWorker struct {
	repo     Repository
	provider calendar.Provider
	log      *slog.Logger

	batch int
	cron  *cron.Cron
}

func NewSyncWorker(repo Repository, provider calendar.Provider, batch int, log *slog.Logger) *SyncWorker {
	if batch <= 0 {
		batch = 50
	}
	if log == nil {
		log = slog.Default()
	}
	return &SyncWorker{repo: repo, provider: provider, batch: batch, log: log}
}

// Start schedules the worker. Stop must be called on shutdown.
func (w *SyncWorker) Start(every time.Duration) error {
	if w.cron != nil {
		return errors.New("booking: sync worker already started")
	}
	if every <= 0 {
		return errors.New("booking: sync interval must be positive")
	}

	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", every), func() {
		ctx, cancel := context.WithTimeout(context.Background(), every)
		defer cancel()
		if _, err := w.RunOnce(ctx); err != nil {
			w.log.Warn("calendar sync pass failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	c.Start()
	w.cron = c
	return nil
}

// Stop halts scheduling and waits for an in-flight pass to finish.
func (w *SyncWorker) Stop() {
	if w.cron == nil {
		return
	}
	<-w.cron.Stop().Done()
	w.cron = nil
}

// RunOnce processes one batch of sync-pending calls and reports how many
// were cleared. Provider outages leave calls pending for the next pass.
func (w *SyncWorker) RunOnce(ctx context.Context) (int, error) {
	pending, err := w.repo.ListSyncPending(ctx, w.batch)
	if err != nil {
		return 0, err
	}

	synced := 0
	for _, call := range pending {
		res, err := w.provider.CreateEvent(ctx, calendar.EventRequest{
			CalleeID: call.CalleeID,
			CallerID: call.CallerID,
			CallID:   call.ID,
			Agenda:   call.Agenda,
			Start:    call.StartAt,
			End:      call.EndAt,
		})
		now := time.Now().UTC()

		switch {
		case err == nil:
			if merr := w.repo.MarkSynced(ctx, call.ID, res.EventRef, now); merr != nil {
				w.log.Warn("synced but flag not cleared", "call_id", call.ID, "error", merr)
				continue
			}
			synced++
		case errors.Is(err, calendar.ErrNotConnected):
			if merr := w.repo.MarkSynced(ctx, call.ID, "", now); merr != nil {
				w.log.Warn("could not clear sync flag", "call_id", call.ID, "error", merr)
				continue
			}
			synced++
		default:
			w.log.Debug("calendar still unavailable", "call_id", call.ID, "error", err)
		}

		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
	}
	return synced, nil
}

package booking

import (
	"context"
	"testing"
	"time"

	"scheduling-platform/internal/calendar"
)

func seedPending(t *testing.T, repo *MemoryRepo, id, calleeID string, createdAt time.Time) ScheduledCall {
	t.Helper()
	call := ScheduledCall{
		ID:                  id,
		CallerID:            "caller-1",
		CalleeID:            calleeID,
		StartAt:             createdAt.Add(24 * time.Hour),
		EndAt:               createdAt.Add(24*time.Hour + 15*time.Minute),
		Status:              StatusScheduled,
		ConfirmationCode:    newConfirmationCode(),
		CalendarSyncPending: true,
		CreatedAt:           createdAt,
		UpdatedAt:           createdAt,
	}
	if _, _, err := repo.Reserve(context.Background(), call, Limits{Caller: 100, Callee: 100}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return call
}

func TestSyncWorker_ClearsPendingOnSuccess(t *testing.T) {
	repo := NewMemoryRepo()
	provider := calendar.NewMemoryProvider()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	call := seedPending(t, repo, "call-1", "callee-1", base)

	w := NewSyncWorker(repo, provider, 10, nil)
	synced, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if synced != 1 {
		t.Fatalf("expected 1 synced, got %d", synced)
	}

	got, _ := repo.Get(context.Background(), call.ID)
	if got.CalendarSyncPending {
		t.Fatalf("flag should be cleared")
	}
	if got.ExternalEventRef == "" {
		t.Fatalf("expected event ref")
	}
}

func TestSyncWorker_LeavesPendingWhileProviderDown(t *testing.T) {
	repo := NewMemoryRepo()
	provider := calendar.NewMemoryProvider()
	provider.FailWrite["callee-1"] = true
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	call := seedPending(t, repo, "call-1", "callee-1", base)

	w := NewSyncWorker(repo, provider, 10, nil)
	synced, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if synced != 0 {
		t.Fatalf("expected 0 synced, got %d", synced)
	}
	got, _ := repo.Get(context.Background(), call.ID)
	if !got.CalendarSyncPending {
		t.Fatalf("flag must survive a failed pass")
	}

	// Provider recovers; next pass clears it.
	provider.FailWrite["callee-1"] = false
	if synced, _ = w.RunOnce(context.Background()); synced != 1 {
		t.Fatalf("expected recovery pass to sync 1, got %d", synced)
	}
}

func TestSyncWorker_DisconnectedCalleeStopsRetrying(t *testing.T) {
	repo := NewMemoryRepo()
	provider := calendar.NewMemoryProvider()
	provider.Disconnected["callee-1"] = true
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	call := seedPending(t, repo, "call-1", "callee-1", base)

	w := NewSyncWorker(repo, provider, 10, nil)
	if synced, _ := w.RunOnce(context.Background()); synced != 1 {
		t.Fatalf("disconnected callee clears the flag, got %d synced", synced)
	}
	got, _ := repo.Get(context.Background(), call.ID)
	if got.CalendarSyncPending || got.ExternalEventRef != "" {
		t.Fatalf("expected cleared flag and no ref, got %+v", got)
	}

	pending, _ := repo.ListSyncPending(context.Background(), 10)
	if len(pending) != 0 {
		t.Fatalf("nothing should remain pending")
	}
}

func TestSyncWorker_BatchIsOldestFirst(t *testing.T) {
	repo := NewMemoryRepo()
	provider := calendar.NewMemoryProvider()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	seedPending(t, repo, "call-new", "callee-1", base.Add(time.Hour))
	seedPending(t, repo, "call-old", "callee-2", base)

	w := NewSyncWorker(repo, provider, 1, nil)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := repo.Get(context.Background(), "call-old")
	if got.CalendarSyncPending {
		t.Fatalf("oldest call should be processed first")
	}
	got, _ = repo.Get(context.Background(), "call-new")
	if !got.CalendarSyncPending {
		t.Fatalf("newer call should wait for the next batch")
	}
}

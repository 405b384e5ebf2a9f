package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"scheduling-platform/internal/availability"
	"scheduling-platform/internal/calendar"
	"scheduling-platform/internal/rbac"

	"github.com/google/uuid"
)

// SlotChecker re-validates a requested slot at booking time. Implemented by
// the availability resolver; the verdict status is one of its Status values
// or "misaligned".
type SlotChecker interface {
	CheckSlot(ctx context.Context, calleeID string, start, end time.Time) (availability.Check, error)
}

// Service owns the booking lifecycle.
//
// Admission invariants:
//   - The availability check is advisory; the storage uniqueness constraint
//     on (callee_id, start_at) is the only arbiter under concurrency.
//   - Quota consumption happens inside the reservation transaction, never as
//     a separate pre-check.
//   - The external calendar write happens after commit. A write failure
//     leaves the booking confirmed with calendar_sync_pending set; the sync
//     worker retries. A booking is never rolled back because of it.
type Service struct {
	repo       Repository
	checker    SlotChecker
	provider   calendar.Provider
	dispatcher Dispatcher
	limits     Limits

	// syncTimeout bounds the post-commit calendar write so a slow provider
	// cannot hold the booking response.
	syncTimeout time.Duration

	clock func() time.Time
	log   *slog.Logger
}

func NewService(repo Repository, checker SlotChecker, provider calendar.Provider, dispatcher Dispatcher, limits Limits, syncTimeout time.Duration, log *slog.Logger) *Service {
	if dispatcher == nil {
		dispatcher = NewLogDispatcher(log)
	}
	if syncTimeout <= 0 {
		syncTimeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:        repo,
		checker:     checker,
		provider:    provider,
		dispatcher:  dispatcher,
		limits:      limits,
		syncTimeout: syncTimeout,
		clock:       time.Now,
		log:         log,
	}
}

// Book runs the booking pipeline: validate, re-check availability, reserve
// atomically, then sync the external calendar.
func (s *Service) Book(ctx context.Context, req Request) (ScheduledCall, error) {
	if err := validateRequest(req); err != nil {
		return ScheduledCall{}, err
	}
	req.StartAt = req.StartAt.UTC()
	req.EndAt = req.EndAt.UTC()

	if existing, ok, err := s.repo.FindByIdempotency(ctx, req.CallerID, req.IdempotencyKey); err != nil {
		return ScheduledCall{}, err
	} else if ok {
		return existing, nil
	}

	check, err := s.checker.CheckSlot(ctx, req.CalleeID, req.StartAt, req.EndAt)
	if err != nil {
		return ScheduledCall{}, err
	}
	switch check.Status {
	case string(availability.StatusAvailable):
	case availability.CheckMisaligned:
		return ScheduledCall{}, fmt.Errorf("%w: window is not a bookable slot", ErrInvalidRequest)
	default:
		return ScheduledCall{}, &UnavailableError{Reason: check.Status, Conflict: check.Conflict}
	}

	now := s.clock().UTC()
	call := ScheduledCall{
		ID:                  uuid.NewString(),
		CallerID:            req.CallerID,
		CalleeID:            req.CalleeID,
		StartAt:             req.StartAt,
		EndAt:               req.EndAt,
		Status:              StatusScheduled,
		Agenda:              req.Agenda,
		Notes:               req.Notes,
		ConfirmationCode:    newConfirmationCode(),
		CalendarSyncPending: true,
		IdempotencyKey:      req.IdempotencyKey,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	reserved, created, err := s.repo.Reserve(ctx, call, s.limits)
	if err != nil {
		return ScheduledCall{}, err
	}
	if !created {
		return reserved, nil
	}

	reserved = s.syncCalendar(ctx, reserved)

	s.dispatcher.Dispatch(ctx, Event{
		Type:     EventConfirmed,
		CallID:   reserved.ID,
		CallerID: reserved.CallerID,
		CalleeID: reserved.CalleeID,
		StartAt:  reserved.StartAt,
		At:       now,
	})
	return reserved, nil
}

// syncCalendar attempts the post-commit external calendar write once. The
// booking is already final; failures only leave the pending flag set.
func (s *Service) syncCalendar(ctx context.Context, call ScheduledCall) ScheduledCall {
	syncCtx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	res, err := s.provider.CreateEvent(syncCtx, calendar.EventRequest{
		CalleeID: call.CalleeID,
		CallerID: call.CallerID,
		CallID:   call.ID,
		Agenda:   call.Agenda,
		Start:    call.StartAt,
		End:      call.EndAt,
	})
	now := s.clock().UTC()

	switch {
	case err == nil:
		if merr := s.repo.MarkSynced(ctx, call.ID, res.EventRef, now); merr != nil {
			s.log.WarnContext(ctx, "calendar synced but flag not cleared", "call_id", call.ID, "error", merr)
			return call
		}
		call.ExternalEventRef = res.EventRef
		call.CalendarSyncPending = false
		call.UpdatedAt = now
	case errors.Is(err, calendar.ErrNotConnected):
		// Nothing to write to; stop the worker from retrying forever.
		if merr := s.repo.MarkSynced(ctx, call.ID, "", now); merr == nil {
			call.CalendarSyncPending = false
			call.UpdatedAt = now
		}
	default:
		s.log.WarnContext(ctx, "calendar event write failed, sync pending",
			"call_id", call.ID, "callee_id", call.CalleeID, "error", err)
	}
	return call
}

// Get returns a call visible to the requester. Only the two participants and
// admins may read a booking.
func (s *Service) Get(ctx context.Context, id, requesterID, role string) (ScheduledCall, error) {
	if id == "" {
		return ScheduledCall{}, ErrInvalidRequest
	}
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return ScheduledCall{}, err
	}
	if !s.canAccess(c, requesterID, role) {
		return ScheduledCall{}, ErrNotFound
	}
	return c, nil
}

// Cancel transitions a scheduled call to cancelled, returns both quota
// units, and deletes the external calendar event when one was written.
// Cancelling twice is a no-op.
func (s *Service) Cancel(ctx context.Context, id, requesterID, role string) (ScheduledCall, error) {
	c, err := s.Get(ctx, id, requesterID, role)
	if err != nil {
		return ScheduledCall{}, err
	}
	if c.Status == StatusCancelled {
		return c, nil
	}
	if !s.clock().UTC().Before(c.StartAt) {
		return ScheduledCall{}, ErrAlreadyStarted
	}

	cancelled, err := s.repo.Cancel(ctx, id, s.clock().UTC())
	if err != nil {
		return ScheduledCall{}, err
	}

	s.dispatcher.Dispatch(ctx, Event{
		Type:     EventCancelled,
		CallID:   cancelled.ID,
		CallerID: cancelled.CallerID,
		CalleeID: cancelled.CalleeID,
		StartAt:  cancelled.StartAt,
		At:       cancelled.UpdatedAt,
	})
	return cancelled, nil
}

func (s *Service) canAccess(c ScheduledCall, requesterID, role string) bool {
	if rbac.IsAdmin(role) {
		return true
	}
	return requesterID != "" && (requesterID == c.CallerID || requesterID == c.CalleeID)
}

func validateRequest(req Request) error {
	if req.CallerID == "" || req.CalleeID == "" {
		return ErrInvalidRequest
	}
	if req.CallerID == req.CalleeID {
		return fmt.Errorf("%w: caller and callee must differ", ErrInvalidRequest)
	}
	if req.StartAt.IsZero() || req.EndAt.IsZero() || !req.StartAt.Before(req.EndAt) {
		return fmt.Errorf("%w: start_at must be before end_at", ErrInvalidRequest)
	}
	return nil
}

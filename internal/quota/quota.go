package quota

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Quotas cap how many bookings a subject (caller or callee) may participate
// in per calendar month (UTC). Consumption happens inside the booking
// transaction (see internal/booking), never as a separate pre-check, so two
// simultaneous bookings by the same subject cannot both pass a stale read.

// Period is a rolling quota period: [Start, End) in UTC.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// PeriodFor returns the calendar month (UTC) containing at.
func PeriodFor(at time.Time) Period {
	u := at.UTC()
	start := time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

var ErrQuotaExceeded = errors.New("quota exceeded")

// ExceededError carries the detail the caller needs to act: who is blocked
// and when the period resets. It matches ErrQuotaExceeded via errors.Is.
type ExceededError struct {
	SubjectID string
	Limit     int
	ResetAt   time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (limit %d, resets %s)", e.SubjectID, e.Limit, e.ResetAt.Format(time.RFC3339))
}

func (e *ExceededError) Unwrap() error { return ErrQuotaExceeded }

// Remaining is the read-side answer to "can this subject still book?".
type Remaining struct {
	SubjectID string    `json:"subject_id"`
	Period    Period    `json:"period"`
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Store abstracts quota usage reads. Writes happen through the transactional
// helpers (ConsumeTx/ReleaseTx for SQL, MemoryStore methods for tests)
// because they must share the booking transaction.
type Store interface {
	Usage(ctx context.Context, subjectID string, period Period) (used int, err error)
}

var ErrInvalidSubject = errors.New("quota: subject_id required")

// Service answers quota reads.
type Service struct {
	store Store
	clock func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, clock: time.Now}
}

// Remaining reports usage for the current calendar month.
func (s *Service) Remaining(ctx context.Context, subjectID string, limit int) (Remaining, error) {
	return s.RemainingAt(ctx, subjectID, limit, s.clock())
}

// RemainingAt reports usage for the month containing at. Quota units are
// consumed against the month of the meeting, not the month of booking.
func (s *Service) RemainingAt(ctx context.Context, subjectID string, limit int, at time.Time) (Remaining, error) {
	if subjectID == "" {
		return Remaining{}, ErrInvalidSubject
	}
	if s.store == nil {
		return Remaining{}, errors.New("quota: store not configured")
	}

	p := PeriodFor(at)
	used, err := s.store.Usage(ctx, subjectID, p)
	if err != nil {
		return Remaining{}, err
	}

	rem := limit - used
	if rem < 0 {
		rem = 0
	}
	return Remaining{
		SubjectID: subjectID,
		Period:    p,
		Limit:     limit,
		Used:      used,
		Remaining: rem,
		ResetAt:   p.End,
	}, nil
}

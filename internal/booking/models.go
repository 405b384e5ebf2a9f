package booking

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// ScheduledCall is a confirmed booking of one slot between a caller and a
// callee. [StartAt, EndAt) in UTC.
//
// CalendarSyncPending marks calls whose external calendar event has not been
// written yet. The booking itself is final either way; a pending flag only
// drives the sync worker's retries.
type ScheduledCall struct {
	ID                  string    `json:"id"`
	CallerID            string    `json:"caller_id"`
	CalleeID            string    `json:"callee_id"`
	StartAt             time.Time `json:"start_at"`
	EndAt               time.Time `json:"end_at"`
	Status              Status    `json:"status"`
	Agenda              string    `json:"agenda,omitempty"`
	Notes               string    `json:"notes,omitempty"`
	ConfirmationCode    string    `json:"confirmation_code"`
	ExternalEventRef    string    `json:"external_event_ref,omitempty"`
	CalendarSyncPending bool      `json:"calendar_sync_pending"`
	IdempotencyKey      string    `json:"-"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Request is a caller's booking attempt. StartAt/EndAt must be exactly one
// slot of the callee's grid; the service re-validates, it does not trust the
// client.
type Request struct {
	CallerID       string    `json:"-"`
	CalleeID       string    `json:"callee_id"`
	StartAt        time.Time `json:"start_at"`
	EndAt          time.Time `json:"end_at"`
	Agenda         string    `json:"agenda,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
}

// newConfirmationCode returns a short human-readable code for support
// lookups. Uniqueness is not required; the call ID is the real identifier.
func newConfirmationCode() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "CALL-" + raw[:8]
}

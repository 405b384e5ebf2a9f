package booking

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"scheduling-platform/internal/calendar"
	"scheduling-platform/internal/quota"
	"scheduling-platform/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// NOTE: This repository assumes the following table exists:
//
//   scheduled_calls (
//     id                    TEXT PRIMARY KEY,
//     caller_id             TEXT        NOT NULL,
//     callee_id             TEXT        NOT NULL,
//     start_at              TIMESTAMPTZ NOT NULL,
//     end_at                TIMESTAMPTZ NOT NULL,
//     status                TEXT        NOT NULL,
//     agenda                TEXT        NOT NULL DEFAULT '',
//     notes                 TEXT        NOT NULL DEFAULT '',
//     confirmation_code     TEXT        NOT NULL,
//     external_event_ref    TEXT        NOT NULL DEFAULT '',
//     calendar_sync_pending BOOLEAN     NOT NULL DEFAULT false,
//     idempotency_key       TEXT        NOT NULL DEFAULT '',
//     created_at            TIMESTAMPTZ NOT NULL,
//     updated_at            TIMESTAMPTZ NOT NULL
//   )
//
// with two partial unique indexes:
//
//   ux_scheduled_calls_callee_start ON (callee_id, start_at) WHERE status <> 'cancelled'
//   ux_scheduled_calls_caller_idem  ON (caller_id, idempotency_key) WHERE idempotency_key <> ''
//
// The first index is the single arbiter for slot contention: two transactions
// inserting the same callee+start cannot both commit.

// Limits are the per-subject monthly booking caps applied inside Reserve.
type Limits struct {
	Caller int
	Callee int
}

// Repository is the persistence contract for scheduled calls.
type Repository interface {
	FindByIdempotency(ctx context.Context, callerID, key string) (ScheduledCall, bool, error)

	// Reserve atomically inserts the call and consumes one quota unit for
	// both parties. The returned bool is false when an idempotent replay
	// matched an existing call instead.
	Reserve(ctx context.Context, call ScheduledCall, limits Limits) (ScheduledCall, bool, error)

	Get(ctx context.Context, id string) (ScheduledCall, error)

	// Cancel transitions a scheduled call to cancelled and returns both
	// quota units. Cancelling an already-cancelled call is a no-op.
	Cancel(ctx context.Context, id string, now time.Time) (ScheduledCall, error)

	// MarkSynced records the external event reference and clears the
	// sync-pending flag. An empty ref clears the flag without a reference
	// (callee has no calendar to write to).
	MarkSynced(ctx context.Context, id, eventRef string, now time.Time) error

	ListSyncPending(ctx context.Context, limit int) ([]ScheduledCall, error)

	// BookedBetween returns non-cancelled calls overlapping [from, to) as
	// busy intervals. The filter must match the uniqueness constraint: any
	// row the constraint would collide with has to read as busy.
	BookedBetween(ctx context.Context, calleeID string, from, to time.Time) ([]calendar.BusyInterval, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const callColumns = `
id, caller_id, callee_id, start_at, end_at, status, agenda, notes,
confirmation_code, external_event_ref, calendar_sync_pending, idempotency_key,
created_at, updated_at
`

func scanCall(row interface{ Scan(...any) error }) (ScheduledCall, error) {
	var c ScheduledCall
	err := row.Scan(
		&c.ID,
		&c.CallerID,
		&c.CalleeID,
		&c.StartAt,
		&c.EndAt,
		&c.Status,
		&c.Agenda,
		&c.Notes,
		&c.ConfirmationCode,
		&c.ExternalEventRef,
		&c.CalendarSyncPending,
		&c.IdempotencyKey,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}

func (r *PostgresRepo) FindByIdempotency(ctx context.Context, callerID, key string) (ScheduledCall, bool, error) {
	if key == "" {
		return ScheduledCall{}, false, nil
	}
	const q = `
SELECT ` + callColumns + `
FROM scheduled_calls
WHERE caller_id = $1 AND idempotency_key = $2
LIMIT 1
`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, callerID, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ScheduledCall{}, false, nil
		}
		return ScheduledCall{}, false, err
	}
	return c, true, nil
}

// errIdemRace signals that a concurrent request with the same idempotency key
// committed first. The caller re-reads the winning row outside the aborted
// transaction.
var errIdemRace = errors.New("booking: idempotency race")

func (r *PostgresRepo) Reserve(ctx context.Context, call ScheduledCall, limits Limits) (ScheduledCall, bool, error) {
	period := quota.PeriodFor(call.StartAt)

	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `
INSERT INTO scheduled_calls (` + callColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
`
		_, err := tx.ExecContext(ctx, q,
			call.ID,
			call.CallerID,
			call.CalleeID,
			call.StartAt,
			call.EndAt,
			call.Status,
			call.Agenda,
			call.Notes,
			call.ConfirmationCode,
			call.ExternalEventRef,
			call.CalendarSyncPending,
			call.IdempotencyKey,
			call.CreatedAt,
			call.UpdatedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				if pgErr.ConstraintName == "ux_scheduled_calls_caller_idem" {
					return errIdemRace
				}
				return ErrSlotConflict
			}
			return err
		}

		if err := quota.ConsumeTx(ctx, tx, call.CallerID, limits.Caller, period); err != nil {
			return err
		}
		return quota.ConsumeTx(ctx, tx, call.CalleeID, limits.Callee, period)
	})

	if errors.Is(err, errIdemRace) {
		existing, ok, ferr := r.FindByIdempotency(ctx, call.CallerID, call.IdempotencyKey)
		if ferr != nil {
			return ScheduledCall{}, false, ferr
		}
		if !ok {
			return ScheduledCall{}, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return ScheduledCall{}, false, err
	}
	return call, true, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (ScheduledCall, error) {
	const q = `
SELECT ` + callColumns + `
FROM scheduled_calls
WHERE id = $1
`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ScheduledCall{}, ErrNotFound
		}
		return ScheduledCall{}, err
	}
	return c, nil
}

func (r *PostgresRepo) Cancel(ctx context.Context, id string, now time.Time) (ScheduledCall, error) {
	var out ScheduledCall
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const sel = `
SELECT ` + callColumns + `
FROM scheduled_calls
WHERE id = $1
FOR UPDATE
`
		c, err := scanCall(tx.QueryRowContext(ctx, sel, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		if c.Status == StatusCancelled {
			out = c
			return nil
		}
		if c.Status != StatusScheduled {
			return ErrAlreadyStarted
		}

		const upd = `
UPDATE scheduled_calls
SET status = $2, calendar_sync_pending = false, updated_at = $3
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, upd, id, StatusCancelled, now); err != nil {
			return err
		}

		period := quota.PeriodFor(c.StartAt)
		if err := quota.ReleaseTx(ctx, tx, c.CallerID, period); err != nil {
			return err
		}
		if err := quota.ReleaseTx(ctx, tx, c.CalleeID, period); err != nil {
			return err
		}

		c.Status = StatusCancelled
		c.CalendarSyncPending = false
		c.UpdatedAt = now
		out = c
		return nil
	})
	if err != nil {
		return ScheduledCall{}, err
	}
	return out, nil
}

func (r *PostgresRepo) MarkSynced(ctx context.Context, id, eventRef string, now time.Time) error {
	const q = `
UPDATE scheduled_calls
SET external_event_ref = $2, calendar_sync_pending = false, updated_at = $3
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, id, eventRef, now)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) ListSyncPending(ctx context.Context, limit int) ([]ScheduledCall, error) {
	const q = `
SELECT ` + callColumns + `
FROM scheduled_calls
WHERE calendar_sync_pending AND status = 'scheduled'
ORDER BY created_at
LIMIT $1
`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduledCall
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) BookedBetween(ctx context.Context, calleeID string, from, to time.Time) ([]calendar.BusyInterval, error) {
	const q = `
SELECT start_at, end_at
FROM scheduled_calls
WHERE callee_id = $1 AND status <> 'cancelled' AND start_at < $3 AND end_at > $2
ORDER BY start_at
`
	rows, err := r.db.QueryContext(ctx, q, calleeID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []calendar.BusyInterval
	for rows.Next() {
		var iv calendar.BusyInterval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		iv.Source = calendar.SourcePlatform
		out = append(out, iv)
	}
	return out, rows.Err()
}

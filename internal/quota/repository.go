package quota

import (
	"context"
	"database/sql"
	"errors"
)

// NOTE: This repository assumes the following table exists:
//
//   booking_quotas (
//     subject_id   TEXT        NOT NULL,
//     period_start TIMESTAMPTZ NOT NULL,
//     period_end   TIMESTAMPTZ NOT NULL,
//     limit_count  INT         NOT NULL,
//     used_count   INT         NOT NULL,
//     PRIMARY KEY (subject_id, period_start)
//   )

// SQLStore reads quota usage from Postgres.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func (s *SQLStore) Usage(ctx context.Context, subjectID string, period Period) (int, error) {
	const q = `
SELECT used_count
FROM booking_quotas
WHERE subject_id = $1 AND period_start = $2
`
	var used int
	if err := s.db.QueryRowContext(ctx, q, subjectID, period.Start).Scan(&used); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return used, nil
}

// ConsumeTx atomically takes one unit of quota for the subject inside the
// caller's transaction. The guarded upsert is a single statement, so two
// concurrent transactions cannot both pass a stale count: the loser either
// blocks on the row lock and re-evaluates the guard, or fails the guard and
// returns ExceededError.
func ConsumeTx(ctx context.Context, tx *sql.Tx, subjectID string, limit int, period Period) error {
	if subjectID == "" {
		return ErrInvalidSubject
	}
	if limit <= 0 {
		return &ExceededError{SubjectID: subjectID, Limit: limit, ResetAt: period.End}
	}

	const q = `
INSERT INTO booking_quotas (subject_id, period_start, period_end, limit_count, used_count)
VALUES ($1, $2, $3, $4, 1)
ON CONFLICT (subject_id, period_start)
DO UPDATE SET used_count = booking_quotas.used_count + 1,
              limit_count = EXCLUDED.limit_count
WHERE booking_quotas.used_count < EXCLUDED.limit_count
RETURNING used_count
`
	var used int
	err := tx.QueryRowContext(ctx, q, subjectID, period.Start, period.End, limit).Scan(&used)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &ExceededError{SubjectID: subjectID, Limit: limit, ResetAt: period.End}
		}
		return err
	}
	return nil
}

// ReleaseTx returns one unit of quota on cancellation, floored at zero.
func ReleaseTx(ctx context.Context, tx *sql.Tx, subjectID string, period Period) error {
	if subjectID == "" {
		return ErrInvalidSubject
	}
	const q = `
UPDATE booking_quotas
SET used_count = GREATEST(used_count - 1, 0)
WHERE subject_id = $1 AND period_start = $2
`
	_, err := tx.ExecContext(ctx, q, subjectID, period.Start)
	return err
}

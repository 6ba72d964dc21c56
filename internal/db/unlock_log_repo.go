package db

import (
	"context"

	"gather/internal/types"
)

// UnlockLogRepository provides append-only access to the
// location_unlock_log audit table: one row per candidate evaluation per
// scheduler run, including deliberate skips.
type UnlockLogRepository struct {
	db DBTX
}

// NewUnlockLogRepository creates a new UnlockLogRepository backed by the
// given database connection (pool or transaction).
func NewUnlockLogRepository(db DBTX) *UnlockLogRepository {
	return &UnlockLogRepository{db: db}
}

// Append inserts one audit row.
func (r *UnlockLogRepository) Append(ctx context.Context, e *types.UnlockLogEntry) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO location_unlock_log
		 (event_id, event_title, action, details, unlocked_at)
		 VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))`,
		e.EventID,
		e.EventTitle,
		string(e.Action),
		nilIfEmpty(e.Details),
		nilIfZeroTime(e.UnlockedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append unlock log entry", err)
	}
	return nil
}

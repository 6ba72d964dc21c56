package db

import (
	"context"

	"gather/internal/types"
)

// NotificationLogRepository provides append-only access to the
// notifications_log table: one row per recipient per job attempt. Rows are
// never updated or deleted by the worker.
type NotificationLogRepository struct {
	db DBTX
}

// NewNotificationLogRepository creates a new NotificationLogRepository
// backed by the given database connection (pool or transaction).
func NewNotificationLogRepository(db DBTX) *NotificationLogRepository {
	return &NotificationLogRepository{db: db}
}

// Append inserts one delivery outcome row. queue_id is a back-reference for
// correlation, not ownership; log rows outlive any queue housekeeping.
func (r *NotificationLogRepository) Append(ctx context.Context, e *types.NotificationLogEntry) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO notifications_log
		 (queue_id, kind, event_id, join_request_id, recipient_user_id,
		  recipient_email, subject, body, ai_used, provider,
		  provider_message_id, status, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		         COALESCE($14, NOW()))`,
		e.QueueID,
		string(e.Kind),
		e.EventID,
		e.JoinRequestID,
		e.RecipientUserID,
		e.RecipientEmail,
		e.Subject,
		e.Body,
		e.AIUsed,
		nilIfEmpty(e.Provider),
		nilIfEmpty(e.ProviderMessageID),
		string(e.Status),
		nilIfEmpty(e.Error),
		nilIfZeroTime(e.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append notification log entry", err)
	}
	return nil
}

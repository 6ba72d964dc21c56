package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"gather/internal/types"
)

// QueueRepository provides data access for the notifications_queue table.
// Jobs are created by the application when a join request is submitted,
// approved, or rejected, or when a location unlocks; this repository only
// claims and finalizes them.
type QueueRepository struct {
	db DBTX
}

// NewQueueRepository creates a new QueueRepository backed by the given
// database connection (pool or transaction).
func NewQueueRepository(db DBTX) *QueueRepository {
	return &QueueRepository{db: db}
}

// ClaimDue atomically claims up to batchSize due jobs: rows with
// status='queued' and attempts below maxAttempts, oldest first. The claim
// flips status to 'processing' and increments attempts in the same
// statement, so a concurrent invocation scanning for 'queued' rows cannot
// re-select them; FOR UPDATE SKIP LOCKED additionally keeps two overlapping
// claims from blocking on, or double-selecting, the same rows.
//
// This is still at-least-once, not exactly-once: a worker that claims jobs
// and then dies leaves them in 'processing' until an operator re-queues
// them, and duplicate delivery on the margins is bounded by maxAttempts and
// the idempotence of the downstream effects (an extra email at worst).
//
// An empty result is normal, not an error.
func (r *QueueRepository) ClaimDue(ctx context.Context, batchSize, maxAttempts int) ([]*types.NotificationJob, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE notifications_queue SET
			status = 'processing',
			attempts = attempts + 1,
			updated_at = NOW()
		 WHERE id IN (
			SELECT id FROM notifications_queue
			WHERE status = 'queued' AND attempts < $2
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, kind, event_id, join_request_id, requester_id, host_id,
		           payload, status, attempts, last_error, created_at, updated_at`,
		batchSize,
		maxAttempts,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to claim notification jobs", err)
	}
	defer rows.Close()

	var jobs []*types.NotificationJob
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan notification job", scanErr)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating notification jobs", err)
	}

	return jobs, nil
}

// EnqueueLocationUnlocked creates the queued notification job that follows a
// successful location unlock. Attendees and host are resolved at processing
// time, so the row only carries the event reference.
func (r *QueueRepository) EnqueueLocationUnlocked(ctx context.Context, event *types.Event) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO notifications_queue
		 (kind, event_id, host_id, payload, status, attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, '{}'::jsonb, 'queued', 0, NOW(), NOW())`,
		string(types.KindLocationUnlocked),
		event.ID,
		event.HostID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to enqueue location_unlocked job", err)
	}
	return nil
}

// MarkSent finalizes a claimed job as sent and clears any previous error.
func (r *QueueRepository) MarkSent(ctx context.Context, jobID int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE notifications_queue SET
			status = 'sent',
			last_error = NULL,
			updated_at = NOW()
		 WHERE id = $1`,
		jobID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark job sent", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundJob, "notification job not found", nil)
	}
	return nil
}

// MarkFailed finalizes a claimed job as failed with a human-readable error
// summary. The per-recipient rows in notifications_log remain the source of
// truth; lastError is the pipe-joined convenience field, not machine-parsed.
func (r *QueueRepository) MarkFailed(ctx context.Context, jobID int64, lastError string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE notifications_queue SET
			status = 'failed',
			last_error = $2,
			updated_at = NOW()
		 WHERE id = $1`,
		jobID,
		nilIfEmpty(lastError),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark job failed", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundJob, "notification job not found", nil)
	}
	return nil
}

// scanJob scans a single notifications_queue row. Nullable columns use
// pointer types; payload is a JSONB column decoded into a map.
func scanJob(rows pgx.Rows) (*types.NotificationJob, error) {
	var (
		job         types.NotificationJob
		kind        string
		status      string
		payloadJSON []byte
		createdAt   time.Time
		updatedAt   time.Time
	)

	err := rows.Scan(
		&job.ID,
		&kind,
		&job.EventID,
		&job.JoinRequestID,
		&job.RequesterID,
		&job.HostID,
		&payloadJSON,
		&status,
		&job.Attempts,
		&job.LastError,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Kind = types.NotificationKind(kind)
	job.Status = types.JobStatus(status)
	job.CreatedAt = createdAt
	job.UpdatedAt = updatedAt
	if len(payloadJSON) > 0 {
		// Malformed payloads degrade to an empty map rather than failing
		// the claim; the copy builder treats missing keys as absent.
		_ = json.Unmarshal(payloadJSON, &job.Payload)
	}

	return &job, nil
}

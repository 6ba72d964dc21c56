package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"gather/internal/types"
)

// EventRepository provides read access to the events table plus the single
// mutation the background jobs perform: flipping place_exact_visible.
type EventRepository struct {
	db DBTX
}

// NewEventRepository creates a new EventRepository backed by the given
// database connection (pool or transaction).
func NewEventRepository(db DBTX) *EventRepository {
	return &EventRepository{db: db}
}

// GetByID fetches a single event. Returns a not-found AppError when the
// event no longer exists; callers building notification context treat that
// as a soft condition and substitute placeholder copy.
func (r *EventRepository) GetByID(ctx context.Context, eventID int64) (*types.Event, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, title, date, time::text, user_id, creator_id, owner_id,
		        place_exact, place_exact_visible
		 FROM events
		 WHERE id = $1`,
		eventID,
	)

	ev, err := scanEvent(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundEvent, "event not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get event", err)
	}
	return ev, nil
}

// ListUnlockCandidates returns upcoming events whose exact location is
// still hidden but set: place_exact_visible=false, place_exact present,
// and date today or later, ordered by (date, time). Past-dated events with
// hidden locations are never candidates; they are presumed already
// resolved or abandoned.
func (r *EventRepository) ListUnlockCandidates(ctx context.Context) ([]*types.Event, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, title, date, time::text, user_id, creator_id, owner_id,
		        place_exact, place_exact_visible
		 FROM events
		 WHERE place_exact_visible = false
		   AND place_exact IS NOT NULL
		   AND date >= CURRENT_DATE
		 ORDER BY date, time`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list unlock candidates", err)
	}
	defer rows.Close()

	var events []*types.Event
	for rows.Next() {
		ev, scanErr := scanEvent(rows.Scan)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan event row", scanErr)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating event rows", err)
	}

	return events, nil
}

// UnlockExactPlace flips place_exact_visible to true, guarded by
// WHERE place_exact_visible = false. The guard makes the transition an
// idempotent compare-and-set: when a concurrent run already flipped the
// flag, zero rows are affected and the caller records a harmless no-op
// rather than an error. Returns whether this call performed the flip.
func (r *EventRepository) UnlockExactPlace(ctx context.Context, eventID int64) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE events SET place_exact_visible = true
		 WHERE id = $1 AND place_exact_visible = false`,
		eventID,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to unlock event location", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListApprovedAttendeeIDs returns the distinct user ids with an approved
// join request for the event. DISTINCT mirrors the fan-out contract: a user
// duplicated across attendee rows receives exactly one email.
func (r *EventRepository) ListApprovedAttendeeIDs(ctx context.Context, eventID int64) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT user_id FROM join_requests
		 WHERE event_id = $1 AND status = 'approved'`,
		eventID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list approved attendees", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan attendee row", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating attendee rows", err)
	}

	return ids, nil
}

// scanEvent scans one events row from either a pgx.Row or pgx.Rows Scan
// function. The three legacy host columns are collapsed through
// types.ResolveHostID; the TIME column is read as text and parsed, which
// sidesteps driver-specific time-of-day representations.
func scanEvent(scan func(dest ...any) error) (*types.Event, error) {
	var (
		ev        types.Event
		date      time.Time
		timeText  *string
		userID    *string
		creatorID *string
		ownerID   *string
	)

	err := scan(
		&ev.ID,
		&ev.Title,
		&date,
		&timeText,
		&userID,
		&creatorID,
		&ownerID,
		&ev.PlaceExact,
		&ev.PlaceExactVisible,
	)
	if err != nil {
		return nil, err
	}

	ev.Date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	ev.HostID = types.ResolveHostID(userID, creatorID, ownerID)
	if timeText != nil {
		ev.StartTime = parseTimeOfDay(*timeText)
	}

	return &ev, nil
}

// parseTimeOfDay parses a Postgres TIME text value ("18:30:00", optionally
// with fractional seconds). Unparseable values degrade to midnight rather
// than failing the scan.
func parseTimeOfDay(s string) time.Time {
	if len(s) > 8 {
		s = s[:8]
	}
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

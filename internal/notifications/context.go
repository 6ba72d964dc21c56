// Package notifications implements the queue-draining email worker: claim a
// bounded batch of jobs, enrich each with event and people context, build
// per-recipient copy, send through the email provider, and record every
// outcome in the notifications log.
package notifications

import (
	"context"
	"errors"
	"log/slog"

	"gather/internal/types"
)

// placeholderEventTitle stands in for events that were deleted between job
// enqueue and processing. The notification still goes out; the copy just
// cannot name the event.
const placeholderEventTitle = "the event"

// EventStore is the slice of event data access the worker needs.
type EventStore interface {
	GetByID(ctx context.Context, eventID int64) (*types.Event, error)
	ListApprovedAttendeeIDs(ctx context.Context, eventID int64) ([]string, error)
}

// ProfileStore resolves user ids to profiles. Lookups soft-fail: a missing
// profile returns (nil, nil).
type ProfileStore interface {
	GetByUserID(ctx context.Context, userID string) (*types.Profile, error)
}

// JobContext is everything handleJob resolves before building copy: the
// event (possibly absent), the requester and host profiles (possibly nil),
// and, for location_unlocked only, the deduplicated attendee profiles.
type JobContext struct {
	Event      *types.Event
	EventTitle string
	// EventWhen is the formatted start datetime, empty when unknown.
	EventWhen string
	Requester *types.Profile
	Host      *types.Profile
	Attendees []*types.Profile
}

// ContextBuilder resolves job references against the event and profile
// stores. Every lookup degrades rather than fails: a deleted event becomes a
// placeholder title, a missing profile becomes nil. Only infrastructure
// errors (the store itself unreachable) propagate.
type ContextBuilder struct {
	events   EventStore
	profiles ProfileStore
	logger   *slog.Logger
}

// NewContextBuilder creates a ContextBuilder.
func NewContextBuilder(events EventStore, profiles ProfileStore, logger *slog.Logger) *ContextBuilder {
	return &ContextBuilder{events: events, profiles: profiles, logger: logger}
}

// Build resolves the job's context. The host id comes from the job when set,
// otherwise from the event's resolved host column. Attendees are fetched
// only for location_unlocked and are deduplicated by user id.
func (b *ContextBuilder) Build(ctx context.Context, job *types.NotificationJob) (*JobContext, error) {
	jc := &JobContext{EventTitle: placeholderEventTitle}

	if job.EventID != nil {
		ev, err := b.events.GetByID(ctx, *job.EventID)
		if err != nil {
			var appErr *types.AppError
			if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundEvent {
				b.logger.WarnContext(ctx, "event missing for notification job",
					"job_id", job.ID,
					"event_id", *job.EventID,
				)
			} else {
				return nil, err
			}
		} else {
			jc.Event = ev
			if ev.Title != "" {
				jc.EventTitle = ev.Title
			}
			jc.EventWhen = formatEventWhen(ev)
		}
	}

	if job.RequesterID != nil && *job.RequesterID != "" {
		p, err := b.profiles.GetByUserID(ctx, *job.RequesterID)
		if err != nil {
			return nil, err
		}
		jc.Requester = p
	}

	hostID := job.HostID
	if (hostID == nil || *hostID == "") && jc.Event != nil {
		hostID = jc.Event.HostID
	}
	if hostID != nil && *hostID != "" {
		p, err := b.profiles.GetByUserID(ctx, *hostID)
		if err != nil {
			return nil, err
		}
		jc.Host = p
	}

	if job.Kind == types.KindLocationUnlocked && job.EventID != nil {
		attendees, err := b.resolveAttendees(ctx, *job.EventID)
		if err != nil {
			return nil, err
		}
		jc.Attendees = attendees
	}

	return jc, nil
}

// resolveAttendees fetches the approved attendee ids and resolves each to a
// profile, dropping ids whose profile is gone. The id list is already
// distinct at the query level; the seen map guards the contract locally too.
func (b *ContextBuilder) resolveAttendees(ctx context.Context, eventID int64) ([]*types.Profile, error) {
	ids, err := b.events.ListApprovedAttendeeIDs(ctx, eventID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(ids))
	var attendees []*types.Profile
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		p, err := b.profiles.GetByUserID(ctx, id)
		if err != nil {
			return nil, err
		}
		if p == nil {
			b.logger.WarnContext(ctx, "attendee profile missing",
				"event_id", eventID,
				"user_id", id,
			)
			continue
		}
		attendees = append(attendees, p)
	}

	return attendees, nil
}

// formatEventWhen renders the event's start instant for copy, UTC-normalized.
// Returns empty when the event has no usable start time.
func formatEventWhen(ev *types.Event) string {
	start := ev.StartsAtUTC()
	if start.IsZero() || ev.Date.IsZero() {
		return ""
	}
	return start.Format("Jan 2, 2006 at 15:04 UTC")
}

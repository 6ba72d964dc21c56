// Package scheduler implements the scheduled location unlock job: shortly
// before an outing starts, the event's exact meeting place becomes visible
// to its approved attendees. An external scheduler invokes the job on a
// fixed cadence; each run evaluates every candidate event against the unlock
// window and records its disposition in an audit log.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gather/internal/types"
)

// UnlockDB defines the database operations needed by the unlock service.
type UnlockDB interface {
	// ListUnlockCandidates returns events with a hidden but set exact place,
	// dated today or later, ordered by (date, time).
	//
	// SQL: SELECT ... FROM events WHERE place_exact_visible = false
	//      AND place_exact IS NOT NULL AND date >= CURRENT_DATE
	//      ORDER BY date, time
	ListUnlockCandidates(ctx context.Context) ([]*types.Event, error)

	// UnlockExactPlace flips place_exact_visible under a false-only guard.
	// Returns whether this call performed the flip.
	//
	// SQL: UPDATE events SET place_exact_visible = true
	//      WHERE id = $1 AND place_exact_visible = false
	UnlockExactPlace(ctx context.Context, eventID int64) (bool, error)
}

// UnlockAuditLog records one row per candidate evaluation.
type UnlockAuditLog interface {
	Append(ctx context.Context, e *types.UnlockLogEntry) error
}

// UnlockNotifier enqueues the location_unlocked notification job after a
// successful flip, so attendees hear about the reveal by email.
type UnlockNotifier interface {
	EnqueueLocationUnlocked(ctx context.Context, event *types.Event) error
}

// UnlockWindow is the acceptance interval for the minutes-until-start
// predicate. The tolerance absorbs scheduler invocation jitter: with the
// defaults (lead 60, tolerance 5) an event is unlocked when it starts
// between 55 and 65 minutes from now, boundaries inclusive. The window width
// must be at least the scheduler cadence or events can slip through
// unevaluated on both sides.
type UnlockWindow struct {
	LeadMinutes      int
	ToleranceMinutes int
}

// Contains reports whether minutesUntil falls inside the window.
func (w UnlockWindow) Contains(minutesUntil float64) bool {
	lo := float64(w.LeadMinutes - w.ToleranceMinutes)
	hi := float64(w.LeadMinutes + w.ToleranceMinutes)
	return minutesUntil >= lo && minutesUntil <= hi
}

// CandidateResult is one candidate's disposition in a run.
type CandidateResult struct {
	EventID      int64              `json:"event_id"`
	EventTitle   string             `json:"event_title"`
	Action       types.UnlockAction `json:"action"`
	Details      string             `json:"details,omitempty"`
	MinutesUntil float64            `json:"minutes_until"`
}

// RunResult aggregates one invocation.
type RunResult struct {
	Processed int
	Unlocked  int
	Skipped   int
	Errors    int
	Results   []CandidateResult
}

// UnlockService evaluates unlock candidates. Per-candidate failures are
// logged as error dispositions and never stop the remaining candidates; only
// a failed candidate fetch aborts the run.
type UnlockService struct {
	db       UnlockDB
	audit    UnlockAuditLog
	notifier UnlockNotifier
	window   UnlockWindow
	logger   *slog.Logger
}

// NewUnlockService creates an UnlockService. The notifier may be nil; flips
// then happen without a follow-up notification job.
func NewUnlockService(
	db UnlockDB,
	audit UnlockAuditLog,
	notifier UnlockNotifier,
	window UnlockWindow,
	logger *slog.Logger,
) *UnlockService {
	return &UnlockService{
		db:       db,
		audit:    audit,
		notifier: notifier,
		window:   window,
		logger:   logger,
	}
}

// Run evaluates every candidate against the unlock window at the given
// instant. The now parameter keeps runs deterministic in tests and allows
// manual backfill; callers pass time.Now().
func (s *UnlockService) Run(ctx context.Context, now time.Time) (*RunResult, error) {
	candidates, err := s.db.ListUnlockCandidates(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to fetch unlock candidates", "error", err)
		return nil, err
	}

	nowUTC := now.UTC()
	result := &RunResult{}

	for _, ev := range candidates {
		cr := s.evaluate(ctx, ev, nowUTC)
		result.Processed++
		switch cr.Action {
		case types.UnlockActionUnlocked:
			result.Unlocked++
		case types.UnlockActionSkipped:
			result.Skipped++
		case types.UnlockActionError:
			result.Errors++
		}
		result.Results = append(result.Results, cr)
	}

	s.logger.InfoContext(ctx, "location unlock run complete",
		"processed", result.Processed,
		"unlocked", result.Unlocked,
		"skipped", result.Skipped,
		"errors", result.Errors,
	)

	return result, nil
}

// evaluate decides one candidate's disposition and records the audit row.
func (s *UnlockService) evaluate(ctx context.Context, ev *types.Event, nowUTC time.Time) CandidateResult {
	minutesUntil := ev.StartsAtUTC().Sub(nowUTC).Minutes()
	cr := CandidateResult{
		EventID:      ev.ID,
		EventTitle:   ev.Title,
		MinutesUntil: minutesUntil,
	}

	if !s.window.Contains(minutesUntil) {
		cr.Action = types.UnlockActionSkipped
		cr.Details = "not in unlock window"
		s.appendAudit(ctx, ev, cr)
		return cr
	}

	flipped, err := s.db.UnlockExactPlace(ctx, ev.ID)
	if err != nil {
		cr.Action = types.UnlockActionError
		cr.Details = err.Error()
		s.logger.ErrorContext(ctx, "failed to unlock event location",
			"event_id", ev.ID,
			"error", err,
		)
		s.appendAudit(ctx, ev, cr)
		return cr
	}

	if !flipped {
		// A concurrent run won the compare-and-set. Harmless no-op.
		cr.Action = types.UnlockActionSkipped
		cr.Details = "already visible"
		s.appendAudit(ctx, ev, cr)
		return cr
	}

	cr.Action = types.UnlockActionUnlocked
	cr.Details = fmt.Sprintf("%.1f minutes before start", minutesUntil)
	s.logger.InfoContext(ctx, "event location unlocked",
		"event_id", ev.ID,
		"title", ev.Title,
		"minutes_until", minutesUntil,
	)
	s.appendAudit(ctx, ev, cr)

	if s.notifier != nil {
		if err := s.notifier.EnqueueLocationUnlocked(ctx, ev); err != nil {
			// The flip stands; attendees just miss the email until an
			// operator re-enqueues it.
			s.logger.ErrorContext(ctx, "failed to enqueue location_unlocked notification",
				"event_id", ev.ID,
				"error", err,
			)
		}
	}

	return cr
}

// appendAudit writes the audit row, logging rather than propagating a
// failure. A lost audit row must not change the candidate's disposition.
func (s *UnlockService) appendAudit(ctx context.Context, ev *types.Event, cr CandidateResult) {
	entry := &types.UnlockLogEntry{
		EventID:    ev.ID,
		EventTitle: ev.Title,
		Action:     cr.Action,
		Details:    cr.Details,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to append unlock audit row",
			"event_id", ev.ID,
			"error", err,
		)
	}
}

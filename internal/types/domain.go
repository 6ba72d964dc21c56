// Package types holds the domain entities, enums, and shared error/context
// helpers for the Gather jobs service. All other packages depend on types;
// types depends on nothing internal.
package types

import "time"

// NotificationKind is the notification category. It determines the recipient
// set and the copy built for each recipient.
type NotificationKind string

const (
	KindRequestCreated   NotificationKind = "request_created"
	KindApproved         NotificationKind = "approved"
	KindRejected         NotificationKind = "rejected"
	KindLocationUnlocked NotificationKind = "location_unlocked"
)

// JobStatus is the lifecycle state of a queued notification job.
// Transitions are one-way: queued -> processing -> sent|failed.
// There is no resumption from a terminal state.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSent       JobStatus = "sent"
	JobStatusFailed     JobStatus = "failed"
)

// DeliveryStatus is the per-recipient outcome recorded in notifications_log.
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// NotificationJob is one row in notifications_queue: "send notification(s)
// about event X to the relevant people". Jobs are created by application
// logic when a join request is submitted, approved, or rejected, or when an
// event's location unlocks. They are mutated only by the worker and never
// deleted.
type NotificationJob struct {
	ID            int64
	Kind          NotificationKind
	EventID       *int64
	JoinRequestID *int64
	RequesterID   *string
	HostID        *string
	Payload       map[string]any
	Status        JobStatus
	Attempts      int
	LastError     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HostNote returns the optional host-authored note from the job payload
// (set on rejections). Empty string when absent or not a string.
func (j *NotificationJob) HostNote() string {
	if j.Payload == nil {
		return ""
	}
	note, _ := j.Payload["hostNote"].(string)
	return note
}

// NotificationLogEntry is one append-only row in notifications_log: one
// recipient's outcome for one job attempt. The worker never updates or
// deletes log rows; the queue row's last_error is a human-readable summary,
// these rows are the source of truth.
type NotificationLogEntry struct {
	QueueID           int64
	Kind              NotificationKind
	EventID           *int64
	JoinRequestID     *int64
	RecipientUserID   *string
	RecipientEmail    *string
	Subject           string
	Body              string
	AIUsed            bool
	Provider          string
	ProviderMessageID string
	Status            DeliveryStatus
	Error             string
	CreatedAt         time.Time
}

// Event is the slice of the events table the background jobs read. The jobs
// never mutate events except for the PlaceExactVisible flag, which the
// unlock job flips false -> true exactly once.
type Event struct {
	ID                int64
	Title             string
	Date              time.Time // date portion, midnight UTC
	StartTime         time.Time // time-of-day portion, zero date
	HostID            *string
	PlaceExact        *string
	PlaceExactVisible bool
}

// StartsAtUTC composes the event's start instant from its date and
// time-of-day columns, normalized to UTC. The unlock window predicate and
// all copy datetime strings derive from this.
func (e *Event) StartsAtUTC() time.Time {
	d := e.Date
	t := e.StartTime
	return time.Date(d.Year(), d.Month(), d.Day(),
		t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

// ResolveHostID normalizes the historical host-column drift in the events
// table. Earlier schema revisions stored the host under different names, so
// the precedence is explicit and ordered: user_id, then creator_id, then
// owner_id. Returns nil when no column carries a value.
func ResolveHostID(userID, creatorID, ownerID *string) *string {
	for _, c := range []*string{userID, creatorID, ownerID} {
		if c != nil && *c != "" {
			return c
		}
	}
	return nil
}

// Profile is the auth/profile store's view of a user. Lookups soft-fail:
// a missing profile yields nil, never an error that would abort a job.
type Profile struct {
	UserID      string
	Email       string
	DisplayName string
}

// UnlockAction is the disposition recorded for one candidate evaluation in
// the location unlock audit log.
type UnlockAction string

const (
	UnlockActionUnlocked UnlockAction = "unlocked"
	UnlockActionSkipped  UnlockAction = "skipped"
	UnlockActionError    UnlockAction = "error"
)

// UnlockLogEntry is one append-only row in location_unlock_log: one
// candidate's disposition for one scheduler run. Skips are deliberate no-op
// records, not errors.
type UnlockLogEntry struct {
	EventID    int64
	EventTitle string
	Action     UnlockAction
	Details    string
	UnlockedAt time.Time
}

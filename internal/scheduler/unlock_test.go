package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"gather/internal/types"
)

func unlockTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// ============================================================
// Mock: UnlockDB
// ============================================================

type mockUnlockDB struct {
	mu sync.Mutex

	candidates []*types.Event
	listErr    error

	unlockErr     error
	unlockReturns map[int64]bool // eventID -> flipped; default true
	unlockedIDs   []int64
}

func (m *mockUnlockDB) ListUnlockCandidates(_ context.Context) ([]*types.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.candidates, nil
}

func (m *mockUnlockDB) UnlockExactPlace(_ context.Context, eventID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unlockErr != nil {
		return false, m.unlockErr
	}
	m.unlockedIDs = append(m.unlockedIDs, eventID)
	if m.unlockReturns != nil {
		if flipped, ok := m.unlockReturns[eventID]; ok {
			return flipped, nil
		}
	}
	return true, nil
}

// ============================================================
// Mock: UnlockAuditLog
// ============================================================

type mockUnlockAudit struct {
	mu      sync.Mutex
	entries []*types.UnlockLogEntry
	err     error
}

func (m *mockUnlockAudit) Append(_ context.Context, e *types.UnlockLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockUnlockAudit) byAction(action types.UnlockAction) []*types.UnlockLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.UnlockLogEntry
	for _, e := range m.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// ============================================================
// Mock: UnlockNotifier
// ============================================================

type mockUnlockNotifier struct {
	mu       sync.Mutex
	enqueued []int64
	err      error
}

func (m *mockUnlockNotifier) EnqueueLocationUnlocked(_ context.Context, ev *types.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.enqueued = append(m.enqueued, ev.ID)
	return nil
}

// ============================================================
// Helpers
// ============================================================

// eventStartingIn builds an event whose start is exactly minutes from now.
func eventStartingIn(id int64, title string, now time.Time, minutes int) *types.Event {
	start := now.UTC().Add(time.Duration(minutes) * time.Minute)
	place := "Cafe Duna, back room"
	return &types.Event{
		ID:         id,
		Title:      title,
		Date:       time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC),
		StartTime:  time.Date(0, 1, 1, start.Hour(), start.Minute(), start.Second(), 0, time.UTC),
		PlaceExact: &place,
	}
}

func defaultWindow() UnlockWindow {
	return UnlockWindow{LeadMinutes: 60, ToleranceMinutes: 5}
}

func newTestService(db *mockUnlockDB, audit *mockUnlockAudit, notifier *mockUnlockNotifier) *UnlockService {
	var n UnlockNotifier
	if notifier != nil {
		n = notifier
	}
	return NewUnlockService(db, audit, n, defaultWindow(), unlockTestLogger())
}

// ============================================================
// Window boundary tests
// ============================================================

func TestUnlock_WindowBoundaries(t *testing.T) {
	cases := []struct {
		minutes    int
		wantAction types.UnlockAction
	}{
		{54, types.UnlockActionSkipped},
		{55, types.UnlockActionUnlocked},
		{60, types.UnlockActionUnlocked},
		{65, types.UnlockActionUnlocked},
		{66, types.UnlockActionSkipped},
	}

	for _, tc := range cases {
		now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
		db := &mockUnlockDB{
			candidates: []*types.Event{eventStartingIn(1, "Trivia Night", now, tc.minutes)},
		}
		audit := &mockUnlockAudit{}
		svc := newTestService(db, audit, nil)

		result, err := svc.Run(context.Background(), now)
		if err != nil {
			t.Fatalf("minutes=%d: unexpected error: %v", tc.minutes, err)
		}
		if result.Processed != 1 {
			t.Fatalf("minutes=%d: processed = %d, want 1", tc.minutes, result.Processed)
		}
		if got := result.Results[0].Action; got != tc.wantAction {
			t.Errorf("minutes=%d: action = %q, want %q", tc.minutes, got, tc.wantAction)
		}
		if len(audit.entries) != 1 {
			t.Errorf("minutes=%d: audit rows = %d, want 1", tc.minutes, len(audit.entries))
		}
	}
}

func TestUnlock_SkippedOutsideWindowDoesNotMutate(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	db := &mockUnlockDB{
		candidates: []*types.Event{eventStartingIn(7, "Morning Hike", now, 180)},
	}
	audit := &mockUnlockAudit{}
	svc := newTestService(db, audit, nil)

	result, err := svc.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Skipped != 1 || result.Unlocked != 0 {
		t.Fatalf("skipped=%d unlocked=%d, want 1/0", result.Skipped, result.Unlocked)
	}
	if len(db.unlockedIDs) != 0 {
		t.Errorf("UnlockExactPlace was called for an out-of-window event")
	}
	if got := audit.entries[0].Details; got != "not in unlock window" {
		t.Errorf("skip details = %q", got)
	}
}

// ============================================================
// Idempotence and concurrency
// ============================================================

func TestUnlock_ConcurrentFlipIsNoOp(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	db := &mockUnlockDB{
		candidates:    []*types.Event{eventStartingIn(3, "Board Games", now, 60)},
		unlockReturns: map[int64]bool{3: false}, // another run already flipped it
	}
	audit := &mockUnlockAudit{}
	notifier := &mockUnlockNotifier{}
	svc := newTestService(db, audit, notifier)

	result, err := svc.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Unlocked != 0 || result.Skipped != 1 || result.Errors != 0 {
		t.Fatalf("unlocked=%d skipped=%d errors=%d, want 0/1/0",
			result.Unlocked, result.Skipped, result.Errors)
	}
	if len(audit.byAction(types.UnlockActionUnlocked)) != 0 {
		t.Errorf("no-op flip produced an unlocked audit row")
	}
	if len(notifier.enqueued) != 0 {
		t.Errorf("no-op flip enqueued a notification job")
	}
}

func TestUnlock_ConcurrentRunsProduceOneUnlock(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	ev := eventStartingIn(9, "Pottery Workshop", now, 58)

	// Shared flag emulates the row's compare-and-set: first caller flips,
	// second sees zero rows affected.
	var mu sync.Mutex
	flipped := false
	db1 := &sharedFlagDB{candidates: []*types.Event{ev}, mu: &mu, flipped: &flipped}
	db2 := &sharedFlagDB{candidates: []*types.Event{ev}, mu: &mu, flipped: &flipped}

	audit := &mockUnlockAudit{}
	svc1 := NewUnlockService(db1, audit, nil, defaultWindow(), unlockTestLogger())
	svc2 := NewUnlockService(db2, audit, nil, defaultWindow(), unlockTestLogger())

	var wg sync.WaitGroup
	for _, svc := range []*UnlockService{svc1, svc2} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Run(context.Background(), now); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	unlocked := audit.byAction(types.UnlockActionUnlocked)
	if len(unlocked) != 1 {
		t.Fatalf("unlocked audit rows = %d, want exactly 1", len(unlocked))
	}
	errorRows := audit.byAction(types.UnlockActionError)
	if len(errorRows) != 0 {
		t.Errorf("concurrent no-op was recorded as an error")
	}
}

// sharedFlagDB backs two services with one compare-and-set flag.
type sharedFlagDB struct {
	candidates []*types.Event
	mu         *sync.Mutex
	flipped    *bool
}

func (d *sharedFlagDB) ListUnlockCandidates(_ context.Context) ([]*types.Event, error) {
	return d.candidates, nil
}

func (d *sharedFlagDB) UnlockExactPlace(_ context.Context, _ int64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if *d.flipped {
		return false, nil
	}
	*d.flipped = true
	return true, nil
}

// ============================================================
// Error containment
// ============================================================

func TestUnlock_PerCandidateErrorContinues(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	good := eventStartingIn(1, "Book Club", now, 60)
	bad := eventStartingIn(2, "Sunset Run", now, 60)

	db := &failOnceDB{
		candidates: []*types.Event{bad, good},
		failID:     2,
	}
	audit := &mockUnlockAudit{}
	svc := NewUnlockService(db, audit, nil, defaultWindow(), unlockTestLogger())

	result, err := svc.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Errors != 1 || result.Unlocked != 1 {
		t.Fatalf("errors=%d unlocked=%d, want 1/1", result.Errors, result.Unlocked)
	}
	if len(audit.entries) != 2 {
		t.Fatalf("audit rows = %d, want 2", len(audit.entries))
	}
}

type failOnceDB struct {
	candidates []*types.Event
	failID     int64
}

func (d *failOnceDB) ListUnlockCandidates(_ context.Context) ([]*types.Event, error) {
	return d.candidates, nil
}

func (d *failOnceDB) UnlockExactPlace(_ context.Context, eventID int64) (bool, error) {
	if eventID == d.failID {
		return false, errors.New("deadlock detected")
	}
	return true, nil
}

func TestUnlock_CandidateFetchFailureAborts(t *testing.T) {
	db := &mockUnlockDB{listErr: errors.New("connection refused")}
	audit := &mockUnlockAudit{}
	svc := newTestService(db, audit, nil)

	_, err := svc.Run(context.Background(), time.Now())
	if err == nil {
		t.Fatal("expected error from failed candidate fetch")
	}
	if len(audit.entries) != 0 {
		t.Errorf("audit rows written despite aborted run")
	}
}

// ============================================================
// Follow-up notification
// ============================================================

func TestUnlock_EnqueuesNotificationAfterFlip(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	db := &mockUnlockDB{
		candidates: []*types.Event{eventStartingIn(11, "Jazz Picnic", now, 62)},
	}
	audit := &mockUnlockAudit{}
	notifier := &mockUnlockNotifier{}
	svc := newTestService(db, audit, notifier)

	if _, err := svc.Run(context.Background(), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(notifier.enqueued) != 1 || notifier.enqueued[0] != 11 {
		t.Fatalf("enqueued = %v, want [11]", notifier.enqueued)
	}
}

func TestUnlock_NotifierFailureDoesNotUndoFlip(t *testing.T) {
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	db := &mockUnlockDB{
		candidates: []*types.Event{eventStartingIn(12, "Night Market", now, 60)},
	}
	audit := &mockUnlockAudit{}
	notifier := &mockUnlockNotifier{err: errors.New("queue insert failed")}
	svc := newTestService(db, audit, notifier)

	result, err := svc.Run(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Unlocked != 1 {
		t.Fatalf("unlocked = %d, want 1", result.Unlocked)
	}
	if len(audit.byAction(types.UnlockActionUnlocked)) != 1 {
		t.Errorf("unlocked audit row missing after notifier failure")
	}
}

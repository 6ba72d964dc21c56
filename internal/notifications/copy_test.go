package notifications

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"gather/internal/external"
	"gather/internal/types"
)

func testJobContext() *JobContext {
	return &JobContext{
		EventTitle: "Trivia Night",
		EventWhen:  "Sep 12, 2026 at 19:00 UTC",
	}
}

// ============================================================
// Fallback exactness
// ============================================================

func TestCopy_FallbackIsDeterministic(t *testing.T) {
	jc := testJobContext()
	logger := workerTestLogger()

	// No generator and a failing generator must produce byte-identical copy.
	noGen := NewCopyBuilder(nil, 0, logger)
	failGen := NewCopyBuilder(&mockCopyGen{err: errors.New("timeout")}, 0, logger)

	for _, kind := range []types.NotificationKind{
		types.KindRequestCreated,
		types.KindApproved,
		types.KindRejected,
	} {
		a := noGen.RequesterCopy(context.Background(), kind, jc, "")
		b := failGen.RequesterCopy(context.Background(), kind, jc, "")
		if a != b {
			t.Errorf("kind=%s: missing-key copy %+v != failed-call copy %+v", kind, a, b)
		}
		if a.AIUsed {
			t.Errorf("kind=%s: fallback copy marked AIUsed", kind)
		}
		if a.Body == "" || a.Subject == "" {
			t.Errorf("kind=%s: empty fallback copy", kind)
		}
	}
}

func TestCopy_EmptyGenerationFallsBack(t *testing.T) {
	jc := testJobContext()
	logger := workerTestLogger()
	emptyGen := NewCopyBuilder(&mockCopyGen{text: "   "}, 0, logger)
	noGen := NewCopyBuilder(nil, 0, logger)

	got := emptyGen.RequesterCopy(context.Background(), types.KindApproved, jc, "")
	want := noGen.RequesterCopy(context.Background(), types.KindApproved, jc, "")
	if got != want {
		t.Errorf("whitespace-only generation did not fall back: %+v != %+v", got, want)
	}
}

func TestCopy_FallbackMentionsEventAndTime(t *testing.T) {
	jc := testJobContext()
	b := NewCopyBuilder(nil, 0, workerTestLogger())

	c := b.RequesterCopy(context.Background(), types.KindRequestCreated, jc, "")
	if !strings.Contains(c.Body, "Trivia Night") {
		t.Errorf("body = %q, want event title", c.Body)
	}
	if !strings.Contains(c.Body, "Sep 12, 2026 at 19:00 UTC") {
		t.Errorf("body = %q, want event datetime", c.Body)
	}
}

func TestCopy_UnknownWhenOmitsClause(t *testing.T) {
	jc := &JobContext{EventTitle: "Trivia Night"}
	b := NewCopyBuilder(nil, 0, workerTestLogger())

	c := b.RequesterCopy(context.Background(), types.KindRequestCreated, jc, "")
	if strings.Contains(c.Body, " on ") {
		t.Errorf("body = %q, want no dangling datetime clause", c.Body)
	}
}

// ============================================================
// Host note
// ============================================================

func TestCopy_RejectionHostNote(t *testing.T) {
	jc := testJobContext()
	b := NewCopyBuilder(nil, 0, workerTestLogger())

	withNote := b.RequesterCopy(context.Background(), types.KindRejected, jc, "Event full")
	if !strings.Contains(withNote.Body, "Event full") {
		t.Errorf("body = %q, want embedded host note", withNote.Body)
	}

	withoutNote := b.RequesterCopy(context.Background(), types.KindRejected, jc, "")
	if strings.Contains(withoutNote.Body, "Note from the host") {
		t.Errorf("body = %q, want no note clause when note absent", withoutNote.Body)
	}
}

// ============================================================
// Truncation
// ============================================================

func TestCopy_GeneratedTextTruncatedAt360Runes(t *testing.T) {
	long := strings.Repeat("ő", 500) // multibyte runes, counted as runes not bytes
	b := NewCopyBuilder(&mockCopyGen{text: long}, 0, workerTestLogger())

	c := b.RequesterCopy(context.Background(), types.KindApproved, testJobContext(), "")
	if !c.AIUsed {
		t.Fatal("generated copy not marked AIUsed")
	}
	got := utf8.RuneCountInString(c.Body)
	if got != maxGeneratedRunes+1 { // 360 runes plus the ellipsis
		t.Errorf("body rune count = %d, want %d", got, maxGeneratedRunes+1)
	}
	if !strings.HasSuffix(c.Body, "…") {
		t.Errorf("truncated body missing ellipsis")
	}
}

func TestCopy_ShortGeneratedTextNotTruncated(t *testing.T) {
	text := "See you at Trivia Night!"
	b := NewCopyBuilder(&mockCopyGen{text: text}, 0, workerTestLogger())

	c := b.RequesterCopy(context.Background(), types.KindApproved, testJobContext(), "")
	if c.Body != text {
		t.Errorf("body = %q, want %q untouched", c.Body, text)
	}
}

func TestCopy_TemplatesNeverTruncated(t *testing.T) {
	// A pathologically long title flows into the template untouched; only
	// generated text is subject to the cap.
	jc := &JobContext{EventTitle: strings.Repeat("x", 400)}
	b := NewCopyBuilder(nil, 0, workerTestLogger())

	c := b.RequesterCopy(context.Background(), types.KindRequestCreated, jc, "")
	if strings.Contains(c.Body, "…") {
		t.Errorf("template body was truncated")
	}
	if !strings.Contains(c.Body, jc.EventTitle) {
		t.Errorf("template body lost the full title")
	}
}

// ============================================================
// Host copy
// ============================================================

func TestCopy_HostCopyNeverCallsGenerator(t *testing.T) {
	gen := &countingCopyGen{}
	b := NewCopyBuilder(gen, 0, workerTestLogger())
	jc := testJobContext()
	jc.Requester = &types.Profile{UserID: "r1", DisplayName: "Sam"}

	for _, kind := range []types.NotificationKind{
		types.KindRequestCreated,
		types.KindApproved,
		types.KindRejected,
		types.KindLocationUnlocked,
	} {
		c := b.HostCopy(kind, jc)
		if c.AIUsed {
			t.Errorf("kind=%s: host copy marked AIUsed", kind)
		}
		if c.Body == "" {
			t.Errorf("kind=%s: empty host copy", kind)
		}
	}
	if gen.calls != 0 {
		t.Errorf("generator called %d times for host copy, want 0", gen.calls)
	}
}

func TestCopy_HostCopyNamesRequester(t *testing.T) {
	b := NewCopyBuilder(nil, 0, workerTestLogger())
	jc := testJobContext()
	jc.Requester = &types.Profile{UserID: "r1", DisplayName: "Sam"}

	c := b.HostCopy(types.KindRequestCreated, jc)
	if !strings.Contains(c.Body, "Sam") {
		t.Errorf("host body = %q, want requester name", c.Body)
	}
}

type countingCopyGen struct {
	calls int
}

func (g *countingCopyGen) Generate(_ context.Context, _ external.CopyRequest) (string, error) {
	g.calls++
	return "generated", nil
}

func TestCopy_ConfiguredTimeoutReachesGenerator(t *testing.T) {
	gen := &deadlineCopyGen{}
	b := NewCopyBuilder(gen, 30*time.Second, workerTestLogger())

	before := time.Now()
	b.RequesterCopy(context.Background(), types.KindApproved, testJobContext(), "")

	if !gen.hasDeadline {
		t.Fatal("generator context had no deadline")
	}
	remaining := gen.deadline.Sub(before)
	if remaining <= defaultCopyTimeout || remaining > 30*time.Second {
		t.Errorf("deadline %v from call, want the configured 30s, not the default", remaining)
	}
}

func TestCopy_ZeroTimeoutUsesDefault(t *testing.T) {
	gen := &deadlineCopyGen{}
	b := NewCopyBuilder(gen, 0, workerTestLogger())

	before := time.Now()
	b.RequesterCopy(context.Background(), types.KindApproved, testJobContext(), "")

	if !gen.hasDeadline {
		t.Fatal("generator context had no deadline")
	}
	if remaining := gen.deadline.Sub(before); remaining > defaultCopyTimeout {
		t.Errorf("deadline %v from call, want at most the %v default", remaining, defaultCopyTimeout)
	}
}

type deadlineCopyGen struct {
	deadline    time.Time
	hasDeadline bool
}

func (g *deadlineCopyGen) Generate(ctx context.Context, _ external.CopyRequest) (string, error) {
	g.deadline, g.hasDeadline = ctx.Deadline()
	return "generated", nil
}

package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gather/internal/external"
	"gather/internal/types"
)

// maxGeneratedRunes caps AI-generated body text. Template copy is authored
// short and is never truncated.
const maxGeneratedRunes = 360

// defaultCopyTimeout bounds one generation attempt when no timeout is
// configured, so a slow completion cannot stall the rest of the batch.
const defaultCopyTimeout = 4 * time.Second

const copySystemPrompt = "You write short, friendly notification emails for Gather, " +
	"a community app for discovering and joining small group outings. " +
	"Reply with the message body only: one or two sentences, no subject line, " +
	"no greeting, no signature."

// Copy is one recipient-ready message.
type Copy struct {
	Subject string
	Body    string
	AIUsed  bool
}

// CopyBuilder produces per-recipient copy following a fixed matrix: host
// copy is always template-only to bound cost and latency; requester and
// attendee copy asks the generator first and falls back to the deterministic
// template on any failure or empty result.
type CopyBuilder struct {
	generator external.CopyGenerator
	timeout   time.Duration
	logger    *slog.Logger
}

// NewCopyBuilder creates a CopyBuilder. A nil generator forces template-only
// copy for every recipient. A non-positive timeout falls back to
// defaultCopyTimeout.
func NewCopyBuilder(generator external.CopyGenerator, timeout time.Duration, logger *slog.Logger) *CopyBuilder {
	if timeout <= 0 {
		timeout = defaultCopyTimeout
	}
	return &CopyBuilder{generator: generator, timeout: timeout, logger: logger}
}

// RequesterCopy builds the message for the person who asked to join.
func (b *CopyBuilder) RequesterCopy(ctx context.Context, kind types.NotificationKind, jc *JobContext, hostNote string) Copy {
	subject, fallback, prompt := requesterTemplate(kind, jc.EventTitle, jc.EventWhen, hostNote)
	body, aiUsed := b.generate(ctx, prompt, fallback)
	return Copy{Subject: subject, Body: body, AIUsed: aiUsed}
}

// HostCopy builds the message for the event host. Template only.
func (b *CopyBuilder) HostCopy(kind types.NotificationKind, jc *JobContext) Copy {
	requesterName := ""
	if jc.Requester != nil {
		requesterName = jc.Requester.DisplayName
	}
	subject, body := hostTemplate(kind, jc.EventTitle, requesterName)
	return Copy{Subject: subject, Body: body}
}

// AttendeeCopy builds the single shared message sent individually to every
// attendee of a location_unlocked event.
func (b *CopyBuilder) AttendeeCopy(ctx context.Context, jc *JobContext) Copy {
	subject := fmt.Sprintf("Location revealed for %s", jc.EventTitle)
	fallback := fmt.Sprintf("The exact location for %s%s is now visible. Open the event in Gather to see where to go.",
		jc.EventTitle, onWhen(jc.EventWhen))
	prompt := fmt.Sprintf("Tell an approved attendee that the exact meeting location for %q%s has just been revealed and they can now see it in the app.",
		jc.EventTitle, onWhen(jc.EventWhen))

	body, aiUsed := b.generate(ctx, prompt, fallback)
	return Copy{Subject: subject, Body: body, AIUsed: aiUsed}
}

// generate asks the copy generator and falls back to the template on any
// error or empty result. Generated text longer than maxGeneratedRunes is
// truncated with an ellipsis; the fallback is returned verbatim.
func (b *CopyBuilder) generate(ctx context.Context, prompt, fallback string) (string, bool) {
	if b.generator == nil {
		return fallback, false
	}

	genCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	text, err := b.generator.Generate(genCtx, external.CopyRequest{
		System: copySystemPrompt,
		Prompt: prompt,
	})
	if err != nil {
		b.logger.WarnContext(ctx, "copy generation failed, using template", "error", err)
		return fallback, false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fallback, false
	}

	return truncateCopy(text), true
}

// requesterTemplate returns the subject, deterministic fallback body, and AI
// prompt for the requester-facing message of each kind.
func requesterTemplate(kind types.NotificationKind, title, when, hostNote string) (subject, fallback, prompt string) {
	switch kind {
	case types.KindApproved:
		subject = fmt.Sprintf("You're in: %s", title)
		fallback = fmt.Sprintf("Good news! Your request to join %s%s was approved. See you there!",
			title, onWhen(when))
		prompt = fmt.Sprintf("Tell someone their request to join %q%s was approved and you are excited to see them there.",
			title, onWhen(when))
	case types.KindRejected:
		subject = fmt.Sprintf("Update on your request for %s", title)
		fallback = fmt.Sprintf("Your request to join %s%s was declined.", title, onWhen(when))
		prompt = fmt.Sprintf("Gently tell someone their request to join %q%s was declined. Encourage them to browse other outings.",
			title, onWhen(when))
		if hostNote != "" {
			fallback = fmt.Sprintf("%s Note from the host: %s", fallback, hostNote)
			prompt = fmt.Sprintf("%s Include this note from the host verbatim: %q.", prompt, hostNote)
		}
	default:
		// request_created
		subject = fmt.Sprintf("Request received for %s", title)
		fallback = fmt.Sprintf("Your request to join %s%s has been received. The host will review it soon.",
			title, onWhen(when))
		prompt = fmt.Sprintf("Confirm to someone that their request to join %q%s was received and the host will review it soon.",
			title, onWhen(when))
	}
	return subject, fallback, prompt
}

// hostTemplate returns the subject and body for the host-facing message of
// each kind.
func hostTemplate(kind types.NotificationKind, title, requesterName string) (subject, body string) {
	who := "Someone"
	if requesterName != "" {
		who = requesterName
	}

	switch kind {
	case types.KindApproved:
		subject = fmt.Sprintf("Request approved for %s", title)
		body = fmt.Sprintf("A join request for %s was approved. %s is now on the attendee list.", title, who)
	case types.KindRejected:
		subject = fmt.Sprintf("Request declined for %s", title)
		body = fmt.Sprintf("The join request from %s for %s was declined.", who, title)
	case types.KindLocationUnlocked:
		subject = fmt.Sprintf("Location revealed for %s", title)
		body = fmt.Sprintf("The exact location for %s is now visible to your approved attendees.", title)
	default:
		// request_created
		subject = fmt.Sprintf("New join request for %s", title)
		body = fmt.Sprintf("%s asked to join %s. Review the request in Gather to approve or decline it.", who, title)
	}
	return subject, body
}

// onWhen renders the optional " on <datetime>" clause used by templates and
// prompts. Empty input yields an empty clause, keeping the surrounding
// sentence well formed.
func onWhen(when string) string {
	if when == "" {
		return ""
	}
	return " on " + when
}

// truncateCopy caps text at maxGeneratedRunes runes, appending an ellipsis
// when anything was cut.
func truncateCopy(s string) string {
	runes := []rune(s)
	if len(runes) <= maxGeneratedRunes {
		return s
	}
	return string(runes[:maxGeneratedRunes]) + "…"
}

package external

import "context"

// SendInput is a single pre-rendered email: one recipient, final subject and
// body. The worker renders copy before reaching the provider boundary, so
// implementations transmit content verbatim.
type SendInput struct {
	To       string
	ToName   string
	From     string
	FromName string
	Subject  string
	HTML     string
	Text     string
	// ReferenceID correlates provider activity with the originating queue
	// job. Providers that support metadata attach it; others ignore it.
	ReferenceID string
}

// EmailProvider abstracts the transactional email service (Resend).
type EmailProvider interface {
	// Send transmits one email and returns the provider's message ID.
	Send(ctx context.Context, input SendInput) (providerMsgID string, err error)

	// Name identifies the provider in log rows ("resend", "stub").
	Name() string
}

// CopyRequest asks the copy generator for one short notification message.
type CopyRequest struct {
	// System frames the generator's voice and constraints.
	System string
	// Prompt carries the per-notification context (event title, names,
	// datetime) the message should mention.
	Prompt string
	// MaxTokens bounds the completion length.
	MaxTokens int
}

// CopyGenerator abstracts AI-assisted copywriting. Implementations return
// the generated text only; the caller owns truncation and the template
// fallback when generation fails or comes back empty.
type CopyGenerator interface {
	Generate(ctx context.Context, req CopyRequest) (string, error)
}

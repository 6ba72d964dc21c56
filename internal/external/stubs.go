package external

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"gather/internal/types"
)

// Stub implementations let the service boot in local/test mode without real
// provider credentials. They log every call and return predictable values.

// StubEmailProvider implements EmailProvider by logging the send and
// returning a synthetic message ID. Used when RESEND_API_KEY is unset.
type StubEmailProvider struct {
	logger *slog.Logger
	seq    atomic.Int64
}

// NewStubEmailProvider creates a new StubEmailProvider.
func NewStubEmailProvider(logger *slog.Logger) *StubEmailProvider {
	return &StubEmailProvider{logger: logger}
}

func (s *StubEmailProvider) Name() string { return "stub" }

func (s *StubEmailProvider) Send(ctx context.Context, input SendInput) (string, error) {
	n := s.seq.Add(1)
	s.logger.InfoContext(ctx, "stub: send email",
		"to", input.To,
		"subject", input.Subject,
		"reference_id", input.ReferenceID,
	)
	return fmt.Sprintf("msg_stub_%d", n), nil
}

// DisabledEmailProvider fails every send with a fixed short reason. Wired in
// production environments that boot without provider credentials: jobs still
// reach a terminal failed state with a descriptive error instead of the
// process refusing to start.
type DisabledEmailProvider struct {
	reason string
}

// NewDisabledEmailProvider creates a DisabledEmailProvider. The reason is
// recorded verbatim as the per-recipient error ("missing_RESEND_API_KEY").
func NewDisabledEmailProvider(reason string) *DisabledEmailProvider {
	return &DisabledEmailProvider{reason: reason}
}

func (d *DisabledEmailProvider) Name() string { return "none" }

func (d *DisabledEmailProvider) Send(ctx context.Context, input SendInput) (string, error) {
	return "", types.NewAppError(types.ErrCodeUpstreamEmailProvider, d.reason, nil)
}

// StubCopyGenerator implements CopyGenerator by failing every request, which
// exercises the worker's template fallback path end to end. Used when
// COPY_API_KEY is unset.
type StubCopyGenerator struct {
	logger *slog.Logger
}

// NewStubCopyGenerator creates a new StubCopyGenerator.
func NewStubCopyGenerator(logger *slog.Logger) *StubCopyGenerator {
	return &StubCopyGenerator{logger: logger}
}

func (s *StubCopyGenerator) Generate(ctx context.Context, req CopyRequest) (string, error) {
	s.logger.InfoContext(ctx, "stub: copy generation disabled, using template fallback")
	return "", types.NewAppError(
		types.ErrCodeUpstreamCopyProvider,
		"copy generation is not configured",
		nil,
	)
}

var _ EmailProvider = (*StubEmailProvider)(nil)
var _ EmailProvider = (*DisabledEmailProvider)(nil)
var _ CopyGenerator = (*StubCopyGenerator)(nil)

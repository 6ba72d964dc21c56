package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"gather/internal/types"
)

// resendAPIBase is the default Resend API base URL.
// Overridable in tests via ResendClientConfig.BaseURL.
const resendAPIBase = "https://api.resend.com"

// ResendClientConfig holds the configuration for creating a ResendClient.
type ResendClientConfig struct {
	APIKey  string
	BaseURL string // Override for testing; defaults to resendAPIBase
	Logger  *slog.Logger
}

// ResendClient implements EmailProvider by calling the Resend /emails
// endpoint through BaseClient, so sends inherit the shared circuit breaker,
// retry, and error mapping behavior and tests can point BaseURL at httptest.
type ResendClient struct {
	base    *BaseClient
	apiKey  string
	baseURL string
	logger  *slog.Logger
}

// NewResendClient creates a new ResendClient.
func NewResendClient(httpClient *http.Client, cfg ResendClientConfig) *ResendClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = resendAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"resend",
		DefaultRetryPolicy(),
		"Gather/1.0",
	)

	return &ResendClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// NewResendClientWithBase creates a ResendClient with a pre-configured
// BaseClient. Useful in tests to disable retries or share a breaker.
func NewResendClientWithBase(base *BaseClient, cfg ResendClientConfig) *ResendClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = resendAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ResendClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// Name implements EmailProvider.
func (r *ResendClient) Name() string { return "resend" }

// resendSendPayload is the Resend POST /emails request body.
type resendSendPayload struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html,omitempty"`
	Text    string            `json:"text,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// resendSendResponse is the success body: the created email's ID.
type resendSendResponse struct {
	ID string `json:"id"`
}

// resendErrorResponse is the JSON error body returned by Resend.
type resendErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Name       string `json:"name"`
	Message    string `json:"message"`
}

// Send transmits one email via POST /emails and returns the Resend message
// ID on success.
//
// Error mapping:
//   - 429 -> handled by BaseClient (retry + ErrCodeUpstreamRateLimited)
//   - 5xx -> handled by BaseClient (retry + ErrCodeUpstreamUnavailable)
//   - other 4xx -> ErrCodeUpstreamEmailProvider
func (r *ResendClient) Send(ctx context.Context, input SendInput) (string, error) {
	payload := resendSendPayload{
		From:    formatAddress(input.From, input.FromName),
		To:      []string{input.To},
		Subject: input.Subject,
		HTML:    input.HTML,
		Text:    input.Text,
	}
	if input.ReferenceID != "" {
		payload.Headers = map[string]string{"X-Entity-Ref-ID": input.ReferenceID}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to marshal Resend send payload",
			err,
		)
	}

	reqURL := r.baseURL + "/emails"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create Resend send request",
			err,
		)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.base.Do(req)
	if err != nil {
		return "", r.wrapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var out resendSendResponse
		if decErr := json.NewDecoder(resp.Body).Decode(&out); decErr != nil {
			// The send went through; a missing ID only degrades correlation.
			r.logger.WarnContext(ctx, "resend: unreadable success body", "error", decErr)
			return "", nil
		}
		return out.ID, nil
	}

	return "", r.handleErrorResponse(resp)
}

// handleErrorResponse reads a Resend error body and maps it to an AppError.
func (r *ResendClient) handleErrorResponse(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("Resend returned status %d and response body was unreadable", resp.StatusCode),
			readErr,
		)
	}

	var rErr resendErrorResponse
	errMsg := ""
	if jsonErr := json.Unmarshal(body, &rErr); jsonErr == nil && rErr.Message != "" {
		errMsg = rErr.Message
	} else {
		errMsg = string(body)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			"Resend rate limit exceeded",
			nil,
		)
	case resp.StatusCode >= 500:
		return types.NewAppError(
			types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("Resend server error: %s", errMsg),
			nil,
		)
	default:
		// The message doubles as the per-recipient error code in the
		// delivery log; the provider's own text goes in the details.
		return types.NewAppErrorWithDetails(
			types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("resend_%d", resp.StatusCode),
			nil,
			map[string]any{"provider_message": errMsg},
		)
	}
}

// wrapTransportError wraps a BaseClient failure with provider context.
// AppErrors from BaseClient (breaker open, retries exhausted) already carry
// the right upstream code and pass through unchanged.
func (r *ResendClient) wrapTransportError(err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamEmailProvider,
		fmt.Sprintf("Resend request failed: %v", err),
		err,
	)
}

// formatAddress renders "Name <addr>" when a display name is present.
func formatAddress(addr, name string) string {
	if name == "" {
		return addr
	}
	return fmt.Sprintf("%s <%s>", name, addr)
}

var _ EmailProvider = (*ResendClient)(nil)

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
	"time"

	"gather/internal/types"
)

// copyAPIBase is the default chat completions base URL.
// Overridable in tests via CopyClientConfig.BaseURL.
const copyAPIBase = "https://api.openai.com"

// defaultCopyMaxTokens bounds completions when the request does not set one.
// Notification copy is a sentence or two; anything longer gets truncated by
// the caller anyway.
const defaultCopyMaxTokens = 200

// CopyClientConfig holds the configuration for creating a CopyClient.
type CopyClientConfig struct {
	APIKey  string
	BaseURL string // Override for testing; defaults to copyAPIBase
	Model   string
	Logger  *slog.Logger
}

// CopyClient implements CopyGenerator against an OpenAI-compatible chat
// completions endpoint. Copy generation is best-effort: the worker treats
// every error from Generate as "fall back to the template". Transient
// failures are retried a couple of times with short waits inside the
// caller's deadline; only persistent failure reaches the fallback.
type CopyClient struct {
	base    *BaseClient
	apiKey  string
	baseURL string
	model   string
	logger  *slog.Logger
}

// NewCopyClient creates a new CopyClient. The httpClient's Timeout bounds
// each generation attempt.
func NewCopyClient(httpClient *http.Client, cfg CopyClientConfig) *CopyClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = copyAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"copy-ai",
		// Short waits keep retries inside the caller's generation deadline.
		RetryPolicy{MaxRetries: 2, MinWait: 200 * time.Millisecond, MaxWait: time.Second},
		"Gather/1.0",
	)

	return &CopyClient{
		base:    base,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   cfg.Model,
		logger:  logger,
	}
}

// chatCompletionRequest is the OpenAI-compatible request body.
type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatCompletionResponse is the subset of the response body we read.
type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate requests one completion and returns its text content. An empty
// completion is an error, not an empty string: callers branch to template
// copy on any non-nil error and must never email a blank body.
func (c *CopyClient) Generate(ctx context.Context, req CopyRequest) (string, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultCopyMaxTokens
	}

	payload := chatCompletionRequest{
		Model:       c.model,
		Temperature: 0.7,
		MaxTokens:   maxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to marshal completion payload",
			err,
		)
	}

	reqURL := c.baseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to create completion request",
			err,
		)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.base.Do(httpReq)
	if err != nil {
		if _, ok := err.(*types.AppError); ok {
			return "", err
		}
		return "", types.NewAppError(
			types.ErrCodeUpstreamCopyProvider,
			fmt.Sprintf("completion request failed: %v", err),
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", types.NewAppError(
			types.ErrCodeUpstreamCopyProvider,
			fmt.Sprintf("completion endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))),
			nil,
		)
	}

	var out chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", types.NewAppError(
			types.ErrCodeUpstreamCopyProvider,
			"failed to decode completion response",
			err,
		)
	}

	if len(out.Choices) == 0 {
		return "", types.NewAppError(
			types.ErrCodeUpstreamCopyProvider,
			"completion response contained no choices",
			nil,
		)
	}

	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", types.NewAppError(
			types.ErrCodeUpstreamCopyProvider,
			"completion response contained empty content",
			nil,
		)
	}

	return text, nil
}

var _ CopyGenerator = (*CopyClient)(nil)

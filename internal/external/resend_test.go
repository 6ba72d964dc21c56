package external

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gather/internal/types"
)

// noRetryBase builds a BaseClient that never sleeps and never retries, so
// error-path tests stay fast and deterministic.
func noRetryBase(httpClient *http.Client) *BaseClient {
	return NewBaseClient(
		httpClient,
		"test",
		RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: time.Millisecond},
		"Gather/test",
		WithSleepFunc(func(time.Duration) {}),
	)
}

func testSendInput() SendInput {
	return SendInput{
		To:          "sam@example.com",
		ToName:      "Sam",
		From:        "events@gather.app",
		FromName:    "Gather",
		Subject:     "You're in: Trivia Night",
		Text:        "See you there!",
		ReferenceID: "job-42",
	}
}

func TestResendClient_SendSuccess(t *testing.T) {
	var captured resendSendPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer re_test_key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resendSendResponse{ID: "email_abc123"})
	}))
	defer srv.Close()

	client := NewResendClientWithBase(noRetryBase(srv.Client()), ResendClientConfig{
		APIKey:  "re_test_key",
		BaseURL: srv.URL,
	})

	msgID, err := client.Send(context.Background(), testSendInput())
	require.NoError(t, err)
	assert.Equal(t, "email_abc123", msgID)

	assert.Equal(t, "Gather <events@gather.app>", captured.From)
	require.Len(t, captured.To, 1)
	assert.Equal(t, "sam@example.com", captured.To[0])
	assert.Equal(t, "You're in: Trivia Night", captured.Subject)
	assert.Equal(t, "job-42", captured.Headers["X-Entity-Ref-ID"])
}

func TestResendClient_ValidationErrorMapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(resendErrorResponse{
			StatusCode: 422,
			Name:       "validation_error",
			Message:    "The from address is not verified",
		})
	}))
	defer srv.Close()

	client := NewResendClientWithBase(noRetryBase(srv.Client()), ResendClientConfig{
		APIKey:  "re_test_key",
		BaseURL: srv.URL,
	})

	_, err := client.Send(context.Background(), testSendInput())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamEmailProvider, appErr.Code)
	assert.Equal(t, "resend_422", appErr.Message)
	assert.Equal(t, "The from address is not verified", appErr.Details["provider_message"])
}

func TestResendClient_ServerErrorRetriedThenMapped(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	base := NewBaseClient(
		srv.Client(),
		"test-retry",
		RetryPolicy{MaxRetries: 2, MinWait: time.Millisecond, MaxWait: time.Millisecond},
		"Gather/test",
		WithSleepFunc(func(time.Duration) {}),
	)
	client := NewResendClientWithBase(base, ResendClientConfig{
		APIKey:  "re_test_key",
		BaseURL: srv.URL,
	})

	_, err := client.Send(context.Background(), testSendInput())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamUnavailable, appErr.Code)
	assert.Equal(t, int32(3), calls.Load())
}

func TestResendClient_RateLimitMapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewResendClientWithBase(noRetryBase(srv.Client()), ResendClientConfig{
		APIKey:  "re_test_key",
		BaseURL: srv.URL,
	})

	_, err := client.Send(context.Background(), testSendInput())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamRateLimited, appErr.Code)
}

func TestFormatAddress(t *testing.T) {
	assert.Equal(t, "events@gather.app", formatAddress("events@gather.app", ""))
	assert.Equal(t, "Gather <events@gather.app>", formatAddress("events@gather.app", "Gather"))
}

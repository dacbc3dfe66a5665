package nlp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/soundprediction/newsdedup/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClient fails until failUntilCall calls have been made.
type mockClient struct {
	callCount     int
	failUntilCall int
	errorToReturn error
	content       string
	capabilities  []TaskCapability
}

func (m *mockClient) Chat(ctx context.Context, messages []types.Message) (*types.Response, error) {
	m.callCount++
	if m.callCount <= m.failUntilCall {
		return nil, m.errorToReturn
	}
	if m.content != "" {
		return &types.Response{Content: m.content}, nil
	}
	return &types.Response{Content: "success"}, nil
}

func (m *mockClient) ChatWithStructuredOutput(ctx context.Context, messages []types.Message, schema any) (*types.Response, error) {
	m.callCount++
	if m.callCount <= m.failUntilCall {
		return nil, m.errorToReturn
	}
	if m.content != "" {
		return &types.Response{Content: m.content}, nil
	}
	return &types.Response{Content: `{"status": "success"}`}, nil
}

func (m *mockClient) Close() error { return nil }

func (m *mockClient) GetCapabilities() []TaskCapability {
	if m.capabilities != nil {
		return m.capabilities
	}
	return []TaskCapability{TaskTextGeneration}
}

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

var userMsg = []types.Message{{Role: RoleUser, Content: "test"}}

func TestRetryClient(t *testing.T) {
	tests := []struct {
		name      string
		failUntil int
		err       error
		wantErr   bool
		wantCalls int
	}{
		{"success on first attempt", 0, nil, false, 1},
		{"success after server errors", 2, errors.New("500 internal server error"), false, 3},
		{"rate limit is retried", 1, newCallError(ErrRateLimit, "m", ""), false, 2},
		{"exhausts retries", 10, errors.New("503 service unavailable"), true, 4},
		{"non-retryable fails fast", 10, errors.New("invalid api key"), true, 1},
		{"refusal fails fast", 10, newCallError(ErrRefusal, "m", "no"), true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockClient{failUntilCall: tt.failUntil, errorToReturn: tt.err}
			resp, err := NewRetryClient(mock, fastRetry()).Chat(context.Background(), userMsg)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "success", resp.Content)
			}
			assert.Equal(t, tt.wantCalls, mock.callCount)
		})
	}
}

func TestRetryClientZeroRetries(t *testing.T) {
	cfg := fastRetry()
	cfg.MaxRetries = 0
	mock := &mockClient{failUntilCall: 10, errorToReturn: errors.New("502 bad gateway")}

	_, err := NewRetryClient(mock, cfg).Chat(context.Background(), userMsg)
	require.Error(t, err)
	assert.Equal(t, 1, mock.callCount)
}

func TestRetryClient_ChatWithStructuredOutput(t *testing.T) {
	mock := &mockClient{failUntilCall: 2, errorToReturn: errors.New("502 bad gateway")}
	resp, err := NewRetryClient(mock, fastRetry()).ChatWithStructuredOutput(context.Background(), userMsg, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"status": "success"}`, resp.Content)
	assert.Equal(t, 3, mock.callCount)
}

func TestRetryClient_ContextCancellation(t *testing.T) {
	mock := &mockClient{failUntilCall: 10, errorToReturn: errors.New("timeout")}
	cfg := fastRetry()
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewRetryClient(mock, cfg).Chat(ctx, userMsg)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, mock.callCount)
}

func TestRetryClient_LogsAttempts(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	mock := &mockClient{failUntilCall: 1, errorToReturn: errors.New("connection reset")}

	_, err := NewRetryClient(mock, fastRetry()).WithLogger(logger).Chat(context.Background(), userMsg)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "retrying llm call")
}

func TestRetryConfigDelay(t *testing.T) {
	cfg := RetryConfig{
		MaxRetries:        5,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2,
	}
	want := []time.Duration{100, 200, 400, 800, 1000}
	for i, w := range want {
		assert.Equal(t, w*time.Millisecond, cfg.Delay(i+1))
	}
}

func TestRetryConfigDefaults(t *testing.T) {
	cfg := RetryConfig{MaxRetries: -1}.withDefaults()
	assert.Equal(t, DefaultRetryConfig(), cfg)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.InitialDelay)
	assert.Equal(t, time.Minute, cfg.MaxDelay)

	kept := RetryConfig{MaxRetries: 0, InitialDelay: time.Millisecond}.withDefaults()
	assert.Equal(t, 0, kept.MaxRetries)
	assert.Equal(t, time.Millisecond, kept.InitialDelay)
}

type httpError struct {
	statusCode int
	message    string
}

func (e httpError) Error() string       { return fmt.Sprintf("%d: %s", e.statusCode, e.message) }
func (e httpError) HTTPStatusCode() int { return e.statusCode }

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
	}{
		{nil, false},
		{newCallError(ErrRateLimit, "m", ""), true},
		{statusError("m", 502, "", nil), true},
		{statusError("m", 401, "bad key", nil), false},
		{newCallError(ErrEmptyResponse, "m", ""), false},
		{fmt.Errorf("wrapped: %w", ErrRateLimit), true},
		{errors.New("429 too many requests"), true},
		{errors.New("connection refused"), true},
		{errors.New("invalid request"), false},
		{fmt.Errorf("call: %w", context.DeadlineExceeded), false},
		{httpError{statusCode: 503, message: "down"}, true},
		{httpError{statusCode: 401, message: "denied"}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.retryable, isRetryableError(tt.err), "%v", tt.err)
	}
}

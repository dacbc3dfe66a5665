package nlp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/soundprediction/newsdedup/pkg/types"
)

// RetryConfig is an exponential backoff schedule. Non-positive delays and
// multiplier, and a negative MaxRetries, take the DefaultRetryConfig values.
type RetryConfig struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns 3 retries starting at 1s, doubling up to 60s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          time.Minute,
		BackoffMultiplier: 2,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxRetries < 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	return c
}

// Delay returns the wait before retry number attempt (1-based).
func (c RetryConfig) Delay(attempt int) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.BackoffMultiplier, float64(attempt-1))
	return time.Duration(min(d, float64(c.MaxDelay)))
}

// RetryClient repeats calls that failed with a temporary error.
type RetryClient struct {
	client Client
	config RetryConfig
	logger *slog.Logger
}

// NewRetryClient wraps client.
func NewRetryClient(client Client, config RetryConfig) *RetryClient {
	return &RetryClient{client: client, config: config.withDefaults(), logger: slog.Default()}
}

// WithLogger sets the logger used to report retries.
func (r *RetryClient) WithLogger(logger *slog.Logger) *RetryClient {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// Chat implements Client.
func (r *RetryClient) Chat(ctx context.Context, messages []types.Message) (*types.Response, error) {
	return r.do(ctx, "chat", func() (*types.Response, error) {
		return r.client.Chat(ctx, messages)
	})
}

// ChatWithStructuredOutput implements Client.
func (r *RetryClient) ChatWithStructuredOutput(ctx context.Context, messages []types.Message, schema any) (*types.Response, error) {
	return r.do(ctx, "structured", func() (*types.Response, error) {
		return r.client.ChatWithStructuredOutput(ctx, messages, schema)
	})
}

func (r *RetryClient) do(ctx context.Context, op string, call func() (*types.Response, error)) (*types.Response, error) {
	resp, err := call()
	for attempt := 1; err != nil && attempt <= r.config.MaxRetries; attempt++ {
		if !isRetryableError(err) {
			return nil, err
		}
		delay := r.config.Delay(attempt)
		r.logger.Debug("retrying llm call", "op", op, "attempt", attempt, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("retry backoff interrupted: %w", ctx.Err())
		case <-timer.C:
		}
		resp, err = call()
	}
	if err != nil {
		if isRetryableError(err) && r.config.MaxRetries > 0 {
			return nil, fmt.Errorf("giving up after %d retries: %w", r.config.MaxRetries, err)
		}
		return nil, err
	}
	return resp, nil
}

// Close implements Client.
func (r *RetryClient) Close() error { return r.client.Close() }

// GetCapabilities implements Client.
func (r *RetryClient) GetCapabilities() []TaskCapability { return r.client.GetCapabilities() }

// transientMarkers are matched against errors that carry no status or type,
// e.g. from compatible servers behind proxies.
var transientMarkers = []string{
	"429", "too many requests", "rate limit",
	"500", "502", "503", "504",
	"internal server error", "bad gateway", "service unavailable", "gateway timeout",
	"timeout", "connection reset", "connection refused", "temporary failure",
}

func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Temporary()
	}
	if errors.Is(err, ErrRateLimit) || errors.Is(err, ErrUnavailable) {
		return true
	}

	var withStatus interface{ HTTPStatusCode() int }
	if errors.As(err, &withStatus) {
		code := withStatus.HTTPStatusCode()
		return code == http.StatusTooManyRequests || code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

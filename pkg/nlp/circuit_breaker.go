package nlp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"github.com/soundprediction/newsdedup/pkg/alert"
	"github.com/soundprediction/newsdedup/pkg/config"
	"github.com/soundprediction/newsdedup/pkg/types"
)

// minTripRequests is the smallest sample the failure ratio is judged on.
const minTripRequests = 3

// CircuitBreakerClient stops calling a model that keeps failing, so that the
// relation tier falls back to its failure policy instead of waiting on
// timeouts for every candidate pair.
type CircuitBreakerClient struct {
	client Client
	cb     *gobreaker.CircuitBreaker
}

// NewBreakerSettings builds gobreaker settings from cfg. Refusals, empty
// answers and malformed JSON do not count as failures; the service answered.
// Opening the breaker is logged and sent to alerter when it is non-nil.
func NewBreakerSettings(cfg config.CircuitBreakerConfig, alerter alert.Alerter, name string, logger *slog.Logger) gobreaker.Settings {
	if logger == nil {
		logger = slog.Default()
	}
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    time.Duration(cfg.Interval) * time.Second,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= minTripRequests &&
				float64(c.TotalFailures) >= cfg.ReadyToTripRatio*float64(c.Requests)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || answeredBadly(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			if to != gobreaker.StateOpen || alerter == nil {
				return
			}
			subject := fmt.Sprintf("circuit breaker %q open", name)
			body := fmt.Sprintf("Breaker %q went from %s to open after repeated model failures. "+
				"Relation checks use the configured failure policy until it closes.", name, from)
			if err := alerter.Alert(subject, body); err != nil {
				logger.Error("circuit breaker alert failed", "breaker", name, "error", err)
			}
		},
	}
}

// answeredBadly reports errors where the model service was reachable but the
// answer was unusable.
func answeredBadly(err error) bool {
	return errors.Is(err, ErrRefusal) || errors.Is(err, ErrEmptyResponse) || errors.Is(err, ErrMalformedOutput)
}

// NewCircuitBreakerClient wraps client in a breaker named name. A disabled
// cfg returns client unchanged.
func NewCircuitBreakerClient(client Client, cfg config.CircuitBreakerConfig, alerter alert.Alerter, name string) Client {
	if !cfg.Enabled {
		return client
	}
	return &CircuitBreakerClient{
		client: client,
		cb:     gobreaker.NewCircuitBreaker(NewBreakerSettings(cfg, alerter, name, nil)),
	}
}

// State reports the breaker state.
func (c *CircuitBreakerClient) State() gobreaker.State { return c.cb.State() }

func (c *CircuitBreakerClient) Chat(ctx context.Context, messages []types.Message) (*types.Response, error) {
	return guard(c.cb, func() (*types.Response, error) { return c.client.Chat(ctx, messages) })
}

func (c *CircuitBreakerClient) ChatWithStructuredOutput(ctx context.Context, messages []types.Message, schema any) (*types.Response, error) {
	return guard(c.cb, func() (*types.Response, error) {
		return c.client.ChatWithStructuredOutput(ctx, messages, schema)
	})
}

func (c *CircuitBreakerClient) Close() error { return c.client.Close() }

func (c *CircuitBreakerClient) GetCapabilities() []TaskCapability { return c.client.GetCapabilities() }

// guard runs call through cb and restores the result type.
func guard[T any](cb *gobreaker.CircuitBreaker, call func() (T, error)) (T, error) {
	out, err := cb.Execute(func() (any, error) { return call() })
	if err != nil {
		var zero T
		return zero, err
	}
	return out.(T), nil
}

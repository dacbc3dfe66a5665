package nlp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/soundprediction/newsdedup/pkg/config"
	"github.com/soundprediction/newsdedup/pkg/types"
)

// RouterClient routes requests to a model per task, read from the request
// context (see WithUsage), with an optional fallback per rule.
type RouterClient struct {
	providers     map[string]Client
	rules         []config.RouterRule
	defaultClient Client
	logger        *slog.Logger
}

// NewRouterClient creates a new router client. The "default" provider is used
// when no rule matches.
func NewRouterClient(providers map[string]Client, rules []config.RouterRule) (*RouterClient, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}
	defaultClient, ok := providers["default"]
	if !ok {
		keys := make([]string, 0, len(providers))
		for k := range providers {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		defaultClient = providers[keys[0]]
	}
	for _, rule := range rules {
		if _, ok := providers[rule.Provider]; !ok {
			return nil, fmt.Errorf("router rule %q references unknown provider %q", rule.Usage, rule.Provider)
		}
	}

	return &RouterClient{
		providers:     providers,
		rules:         rules,
		defaultClient: defaultClient,
		logger:        slog.Default(),
	}, nil
}

// route returns the client for ctx, its name, and an optional fallback.
func (r *RouterClient) route(ctx context.Context) (Client, string, Client) {
	usage, ok := ctx.Value(types.ContextKeyUsage).(string)
	if !ok || usage == "" {
		return r.defaultClient, "default", nil
	}

	for _, rule := range r.rules {
		if strings.EqualFold(rule.Usage, usage) {
			var fallback Client
			if rule.Fallback != "" {
				fallback = r.providers[rule.Fallback]
			}
			return r.providers[rule.Provider], rule.Provider, fallback
		}
	}

	return r.defaultClient, "default", nil
}

// Chat implements Client with routing and fallback
func (r *RouterClient) Chat(ctx context.Context, messages []types.Message) (*types.Response, error) {
	primary, name, fallback := r.route(ctx)
	resp, err := primary.Chat(ctx, messages)
	if err != nil && fallback != nil {
		r.logger.Warn("routing fallback triggered", "provider", name, "error", err)
		return fallback.Chat(ctx, messages)
	}
	return resp, err
}

// ChatWithStructuredOutput implements Client with routing and fallback
func (r *RouterClient) ChatWithStructuredOutput(ctx context.Context, messages []types.Message, schema any) (*types.Response, error) {
	primary, name, fallback := r.route(ctx)
	resp, err := primary.ChatWithStructuredOutput(ctx, messages, schema)
	if err != nil && fallback != nil {
		r.logger.Warn("routing fallback triggered", "provider", name, "error", err)
		return fallback.ChatWithStructuredOutput(ctx, messages, schema)
	}
	return resp, err
}

// Close closes all providers
func (r *RouterClient) Close() error {
	var errs []error
	for id, provider := range r.providers {
		if err := provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// GetCapabilities returns the union of the providers' capabilities.
func (r *RouterClient) GetCapabilities() []TaskCapability {
	var caps []TaskCapability
	for _, p := range r.providers {
		for _, c := range p.GetCapabilities() {
			if !slices.Contains(caps, c) {
				caps = append(caps, c)
			}
		}
	}
	slices.Sort(caps)
	return caps
}

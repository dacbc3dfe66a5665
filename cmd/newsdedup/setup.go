package newsdedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/sony/gobreaker"

	dedup "github.com/soundprediction/newsdedup"
	"github.com/soundprediction/newsdedup/pkg/alert"
	"github.com/soundprediction/newsdedup/pkg/ann"
	"github.com/soundprediction/newsdedup/pkg/ann/vamana"
	"github.com/soundprediction/newsdedup/pkg/config"
	"github.com/soundprediction/newsdedup/pkg/embedder"
	"github.com/soundprediction/newsdedup/pkg/logger"
	"github.com/soundprediction/newsdedup/pkg/nlp"
	"github.com/soundprediction/newsdedup/pkg/relation"
	"github.com/soundprediction/newsdedup/pkg/store"
	"github.com/soundprediction/newsdedup/pkg/telemetry"
)

// app bundles what every command needs and how to release it.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	engine  *dedup.Engine
	store   store.Store
	closers []func() error
}

func (r *app) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// setup loads config and builds the logger, store and engine.
func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	rt := &app{cfg: cfg}

	base := logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	handler, closeTelemetry, err := telemetry.Wrap(base.Handler(), cfg.Telemetry)
	if err != nil {
		base.Warn("telemetry disabled", "error", err)
		rt.logger = base
	} else {
		rt.logger = slog.New(handler)
		rt.closers = append(rt.closers, closeTelemetry)
	}
	slog.SetDefault(rt.logger)

	emb, err := buildEmbedder(cfg.Embedding)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, emb.Close)

	esc, err := buildEscalator(cfg, rt.logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store, rt.logger)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	rt.store = st
	rt.closers = append(rt.closers, st.Close)

	opts := []dedup.Option{
		dedup.WithLogger(rt.logger),
		dedup.WithTickers(cfg.Dedup.Tickers...),
		dedup.WithSink(st),
		dedup.WithANNFactory(buildANNFactory(cfg.ANN, emb.Dimensions(), rt.logger)),
	}
	if esc != nil {
		opts = append(opts, dedup.WithEscalator(esc))
	}
	engine, err := dedup.New(emb, dedup.NewConfig(cfg.Dedup), opts...)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("create engine: %w", err)
	}
	rt.engine = engine
	rt.closers = append(rt.closers, engine.Close)

	if cfg.Store.Replay {
		tuples, err := st.Load(ctx)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("load stored records: %w", err)
		}
		if err := engine.Restore(ctx, tuples); err != nil {
			rt.Close()
			return nil, fmt.Errorf("replay stored records: %w", err)
		}
	}
	return rt, nil
}

func buildEmbedder(cfg config.EmbeddingConfig) (embedder.Client, error) {
	switch cfg.Provider {
	case "", "openai", "openai_compatible":
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("embedding.api_key (or OPENAI_API_KEY) is required")
	}
	return embedder.NewOpenAIEmbedder(cfg.APIKey, embedder.Config{
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		Dimensions: cfg.Dimensions,
	}), nil
}

// buildEscalator returns nil when relation escalation is disabled, which
// selects the baseline policy.
func buildEscalator(cfg *config.Config, log *slog.Logger) (*relation.Escalator, error) {
	if !cfg.Relation.Enabled {
		return nil, nil
	}
	policy, err := relation.ParseFailurePolicy(cfg.Relation.FailurePolicy)
	if err != nil {
		return nil, err
	}

	providers := make(map[string]nlp.Client, len(cfg.NLP.Models))
	for name, m := range cfg.NLP.Models {
		if m.APIKey == "" && m.BaseURL == "" {
			continue
		}
		temp, maxTokens := m.Temperature, m.MaxTokens
		client, err := nlp.NewOpenAIClient(m.APIKey, nlp.Config{
			Model:       m.Model,
			Temperature: &temp,
			MaxTokens:   &maxTokens,
			BaseURL:     m.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("nlp model %q: %w", name, err)
		}
		providers[name] = nlp.NewRetryClient(client, nlp.DefaultRetryConfig())
	}
	if len(providers) == 0 {
		return nil, errors.New("relation escalation is enabled but no nlp model has credentials")
	}
	router, err := nlp.NewRouterClient(providers, cfg.NLP.RouterRules)
	if err != nil {
		return nil, err
	}

	alerter := alert.New(cfg.Alert, log)
	extractor := relation.NewLLMExtractor(
		nlp.NewCircuitBreakerClient(router, cfg.CircuitBreaker, alerter, "verb-object-extractor"),
		cfg.Relation.MaxRetries)

	var breaker *gobreaker.CircuitBreaker
	if cfg.CircuitBreaker.Enabled {
		breaker = gobreaker.NewCircuitBreaker(nlp.NewBreakerSettings(cfg.CircuitBreaker, alerter, "relation-classifier", log))
	}
	classifier := relation.NewLLMClassifier(router, breaker, cfg.Relation.MaxRetries)

	log.Info("relation escalation enabled", "failure_policy", policy, "models", len(providers))
	return relation.NewEscalator(extractor, classifier,
		relation.WithObjectRatio(cfg.Dedup.ObjectRatio),
		relation.WithTimeout(cfg.Relation.Timeout),
		relation.WithFailurePolicy(policy),
		relation.WithLogger(log),
	), nil
}

func buildANNFactory(cfg config.ANNConfig, dims int, log *slog.Logger) ann.Factory {
	if cfg.Backend == "horosvec" {
		vc := vamana.DefaultConfig()
		vc.Dir = cfg.SQLiteDir
		vc.Dimensions = dims
		vc.Logger = log
		if cfg.BuildThreshold > 0 {
			vc.BuildThreshold = cfg.BuildThreshold
		}
		return vamana.NewFactory(vc)
	}
	hc := ann.DefaultHNSWConfig()
	hc.Dimensions = dims
	if cfg.M > 0 {
		hc.M = cfg.M
	}
	if cfg.EfConstruction > 0 {
		hc.EfConstruction = cfg.EfConstruction
	}
	if cfg.EfSearch > 0 {
		hc.EfSearch = cfg.EfSearch
	}
	return ann.NewHNSWFactory(hc)
}

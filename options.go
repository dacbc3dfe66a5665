package newsdedup

import (
	"context"
	"log/slog"
	"time"

	"github.com/soundprediction/newsdedup/pkg/ann"
	"github.com/soundprediction/newsdedup/pkg/config"
	"github.com/soundprediction/newsdedup/pkg/pipeline"
	"github.com/soundprediction/newsdedup/pkg/relation"
	"github.com/soundprediction/newsdedup/pkg/sketch"
	"github.com/soundprediction/newsdedup/pkg/types"
	"github.com/soundprediction/newsdedup/pkg/utils"
)

// Sink receives the durable tuples of every record inserted by AddNews.
type Sink interface {
	Write(ctx context.Context, tuples []types.RecordTuple) error
}

// Config holds the engine parameters.
type Config struct {
	NumPerm     int
	ShingleSize int
	Seed        uint64
	Policy      pipeline.Policy
	// SentimentDiffThresh is the largest intensity gap the sentiment gate allows.
	SentimentDiffThresh int
	ANNK                int
	// MaxConcurrency bounds the tickers of one call evaluated in parallel.
	MaxConcurrency int
}

// DefaultConfig returns the standard engine parameters.
func DefaultConfig() Config {
	return Config{
		NumPerm:             sketch.DefaultNumPerm,
		ShingleSize:         sketch.DefaultShingleSize,
		Seed:                sketch.DefaultSeed,
		Policy:              pipeline.DefaultPolicy(),
		SentimentDiffThresh: 2,
		ANNK:                ann.DefaultK,
		MaxConcurrency:      utils.GetSemaphoreLimit(),
	}
}

// NewConfig maps the dedup section of the application config.
func NewConfig(c config.DedupConfig) Config {
	return Config{
		NumPerm:     c.NumPerm,
		ShingleSize: c.ShingleSize,
		Seed:        c.Seed,
		Policy: pipeline.Policy{
			LowThresh:        c.LowThresh,
			HighThresh:       c.HighThresh,
			SentThresh:       c.SentThresh,
			ThresholdJaccard: c.ThresholdJaccard,
			ThresholdCosine:  c.ThresholdCosine,
			Alpha:            c.Alpha,
		},
		SentimentDiffThresh: c.SentimentDiffThresh,
		ANNK:                c.ANNK,
		MaxConcurrency:      c.MaxConcurrency,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithTickers creates partitions for the given tickers up front.
func WithTickers(tickers ...string) Option {
	return func(e *Engine) { e.seedTickers = append(e.seedTickers, tickers...) }
}

// WithSink sets the destination for inserted record tuples.
func WithSink(s Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEscalator enables the tiered policy with verb/object extraction and
// relation classification.
func WithEscalator(esc *relation.Escalator) Option {
	return func(e *Engine) { e.escalator = esc }
}

// WithANNFactory sets how semantic indexes are created. The default is an
// in-memory HNSW graph per partition.
func WithANNFactory(f ann.Factory) Option {
	return func(e *Engine) { e.annFactory = f }
}

// WithClock overrides time.Now for entry and record timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

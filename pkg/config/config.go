package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	// Log configuration
	Log LogConfig `mapstructure:"log"`

	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Dedup configuration (thresholds and sketch parameters)
	Dedup DedupConfig `mapstructure:"dedup"`

	// ANN backend configuration
	ANN ANNConfig `mapstructure:"ann"`

	// Embedding configuration
	Embedding EmbeddingConfig `mapstructure:"embedding"`

	// NLP configuration
	NLP NLPConfig `mapstructure:"nlp"`

	// Relation escalation configuration
	Relation RelationConfig `mapstructure:"relation"`

	// CircuitBreaker configuration
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`

	// Alert configuration
	Alert AlertConfig `mapstructure:"alert"`

	// Telemetry configuration
	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	// Store configuration (sink for accepted records)
	Store StoreConfig `mapstructure:"store"`

	// Queue configuration (Redis consumer)
	Queue QueueConfig `mapstructure:"queue"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text, json
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // gin mode: debug, release, test
}

// DedupConfig holds the detector thresholds.
type DedupConfig struct {
	NumPerm             int      `mapstructure:"n_perm"`
	ShingleSize         int      `mapstructure:"shingle_size"`
	Seed                uint64   `mapstructure:"seed"`
	ThresholdJaccard    float64  `mapstructure:"threshold_jaccard"`
	ThresholdCosine     float64  `mapstructure:"threshold_cosine"`
	LowThresh           float64  `mapstructure:"low_thresh"`
	HighThresh          float64  `mapstructure:"high_thresh"`
	SentThresh          float64  `mapstructure:"sent_thresh"`
	SentimentDiffThresh int      `mapstructure:"sentiment_diff_thresh"`
	Alpha               float64  `mapstructure:"alpha"`
	ANNK                int      `mapstructure:"ann_k"`
	ObjectRatio         float64  `mapstructure:"object_ratio"`
	MaxConcurrency      int      `mapstructure:"max_concurrency"`
	Tickers             []string `mapstructure:"tickers"`
}

// ANNConfig selects and tunes the semantic index.
type ANNConfig struct {
	Backend        string `mapstructure:"backend"` // hnsw, horosvec
	M              int    `mapstructure:"m"`
	EfConstruction int    `mapstructure:"ef_construction"`
	EfSearch       int    `mapstructure:"ef_search"`
	SQLiteDir      string `mapstructure:"sqlite_dir"` // horosvec only; empty keeps indexes in memory
	BuildThreshold int    `mapstructure:"build_threshold"`
}

// EmbeddingConfig holds embedding configuration
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"` // openai, openai_compatible
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Dimensions int    `mapstructure:"dimensions"`
}

// NLPConfig holds NLP configuration
type NLPConfig struct {
	// Models is a map of model configurations (e.g. "default", "classifier")
	Models map[string]NLPModelConfig `mapstructure:"models"`

	// RouterRules defines how to route requests
	RouterRules []RouterRule `mapstructure:"router_rules"`
}

// NLPModelConfig holds configuration for a specific model
type NLPModelConfig struct {
	Provider    string  `mapstructure:"provider"` // openai, openai_compatible
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float32 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// RouterRule defines a rule for routing requests
type RouterRule struct {
	Usage    string `mapstructure:"usage"`    // Tag to match (e.g. "relation_classification")
	Provider string `mapstructure:"provider"` // Model key in NLP.Models
	Fallback string `mapstructure:"fallback"` // Fallback model key
}

// RelationConfig controls the LLM escalation tier.
type RelationConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Timeout       time.Duration `mapstructure:"timeout"`
	FailurePolicy string        `mapstructure:"failure_policy"` // fail_open, fail_closed, propagate
	MaxRetries    int           `mapstructure:"max_retries"`
}

// CircuitBreakerConfig holds configuration for circuit breaking
type CircuitBreakerConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	MaxRequests      uint32  `mapstructure:"max_requests"`
	Interval         int     `mapstructure:"interval"` // in seconds
	Timeout          int     `mapstructure:"timeout"`  // in seconds
	ReadyToTripRatio float64 `mapstructure:"ready_to_trip_ratio"`
}

// AlertConfig holds configuration for alerting
type AlertConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	SMTPHost string   `mapstructure:"smtp_host"`
	SMTPPort int      `mapstructure:"smtp_port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// TelemetryConfig holds telemetry configuration
type TelemetryConfig struct {
	ParquetPath string `mapstructure:"parquet_path"`
	SQLitePath  string `mapstructure:"sqlite_path"`
}

// StoreConfig selects where inserted records are persisted.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // none, badger, parquet, postgres
	Path   string `mapstructure:"path"`   // badger directory or parquet directory
	DSN    string `mapstructure:"dsn"`    // postgres connection string
	Replay bool   `mapstructure:"replay"` // rebuild partitions from the store on startup
}

// QueueConfig configures the Redis news queue.
type QueueConfig struct {
	URL            string        `mapstructure:"url"`
	Key            string        `mapstructure:"key"`
	DeadLetterKey  string        `mapstructure:"dead_letter_key"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	// Set defaults
	setDefaults()

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Override with environment variables if present
	overrideWithEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	// Server defaults
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "debug")

	// Dedup defaults
	viper.SetDefault("dedup.n_perm", 256)
	viper.SetDefault("dedup.shingle_size", 4)
	viper.SetDefault("dedup.seed", 1)
	viper.SetDefault("dedup.threshold_jaccard", 0.1)
	viper.SetDefault("dedup.threshold_cosine", 0.4)
	viper.SetDefault("dedup.low_thresh", 0.7)
	viper.SetDefault("dedup.high_thresh", 0.9)
	viper.SetDefault("dedup.sent_thresh", 0.2)
	viper.SetDefault("dedup.sentiment_diff_thresh", 2)
	viper.SetDefault("dedup.alpha", 0.5)
	viper.SetDefault("dedup.ann_k", 20)
	viper.SetDefault("dedup.object_ratio", 80)
	viper.SetDefault("dedup.max_concurrency", 8)

	// ANN defaults
	viper.SetDefault("ann.backend", "hnsw")
	viper.SetDefault("ann.m", 16)
	viper.SetDefault("ann.ef_construction", 200)
	viper.SetDefault("ann.ef_search", 64)
	viper.SetDefault("ann.build_threshold", 64)

	// Embedding defaults
	viper.SetDefault("embedding.provider", "openai")
	viper.SetDefault("embedding.model", "text-embedding-3-small")

	viper.SetDefault("nlp.models.default.provider", "openai")
	viper.SetDefault("nlp.models.default.model", "gpt-4o-mini")
	viper.SetDefault("nlp.models.default.temperature", 0.0)
	viper.SetDefault("nlp.models.default.max_tokens", 256)

	// Relation defaults
	viper.SetDefault("relation.enabled", false)
	viper.SetDefault("relation.timeout", 10*time.Second)
	viper.SetDefault("relation.failure_policy", "fail_open")
	viper.SetDefault("relation.max_retries", 2)

	// Circuit breaker defaults
	viper.SetDefault("circuit_breaker.enabled", true)
	viper.SetDefault("circuit_breaker.max_requests", 1)
	viper.SetDefault("circuit_breaker.interval", 60)
	viper.SetDefault("circuit_breaker.timeout", 30)
	viper.SetDefault("circuit_breaker.ready_to_trip_ratio", 0.6)

	// Store defaults
	viper.SetDefault("store.driver", "none")

	// Queue defaults
	viper.SetDefault("queue.url", "redis://localhost:6379/0")
	viper.SetDefault("queue.key", "newsdedup:news")
	viper.SetDefault("queue.dead_letter_key", "newsdedup:news:dead")
	viper.SetDefault("queue.poll_timeout", 5*time.Second)
	viper.SetDefault("queue.max_concurrency", 4)

	// Telemetry defaults
	home, err := os.UserHomeDir()
	if err == nil {
		defaultPath := fmt.Sprintf("%s/.newsdedup/telemetry", home)
		viper.SetDefault("telemetry.parquet_path", defaultPath)
	}
}

// overrideWithEnv overrides config with environment variables
func overrideWithEnv(config *Config) {
	// Initialize Models map if nil
	if config.NLP.Models == nil {
		config.NLP.Models = make(map[string]NLPModelConfig)
	}

	// Update default model from env
	defaultModel := config.NLP.Models["default"]
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && defaultModel.APIKey == "" {
		defaultModel.APIKey = apiKey
	}
	config.NLP.Models["default"] = defaultModel

	// Embedding credentials
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && config.Embedding.APIKey == "" {
		config.Embedding.APIKey = apiKey
	}
	if baseURL := os.Getenv("NEWSDEDUP_EMBEDDING_BASE_URL"); baseURL != "" {
		config.Embedding.BaseURL = baseURL
	}

	// Server settings
	if host := os.Getenv("NEWSDEDUP_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("NEWSDEDUP_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	// Ticker list
	if tickers := os.Getenv("NEWSDEDUP_TICKERS"); tickers != "" {
		config.Dedup.Tickers = splitList(tickers)
	}

	// Store settings
	if driver := os.Getenv("NEWSDEDUP_STORE_DRIVER"); driver != "" {
		config.Store.Driver = driver
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" && config.Store.DSN == "" {
		config.Store.DSN = dsn
	}

	// Queue settings
	if url := os.Getenv("REDIS_URL"); url != "" {
		config.Queue.URL = url
	}

	// Telemetry settings
	if path := os.Getenv("TELEMETRY_PARQUET_PATH"); path != "" {
		config.Telemetry.ParquetPath = path
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks threshold ranges and ordering.
func (c *Config) Validate() error {
	var errs []error
	d := c.Dedup
	if d.NumPerm < 2 {
		errs = append(errs, fmt.Errorf("dedup.n_perm must be at least 2"))
	}
	if d.ShingleSize < 1 {
		errs = append(errs, fmt.Errorf("dedup.shingle_size must be positive"))
	}
	for name, v := range map[string]float64{
		"dedup.threshold_jaccard": d.ThresholdJaccard,
		"dedup.threshold_cosine":  d.ThresholdCosine,
		"dedup.low_thresh":        d.LowThresh,
		"dedup.high_thresh":       d.HighThresh,
		"dedup.sent_thresh":       d.SentThresh,
		"dedup.alpha":             d.Alpha,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be in [0, 1], got %v", name, v))
		}
	}
	if d.ThresholdJaccard <= 0 || d.ThresholdJaccard >= 1 {
		errs = append(errs, fmt.Errorf("dedup.threshold_jaccard must be in (0, 1)"))
	}
	if d.LowThresh > d.HighThresh {
		errs = append(errs, fmt.Errorf("dedup.low_thresh (%v) must not exceed dedup.high_thresh (%v)", d.LowThresh, d.HighThresh))
	}
	if d.SentimentDiffThresh < 0 {
		errs = append(errs, fmt.Errorf("dedup.sentiment_diff_thresh must not be negative"))
	}
	if d.ObjectRatio < 0 || d.ObjectRatio > 100 {
		errs = append(errs, fmt.Errorf("dedup.object_ratio must be in [0, 100]"))
	}
	switch c.ANN.Backend {
	case "", "hnsw", "horosvec":
	default:
		errs = append(errs, fmt.Errorf("unknown ann.backend %q", c.ANN.Backend))
	}
	switch c.Relation.FailurePolicy {
	case "", "fail_open", "fail_closed", "propagate":
	default:
		errs = append(errs, fmt.Errorf("unknown relation.failure_policy %q", c.Relation.FailurePolicy))
	}
	switch c.Store.Driver {
	case "", "none", "badger", "parquet":
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	return errors.Join(errs...)
}

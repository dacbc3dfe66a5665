package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("NEWSDEDUP_TICKERS", "AAPL, MSFT,,TSLA")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 256, cfg.Dedup.NumPerm)
	assert.Equal(t, 4, cfg.Dedup.ShingleSize)
	assert.InDelta(t, 0.1, cfg.Dedup.ThresholdJaccard, 1e-9)
	assert.InDelta(t, 0.4, cfg.Dedup.ThresholdCosine, 1e-9)
	assert.InDelta(t, 0.7, cfg.Dedup.LowThresh, 1e-9)
	assert.InDelta(t, 0.9, cfg.Dedup.HighThresh, 1e-9)
	assert.Equal(t, 2, cfg.Dedup.SentimentDiffThresh)
	assert.Equal(t, 20, cfg.Dedup.ANNK)
	assert.Equal(t, "hnsw", cfg.ANN.Backend)
	assert.Equal(t, "fail_open", cfg.Relation.FailurePolicy)
	assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
	assert.Equal(t, "sk-test", cfg.NLP.Models["default"].APIKey)
	assert.Equal(t, []string{"AAPL", "MSFT", "TSLA"}, cfg.Dedup.Tickers)
}

func TestValidate(t *testing.T) {
	viper.Reset()
	base, err := Load()
	require.NoError(t, err)

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"low above high", func(c *Config) { c.Dedup.LowThresh = 0.95 }},
		{"jaccard out of range", func(c *Config) { c.Dedup.ThresholdJaccard = 1.5 }},
		{"unknown backend", func(c *Config) { c.ANN.Backend = "faiss" }},
		{"unknown policy", func(c *Config) { c.Relation.FailurePolicy = "retry" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres"; c.Store.DSN = "" }},
		{"object ratio", func(c *Config) { c.Dedup.ObjectRatio = 120 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, base.Validate())
}

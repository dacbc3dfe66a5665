package nlp

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/soundprediction/newsdedup/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAlerter struct {
	mu       sync.Mutex
	subjects []string
}

func (a *recordingAlerter) Alert(subject, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subjects = append(a.subjects, subject)
	return nil
}

func breakerConfig() config.CircuitBreakerConfig {
	return config.CircuitBreakerConfig{
		Enabled:          true,
		MaxRequests:      1,
		Interval:         60,
		Timeout:          60,
		ReadyToTripRatio: 0.5,
	}
}

func TestCircuitBreakerDisabled(t *testing.T) {
	mock := &mockClient{}
	cfg := breakerConfig()
	cfg.Enabled = false
	assert.Same(t, mock, NewCircuitBreakerClient(mock, cfg, nil, "test"))
}

func TestCircuitBreakerTripsAndAlerts(t *testing.T) {
	mock := &mockClient{failUntilCall: 100, errorToReturn: errors.New("boom")}
	alerter := &recordingAlerter{}
	client := NewCircuitBreakerClient(mock, breakerConfig(), alerter, "classifier")
	cb, ok := client.(*CircuitBreakerClient)
	require.True(t, ok)

	for i := 0; i < 3; i++ {
		_, err := client.Chat(context.Background(), userMsg)
		assert.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())
	require.Len(t, alerter.subjects, 1)
	assert.Contains(t, alerter.subjects[0], "classifier")

	_, err := client.Chat(context.Background(), userMsg)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, mock.callCount)
}

func TestCircuitBreakerPassesThrough(t *testing.T) {
	mock := &mockClient{content: `{"label":"entailment"}`}
	client := NewCircuitBreakerClient(mock, breakerConfig(), nil, "classifier")

	resp, err := client.ChatWithStructuredOutput(context.Background(), userMsg, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"label":"entailment"}`, resp.Content)
	assert.Equal(t, []TaskCapability{TaskTextGeneration}, client.GetCapabilities())
}

func TestCircuitBreakerIgnoresUnusableAnswers(t *testing.T) {
	mock := &mockClient{failUntilCall: 100, errorToReturn: newCallError(ErrRefusal, "m", "declined")}
	alerter := &recordingAlerter{}
	client := NewCircuitBreakerClient(mock, breakerConfig(), alerter, "extractor")

	for i := 0; i < 5; i++ {
		_, err := client.Chat(context.Background(), userMsg)
		assert.ErrorIs(t, err, ErrRefusal)
	}
	assert.Equal(t, gobreaker.StateClosed, client.(*CircuitBreakerClient).State())
	assert.Empty(t, alerter.subjects)
	assert.Equal(t, 5, mock.callCount)
}

package nlp

import (
	"context"
	"errors"
	"testing"

	"github.com/soundprediction/newsdedup/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouterClient(t *testing.T) {
	def := &mockClient{content: "default"}
	cls := &mockClient{content: "classifier"}
	router, err := NewRouterClient(map[string]Client{"default": def, "classifier": cls}, []config.RouterRule{
		{Usage: string(TaskRelationClassification), Provider: "classifier"},
	})
	require.NoError(t, err)

	resp, err := router.Chat(context.Background(), userMsg)
	require.NoError(t, err)
	assert.Equal(t, "default", resp.Content)

	ctx := WithUsage(context.Background(), TaskRelationClassification)
	resp, err = router.Chat(ctx, userMsg)
	require.NoError(t, err)
	assert.Equal(t, "classifier", resp.Content)

	ctx = WithUsage(context.Background(), TaskVerbObjectExtraction)
	resp, err = router.ChatWithStructuredOutput(ctx, userMsg, nil)
	require.NoError(t, err)
	assert.Equal(t, "default", resp.Content)
}

func TestRouterClientFallback(t *testing.T) {
	primary := &mockClient{failUntilCall: 10, errorToReturn: errors.New("down")}
	backup := &mockClient{content: "backup"}
	router, err := NewRouterClient(map[string]Client{"default": backup, "primary": primary, "backup": backup}, []config.RouterRule{
		{Usage: "relation_classification", Provider: "primary", Fallback: "backup"},
	})
	require.NoError(t, err)

	resp, err := router.Chat(WithUsage(context.Background(), TaskRelationClassification), userMsg)
	require.NoError(t, err)
	assert.Equal(t, "backup", resp.Content)
	assert.Equal(t, 1, primary.callCount)
}

func TestNewRouterClientErrors(t *testing.T) {
	_, err := NewRouterClient(nil, nil)
	assert.Error(t, err)

	_, err = NewRouterClient(map[string]Client{"default": &mockClient{}}, []config.RouterRule{{Usage: "x", Provider: "missing"}})
	assert.Error(t, err)
}

func TestRouterCapabilitiesUnion(t *testing.T) {
	router, err := NewRouterClient(map[string]Client{
		"a": &mockClient{capabilities: []TaskCapability{TaskTextGeneration}},
		"b": &mockClient{capabilities: []TaskCapability{TaskRelationClassification, TaskTextGeneration}},
	}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []TaskCapability{TaskRelationClassification, TaskTextGeneration}, router.GetCapabilities())
	assert.True(t, Supports(router, TaskRelationClassification))
}

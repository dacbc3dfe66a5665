package nlp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, status int, body string) (*httptest.Server, *map[string]any) {
	t.Helper()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestOpenAIClientChat(t *testing.T) {
	srv, got := newTestServer(t, http.StatusOK, `{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"model": "gpt-4o-mini",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"label\":\"neutral\"}"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
	}`)

	client, err := NewOpenAIClient("", Config{Model: "gpt-4o-mini", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := client.ChatWithStructuredOutput(context.Background(), userMsg, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"label":"neutral"}`, resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	require.NotNil(t, resp.TokensUsed)
	assert.Equal(t, 5, resp.TokensUsed.TotalTokens)

	assert.Equal(t, "gpt-4o-mini", (*got)["model"])
	format, ok := (*got)["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_object", format["type"])

	assert.True(t, Supports(client, TaskRelationClassification))
}

func TestOpenAIClientRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusTooManyRequests, `{"error": {"message": "slow down", "type": "rate_limit_exceeded"}}`)
	client, err := NewOpenAIClient("key", Config{Model: "gpt-4o-mini", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Chat(context.Background(), userMsg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimit)
	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, http.StatusTooManyRequests, callErr.Status)
	assert.Equal(t, "gpt-4o-mini", callErr.Model)
	assert.True(t, isRetryableError(err))
}

func TestOpenAIClientEmptyChoices(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `{"id": "x", "object": "chat.completion", "model": "m", "choices": []}`)
	client, err := NewOpenAIClient("key", Config{Model: "m", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Chat(context.Background(), userMsg)
	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.False(t, isRetryableError(err))
}

func TestValidateBaseURL(t *testing.T) {
	assert.NoError(t, validateBaseURL("http://localhost:8000"))
	assert.Error(t, validateBaseURL(""))
	assert.Error(t, validateBaseURL("localhost:8000"))
	assert.Error(t, validateBaseURL("ftp://host"))

	_, err := NewOpenAIClient("", Config{BaseURL: "ftp://host"})
	assert.Error(t, err)
}

func TestHasAPIPath(t *testing.T) {
	assert.True(t, hasAPIPath("http://host/v1"))
	assert.True(t, hasAPIPath("http://host/api/"))
	assert.True(t, hasAPIPath("http://host/v1/"))
	assert.False(t, hasAPIPath("http://host:8000"))
}

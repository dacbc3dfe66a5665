// Package nlp provides language model clients used by the relation tier.
//
// The Client interface is implemented by OpenAIClient, which talks to OpenAI
// or any OpenAI-compatible server (vLLM, Ollama, LM Studio).
//
// # Client Wrappers
//
//   - RetryClient: retry with exponential backoff on retryable errors
//   - CircuitBreakerClient: sony/gobreaker breaker that alerts when it opens
//   - RouterClient: picks a model per task from the request context
//
// # Usage
//
//	client, err := nlp.NewOpenAIClient(apiKey, nlp.Config{Model: "gpt-4o-mini"})
//	retrying := nlp.NewRetryClient(client, nlp.DefaultRetryConfig())
//	resp, err := retrying.Chat(ctx, []types.Message{nlp.NewUserMessage("...")})
//
// DecodeJSON repairs and decodes model output that should be JSON.
//
// # Error Handling
//
// Failed calls return a *CallError. It matches its kind (ErrRateLimit,
// ErrRefusal, ErrEmptyResponse, ErrUnavailable, ErrRejected, ErrInvalidModel)
// with errors.Is and reports through Temporary whether a retry may help.
package nlp

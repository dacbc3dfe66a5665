package nlp

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/soundprediction/newsdedup/pkg/types"
)

// compatibleModel is assumed when a custom server is configured without a model.
const compatibleModel = "gpt-3.5-turbo"

// jsonOnlyHint is appended to the last user turn when a compatible server is
// asked for JSON, since many of them ignore response_format.
const jsonOnlyHint = "\n\nPlease respond with valid JSON only."

// OpenAIClient talks to OpenAI or to any server speaking its chat API
// (vLLM, Ollama, LM Studio).
type OpenAIClient struct {
	api    *openai.Client
	config Config
}

// NewOpenAIClient creates a client for config.Model. An empty BaseURL means
// api.openai.com; otherwise the URL must be http(s) and gets "/v1" appended
// unless it already ends in an API path. Compatible servers may run without
// an API key.
func NewOpenAIClient(apiKey string, config Config) (*OpenAIClient, error) {
	if config.BaseURL == "" {
		if config.Model == "" {
			config.Model = openai.GPT4oMini
		}
		return &OpenAIClient{api: openai.NewClient(apiKey), config: config}, nil
	}

	if err := validateBaseURL(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if apiKey == "" {
		apiKey = "unused"
	}
	cc := openai.DefaultConfig(apiKey)
	cc.BaseURL = config.BaseURL
	if !hasAPIPath(config.BaseURL) {
		cc.BaseURL = strings.TrimRight(config.BaseURL, "/") + "/v1"
	}
	if config.Model == "" {
		config.Model = compatibleModel
	}
	return &OpenAIClient{api: openai.NewClientWithConfig(cc), config: config}, nil
}

// Model returns the model requests are sent to.
func (c *OpenAIClient) Model() string { return c.config.Model }

// Chat sends a plain chat completion.
func (c *OpenAIClient) Chat(ctx context.Context, messages []types.Message) (*types.Response, error) {
	return c.complete(ctx, c.request(messages, false))
}

// ChatWithStructuredOutput asks for a JSON object. The schema is not sent;
// callers describe the expected shape in the prompt and decode with DecodeJSON.
func (c *OpenAIClient) ChatWithStructuredOutput(ctx context.Context, messages []types.Message, _ any) (*types.Response, error) {
	return c.complete(ctx, c.request(messages, true))
}

func (c *OpenAIClient) complete(ctx context.Context, req openai.ChatCompletionRequest) (*types.Response, error) {
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, c.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, newCallError(ErrEmptyResponse, c.config.Model, "no choices")
	}

	choice := resp.Choices[0]
	switch {
	case choice.Message.Refusal != "":
		return nil, newCallError(ErrRefusal, c.config.Model, choice.Message.Refusal)
	case strings.TrimSpace(choice.Message.Content) == "":
		return nil, newCallError(ErrEmptyResponse, c.config.Model, "blank content")
	}

	out := &types.Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Model:        resp.Model,
	}
	// compatible servers frequently omit usage
	if u := resp.Usage; u.TotalTokens > 0 {
		out.TokensUsed = &types.TokenUsage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return out, nil
}

// wrapError turns go-openai errors into a *CallError carrying the HTTP status.
// Transport errors without a status are left as they are, wrapped.
func (c *OpenAIClient) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusError(c.config.Model, apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return statusError(c.config.Model, reqErr.HTTPStatusCode, "", err)
	}
	return fmt.Errorf("%s: chat completion: %w", c.config.Model, err)
}

// GetCapabilities returns the tasks the configured model can serve.
func (c *OpenAIClient) GetCapabilities() []TaskCapability {
	return ModelCapabilities(c.config.Model)
}

// Close is a no-op; the underlying HTTP client holds no per-client resources.
func (c *OpenAIClient) Close() error { return nil }

func (c *OpenAIClient) request(messages []types.Message, asJSON bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    c.config.Model,
		Messages: make([]openai.ChatCompletionMessage, len(messages)),
		Stop:     c.config.Stop,
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}
	if t := c.config.Temperature; t != nil {
		req.Temperature = *t
	}
	if n := c.config.MaxTokens; n != nil {
		req.MaxTokens = *n
	}
	if p := c.config.TopP; p != nil {
		req.TopP = *p
	}

	if !asJSON {
		return req
	}
	req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	if last := len(req.Messages) - 1; c.config.BaseURL != "" && last >= 0 && req.Messages[last].Role == string(RoleUser) {
		req.Messages[last].Content += jsonOnlyHint
	}
	return req
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return errors.New("base URL is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base URL %q must start with http:// or https://", raw)
	}
	return nil
}

// hasAPIPath reports whether baseURL already ends in /v1 or /api.
func hasAPIPath(baseURL string) bool {
	trimmed := strings.TrimRight(baseURL, "/")
	return strings.HasSuffix(trimmed, "/v1") || strings.HasSuffix(trimmed, "/api")
}

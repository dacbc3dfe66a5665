package nlp

import (
	"context"
	"slices"

	"github.com/soundprediction/newsdedup/pkg/types"
)

// Client is a chat model. Implementations must be safe for concurrent use;
// the relation tier calls them from every partition worker.
type Client interface {
	Chat(ctx context.Context, messages []types.Message) (*types.Response, error)
	// ChatWithStructuredOutput asks for a JSON object. schema is advisory.
	ChatWithStructuredOutput(ctx context.Context, messages []types.Message, schema any) (*types.Response, error)
	GetCapabilities() []TaskCapability
	Close() error
}

// Chat roles.
const (
	RoleSystem    types.Role = "system"
	RoleUser      types.Role = "user"
	RoleAssistant types.Role = "assistant"
)

// Config holds per-model generation settings. Nil pointers leave the
// server default in place.
type Config struct {
	Model       string   `json:"model"`
	BaseURL     string   `json:"base_url,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

// Supports reports whether c advertises capability.
func Supports(c Client, capability TaskCapability) bool {
	return slices.Contains(c.GetCapabilities(), capability)
}

// WithUsage tags ctx with the task a request performs; RouterClient routes on it.
func WithUsage(ctx context.Context, usage TaskCapability) context.Context {
	return context.WithValue(ctx, types.ContextKeyUsage, string(usage))
}

func NewSystemMessage(content string) types.Message {
	return types.Message{Role: RoleSystem, Content: content}
}

func NewUserMessage(content string) types.Message {
	return types.Message{Role: RoleUser, Content: content}
}

func NewAssistantMessage(content string) types.Message {
	return types.Message{Role: RoleAssistant, Content: content}
}

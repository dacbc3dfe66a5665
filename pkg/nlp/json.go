package nlp

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	jsonrepair "github.com/kaptinlin/jsonrepair"
	"github.com/soundprediction/newsdedup/pkg/types"
)

var thinkTags = regexp.MustCompile(`(?s)<think>.*?</think>`)

// RemoveThinkTags removes <think> tags and everything in between them from a string.
func RemoveThinkTags(input string) string {
	return thinkTags.ReplaceAllString(input, "")
}

// ExtractJSONFromResponse attempts to extract JSON from LLM responses that may contain
// markdown code blocks or other surrounding text.
func ExtractJSONFromResponse(response string) string {
	response = strings.TrimSpace(RemoveThinkTags(response))

	// Check for ```json ... ``` pattern
	if start := strings.Index(response, "```json"); start != -1 {
		if end := strings.Index(response[start+7:], "```"); end != -1 {
			return strings.TrimSpace(response[start+7 : start+7+end])
		}
	}

	// Check for ``` ... ``` pattern
	if strings.HasPrefix(response, "```") {
		lines := strings.Split(response, "\n")
		if len(lines) > 2 {
			return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
		}
	}

	// Try to find JSON object boundaries
	jsonStart := strings.Index(response, "{")
	jsonEnd := strings.LastIndex(response, "}")
	if jsonStart != -1 && jsonEnd > jsonStart {
		return response[jsonStart : jsonEnd+1]
	}
	if jsonStart != -1 {
		// Truncated object; leave it for the repairer.
		return response[jsonStart:]
	}

	return response
}

// DecodeJSON extracts, repairs and unmarshals model output into target.
func DecodeJSON(content string, target any) error {
	raw := ExtractJSONFromResponse(content)
	if err := json.Unmarshal([]byte(raw), target); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if err := json.Unmarshal([]byte(repaired), target); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

// ChatJSON asks client for a JSON answer and decodes it into target. A
// response that cannot be decoded is retried up to maxRetries times with a
// correction prompt appended to the conversation.
func ChatJSON(ctx context.Context, client Client, messages []types.Message, target any, maxRetries int) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	msgs := append([]types.Message(nil), messages...)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := client.ChatWithStructuredOutput(ctx, msgs, target)
		if err != nil {
			return err
		}
		if lastErr = DecodeJSON(resp.Content, target); lastErr == nil {
			return nil
		}
		msgs = append(msgs,
			NewAssistantMessage(resp.Content),
			NewUserMessage("The previous answer was not valid JSON. Reply again with only the JSON object."),
		)
	}
	return fmt.Errorf("failed after %d attempts: %w", maxRetries+1, lastErr)
}

package relation

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"
	"github.com/soundprediction/newsdedup/pkg/nlp"
	"github.com/soundprediction/newsdedup/pkg/types"
)

const extractSystemPrompt = `You extract the main event of a financial news sentence.
Return JSON {"verb": "...", "object": "..."} where verb is the lemma of the main
predicate and object is the thing it acts on (a short noun phrase). Use empty
strings when either is absent. Keep the language of the input.`

const classifySystemPrompt = `You compare two financial news texts.
Decide whether the HYPOTHESIS follows from the PREMISE.
Return JSON {"label": "entailment" | "neutral" | "contradiction"}.
Use contradiction when they report opposite movements, outcomes or figures.`

// LLMExtractor implements Extractor with a chat model.
type LLMExtractor struct {
	client     nlp.Client
	maxRetries int
}

// NewLLMExtractor creates an extractor. maxRetries bounds re-asks on
// malformed JSON.
func NewLLMExtractor(client nlp.Client, maxRetries int) *LLMExtractor {
	return &LLMExtractor{client: client, maxRetries: maxRetries}
}

// ExtractVerbObject implements Extractor.
func (x *LLMExtractor) ExtractVerbObject(ctx context.Context, text string) (VerbObject, error) {
	ctx = nlp.WithUsage(ctx, nlp.TaskVerbObjectExtraction)
	var out VerbObject
	err := nlp.ChatJSON(ctx, x.client, []types.Message{
		nlp.NewSystemMessage(extractSystemPrompt),
		nlp.NewUserMessage(text),
	}, &out, x.maxRetries)
	if err != nil {
		return VerbObject{}, fmt.Errorf("extract verb/object: %w", err)
	}
	return out, nil
}

// LLMClassifier implements Classifier with a chat model behind a circuit
// breaker.
type LLMClassifier struct {
	client     nlp.Client
	breaker    *gobreaker.CircuitBreaker
	maxRetries int
}

// NewLLMClassifier creates a classifier. A nil breaker calls the model directly.
func NewLLMClassifier(client nlp.Client, breaker *gobreaker.CircuitBreaker, maxRetries int) *LLMClassifier {
	return &LLMClassifier{client: client, breaker: breaker, maxRetries: maxRetries}
}

type classifyResponse struct {
	Label string `json:"label"`
}

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, premise, hypothesis string) (types.Relation, error) {
	if c.breaker == nil {
		return c.classify(ctx, premise, hypothesis)
	}
	rel, err := c.breaker.Execute(func() (interface{}, error) {
		return c.classify(ctx, premise, hypothesis)
	})
	if err != nil {
		return "", err
	}
	return rel.(types.Relation), nil
}

func (c *LLMClassifier) classify(ctx context.Context, premise, hypothesis string) (types.Relation, error) {
	ctx = nlp.WithUsage(ctx, nlp.TaskRelationClassification)
	var out classifyResponse
	err := nlp.ChatJSON(ctx, c.client, []types.Message{
		nlp.NewSystemMessage(classifySystemPrompt),
		nlp.NewUserMessage(fmt.Sprintf("PREMISE: %s\nHYPOTHESIS: %s", premise, hypothesis)),
	}, &out, c.maxRetries)
	if err != nil {
		return "", fmt.Errorf("classify relation: %w", err)
	}
	rel, err := types.ParseRelation(out.Label)
	if err != nil {
		return "", fmt.Errorf("classify relation: %w", err)
	}
	return rel, nil
}

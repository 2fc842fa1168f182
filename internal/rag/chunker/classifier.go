package chunker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// CompletionFunc is the narrow LLM surface the classifier needs.
type CompletionFunc func(ctx context.Context, prompt, model string, maxTokens int, temperature float64) (string, error)

// Classification is the LLM's verdict on a chunk's characteristics.
type Classification struct {
	IsOpinion bool `json:"is_opinion"`
	IsExample bool `json:"is_example"`
	IsAnalogy bool `json:"is_analogy"`
}

// Classifier asks an LLM whether a chunk carries opinion, example or
// analogy content. More accurate than patterns, slower.
type Classifier struct {
	complete CompletionFunc
	model    string
}

func NewClassifier(complete CompletionFunc, model string) *Classifier {
	return &Classifier{complete: complete, model: model}
}

const classifyPrompt = `Classify the following text fragment. Respond ONLY with valid JSON:
{"is_opinion": bool, "is_example": bool, "is_analogy": bool}

- is_opinion: the author states a personal view or judgment
- is_example: the text gives a concrete example or case
- is_analogy: the text explains through comparison or metaphor

Text:
%s`

// Classify returns the LLM's characteristic flags for the text.
func (c *Classifier) Classify(ctx context.Context, text string) (Classification, error) {
	resp, err := c.complete(ctx, fmt.Sprintf(classifyPrompt, text), c.model, 100, 0)
	if err != nil {
		return Classification{}, fmt.Errorf("classification call: %w", err)
	}
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")

	var result Classification
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp)), &result); err != nil {
		return Classification{}, fmt.Errorf("parse classification: %w", err)
	}
	return result, nil
}

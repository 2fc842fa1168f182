package llm

import (
	"context"
	"fmt"
	"log"

	"github.com/scriptforge/scriptforge/config"
	openai_provider "github.com/scriptforge/scriptforge/internal/llm/openai"
)

// Provider abstracts the LLM backends used for synthesis, expansion,
// reranking and embeddings.
type Provider interface {
	// Complete sends a single-prompt chat completion and returns the text.
	Complete(ctx context.Context, prompt, model string, maxTokens int, temperature float64) (string, error)
	// Embed returns one embedding per input, in order.
	Embed(ctx context.Context, model string, inputs []string) ([][]float32, error)
}

// NewProvider builds the provider named in config. Only one provider may be
// active per process.
func NewProvider(cfg config.LLMConfig, logger *log.Logger) (Provider, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[LLM] ", log.LstdFlags)
	}
	if len(cfg.Providers) > 1 {
		return nil, fmt.Errorf("multiple llm providers configured (%d); exactly one is supported", len(cfg.Providers))
	}
	for name, pc := range cfg.Providers {
		switch pc.Type {
		case "openai", "":
			return openai_provider.NewClient(pc.APIKey, pc.BaseURL, pc.Timeout, logger), nil
		default:
			return nil, fmt.Errorf("unknown llm provider type %q for %q", pc.Type, name)
		}
	}
	return nil, fmt.Errorf("no llm providers configured")
}

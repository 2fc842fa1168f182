package embedder

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/scriptforge/scriptforge/config"
	"github.com/scriptforge/scriptforge/internal/llm"
	"github.com/scriptforge/scriptforge/internal/rag/core"
)

// Embedder turns chunks into vectors, enriching the text with metadata
// tags before the provider call so structure and characteristics survive
// into the embedding space.
type Embedder struct {
	provider llm.Provider
	cfg      config.EmbeddingConfig
	logger   *log.Logger
}

func New(provider llm.Provider, cfg config.EmbeddingConfig, logger *log.Logger) *Embedder {
	cfg = cfg.Normalize()
	if logger == nil {
		logger = log.New(log.Writer(), "[EMBED] ", log.LstdFlags)
	}
	return &Embedder{provider: provider, cfg: cfg, logger: logger}
}

// Model returns the configured embedding model name.
func (e *Embedder) Model() string { return e.cfg.Model }

// EmbedQuery embeds a raw query string without enrichment.
func (e *Embedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedChunk embeds a single chunk with metadata enrichment.
func (e *Embedder) EmbedChunk(ctx context.Context, chunk core.ContentChunk) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{PrepareText(chunk)})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedChunks embeds chunks in configured-size batches and writes the
// vectors back onto the slice. Provider failure aborts the whole batch.
func (e *Embedder) EmbedChunks(ctx context.Context, chunks []core.ContentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := e.cfg.BatchSize
	for start := 0; start < len(chunks); start += batch {
		end := start + batch
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, chunk := range chunks[start:end] {
			texts = append(texts, PrepareText(chunk))
		}
		vecs, err := e.embed(ctx, texts)
		if err != nil {
			return err
		}
		for i, vec := range vecs {
			chunks[start+i].Embedding = vec
			chunks[start+i].EmbeddingModel = e.cfg.Model
		}
	}
	e.logger.Printf("embedded %d chunks (model=%s)", len(chunks), e.cfg.Model)
	return nil
}

func (e *Embedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.provider.Embed(ctx, e.cfg.Model, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrEmbeddingFailure, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", core.ErrEmbeddingFailure, len(vecs), len(texts))
	}
	for _, vec := range vecs {
		if len(vec) != e.cfg.Dimensions {
			return nil, fmt.Errorf("%w: dimension mismatch, got %d want %d", core.ErrEmbeddingFailure, len(vec), e.cfg.Dimensions)
		}
	}
	return vecs, nil
}

// PrepareText decorates chunk text with bracket tags so the embedding
// carries structure, characteristics and the top keywords.
func PrepareText(chunk core.ContentChunk) string {
	parts := []string{}
	switch chunk.Position {
	case core.PositionHook:
		parts = append(parts, "[HOOK]")
	case core.PositionConclusion:
		parts = append(parts, "[CONCLUSION]")
	}
	if chunk.IsOpinion {
		parts = append(parts, "[OPINION]")
	}
	if chunk.IsExample {
		parts = append(parts, "[EXAMPLE]")
	}
	if len(chunk.Keywords) > 0 {
		kws := chunk.Keywords
		if len(kws) > 5 {
			kws = kws[:5]
		}
		parts = append(parts, "[KEYWORDS: "+strings.Join(kws, ", ")+"]")
	}
	parts = append(parts, chunk.Text)
	return strings.Join(parts, " ")
}

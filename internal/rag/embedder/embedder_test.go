package embedder

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/scriptforge/scriptforge/config"
	"github.com/scriptforge/scriptforge/internal/rag/core"
)

// stubProvider hashes inputs into fixed-size vectors so embeddings are
// deterministic.
type stubProvider struct {
	dims int
	fail bool
}

func (s *stubProvider) Complete(ctx context.Context, prompt, model string, maxTokens int, temperature float64) (string, error) {
	return "", errors.New("not implemented")
}

func (s *stubProvider) Embed(ctx context.Context, model string, inputs []string) ([][]float32, error) {
	if s.fail {
		return nil, errors.New("provider down")
	}
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		vec := make([]float32, s.dims)
		for j, r := range in {
			vec[j%s.dims] += float32(r)
		}
		out[i] = vec
	}
	return out, nil
}

func testConfig(dims int) config.EmbeddingConfig {
	return config.EmbeddingConfig{Model: "test-embed", Dimensions: dims, BatchSize: 2}
}

func TestPrepareTextTags(t *testing.T) {
	t.Parallel()
	chunk := core.ContentChunk{
		Text:      "Here is the thing about goroutines.",
		Position:  core.PositionHook,
		IsOpinion: true,
		Keywords:  []string{"Go", "Concurrency", "Channels", "Select", "Mutex", "Atomic"},
	}
	got := PrepareText(chunk)
	if !strings.HasPrefix(got, "[HOOK] [OPINION] [KEYWORDS: Go, Concurrency, Channels, Select, Mutex]") {
		t.Fatalf("unexpected enrichment: %q", got)
	}
	if !strings.HasSuffix(got, chunk.Text) {
		t.Fatalf("original text must close the enriched form: %q", got)
	}
}

func TestPrepareTextPlainBody(t *testing.T) {
	t.Parallel()
	chunk := core.ContentChunk{Text: "plain body text", Position: core.PositionBody}
	if got := PrepareText(chunk); got != "plain body text" {
		t.Fatalf("body chunks without flags get no tags, got %q", got)
	}
}

func TestEmbedChunksDeterministic(t *testing.T) {
	t.Parallel()
	e := New(&stubProvider{dims: 8}, testConfig(8), nil)
	chunks := []core.ContentChunk{
		{Text: "first chunk", Position: core.PositionHook},
		{Text: "second chunk", Position: core.PositionBody},
		{Text: "third chunk", Position: core.PositionConclusion},
	}
	again := make([]core.ContentChunk, len(chunks))
	copy(again, chunks)

	if err := e.EmbedChunks(context.Background(), chunks); err != nil {
		t.Fatalf("EmbedChunks: %v", err)
	}
	if err := e.EmbedChunks(context.Background(), again); err != nil {
		t.Fatalf("EmbedChunks: %v", err)
	}
	for i := range chunks {
		if len(chunks[i].Embedding) != 8 {
			t.Fatalf("chunk %d has %d dims", i, len(chunks[i].Embedding))
		}
		if chunks[i].EmbeddingModel != "test-embed" {
			t.Fatalf("chunk %d missing embedding model", i)
		}
		for j := range chunks[i].Embedding {
			if chunks[i].Embedding[j] != again[i].Embedding[j] {
				t.Fatalf("embedding not deterministic at chunk %d dim %d", i, j)
			}
		}
	}
}

func TestEmbedChunksProviderFailure(t *testing.T) {
	t.Parallel()
	e := New(&stubProvider{dims: 8, fail: true}, testConfig(8), nil)
	err := e.EmbedChunks(context.Background(), []core.ContentChunk{{Text: "x"}})
	if !errors.Is(err, core.ErrEmbeddingFailure) {
		t.Fatalf("expected ErrEmbeddingFailure, got %v", err)
	}
}

func TestEmbedChunksDimensionMismatch(t *testing.T) {
	t.Parallel()
	e := New(&stubProvider{dims: 4}, testConfig(8), nil)
	err := e.EmbedChunks(context.Background(), []core.ContentChunk{{Text: "x"}})
	if !errors.Is(err, core.ErrEmbeddingFailure) {
		t.Fatalf("expected ErrEmbeddingFailure on dimension mismatch, got %v", err)
	}
}

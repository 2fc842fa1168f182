package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/scriptforge/scriptforge/internal/rag/core"
)

// CompletionFunc is the narrow LLM surface reranking needs.
type CompletionFunc func(ctx context.Context, prompt, model string, maxTokens int, temperature float64) (string, error)

// Reranker rescores fused candidates with an LLM pass, then diversifies
// the final selection with MMR.
type Reranker struct {
	complete CompletionFunc
	model    string
	logger   *log.Logger
}

func New(complete CompletionFunc, model string, logger *log.Logger) *Reranker {
	if logger == nil {
		logger = log.New(log.Writer(), "[RERANK] ", log.LstdFlags)
	}
	return &Reranker{complete: complete, model: model, logger: logger}
}

const rerankPrompt = `Score how relevant each passage is to the query on a 0.0-1.0 scale.
Respond ONLY with a JSON array of numbers, one per passage, in order.

Query: %s

Passages:
%s`

// Rerank asks the LLM for a relevance score per candidate and reorders by
// it. Any failure (call, parse, length mismatch) keeps the fused order.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []core.RetrievalResult) []core.RetrievalResult {
	if len(candidates) <= 1 || r.complete == nil {
		return candidates
	}

	var sb strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, c.Chunk.Text)
	}
	resp, err := r.complete(ctx, fmt.Sprintf(rerankPrompt, query, sb.String()), r.model, 500, 0)
	if err != nil {
		r.logger.Printf("rerank call failed, keeping fused order: %v", err)
		return candidates
	}

	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```json")
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")

	var scores []float64
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp)), &scores); err != nil || len(scores) != len(candidates) {
		r.logger.Printf("rerank parse failed, keeping fused order")
		return candidates
	}

	out := make([]core.RetrievalResult, len(candidates))
	copy(out, candidates)
	for i := range out {
		s := scores[i]
		if s < 0 {
			s = 0
		}
		if s > 1 {
			s = 1
		}
		out[i].Score = s
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// SelectMMR greedily picks up to k results balancing relevance against
// redundancy: lambda*relevance - (1-lambda)*maxSimilarity to the already
// selected set. Similarity is cosine over the stored chunk embeddings.
// No chunk is selected twice.
func SelectMMR(candidates []core.RetrievalResult, k int, lambda float64) []core.RetrievalResult {
	if k <= 0 || len(candidates) == 0 {
		return []core.RetrievalResult{}
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	selected := make([]core.RetrievalResult, 0, k)
	remaining := make([]core.RetrievalResult, len(candidates))
	copy(remaining, candidates)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := 0
		bestScore := math.Inf(-1)
		for i, cand := range remaining {
			maxSim := 0.0
			for _, sel := range selected {
				if sim := Cosine(cand.Chunk.Embedding, sel.Chunk.Embedding); sim > maxSim {
					maxSim = sim
				}
			}
			score := lambda*cand.Score - (1-lambda)*maxSim
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

// Cosine returns the cosine similarity of two vectors, 0 when either is a
// zero vector.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		na += ai * ai
		nb += bi * bi
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

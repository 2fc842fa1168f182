package retriever

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/scriptforge/scriptforge/config"
	"github.com/scriptforge/scriptforge/internal/rag/core"
	"github.com/scriptforge/scriptforge/internal/rag/rerank"
)

var channelErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "scriptforge_retrieval_channel_errors_total",
	Help: "Retrieval channel failures by channel (semantic or keyword).",
}, []string{"channel"})

// QueryEmbedder turns a query string into a vector.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// CompletionFunc is the narrow LLM surface query expansion needs.
type CompletionFunc func(ctx context.Context, prompt, model string, maxTokens int, temperature float64) (string, error)

// Retriever runs hybrid search: query expansion, a semantic and a keyword
// channel per variant, weighted fusion, dedup, filters, then rerank + MMR.
type Retriever struct {
	store    core.ChunkStore
	keyword  core.KeywordSearcher
	embedder QueryEmbedder
	reranker *rerank.Reranker
	complete CompletionFunc
	expModel string
	cfg      config.RetrievalConfig
	logger   *log.Logger
}

func New(
	store core.ChunkStore,
	keyword core.KeywordSearcher,
	embedder QueryEmbedder,
	reranker *rerank.Reranker,
	complete CompletionFunc,
	expansionModel string,
	cfg config.RetrievalConfig,
	logger *log.Logger,
) *Retriever {
	cfg = cfg.Normalize()
	if logger == nil {
		logger = log.New(log.Writer(), "[RETRIEVE] ", log.LstdFlags)
	}
	return &Retriever{
		store:    store,
		keyword:  keyword,
		embedder: embedder,
		reranker: reranker,
		complete: complete,
		expModel: expansionModel,
		cfg:      cfg,
		logger:   logger,
	}
}

// Options narrows one retrieval call. TopK<=0 uses the configured final
// top-k.
type Options struct {
	TopK    int
	Filters core.ChunkFilters
}

type channelHits struct {
	semantic []core.RetrievalResult
	keyword  []core.RetrievalResult
	semErr   error
	kwErr    error
}

// Retrieve runs the full hybrid pipeline for one query. An empty channel
// yields an empty slice. Both channels failing for every variant yields
// core.ErrRetrievalUnavailable.
func (r *Retriever) Retrieve(ctx context.Context, query, channelID string, opts Options) ([]core.RetrievalResult, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = r.cfg.FinalTopK
	}

	queries := []string{query}
	if r.cfg.EnableExpansion {
		queries = r.expandQuery(ctx, query)
	}

	fused := map[uuid.UUID]*core.RetrievalResult{}
	anySuccess := false
	var firstErr error

	for _, q := range queries {
		hits := r.searchVariant(ctx, q, channelID, opts.Filters)
		if hits.semErr != nil && hits.kwErr != nil {
			if firstErr == nil {
				firstErr = hits.semErr
			}
			channelErrors.WithLabelValues("semantic").Inc()
			channelErrors.WithLabelValues("keyword").Inc()
			r.logger.Printf("both channels failed for variant %q: semantic=%v keyword=%v", q, hits.semErr, hits.kwErr)
			continue
		}
		anySuccess = true
		if hits.semErr != nil {
			channelErrors.WithLabelValues("semantic").Inc()
			r.logger.Printf("semantic channel failed for variant %q, keyword only: %v", q, hits.semErr)
		}
		if hits.kwErr != nil {
			channelErrors.WithLabelValues("keyword").Inc()
			r.logger.Printf("keyword channel failed for variant %q, semantic only: %v", q, hits.kwErr)
		}

		accumulate(fused, hits.semantic, r.cfg.SemanticWeight)
		accumulate(fused, hits.keyword, r.cfg.KeywordWeight)
	}

	if !anySuccess {
		return nil, fmt.Errorf("%w: %v", core.ErrRetrievalUnavailable, firstErr)
	}

	// Accumulated scores sum across variants; divide so they stay in [0,1].
	results := make([]core.RetrievalResult, 0, len(fused))
	for _, res := range fused {
		res.Score /= float64(len(queries))
		results = append(results, *res)
	}
	results = applyFilters(results, opts.Filters)
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	if r.cfg.EnableReranking && r.reranker != nil && len(results) > 1 {
		results = r.reranker.Rerank(ctx, query, results)
	}
	if r.cfg.EnableMMR {
		results = rerank.SelectMMR(results, topK, r.cfg.MMRLambda)
	} else if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// RetrieveOpinions returns opinion-flagged chunks for a topic.
func (r *Retriever) RetrieveOpinions(ctx context.Context, query, channelID string, topK int) ([]core.RetrievalResult, error) {
	return r.Retrieve(ctx, query, channelID, Options{TopK: topK, Filters: core.ChunkFilters{OpinionOnly: true}})
}

// RetrieveExamples returns example-flagged chunks for a topic.
func (r *Retriever) RetrieveExamples(ctx context.Context, query, channelID string, topK int) ([]core.RetrievalResult, error) {
	return r.Retrieve(ctx, query, channelID, Options{TopK: topK, Filters: core.ChunkFilters{ExampleOnly: true}})
}

// RetrieveHooks returns hook-position chunks above a performance floor.
func (r *Retriever) RetrieveHooks(ctx context.Context, query, channelID string, topK int, minPerformance float64) ([]core.RetrievalResult, error) {
	return r.Retrieve(ctx, query, channelID, Options{
		TopK:    topK,
		Filters: core.ChunkFilters{Position: core.PositionHook, MinPerformance: &minPerformance},
	})
}

func (r *Retriever) searchVariant(ctx context.Context, query, channelID string, filters core.ChunkFilters) channelHits {
	var (
		hits channelHits
		wg   sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		vec, err := r.embedder.EmbedQuery(ctx, query)
		if err != nil {
			hits.semErr = err
			return
		}
		hits.semantic, hits.semErr = r.store.QueryNearest(ctx, channelID, vec, r.cfg.SemanticTopK, filters)
	}()
	go func() {
		defer wg.Done()
		hits.keyword, hits.kwErr = r.keyword.Search(channelID, query, r.cfg.KeywordTopK)
	}()
	wg.Wait()
	return hits
}

// accumulate adds weighted channel scores into the fusion map, keyed by
// chunk id so duplicates merge.
func accumulate(fused map[uuid.UUID]*core.RetrievalResult, hits []core.RetrievalResult, weight float64) {
	for _, hit := range hits {
		if existing, ok := fused[hit.Chunk.ID]; ok {
			existing.Score += hit.Score * weight
			continue
		}
		res := hit
		res.Score = hit.Score * weight
		fused[hit.Chunk.ID] = &res
	}
}

// applyFilters re-checks the filter set over the fused pool. The semantic
// channel filters in SQL; the keyword channel cannot, so fused results get
// one uniform pass.
func applyFilters(results []core.RetrievalResult, filters core.ChunkFilters) []core.RetrievalResult {
	out := results[:0]
	for _, res := range results {
		c := res.Chunk
		if filters.ContentType != "" && c.ContentType != filters.ContentType {
			continue
		}
		if filters.Position != "" && c.Position != filters.Position {
			continue
		}
		if filters.MinPerformance != nil && (c.PerformanceScore == nil || *c.PerformanceScore < *filters.MinPerformance) {
			continue
		}
		if filters.OpinionOnly && !c.IsOpinion {
			continue
		}
		if filters.ExampleOnly && !c.IsExample {
			continue
		}
		if filters.CreatedAfter != nil && c.CreatedAt.Before(*filters.CreatedAfter) {
			continue
		}
		out = append(out, res)
	}
	return out
}

const expansionPrompt = `Generate %d alternative phrasings of the following search query.
Keep each on its own line, no numbering, no extra text.

Query: %s`

// expandQuery asks the LLM for paraphrases. Any failure keeps just the
// original query.
func (r *Retriever) expandQuery(ctx context.Context, query string) []string {
	if r.complete == nil {
		return []string{query}
	}
	resp, err := r.complete(ctx, fmt.Sprintf(expansionPrompt, r.cfg.ExpansionCount, query), r.expModel, 200, 0.3)
	if err != nil {
		r.logger.Printf("query expansion failed, using original only: %v", err)
		return []string{query}
	}
	queries := []string{query}
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		queries = append(queries, line)
		if len(queries) > r.cfg.ExpansionCount {
			break
		}
	}
	return queries
}

package retriever

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/scriptforge/scriptforge/internal/rag/core"
)

// keywordDoc is the shape bleve indexes per chunk.
type keywordDoc struct {
	Text     string `json:"text"`
	Keywords string `json:"keywords"`
	Position string `json:"position"`
}

type channelIndex struct {
	index bleve.Index
	meta  map[string]core.ContentChunk
}

// KeywordIndex is the lexical retrieval channel: one in-memory BM25 index
// per channel, rebuilt from the store at startup and updated on upsert.
type KeywordIndex struct {
	mu       sync.RWMutex
	channels map[string]*channelIndex
}

func NewKeywordIndex() *KeywordIndex {
	return &KeywordIndex{channels: make(map[string]*channelIndex)}
}

// Warm bulk-loads a channel's chunks from the store.
func (k *KeywordIndex) Warm(ctx context.Context, store core.ChunkStore, channelID string) error {
	chunks, err := store.ListChunks(ctx, channelID)
	if err != nil {
		return fmt.Errorf("warm keyword index for %s: %w", channelID, err)
	}
	for _, chunk := range chunks {
		if err := k.Index(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (k *KeywordIndex) channel(channelID string) (*channelIndex, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	ci, ok := k.channels[channelID]
	if !ok {
		index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			return nil, err
		}
		ci = &channelIndex{index: index, meta: make(map[string]core.ContentChunk)}
		k.channels[channelID] = ci
	}
	return ci, nil
}

// Index adds or replaces one chunk in its channel's index.
func (k *KeywordIndex) Index(chunk core.ContentChunk) error {
	ci, err := k.channel(chunk.ChannelID)
	if err != nil {
		return err
	}
	k.mu.Lock()
	ci.meta[chunk.ID.String()] = chunk
	k.mu.Unlock()
	return ci.index.Index(chunk.ID.String(), keywordDoc{
		Text:     chunk.Text,
		Keywords: strings.Join(chunk.Keywords, " "),
		Position: string(chunk.Position),
	})
}

// Search runs a BM25 query against one channel. Scores are rank-normalized
// into [0,1] because raw BM25 scores are unbounded.
func (k *KeywordIndex) Search(channelID, query string, topK int) ([]core.RetrievalResult, error) {
	k.mu.RLock()
	ci, ok := k.channels[channelID]
	k.mu.RUnlock()
	if !ok {
		return []core.RetrievalResult{}, nil
	}

	q := bleve.NewQueryStringQuery(query)
	searchReq := bleve.NewSearchRequestOptions(q, topK, 0, false)
	res, err := ci.index.Search(searchReq)
	if err != nil {
		return nil, err
	}

	out := make([]core.RetrievalResult, 0, len(res.Hits))
	n := len(res.Hits)
	for i, hit := range res.Hits {
		k.mu.RLock()
		chunk, found := ci.meta[hit.ID]
		k.mu.RUnlock()
		if !found {
			continue
		}
		out = append(out, core.RetrievalResult{
			Chunk: chunk,
			Score: 1 - float64(i)/float64(n),
		})
	}
	return out, nil
}

var _ core.KeywordSearcher = (*KeywordIndex)(nil)

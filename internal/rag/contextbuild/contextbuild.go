package contextbuild

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/scriptforge/scriptforge/internal/rag/core"
	"github.com/scriptforge/scriptforge/internal/rag/retriever"
)

const (
	similarTopK        = 5
	opinionsTopK       = 3
	examplesTopK       = 3
	hooksTopK          = 3
	hookMinPerformance = 0.5
)

// Builder assembles the generation context: topic, persona, and the four
// retrieval buckets fetched concurrently.
type Builder struct {
	retriever *retriever.Retriever
	personas  core.PersonaStore
	topics    core.TopicStore
	logger    *log.Logger
}

func New(ret *retriever.Retriever, personas core.PersonaStore, topics core.TopicStore, logger *log.Logger) *Builder {
	if logger == nil {
		logger = log.New(log.Writer(), "[CONTEXT] ", log.LstdFlags)
	}
	return &Builder{retriever: ret, personas: personas, topics: topics, logger: logger}
}

// Build loads persona and topic once, then runs the four bucket retrievals
// concurrently. A failed bucket logs and degrades to empty; persona or
// topic load failure is fatal.
func (b *Builder) Build(ctx context.Context, topic core.Topic, cfg core.GenerationConfig) (core.GenerationContext, error) {
	persona, err := b.personas.GetPersona(ctx, topic.ChannelID)
	if err != nil {
		return core.GenerationContext{}, err
	}

	query := buildQuery(topic)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		retrieved core.RetrievedContent
	)
	fetch := func(name string, fn func() ([]core.RetrievalResult, error), dst *[]core.RetrievalResult) {
		defer wg.Done()
		results, err := fn()
		if err != nil {
			b.logger.Printf("%s retrieval failed, continuing with empty bucket: %v", name, err)
			results = []core.RetrievalResult{}
		}
		mu.Lock()
		*dst = results
		mu.Unlock()
	}

	wg.Add(4)
	go fetch("similar", func() ([]core.RetrievalResult, error) {
		return b.retriever.Retrieve(ctx, query, topic.ChannelID, retriever.Options{TopK: similarTopK})
	}, &retrieved.Similar)
	go fetch("opinions", func() ([]core.RetrievalResult, error) {
		return b.retriever.RetrieveOpinions(ctx, query, topic.ChannelID, opinionsTopK)
	}, &retrieved.Opinions)
	go fetch("examples", func() ([]core.RetrievalResult, error) {
		return b.retriever.RetrieveExamples(ctx, query, topic.ChannelID, examplesTopK)
	}, &retrieved.Examples)
	go fetch("hooks", func() ([]core.RetrievalResult, error) {
		return b.retriever.RetrieveHooks(ctx, query, topic.ChannelID, hooksTopK, hookMinPerformance)
	}, &retrieved.Hooks)
	wg.Wait()

	b.logger.Printf("built context: similar=%d opinions=%d examples=%d hooks=%d",
		len(retrieved.Similar), len(retrieved.Opinions), len(retrieved.Examples), len(retrieved.Hooks))

	return core.GenerationContext{
		Topic:     topic,
		Persona:   persona,
		Retrieved: retrieved,
		Config:    cfg,
	}, nil
}

// buildQuery joins title, summary and the first five topic keywords.
func buildQuery(topic core.Topic) string {
	parts := []string{topic.Title}
	if topic.Summary != "" {
		parts = append(parts, topic.Summary)
	}
	kws := topic.Keywords
	if len(kws) > 5 {
		kws = kws[:5]
	}
	if len(kws) > 0 {
		parts = append(parts, strings.Join(kws, " "))
	}
	return strings.Join(parts, " ")
}

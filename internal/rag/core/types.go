package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ChunkPosition marks where a chunk sits inside its source script.
type ChunkPosition string

const (
	PositionHook       ChunkPosition = "hook"
	PositionBody       ChunkPosition = "body"
	PositionConclusion ChunkPosition = "conclusion"
)

// ContentType distinguishes what kind of document a chunk came from.
type ContentType string

const (
	ContentScript  ContentType = "script"
	ContentDraft   ContentType = "draft"
	ContentOutline ContentType = "outline"
	ContentNote    ContentType = "note"
)

// ScriptStatus tracks a generated script through the review flow.
type ScriptStatus string

const (
	StatusGenerated ScriptStatus = "generated"
	StatusReviewed  ScriptStatus = "reviewed"
	StatusApproved  ScriptStatus = "approved"
	StatusRejected  ScriptStatus = "rejected"
	StatusProduced  ScriptStatus = "produced"
)

// Sentinel errors callers branch on.
var (
	// ErrRetrievalUnavailable means both retrieval channels failed for every
	// query variant. Partial channel failure degrades instead.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	// ErrEmbeddingFailure means the embedding provider failed or returned a
	// vector of the wrong dimension. Never masked with a zero vector.
	ErrEmbeddingFailure = errors.New("embedding failure")
	// ErrGenerationFailure means the synthesis provider failed on every
	// attempt. Quality-gate failure is NOT this error.
	ErrGenerationFailure = errors.New("generation failure")
)

// ContentChunk is the unit of retrieval: a fragment of a past script with
// its characteristics, keywords and embedding.
type ContentChunk struct {
	ID               uuid.UUID     `json:"id"`
	ChannelID        string        `json:"channel_id"`
	ScriptID         *uuid.UUID    `json:"script_id,omitempty"`
	Text             string        `json:"text"`
	Position         ChunkPosition `json:"position"`
	ContentType      ContentType   `json:"content_type"`
	ChunkIndex       int           `json:"chunk_index"`
	IsOpinion        bool          `json:"is_opinion"`
	IsExample        bool          `json:"is_example"`
	IsAnalogy        bool          `json:"is_analogy"`
	Keywords         []string      `json:"keywords"`
	ContextBefore    string        `json:"context_before,omitempty"`
	ContextAfter     string        `json:"context_after,omitempty"`
	Embedding        []float32     `json:"-"`
	EmbeddingModel   string        `json:"embedding_model,omitempty"`
	PerformanceScore *float64      `json:"performance_score,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// RetrievalResult pairs a chunk with its fused relevance score.
type RetrievalResult struct {
	Chunk ContentChunk `json:"chunk"`
	Score float64      `json:"score"`
}

// ChunkFilters narrows a retrieval to a subset of the channel's chunks.
// Zero values mean no constraint.
type ChunkFilters struct {
	ContentType    ContentType
	Position       ChunkPosition
	MinPerformance *float64
	OpinionOnly    bool
	ExampleOnly    bool
	CreatedAfter   *time.Time
}

// CommunicationStyle captures how a persona talks.
type CommunicationStyle struct {
	Tone            string   `json:"tone"`
	Formality       string   `json:"formality"`
	SentenceEndings []string `json:"sentence_endings"`
	Connectors      []string `json:"connectors"`
	AvoidWords      []string `json:"avoid_words"`
}

// Perspective captures what a persona stands for.
type Perspective struct {
	Values     []string `json:"values"`
	Biases     []string `json:"biases"`
	Contrarian []string `json:"contrarian"`
}

// PersonaExamples holds reference scripts that exemplify (or violate) the
// persona's voice.
type PersonaExamples struct {
	GoodScripts []string `json:"good_scripts"`
	BadExamples []string `json:"bad_examples"`
}

// Persona is the channel's voice definition. Read-only to this service.
type Persona struct {
	ChannelID   string             `json:"channel_id"`
	Name        string             `json:"name"`
	Tagline     string             `json:"tagline"`
	Expertise   []string           `json:"expertise"`
	Description string             `json:"description"`
	Style       CommunicationStyle `json:"style"`
	Perspective Perspective        `json:"perspective"`
	Examples    PersonaExamples    `json:"examples"`
}

// Topic is a researched subject handed in by the upstream pipeline.
// Immutable once the context builder has read it.
type Topic struct {
	ID         uuid.UUID  `json:"id"`
	ChannelID  string     `json:"channel_id"`
	Title      string     `json:"title"`
	Summary    string     `json:"summary"`
	Keywords   []string   `json:"keywords"`
	Categories []string   `json:"categories"`
	SeriesID   *uuid.UUID `json:"series_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// RetrievedContent is the four-bucket retrieval output feeding synthesis.
type RetrievedContent struct {
	Similar  []RetrievalResult `json:"similar"`
	Opinions []RetrievalResult `json:"opinions"`
	Examples []RetrievalResult `json:"examples"`
	Hooks    []RetrievalResult `json:"hooks"`
}

// GenerationConfig carries per-request generation knobs.
type GenerationConfig struct {
	Format         string   `json:"format"`
	TargetDuration int      `json:"target_duration"`
	Style          string   `json:"style"`
	ForbiddenWords []string `json:"forbidden_words"`
	MaxTokens      int      `json:"max_tokens"`
	Temperature    *float64 `json:"temperature,omitempty"`
}

// GenerationContext is everything synthesis needs, assembled per request
// and discarded afterwards.
type GenerationContext struct {
	Topic     Topic            `json:"topic"`
	Persona   Persona          `json:"persona"`
	Retrieved RetrievedContent `json:"retrieved"`
	Config    GenerationConfig `json:"config"`
}

// GeneratedScript is one finished generation attempt, quality-scored.
// Returned to the caller whether or not the gate passed.
type GeneratedScript struct {
	ID                uuid.UUID    `json:"id"`
	ChannelID         string       `json:"channel_id"`
	TopicID           uuid.UUID    `json:"topic_id"`
	Text              string       `json:"text"`
	Hook              string       `json:"hook"`
	Body              string       `json:"body"`
	Conclusion        string       `json:"conclusion"`
	EstimatedDuration float64      `json:"estimated_duration"`
	WordCount         int          `json:"word_count"`
	StyleScore        float64      `json:"style_score"`
	HookScore         float64      `json:"hook_score"`
	ForbiddenWords    []string     `json:"forbidden_words"`
	Passed            bool         `json:"passed"`
	Version           int          `json:"version"`
	Status            ScriptStatus `json:"status"`
	GenerationModel   string       `json:"generation_model"`
	ContextChunksUsed int          `json:"context_chunks_used"`
	CreatedAt         time.Time    `json:"created_at"`
}

// ChunkStore persists and searches content chunks.
type ChunkStore interface {
	UpsertChunk(ctx context.Context, chunk ContentChunk) error
	QueryNearest(ctx context.Context, channelID string, embedding []float32, topK int, filters ChunkFilters) ([]RetrievalResult, error)
	ListChunks(ctx context.Context, channelID string) ([]ContentChunk, error)
}

// PersonaStore reads persona definitions.
type PersonaStore interface {
	GetPersona(ctx context.Context, channelID string) (Persona, error)
}

// TopicStore reads researched topics.
type TopicStore interface {
	GetTopic(ctx context.Context, id uuid.UUID) (Topic, error)
}

// ScriptStore persists generated scripts.
type ScriptStore interface {
	InsertScript(ctx context.Context, script GeneratedScript) error
}

// KeywordSearcher is the lexical retrieval channel.
type KeywordSearcher interface {
	Index(chunk ContentChunk) error
	Search(channelID, query string, topK int) ([]RetrievalResult, error)
}

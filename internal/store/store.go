package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/scriptforge/scriptforge/config"
	"github.com/scriptforge/scriptforge/internal/rag/core"
)

// Store wraps the Postgres connection for chunks, personas, topics and
// generated scripts. Embeddings live in pgvector columns.
type Store struct {
	DB *sql.DB
}

// DefaultEmbeddingDimensions indicates the expected length of semantic vectors stored in pgvector columns.
const DefaultEmbeddingDimensions = 1024

// New constructs the Store from config.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	return NewWithDSN(ctx, cfg.DSN())
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// UpsertChunk stores or replaces a content chunk and its embedding.
func (s *Store) UpsertChunk(ctx context.Context, chunk core.ContentChunk) error {
	if chunk.ChannelID == "" {
		return fmt.Errorf("channel_id required")
	}
	if strings.TrimSpace(chunk.Text) == "" {
		return fmt.Errorf("chunk text required")
	}
	if len(chunk.Embedding) == 0 {
		return fmt.Errorf("embedding vector required")
	}
	vectorLiteral, err := encodeVectorLiteral(chunk.Embedding)
	if err != nil {
		return err
	}
	if chunk.ID == uuid.Nil {
		chunk.ID = uuid.New()
	}
	keywords := chunk.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	var scriptID interface{}
	if chunk.ScriptID != nil {
		scriptID = *chunk.ScriptID
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO content_chunks (id, channel_id, script_id, text, position, content_type, chunk_index,
  is_opinion, is_example, is_analogy, keywords, context_before, context_after,
  embedding, embedding_model, performance_score, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14::vector,$15,$16,NOW())
ON CONFLICT (id) DO UPDATE SET
  text = EXCLUDED.text,
  position = EXCLUDED.position,
  content_type = EXCLUDED.content_type,
  chunk_index = EXCLUDED.chunk_index,
  is_opinion = EXCLUDED.is_opinion,
  is_example = EXCLUDED.is_example,
  is_analogy = EXCLUDED.is_analogy,
  keywords = EXCLUDED.keywords,
  context_before = EXCLUDED.context_before,
  context_after = EXCLUDED.context_after,
  embedding = EXCLUDED.embedding,
  embedding_model = EXCLUDED.embedding_model,
  performance_score = EXCLUDED.performance_score;
`, chunk.ID, chunk.ChannelID, scriptID, chunk.Text, string(chunk.Position), string(chunk.ContentType),
		chunk.ChunkIndex, chunk.IsOpinion, chunk.IsExample, chunk.IsAnalogy, pq.Array(keywords),
		chunk.ContextBefore, chunk.ContextAfter, vectorLiteral, chunk.EmbeddingModel, chunk.PerformanceScore)
	return err
}

// QueryNearest returns the channel's closest chunks to the supplied vector,
// with filters pushed into SQL. Scores are cosine similarity in [0,1].
func (s *Store) QueryNearest(ctx context.Context, channelID string, embedding []float32, topK int, filters core.ChunkFilters) ([]core.RetrievalResult, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if topK <= 0 {
		topK = 5
	}
	vecLiteral, err := encodeVectorLiteral(embedding)
	if err != nil {
		return nil, err
	}

	query := `
SELECT id, channel_id, script_id, text, position, content_type, chunk_index,
  is_opinion, is_example, is_analogy, keywords, context_before, context_after,
  embedding::text, embedding_model, performance_score, created_at,
  embedding <=> $1::vector AS distance
FROM content_chunks
WHERE channel_id = $2`
	args := []interface{}{vecLiteral, channelID}
	addArg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filters.ContentType != "" {
		query += " AND content_type = " + addArg(string(filters.ContentType))
	}
	if filters.Position != "" {
		query += " AND position = " + addArg(string(filters.Position))
	}
	if filters.MinPerformance != nil {
		query += " AND performance_score >= " + addArg(*filters.MinPerformance)
	}
	if filters.OpinionOnly {
		query += " AND is_opinion"
	}
	if filters.ExampleOnly {
		query += " AND is_example"
	}
	if filters.CreatedAfter != nil {
		query += " AND created_at >= " + addArg(*filters.CreatedAfter)
	}
	query += "\nORDER BY embedding <=> $1::vector\nLIMIT " + addArg(topK)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []core.RetrievalResult{}
	for rows.Next() {
		chunk, distance, err := scanChunkWithDistance(rows)
		if err != nil {
			return nil, err
		}
		// Cosine distance spans [0,2]; clamp similarity into [0,1].
		sim := 1 - distance
		if sim < 0 {
			sim = 0
		}
		results = append(results, core.RetrievalResult{Chunk: chunk, Score: sim})
	}
	return results, rows.Err()
}

// ListChunks returns all chunks for a channel, oldest first. Feeds the
// keyword index at startup.
func (s *Store) ListChunks(ctx context.Context, channelID string) ([]core.ContentChunk, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, channel_id, script_id, text, position, content_type, chunk_index,
  is_opinion, is_example, is_analogy, keywords, context_before, context_after,
  embedding::text, embedding_model, performance_score, created_at
FROM content_chunks
WHERE channel_id = $1
ORDER BY created_at ASC, chunk_index ASC
`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chunks := []core.ContentChunk{}
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// ListChannels returns the distinct channel ids present in the chunk
// corpus. Feeds keyword index warm-up at startup.
func (s *Store) ListChannels(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT channel_id FROM content_chunks ORDER BY channel_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	channels := []string{}
	for rows.Next() {
		var ch string
		if err := rows.Scan(&ch); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// GetPersona loads a channel's persona. Style, perspective and examples are
// stored as jsonb documents.
func (s *Store) GetPersona(ctx context.Context, channelID string) (core.Persona, error) {
	var (
		p                                  core.Persona
		styleBytes, perspBytes, exampBytes []byte
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT channel_id, name, tagline, expertise, description, style, perspective, examples
FROM personas
WHERE channel_id = $1
`, channelID).Scan(&p.ChannelID, &p.Name, &p.Tagline, pq.Array(&p.Expertise), &p.Description,
		&styleBytes, &perspBytes, &exampBytes)
	if err != nil {
		return core.Persona{}, fmt.Errorf("load persona for channel %s: %w", channelID, err)
	}
	if len(styleBytes) > 0 {
		if err := json.Unmarshal(styleBytes, &p.Style); err != nil {
			return core.Persona{}, fmt.Errorf("decode persona style: %w", err)
		}
	}
	if len(perspBytes) > 0 {
		if err := json.Unmarshal(perspBytes, &p.Perspective); err != nil {
			return core.Persona{}, fmt.Errorf("decode persona perspective: %w", err)
		}
	}
	if len(exampBytes) > 0 {
		if err := json.Unmarshal(exampBytes, &p.Examples); err != nil {
			return core.Persona{}, fmt.Errorf("decode persona examples: %w", err)
		}
	}
	return p, nil
}

// GetTopic loads a researched topic by id.
func (s *Store) GetTopic(ctx context.Context, id uuid.UUID) (core.Topic, error) {
	var (
		t        core.Topic
		seriesID uuid.NullUUID
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT id, channel_id, title, summary, keywords, categories, series_id, created_at
FROM topics
WHERE id = $1
`, id).Scan(&t.ID, &t.ChannelID, &t.Title, &t.Summary, pq.Array(&t.Keywords),
		pq.Array(&t.Categories), &seriesID, &t.CreatedAt)
	if err != nil {
		return core.Topic{}, fmt.Errorf("load topic %s: %w", id, err)
	}
	if seriesID.Valid {
		t.SeriesID = &seriesID.UUID
	}
	return t, nil
}

// InsertScript persists one generated script (pass or fail).
func (s *Store) InsertScript(ctx context.Context, script core.GeneratedScript) error {
	forbidden := script.ForbiddenWords
	if forbidden == nil {
		forbidden = []string{}
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO generated_scripts (id, channel_id, topic_id, text, hook, body, conclusion,
  estimated_duration, word_count, style_score, hook_score, forbidden_words, passed,
  version, status, generation_model, context_chunks_used, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,NOW())
`, script.ID, script.ChannelID, script.TopicID, script.Text, script.Hook, script.Body,
		script.Conclusion, script.EstimatedDuration, script.WordCount, script.StyleScore,
		script.HookScore, pq.Array(forbidden), script.Passed, script.Version,
		string(script.Status), script.GenerationModel, script.ContextChunksUsed)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChunk(rows rowScanner) (core.ContentChunk, error) {
	var (
		chunk      core.ContentChunk
		scriptID   sql.NullString
		perf       sql.NullFloat64
		vecLiteral string
		position   string
		ctype      string
	)
	if err := rows.Scan(&chunk.ID, &chunk.ChannelID, &scriptID, &chunk.Text, &position, &ctype,
		&chunk.ChunkIndex, &chunk.IsOpinion, &chunk.IsExample, &chunk.IsAnalogy,
		pq.Array(&chunk.Keywords), &chunk.ContextBefore, &chunk.ContextAfter,
		&vecLiteral, &chunk.EmbeddingModel, &perf, &chunk.CreatedAt); err != nil {
		return core.ContentChunk{}, err
	}
	return finishChunk(chunk, scriptID, perf, vecLiteral, position, ctype)
}

func scanChunkWithDistance(rows rowScanner) (core.ContentChunk, float64, error) {
	var (
		chunk      core.ContentChunk
		scriptID   sql.NullString
		perf       sql.NullFloat64
		vecLiteral string
		position   string
		ctype      string
		distance   float64
	)
	if err := rows.Scan(&chunk.ID, &chunk.ChannelID, &scriptID, &chunk.Text, &position, &ctype,
		&chunk.ChunkIndex, &chunk.IsOpinion, &chunk.IsExample, &chunk.IsAnalogy,
		pq.Array(&chunk.Keywords), &chunk.ContextBefore, &chunk.ContextAfter,
		&vecLiteral, &chunk.EmbeddingModel, &perf, &chunk.CreatedAt, &distance); err != nil {
		return core.ContentChunk{}, 0, err
	}
	chunk, err := finishChunk(chunk, scriptID, perf, vecLiteral, position, ctype)
	return chunk, distance, err
}

func finishChunk(chunk core.ContentChunk, scriptID sql.NullString, perf sql.NullFloat64, vecLiteral, position, ctype string) (core.ContentChunk, error) {
	chunk.Position = core.ChunkPosition(position)
	chunk.ContentType = core.ContentType(ctype)
	if perf.Valid {
		v := perf.Float64
		chunk.PerformanceScore = &v
	}
	if scriptID.Valid {
		id, err := uuid.Parse(scriptID.String)
		if err != nil {
			return core.ContentChunk{}, fmt.Errorf("parse script_id: %w", err)
		}
		chunk.ScriptID = &id
	}
	if chunk.Keywords == nil {
		chunk.Keywords = []string{}
	}
	vec, err := decodeVectorLiteral(vecLiteral)
	if err != nil {
		return core.ContentChunk{}, err
	}
	chunk.Embedding = vec
	return chunk, nil
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}

func decodeVectorLiteral(lit string) ([]float32, error) {
	lit = strings.TrimSpace(lit)
	if lit == "" {
		return nil, fmt.Errorf("empty vector literal")
	}
	lit = strings.TrimPrefix(lit, "[")
	lit = strings.TrimSuffix(lit, "]")
	parts := strings.Split(lit, ",")
	vec := make([]float32, 0, len(parts))
	for _, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector component %q: %w", part, err)
		}
		vec = append(vec, float32(f))
	}
	return vec, nil
}

var _ interface {
	core.ChunkStore
	core.PersonaStore
	core.TopicStore
	core.ScriptStore
} = (*Store)(nil)

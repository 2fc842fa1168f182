package store

import (
	"context"
	"fmt"
	"math"
	"os"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/scriptforge/scriptforge/internal/rag/core"
)

// TestStore spins up a throwaway pgvector Postgres in Docker. Set
// SCRIPTFORGE_IT=1 to run it.
func TestStore(t *testing.T) {
	if os.Getenv("SCRIPTFORGE_IT") == "" {
		t.Skip("set SCRIPTFORGE_IT=1 to run store integration tests")
	}

	ctx := context.Background()
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "pgvector/pgvector:pg16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "scriptforge",
				"POSTGRES_PASSWORD": "scriptforge",
				"POSTGRES_DB":       "scriptforge_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(ctx) })

	host, err := ctr.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://scriptforge:scriptforge@%s:%s/scriptforge_test?sslmode=disable", host, port.Port())

	m, err := migrate.New("file://../../migrations", dsn)
	if err != nil {
		t.Fatalf("migrate.New: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("migrate up: %v", err)
	}

	st, err := NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("NewWithDSN: %v", err)
	}
	defer st.DB.Close()

	t.Run("personas and topics", func(t *testing.T) { testPersonaAndTopic(ctx, t, st) })
	t.Run("chunks", func(t *testing.T) { testChunks(ctx, t, st) })
	t.Run("scripts", func(t *testing.T) { testScripts(ctx, t, st) })
}

func testPersonaAndTopic(ctx context.Context, t *testing.T, st *Store) {
	_, err := st.DB.ExecContext(ctx, `
INSERT INTO personas (channel_id, name, tagline, expertise, description, style, perspective, examples)
VALUES ('chan-1', 'Dev Sharp', 'no-nonsense dev takes', ARRAY['go','infra'], 'a blunt backend engineer',
  '{"tone":"direct","formality":"casual","connectors":["that said"],"avoid_words":["synergy"]}',
  '{"values":["simplicity"]}',
  '{"good_scripts":["keep it short"]}')
`)
	if err != nil {
		t.Fatalf("seed persona: %v", err)
	}

	p, err := st.GetPersona(ctx, "chan-1")
	if err != nil {
		t.Fatalf("GetPersona: %v", err)
	}
	if p.Name != "Dev Sharp" || p.Style.Tone != "direct" {
		t.Fatalf("persona round-trip: %+v", p)
	}
	if len(p.Style.AvoidWords) != 1 || p.Style.AvoidWords[0] != "synergy" {
		t.Fatalf("style jsonb not decoded: %+v", p.Style)
	}
	if len(p.Perspective.Values) != 1 || p.Perspective.Values[0] != "simplicity" {
		t.Fatalf("perspective jsonb not decoded: %+v", p.Perspective)
	}

	if _, err := st.GetPersona(ctx, "missing"); err == nil {
		t.Fatalf("missing persona must error")
	}

	topicID := uuid.New()
	_, err = st.DB.ExecContext(ctx, `
INSERT INTO topics (id, channel_id, title, summary, keywords, categories)
VALUES ($1, 'chan-1', 'AI coding tools', 'what changed this year', ARRAY['agents'], ARRAY['dev'])
`, topicID)
	if err != nil {
		t.Fatalf("seed topic: %v", err)
	}
	topic, err := st.GetTopic(ctx, topicID)
	if err != nil {
		t.Fatalf("GetTopic: %v", err)
	}
	if topic.Title != "AI coding tools" || topic.ChannelID != "chan-1" {
		t.Fatalf("topic round-trip: %+v", topic)
	}
	if topic.SeriesID != nil {
		t.Fatalf("null series_id must stay nil")
	}
}

func testChunks(ctx context.Context, t *testing.T, st *Store) {
	perf := 0.8
	a := testChunk("chan-1", basisVector(0), func(c *core.ContentChunk) {
		c.Position = core.PositionHook
		c.PerformanceScore = &perf
	})
	b := testChunk("chan-1", basisVector(1), func(c *core.ContentChunk) { c.IsOpinion = true })
	other := testChunk("chan-2", basisVector(0), nil)

	for _, chunk := range []core.ContentChunk{a, b, other} {
		if err := st.UpsertChunk(ctx, chunk); err != nil {
			t.Fatalf("UpsertChunk: %v", err)
		}
	}

	results, err := st.QueryNearest(ctx, "chan-1", basisVector(0), 10, core.ChunkFilters{})
	if err != nil {
		t.Fatalf("QueryNearest: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 chunks for chan-1, got %d", len(results))
	}
	if results[0].Chunk.ID != a.ID {
		t.Fatalf("nearest chunk should come first")
	}
	if math.Abs(results[0].Score-1) > 1e-6 {
		t.Fatalf("identical vector should score ~1, got %v", results[0].Score)
	}
	if results[1].Score < 0 || results[1].Score > 1 {
		t.Fatalf("similarity out of bounds: %v", results[1].Score)
	}
	if len(results[0].Chunk.Embedding) != DefaultEmbeddingDimensions {
		t.Fatalf("embedding not decoded, got %d dims", len(results[0].Chunk.Embedding))
	}
	if results[0].Chunk.PerformanceScore == nil || *results[0].Chunk.PerformanceScore != perf {
		t.Fatalf("performance score lost in round-trip")
	}

	opinions, err := st.QueryNearest(ctx, "chan-1", basisVector(0), 10, core.ChunkFilters{OpinionOnly: true})
	if err != nil {
		t.Fatalf("QueryNearest opinions: %v", err)
	}
	if len(opinions) != 1 || opinions[0].Chunk.ID != b.ID {
		t.Fatalf("opinion filter: got %d results", len(opinions))
	}

	minPerf := 0.5
	hooks, err := st.QueryNearest(ctx, "chan-1", basisVector(0), 10, core.ChunkFilters{
		Position:       core.PositionHook,
		MinPerformance: &minPerf,
	})
	if err != nil {
		t.Fatalf("QueryNearest hooks: %v", err)
	}
	if len(hooks) != 1 || hooks[0].Chunk.ID != a.ID {
		t.Fatalf("hook filter: got %d results", len(hooks))
	}

	// Upsert with the same id replaces, not duplicates.
	a.Text = "updated hook text"
	if err := st.UpsertChunk(ctx, a); err != nil {
		t.Fatalf("re-UpsertChunk: %v", err)
	}
	chunks, err := st.ListChunks(ctx, "chan-1")
	if err != nil {
		t.Fatalf("ListChunks: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("upsert duplicated the chunk: %d rows", len(chunks))
	}
	for _, chunk := range chunks {
		if chunk.ID == a.ID && chunk.Text != "updated hook text" {
			t.Fatalf("upsert did not replace the text")
		}
	}
}

func testScripts(ctx context.Context, t *testing.T, st *Store) {
	topicID := uuid.New()
	_, err := st.DB.ExecContext(ctx, `
INSERT INTO topics (id, channel_id, title, summary, keywords, categories)
VALUES ($1, 'chan-1', 'script topic', '', ARRAY[]::text[], ARRAY[]::text[])
`, topicID)
	if err != nil {
		t.Fatalf("seed topic: %v", err)
	}

	script := core.GeneratedScript{
		ID:                uuid.New(),
		ChannelID:         "chan-1",
		TopicID:           topicID,
		Text:              "full script",
		Hook:              "the hook",
		Body:              "the body",
		Conclusion:        "the end",
		EstimatedDuration: 52.4,
		WordCount:         131,
		StyleScore:        0.82,
		HookScore:         0.7,
		Passed:            true,
		Version:           1,
		Status:            core.StatusGenerated,
		GenerationModel:   "gpt-test",
		ContextChunksUsed: 3,
	}
	if err := st.InsertScript(ctx, script); err != nil {
		t.Fatalf("InsertScript: %v", err)
	}

	var passed bool
	var version int
	err = st.DB.QueryRowContext(ctx,
		`SELECT passed, version FROM generated_scripts WHERE id = $1`, script.ID).Scan(&passed, &version)
	if err != nil {
		t.Fatalf("read back script: %v", err)
	}
	if !passed || version != 1 {
		t.Fatalf("script round-trip: passed=%v version=%d", passed, version)
	}
}

func testChunk(channelID string, embedding []float32, mutate func(*core.ContentChunk)) core.ContentChunk {
	chunk := core.ContentChunk{
		ID:          uuid.New(),
		ChannelID:   channelID,
		Text:        "a chunk of a past script",
		Position:    core.PositionBody,
		ContentType: core.ContentScript,
		Keywords:    []string{"test"},
		Embedding:   embedding,
	}
	if mutate != nil {
		mutate(&chunk)
	}
	return chunk
}

func basisVector(axis int) []float32 {
	vec := make([]float32, DefaultEmbeddingDimensions)
	vec[axis%DefaultEmbeddingDimensions] = 1
	return vec
}

func TestVectorLiteralRoundTrip(t *testing.T) {
	t.Parallel()
	in := []float32{0.25, -1.5, 0, 3.75}
	lit, err := encodeVectorLiteral(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if lit != "[0.25,-1.5,0,3.75]" {
		t.Fatalf("literal = %q", lit)
	}
	out, err := decodeVectorLiteral(lit)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length mismatch")
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("component %d: %v != %v", i, out[i], in[i])
		}
	}
	if _, err := encodeVectorLiteral(nil); err == nil {
		t.Fatalf("empty vector must error")
	}
	if _, err := decodeVectorLiteral("[1,abc]"); err == nil {
		t.Fatalf("garbage literal must error")
	}
}

package generate

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scriptforge/scriptforge/config"
	"github.com/scriptforge/scriptforge/internal/rag/chunker"
	"github.com/scriptforge/scriptforge/internal/rag/contextbuild"
	"github.com/scriptforge/scriptforge/internal/rag/core"
	"github.com/scriptforge/scriptforge/internal/rag/embedder"
)

// CompletionFunc is the narrow LLM surface synthesis needs.
type CompletionFunc func(ctx context.Context, prompt, model string, maxTokens int, temperature float64) (string, error)

// Generator runs the quality-gated generation loop: build context once,
// then synthesize, post-process and gate up to 1+MaxRetries times.
type Generator struct {
	contexts  *contextbuild.Builder
	chunker   *chunker.Chunker
	embedder  *embedder.Embedder
	chunks    core.ChunkStore
	scripts   core.ScriptStore
	keyword   core.KeywordSearcher
	complete  CompletionFunc
	synModel  string
	replModel string
	genCfg    config.GenerateConfig
	quality   *QualityChecker
	qualCfg   config.QualityConfig
	logger    *log.Logger
}

func New(
	contexts *contextbuild.Builder,
	chk *chunker.Chunker,
	emb *embedder.Embedder,
	chunks core.ChunkStore,
	scripts core.ScriptStore,
	keyword core.KeywordSearcher,
	complete CompletionFunc,
	synthesisModel, replacementModel string,
	genCfg config.GenerateConfig,
	qualCfg config.QualityConfig,
	logger *log.Logger,
) *Generator {
	if logger == nil {
		logger = log.New(log.Writer(), "[GENERATE] ", log.LstdFlags)
	}
	return &Generator{
		contexts:  contexts,
		chunker:   chk,
		embedder:  emb,
		chunks:    chunks,
		scripts:   scripts,
		keyword:   keyword,
		complete:  complete,
		synModel:  synthesisModel,
		replModel: replacementModel,
		genCfg:    genCfg.Normalize(),
		quality:   NewQualityChecker(qualCfg),
		qualCfg:   qualCfg.Normalize(),
		logger:    logger,
	}
}

// Generate produces a script for the topic. The context is built once and
// shared across attempts. When every attempt fails the gate, the last
// attempt is returned with Passed=false; that is not an error. Only total
// synthesis failure returns core.ErrGenerationFailure.
func (g *Generator) Generate(ctx context.Context, topic core.Topic, overrides core.GenerationConfig) (core.GeneratedScript, error) {
	cfg := g.resolveConfig(overrides)

	gctx, err := g.contexts.Build(ctx, topic, cfg)
	if err != nil {
		return core.GeneratedScript{}, fmt.Errorf("build context: %w", err)
	}
	prompt := BuildPrompt(gctx)

	maxAttempts := g.genCfg.MaxRetries + 1
	var (
		last    core.GeneratedScript
		haveAny bool
		lastErr error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		script, err := g.attempt(ctx, gctx, prompt, cfg, attempt)
		if err != nil {
			// Synthesis failure consumes the attempt.
			g.logger.Printf("attempt %d/%d synthesis failed: %v", attempt, maxAttempts, err)
			lastErr = err
			continue
		}
		last = script
		haveAny = true
		if script.Passed {
			g.logger.Printf("attempt %d/%d passed quality gate (style=%.2f hook=%.2f)",
				attempt, maxAttempts, script.StyleScore, script.HookScore)
			break
		}
		g.logger.Printf("attempt %d/%d failed quality gate (style=%.2f hook=%.2f forbidden=%d)",
			attempt, maxAttempts, script.StyleScore, script.HookScore, len(script.ForbiddenWords))
	}

	if !haveAny {
		return core.GeneratedScript{}, fmt.Errorf("%w: %v", core.ErrGenerationFailure, lastErr)
	}

	if err := g.persist(ctx, last); err != nil {
		return core.GeneratedScript{}, fmt.Errorf("persist script: %w", err)
	}
	return last, nil
}

func (g *Generator) resolveConfig(overrides core.GenerationConfig) core.GenerationConfig {
	cfg := overrides
	if cfg.Format == "" {
		cfg.Format = g.genCfg.Format
	}
	if cfg.TargetDuration <= 0 {
		cfg.TargetDuration = g.genCfg.TargetDuration
	}
	if cfg.Style == "" {
		cfg.Style = g.genCfg.Style
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = g.genCfg.MaxTokens
	}
	if cfg.Temperature == nil {
		cfg.Temperature = g.genCfg.Temperature
	}
	return cfg
}

// attempt is one pass of SYNTHESIZE -> POST_PROCESS -> QUALITY_CHECK.
func (g *Generator) attempt(ctx context.Context, gctx core.GenerationContext, prompt string, cfg core.GenerationConfig, attempt int) (core.GeneratedScript, error) {
	text, err := g.complete(ctx, prompt, g.synModel, cfg.MaxTokens, *cfg.Temperature)
	if err != nil {
		return core.GeneratedScript{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return core.GeneratedScript{}, fmt.Errorf("empty synthesis response")
	}

	text = g.postProcess(ctx, text, gctx, cfg)

	hook, body, conclusion := ParseSections(text)
	result := g.quality.Check(text, hook, gctx.Persona, cfg.ForbiddenWords)

	return core.GeneratedScript{
		ID:                uuid.New(),
		ChannelID:         gctx.Topic.ChannelID,
		TopicID:           gctx.Topic.ID,
		Text:              text,
		Hook:              hook,
		Body:              body,
		Conclusion:        conclusion,
		EstimatedDuration: result.EstimatedDuration,
		WordCount:         result.WordCount,
		StyleScore:        result.StyleScore,
		HookScore:         result.HookScore,
		ForbiddenWords:    result.ForbiddenWords,
		Passed:            result.Passed,
		Version:           attempt,
		Status:            core.StatusGenerated,
		GenerationModel:   g.synModel,
		ContextChunksUsed: len(gctx.Retrieved.Similar),
		CreatedAt:         time.Now().UTC(),
	}, nil
}

// postProcess runs the best-effort forbidden-word replacement pass and
// trims over-long scripts toward the target duration.
func (g *Generator) postProcess(ctx context.Context, text string, gctx core.GenerationContext, cfg core.GenerationConfig) string {
	forbidden := FindForbiddenWords(text, append(gctx.Persona.Style.AvoidWords, cfg.ForbiddenWords...))
	if len(forbidden) > 0 && g.complete != nil {
		replaced, err := g.complete(ctx,
			fmt.Sprintf(replacementPrompt, strings.Join(forbidden, ", "), text),
			g.replModel, cfg.MaxTokens, 0.3)
		if err != nil {
			g.logger.Printf("forbidden-word replacement failed, keeping original: %v", err)
		} else if replaced = strings.TrimSpace(replaced); replaced != "" {
			text = replaced
		}
	}

	if EstimateDuration(text) > float64(g.qualCfg.MaxDuration) {
		text = TrimToDuration(text, float64(cfg.TargetDuration))
	}
	return text
}

// persist saves the script, then re-chunks, embeds and indexes it so the
// next generation can retrieve from it.
func (g *Generator) persist(ctx context.Context, script core.GeneratedScript) error {
	if err := g.scripts.InsertScript(ctx, script); err != nil {
		return err
	}

	chunks := g.chunker.ChunkScript(ctx, script.Text, script.ChannelID, &script.ID, core.ContentScript)
	if len(chunks) == 0 {
		return nil
	}
	if err := g.embedder.EmbedChunks(ctx, chunks); err != nil {
		return err
	}
	for _, chunk := range chunks {
		if err := g.chunks.UpsertChunk(ctx, chunk); err != nil {
			return err
		}
		if err := g.keyword.Index(chunk); err != nil {
			g.logger.Printf("keyword index update failed for chunk %s: %v", chunk.ID, err)
		}
	}
	return nil
}

var sectionSplitRe = regexp.MustCompile(`[.!?]+\s+`)

// ParseSections splits a script into hook, body and conclusion using the
// same sentence proportions the chunker uses.
func ParseSections(text string) (hook, body, conclusion string) {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return "", "", ""
	}
	hookCount, conclusionCount := sectionCounts(len(sentences))
	bodyEnd := len(sentences) - conclusionCount

	hook = strings.Join(sentences[:hookCount], " ")
	body = strings.Join(sentences[hookCount:bodyEnd], " ")
	conclusion = strings.Join(sentences[bodyEnd:], " ")
	return
}

// sectionCounts returns how many sentences of n belong to the hook and
// the conclusion.
func sectionCounts(n int) (hookCount, conclusionCount int) {
	if n <= 3 {
		hookCount = 1
		if n > 1 {
			conclusionCount = 1
		}
		return
	}
	return clamp(n/7, 1, 3), clamp(n/10, 1, 2)
}

// TrimToDuration drops sentences from the end of the body, never the hook
// or conclusion, until the duration estimate fits the target. Sentences
// keep their terminators, so the result reads as the input minus trailing
// body sentences.
func TrimToDuration(text string, targetSeconds float64) string {
	sentences := splitSentencesKeep(text)
	if len(sentences) == 0 {
		return text
	}
	hookCount, conclusionCount := sectionCounts(len(sentences))
	bodyEnd := len(sentences) - conclusionCount
	hook := sentences[:hookCount]
	body := sentences[hookCount:bodyEnd]
	conclusion := sentences[bodyEnd:]

	assemble := func(bodyParts []string) string {
		parts := make([]string, 0, len(hook)+len(bodyParts)+len(conclusion))
		parts = append(parts, hook...)
		parts = append(parts, bodyParts...)
		parts = append(parts, conclusion...)
		return strings.Join(parts, " ")
	}

	for len(body) > 0 {
		candidate := assemble(body)
		if EstimateDuration(candidate) <= targetSeconds {
			return candidate
		}
		body = body[:len(body)-1]
	}
	return assemble(nil)
}

func splitSentences(text string) []string {
	parts := sectionSplitRe.Split(strings.TrimSpace(text), -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentencesKeep slices the text into sentences with their terminating
// punctuation intact.
func splitSentencesKeep(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	out := []string{}
	start := 0
	for _, loc := range sectionSplitRe.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start:loc[1]]); s != "" {
			out = append(out, s)
		}
		start = loc[1]
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

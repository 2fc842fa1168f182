package chunker

import (
	"context"
	"log"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/scriptforge/scriptforge/config"
	"github.com/scriptforge/scriptforge/internal/rag/core"
)

// Chunker splits scripts into hook/body/conclusion chunks and tags each
// chunk with its characteristics.
type Chunker struct {
	cfg        config.ChunkingConfig
	classifier *Classifier
	logger     *log.Logger

	opinionRes []*regexp.Regexp
	exampleRes []*regexp.Regexp
	analogyRes []*regexp.Regexp
}

// New builds a Chunker. classifier may be nil; characteristics then come
// from patterns only.
func New(cfg config.ChunkingConfig, classifier *Classifier, logger *log.Logger) *Chunker {
	cfg = cfg.Normalize()
	if logger == nil {
		logger = log.New(log.Writer(), "[CHUNKER] ", log.LstdFlags)
	}
	return &Chunker{
		cfg:        cfg,
		classifier: classifier,
		logger:     logger,
		opinionRes: compilePatterns(cfg.OpinionPatterns),
		exampleRes: compilePatterns(cfg.ExamplePatterns),
		analogyRes: compilePatterns(cfg.AnalogyPatterns),
	}
}

func compilePatterns(patterns []string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			continue
		}
		res = append(res, re)
	}
	return res
}

// ChunkScript splits a script into structural chunks. Embeddings are left
// empty; the embedder fills them before persistence.
func (c *Chunker) ChunkScript(ctx context.Context, text, channelID string, scriptID *uuid.UUID, contentType core.ContentType) []core.ContentChunk {
	hook, body, conclusion := c.identifySections(text)

	chunks := []core.ContentChunk{}
	index := 0

	if hook != "" {
		chunk := c.newChunk(ctx, hook, channelID, scriptID, contentType, index, core.PositionHook)
		if body != "" {
			chunk.ContextAfter = summarize(firstN(body, 200), 100)
		}
		chunks = append(chunks, chunk)
		index++
	}

	if body != "" {
		bodyParts := c.splitBody(body)
		for i, part := range bodyParts {
			chunk := c.newChunk(ctx, part, channelID, scriptID, contentType, index, core.PositionBody)
			switch {
			case i == 0 && hook != "":
				chunk.ContextBefore = summarize(hook, 100)
			case i > 0:
				chunk.ContextBefore = summarize(firstN(bodyParts[i-1], 200), 100)
			}
			switch {
			case i < len(bodyParts)-1:
				chunk.ContextAfter = summarize(firstN(bodyParts[i+1], 200), 100)
			case conclusion != "":
				chunk.ContextAfter = summarize(conclusion, 100)
			}
			chunks = append(chunks, chunk)
			index++
		}
	}

	if conclusion != "" {
		chunk := c.newChunk(ctx, conclusion, channelID, scriptID, contentType, index, core.PositionConclusion)
		if body != "" {
			chunk.ContextBefore = summarize(lastN(body, 200), 100)
		}
		chunks = append(chunks, chunk)
	}

	c.logger.Printf("chunked script into %d chunks (channel=%s)", len(chunks), channelID)
	return chunks
}

func (c *Chunker) newChunk(ctx context.Context, text, channelID string, scriptID *uuid.UUID, contentType core.ContentType, index int, position core.ChunkPosition) core.ContentChunk {
	isOpinion, isExample, isAnalogy := c.classify(ctx, text)
	return core.ContentChunk{
		ID:          uuid.New(),
		ChannelID:   channelID,
		ScriptID:    scriptID,
		Text:        text,
		Position:    position,
		ContentType: contentType,
		ChunkIndex:  index,
		IsOpinion:   isOpinion,
		IsExample:   isExample,
		IsAnalogy:   isAnalogy,
		Keywords:    ExtractKeywords(text),
	}
}

// classify runs the pattern matchers and, when configured, lets the LLM
// classifier override them. Classifier failure keeps the pattern results.
func (c *Chunker) classify(ctx context.Context, text string) (isOpinion, isExample, isAnalogy bool) {
	isOpinion = matchAny(c.opinionRes, text)
	isExample = matchAny(c.exampleRes, text)
	isAnalogy = matchAny(c.analogyRes, text)

	if c.cfg.UseLLMClassification && c.classifier != nil {
		res, err := c.classifier.Classify(ctx, text)
		if err != nil {
			c.logger.Printf("llm classification failed, keeping pattern results: %v", err)
			return
		}
		isOpinion = res.IsOpinion
		isExample = res.IsExample
		isAnalogy = res.IsAnalogy
	}
	return
}

func matchAny(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// identifySections returns (hook, body, conclusion). Every sentence of the
// input lands in exactly one section.
func (c *Chunker) identifySections(text string) (string, string, string) {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return "", "", ""
	}
	if len(sentences) <= 3 {
		hook := sentences[0]
		conclusion := ""
		body := ""
		if len(sentences) > 1 {
			conclusion = sentences[len(sentences)-1]
		}
		if len(sentences) == 3 {
			body = sentences[1]
		}
		return hook, body, conclusion
	}

	hookCount := len(sentences) / 7
	if hookCount < 1 {
		hookCount = 1
	}
	if hookCount > 3 {
		hookCount = 3
	}
	conclusionCount := len(sentences) / 10
	if conclusionCount < 1 {
		conclusionCount = 1
	}
	if conclusionCount > 2 {
		conclusionCount = 2
	}

	hook := strings.Join(sentences[:hookCount], " ")
	body := strings.Join(sentences[hookCount:len(sentences)-conclusionCount], " ")
	conclusion := strings.Join(sentences[len(sentences)-conclusionCount:], " ")
	return hook, body, conclusion
}

// splitBody splits an over-long body at paragraph boundaries, bounded by
// the configured token budget (1 token ~= 0.75 words).
func (c *Chunker) splitBody(body string) []string {
	words := strings.Fields(body)
	maxWords := int(float64(c.cfg.MaxChunkTokens) * 0.75)
	if maxWords <= 0 {
		maxWords = 150
	}
	if len(words) <= maxWords {
		return []string{body}
	}

	paragraphs := strings.Split(body, "\n\n")
	var (
		chunks       []string
		current      []string
		currentWords int
	)
	for _, para := range paragraphs {
		paraWords := len(strings.Fields(para))
		if currentWords+paraWords > maxWords && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n\n"))
			current = nil
			currentWords = 0
		}
		current = append(current, para)
		currentWords += paraWords
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, "\n\n"))
	}
	if len(chunks) <= 1 {
		// Single paragraph longer than the budget: split on word windows.
		return splitWords(words, maxWords)
	}
	return chunks
}

func splitWords(words []string, maxWords int) []string {
	var chunks []string
	for start := 0; start < len(words); start += maxWords {
		end := start + maxWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks
}

var sentenceSplitRe = regexp.MustCompile(`[.!?]+\s+`)

func splitSentences(text string) []string {
	parts := sentenceSplitRe.Split(strings.TrimSpace(text), -1)
	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			sentences = append(sentences, p)
		}
	}
	return sentences
}

var keywordCleanRe = regexp.MustCompile(`[^\p{L}\p{N}]`)

// ExtractKeywords pulls likely proper nouns: capitalized words past the
// sentence start, plus CJK words of 3+ runes. At most 10, deduped, order
// preserved. Never nil.
func ExtractKeywords(text string) []string {
	words := strings.Fields(text)
	seen := map[string]bool{}
	keywords := []string{}
	for i, word := range words {
		clean := keywordCleanRe.ReplaceAllString(word, "")
		if clean == "" {
			continue
		}
		runes := []rune(clean)
		capitalized := i > 0 && runes[0] >= 'A' && runes[0] <= 'Z'
		cjk := len(runes) >= 3 && hasHangul(runes)
		if !capitalized && !cjk {
			continue
		}
		if seen[clean] {
			continue
		}
		seen[clean] = true
		keywords = append(keywords, clean)
		if len(keywords) >= 10 {
			break
		}
	}
	return keywords
}

func hasHangul(runes []rune) bool {
	for _, r := range runes {
		if r >= 0x3131 && r <= 0xD7A3 {
			return true
		}
	}
	return false
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// summarize truncates at a sentence boundary when one falls past the
// midpoint, otherwise hard-truncates with an ellipsis.
func summarize(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	truncated := text[:maxLen]
	lastStop := -1
	for _, stop := range []string{".", "!", "?"} {
		if idx := strings.LastIndex(truncated, stop); idx > lastStop {
			lastStop = idx
		}
	}
	if lastStop > maxLen/2 {
		return truncated[:lastStop+1]
	}
	return truncated + "..."
}

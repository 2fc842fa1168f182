package generate

import (
	"regexp"
	"strings"

	"github.com/scriptforge/scriptforge/config"
	"github.com/scriptforge/scriptforge/internal/rag/core"
)

// QualityResult holds the quality metrics for one generation attempt.
type QualityResult struct {
	Passed            bool
	StyleScore        float64
	HookScore         float64
	ForbiddenWords    []string
	WordCount         int
	EstimatedDuration float64
}

// QualityChecker scores generated scripts against the persona and the
// configured gates.
type QualityChecker struct {
	cfg config.QualityConfig
}

func NewQualityChecker(cfg config.QualityConfig) *QualityChecker {
	return &QualityChecker{cfg: cfg.Normalize()}
}

// wordsPerMinute is the speech rate used for duration estimates.
const wordsPerMinute = 150.0

// Check scores a script. The gate passes when style >= min_style_score AND
// hook >= min_hook_score AND residual forbidden words <= max_forbidden.
func (q *QualityChecker) Check(scriptText, hookText string, persona core.Persona, extraForbidden []string) QualityResult {
	wordCount := len(strings.Fields(scriptText))
	styleScore := StyleScore(scriptText, persona)
	hookScore := HookScore(hookText)
	forbidden := FindForbiddenWords(scriptText, append(persona.Style.AvoidWords, extraForbidden...))

	return QualityResult{
		Passed: styleScore >= q.cfg.MinStyleScore &&
			hookScore >= q.cfg.MinHookScore &&
			len(forbidden) <= q.cfg.MaxForbiddenWords,
		StyleScore:        styleScore,
		HookScore:         hookScore,
		ForbiddenWords:    forbidden,
		WordCount:         wordCount,
		EstimatedDuration: EstimateDuration(scriptText),
	}
}

// EstimateDuration returns the spoken length in seconds at 150 wpm.
func EstimateDuration(text string) float64 {
	return float64(len(strings.Fields(text))) / wordsPerMinute * 60
}

// StyleScore is a persona-consistency heuristic: base 0.7, plus credit for
// the persona's connectors and sentence endings, minus a penalty for avoid
// words. Clamped to [0,1].
func StyleScore(text string, persona core.Persona) float64 {
	score := 0.7
	lower := strings.ToLower(text)

	if n := len(persona.Style.Connectors); n > 0 {
		found := 0
		for _, c := range persona.Style.Connectors {
			if strings.Contains(lower, strings.ToLower(c)) {
				found++
			}
		}
		score += 0.1 * float64(found) / float64(n)
	}
	if n := len(persona.Style.SentenceEndings); n > 0 {
		found := 0
		for _, e := range persona.Style.SentenceEndings {
			if strings.Contains(lower, strings.ToLower(e)) {
				found++
			}
		}
		score += 0.1 * float64(found) / float64(n)
	}
	if n := len(persona.Style.AvoidWords); n > 0 {
		found := 0
		for _, w := range persona.Style.AvoidWords {
			if strings.Contains(lower, strings.ToLower(w)) {
				found++
			}
		}
		if found > 0 {
			score -= 0.2 * float64(found) / float64(n)
		}
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

var digitRe = regexp.MustCompile(`\d+`)

var surprisingPatterns = []string{
	"you won't believe",
	"surprising",
	"shocking",
	"what if",
	"imagine",
	"놀랍게도",
	"믿기 힘들지만",
	"만약",
}

// HookScore is an attention heuristic: base 0.5, plus credit for a
// question, a surprise pattern, a concrete number, and punchy length (3-15
// words). Capped at 1; empty hooks score 0.
func HookScore(hook string) float64 {
	if strings.TrimSpace(hook) == "" {
		return 0
	}
	score := 0.5
	lower := strings.ToLower(hook)

	if strings.Contains(hook, "?") {
		score += 0.2
	}
	for _, pattern := range surprisingPatterns {
		if strings.Contains(lower, pattern) {
			score += 0.15
			break
		}
	}
	if digitRe.MatchString(hook) {
		score += 0.1
	}
	if wc := len(strings.Fields(hook)); wc >= 3 && wc <= 15 {
		score += 0.15
	}

	if score > 1 {
		return 1
	}
	return score
}

// FindForbiddenWords returns the forbidden words present in the text,
// case-insensitive, deduped, in the order the word list gives them.
func FindForbiddenWords(text string, forbidden []string) []string {
	lower := strings.ToLower(text)
	seen := map[string]bool{}
	found := []string{}
	for _, word := range forbidden {
		w := strings.ToLower(strings.TrimSpace(word))
		if w == "" || seen[w] {
			continue
		}
		if strings.Contains(lower, w) {
			seen[w] = true
			found = append(found, word)
		}
	}
	return found
}

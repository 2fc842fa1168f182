package generate

import (
	"fmt"
	"strings"

	"github.com/scriptforge/scriptforge/internal/rag/core"
)

// BuildPrompt renders the persona-aware synthesis prompt from the
// generation context.
func BuildPrompt(gctx core.GenerationContext) string {
	var sb strings.Builder
	persona := gctx.Persona
	topic := gctx.Topic
	cfg := gctx.Config

	sb.WriteString("You are writing a video script in the voice of a specific creator.\n\n")

	sb.WriteString("## Persona\n")
	fmt.Fprintf(&sb, "Name: %s\n", persona.Name)
	if persona.Tagline != "" {
		fmt.Fprintf(&sb, "Tagline: %s\n", persona.Tagline)
	}
	if persona.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", persona.Description)
	}
	if len(persona.Expertise) > 0 {
		fmt.Fprintf(&sb, "Expertise: %s\n", strings.Join(persona.Expertise, ", "))
	}
	if persona.Style.Tone != "" {
		fmt.Fprintf(&sb, "Tone: %s (%s)\n", persona.Style.Tone, persona.Style.Formality)
	}
	if len(persona.Style.Connectors) > 0 {
		fmt.Fprintf(&sb, "Preferred connectors: %s\n", strings.Join(persona.Style.Connectors, ", "))
	}
	if len(persona.Style.SentenceEndings) > 0 {
		fmt.Fprintf(&sb, "Typical sentence endings: %s\n", strings.Join(persona.Style.SentenceEndings, ", "))
	}
	if len(persona.Style.AvoidWords) > 0 {
		fmt.Fprintf(&sb, "NEVER use these words: %s\n", strings.Join(persona.Style.AvoidWords, ", "))
	}
	if len(persona.Perspective.Values) > 0 {
		fmt.Fprintf(&sb, "Values: %s\n", strings.Join(persona.Perspective.Values, ", "))
	}
	if len(persona.Perspective.Contrarian) > 0 {
		fmt.Fprintf(&sb, "Contrarian takes: %s\n", strings.Join(persona.Perspective.Contrarian, ", "))
	}

	sb.WriteString("\n## Topic\n")
	fmt.Fprintf(&sb, "Title: %s\n", topic.Title)
	if topic.Summary != "" {
		fmt.Fprintf(&sb, "Summary: %s\n", topic.Summary)
	}
	if len(topic.Keywords) > 0 {
		fmt.Fprintf(&sb, "Keywords: %s\n", strings.Join(topic.Keywords, ", "))
	}

	writeBucket(&sb, "Similar past content (match this voice)", gctx.Retrieved.Similar)
	writeBucket(&sb, "The creator's opinions on related subjects", gctx.Retrieved.Opinions)
	writeBucket(&sb, "Examples the creator has used", gctx.Retrieved.Examples)
	writeBucket(&sb, "High-performing hooks (model the opening on these)", gctx.Retrieved.Hooks)

	format := "long-form video"
	if cfg.Format == "shorts" {
		format = "YouTube Shorts"
	}
	sb.WriteString("\n## Task\n")
	fmt.Fprintf(&sb, "Write a %s script of about %d seconds when spoken (~150 words per minute).\n", format, cfg.TargetDuration)
	if cfg.Style != "" {
		fmt.Fprintf(&sb, "Content style: %s\n", cfg.Style)
	}
	sb.WriteString("Structure: an attention-grabbing hook, a body developing the topic, and a short conclusion.\n")
	sb.WriteString("Write in the persona's voice throughout. Respond with the script text only, no headings or metadata.\n")

	return sb.String()
}

func writeBucket(sb *strings.Builder, title string, results []core.RetrievalResult) {
	if len(results) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n## %s\n", title)
	for _, res := range results {
		fmt.Fprintf(sb, "- %s\n", res.Chunk.Text)
	}
}

const replacementPrompt = `The following script uses words the creator never says: %s.
Rewrite the script replacing ONLY those words with natural alternatives in the same voice.
Keep everything else identical. Respond with the rewritten script only.

Script:
%s`

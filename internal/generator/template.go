// Package generator holds the built-in draft generator. Real content
// generation sits behind the handlers.Generator interface; this template
// implementation keeps the pipeline usable without an external model.
package generator

import (
	"context"
	"fmt"
	"strings"

	"nexus/internal/handlers"
)

// Platform post length caps applied to generated candidates.
var platformLimits = map[string]int{
	"twitter":  280,
	"linkedin": 3000,
}

var templates = []string{
	"%s",
	"Thoughts on %s? Here is our take.",
	"A closer look at %s and what it means in practice.",
	"Why %s matters more than you think.",
	"%s, explained in one post.",
}

// Template produces deterministic draft candidates by slotting the prompt
// into rotating templates. Themes are derived from the prompt's longer words.
type Template struct{}

func NewTemplate() *Template {
	return &Template{}
}

func (t *Template) Generate(ctx context.Context, prompt, platform string, count int) ([]handlers.GeneratedDraft, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("empty prompt")
	}
	if count <= 0 {
		count = 1
	}
	if count > len(templates) {
		count = len(templates)
	}

	limit, ok := platformLimits[platform]
	if !ok {
		limit = 280
	}
	themes := extractThemes(prompt)

	out := make([]handlers.GeneratedDraft, 0, count)
	for i := 0; i < count; i++ {
		content := fmt.Sprintf(templates[i], prompt)
		if len(content) > limit {
			content = content[:limit-3] + "..."
		}
		out = append(out, handlers.GeneratedDraft{
			Content: content,
			Themes:  themes,
		})
	}
	return out, nil
}

// extractThemes keeps up to three distinct words of four letters or more,
// lowercased, in prompt order.
func extractThemes(prompt string) []string {
	seen := make(map[string]bool)
	var themes []string
	for _, word := range strings.Fields(strings.ToLower(prompt)) {
		word = strings.Trim(word, ".,!?:;\"'")
		if len(word) < 4 || seen[word] {
			continue
		}
		seen[word] = true
		themes = append(themes, word)
		if len(themes) == 3 {
			break
		}
	}
	return themes
}

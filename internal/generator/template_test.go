package generator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	g := NewTemplate()

	drafts, err := g.Generate(context.Background(), "database indexing strategies", "twitter", 3)
	require.NoError(t, err)
	require.Len(t, drafts, 3)

	assert.Equal(t, "database indexing strategies", drafts[0].Content)
	for _, d := range drafts {
		assert.Contains(t, d.Content, "database indexing strategies")
		assert.LessOrEqual(t, len(d.Content), 280)
		assert.Equal(t, []string{"database", "indexing", "strategies"}, d.Themes)
	}
}

func TestGenerate_EmptyPrompt(t *testing.T) {
	g := NewTemplate()

	_, err := g.Generate(context.Background(), "   ", "twitter", 1)
	assert.Error(t, err)
}

func TestGenerate_RespectsPlatformLimit(t *testing.T) {
	g := NewTemplate()
	long := strings.Repeat("verylongword ", 40)

	drafts, err := g.Generate(context.Background(), long, "twitter", 2)
	require.NoError(t, err)
	for _, d := range drafts {
		assert.LessOrEqual(t, len(d.Content), 280)
	}
}

func TestExtractThemes_SkipsShortAndDuplicateWords(t *testing.T) {
	themes := extractThemes("Go, go, GO! tips for the busy engineer")
	assert.Equal(t, []string{"tips", "busy", "engineer"}, themes)
}

package annotation

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/literature-sync-service/internal/domain"
)

func TestBuildPrompt(t *testing.T) {
	system, user := BuildPrompt("Title: TP53", []string{"en", "fr", "xx"})

	assert.Contains(t, system, "valid JSON")
	assert.Contains(t, user, "semicolon-separated")
	assert.Contains(t, user, "en (English), fr (French), xx (xx)")
	assert.Contains(t, user, fmt.Sprintf("up to %d key terms", MaxKeyTerms))
	assert.Contains(t, user, "---\nTitle: TP53\n---")
}

func TestParseAnnotation(t *testing.T) {
	t.Run("strips code fences and unrequested languages", func(t *testing.T) {
		content := "```json\n{\"findings\": {\"en\": \" a; b \", \"de\": \"c\"}, \"key_terms\": [\"FLT3\"]}\n```"
		ann, err := ParseAnnotation(content, []string{"en"})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"en": "a; b"}, ann.Summaries)
		assert.Equal(t, []string{"FLT3"}, ann.KeyTerms)
	})

	t.Run("caps and dedups key terms", func(t *testing.T) {
		content := `{"findings": {"en": "x"}, "key_terms": ["a","A","b","c","d","e","f","g","h","i"," "]}`
		ann, err := ParseAnnotation(content, []string{"en"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g", "h"}, ann.KeyTerms)
	})

	t.Run("no findings in requested languages", func(t *testing.T) {
		_, err := ParseAnnotation(`{"findings": {"de": "x"}}`, []string{"en"})
		assert.ErrorIs(t, err, ErrEmptyAnnotation)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := ParseAnnotation(`{"findings":`, []string{"en"})
		assert.ErrorIs(t, err, domain.ErrMalformedResponse)
	})
}

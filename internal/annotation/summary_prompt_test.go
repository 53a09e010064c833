package annotation

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/literature-sync-service/internal/domain"
)

func TestBuildSummaryPrompt(t *testing.T) {
	papers := []SummaryPaper{
		{Title: "TP53 in AML", Date: "2025-02-01", Findings: "poor survival", ArticleType: "Review"},
	}

	t.Run("complete lists every section", func(t *testing.T) {
		system, user := BuildSummaryPrompt(SummaryRequest{Language: "es", Papers: papers})
		assert.Contains(t, system, "in Spanish")
		for i, section := range summarySections {
			assert.Contains(t, user, fmt.Sprintf("%d. %s", i+1, section))
		}
		assert.Contains(t, user, "1. TP53 in AML (2025-02-01)")
		assert.Contains(t, user, "Findings: poor survival")
		assert.NotContains(t, user, "Existing summary")
	})

	t.Run("incremental carries the previous content", func(t *testing.T) {
		_, user := BuildSummaryPrompt(SummaryRequest{Language: "en", Papers: papers, Previous: "# Old review"})
		assert.Contains(t, user, "Existing summary:\n---\n# Old review\n---")
		assert.Contains(t, user, "New papers (1):")
	})

	t.Run("caps the paper list", func(t *testing.T) {
		many := make([]SummaryPaper, MaxSummaryPapers+5)
		for i := range many {
			many[i] = SummaryPaper{Title: fmt.Sprintf("paper-%d", i)}
		}
		_, user := BuildSummaryPrompt(SummaryRequest{Language: "en", Papers: many})
		assert.Contains(t, user, fmt.Sprintf("paper-%d", MaxSummaryPapers-1))
		assert.NotContains(t, user, fmt.Sprintf("paper-%d ", MaxSummaryPapers))
	})
}

func TestBuildTrendsPrompt(t *testing.T) {
	papers := []SummaryPaper{
		{Findings: strings.Repeat("x", maxTrendsInput)},
		{Findings: domain.UnavailableFindings},
		{Findings: "tail"},
	}
	system, user := BuildTrendsPrompt(papers)
	assert.Contains(t, system, "therapeutic_targets")
	assert.NotContains(t, user, domain.UnavailableFindings)
	assert.NotContains(t, user, "tail")
}

func TestParseTrends(t *testing.T) {
	trends, err := ParseTrends("```json\n{\"key_trends\": [\"a\", \"\"], \"prognostic_markers\": [\"TP53\"]}\n```")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, trends.KeyTrends)
	assert.Equal(t, []string{"TP53"}, trends.PrognosticMarkers)
	assert.Nil(t, trends.ResearchGaps)

	_, err = ParseTrends("nope")
	assert.ErrorIs(t, err, domain.ErrMalformedResponse)
}

func TestPaperFromRecord(t *testing.T) {
	pub := time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC)
	rec := &domain.LiteratureRecord{
		Title:            "TP53 in AML",
		PublicationDate:  &pub,
		ArticleType:      "Review",
		AnnotationStatus: domain.AnnotationDone,
		Summaries:        map[string]string{"en": "poor survival"},
	}
	assert.Equal(t, SummaryPaper{
		Title:       "TP53 in AML",
		Date:        "2025-02-01",
		Findings:    "poor survival",
		ArticleType: "Review",
	}, PaperFromRecord(rec, "en"))
}

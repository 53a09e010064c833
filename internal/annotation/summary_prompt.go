package annotation

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/helixir/literature-sync-service/internal/domain"
)

// Limits on what one summary request carries.
const (
	MaxSummaryPapers = 50
	maxTrendsInput   = 4000
)

// SummaryPaper is one annotated record as fed to the summary prompt.
type SummaryPaper struct {
	Title       string
	Date        string
	Findings    string
	ArticleType string
}

// SummaryRequest asks for a summary in one language. A non-empty Previous
// turns it into an incremental update of that content with Papers.
type SummaryRequest struct {
	Language string
	Papers   []SummaryPaper
	Previous string
}

// SummaryDraft is the model output before it becomes a stored version.
type SummaryDraft struct {
	Content string
	Trends  domain.ResearchTrends
	Model   string
	// TrendsErr is set when trend extraction failed.
	TrendsErr error
}

var summarySections = []string{
	"Executive Summary",
	"Key Clinical Findings",
	"Molecular Mechanisms",
	"Therapeutic Implications",
	"Prognostic Factors",
	"Emerging Trends",
	"Future Research Directions",
	"Methodology Overview",
}

func languageName(lang string) string {
	if name, ok := languageNames[lang]; ok {
		return name
	}
	return lang
}

// PaperFromRecord converts an annotated record for the summary prompt.
func PaperFromRecord(rec *domain.LiteratureRecord, lang string) SummaryPaper {
	p := SummaryPaper{
		Title:       rec.Title,
		Findings:    rec.MainFindings(lang),
		ArticleType: rec.ArticleType,
	}
	if rec.PublicationDate != nil {
		p.Date = rec.PublicationDate.Format("2006-01-02")
	}
	return p
}

func writePapers(sb *strings.Builder, papers []SummaryPaper) {
	if len(papers) > MaxSummaryPapers {
		papers = papers[:MaxSummaryPapers]
	}
	for i, p := range papers {
		fmt.Fprintf(sb, "%d. %s (%s)\n", i+1, p.Title, p.Date)
		fmt.Fprintf(sb, "   Type: %s\n", p.ArticleType)
		fmt.Fprintf(sb, "   Findings: %s\n", p.Findings)
	}
}

// BuildSummaryPrompt builds a complete summary prompt, or an incremental
// one when req.Previous is set.
func BuildSummaryPrompt(req SummaryRequest) (systemPrompt, userPrompt string) {
	name := languageName(req.Language)
	systemPrompt = fmt.Sprintf("You are an expert medical researcher specializing in AML and TP53 mutations. "+
		"Write a professional research summary in %s using markdown headings.", name)

	var sb strings.Builder
	if req.Previous != "" {
		sb.WriteString("Update the existing research summary below with the new papers. ")
		sb.WriteString("Keep its structure, integrate the new findings where they belong and note what changed.\n\n")
		sb.WriteString("Existing summary:\n---\n")
		sb.WriteString(req.Previous)
		sb.WriteString("\n---\n\n")
		fmt.Fprintf(&sb, "New papers (%d):\n", len(req.Papers))
		writePapers(&sb, req.Papers)
		fmt.Fprintf(&sb, "\nWrite the full updated summary in %s.", name)
		return systemPrompt, sb.String()
	}

	fmt.Fprintf(&sb, "Write a comprehensive review of the following %d papers with these sections:\n", min(len(req.Papers), MaxSummaryPapers))
	for i, section := range summarySections {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, section)
	}
	sb.WriteString("\nPapers:\n")
	writePapers(&sb, req.Papers)
	fmt.Fprintf(&sb, "\nWrite the summary in %s.", name)
	return systemPrompt, sb.String()
}

// BuildTrendsPrompt builds the trend extraction prompt. The findings text
// is capped at maxTrendsInput bytes.
func BuildTrendsPrompt(papers []SummaryPaper) (systemPrompt, userPrompt string) {
	systemPrompt = "You are a research analyst. Identify trends across research findings. " +
		"You MUST respond with valid JSON in exactly this format:\n" +
		`{"key_trends": [], "therapeutic_targets": [], "prognostic_markers": [], "research_gaps": [], "methodology_trends": []}`

	var findings strings.Builder
	for _, p := range papers {
		if p.Findings == "" || p.Findings == domain.UnavailableFindings {
			continue
		}
		findings.WriteString(p.Findings)
		findings.WriteString("\n")
	}
	text := findings.String()
	if len(text) > maxTrendsInput {
		text = strings.ToValidUTF8(text[:maxTrendsInput], "")
	}

	userPrompt = "Analyze these research findings and list the trends in each category:\n\n" + text
	return systemPrompt, userPrompt
}

// ParseTrends decodes the trend extraction output. Blank items are dropped.
func ParseTrends(content string) (domain.ResearchTrends, error) {
	var t domain.ResearchTrends
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &t); err != nil {
		return domain.ResearchTrends{}, fmt.Errorf("failed to parse trends JSON: %w: %w", domain.ErrMalformedResponse, err)
	}
	t.KeyTrends = compact(t.KeyTrends)
	t.TherapeuticTargets = compact(t.TherapeuticTargets)
	t.PrognosticMarkers = compact(t.PrognosticMarkers)
	t.ResearchGaps = compact(t.ResearchGaps)
	t.MethodologyTrends = compact(t.MethodologyTrends)
	return t, nil
}

func compact(items []string) []string {
	out := items[:0]
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

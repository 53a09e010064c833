package annotation

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/helixir/literature-sync-service/internal/domain"
)

// MaxKeyTerms caps the key terms kept per record.
const MaxKeyTerms = 8

var languageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"pt": "Portuguese",
	"it": "Italian",
	"zh": "Chinese",
	"ja": "Japanese",
}

// annotationResponse is the JSON object the model is asked to return.
type annotationResponse struct {
	Findings map[string]string `json:"findings"`
	KeyTerms []string          `json:"key_terms"`
}

// BuildPrompt builds the system and user prompts for one record.
func BuildPrompt(text string, languages []string) (systemPrompt, userPrompt string) {
	var sb strings.Builder

	sb.WriteString("You are an expert hematologist and researcher specializing in AML and TP53 mutations. ")
	sb.WriteString("Provide concise, accurate medical insights.\n\n")
	sb.WriteString("You MUST respond with valid JSON in exactly this format:\n")
	sb.WriteString(`{"findings": {"<language code>": "finding one; finding two"}, "key_terms": ["term1", "term2"]}`)
	systemPrompt = sb.String()

	sb.Reset()
	sb.WriteString("Analyze the following research paper and extract the main findings as a ")
	sb.WriteString("semicolon-separated list. Focus on clinical significance, molecular mechanisms, ")
	sb.WriteString("therapeutic implications and prognostic factors. Be concise but informative.\n\n")

	sb.WriteString("Write the findings in these languages, keyed by language code: ")
	parts := make([]string, 0, len(languages))
	for _, lang := range languages {
		name, ok := languageNames[lang]
		if !ok {
			name = lang
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", lang, name))
	}
	sb.WriteString(strings.Join(parts, ", "))
	sb.WriteString(".\n")
	sb.WriteString(fmt.Sprintf("Also list up to %d key terms (genes, drugs, diseases, methods).\n\n", MaxKeyTerms))

	sb.WriteString("Paper:\n---\n")
	sb.WriteString(text)
	sb.WriteString("\n---")
	userPrompt = sb.String()

	return systemPrompt, userPrompt
}

// ParseAnnotation decodes the model output. Markdown code fences are
// tolerated. Only the requested languages are kept.
func ParseAnnotation(content string, languages []string) (*domain.Annotation, error) {
	content = stripCodeFence(content)

	var resp annotationResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse annotation JSON: %w: %w", domain.ErrMalformedResponse, err)
	}

	ann := &domain.Annotation{Summaries: make(map[string]string, len(languages))}
	for _, lang := range languages {
		if s := strings.TrimSpace(resp.Findings[lang]); s != "" {
			ann.Summaries[lang] = s
		}
	}
	if len(ann.Summaries) == 0 {
		return nil, ErrEmptyAnnotation
	}

	seen := make(map[string]bool, len(resp.KeyTerms))
	for _, term := range resp.KeyTerms {
		term = strings.TrimSpace(term)
		key := strings.ToLower(term)
		if term == "" || seen[key] {
			continue
		}
		seen[key] = true
		ann.KeyTerms = append(ann.KeyTerms, term)
		if len(ann.KeyTerms) == MaxKeyTerms {
			break
		}
	}
	return ann, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

package domain

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// SummaryUpdateType says how a research summary version came about.
type SummaryUpdateType string

const (
	// SummaryComplete is a summary written from scratch.
	SummaryComplete SummaryUpdateType = "complete"
	// SummaryIncremental revises the previous version with newer papers.
	SummaryIncremental SummaryUpdateType = "incremental"
	// SummaryUnchanged is returned, never stored, when no newer papers exist.
	SummaryUnchanged SummaryUpdateType = "no_update"
)

// ResearchTrends are the themes extracted across the annotated store.
type ResearchTrends struct {
	KeyTrends          []string `json:"key_trends"`
	TherapeuticTargets []string `json:"therapeutic_targets"`
	PrognosticMarkers  []string `json:"prognostic_markers"`
	ResearchGaps       []string `json:"research_gaps"`
	MethodologyTrends  []string `json:"methodology_trends"`
}

// Empty reports whether no trend was extracted.
func (t ResearchTrends) Empty() bool {
	return len(t.KeyTrends) == 0 &&
		len(t.TherapeuticTargets) == 0 &&
		len(t.PrognosticMarkers) == 0 &&
		len(t.ResearchGaps) == 0 &&
		len(t.MethodologyTrends) == 0
}

// ResearchSummary is one stored version of the store-wide review in one
// language. Versions count up from 1 per language and are never rewritten.
type ResearchSummary struct {
	ID         uuid.UUID
	Language   string
	Version    int
	UpdateType SummaryUpdateType
	// Content is markdown.
	Content string
	// PaperCount is the number of annotated records when generated.
	PaperCount int
	// NewPapers is the number of records folded in by this version.
	NewPapers int
	// LatestPaperDate is the newest publication date covered. An
	// incremental update looks for records published after it.
	LatestPaperDate *time.Time
	Trends          ResearchTrends
	Model           string
	CreatedAt       time.Time
}

// TimelineEntrySummaryLength caps the findings excerpt of a timeline entry.
const TimelineEntrySummaryLength = 200

// TimelineEntry marks a record first stored by an update run.
type TimelineEntry struct {
	ID              int64
	RunID           uuid.UUID
	ExternalID      string
	EntryDate       time.Time
	Title           string
	Journal         string
	PublicationDate *time.Time
	// Summary is an excerpt of the record's current main findings.
	Summary   string
	CreatedAt time.Time
}

// Excerpt shortens s to at most n runes, marking a cut with "...".
func Excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

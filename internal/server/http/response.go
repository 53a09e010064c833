package httpserver

import (
	"strconv"
	"time"

	"github.com/helixir/literature-sync-service/internal/domain"
)

// findingsLanguage is the summary language shown as main findings.
const findingsLanguage = "en"

// Sync run response types for JSON serialization.

type startSyncResponse struct {
	RunID    string `json:"run_id"`
	Mode     string `json:"mode"`
	Status   string `json:"status"`
	DateFrom string `json:"date_from"`
	DateTo   string `json:"date_to"`
	Message  string `json:"message"`
}

type syncRunResponse struct {
	RunID      string            `json:"run_id"`
	Mode       string            `json:"mode"`
	Trigger    string            `json:"trigger"`
	Query      string            `json:"query"`
	DateFrom   string            `json:"date_from"`
	DateTo     string            `json:"date_to"`
	PageSize   int               `json:"page_size"`
	MaxRecords int               `json:"max_records,omitempty"`
	Counts     domain.SyncCounts `json:"counts"`
	Status     string            `json:"status"`
	StartedAt  time.Time         `json:"started_at"`
	EndedAt    *time.Time        `json:"ended_at,omitempty"`
	Duration   string            `json:"duration,omitempty"`
}

type listSyncRunsResponse struct {
	Runs          []syncRunResponse `json:"runs"`
	NextPageToken string            `json:"next_page_token,omitempty"`
	TotalCount    int               `json:"total_count"`
}

type cancelSyncResponse struct {
	RunID   string `json:"run_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Record response types.

type recordResponse struct {
	PMID             string            `json:"pmid"`
	Title            string            `json:"title"`
	Abstract         string            `json:"abstract,omitempty"`
	Authors          []domain.Author   `json:"authors"`
	Journal          string            `json:"journal,omitempty"`
	ArticleType      string            `json:"article_type,omitempty"`
	DOI              string            `json:"doi,omitempty"`
	PublicationDate  string            `json:"publication_date,omitempty"`
	NumReferences    int               `json:"num_references"`
	MainFindings     string            `json:"main_findings"`
	Summaries        map[string]string `json:"summaries,omitempty"`
	KeyTerms         []string          `json:"key_terms,omitempty"`
	AnnotationStatus string            `json:"annotation_status"`
	LastSyncedAt     time.Time         `json:"last_synced_at"`
}

type listRecordsResponse struct {
	Records       []recordResponse `json:"records"`
	NextPageToken string           `json:"next_page_token,omitempty"`
	TotalCount    int              `json:"total_count"`
}

type statsResponse struct {
	Total           int64            `json:"total"`
	ByYear          map[string]int64 `json:"by_year"`
	ByType          map[string]int64 `json:"by_type"`
	LatestPublished string           `json:"latest_published,omitempty"`
	Annotated       int64            `json:"annotated"`
	LastUpdate      string           `json:"last_update,omitempty"`
}

type keyTermResponse struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

type keyTermsResponse struct {
	KeyTerms []keyTermResponse `json:"key_terms"`
}

// Summary and timeline response types.

type summaryResponse struct {
	Language        string                `json:"language"`
	Version         int                   `json:"version"`
	UpdateType      string                `json:"update_type"`
	Content         string                `json:"content,omitempty"`
	PaperCount      int                   `json:"paper_count"`
	NewPapers       int                   `json:"new_papers"`
	LatestPaperDate string                `json:"latest_paper_date,omitempty"`
	Trends          domain.ResearchTrends `json:"trends"`
	Model           string                `json:"model,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
}

type generateSummaryResponse struct {
	UpdateType string          `json:"update_type"`
	NewPapers  int             `json:"new_papers"`
	Summary    summaryResponse `json:"summary"`
}

type summaryVersionsResponse struct {
	Language string            `json:"language"`
	Versions []summaryResponse `json:"versions"`
}

type timelineEntryResponse struct {
	Date            string `json:"date"`
	PMID            string `json:"pmid"`
	Title           string `json:"title"`
	Journal         string `json:"journal,omitempty"`
	PublicationDate string `json:"publication_date,omitempty"`
	Summary         string `json:"summary"`
	RunID           string `json:"run_id"`
}

type timelineResponse struct {
	Entries       []timelineEntryResponse `json:"entries"`
	NextPageToken string                  `json:"next_page_token,omitempty"`
	TotalCount    int                     `json:"total_count"`
}

type settingsResponse struct {
	Settings map[string]string `json:"settings"`
}

// toSyncRunResponse converts a run for the API. The stored error detail is
// operator-facing and is not returned.
func toSyncRunResponse(run *domain.SyncRun) syncRunResponse {
	resp := syncRunResponse{
		RunID:      run.ID.String(),
		Mode:       string(run.Mode),
		Trigger:    string(run.Trigger),
		Query:      run.Query,
		DateFrom:   run.DateFrom.Format(domain.SettingsDateLayout),
		DateTo:     run.DateTo.Format(domain.SettingsDateLayout),
		PageSize:   run.PageSize,
		MaxRecords: run.MaxRecords,
		Counts:     run.SyncCounts,
		Status:     string(run.Status),
		StartedAt:  run.StartedAt,
		EndedAt:    run.EndedAt,
	}
	if run.EndedAt != nil {
		resp.Duration = run.Duration().Round(time.Millisecond).String()
	}
	return resp
}

func toRecordResponse(rec *domain.LiteratureRecord) recordResponse {
	resp := recordResponse{
		PMID:             rec.ExternalID,
		Title:            rec.Title,
		Abstract:         rec.Abstract,
		Authors:          rec.Authors,
		Journal:          rec.Journal,
		ArticleType:      rec.ArticleType,
		DOI:              rec.DOI,
		NumReferences:    rec.NumReferences,
		MainFindings:     rec.MainFindings(findingsLanguage),
		Summaries:        rec.Summaries,
		KeyTerms:         rec.KeyTerms,
		AnnotationStatus: string(rec.AnnotationStatus),
		LastSyncedAt:     rec.LastSyncedAt,
	}
	if resp.Authors == nil {
		resp.Authors = []domain.Author{}
	}
	if rec.PublicationDate != nil {
		resp.PublicationDate = rec.PublicationDate.Format(domain.SettingsDateLayout)
	}
	return resp
}

func toStatsResponse(stats *domain.RecordStats) statsResponse {
	resp := statsResponse{
		Total:      stats.Total,
		ByYear:     make(map[string]int64, len(stats.ByYear)),
		ByType:     stats.ByType,
		Annotated:  stats.Annotated,
		LastUpdate: stats.LastUpdate,
	}
	for year, n := range stats.ByYear {
		resp.ByYear[strconv.Itoa(year)] = n
	}
	if resp.ByType == nil {
		resp.ByType = map[string]int64{}
	}
	if stats.LatestPublished != nil {
		resp.LatestPublished = stats.LatestPublished.Format(domain.SettingsDateLayout)
	}
	return resp
}

func toSummaryResponse(sum *domain.ResearchSummary) summaryResponse {
	resp := summaryResponse{
		Language:   sum.Language,
		Version:    sum.Version,
		UpdateType: string(sum.UpdateType),
		Content:    sum.Content,
		PaperCount: sum.PaperCount,
		NewPapers:  sum.NewPapers,
		Trends:     sum.Trends,
		Model:      sum.Model,
		CreatedAt:  sum.CreatedAt,
	}
	if sum.LatestPaperDate != nil {
		resp.LatestPaperDate = sum.LatestPaperDate.Format(domain.SettingsDateLayout)
	}
	return resp
}

func toTimelineEntryResponse(e *domain.TimelineEntry) timelineEntryResponse {
	resp := timelineEntryResponse{
		Date:    e.EntryDate.Format(domain.SettingsDateLayout),
		PMID:    e.ExternalID,
		Title:   e.Title,
		Journal: e.Journal,
		Summary: e.Summary,
		RunID:   e.RunID.String(),
	}
	if e.PublicationDate != nil {
		resp.PublicationDate = e.PublicationDate.Format(domain.SettingsDateLayout)
	}
	return resp
}

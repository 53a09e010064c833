package httpserver

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/helixir/literature-sync-service/internal/annotation"
	"github.com/helixir/literature-sync-service/internal/domain"
	"github.com/helixir/literature-sync-service/internal/repository"
)

const defaultSummaryVersions = 20

type generateSummaryRequest struct {
	Language        string `json:"language"`
	ForceRegenerate bool   `json:"force_regenerate"`
}

// generateSummary handles POST /summaries/generate. An empty body asks for
// the English summary.
func (s *Server) generateSummary(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req generateSummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}
	if req.Language == "" {
		req.Language = findingsLanguage
	}
	if !isLanguageCode(req.Language) {
		writeError(w, http.StatusBadRequest, "language must be a short language code")
		return
	}

	result, err := s.svc.GenerateSummary(r.Context(), req.Language, req.ForceRegenerate)
	if err != nil {
		if !errors.Is(err, annotation.ErrDisabled) && !errors.Is(err, annotation.ErrNothingToSummarize) {
			s.logger.Error().Err(err).Str("language", req.Language).Msg("summary generation failed")
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, generateSummaryResponse{
		UpdateType: string(result.UpdateType),
		NewPapers:  result.NewPapers,
		Summary:    toSummaryResponse(result.Summary),
	})
}

// getSummary handles GET /summaries/{language}.
func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	language := chi.URLParam(r, "language")
	if !isLanguageCode(language) {
		writeError(w, http.StatusBadRequest, "language must be a short language code")
		return
	}

	summary, err := s.svc.LatestSummary(r.Context(), language)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryResponse(summary))
}

// listSummaryVersions handles GET /summaries/{language}/versions?limit=N.
func (s *Server) listSummaryVersions(w http.ResponseWriter, r *http.Request) {
	language := chi.URLParam(r, "language")
	if !isLanguageCode(language) {
		writeError(w, http.StatusBadRequest, "language must be a short language code")
		return
	}
	limit := defaultSummaryVersions
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	versions, err := s.svc.SummaryVersions(r.Context(), language, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list summary versions")
		writeDomainError(w, err)
		return
	}

	items := make([]summaryResponse, 0, len(versions))
	for _, v := range versions {
		items = append(items, toSummaryResponse(v))
	}
	writeJSON(w, http.StatusOK, summaryVersionsResponse{Language: language, Versions: items})
}

// getTimeline handles GET /timeline?since=YYYY-MM-DD.
func (s *Server) getTimeline(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)
	filter := repository.TimelineFilter{Language: findingsLanguage, Limit: limit, Offset: offset}

	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		since, err := time.Parse(domain.SettingsDateLayout, sinceStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be a YYYY-MM-DD date")
			return
		}
		filter.Since = &since
	}

	entries, totalCount, err := s.svc.Timeline(r.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list timeline")
		writeDomainError(w, err)
		return
	}

	items := make([]timelineEntryResponse, 0, len(entries))
	for _, e := range entries {
		items = append(items, toTimelineEntryResponse(e))
	}
	writeJSON(w, http.StatusOK, timelineResponse{
		Entries:       items,
		NextPageToken: encodeHTTPPageToken(offset, limit, int(totalCount)),
		TotalCount:    int(totalCount),
	})
}

func isLanguageCode(s string) bool {
	if len(s) < 2 || len(s) > 8 {
		return false
	}
	for _, c := range s {
		if (c < 'a' || c > 'z') && c != '-' {
			return false
		}
	}
	return true
}

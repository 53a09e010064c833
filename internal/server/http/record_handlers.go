package httpserver

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/helixir/literature-sync-service/internal/repository"
)

const (
	defaultKeyTermLimit = 20
	exportFilePrefix    = "literature_export"
)

// listRecords handles GET /records with optional search, type and year filters.
func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseRecordFilter(w, r)
	if !ok {
		return
	}
	limit, offset := parsePaginationParams(r)
	filter.Limit = limit
	filter.Offset = offset

	records, totalCount, err := s.svc.ListRecords(r.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list records")
		writeDomainError(w, err)
		return
	}

	items := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, toRecordResponse(rec))
	}

	writeJSON(w, http.StatusOK, listRecordsResponse{
		Records:       items,
		NextPageToken: encodeHTTPPageToken(offset, limit, int(totalCount)),
		TotalCount:    int(totalCount),
	})
}

// getRecord handles GET /records/{pmid}.
func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	pmid := chi.URLParam(r, "pmid")
	if !isPMID(pmid) {
		writeError(w, http.StatusBadRequest, "pmid must be numeric")
		return
	}

	rec, err := s.svc.GetRecord(r.Context(), pmid)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

// getStats handles GET /stats.
func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to compute record stats")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsResponse(stats))
}

// getKeyTerms handles GET /key-terms?limit=N.
func (s *Server) getKeyTerms(w http.ResponseWriter, r *http.Request) {
	limit := defaultKeyTermLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	terms, err := s.svc.KeyTerms(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to aggregate key terms")
		writeDomainError(w, err)
		return
	}

	items := make([]keyTermResponse, 0, len(terms))
	for _, t := range terms {
		items = append(items, keyTermResponse{Term: t.Term, Count: t.Count})
	}
	writeJSON(w, http.StatusOK, keyTermsResponse{KeyTerms: items})
}

// exportCSV handles GET /export.csv. Rows are streamed, so a failure part way
// through truncates the body instead of changing the status.
func (s *Server) exportCSV(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseRecordFilter(w, r)
	if !ok {
		return
	}

	filename := fmt.Sprintf("%s_%s.csv", exportFilePrefix, time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	rows, err := s.svc.ExportCSV(r.Context(), w, filter)
	if err != nil {
		s.logger.Error().Err(err).Int("rows", rows).Msg("csv export aborted")
		return
	}
	s.logger.Info().Int("rows", rows).Msg("csv export served")
}

// getSettings handles GET /settings.
func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	values, err := s.svc.Settings(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load settings")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{Settings: values})
}

// putSettings handles PUT /settings. The body is a flat JSON object of
// setting keys to string values; a single invalid key rejects the update.
func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var values map[string]string
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object of string values")
		return
	}

	if err := s.svc.UpdateSettings(r.Context(), values); err != nil {
		writeDomainError(w, err)
		return
	}

	updated, err := s.svc.Settings(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to reload settings")
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{Settings: updated})
}

// parseRecordFilter reads the search, type and year query parameters.
// Search text is passed as a bound parameter, never spliced into SQL.
func parseRecordFilter(w http.ResponseWriter, r *http.Request) (repository.RecordFilter, bool) {
	q := r.URL.Query()
	filter := repository.RecordFilter{
		Search:      strings.TrimSpace(q.Get("search")),
		ArticleType: strings.TrimSpace(q.Get("type")),
	}

	if len(filter.Search) > maxSearchLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("search must be at most %d characters", maxSearchLength))
		return filter, false
	}

	if yearStr := q.Get("year"); yearStr != "" {
		year, err := strconv.Atoi(yearStr)
		if err != nil || year < 1800 || year > 9999 {
			writeError(w, http.StatusBadRequest, "year must be a four digit year")
			return filter, false
		}
		filter.Year = year
	}

	return filter, true
}

func isPMID(s string) bool {
	if s == "" || len(s) > 12 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

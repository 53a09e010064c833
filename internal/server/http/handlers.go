package httpserver

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/helixir/literature-sync-service/internal/annotation"
	"github.com/helixir/literature-sync-service/internal/domain"
	"github.com/helixir/literature-sync-service/internal/repository"
)

// Pagination and validation constants.
const (
	defaultPageSize    = 50
	maxPageSize        = 100
	maxSearchLength    = 500
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
)

// startRebuild handles POST /sync/rebuild.
func (s *Server) startRebuild(w http.ResponseWriter, r *http.Request) {
	s.startSync(w, r, domain.SyncModeRebuild)
}

// startUpdate handles POST /sync/update.
func (s *Server) startUpdate(w http.ResponseWriter, r *http.Request) {
	s.startSync(w, r, domain.SyncModeUpdate)
}

// startSync begins a run in the background and answers 202 as soon as the
// exclusive marker is held. A concurrent run is reported as 409.
func (s *Server) startSync(w http.ResponseWriter, r *http.Request, mode domain.SyncMode) {
	run, err := s.svc.StartAsync(r.Context(), mode, domain.TriggerHTTP)
	if err != nil {
		if !errors.Is(err, domain.ErrSyncInProgress) {
			s.logger.Error().Err(err).Str("mode", string(mode)).Msg("failed to start sync run")
		}
		writeDomainError(w, err)
		return
	}

	s.logger.Info().
		Str("run_id", run.ID.String()).
		Str("mode", string(mode)).
		Msg("sync run started")

	writeJSON(w, http.StatusAccepted, startSyncResponse{
		RunID:    run.ID.String(),
		Mode:     string(run.Mode),
		Status:   string(run.Status),
		DateFrom: run.DateFrom.Format(domain.SettingsDateLayout),
		DateTo:   run.DateTo.Format(domain.SettingsDateLayout),
		Message:  "sync run started",
	})
}

// cancelRun handles POST /sync/runs/{runID}/cancel.
// Only the run executing in this process can be cancelled.
func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	if err := s.svc.Cancel(runID); err != nil {
		writeDomainError(w, err)
		return
	}

	s.logger.Info().Str("run_id", runID.String()).Msg("sync run cancellation requested")

	writeJSON(w, http.StatusAccepted, cancelSyncResponse{
		RunID:   runID.String(),
		Status:  "cancelling",
		Message: "cancellation requested, the run stops after the current record",
	})
}

// getLatestRun handles GET /sync/runs/latest.
func (s *Server) getLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.svc.LatestRun(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSyncRunResponse(run))
}

// getRun handles GET /sync/runs/{runID}.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	run, err := s.svc.GetRun(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSyncRunResponse(run))
}

// listRuns handles GET /sync/runs, newest first.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)

	filter := repository.SyncRunFilter{
		Limit:  limit,
		Offset: offset,
	}
	if statusStr := r.URL.Query().Get("status"); statusStr != "" {
		status := domain.SyncStatus(statusStr)
		if status != domain.SyncStatusRunning && !status.IsTerminal() {
			writeError(w, http.StatusBadRequest, "status must be one of running, success, partial, failed")
			return
		}
		filter.Status = status
	}

	runs, totalCount, err := s.svc.ListRuns(r.Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list sync runs")
		writeDomainError(w, err)
		return
	}

	items := make([]syncRunResponse, 0, len(runs))
	for _, run := range runs {
		items = append(items, toSyncRunResponse(run))
	}

	writeJSON(w, http.StatusOK, listSyncRunsResponse{
		Runs:          items,
		NextPageToken: encodeHTTPPageToken(offset, limit, int(totalCount)),
		TotalCount:    int(totalCount),
	})
}

// backfillAnnotations handles POST /annotations/backfill?limit=N.
func (s *Server) backfillAnnotations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	result, err := s.svc.Backfill(r.Context(), limit)
	if err != nil {
		if !errors.Is(err, annotation.ErrDisabled) {
			s.logger.Error().Err(err).Msg("annotation backfill failed")
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// writeDomainError maps domain errors to appropriate HTTP status codes
// and writes a JSON error response. Internal error details are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrSyncInProgress):
		writeError(w, http.StatusConflict, "a sync run is already in progress")
	case errors.Is(err, annotation.ErrDisabled):
		writeError(w, http.StatusConflict, "annotation is disabled")
	case errors.Is(err, annotation.ErrNothingToSummarize):
		writeError(w, http.StatusConflict, "no annotated records to summarize")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrServiceUnavailable), errors.Is(err, domain.ErrAnnotationUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	case errors.Is(err, domain.ErrCancelled):
		writeError(w, http.StatusConflict, "operation cancelled")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseUUID parses a UUID from a string, writing a 400 error response if invalid.
// The parse error details are not included to avoid echoing potentially malicious input.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}

// parsePaginationParams extracts page_size and page_token from query parameters.
// It applies default and maximum bounds to the page size.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if pageSizeStr := r.URL.Query().Get("page_size"); pageSizeStr != "" {
		if parsed, err := strconv.Atoi(pageSizeStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if pageToken := r.URL.Query().Get("page_token"); pageToken != "" {
		decoded, err := base64.StdEncoding.DecodeString(pageToken)
		if err == nil {
			if parsed, parseErr := strconv.Atoi(string(decoded)); parseErr == nil && parsed > 0 {
				offset = parsed
			}
		}
	}

	return limit, offset
}

// encodeHTTPPageToken encodes the next offset as a base64 page token.
// Returns an empty string if there are no more results.
func encodeHTTPPageToken(offset, limit, totalCount int) string {
	nextOffset := offset + limit
	if nextOffset < totalCount {
		return base64.StdEncoding.EncodeToString([]byte(strconv.Itoa(nextOffset)))
	}
	return ""
}

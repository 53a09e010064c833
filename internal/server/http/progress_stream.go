package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/helixir/literature-sync-service/internal/domain"
)

const (
	// sseQueryInterval is how often we poll the DB for authoritative state.
	sseQueryInterval = 2 * time.Second
	// sseMaxDuration is the maximum time an SSE stream may remain open.
	sseMaxDuration = 4 * time.Hour
)

// sseEvent represents an event sent via SSE.
type sseEvent struct {
	EventType string             `json:"event_type"`
	RunID     string             `json:"run_id"`
	Status    string             `json:"status"`
	Counts    *domain.SyncCounts `json:"counts,omitempty"`
	Message   string             `json:"message"`
	Timestamp time.Time          `json:"timestamp"`
}

// streamProgress handles GET /sync/runs/{runID}/progress (SSE). Counters are
// persisted once per page, so each poll reflects the last finished page.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseUUID(w, chi.URLParam(r, "runID"), "run_id")
	if !ok {
		return
	}

	run, err := s.svc.GetRun(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// If already terminal, send one event and close.
	if run.Status.IsTerminal() {
		sendSSEEvent(w, flusher, completedEvent(run))
		return
	}

	sendSSEEvent(w, flusher, runEvent("stream_started", run, "progress stream started"))

	s.pollRun(r.Context(), w, flusher, runID)
}

func (s *Server) pollRun(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, runID uuid.UUID) {
	deadlineTimer := time.NewTimer(sseMaxDuration)
	defer deadlineTimer.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var last domain.SyncCounts
	for {
		select {
		case <-ctx.Done():
			return

		case <-deadlineTimer.C:
			sendSSEEvent(w, flusher, sseEvent{
				EventType: "timeout",
				RunID:     runID.String(),
				Message:   "stream max duration exceeded",
				Timestamp: time.Now(),
			})
			return

		case <-ticker.C:
			current, pollErr := s.svc.GetRun(ctx, runID)
			if pollErr != nil {
				s.logger.Error().Err(pollErr).Str("run_id", runID.String()).Msg("failed to poll sync run")
				continue
			}

			if current.Status.IsTerminal() {
				sendSSEEvent(w, flusher, completedEvent(current))
				return
			}

			// Only emit when a page has landed.
			if current.SyncCounts == last {
				continue
			}
			last = current.SyncCounts
			sendSSEEvent(w, flusher, runEvent("progress_update", current, "status: "+string(current.Status)))
		}
	}
}

func runEvent(eventType string, run *domain.SyncRun, message string) sseEvent {
	counts := run.SyncCounts
	return sseEvent{
		EventType: eventType,
		RunID:     run.ID.String(),
		Status:    string(run.Status),
		Counts:    &counts,
		Message:   message,
		Timestamp: time.Now(),
	}
}

func completedEvent(run *domain.SyncRun) sseEvent {
	return runEvent("completed", run, "sync run finished with status: "+string(run.Status))
}

// sendSSEEvent writes a single SSE event to the response writer.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event sseEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.EventType, data)
	flusher.Flush()
}

package httpserver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/literature-sync-service/internal/annotation"
	"github.com/helixir/literature-sync-service/internal/database"
	"github.com/helixir/literature-sync-service/internal/domain"
	"github.com/helixir/literature-sync-service/internal/repository"
)

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response body %q: %v", rr.Body.String(), err)
	}
}

func TestStartSync_Accepted(t *testing.T) {
	tests := []struct {
		path string
		mode domain.SyncMode
	}{
		{"/api/v1/sync/update", domain.SyncModeUpdate},
		{"/api/v1/sync/rebuild", domain.SyncModeRebuild},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			var gotMode domain.SyncMode
			var gotTrigger domain.SyncTrigger
			svc := &mockSyncService{
				startAsyncFn: func(_ context.Context, mode domain.SyncMode, trigger domain.SyncTrigger) (*domain.SyncRun, error) {
					gotMode, gotTrigger = mode, trigger
					run := testRun(domain.SyncStatusRunning)
					run.Mode = mode
					return run, nil
				},
			}
			srv := newTestHTTPServer(svc)

			rr := serveHTTP(srv, httptest.NewRequest(http.MethodPost, tt.path, nil))

			if rr.Code != http.StatusAccepted {
				t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
			}
			if gotMode != tt.mode {
				t.Errorf("expected mode %q, got %q", tt.mode, gotMode)
			}
			if gotTrigger != domain.TriggerHTTP {
				t.Errorf("expected trigger http, got %q", gotTrigger)
			}

			var resp startSyncResponse
			decodeBody(t, rr, &resp)
			if resp.RunID != testRunID.String() {
				t.Errorf("expected run_id %s, got %s", testRunID, resp.RunID)
			}
			if resp.Status != "running" {
				t.Errorf("expected status running, got %s", resp.Status)
			}
			if resp.DateFrom != "2025-03-03" || resp.DateTo != "2025-03-10" {
				t.Errorf("unexpected window %s..%s", resp.DateFrom, resp.DateTo)
			}
		})
	}
}

func TestStartSync_ConflictWhileRunning(t *testing.T) {
	svc := &mockSyncService{
		startAsyncFn: func(_ context.Context, _ domain.SyncMode, _ domain.SyncTrigger) (*domain.SyncRun, error) {
			return nil, fmt.Errorf("acquire sync marker: %w", domain.ErrSyncInProgress)
		},
	}
	srv := newTestHTTPServer(svc)

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodPost, "/api/v1/sync/update", nil))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]string
	decodeBody(t, rr, &resp)
	if resp["error"] != "a sync run is already in progress" {
		t.Errorf("unexpected error message %q", resp["error"])
	}
}

func TestStartSync_ValidationError(t *testing.T) {
	svc := &mockSyncService{
		startAsyncFn: func(_ context.Context, _ domain.SyncMode, _ domain.SyncTrigger) (*domain.SyncRun, error) {
			return nil, domain.NewValidationError("query", "must not be empty")
		},
	}
	srv := newTestHTTPServer(svc)

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodPost, "/api/v1/sync/rebuild", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "query") {
		t.Errorf("expected field name in error, got %s", rr.Body.String())
	}
}

func TestStartSync_RateLimited(t *testing.T) {
	svc := &mockSyncService{
		startAsyncFn: func(_ context.Context, _ domain.SyncMode, _ domain.SyncTrigger) (*domain.SyncRun, error) {
			return nil, domain.ErrSyncInProgress
		},
	}
	srv := NewServer(Config{TriggerRateLimit: 1, TriggerRateWindow: time.Minute}, svc,
		&mockHealth{status: database.HealthStatus{Status: "healthy"}}, zerolog.Nop())

	first := serveHTTP(srv, httptest.NewRequest(http.MethodPost, "/api/v1/sync/update", nil))
	if first.Code != http.StatusConflict {
		t.Fatalf("expected first request to reach the handler, got %d", first.Code)
	}

	second := serveHTTP(srv, httptest.NewRequest(http.MethodPost, "/api/v1/sync/update", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d: %s", second.Code, second.Body.String())
	}

	// Read endpoints are not limited.
	read := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/sync/runs", nil))
	if read.Code != http.StatusOK {
		t.Fatalf("expected status 200 for read endpoint, got %d", read.Code)
	}
}

func TestCancelRun(t *testing.T) {
	t.Run("active run", func(t *testing.T) {
		var cancelled uuid.UUID
		svc := &mockSyncService{
			cancelFn: func(id uuid.UUID) error {
				cancelled = id
				return nil
			},
		}
		srv := newTestHTTPServer(svc)

		rr := serveHTTP(srv, httptest.NewRequest(http.MethodPost, "/api/v1/sync/runs/"+testRunID.String()+"/cancel", nil))

		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}
		if cancelled != testRunID {
			t.Errorf("expected cancel for %s, got %s", testRunID, cancelled)
		}
		var resp cancelSyncResponse
		decodeBody(t, rr, &resp)
		if resp.Status != "cancelling" {
			t.Errorf("expected status cancelling, got %s", resp.Status)
		}
	})

	t.Run("run not active", func(t *testing.T) {
		srv := newTestHTTPServer(&mockSyncService{})

		rr := serveHTTP(srv, httptest.NewRequest(http.MethodPost, "/api/v1/sync/runs/"+testRunID.String()+"/cancel", nil))

		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("invalid id", func(t *testing.T) {
		srv := newTestHTTPServer(&mockSyncService{})

		rr := serveHTTP(srv, httptest.NewRequest(http.MethodPost, "/api/v1/sync/runs/not-a-uuid/cancel", nil))

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestGetRun(t *testing.T) {
	svc := &mockSyncService{
		getRunFn: func(_ context.Context, id uuid.UUID) (*domain.SyncRun, error) {
			if id != testRunID {
				return nil, domain.NewNotFoundError("sync run", id.String())
			}
			run := testRun(domain.SyncStatusFailed)
			run.ErrorDetail = "source rejected credentials: api_key=abc"
			return run, nil
		},
	}
	srv := newTestHTTPServer(svc)

	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/sync/runs/"+testRunID.String(), nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "api_key") {
		t.Errorf("error detail leaked in response: %s", rr.Body.String())
	}

	var resp syncRunResponse
	decodeBody(t, rr, &resp)
	if resp.Status != "failed" {
		t.Errorf("expected status failed, got %s", resp.Status)
	}
	if resp.Counts.Inserted != 3 || resp.Counts.Unchanged != 2 {
		t.Errorf("unexpected counts %+v", resp.Counts)
	}
	if resp.Duration != "1m30s" {
		t.Errorf("expected duration 1m30s, got %s", resp.Duration)
	}

	other := uuid.New()
	rr = serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/sync/runs/"+other.String(), nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestGetLatestRun(t *testing.T) {
	t.Run("no runs yet", func(t *testing.T) {
		srv := newTestHTTPServer(&mockSyncService{})
		rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/sync/runs/latest", nil))
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("returns latest", func(t *testing.T) {
		svc := &mockSyncService{
			latestRunFn: func(_ context.Context) (*domain.SyncRun, error) {
				return testRun(domain.SyncStatusSuccess), nil
			},
		}
		srv := newTestHTTPServer(svc)
		rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/sync/runs/latest", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var resp syncRunResponse
		decodeBody(t, rr, &resp)
		if resp.RunID != testRunID.String() {
			t.Errorf("expected run_id %s, got %s", testRunID, resp.RunID)
		}
	})
}

func TestListRuns_Pagination(t *testing.T) {
	var captured repository.SyncRunFilter
	svc := &mockSyncService{
		listRunsFn: func(_ context.Context, filter repository.SyncRunFilter) ([]*domain.SyncRun, int64, error) {
			captured = filter
			return []*domain.SyncRun{testRun(domain.SyncStatusPartial)}, 25, nil
		},
	}
	srv := newTestHTTPServer(svc)

	token := base64.StdEncoding.EncodeToString([]byte("10"))
	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/sync/runs?page_size=10&status=partial&page_token="+token, nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Limit != 10 || captured.Offset != 10 {
		t.Errorf("expected limit 10 offset 10, got %d/%d", captured.Limit, captured.Offset)
	}
	if captured.Status != domain.SyncStatusPartial {
		t.Errorf("expected status filter partial, got %q", captured.Status)
	}

	var resp listSyncRunsResponse
	decodeBody(t, rr, &resp)
	if resp.TotalCount != 25 || len(resp.Runs) != 1 {
		t.Errorf("unexpected list response %+v", resp)
	}
	next, _ := base64.StdEncoding.DecodeString(resp.NextPageToken)
	if string(next) != "20" {
		t.Errorf("expected next offset 20, got %q", next)
	}
}

func TestListRuns_InvalidStatus(t *testing.T) {
	srv := newTestHTTPServer(&mockSyncService{})
	rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/api/v1/sync/runs?status=exploded", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestBackfillAnnotations(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		srv := newTestHTTPServer(&mockSyncService{})
		rr := serveHTTP(srv, httptest.NewRequest(http.MethodPost, "/api/v1/annotations/backfill", nil))
		if rr.Code != http.StatusConflict {
			t.Fatalf("expected status 409, got %d", rr.Code)
		}
	})

	t.Run("runs with limit", func(t *testing.T) {
		var gotLimit int
		svc := &mockSyncService{
			backfillFn: func(_ context.Context, limit int) (*annotation.BackfillResult, error) {
				gotLimit = limit
				return &annotation.BackfillResult{Candidates: 4, Annotated: 3, Failed: 1}, nil
			},
		}
		srv := newTestHTTPServer(svc)
		rr := serveHTTP(srv, httptest.NewRequest(http.MethodPost, "/api/v1/annotations/backfill?limit=4", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if gotLimit != 4 {
			t.Errorf("expected limit 4, got %d", gotLimit)
		}
		var resp annotation.BackfillResult
		decodeBody(t, rr, &resp)
		if resp.Annotated != 3 || resp.Failed != 1 {
			t.Errorf("unexpected result %+v", resp)
		}
	})

	t.Run("invalid limit", func(t *testing.T) {
		srv := newTestHTTPServer(&mockSyncService{})
		rr := serveHTTP(srv, httptest.NewRequest(http.MethodPost, "/api/v1/annotations/backfill?limit=-1", nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", domain.NewNotFoundError("record", "1"), http.StatusNotFound},
		{"validation", domain.NewValidationError("page_size", "must be positive"), http.StatusBadRequest},
		{"in progress", domain.ErrSyncInProgress, http.StatusConflict},
		{"annotation disabled", annotation.ErrDisabled, http.StatusConflict},
		{"rate limited", domain.ErrRateLimited, http.StatusTooManyRequests},
		{"unavailable", domain.ErrServiceUnavailable, http.StatusServiceUnavailable},
		{"annotation unavailable", domain.ErrAnnotationUnavailable, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeDomainError(rr, tt.err)
			if rr.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rr.Code)
			}
		})
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Run("liveness", func(t *testing.T) {
		srv := newTestHTTPServer(&mockSyncService{})
		rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("ready", func(t *testing.T) {
		srv := newTestHTTPServer(&mockSyncService{})
		rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("not ready", func(t *testing.T) {
		health := &mockHealth{status: database.HealthStatus{Status: "unhealthy", Error: "dial tcp 10.0.0.5:5432: connection refused"}}
		srv := NewServer(Config{}, &mockSyncService{}, health, zerolog.Nop())
		rr := serveHTTP(srv, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d", rr.Code)
		}
		if strings.Contains(rr.Body.String(), "10.0.0.5") {
			t.Errorf("database error leaked: %s", rr.Body.String())
		}
	})
}

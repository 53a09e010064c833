package activities

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/helixir/literature-sync-service/internal/annotation"
	"github.com/helixir/literature-sync-service/internal/domain"
	"github.com/helixir/literature-sync-service/internal/temporal"
)

type fakeSyncer struct {
	run     *domain.SyncRun
	err     error
	trigger domain.SyncTrigger
}

func (f *fakeSyncer) Update(_ context.Context, trigger domain.SyncTrigger) (*domain.SyncRun, error) {
	f.trigger = trigger
	return f.run, f.err
}

type fakeBackfiller struct {
	result *annotation.BackfillResult
	err    error
	limit  int
}

func (f *fakeBackfiller) Backfill(_ context.Context, limit int) (*annotation.BackfillResult, error) {
	f.limit = limit
	return f.result, f.err
}

type fakeRegenerator struct {
	results []*annotation.SummaryResult
	err     error
}

func (f *fakeRegenerator) RegenerateSummaries(context.Context) ([]*annotation.SummaryResult, error) {
	return f.results, f.err
}

func finishedRun(status domain.SyncStatus) *domain.SyncRun {
	return &domain.SyncRun{
		ID:         uuid.MustParse("0b9f3c52-7d0e-4d8e-9b8e-3f6f2d7d5a11"),
		Mode:       domain.SyncModeUpdate,
		Trigger:    domain.TriggerSchedule,
		Status:     status,
		SyncCounts: domain.SyncCounts{Fetched: 4, Inserted: 1, Updated: 1, Unchanged: 2},
	}
}

func applicationErrorType(t *testing.T, err error) (string, bool) {
	t.Helper()
	var appErr *sdktemporal.ApplicationError
	require.True(t, errors.As(err, &appErr), "expected application error, got %v", err)
	return appErr.Type(), appErr.NonRetryable()
}

func TestRunUpdateSync_Success(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestActivityEnvironment()

	syncer := &fakeSyncer{run: finishedRun(domain.SyncStatusSuccess)}
	acts := NewSyncActivities(syncer, nil, nil)
	env.RegisterActivity(acts)

	result, err := env.ExecuteActivity(acts.RunUpdateSync, RunUpdateSyncInput{})
	require.NoError(t, err)

	var out RunUpdateSyncOutput
	require.NoError(t, result.Get(&out))
	assert.Equal(t, "0b9f3c52-7d0e-4d8e-9b8e-3f6f2d7d5a11", out.RunID)
	assert.Equal(t, domain.SyncStatusSuccess, out.Status)
	assert.Equal(t, 2, out.Counts.Unchanged)
	assert.Equal(t, domain.TriggerSchedule, syncer.trigger)
}

func TestRunUpdateSync_ErrorTypes(t *testing.T) {
	tests := []struct {
		name         string
		run          *domain.SyncRun
		err          error
		wantType     string
		nonRetryable bool
	}{
		{"marker held", nil, fmt.Errorf("acquire: %w", domain.ErrSyncInProgress), temporal.ErrTypeSyncInProgress, true},
		{"invalid request", nil, domain.NewValidationError("query", "must not be empty"), temporal.ErrTypeInvalidInput, true},
		{"credentials", finishedRun(domain.SyncStatusFailed), fmt.Errorf("search: %w", domain.ErrUnauthorized), temporal.ErrTypeUnauthorized, true},
		{"source down", finishedRun(domain.SyncStatusFailed), fmt.Errorf("search: %w", domain.ErrServiceUnavailable), temporal.ErrTypeSyncFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			suite := &testsuite.WorkflowTestSuite{}
			env := suite.NewTestActivityEnvironment()

			acts := NewSyncActivities(&fakeSyncer{run: tt.run, err: tt.err}, nil, nil)
			env.RegisterActivity(acts)

			_, err := env.ExecuteActivity(acts.RunUpdateSync, RunUpdateSyncInput{Trigger: domain.TriggerSchedule})
			require.Error(t, err)

			errType, nonRetryable := applicationErrorType(t, err)
			assert.Equal(t, tt.wantType, errType)
			assert.Equal(t, tt.nonRetryable, nonRetryable)
		})
	}
}

func TestInterruptedError(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	t.Run("cancelled partial run is retryable", func(t *testing.T) {
		err := interruptedError(cancelled, finishedRun(domain.SyncStatusPartial))
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)

		errType, nonRetryable := applicationErrorType(t, err)
		assert.Equal(t, temporal.ErrTypeSyncInterrupted, errType)
		assert.False(t, nonRetryable)
	})

	t.Run("live context keeps partial result", func(t *testing.T) {
		assert.NoError(t, interruptedError(context.Background(), finishedRun(domain.SyncStatusPartial)))
	})

	t.Run("run that finished before cancellation", func(t *testing.T) {
		assert.NoError(t, interruptedError(cancelled, finishedRun(domain.SyncStatusSuccess)))
	})
}

func TestBackfillAnnotations(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()

		bf := &fakeBackfiller{result: &annotation.BackfillResult{Candidates: 2, Annotated: 1, Failed: 1}}
		acts := NewSyncActivities(&fakeSyncer{}, bf, nil)
		env.RegisterActivity(acts)

		result, err := env.ExecuteActivity(acts.BackfillAnnotations, BackfillAnnotationsInput{Limit: 25})
		require.NoError(t, err)

		var out annotation.BackfillResult
		require.NoError(t, result.Get(&out))
		assert.Equal(t, 1, out.Annotated)
		assert.Equal(t, 25, bf.limit)
	})

	t.Run("no backfiller", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()

		acts := NewSyncActivities(&fakeSyncer{}, nil, nil)
		env.RegisterActivity(acts)

		_, err := env.ExecuteActivity(acts.BackfillAnnotations, BackfillAnnotationsInput{})
		require.Error(t, err)
		errType, nonRetryable := applicationErrorType(t, err)
		assert.Equal(t, temporal.ErrTypeAnnotationOff, errType)
		assert.True(t, nonRetryable)
	})

	t.Run("disabled service", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()

		acts := NewSyncActivities(&fakeSyncer{}, &fakeBackfiller{err: annotation.ErrDisabled}, nil)
		env.RegisterActivity(acts)

		_, err := env.ExecuteActivity(acts.BackfillAnnotations, BackfillAnnotationsInput{})
		require.Error(t, err)
		errType, _ := applicationErrorType(t, err)
		assert.Equal(t, temporal.ErrTypeAnnotationOff, errType)
	})
}

func TestRegenerateSummaries(t *testing.T) {
	summary := func(lang string, version int) *annotation.SummaryResult {
		return &annotation.SummaryResult{
			Summary:    &domain.ResearchSummary{Language: lang, Version: version},
			UpdateType: domain.SummaryIncremental,
			NewPapers:  2,
		}
	}

	t.Run("reports every language", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()

		acts := NewSyncActivities(&fakeSyncer{}, nil, &fakeRegenerator{results: []*annotation.SummaryResult{summary("en", 3), summary("fr", 1)}})
		env.RegisterActivity(acts)

		result, err := env.ExecuteActivity(acts.RegenerateSummaries)
		require.NoError(t, err)

		var out RegenerateSummariesOutput
		require.NoError(t, result.Get(&out))
		require.Len(t, out.Summaries, 2)
		assert.Equal(t, temporal.SummaryOutcome{Language: "fr", Version: 1, UpdateType: domain.SummaryIncremental, NewPapers: 2}, out.Summaries[1])
		assert.Empty(t, out.Error)
	})

	t.Run("partial failure still succeeds", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()

		acts := NewSyncActivities(&fakeSyncer{}, nil, &fakeRegenerator{
			results: []*annotation.SummaryResult{summary("en", 3)},
			err:     fmt.Errorf("regenerate fr summary: %w", domain.ErrServiceUnavailable),
		})
		env.RegisterActivity(acts)

		result, err := env.ExecuteActivity(acts.RegenerateSummaries)
		require.NoError(t, err)

		var out RegenerateSummariesOutput
		require.NoError(t, result.Get(&out))
		assert.Len(t, out.Summaries, 1)
		assert.Contains(t, out.Error, "regenerate fr summary")
	})

	t.Run("nothing annotated is not retried", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()

		acts := NewSyncActivities(&fakeSyncer{}, nil, &fakeRegenerator{err: annotation.ErrNothingToSummarize})
		env.RegisterActivity(acts)

		_, err := env.ExecuteActivity(acts.RegenerateSummaries)
		require.Error(t, err)
		errType, nonRetryable := applicationErrorType(t, err)
		assert.Equal(t, temporal.ErrTypeNothingToSummarize, errType)
		assert.True(t, nonRetryable)
	})

	t.Run("disabled", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()

		acts := NewSyncActivities(&fakeSyncer{}, nil, &fakeRegenerator{err: annotation.ErrDisabled})
		env.RegisterActivity(acts)

		_, err := env.ExecuteActivity(acts.RegenerateSummaries)
		require.Error(t, err)
		errType, _ := applicationErrorType(t, err)
		assert.Equal(t, temporal.ErrTypeAnnotationOff, errType)
	})
}

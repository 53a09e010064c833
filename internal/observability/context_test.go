package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDContext(t *testing.T) {
	t.Run("stores and retrieves request ID", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "req-123")
		assert.Equal(t, "req-123", RequestIDFromContext(ctx))
	})

	t.Run("returns empty string when not set", func(t *testing.T) {
		assert.Equal(t, "", RequestIDFromContext(context.Background()))
	})
}

func TestSyncRunIDContext(t *testing.T) {
	ctx := WithSyncRunID(context.Background(), "run-1")
	assert.Equal(t, "run-1", SyncRunIDFromContext(ctx))
	assert.Equal(t, "", SyncRunIDFromContext(context.Background()))
}

func TestWorkflowContext(t *testing.T) {
	t.Run("stores and retrieves workflow IDs", func(t *testing.T) {
		ctx := WithWorkflow(context.Background(), "wf-1", "run-2")

		workflowID, runID := WorkflowFromContext(ctx)
		assert.Equal(t, "wf-1", workflowID)
		assert.Equal(t, "run-2", runID)
	})

	t.Run("returns empty strings when not set", func(t *testing.T) {
		workflowID, runID := WorkflowFromContext(context.Background())
		assert.Empty(t, workflowID)
		assert.Empty(t, runID)
	})
}

func TestContextValueWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), requestIDKey, 42)
	assert.Equal(t, "", RequestIDFromContext(ctx))
}

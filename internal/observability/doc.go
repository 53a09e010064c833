// Package observability provides logging and metrics for the literature sync
// service.
//
// Loggers are zerolog loggers built from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{Level: "info", Format: "json"})
//	logger = observability.WithSyncContext(logger, run.ID.String(), string(run.Mode), string(run.Trigger))
//
// Metrics are Prometheus collectors registered with the default registry:
//
//	metrics := observability.NewMetrics("litsync")
//	metrics.RecordSyncStarted("update", "schedule")
//
// Standard fields used across the service:
//
//   - request_id: HTTP request identifier
//   - sync_run_id: sync run identifier
//   - external_id: source record identifier (PMID)
//   - mode, trigger: sync run mode and origin
//   - workflow_id, workflow_run_id: Temporal identifiers
package observability

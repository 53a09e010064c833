// Package temporal schedules the weekly literature update through Temporal.
//
// A Temporal Schedule starts ScheduledSyncWorkflow on the configured cron
// (Monday 09:00 by default). The workflow runs one update sync as an
// activity and, when configured, an annotation backfill pass afterwards.
// An update that inserted records can also revise the research summaries.
//
// # Client Setup
//
//	c, err := temporal.NewClient(temporal.ClientConfig{
//	    HostPort:  "localhost:7233",
//	    Namespace: "default",
//	    Logger:    observability.NewTemporalLogger(logger),
//	})
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
// # Schedule
//
//	err = temporal.EnsureSyncSchedule(ctx, c.ScheduleClient(), temporal.ScheduleConfig{
//	    ScheduleID: "litsync-weekly-update",
//	    Cron:       "0 9 * * 1",
//	    TaskQueue:  "litsync",
//	})
//
// EnsureSyncSchedule creates the schedule once and leaves an existing one
// in place, so every worker replica may call it at startup.
//
// # Error Handling
//
// A scheduled run that finds another sync holding the marker fails its
// activity with the non-retryable type ErrTypeSyncInProgress, and the
// workflow completes as skipped rather than failed. A run cut short by
// activity cancellation or timeout finalizes as partial and the activity
// fails with the retryable type ErrTypeSyncInterrupted.
package temporal

package temporal

import (
	"context"
	"errors"
	"fmt"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	sdktemporal "go.temporal.io/sdk/temporal"
)

// Schedule defaults.
const (
	DefaultScheduleID   = "litsync-weekly-update"
	DefaultScheduleCron = "0 9 * * 1"

	// DefaultWorkflowExecutionTimeout bounds one scheduled run including backfill.
	DefaultWorkflowExecutionTimeout = 4 * time.Hour
)

// ScheduleCreator is the part of client.ScheduleClient used to create schedules.
type ScheduleCreator interface {
	Create(ctx context.Context, options client.ScheduleOptions) (client.ScheduleHandle, error)
}

// ScheduleConfig describes the weekly update schedule.
type ScheduleConfig struct {
	ScheduleID string
	Cron       string
	TimeZone   string
	TaskQueue  string
	Input      ScheduledSyncInput

	ExecutionTimeout time.Duration
}

func (c ScheduleConfig) withDefaults() ScheduleConfig {
	if c.ScheduleID == "" {
		c.ScheduleID = DefaultScheduleID
	}
	if c.Cron == "" {
		c.Cron = DefaultScheduleCron
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = DefaultWorkflowExecutionTimeout
	}
	return c
}

// scheduleOptions builds the Temporal schedule. Overlapping runs are skipped
// because the sync marker would reject them anyway.
func scheduleOptions(cfg ScheduleConfig) client.ScheduleOptions {
	return client.ScheduleOptions{
		ID: cfg.ScheduleID,
		Spec: client.ScheduleSpec{
			CronExpressions: []string{cfg.Cron},
			TimeZoneName:    cfg.TimeZone,
		},
		Action: &client.ScheduleWorkflowAction{
			ID:                       cfg.ScheduleID + "-run",
			Workflow:                 ScheduledSyncWorkflowName,
			Args:                     []interface{}{cfg.Input},
			TaskQueue:                cfg.TaskQueue,
			WorkflowExecutionTimeout: cfg.ExecutionTimeout,
		},
		Overlap: enumspb.SCHEDULE_OVERLAP_POLICY_SKIP,
	}
}

// EnsureSyncSchedule creates the update schedule. An existing schedule with
// the same id is left in place and is not an error.
func EnsureSyncSchedule(ctx context.Context, creator ScheduleCreator, cfg ScheduleConfig) (created bool, err error) {
	if cfg.TaskQueue == "" {
		return false, fmt.Errorf("task queue is required")
	}
	cfg = cfg.withDefaults()

	_, err = creator.Create(ctx, scheduleOptions(cfg))
	if err == nil {
		return true, nil
	}

	var alreadyExists *serviceerror.AlreadyExists
	if errors.Is(err, sdktemporal.ErrScheduleAlreadyRunning) || errors.As(err, &alreadyExists) {
		return false, nil
	}
	return false, wrapTemporalError("EnsureSyncSchedule", err, cfg.ScheduleID)
}

package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-timesheets/internal/timesheet"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTimesheetEvent delivers a lifecycle event to the history writers.
	TaskTimesheetEvent = "timesheet:event"
	// TaskIdempotencyCleanup purges expired bulk-decision keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"

	eventMaxRetry = 10
)

// NewTimesheetEventTask wraps evt in a task deduplicated by the event id.
func NewTimesheetEventTask(evt timesheet.Event) (*asynq.Task, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTimesheetEvent, data,
		asynq.TaskID(evt.ID.String()),
		asynq.MaxRetry(eventMaxRetry),
		asynq.Queue(QueueDefault),
	), nil
}

// IdempotencyCleanupPayload configures a cleanup run.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// Retention returns the configured retention, defaulting to one week.
func (p IdempotencyCleanupPayload) Retention() time.Duration {
	if p.RetentionHours <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(p.RetentionHours) * time.Hour
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.MaxRetry(3)), nil
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-timesheets/internal/jobs"
	"github.com/odyssey-erp/odyssey-timesheets/internal/shared"
	"github.com/odyssey-erp/odyssey-timesheets/internal/timesheet"
)

// Enqueuer is the subset of asynq.Client used to publish events.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// EventPublisher hands timesheet events to the worker queue.
type EventPublisher struct {
	queue Enqueuer
}

// NewEventPublisher constructs the publisher.
func NewEventPublisher(queue Enqueuer) *EventPublisher {
	return &EventPublisher{queue: queue}
}

// Publish enqueues evt. Re-publishing an already queued event is not an error.
func (p *EventPublisher) Publish(ctx context.Context, evt timesheet.Event) error {
	task, err := NewTimesheetEventTask(evt)
	if err != nil {
		return err
	}
	if _, err := p.queue.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil
		}
		return fmt.Errorf("enqueue %s: %w", evt.Type, err)
	}
	return nil
}

// ApprovalWriter persists approval history entries.
type ApprovalWriter interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// AuditWriter persists audit entries.
type AuditWriter interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// EventRecorderJob writes delivered timesheet events to the approvals and audit logs.
type EventRecorderJob struct {
	Approvals ApprovalWriter
	Audit     AuditWriter
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewEventRecorderJob wires the recorder.
func NewEventRecorderJob(approvals ApprovalWriter, audit AuditWriter, logger *slog.Logger, metrics *jobmetrics.Metrics) *EventRecorderJob {
	return &EventRecorderJob{Approvals: approvals, Audit: audit, Logger: logger, Metrics: metrics}
}

var approvalActions = map[timesheet.EventType]shared.ApprovalAction{
	timesheet.EventSubmitted:   shared.ApprovalSubmit,
	timesheet.EventApproved:    shared.ApprovalApprove,
	timesheet.EventRejected:    shared.ApprovalReject,
	timesheet.EventResubmitted: shared.ApprovalResubmit,
}

// Handle processes TaskTimesheetEvent tasks. Both writers are keyed by the event id, so
// redelivery after a partial failure is safe.
func (j *EventRecorderJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil {
		return errors.New("event recorder: handler not configured")
	}
	var evt timesheet.Event
	if err := json.Unmarshal(t.Payload(), &evt); err != nil || evt.ID == uuid.Nil || evt.Type == "" {
		j.logger().Warn("dropping malformed timesheet event", slog.String("payload", string(t.Payload())))
		return fmt.Errorf("decode timesheet event: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskTimesheetEvent)
	defer func() { err = tracker.End(err) }()
	j.Metrics.AddEvent(string(evt.Type))

	logger := j.logger().With(
		slog.String("event_id", evt.ID.String()),
		slog.String("type", string(evt.Type)),
	)

	if action, ok := approvalActions[evt.Type]; ok && j.Approvals != nil {
		entry := shared.ApprovalLog{
			EventID: evt.ID,
			Module:  timesheet.ApprovalModule,
			RefID:   evt.TimesheetID,
			ActorID: evt.ActorID,
			Action:  action,
			Note:    evt.Comments,
			At:      evt.OccurredAt,
		}
		if err := j.Approvals.Record(ctx, entry); err != nil {
			logger.Error("record approval history", slog.Any("error", err))
			return err
		}
	}

	if j.Audit != nil {
		if err := j.Audit.Record(ctx, auditEntry(evt)); err != nil {
			logger.Error("record audit log", slog.Any("error", err))
			return err
		}
	}
	logger.Debug("timesheet event recorded")
	return nil
}

func auditEntry(evt timesheet.Event) shared.AuditLog {
	meta := map[string]any{
		"employeeId": evt.EmployeeID.String(),
		"weekStart":  evt.WeekStart,
		"status":     string(evt.Status),
	}
	if evt.Comments != "" {
		meta["comments"] = evt.Comments
	}
	entity, entityID := "timesheet", evt.TimesheetID.String()
	if evt.Type == timesheet.EventWeekSubmitted {
		entity = "timesheet_week"
		entityID = evt.EmployeeID.String() + "/" + evt.WeekStart
		ids := make([]string, 0, len(evt.RecordIDs))
		for _, id := range evt.RecordIDs {
			ids = append(ids, id.String())
		}
		meta["timesheetIds"] = ids
	}
	return shared.AuditLog{
		EventID:  evt.ID,
		ActorID:  evt.ActorID,
		Action:   string(evt.Type),
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
		At:       evt.OccurredAt,
	}
}

func (j *EventRecorderJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

// IdempotencyJanitor removes expired idempotency keys.
type IdempotencyJanitor interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob runs the janitor on a schedule.
type IdempotencyCleanupJob struct {
	Store   IdempotencyJanitor
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: store not configured")
	}
	var payload IdempotencyCleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode cleanup payload: %w", asynq.SkipRetry)
		}
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	defer func() { err = tracker.End(err) }()

	removed, err := j.Store.Cleanup(ctx, payload.Retention())
	if err != nil {
		return err
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("idempotency keys purged", slog.Int64("removed", removed), slog.Duration("retention", payload.Retention()))
	return nil
}

package timesheet

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a lifecycle event.
type EventType string

const (
	EventSubmitted     EventType = "timesheet.submitted"
	EventApproved      EventType = "timesheet.approved"
	EventRejected      EventType = "timesheet.rejected"
	EventResubmitted   EventType = "timesheet.resubmitted"
	EventDeleted       EventType = "timesheet.deleted"
	EventWeekSubmitted EventType = "timesheet.week_submitted"
)

// Event is published after a transition commits.
type Event struct {
	ID          uuid.UUID   `json:"id"`
	Type        EventType   `json:"type"`
	TimesheetID uuid.UUID   `json:"timesheetId,omitempty"`
	EmployeeID  uuid.UUID   `json:"employeeId"`
	ActorID     uuid.UUID   `json:"actorId"`
	WeekStart   string      `json:"weekStartDate"`
	Status      Status      `json:"status,omitempty"`
	RecordIDs   []uuid.UUID `json:"recordIds,omitempty"`
	Comments    string      `json:"comments,omitempty"`
	OccurredAt  time.Time   `json:"occurredAt"`
}

// EventPublisher hands events to the outbound queue.
type EventPublisher interface {
	Publish(ctx context.Context, evt Event) error
}

// NopPublisher drops events.
type NopPublisher struct{}

// Publish implements EventPublisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

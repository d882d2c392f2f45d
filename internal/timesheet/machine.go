package timesheet

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Command asks the state machine to apply an action.
type Command struct {
	Action   Action
	Actor    uuid.UUID
	Comments string
	At       time.Time
}

// Transition describes what Apply did.
type Transition struct {
	From Status
	To   Status
	// Changed is false for idempotent no-ops such as re-submitting a Submitted record.
	Changed bool
	// Event is empty when the transition emits nothing.
	Event EventType
}

type transitionKey struct {
	from   Status
	action Action
}

var transitions = map[transitionKey]Status{
	{StatusDraft, ActionSubmit}:       StatusSubmitted,
	{StatusSubmitted, ActionApprove}:  StatusApproved,
	{StatusSubmitted, ActionReject}:   StatusRejected,
	{StatusRejected, ActionResubmit}:  StatusDraft,
	{StatusDraft, ActionEdit}:         StatusDraft,
	{StatusRejected, ActionEdit}:      StatusRejected,
	{StatusDraft, ActionDelete}:       StatusDraft,
	{StatusSubmitted, ActionDelete}:   StatusSubmitted,
	{StatusApproved, ActionDelete}:    StatusApproved,
	{StatusRejected, ActionDelete}:    StatusRejected,
}

var transitionEvents = map[Action]EventType{
	ActionSubmit:   EventSubmitted,
	ActionApprove:  EventApproved,
	ActionReject:   EventRejected,
	ActionResubmit: EventResubmitted,
	ActionDelete:   EventDeleted,
}

// CanApply reports whether action is legal from status.
func CanApply(status Status, action Action) bool {
	_, ok := transitions[transitionKey{status, action}]
	return ok
}

// Apply mutates ts according to cmd. ts is left untouched when an error is returned.
func Apply(ts *Timesheet, cmd Command) (Transition, error) {
	if ts.Deleted() {
		return Transition{}, &IllegalTransitionError{RecordID: ts.ID, Current: ts.Status, Action: cmd.Action}
	}
	from := ts.Status
	if cmd.Action == ActionSubmit && from == StatusSubmitted {
		return Transition{From: from, To: from}, nil
	}
	to, ok := transitions[transitionKey{from, cmd.Action}]
	if !ok {
		return Transition{}, &IllegalTransitionError{RecordID: ts.ID, Current: from, Action: cmd.Action}
	}
	at := cmd.At.UTC()
	comments := strings.TrimSpace(cmd.Comments)

	switch cmd.Action {
	case ActionSubmit:
		ts.SubmittedAt = &at
	case ActionApprove:
		actor := cmd.Actor
		ts.ApprovedAt = &at
		ts.ApprovedBy = &actor
		if comments != "" {
			ts.ApproverComments = &comments
		}
	case ActionReject:
		if comments == "" {
			return Transition{}, newValidationError(ts.ID, "approverComments", RuleRequired, "a reason is required to reject a timesheet")
		}
		actor := cmd.Actor
		ts.RejectedAt = &at
		ts.ApprovedBy = &actor
		ts.ApproverComments = &comments
	case ActionResubmit:
		ts.RejectedAt = nil
		ts.ApproverComments = nil
		ts.ApprovedBy = nil
	case ActionDelete:
		ts.DeletedAt = &at
	}
	ts.Status = to
	ts.UpdatedAt = at
	return Transition{From: from, To: to, Changed: true, Event: transitionEvents[cmd.Action]}, nil
}

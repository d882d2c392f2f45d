package timesheet

import (
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-timesheets/internal/shared"
)

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed bool
	Reason  string
	// StatusConflict marks a denial caused by the record status rather than the caller.
	StatusConflict bool
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

func conflict(reason string) Decision { return Decision{Reason: reason, StatusConflict: true} }

// Err converts a denial into an error. Status conflicts become IllegalTransitionError.
func (d Decision) Err(action Action, record Timesheet) error {
	if d.Allowed {
		return nil
	}
	if d.StatusConflict {
		return &IllegalTransitionError{RecordID: record.ID, Current: record.Status, Action: action}
	}
	return &AuthorizationError{Action: action, Reason: d.Reason}
}

// Authorize decides whether caller may perform action on record. ownerManagerID is the
// manager of the record owner, nil when the owner has none.
func Authorize(action Action, caller shared.Principal, record Timesheet, ownerManagerID *uuid.UUID) Decision {
	isOwner := caller.EmployeeID == record.EmployeeID
	isAdmin := caller.Role == shared.RoleAdmin

	switch action {
	case ActionEdit:
		if isAdmin {
			return allow()
		}
		if !isOwner {
			return deny("only the owner may edit a timesheet")
		}
		if !record.Status.Pending() {
			return conflict("only Draft or Rejected timesheets can be edited")
		}
		return allow()

	case ActionDelete:
		if !isAdmin {
			return deny("only administrators may delete timesheets")
		}
		return allow()

	case ActionSubmit:
		if !isOwner && !isAdmin {
			return deny("only the owner may submit a timesheet")
		}
		return allow()

	case ActionApprove, ActionReject:
		if isOwner {
			return deny("employees cannot review their own timesheets")
		}
		if record.Status != StatusSubmitted {
			return conflict("only Submitted timesheets can be reviewed")
		}
		switch caller.Role {
		case shared.RoleAdmin, shared.RoleHR:
			return allow()
		case shared.RoleManager:
			if ownerManagerID != nil && *ownerManagerID == caller.EmployeeID {
				return allow()
			}
			return deny("managers may only review their direct reports")
		case shared.RoleEmployee:
			return deny("employees cannot review timesheets")
		default:
			return deny("unknown role")
		}

	case ActionResubmit:
		if !isOwner && !isAdmin {
			return deny("only the owner may resubmit a timesheet")
		}
		if record.Status != StatusRejected {
			return conflict("only Rejected timesheets can be resubmitted")
		}
		return allow()

	case ActionView:
		if isOwner || caller.Privileged() {
			return allow()
		}
		if caller.Role == shared.RoleManager && (caller.Manages(record.EmployeeID) ||
			(ownerManagerID != nil && *ownerManagerID == caller.EmployeeID)) {
			return allow()
		}
		return deny("timesheet belongs to another employee")

	default:
		return deny("unsupported action")
	}
}

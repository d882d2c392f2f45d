package timesheet

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-timesheets/internal/shared"
	"github.com/odyssey-erp/odyssey-timesheets/internal/timesheet/week"
)

// Status is the lifecycle state of a timesheet.
type Status string

const (
	StatusDraft     Status = "Draft"
	StatusSubmitted Status = "Submitted"
	StatusApproved  Status = "Approved"
	StatusRejected  Status = "Rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Pending reports whether the record still belongs to the employee's open work for the week.
func (s Status) Pending() bool {
	return s == StatusDraft || s == StatusRejected
}

// Action is an operation requested on a timesheet.
type Action string

const (
	ActionCreate   Action = "create"
	ActionEdit     Action = "edit"
	ActionDelete   Action = "delete"
	ActionSubmit   Action = "submit"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionResubmit Action = "resubmit"
	ActionView     Action = "view"
)

// DailyHours holds Monday..Sunday hours.
type DailyHours [7]decimal.Decimal

// DayFields are the wire names of the daily hour fields, Monday first.
var DayFields = [7]string{
	"mondayHours", "tuesdayHours", "wednesdayHours", "thursdayHours",
	"fridayHours", "saturdayHours", "sundayHours",
}

// Sum adds all days.
func (h DailyHours) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, d := range h {
		total = total.Add(d)
	}
	return total
}

// Timesheet is one employee's hours for one task in one week.
type Timesheet struct {
	ID               uuid.UUID
	EmployeeID       uuid.UUID
	ProjectID        uuid.UUID
	TaskID           uuid.UUID
	WeekStart        time.Time
	WeekEnd          time.Time
	WeekNumber       int
	Year             int
	Hours            DailyHours
	TotalHours       decimal.Decimal
	Description      string
	Status           Status
	SubmittedAt      *time.Time
	ApprovedAt       *time.Time
	RejectedAt       *time.Time
	ApproverComments *string
	ApprovedBy       *uuid.UUID
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time
}

// Period returns the record's reporting week.
func (t Timesheet) Period() week.Period {
	return week.Period{Start: t.WeekStart, End: t.WeekEnd, Number: t.WeekNumber, Year: t.Year}
}

// Deleted reports whether the record carries a tombstone.
func (t Timesheet) Deleted() bool {
	return t.DeletedAt != nil
}

// Input is the editable payload of a timesheet.
type Input struct {
	// EmployeeID defaults to the caller. Only admins may set another employee.
	EmployeeID  uuid.UUID
	ProjectID   uuid.UUID
	TaskID      uuid.UUID
	WeekStart   time.Time
	WeekEnd     time.Time
	WeekNumber  int
	Year        int
	Hours       DailyHours
	TotalHours  *decimal.Decimal
	Description string
}

// ListFilter narrows List results.
type ListFilter struct {
	// EmployeeIDs restricts visibility. Nil means unrestricted.
	EmployeeIDs []uuid.UUID
	// ExcludeEmployeeID hides one employee's records, used for approval queues.
	ExcludeEmployeeID *uuid.UUID
	EmployeeID        *uuid.UUID
	ProjectID         *uuid.UUID
	Status            *Status
	WeekStart         *time.Time
	From              *time.Time
	To                *time.Time
	Year              int
	WeekNumber        int
	SortBy            string
	SortOrder         string
	Page              int
	PerPage           int
	// Unpaged returns every match.
	Unpaged bool
}

// Page is one page of timesheets.
type Page struct {
	Items      []Timesheet
	Pagination shared.Pagination
}

// SummaryFilter narrows status summaries.
type SummaryFilter struct {
	EmployeeIDs []uuid.UUID
	EmployeeID  *uuid.UUID
	Year        int
}

// StatusTotal aggregates records per status.
type StatusTotal struct {
	Status     Status
	Count      int
	TotalHours decimal.Decimal
}

// PendingFilter narrows the approval queue.
type PendingFilter struct {
	Year       int
	WeekNumber int
	EmployeeID *uuid.UUID
}

// PendingQueue lists records awaiting the caller's decision.
type PendingQueue struct {
	Items        []Timesheet
	TotalPending int
	TotalHours   decimal.Decimal
	Employees    int
}

// BulkFailure explains why one record of a bulk decision was not applied.
type BulkFailure struct {
	ID     uuid.UUID
	Code   string
	Reason string
}

// BulkDecision is the per-record outcome of bulk approve or reject.
type BulkDecision struct {
	Succeeded []Timesheet
	Failed    []BulkFailure
}

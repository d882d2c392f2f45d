package timesheet

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-timesheets/internal/catalog"
	"github.com/odyssey-erp/odyssey-timesheets/internal/timesheet/week"
)

// Rules are the tunable limits applied by Validator.
type Rules struct {
	MaxDailyHours     decimal.Decimal
	MaxWeeklyHours    decimal.Decimal
	Tolerance         decimal.Decimal
	AllowFutureWeeks  bool
	DescriptionMaxLen int
	CommentsMaxLen    int
}

// DefaultRules returns the standard limits.
func DefaultRules() Rules {
	return Rules{
		MaxDailyHours:     decimal.NewFromInt(24),
		MaxWeeklyHours:    decimal.NewFromInt(168),
		Tolerance:         decimal.RequireFromString("0.01"),
		DescriptionMaxLen: 500,
		CommentsMaxLen:    500,
	}
}

// Mode selects which checks apply.
type Mode int

const (
	ModeCreate Mode = iota
	ModeUpdate
	ModeSubmit
)

// CatalogPort resolves tasks.
type CatalogPort interface {
	Task(ctx context.Context, projectID, taskID uuid.UUID) (catalog.Task, error)
}

// DuplicateFinder looks up an existing record for the same employee, task and week.
type DuplicateFinder interface {
	FindDuplicate(ctx context.Context, employeeID, projectID, taskID uuid.UUID, weekStart time.Time) (uuid.UUID, bool, error)
}

// CheckOptions adjusts reference checks.
type CheckOptions struct {
	// BypassAssignment lets an admin file time on a task assigned to someone else.
	BypassAssignment bool
}

// Validator checks candidate timesheets against business rules. It never mutates the record.
type Validator struct {
	rules   Rules
	catalog CatalogPort
	dupes   DuplicateFinder
	now     func() time.Time
}

// NewValidator constructs a Validator. now defaults to time.Now.
func NewValidator(rules Rules, catalog CatalogPort, dupes DuplicateFinder, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{rules: rules, catalog: catalog, dupes: dupes, now: now}
}

// Rules returns the active limits.
func (v *Validator) Rules() Rules { return v.rules }

// Validate runs every check for mode. It returns *ValidationError for rule violations and
// any other error for infrastructure failures.
func (v *Validator) Validate(ctx context.Context, ts Timesheet, mode Mode, opts CheckOptions) error {
	verr := &ValidationError{RecordID: ts.ID}
	if mode == ModeCreate {
		verr.RecordID = uuid.Nil
	}

	if err := v.checkReference(ctx, ts, opts, verr); err != nil {
		return err
	}
	weekOK := v.checkWeek(ts, verr)
	v.checkHours(ts, mode, verr)
	if weekOK {
		v.checkTemporal(ts, verr)
	}
	if mode == ModeCreate && weekOK && v.dupes != nil {
		existing, found, err := v.dupes.FindDuplicate(ctx, ts.EmployeeID, ts.ProjectID, ts.TaskID, ts.WeekStart)
		if err != nil {
			return err
		}
		if found {
			verr.add("taskId", RuleDuplicate, "a timesheet for this task and week already exists (%s)", existing)
		}
	}
	return verr.errOrNil()
}

// ValidateComments checks approver comments.
func (v *Validator) ValidateComments(recordID uuid.UUID, comments string) error {
	if utf8.RuneCountInString(comments) > v.rules.CommentsMaxLen {
		return newValidationError(recordID, "approverComments", RuleTooLong,
			fmt.Sprintf("must be at most %d characters", v.rules.CommentsMaxLen))
	}
	return nil
}

func (v *Validator) checkReference(ctx context.Context, ts Timesheet, opts CheckOptions, verr *ValidationError) error {
	if ts.ProjectID == uuid.Nil {
		verr.add("projectId", RuleRequired, "is required")
	}
	if ts.TaskID == uuid.Nil {
		verr.add("taskId", RuleRequired, "is required")
	}
	if ts.ProjectID == uuid.Nil || ts.TaskID == uuid.Nil || v.catalog == nil {
		return nil
	}
	task, err := v.catalog.Task(ctx, ts.ProjectID, ts.TaskID)
	if errors.Is(err, catalog.ErrNotFound) {
		verr.add("taskId", RuleInvalidReference, "task not found")
		return nil
	}
	if err != nil {
		return err
	}
	switch {
	case task.ProjectID != ts.ProjectID:
		verr.add("taskId", RuleInvalidReference, "task does not belong to the selected project")
	case !task.ProjectActive:
		verr.add("projectId", RuleInvalidReference, "project is not active")
	case !task.Active:
		verr.add("taskId", RuleInvalidReference, "task is not active")
	case !task.OpenTo(ts.EmployeeID) && !opts.BypassAssignment:
		verr.add("taskId", RuleInvalidReference, "task is assigned to another employee")
	}
	return nil
}

func (v *Validator) checkWeek(ts Timesheet, verr *ValidationError) bool {
	if ts.WeekStart.IsZero() {
		verr.add("weekStartDate", RuleRequired, "is required")
		return false
	}
	err := week.Validate(ts.Period())
	if err == nil {
		return true
	}
	var bounds *week.BoundsError
	if errors.As(err, &bounds) {
		verr.add(bounds.Field, RuleInvalidWeekBounds, "%s", bounds.Reason)
	} else {
		verr.add("weekStartDate", RuleInvalidWeekBounds, "%s", err.Error())
	}
	return false
}

func (v *Validator) checkHours(ts Timesheet, mode Mode, verr *ValidationError) {
	for i, h := range ts.Hours {
		switch {
		case h.IsNegative() || h.GreaterThan(v.rules.MaxDailyHours):
			verr.add(DayFields[i], RuleOutOfRange, "must be between 0 and %s", v.rules.MaxDailyHours)
		case !fitsScale(h):
			verr.add(DayFields[i], RuleOutOfRange, "must have at most %d decimal places", hoursScale)
		}
	}
	switch {
	case ts.TotalHours.IsNegative() || ts.TotalHours.GreaterThan(v.rules.MaxWeeklyHours):
		verr.add("totalHoursWorked", RuleOutOfRange, "must be between 0 and %s", v.rules.MaxWeeklyHours)
	case !fitsScale(ts.TotalHours):
		verr.add("totalHoursWorked", RuleOutOfRange, "must have at most %d decimal places", hoursScale)
	}
	sum := ts.Hours.Sum()
	if ts.TotalHours.Sub(sum).Abs().GreaterThan(v.rules.Tolerance) {
		verr.add("totalHoursWorked", RuleHoursMismatch, "total %s does not match the daily sum %s", ts.TotalHours, sum)
	}
	if utf8.RuneCountInString(ts.Description) > v.rules.DescriptionMaxLen {
		verr.add("description", RuleTooLong, "must be at most %d characters", v.rules.DescriptionMaxLen)
	}
	if mode == ModeSubmit && sum.IsZero() {
		verr.add("totalHoursWorked", RuleZeroHours, "cannot submit a timesheet with zero hours")
	}
}

// hoursScale matches the NUMERIC scale of the hour columns.
const hoursScale = 2

func fitsScale(d decimal.Decimal) bool {
	return d.Equal(d.Round(hoursScale))
}

func (v *Validator) checkTemporal(ts Timesheet, verr *ValidationError) {
	if v.rules.AllowFutureWeeks {
		return
	}
	today := week.Date(v.now())
	if week.Date(ts.WeekStart).After(today) {
		verr.add("weekStartDate", RuleFutureDate, "cannot report time for a future week")
		return
	}
	for i, day := range ts.Period().Days() {
		if day.After(today) && ts.Hours[i].IsPositive() {
			verr.add(DayFields[i], RuleFutureDate, "cannot report hours for %s before it happens", day.Format(week.DateLayout))
		}
	}
}

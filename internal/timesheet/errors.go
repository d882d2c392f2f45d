package timesheet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-timesheets/internal/timesheet/week"
)

var (
	// ErrNotFound indicates the timesheet does not exist or is deleted.
	ErrNotFound = errors.New("timesheet: not found")
	// ErrValidation indicates the payload broke a business rule.
	ErrValidation = errors.New("timesheet: validation failed")
	// ErrForbidden indicates the caller may not perform the action.
	ErrForbidden = errors.New("timesheet: action not permitted")
	// ErrIllegalTransition indicates the action is not legal from the current status.
	ErrIllegalTransition = errors.New("timesheet: illegal transition")
	// ErrRequiresBulkSubmission indicates sibling records must be submitted together.
	ErrRequiresBulkSubmission = errors.New("timesheet: week must be submitted in bulk")
	// ErrIncompleteWeek indicates a bulk request that does not cover the whole week-group.
	ErrIncompleteWeek = errors.New("timesheet: incomplete week submission")
	// ErrHoursMismatch indicates total hours differ from the daily sum.
	ErrHoursMismatch = errors.New("timesheet: total hours mismatch")
	// ErrDuplicateTimesheet indicates another record exists for the same task and week.
	ErrDuplicateTimesheet = errors.New("timesheet: duplicate timesheet")
	// ErrFutureDate indicates hours reported for a future week.
	ErrFutureDate = errors.New("timesheet: future date not allowed")
	// ErrInvalidWeekBounds aliases the week package error.
	ErrInvalidWeekBounds = week.ErrInvalidBounds
	// ErrInvalidReference indicates an unknown or unusable project/task.
	ErrInvalidReference = errors.New("timesheet: invalid project or task")
	// ErrZeroHours indicates an attempt to submit an empty timesheet.
	ErrZeroHours = errors.New("timesheet: no hours reported")

	errStale = errors.New("timesheet: stale version")
)

// Rule names a violated business rule.
type Rule string

const (
	RuleRequired          Rule = "Required"
	RuleImmutable         Rule = "Immutable"
	RuleTooLong           Rule = "TooLong"
	RuleOutOfRange        Rule = "OutOfRange"
	RuleInvalidReference  Rule = "InvalidReference"
	RuleInvalidWeekBounds Rule = "InvalidWeekBounds"
	RuleHoursMismatch     Rule = "HoursMismatch"
	RuleFutureDate        Rule = "FutureDateNotAllowed"
	RuleDuplicate         Rule = "DuplicateTimesheet"
	RuleZeroHours         Rule = "ZeroHours"
)

var ruleSentinels = map[Rule]error{
	RuleInvalidReference:  ErrInvalidReference,
	RuleInvalidWeekBounds: ErrInvalidWeekBounds,
	RuleHoursMismatch:     ErrHoursMismatch,
	RuleFutureDate:        ErrFutureDate,
	RuleDuplicate:         ErrDuplicateTimesheet,
	RuleZeroHours:         ErrZeroHours,
}

// FieldError is a single rule violation.
type FieldError struct {
	Field   string `json:"field"`
	Rule    Rule   `json:"rule"`
	Message string `json:"message"`
}

// ValidationError collects rule violations for one record.
type ValidationError struct {
	RecordID uuid.UUID
	// Row is the 1-based position in a batch request, zero outside batches.
	Row    int
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	if e.RecordID != uuid.Nil {
		return fmt.Sprintf("timesheet %s: validation failed: %s", e.RecordID, strings.Join(parts, "; "))
	}
	if e.Row > 0 {
		return fmt.Sprintf("timesheet row %d: validation failed: %s", e.Row, strings.Join(parts, "; "))
	}
	return "timesheet: validation failed: " + strings.Join(parts, "; ")
}

// Is matches ErrValidation and the sentinel of every violated rule.
func (e *ValidationError) Is(target error) bool {
	if target == ErrValidation {
		return true
	}
	for _, f := range e.Fields {
		if sentinel, ok := ruleSentinels[f.Rule]; ok && sentinel == target {
			return true
		}
	}
	return false
}

// Has reports whether rule was violated.
func (e *ValidationError) Has(rule Rule) bool {
	for _, f := range e.Fields {
		if f.Rule == rule {
			return true
		}
	}
	return false
}

func (e *ValidationError) add(field string, rule Rule, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Rule: rule, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) errOrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func newValidationError(recordID uuid.UUID, field string, rule Rule, message string) *ValidationError {
	return &ValidationError{RecordID: recordID, Fields: []FieldError{{Field: field, Rule: rule, Message: message}}}
}

// GroupValidationError aggregates per-record failures of a bulk operation.
type GroupValidationError struct {
	Records []*ValidationError
}

func (e *GroupValidationError) Error() string {
	return fmt.Sprintf("timesheet: %d record(s) failed validation", len(e.Records))
}

// Unwrap exposes the per-record errors to errors.Is and errors.As.
func (e *GroupValidationError) Unwrap() []error {
	errs := make([]error, 0, len(e.Records))
	for _, r := range e.Records {
		errs = append(errs, r)
	}
	return errs
}

// AuthorizationError reports a denied action.
type AuthorizationError struct {
	Action Action
	Reason string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("timesheet: %s not permitted: %s", e.Action, e.Reason)
}

func (e *AuthorizationError) Unwrap() error { return ErrForbidden }

// IllegalTransitionError reports an action that the current status does not allow.
type IllegalTransitionError struct {
	RecordID uuid.UUID
	Current  Status
	Action   Action
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("timesheet: cannot %s a %s timesheet", e.Action, e.Current)
}

func (e *IllegalTransitionError) Unwrap() error { return ErrIllegalTransition }

// RequiresBulkSubmissionError redirects a single submit to the bulk operation.
type RequiresBulkSubmissionError struct {
	RecordID   uuid.UUID
	SiblingIDs []uuid.UUID
}

func (e *RequiresBulkSubmissionError) Error() string {
	return fmt.Sprintf("timesheet: %d other timesheet(s) in the same week must be submitted together", len(e.SiblingIDs))
}

func (e *RequiresBulkSubmissionError) Unwrap() error { return ErrRequiresBulkSubmission }

// IncompleteWeekError reports a bulk request that differs from the pending week-group.
type IncompleteWeekError struct {
	Missing    []uuid.UUID
	Unexpected []uuid.UUID
}

func (e *IncompleteWeekError) Error() string {
	return fmt.Sprintf("timesheet: bulk submission must cover every pending record (missing %d, unexpected %d)", len(e.Missing), len(e.Unexpected))
}

func (e *IncompleteWeekError) Unwrap() error { return ErrIncompleteWeek }

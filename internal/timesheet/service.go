package timesheet

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-timesheets/internal/platform/db"
	"github.com/odyssey-erp/odyssey-timesheets/internal/shared"
	"github.com/odyssey-erp/odyssey-timesheets/internal/timesheet/week"
)

// ApprovalModule is the module name used in the approvals log.
const ApprovalModule = "timesheet"

const publishTimeout = 5 * time.Second

// DirectoryPort resolves reporting lines.
type DirectoryPort interface {
	ManagerOf(ctx context.Context, employeeID uuid.UUID) (*uuid.UUID, error)
}

// IdempotencyPort guards bulk decisions against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// HistoryPort reads the approvals log.
type HistoryPort interface {
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// Deps groups Service collaborators.
type Deps struct {
	Repo        RepositoryPort
	Validator   *Validator
	Directory   DirectoryPort
	Publisher   EventPublisher
	Idempotency IdempotencyPort
	History     HistoryPort
	Metrics     *Metrics
	Logger      *slog.Logger
	Now         func() time.Time
}

// Service orchestrates the timesheet lifecycle.
type Service struct {
	repo        RepositoryPort
	validator   *Validator
	directory   DirectoryPort
	publisher   EventPublisher
	idempotency IdempotencyPort
	history     HistoryPort
	metrics     *Metrics
	logger      *slog.Logger
	now         func() time.Time
	bulk        *BulkCoordinator
}

// NewService constructs the service.
func NewService(deps Deps) *Service {
	s := &Service{
		repo:        deps.Repo,
		validator:   deps.Validator,
		directory:   deps.Directory,
		publisher:   deps.Publisher,
		idempotency: deps.Idempotency,
		history:     deps.History,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		now:         deps.Now,
	}
	if s.publisher == nil {
		s.publisher = NopPublisher{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.bulk = &BulkCoordinator{service: s}
	return s
}

// Create stores a new Draft timesheet.
func (s *Service) Create(ctx context.Context, caller shared.Principal, in Input) (ts Timesheet, err error) {
	defer func() { s.metrics.observe(ActionCreate, err) }()

	ts, opts, err := s.newDraft(caller, in)
	if err != nil {
		return Timesheet{}, err
	}
	if err := s.validator.Validate(ctx, ts, ModeCreate, opts); err != nil {
		return Timesheet{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Insert(ctx, &ts)
	})
	if err != nil {
		return Timesheet{}, err
	}
	s.logger.Info("timesheet created", slog.String("timesheet_id", ts.ID.String()), slog.String("employee_id", ts.EmployeeID.String()))
	return ts, nil
}

// Update edits a Draft or Rejected timesheet.
func (s *Service) Update(ctx context.Context, caller shared.Principal, id uuid.UUID, in Input) (ts Timesheet, err error) {
	defer func() { s.metrics.observe(ActionEdit, err) }()

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Timesheet{}, err
	}
	ts, opts, err := s.edited(caller, current, in)
	if err != nil {
		return Timesheet{}, err
	}
	if err := s.validator.Validate(ctx, ts, ModeUpdate, opts); err != nil {
		return Timesheet{}, err
	}
	if err := s.save(ctx, &ts, current.Version, ActionEdit); err != nil {
		return Timesheet{}, err
	}
	return ts, nil
}

// newDraft builds an unsaved Draft owned by in.EmployeeID or the caller.
func (s *Service) newDraft(caller shared.Principal, in Input) (Timesheet, CheckOptions, error) {
	owner := in.EmployeeID
	if owner == uuid.Nil {
		owner = caller.EmployeeID
	}
	if owner != caller.EmployeeID && caller.Role != shared.RoleAdmin {
		return Timesheet{}, CheckOptions{}, &AuthorizationError{Action: ActionCreate, Reason: "only administrators may create timesheets for other employees"}
	}
	now := s.now().UTC()
	ts := Timesheet{
		ID:         uuid.New(),
		EmployeeID: owner,
		Status:     StatusDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	applyInput(&ts, in)
	return ts, CheckOptions{BypassAssignment: caller.Role == shared.RoleAdmin && owner != caller.EmployeeID}, nil
}

// edited applies in to a copy of current after the edit checks.
func (s *Service) edited(caller shared.Principal, current Timesheet, in Input) (Timesheet, CheckOptions, error) {
	if err := Authorize(ActionEdit, caller, current, nil).Err(ActionEdit, current); err != nil {
		return Timesheet{}, CheckOptions{}, err
	}
	if in.EmployeeID != uuid.Nil && in.EmployeeID != current.EmployeeID {
		return Timesheet{}, CheckOptions{}, newValidationError(current.ID, "employeeId", RuleImmutable, "the owner of a timesheet cannot change")
	}
	ts := current
	if _, err := Apply(&ts, Command{Action: ActionEdit, Actor: caller.EmployeeID, At: s.now()}); err != nil {
		return Timesheet{}, CheckOptions{}, err
	}
	applyInput(&ts, in)
	return ts, CheckOptions{BypassAssignment: caller.Role == shared.RoleAdmin && ts.EmployeeID != caller.EmployeeID}, nil
}

// Submit moves a Draft timesheet to Submitted. Re-submitting a Submitted record is a no-op.
func (s *Service) Submit(ctx context.Context, caller shared.Principal, id uuid.UUID) (ts Timesheet, err error) {
	defer func() { s.metrics.observe(ActionSubmit, err) }()

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Timesheet{}, err
	}
	if err := Authorize(ActionSubmit, caller, current, nil).Err(ActionSubmit, current); err != nil {
		return Timesheet{}, err
	}
	if current.Status == StatusSubmitted {
		return current, nil
	}
	if current.Status != StatusDraft {
		return Timesheet{}, &IllegalTransitionError{RecordID: id, Current: current.Status, Action: ActionSubmit}
	}
	group, err := s.repo.WeekGroup(ctx, current.EmployeeID, current.WeekStart)
	if err != nil {
		return Timesheet{}, err
	}
	if siblings := pendingSiblings(group, id); len(siblings) > 0 {
		return Timesheet{}, &RequiresBulkSubmissionError{RecordID: id, SiblingIDs: siblings}
	}
	if err := s.validator.Validate(ctx, current, ModeSubmit, CheckOptions{BypassAssignment: true}); err != nil {
		return Timesheet{}, err
	}

	ts = current
	var tr Transition
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockWeekGroup(ctx, current.EmployeeID, current.WeekStart)
		if err != nil {
			return err
		}
		if siblings := pendingSiblings(locked, id); len(siblings) > 0 {
			return &RequiresBulkSubmissionError{RecordID: id, SiblingIDs: siblings}
		}
		if tr, err = Apply(&ts, Command{Action: ActionSubmit, Actor: caller.EmployeeID, At: s.now()}); err != nil {
			return err
		}
		return tx.Update(ctx, &ts, current.Version)
	})
	if err != nil {
		return s.resolveStale(ctx, id, ActionSubmit, err)
	}
	s.emit(ctx, s.eventFor(ts, tr.Event, caller.EmployeeID))
	return ts, nil
}

// BulkSubmitWeek submits every pending record of an employee-week atomically.
func (s *Service) BulkSubmitWeek(ctx context.Context, caller shared.Principal, employeeID uuid.UUID, weekStart time.Time, recordIDs []uuid.UUID) ([]Timesheet, error) {
	return s.bulk.SubmitWeek(ctx, caller, employeeID, weekStart, recordIDs)
}

// Approve accepts a Submitted timesheet.
func (s *Service) Approve(ctx context.Context, caller shared.Principal, id uuid.UUID, comments string) (Timesheet, error) {
	return s.review(ctx, caller, id, ActionApprove, comments)
}

// Reject returns a Submitted timesheet to its owner. comments are required.
func (s *Service) Reject(ctx context.Context, caller shared.Principal, id uuid.UUID, comments string) (Timesheet, error) {
	return s.review(ctx, caller, id, ActionReject, comments)
}

func (s *Service) review(ctx context.Context, caller shared.Principal, id uuid.UUID, action Action, comments string) (ts Timesheet, err error) {
	defer func() { s.metrics.observe(action, err) }()

	comments = strings.TrimSpace(comments)
	if err := s.validator.ValidateComments(id, comments); err != nil {
		return Timesheet{}, err
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Timesheet{}, err
	}
	managerID, err := s.managerOf(ctx, current.EmployeeID)
	if err != nil {
		return Timesheet{}, err
	}
	if err := Authorize(action, caller, current, managerID).Err(action, current); err != nil {
		return Timesheet{}, err
	}
	ts = current
	tr, err := Apply(&ts, Command{Action: action, Actor: caller.EmployeeID, Comments: comments, At: s.now()})
	if err != nil {
		return Timesheet{}, err
	}
	if err := s.save(ctx, &ts, current.Version, action); err != nil {
		return Timesheet{}, err
	}
	s.emit(ctx, s.eventFor(ts, tr.Event, caller.EmployeeID))
	return ts, nil
}

// Resubmit reopens a Rejected timesheet as Draft.
func (s *Service) Resubmit(ctx context.Context, caller shared.Principal, id uuid.UUID) (ts Timesheet, err error) {
	defer func() { s.metrics.observe(ActionResubmit, err) }()

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Timesheet{}, err
	}
	if err := Authorize(ActionResubmit, caller, current, nil).Err(ActionResubmit, current); err != nil {
		return Timesheet{}, err
	}
	ts = current
	tr, err := Apply(&ts, Command{Action: ActionResubmit, Actor: caller.EmployeeID, At: s.now()})
	if err != nil {
		return Timesheet{}, err
	}
	if err := s.save(ctx, &ts, current.Version, ActionResubmit); err != nil {
		return Timesheet{}, err
	}
	s.emit(ctx, s.eventFor(ts, tr.Event, caller.EmployeeID))
	return ts, nil
}

// Delete soft-deletes a timesheet. Administrators only.
func (s *Service) Delete(ctx context.Context, caller shared.Principal, id uuid.UUID) (err error) {
	defer func() { s.metrics.observe(ActionDelete, err) }()

	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := Authorize(ActionDelete, caller, current, nil).Err(ActionDelete, current); err != nil {
		return err
	}
	ts := current
	tr, err := Apply(&ts, Command{Action: ActionDelete, Actor: caller.EmployeeID, At: s.now()})
	if err != nil {
		return err
	}
	if err := s.save(ctx, &ts, current.Version, ActionDelete); err != nil {
		return err
	}
	s.emit(ctx, s.eventFor(ts, tr.Event, caller.EmployeeID))
	return nil
}

// Get returns a timesheet visible to caller.
func (s *Service) Get(ctx context.Context, caller shared.Principal, id uuid.UUID) (Timesheet, error) {
	ts, err := s.repo.Get(ctx, id)
	if err != nil {
		return Timesheet{}, err
	}
	if err := s.authorizeView(ctx, caller, ts); err != nil {
		return Timesheet{}, err
	}
	return ts, nil
}

// History returns the approvals log of a timesheet visible to caller.
func (s *Service) History(ctx context.Context, caller shared.Principal, id uuid.UUID) ([]shared.ApprovalLog, error) {
	if _, err := s.Get(ctx, caller, id); err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, nil
	}
	return s.history.List(ctx, ApprovalModule, id)
}

// List returns the records visible to caller matching filter.
func (s *Service) List(ctx context.Context, caller shared.Principal, filter ListFilter) (Page, error) {
	scope, err := visibleEmployees(caller, filter.EmployeeID)
	if err != nil {
		return Page{}, err
	}
	filter.EmployeeIDs = scope
	filter.ExcludeEmployeeID = nil
	filter.Unpaged = false
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	return Page{Items: items, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)}, nil
}

// PendingApprovals returns Submitted records the caller may review.
func (s *Service) PendingApprovals(ctx context.Context, caller shared.Principal, filter PendingFilter) (PendingQueue, error) {
	status := StatusSubmitted
	lf := ListFilter{
		Status:            &status,
		EmployeeID:        filter.EmployeeID,
		Year:              filter.Year,
		WeekNumber:        filter.WeekNumber,
		ExcludeEmployeeID: &caller.EmployeeID,
		SortBy:            "submittedAt",
		SortOrder:         "asc",
		Unpaged:           true,
	}
	switch caller.Role {
	case shared.RoleAdmin, shared.RoleHR:
	case shared.RoleManager:
		lf.EmployeeIDs = slices.Clone(caller.Reports)
		if lf.EmployeeIDs == nil {
			lf.EmployeeIDs = []uuid.UUID{}
		}
	default:
		return PendingQueue{}, &AuthorizationError{Action: ActionApprove, Reason: "only reviewers have an approval queue"}
	}
	items, _, err := s.repo.List(ctx, lf)
	if err != nil {
		return PendingQueue{}, err
	}
	queue := PendingQueue{Items: items, TotalPending: len(items), TotalHours: decimal.Zero}
	employees := make(map[uuid.UUID]struct{})
	for _, ts := range items {
		queue.TotalHours = queue.TotalHours.Add(ts.TotalHours)
		employees[ts.EmployeeID] = struct{}{}
	}
	queue.Employees = len(employees)
	return queue, nil
}

// Summary aggregates count and hours per status within the caller's visibility.
func (s *Service) Summary(ctx context.Context, caller shared.Principal, year int, employeeID *uuid.UUID) ([]StatusTotal, error) {
	scope, err := visibleEmployees(caller, employeeID)
	if err != nil {
		return nil, err
	}
	return s.repo.Summary(ctx, SummaryFilter{EmployeeIDs: scope, EmployeeID: employeeID, Year: year})
}

// BulkApprove approves each record independently.
func (s *Service) BulkApprove(ctx context.Context, caller shared.Principal, ids []uuid.UUID, comments, idempotencyKey string) (BulkDecision, error) {
	return s.bulkReview(ctx, caller, ids, ActionApprove, comments, idempotencyKey)
}

// BulkReject rejects each record independently with the same reason.
func (s *Service) BulkReject(ctx context.Context, caller shared.Principal, ids []uuid.UUID, comments, idempotencyKey string) (BulkDecision, error) {
	if strings.TrimSpace(comments) == "" {
		return BulkDecision{}, newValidationError(uuid.Nil, "approverComments", RuleRequired, "a reason is required to reject timesheets")
	}
	return s.bulkReview(ctx, caller, ids, ActionReject, comments, idempotencyKey)
}

func (s *Service) bulkReview(ctx context.Context, caller shared.Principal, ids []uuid.UUID, action Action, comments, key string) (BulkDecision, error) {
	if caller.Role == shared.RoleEmployee {
		return BulkDecision{}, &AuthorizationError{Action: action, Reason: "employees cannot review timesheets"}
	}
	if len(ids) == 0 {
		return BulkDecision{}, newValidationError(uuid.Nil, "timesheetIds", RuleRequired, "at least one timesheet id is required")
	}
	module := ApprovalModule + ":bulk-" + string(action)
	if key != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, module); err != nil {
			return BulkDecision{}, err
		}
	}
	result := BulkDecision{}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ts, err := s.review(ctx, caller, id, action, comments)
		if err == nil {
			result.Succeeded = append(result.Succeeded, ts)
			continue
		}
		if code, reason, ok := bulkFailure(err); ok {
			result.Failed = append(result.Failed, BulkFailure{ID: id, Code: code, Reason: reason})
			continue
		}
		if key != "" && s.idempotency != nil {
			if derr := s.idempotency.Delete(context.WithoutCancel(ctx), key, module); derr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", derr))
			}
		}
		return BulkDecision{}, err
	}
	return result, nil
}

func bulkFailure(err error) (code, reason string, ok bool) {
	var (
		auth       *AuthorizationError
		illegal    *IllegalTransitionError
		validation *ValidationError
	)
	switch {
	case errors.Is(err, ErrNotFound):
		return "NotFound", "timesheet not found", true
	case errors.As(err, &auth):
		return "Forbidden", auth.Reason, true
	case errors.As(err, &illegal):
		return "IllegalTransition", illegal.Error(), true
	case errors.As(err, &validation):
		return "ValidationFailed", validation.Error(), true
	}
	return "", "", false
}

// visibleEmployees returns the employee scope for listing. Nil means unrestricted.
func visibleEmployees(caller shared.Principal, requested *uuid.UUID) ([]uuid.UUID, error) {
	switch caller.Role {
	case shared.RoleAdmin, shared.RoleHR:
		return nil, nil
	case shared.RoleManager:
		scope := append([]uuid.UUID{caller.EmployeeID}, caller.Reports...)
		if requested != nil && !slices.Contains(scope, *requested) {
			return nil, &AuthorizationError{Action: ActionView, Reason: "employee is not in your team"}
		}
		return scope, nil
	default:
		if requested != nil && *requested != caller.EmployeeID {
			return nil, &AuthorizationError{Action: ActionView, Reason: "employees may only view their own timesheets"}
		}
		return []uuid.UUID{caller.EmployeeID}, nil
	}
}

func (s *Service) authorizeView(ctx context.Context, caller shared.Principal, ts Timesheet) error {
	var managerID *uuid.UUID
	if caller.Role == shared.RoleManager && ts.EmployeeID != caller.EmployeeID && !caller.Manages(ts.EmployeeID) {
		m, err := s.managerOf(ctx, ts.EmployeeID)
		if err != nil {
			return err
		}
		managerID = m
	}
	return Authorize(ActionView, caller, ts, managerID).Err(ActionView, ts)
}

func (s *Service) managerOf(ctx context.Context, employeeID uuid.UUID) (*uuid.UUID, error) {
	if s.directory == nil {
		return nil, nil
	}
	return s.directory.ManagerOf(ctx, employeeID)
}

// save persists ts guarded by expected version in its own transaction.
func (s *Service) save(ctx context.Context, ts *Timesheet, expected int64, action Action) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Update(ctx, ts, expected)
	})
	if err != nil {
		_, err = s.resolveStale(ctx, ts.ID, action, err)
		return err
	}
	return nil
}

// resolveStale converts a lost optimistic race into IllegalTransition carrying the
// record's current status. Other errors pass through.
func (s *Service) resolveStale(ctx context.Context, id uuid.UUID, action Action, err error) (Timesheet, error) {
	if !isStale(err) {
		return Timesheet{}, err
	}
	latest, gerr := s.repo.Get(ctx, id)
	if errors.Is(gerr, ErrNotFound) {
		return Timesheet{}, ErrNotFound
	}
	if gerr != nil {
		return Timesheet{}, gerr
	}
	if action == ActionSubmit && latest.Status == StatusSubmitted {
		return latest, nil
	}
	return Timesheet{}, &IllegalTransitionError{RecordID: id, Current: latest.Status, Action: action}
}

func isStale(err error) bool {
	if errors.Is(err, errStale) {
		return true
	}
	return db.IsSerializationFailure(err)
}

func (s *Service) eventFor(ts Timesheet, typ EventType, actor uuid.UUID) Event {
	evt := Event{
		ID:          uuid.New(),
		Type:        typ,
		TimesheetID: ts.ID,
		EmployeeID:  ts.EmployeeID,
		ActorID:     actor,
		WeekStart:   ts.WeekStart.Format(week.DateLayout),
		Status:      ts.Status,
		OccurredAt:  ts.UpdatedAt,
	}
	if ts.ApproverComments != nil {
		evt.Comments = *ts.ApproverComments
	}
	return evt
}

// emit publishes after commit. Failures are logged and never undo the transition.
func (s *Service) emit(ctx context.Context, evt Event) {
	if evt.Type == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	err := s.publisher.Publish(ctx, evt)
	s.metrics.observePublish(err)
	if err != nil {
		s.logger.Error("publish timesheet event",
			slog.String("event_id", evt.ID.String()),
			slog.String("type", string(evt.Type)),
			slog.Any("error", err))
	}
}

func pendingSiblings(group []Timesheet, id uuid.UUID) []uuid.UUID {
	var siblings []uuid.UUID
	for _, ts := range group {
		if ts.ID != id && ts.Status.Pending() {
			siblings = append(siblings, ts.ID)
		}
	}
	return siblings
}

func applyInput(ts *Timesheet, in Input) {
	ts.ProjectID = in.ProjectID
	ts.TaskID = in.TaskID
	ts.WeekStart = week.Date(in.WeekStart)
	ts.WeekEnd = week.Date(in.WeekEnd)
	if in.WeekEnd.IsZero() {
		ts.WeekEnd = ts.WeekStart.AddDate(0, 0, 6)
	}
	ts.Year, ts.WeekNumber = in.Year, in.WeekNumber
	if ts.Year == 0 || ts.WeekNumber == 0 {
		year, number := week.Number(ts.WeekStart)
		if ts.Year == 0 {
			ts.Year = year
		}
		if ts.WeekNumber == 0 {
			ts.WeekNumber = number
		}
	}
	ts.Hours = in.Hours
	if in.TotalHours != nil {
		ts.TotalHours = *in.TotalHours
	} else {
		ts.TotalHours = in.Hours.Sum()
	}
	ts.Description = strings.TrimSpace(in.Description)
}

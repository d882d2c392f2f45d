package timesheet

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-timesheets/internal/shared"
	"github.com/odyssey-erp/odyssey-timesheets/internal/timesheet/week"
)

const bulkValidationConcurrency = 4

// BulkCoordinator submits a whole week-group as one unit.
type BulkCoordinator struct {
	service *Service
}

// SubmitWeek validates and submits every Draft/Rejected record of an employee-week in one
// transaction. When recordIDs is non-empty it must equal the pending set.
func (b *BulkCoordinator) SubmitWeek(ctx context.Context, caller shared.Principal, employeeID uuid.UUID, weekStart time.Time, recordIDs []uuid.UUID) (out []Timesheet, err error) {
	s := b.service
	defer func() { s.metrics.observe(ActionSubmit, err) }()

	if employeeID == uuid.Nil {
		employeeID = caller.EmployeeID
	}
	if employeeID != caller.EmployeeID && caller.Role != shared.RoleAdmin {
		return nil, &AuthorizationError{Action: ActionSubmit, Reason: "only the owner may submit a week"}
	}
	weekStart = week.Date(weekStart)
	if weekStart.Weekday() != time.Monday {
		return nil, newValidationError(uuid.Nil, "weekStartDate", RuleInvalidWeekBounds, "must be a Monday")
	}

	group, err := s.repo.WeekGroup(ctx, employeeID, weekStart)
	if err != nil {
		return nil, err
	}
	pending := filterPending(group)
	requested := dedupe(recordIDs)

	if len(pending) == 0 {
		return alreadySubmitted(group, requested)
	}
	if len(requested) > 0 {
		if missing, unexpected := diffIDs(idsOf(pending), requested); len(missing) > 0 || len(unexpected) > 0 {
			return nil, &IncompleteWeekError{Missing: missing, Unexpected: unexpected}
		}
	}

	if err := b.validateAll(ctx, pending); err != nil {
		return nil, err
	}

	at := s.now()
	committed := make([]Timesheet, 0, len(pending))
	var writing uuid.UUID
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.LockWeekGroup(ctx, employeeID, weekStart)
		if err != nil {
			return err
		}
		lockedPending := filterPending(locked)
		if changed := changedRecord(pending, lockedPending, locked); changed != nil {
			return changed
		}
		for _, ts := range lockedPending {
			expected := ts.Version
			if ts.Status == StatusRejected {
				if _, err := Apply(&ts, Command{Action: ActionResubmit, Actor: caller.EmployeeID, At: at}); err != nil {
					return err
				}
			}
			if _, err := Apply(&ts, Command{Action: ActionSubmit, Actor: caller.EmployeeID, At: at}); err != nil {
				return err
			}
			writing = ts.ID
			if err := tx.Update(ctx, &ts, expected); err != nil {
				return err
			}
			committed = append(committed, ts)
		}
		return nil
	})
	if err != nil {
		if isStale(err) {
			return b.resolveStaleWeek(ctx, employeeID, weekStart, writing, pending, requested, err)
		}
		return nil, err
	}

	s.metrics.observeGroup(len(committed))
	s.logger.Info("week submitted",
		slog.String("employee_id", employeeID.String()),
		slog.String("week_start", weekStart.Format(week.DateLayout)),
		slog.Int("records", len(committed)))
	for _, ts := range committed {
		s.emit(ctx, s.eventFor(ts, EventSubmitted, caller.EmployeeID))
	}
	s.emit(ctx, Event{
		ID:         uuid.New(),
		Type:       EventWeekSubmitted,
		EmployeeID: employeeID,
		ActorID:    caller.EmployeeID,
		WeekStart:  weekStart.Format(week.DateLayout),
		Status:     StatusSubmitted,
		RecordIDs:  idsOf(committed),
		OccurredAt: at.UTC(),
	})
	return committed, nil
}

// validateAll checks every record concurrently and aggregates rule violations.
// Infrastructure failures abort immediately.
func (b *BulkCoordinator) validateAll(ctx context.Context, records []Timesheet) error {
	results, err := validateEach(ctx, len(records), func(ctx context.Context, i int) error {
		return b.service.validator.Validate(ctx, records[i], ModeSubmit, CheckOptions{BypassAssignment: true})
	})
	if err != nil {
		return err
	}
	return groupError(results)
}

// validateEach runs check for every index with bounded concurrency. Rule violations are
// kept per index; any other error aborts the batch.
func validateEach(ctx context.Context, n int, check func(ctx context.Context, i int) error) ([]*ValidationError, error) {
	results := make([]*ValidationError, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkValidationConcurrency)
	for i := range n {
		g.Go(func() error {
			err := check(gctx, i)
			if verr, ok := err.(*ValidationError); ok {
				results[i] = verr
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func groupError(results []*ValidationError) error {
	group := &GroupValidationError{}
	for _, verr := range results {
		if verr != nil {
			group.Records = append(group.Records, verr)
		}
	}
	if len(group.Records) == 0 {
		return nil
	}
	return group
}

// resolveStaleWeek re-reads the week-group after a lost race and reports the record that
// moved, with its current status. A week that another request fully submitted is a success.
func (b *BulkCoordinator) resolveStaleWeek(ctx context.Context, employeeID uuid.UUID, weekStart time.Time, failed uuid.UUID, validated []Timesheet, requested []uuid.UUID, cause error) ([]Timesheet, error) {
	group, err := b.service.repo.WeekGroup(ctx, employeeID, weekStart)
	if err != nil {
		return nil, err
	}
	if len(filterPending(group)) == 0 {
		return alreadySubmitted(group, requested)
	}
	if moved := firstMoved(validated, group); moved != uuid.Nil {
		failed = moved
	}
	if failed == uuid.Nil {
		return nil, cause
	}
	for _, ts := range group {
		if ts.ID == failed {
			return nil, &IllegalTransitionError{RecordID: ts.ID, Current: ts.Status, Action: ActionSubmit}
		}
	}
	return nil, ErrNotFound
}

// firstMoved returns the first validated record whose version changed or that disappeared.
func firstMoved(validated, group []Timesheet) uuid.UUID {
	versions := make(map[uuid.UUID]int64, len(group))
	for _, ts := range group {
		versions[ts.ID] = ts.Version
	}
	for _, ts := range validated {
		if v, ok := versions[ts.ID]; !ok || v != ts.Version {
			return ts.ID
		}
	}
	return uuid.Nil
}

// alreadySubmitted treats a retried bulk submit as success when nothing is pending. Records
// that moved past Submitted are reported with their status.
func alreadySubmitted(group []Timesheet, requested []uuid.UUID) ([]Timesheet, error) {
	if len(group) == 0 {
		return nil, ErrNotFound
	}
	if len(requested) == 0 {
		var submitted []Timesheet
		for _, ts := range group {
			if ts.Status == StatusSubmitted {
				submitted = append(submitted, ts)
			}
		}
		if len(submitted) == 0 {
			return nil, &IllegalTransitionError{RecordID: group[0].ID, Current: group[0].Status, Action: ActionSubmit}
		}
		return submitted, nil
	}
	byID := make(map[uuid.UUID]Timesheet, len(group))
	for _, ts := range group {
		byID[ts.ID] = ts
	}
	out := make([]Timesheet, 0, len(requested))
	var unexpected []uuid.UUID
	for _, id := range requested {
		ts, ok := byID[id]
		if !ok {
			unexpected = append(unexpected, id)
			continue
		}
		if ts.Status != StatusSubmitted {
			return nil, &IllegalTransitionError{RecordID: ts.ID, Current: ts.Status, Action: ActionSubmit}
		}
		out = append(out, ts)
	}
	if len(unexpected) > 0 {
		return nil, &IncompleteWeekError{Unexpected: unexpected}
	}
	return out, nil
}

// changedRecord reports a record whose pending state moved between validation and lock.
func changedRecord(validated, lockedPending, locked []Timesheet) error {
	if len(validated) != len(lockedPending) {
		missing, unexpected := diffIDs(idsOf(lockedPending), idsOf(validated))
		return &IncompleteWeekError{Missing: missing, Unexpected: unexpected}
	}
	versions := make(map[uuid.UUID]int64, len(locked))
	statuses := make(map[uuid.UUID]Status, len(locked))
	for _, ts := range locked {
		versions[ts.ID] = ts.Version
		statuses[ts.ID] = ts.Status
	}
	for _, ts := range validated {
		v, ok := versions[ts.ID]
		if !ok {
			return ErrNotFound
		}
		if v != ts.Version || statuses[ts.ID] != ts.Status {
			return &IllegalTransitionError{RecordID: ts.ID, Current: statuses[ts.ID], Action: ActionSubmit}
		}
	}
	return nil
}

func filterPending(group []Timesheet) []Timesheet {
	var out []Timesheet
	for _, ts := range group {
		if ts.Status.Pending() && !ts.Deleted() {
			out = append(out, ts)
		}
	}
	return out
}

func idsOf(records []Timesheet) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(records))
	for _, ts := range records {
		ids = append(ids, ts.ID)
	}
	return ids
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// diffIDs returns ids in want but not in got, and ids in got but not in want.
func diffIDs(want, got []uuid.UUID) (missing, unexpected []uuid.UUID) {
	for _, id := range want {
		if !slices.Contains(got, id) {
			missing = append(missing, id)
		}
	}
	for _, id := range got {
		if !slices.Contains(want, id) {
			unexpected = append(unexpected, id)
		}
	}
	return missing, unexpected
}

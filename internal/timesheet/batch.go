package timesheet

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-timesheets/internal/shared"
	"github.com/odyssey-erp/odyssey-timesheets/internal/timesheet/week"
)

// MaxBatchRows caps the rows accepted by BulkSave and BulkUpdate.
const MaxBatchRows = 50

// BatchRow is one row of a bulk save. A zero ID creates a record, otherwise the row edits it.
type BatchRow struct {
	ID    uuid.UUID
	Input Input
}

type batchItem struct {
	ts       Timesheet
	mode     Mode
	opts     CheckOptions
	expected int64
	// rekeyed marks an edit that moved the record to another task or week.
	rekeyed bool
}

type batchKey struct {
	employee uuid.UUID
	project  uuid.UUID
	task     uuid.UUID
	week     string
}

func keyOf(ts Timesheet) batchKey {
	return batchKey{employee: ts.EmployeeID, project: ts.ProjectID, task: ts.TaskID, week: ts.WeekStart.Format(week.DateLayout)}
}

// BulkSave creates every row as a Draft in one transaction. Nothing is stored unless every row is valid.
func (s *Service) BulkSave(ctx context.Context, caller shared.Principal, rows []Input) ([]Timesheet, error) {
	batch := make([]BatchRow, 0, len(rows))
	for _, in := range rows {
		batch = append(batch, BatchRow{Input: in})
	}
	return s.saveBatch(ctx, caller, batch, ActionCreate)
}

// BulkUpdate edits the rows that carry an ID and creates the others, in one transaction.
func (s *Service) BulkUpdate(ctx context.Context, caller shared.Principal, rows []BatchRow) ([]Timesheet, error) {
	return s.saveBatch(ctx, caller, rows, ActionEdit)
}

func (s *Service) saveBatch(ctx context.Context, caller shared.Principal, rows []BatchRow, action Action) (out []Timesheet, err error) {
	defer func() { s.metrics.observe(action, err) }()

	switch {
	case len(rows) == 0:
		return nil, newValidationError(uuid.Nil, "timesheets", RuleRequired, "at least one timesheet is required")
	case len(rows) > MaxBatchRows:
		return nil, newValidationError(uuid.Nil, "timesheets", RuleOutOfRange, fmt.Sprintf("at most %d timesheets per request", MaxBatchRows))
	}

	items := make([]batchItem, len(rows))
	for i, row := range rows {
		if items[i], err = s.prepareRow(ctx, caller, row); err != nil {
			return nil, err
		}
	}
	if err := s.validateBatch(ctx, items); err != nil {
		return nil, err
	}

	var failed *batchItem
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for i := range items {
			it := &items[i]
			failed = it
			if it.mode == ModeCreate {
				if err := tx.Insert(ctx, &it.ts); err != nil {
					return err
				}
				continue
			}
			if err := tx.Update(ctx, &it.ts, it.expected); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if failed != nil && failed.mode == ModeUpdate {
			_, err = s.resolveStale(ctx, failed.ts.ID, ActionEdit, err)
		}
		return nil, err
	}

	out = make([]Timesheet, 0, len(items))
	created := 0
	for _, it := range items {
		out = append(out, it.ts)
		if it.mode == ModeCreate {
			created++
		}
	}
	s.logger.Info("timesheets saved",
		slog.String("employee_id", caller.EmployeeID.String()),
		slog.Int("created", created),
		slog.Int("updated", len(items)-created))
	return out, nil
}

func (s *Service) prepareRow(ctx context.Context, caller shared.Principal, row BatchRow) (batchItem, error) {
	if row.ID == uuid.Nil {
		ts, opts, err := s.newDraft(caller, row.Input)
		if err != nil {
			return batchItem{}, err
		}
		return batchItem{ts: ts, mode: ModeCreate, opts: opts}, nil
	}
	current, err := s.repo.Get(ctx, row.ID)
	if err != nil {
		return batchItem{}, err
	}
	ts, opts, err := s.edited(caller, current, row.Input)
	if err != nil {
		return batchItem{}, err
	}
	return batchItem{
		ts:       ts,
		mode:     ModeUpdate,
		opts:     opts,
		expected: current.Version,
		rekeyed:  keyOf(ts) != keyOf(current),
	}, nil
}

// validateBatch checks every row and the rows against each other. Violations are reported
// together, tagged with their row.
func (s *Service) validateBatch(ctx context.Context, items []batchItem) error {
	results, err := validateEach(ctx, len(items), func(ctx context.Context, i int) error {
		it := items[i]
		if err := s.validator.Validate(ctx, it.ts, it.mode, it.opts); err != nil {
			return err
		}
		if !it.rekeyed {
			return nil
		}
		existing, found, err := s.repo.FindDuplicate(ctx, it.ts.EmployeeID, it.ts.ProjectID, it.ts.TaskID, it.ts.WeekStart)
		if err != nil {
			return err
		}
		if found && existing != it.ts.ID {
			return newValidationError(it.ts.ID, "taskId", RuleDuplicate, fmt.Sprintf("a timesheet for this task and week already exists (%s)", existing))
		}
		return nil
	})
	if err != nil {
		return err
	}

	keys := make(map[batchKey]int, len(items))
	ids := make(map[uuid.UUID]int, len(items))
	for i, it := range items {
		verr := results[i]
		if verr == nil {
			verr = &ValidationError{RecordID: it.ts.ID}
			if it.mode == ModeCreate {
				verr.RecordID = uuid.Nil
			}
		}
		if it.mode == ModeUpdate {
			if first, dup := ids[it.ts.ID]; dup {
				verr.add("id", RuleDuplicate, "row %d already edits this timesheet", first+1)
			} else {
				ids[it.ts.ID] = i
			}
		}
		key := keyOf(it.ts)
		if first, dup := keys[key]; dup {
			verr.add("taskId", RuleDuplicate, "row %d already covers this task and week", first+1)
		} else {
			keys[key] = i
		}
		if len(verr.Fields) > 0 {
			verr.Row = i + 1
			results[i] = verr
		}
	}
	return groupError(results)
}

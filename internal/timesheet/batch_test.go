package timesheet

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-timesheets/internal/shared"
)

func TestBulkSaveBuildsWeekGroup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	saved, err := h.service.BulkSave(ctx, h.employee, []Input{
		h.input(h.task1, hours(8, 8)),
		h.input(h.task2, hours(0, 0, 8)),
		h.input(h.task3, hours(0, 0, 0, 4)),
	})
	require.NoError(t, err)
	require.Len(t, saved, 3)
	for _, ts := range saved {
		assert.Equal(t, StatusDraft, ts.Status)
		assert.Equal(t, int64(1), ts.Version)
		assert.Equal(t, h.employee.EmployeeID, ts.EmployeeID)
	}
	group, err := h.repo.WeekGroup(ctx, h.employee.EmployeeID, week0908)
	require.NoError(t, err)
	assert.ElementsMatch(t, idsOf(saved), idsOf(group))

	submitted, err := h.service.BulkSubmitWeek(ctx, h.employee, uuid.Nil, week0908, idsOf(saved))
	require.NoError(t, err)
	assert.Len(t, submitted, 3)
}

func TestBulkSaveIsAtomic(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	mismatch := h.input(h.task2, hours(8))
	total := decimal.NewFromInt(10)
	mismatch.TotalHours = &total

	_, err := h.service.BulkSave(ctx, h.employee, []Input{
		h.input(h.task1, hours(8)),
		mismatch,
		h.input(h.task1, hours(0, 4)),
	})
	var group *GroupValidationError
	require.ErrorAs(t, err, &group)
	require.Len(t, group.Records, 2)
	assert.Equal(t, 2, group.Records[0].Row)
	assert.True(t, group.Records[0].Has(RuleHoursMismatch))
	assert.Equal(t, 3, group.Records[1].Row)
	assert.True(t, group.Records[1].Has(RuleDuplicate))
	require.ErrorIs(t, err, ErrDuplicateTimesheet)

	stored, err := h.repo.WeekGroup(ctx, h.employee.EmployeeID, week0908)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestBulkSaveGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.service.BulkSave(ctx, h.employee, nil)
	require.ErrorIs(t, err, ErrValidation)

	rows := make([]Input, MaxBatchRows+1)
	_, err = h.service.BulkSave(ctx, h.employee, rows)
	require.ErrorIs(t, err, ErrValidation)

	onBehalf := h.input(h.task1, hours(8))
	onBehalf.EmployeeID = h.employee.EmployeeID
	_, err = h.service.BulkSave(ctx, h.manager, []Input{h.input(h.task2, hours(8)), onBehalf})
	require.ErrorIs(t, err, ErrForbidden)

	existing := h.draft(t, h.task1, hours(8))
	_, err = h.service.BulkSave(ctx, h.employee, []Input{h.input(h.task2, hours(8)), h.input(h.task1, hours(4))})
	require.ErrorIs(t, err, ErrDuplicateTimesheet)
	group, err := h.repo.WeekGroup(ctx, h.employee.EmployeeID, week0908)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{existing.ID}, idsOf(group))
}

func TestBulkUpdateEditsAndCreates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.draft(t, h.task1, hours(8))

	out, err := h.service.BulkUpdate(ctx, h.employee, []BatchRow{
		{ID: a.ID, Input: h.input(h.task1, hours(6, 2))},
		{Input: h.input(h.task2, hours(0, 6))},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)

	stored := h.repo.raw(a.ID)
	assert.Equal(t, int64(2), stored.Version)
	assert.True(t, decimal.NewFromInt(8).Equal(stored.TotalHours))
	assert.True(t, decimal.NewFromInt(2).Equal(stored.Hours[1]))
	assert.Equal(t, StatusDraft, h.repo.raw(out[1].ID).Status)
}

func TestBulkUpdateRollsBackOnWriteFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.draft(t, h.task1, hours(8))

	h.repo.failUpdate = func(Timesheet) error { return errBoom }
	_, err := h.service.BulkUpdate(ctx, h.employee, []BatchRow{
		{Input: h.input(h.task2, hours(4))},
		{ID: a.ID, Input: h.input(h.task1, hours(6))},
	})
	require.ErrorIs(t, err, errBoom)

	group, err := h.repo.WeekGroup(ctx, h.employee.EmployeeID, week0908)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID}, idsOf(group))
	assert.Equal(t, int64(1), h.repo.raw(a.ID).Version)
}

func TestBulkUpdateRejectsDuplicates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.draft(t, h.task1, hours(8))
	b := h.draft(t, h.task2, hours(4))

	_, err := h.service.BulkUpdate(ctx, h.employee, []BatchRow{
		{ID: b.ID, Input: h.input(h.task1, hours(4))},
	})
	var group *GroupValidationError
	require.ErrorAs(t, err, &group)
	require.Len(t, group.Records, 1)
	assert.Equal(t, b.ID, group.Records[0].RecordID)
	assert.True(t, group.Records[0].Has(RuleDuplicate))

	_, err = h.service.BulkUpdate(ctx, h.employee, []BatchRow{
		{ID: a.ID, Input: h.input(h.task1, hours(6))},
		{ID: a.ID, Input: h.input(h.task1, hours(7))},
	})
	require.ErrorAs(t, err, &group)
	require.Len(t, group.Records, 1)
	assert.Equal(t, 2, group.Records[0].Row)
	assert.Equal(t, int64(1), h.repo.raw(a.ID).Version)
	assert.Equal(t, int64(1), h.repo.raw(b.ID).Version)
}

func TestBulkUpdateRespectsStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.draft(t, h.task1, hours(8))
	_, err := h.service.Submit(ctx, h.employee, a.ID)
	require.NoError(t, err)

	_, err = h.service.BulkUpdate(ctx, h.employee, []BatchRow{
		{Input: h.input(h.task2, hours(4))},
		{ID: a.ID, Input: h.input(h.task1, hours(6))},
	})
	var illegal *IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, StatusSubmitted, illegal.Current)

	stranger := shared.Principal{EmployeeID: uuid.New(), Role: shared.RoleEmployee}
	_, err = h.service.BulkUpdate(ctx, stranger, []BatchRow{{ID: a.ID, Input: h.input(h.task1, hours(6))}})
	require.ErrorIs(t, err, ErrForbidden)

	group, err := h.repo.WeekGroup(ctx, h.employee.EmployeeID, week0908)
	require.NoError(t, err)
	assert.Len(t, group, 1)
}

func TestBulkUpdateLostRaceReportsCurrentStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.draft(t, h.task1, hours(8))

	h.repo.beforeUpdate = func(pending Timesheet) {
		winner := h.repo.raw(pending.ID)
		winner.Status = StatusSubmitted
		winner.Version++
		h.repo.put(winner)
	}
	_, err := h.service.BulkUpdate(ctx, h.employee, []BatchRow{
		{Input: h.input(h.task2, hours(4))},
		{ID: a.ID, Input: h.input(h.task1, hours(6))},
	})
	var illegal *IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, a.ID, illegal.RecordID)
	assert.Equal(t, StatusSubmitted, illegal.Current)
	assert.Equal(t, ActionEdit, illegal.Action)

	group, err := h.repo.WeekGroup(ctx, h.employee.EmployeeID, week0908)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID}, idsOf(group))
}

func TestHandlerBulkSaveAndUpdate(t *testing.T) {
	h := newHarness(t)
	api := newAPI(t, h, 0)

	rec := api.do(h.employee, http.MethodPost, "/bulk-save", map[string]any{
		"timesheets": []any{createBody(h, 0, 8), createBody(h, 1, 4)},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	saved := decodeBody[struct {
		Timesheets []timesheetResponse `json:"timesheets"`
	}](t, rec)
	require.Len(t, saved.Timesheets, 2)

	edit := createBody(h, 0, 6)
	edit["id"] = saved.Timesheets[0].ID
	rec = api.do(h.employee, http.MethodPut, "/bulk-update", map[string]any{
		"timesheets": []any{edit, createBody(h, 2, 2)},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(h.employee, http.MethodPost, "/bulk-save", map[string]any{
		"timesheets": []any{createBody(h, 0, 8)},
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	problem := decodeBody[problemBody](t, rec)
	records, ok := problem.Details["records"].([]any)
	require.True(t, ok)
	require.Len(t, records, 1)
	assert.EqualValues(t, 1, records[0].(map[string]any)["row"])

	rec = api.do(h.employee, http.MethodPost, "/bulk-save", map[string]any{"timesheets": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

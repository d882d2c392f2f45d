package timesheet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-timesheets/internal/platform/db"
	"github.com/odyssey-erp/odyssey-timesheets/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Timesheet, error)
	List(ctx context.Context, filter ListFilter) ([]Timesheet, int, error)
	WeekGroup(ctx context.Context, employeeID uuid.UUID, weekStart time.Time) ([]Timesheet, error)
	FindDuplicate(ctx context.Context, employeeID, projectID, taskID uuid.UUID, weekStart time.Time) (uuid.UUID, bool, error)
	Summary(ctx context.Context, filter SummaryFilter) ([]StatusTotal, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Insert(ctx context.Context, ts *Timesheet) error
	// Update persists ts if its stored version still equals expected, bumping ts.Version.
	Update(ctx context.Context, ts *Timesheet, expected int64) error
	// LockWeekGroup returns the live records of a week-group, locked for update.
	LockWeekGroup(ctx context.Context, employeeID uuid.UUID, weekStart time.Time) ([]Timesheet, error)
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
	db   dbtx
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, db: pool}
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Repository{pool: r.pool, db: tx})
	})
}

const selectColumns = `id, employee_id, project_id, task_id, week_start_date, week_end_date, week_number, year,
monday_hours, tuesday_hours, wednesday_hours, thursday_hours, friday_hours, saturday_hours, sunday_hours,
total_hours_worked, description, status, submitted_at, approved_at, rejected_at, approver_comments,
approved_by, version, created_at, updated_at, deleted_at`

func scanTimesheet(row pgx.Row) (Timesheet, error) {
	var ts Timesheet
	var status string
	err := row.Scan(
		&ts.ID, &ts.EmployeeID, &ts.ProjectID, &ts.TaskID, &ts.WeekStart, &ts.WeekEnd, &ts.WeekNumber, &ts.Year,
		&ts.Hours[0], &ts.Hours[1], &ts.Hours[2], &ts.Hours[3], &ts.Hours[4], &ts.Hours[5], &ts.Hours[6],
		&ts.TotalHours, &ts.Description, &status, &ts.SubmittedAt, &ts.ApprovedAt, &ts.RejectedAt, &ts.ApproverComments,
		&ts.ApprovedBy, &ts.Version, &ts.CreatedAt, &ts.UpdatedAt, &ts.DeletedAt,
	)
	if err != nil {
		return Timesheet{}, err
	}
	ts.Status = Status(status)
	ts.WeekStart = ts.WeekStart.UTC()
	ts.WeekEnd = ts.WeekEnd.UTC()
	return ts, nil
}

func collect(rows pgx.Rows) ([]Timesheet, error) {
	defer rows.Close()
	var out []Timesheet
	for rows.Next() {
		ts, err := scanTimesheet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// Get returns a live timesheet.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Timesheet, error) {
	row := r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM timesheets WHERE id = $1 AND deleted_at IS NULL`, id)
	ts, err := scanTimesheet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Timesheet{}, ErrNotFound
		}
		return Timesheet{}, err
	}
	return ts, nil
}

// WeekGroup returns every live record of an employee-week ordered by creation.
func (r *Repository) WeekGroup(ctx context.Context, employeeID uuid.UUID, weekStart time.Time) ([]Timesheet, error) {
	rows, err := r.db.Query(ctx, `SELECT `+selectColumns+` FROM timesheets
WHERE employee_id = $1 AND week_start_date = $2 AND deleted_at IS NULL
ORDER BY created_at, id`, employeeID, weekStart)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// LockWeekGroup implements TxRepository.
func (r *Repository) LockWeekGroup(ctx context.Context, employeeID uuid.UUID, weekStart time.Time) ([]Timesheet, error) {
	rows, err := r.db.Query(ctx, `SELECT `+selectColumns+` FROM timesheets
WHERE employee_id = $1 AND week_start_date = $2 AND deleted_at IS NULL
ORDER BY created_at, id
FOR UPDATE`, employeeID, weekStart)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

// FindDuplicate implements DuplicateFinder.
func (r *Repository) FindDuplicate(ctx context.Context, employeeID, projectID, taskID uuid.UUID, weekStart time.Time) (uuid.UUID, bool, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx, `SELECT id FROM timesheets
WHERE employee_id = $1 AND project_id = $2 AND task_id = $3 AND week_start_date = $4 AND deleted_at IS NULL
LIMIT 1`, employeeID, projectID, taskID, weekStart).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	return id, true, nil
}

var sortColumns = map[string]string{
	"weekStartDate":    "week_start_date",
	"createdAt":        "created_at",
	"updatedAt":        "updated_at",
	"totalHoursWorked": "total_hours_worked",
	"status":           "status",
	"submittedAt":      "submitted_at",
}

// SortableFields reports whether field can be used as sortBy.
func SortableFields(field string) bool {
	_, ok := sortColumns[field]
	return ok
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

type whereBuilder struct {
	conditions []string
	args       []any
}

func (w *whereBuilder) add(format string, arg any) {
	w.args = append(w.args, arg)
	w.conditions = append(w.conditions, fmt.Sprintf(format, len(w.args)))
}

func (w *whereBuilder) clause() string {
	return "WHERE " + strings.Join(w.conditions, " AND ")
}

func listConditions(filter ListFilter) *whereBuilder {
	w := &whereBuilder{conditions: []string{"deleted_at IS NULL"}}
	if filter.EmployeeIDs != nil {
		w.add("employee_id = ANY($%d::uuid[])", uuidStrings(filter.EmployeeIDs))
	}
	if filter.ExcludeEmployeeID != nil {
		w.add("employee_id <> $%d", *filter.ExcludeEmployeeID)
	}
	if filter.EmployeeID != nil {
		w.add("employee_id = $%d", *filter.EmployeeID)
	}
	if filter.ProjectID != nil {
		w.add("project_id = $%d", *filter.ProjectID)
	}
	if filter.Status != nil {
		w.add("status = $%d", string(*filter.Status))
	}
	if filter.WeekStart != nil {
		w.add("week_start_date = $%d", *filter.WeekStart)
	}
	if filter.From != nil {
		w.add("week_start_date >= $%d", *filter.From)
	}
	if filter.To != nil {
		w.add("week_end_date <= $%d", *filter.To)
	}
	if filter.Year > 0 {
		w.add("year = $%d", filter.Year)
	}
	if filter.WeekNumber > 0 {
		w.add("week_number = $%d", filter.WeekNumber)
	}
	return w
}

// List returns a filtered page and the total match count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Timesheet, int, error) {
	w := listConditions(filter)
	where := w.clause()

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM timesheets "+where, w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	column, ok := sortColumns[filter.SortBy]
	if !ok {
		column = "week_start_date"
	}
	order := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		order = "ASC"
	}
	query := fmt.Sprintf("SELECT %s FROM timesheets %s ORDER BY %s %s, created_at DESC, id", selectColumns, where, column, order)
	args := w.args
	if !filter.Unpaged {
		page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, perPage, shared.Offset(page, perPage))
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Summary aggregates counts and hours per status.
func (r *Repository) Summary(ctx context.Context, filter SummaryFilter) ([]StatusTotal, error) {
	w := listConditions(ListFilter{EmployeeIDs: filter.EmployeeIDs, EmployeeID: filter.EmployeeID, Year: filter.Year})
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*), COALESCE(SUM(total_hours_worked), 0)
FROM timesheets `+w.clause()+`
GROUP BY status ORDER BY status`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var totals []StatusTotal
	for rows.Next() {
		var st StatusTotal
		var status string
		var hours decimal.Decimal
		if err := rows.Scan(&status, &st.Count, &hours); err != nil {
			return nil, err
		}
		st.Status = Status(status)
		st.TotalHours = hours
		totals = append(totals, st)
	}
	return totals, rows.Err()
}

// Insert implements TxRepository.
func (r *Repository) Insert(ctx context.Context, ts *Timesheet) error {
	ts.Version = 1
	_, err := r.db.Exec(ctx, `INSERT INTO timesheets (
id, employee_id, project_id, task_id, week_start_date, week_end_date, week_number, year,
monday_hours, tuesday_hours, wednesday_hours, thursday_hours, friday_hours, saturday_hours, sunday_hours,
total_hours_worked, description, status, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		ts.ID, ts.EmployeeID, ts.ProjectID, ts.TaskID, ts.WeekStart, ts.WeekEnd, ts.WeekNumber, ts.Year,
		ts.Hours[0], ts.Hours[1], ts.Hours[2], ts.Hours[3], ts.Hours[4], ts.Hours[5], ts.Hours[6],
		ts.TotalHours, ts.Description, string(ts.Status), ts.Version, ts.CreatedAt, ts.UpdatedAt,
	)
	return mapWriteError(ts, err)
}

// Update implements TxRepository.
func (r *Repository) Update(ctx context.Context, ts *Timesheet, expected int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE timesheets SET
project_id = $3, task_id = $4, week_start_date = $5, week_end_date = $6, week_number = $7, year = $8,
monday_hours = $9, tuesday_hours = $10, wednesday_hours = $11, thursday_hours = $12, friday_hours = $13,
saturday_hours = $14, sunday_hours = $15, total_hours_worked = $16, description = $17, status = $18,
submitted_at = $19, approved_at = $20, rejected_at = $21, approver_comments = $22, approved_by = $23,
updated_at = $24, deleted_at = $25, version = version + 1
WHERE id = $1 AND version = $2 AND deleted_at IS NULL`,
		ts.ID, expected, ts.ProjectID, ts.TaskID, ts.WeekStart, ts.WeekEnd, ts.WeekNumber, ts.Year,
		ts.Hours[0], ts.Hours[1], ts.Hours[2], ts.Hours[3], ts.Hours[4], ts.Hours[5], ts.Hours[6],
		ts.TotalHours, ts.Description, string(ts.Status), ts.SubmittedAt, ts.ApprovedAt, ts.RejectedAt,
		ts.ApproverComments, ts.ApprovedBy, ts.UpdatedAt, ts.DeletedAt,
	)
	if err != nil {
		return mapWriteError(ts, err)
	}
	if tag.RowsAffected() == 0 {
		return errStale
	}
	ts.Version = expected + 1
	return nil
}

func mapWriteError(ts *Timesheet, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case db.IsUniqueViolation(err):
		return newValidationError(ts.ID, "taskId", RuleDuplicate, "a timesheet for this task and week already exists")
	case db.IsSerializationFailure(err):
		return errStale
	}
	return err
}

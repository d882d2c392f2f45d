package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGSource reads the employees table maintained by the HR platform.
type PGSource struct {
	db querier
}

// NewPGSource constructs the source.
func NewPGSource(db querier) *PGSource {
	return &PGSource{db: db}
}

// Employee implements Source.
func (s *PGSource) Employee(ctx context.Context, id uuid.UUID) (Employee, error) {
	var emp Employee
	err := s.db.QueryRow(ctx, `SELECT id, role, manager_id, active FROM employees WHERE id = $1`, id).
		Scan(&emp.ID, &emp.Role, &emp.ManagerID, &emp.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Employee{}, ErrNotFound
		}
		return Employee{}, err
	}
	return emp, nil
}

// Reports implements Source.
func (s *PGSource) Reports(ctx context.Context, managerID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM employees WHERE manager_id = $1 AND active ORDER BY id`, managerID)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, err
	}
	return ids, nil
}

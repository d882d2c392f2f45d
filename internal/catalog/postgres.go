package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGSource reads tasks joined with their project.
type PGSource struct {
	db querier
}

// NewPGSource constructs the source.
func NewPGSource(db querier) *PGSource {
	return &PGSource{db: db}
}

// Task implements Source.
func (s *PGSource) Task(ctx context.Context, projectID, taskID uuid.UUID) (Task, error) {
	const query = `SELECT t.id, t.project_id, t.name, t.active, p.active, t.assigned_to, t.available_to_all
FROM tasks t
JOIN projects p ON p.id = t.project_id
WHERE t.id = $1`
	var task Task
	err := s.db.QueryRow(ctx, query, taskID).Scan(
		&task.ID, &task.ProjectID, &task.Name, &task.Active, &task.ProjectActive, &task.AssignedTo, &task.AvailableToAll,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, err
	}
	return task, nil
}

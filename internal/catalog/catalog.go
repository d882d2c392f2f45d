// Package catalog reads the project/task catalog owned by the projects service.
package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound indicates the task does not exist.
var ErrNotFound = errors.New("catalog: task not found")

// Task is a bookable unit of work.
type Task struct {
	ID             uuid.UUID  `json:"id"`
	ProjectID      uuid.UUID  `json:"projectId"`
	Name           string     `json:"name"`
	Active         bool       `json:"active"`
	ProjectActive  bool       `json:"projectActive"`
	AssignedTo     *uuid.UUID `json:"assignedTo,omitempty"`
	AvailableToAll bool       `json:"availableToAll"`
}

// OpenTo reports whether employeeID may book time on the task.
func (t Task) OpenTo(employeeID uuid.UUID) bool {
	if t.AvailableToAll || t.AssignedTo == nil {
		return true
	}
	return *t.AssignedTo == employeeID
}

// Source loads tasks from the system of record.
type Source interface {
	Task(ctx context.Context, projectID, taskID uuid.UUID) (Task, error)
}

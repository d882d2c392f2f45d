// Package directory resolves callers against the employee directory.
package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-timesheets/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-timesheets/internal/shared"
)

var (
	// ErrNotFound indicates an unknown employee.
	ErrNotFound = errors.New("directory: employee not found")
	// ErrInactive indicates a deactivated employee.
	ErrInactive = errors.New("directory: employee inactive")
)

// Employee is the directory view of a person.
type Employee struct {
	ID        uuid.UUID  `json:"id"`
	Role      string     `json:"role"`
	ManagerID *uuid.UUID `json:"managerId,omitempty"`
	Active    bool       `json:"active"`
}

// Source loads directory entries from the system of record.
type Source interface {
	Employee(ctx context.Context, id uuid.UUID) (Employee, error)
	Reports(ctx context.Context, managerID uuid.UUID) ([]uuid.UUID, error)
}

// Directory answers identity questions with caching and a per-lookup timeout.
type Directory struct {
	source  Source
	cache   *cache.JSONCache
	timeout time.Duration
}

// New constructs a Directory.
func New(source Source, c *cache.JSONCache, timeout time.Duration) *Directory {
	return &Directory{source: source, cache: c, timeout: timeout}
}

func (d *Directory) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.timeout)
}

func (d *Directory) key(parts ...string) string {
	if d.cache == nil {
		return ""
	}
	return d.cache.Key(parts...)
}

// Employee returns a directory entry.
func (d *Directory) Employee(ctx context.Context, id uuid.UUID) (Employee, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	emp, err := cache.Fetch(ctx, d.cache, d.key("employee", id.String()), func(ctx context.Context) (Employee, error) {
		return d.source.Employee(ctx, id)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Employee{}, err
		}
		return Employee{}, fmt.Errorf("directory: employee %s: %w", id, err)
	}
	return emp, nil
}

// Principal resolves the caller's role and, for managers, their reports.
func (d *Directory) Principal(ctx context.Context, id uuid.UUID) (shared.Principal, error) {
	emp, err := d.Employee(ctx, id)
	if err != nil {
		return shared.Principal{}, err
	}
	if !emp.Active {
		return shared.Principal{}, ErrInactive
	}
	role, err := shared.ParseRole(emp.Role)
	if err != nil {
		return shared.Principal{}, fmt.Errorf("directory: employee %s: %w", id, err)
	}
	p := shared.Principal{EmployeeID: emp.ID, Role: role}
	if role == shared.RoleManager {
		lookupCtx, cancel := d.withTimeout(ctx)
		defer cancel()
		reports, err := cache.Fetch(lookupCtx, d.cache, d.key("reports", id.String()), func(ctx context.Context) ([]uuid.UUID, error) {
			return d.source.Reports(ctx, id)
		})
		if err != nil {
			return shared.Principal{}, fmt.Errorf("directory: reports of %s: %w", id, err)
		}
		p.Reports = reports
	}
	return p, nil
}

// ManagerOf returns the manager of employeeID, or nil when there is none.
func (d *Directory) ManagerOf(ctx context.Context, employeeID uuid.UUID) (*uuid.UUID, error) {
	emp, err := d.Employee(ctx, employeeID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return emp.ManagerID, nil
}

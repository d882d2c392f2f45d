package directory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-timesheets/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-timesheets/internal/shared"
)

type memorySource struct {
	employees   map[uuid.UUID]Employee
	lookups     int
	reportCalls int
	fail        error
}

func (m *memorySource) Employee(_ context.Context, id uuid.UUID) (Employee, error) {
	m.lookups++
	if m.fail != nil {
		return Employee{}, m.fail
	}
	emp, ok := m.employees[id]
	if !ok {
		return Employee{}, ErrNotFound
	}
	return emp, nil
}

func (m *memorySource) Reports(_ context.Context, managerID uuid.UUID) ([]uuid.UUID, error) {
	m.reportCalls++
	var ids []uuid.UUID
	for _, emp := range m.employees {
		if emp.ManagerID != nil && *emp.ManagerID == managerID && emp.Active {
			ids = append(ids, emp.ID)
		}
	}
	return ids, nil
}

func fixture() (*memorySource, uuid.UUID, uuid.UUID) {
	manager := uuid.New()
	employee := uuid.New()
	return &memorySource{employees: map[uuid.UUID]Employee{
		manager:  {ID: manager, Role: "manager", Active: true},
		employee: {ID: employee, Role: "employee", ManagerID: &manager, Active: true},
	}}, manager, employee
}

func TestPrincipalResolvesReportsAndCaches(t *testing.T) {
	src, manager, employee := fixture()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	dir := New(src, cache.NewJSONCache(client, "directory", time.Minute, nil), time.Second)

	p, err := dir.Principal(context.Background(), manager)
	require.NoError(t, err)
	require.Equal(t, shared.RoleManager, p.Role)
	require.Equal(t, []uuid.UUID{employee}, p.Reports)

	_, err = dir.Principal(context.Background(), manager)
	require.NoError(t, err)
	require.Equal(t, 1, src.lookups)
	require.Equal(t, 1, src.reportCalls)

	mgr, err := dir.ManagerOf(context.Background(), employee)
	require.NoError(t, err)
	require.NotNil(t, mgr)
	require.Equal(t, manager, *mgr)
}

func TestPrincipalRejectsInactive(t *testing.T) {
	src, _, employee := fixture()
	emp := src.employees[employee]
	emp.Active = false
	src.employees[employee] = emp

	_, err := New(src, nil, 0).Principal(context.Background(), employee)
	require.ErrorIs(t, err, ErrInactive)
}

func TestManagerOfUnknownEmployee(t *testing.T) {
	src, _, _ := fixture()
	mgr, err := New(src, nil, 0).ManagerOf(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Nil(t, mgr)
}

func TestMiddleware(t *testing.T) {
	src, _, employee := fixture()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var seen shared.Principal
	handler := Middleware(New(src, nil, 0), logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = shared.PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing", header: "", status: http.StatusUnauthorized},
		{name: "malformed", header: "nope", status: http.StatusUnauthorized},
		{name: "unknown", header: uuid.NewString(), status: http.StatusUnauthorized},
		{name: "known", header: employee.String(), status: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(EmployeeHeader, tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			require.Equal(t, tc.status, rec.Code)
		})
	}
	require.Equal(t, employee, seen.EmployeeID)
	require.Equal(t, shared.RoleEmployee, seen.Role)

	src.fail = errors.New("connection refused")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(EmployeeHeader, employee.String())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

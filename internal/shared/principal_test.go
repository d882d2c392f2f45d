package shared

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	for raw, want := range map[string]Role{"employee": RoleEmployee, "Manager": RoleManager, " hr ": RoleHR, "ADMIN": RoleAdmin} {
		got, err := ParseRole(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.NotEqual(t, "unknown", got.String())
	}
	_, err := ParseRole("contractor")
	require.Error(t, err)
}

func TestPrincipalContextRoundTrip(t *testing.T) {
	report := uuid.New()
	p := Principal{EmployeeID: uuid.New(), Role: RoleManager, Reports: []uuid.UUID{report}}
	ctx := ContextWithPrincipal(context.Background(), p)

	got, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.True(t, got.Manages(report))
	assert.False(t, got.Manages(uuid.New()))
	assert.False(t, got.Privileged())

	_, ok = PrincipalFromContext(context.Background())
	assert.False(t, ok)
}

func TestNewPagination(t *testing.T) {
	p := NewPagination(0, 0, 45)
	assert.Equal(t, Pagination{Page: 1, PerPage: 20, Total: 45, TotalPages: 3}, p)
	assert.Equal(t, 100, NewPagination(1, 500, 10).PerPage)
	assert.Equal(t, 40, Offset(3, 20))
}

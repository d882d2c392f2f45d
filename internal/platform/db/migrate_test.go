package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file %s", name)
		}
	}
	assert.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

func TestLatestVersion(t *testing.T) {
	latest, err := LatestVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(3), latest)
}

func TestTimesheetSchemaGuardsDuplicates(t *testing.T) {
	raw, err := fs.ReadFile(migrationsFS, "migrations/000002_timesheets.up.sql")
	require.NoError(t, err)
	sql := string(raw)
	assert.Contains(t, sql, "CREATE UNIQUE INDEX IF NOT EXISTS timesheets_employee_task_week_uniq")
	assert.Contains(t, sql, "WHERE deleted_at IS NULL")
}

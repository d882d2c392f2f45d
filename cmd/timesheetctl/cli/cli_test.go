package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-timesheets/jobs"
)

func runCommand(t *testing.T, now time.Time, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(func() time.Time { return now })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestWeekCommand(t *testing.T) {
	out, err := runCommand(t, time.Time{}, "week", "2025-09-10")
	require.NoError(t, err)
	assert.Contains(t, out, "week 37 of 2025: 2025-09-08..2025-09-14")
	assert.Contains(t, out, "Monday")
	assert.Contains(t, out, "2025-09-14")
}

func TestWeekCommandDefaultsToNow(t *testing.T) {
	out, err := runCommand(t, time.Date(2025, 9, 14, 23, 0, 0, 0, time.UTC), "week")
	require.NoError(t, err)
	assert.Contains(t, out, "2025-09-08..2025-09-14")
}

func TestWeekCommandRejectsBadDate(t *testing.T) {
	_, err := runCommand(t, time.Time{}, "week", "10/09/2025")
	require.Error(t, err)
}

func TestJobsTaskFor(t *testing.T) {
	c, err := NewJobsCLI("127.0.0.1:6379", 48*time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	task, err := c.taskFor("idempotency-cleanup")
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskIdempotencyCleanup, task.Type())

	var payload jobs.IdempotencyCleanupPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, 48*time.Hour, payload.Retention())

	_, err = c.Trigger(context.Background(), "gl:integrity")
	require.ErrorContains(t, err, "unsupported job")
}

func TestNewJobsCLIRequiresAddress(t *testing.T) {
	_, err := NewJobsCLI("", time.Hour)
	require.Error(t, err)
}

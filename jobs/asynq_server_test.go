package jobs

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return f.info, f.err
}

func serveHealth(t *testing.T, inspector QueueInspector) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(inspector, nil).MountRoutes)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	return rec
}

func TestHealthReportsQueueCounters(t *testing.T) {
	rec := serveHealth(t, fakeInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4, Retry: 2, Archived: 1}})
	require.Equal(t, http.StatusOK, rec.Code)

	var body queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, queueHealth{Queue: QueueDefault, Pending: 4, Retry: 2, Archived: 1}, body)
}

func TestHealthWithoutInspector(t *testing.T) {
	rec := serveHealth(t, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"queue":"default","pending":0,"active":0,"scheduled":0,"retry":0,"archived":0,"paused":false}`, rec.Body.String())
}

func TestHealthQueueUnavailable(t *testing.T) {
	rec := serveHealth(t, fakeInspector{err: errors.New("redis down")})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestNewWorkerRejectsBadCron(t *testing.T) {
	task, err := NewIdempotencyCleanupTask(IdempotencyCleanupPayload{})
	require.NoError(t, err)

	_, err = NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Cron:      []CronRegistration{{Spec: "every tuesday-ish", Task: task}},
	})
	require.Error(t, err)
}

func TestAsynqLoggerUsesSlog(t *testing.T) {
	var buf bytes.Buffer
	logger := newAsynqLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	logger.Warn("lease ", "expired")
	assert.Contains(t, buf.String(), "component=asynq")
	assert.Contains(t, buf.String(), "lease expired")
}

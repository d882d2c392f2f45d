package catalog

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-timesheets/internal/platform/cache"
)

type countingSource struct {
	tasks map[uuid.UUID]Task
	calls atomic.Int32
	delay time.Duration
}

func (s *countingSource) Task(_ context.Context, _, taskID uuid.UUID) (Task, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	task, ok := s.tasks[taskID]
	if !ok {
		return Task{}, ErrNotFound
	}
	return task, nil
}

func newTestCache(t *testing.T) (*cache.JSONCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewJSONCache(client, "catalog", time.Minute, nil), mr
}

func TestClientCachesTasks(t *testing.T) {
	task := Task{ID: uuid.New(), ProjectID: uuid.New(), Name: "Build", Active: true, ProjectActive: true, AvailableToAll: true}
	src := &countingSource{tasks: map[uuid.UUID]Task{task.ID: task}}
	c, mr := newTestCache(t)
	client := NewClient(src, c, time.Second)

	for range 3 {
		got, err := client.Task(context.Background(), task.ProjectID, task.ID)
		require.NoError(t, err)
		require.Equal(t, task, got)
	}
	require.EqualValues(t, 1, src.calls.Load())
	require.True(t, mr.Exists("catalog:task:"+task.ID.String()))
}

func TestClientCollapsesConcurrentLookups(t *testing.T) {
	task := Task{ID: uuid.New(), ProjectID: uuid.New(), Active: true, ProjectActive: true}
	src := &countingSource{tasks: map[uuid.UUID]Task{task.ID: task}, delay: 50 * time.Millisecond}
	client := NewClient(src, nil, time.Second)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Task(context.Background(), task.ProjectID, task.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Less(t, src.calls.Load(), int32(8))
}

func TestClientNotFound(t *testing.T) {
	src := &countingSource{tasks: map[uuid.UUID]Task{}}
	c, mr := newTestCache(t)
	client := NewClient(src, c, time.Second)

	missing := uuid.New()
	_, err := client.Task(context.Background(), uuid.New(), missing)
	require.ErrorIs(t, err, ErrNotFound)
	require.False(t, mr.Exists("catalog:task:"+missing.String()))
}

func TestTaskOpenTo(t *testing.T) {
	owner := uuid.New()
	restricted := Task{AssignedTo: &owner}
	require.True(t, restricted.OpenTo(owner))
	require.False(t, restricted.OpenTo(uuid.New()))
	restricted.AvailableToAll = true
	require.True(t, restricted.OpenTo(uuid.New()))
	require.True(t, Task{}.OpenTo(uuid.New()))
}

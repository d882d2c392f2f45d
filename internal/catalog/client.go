package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-timesheets/internal/platform/cache"
)

// Client fronts a Source with a Redis cache, collapses concurrent lookups of the same
// task and bounds every lookup with a timeout.
type Client struct {
	source  Source
	cache   *cache.JSONCache
	timeout time.Duration
	group   singleflight.Group
}

// NewClient constructs a catalog client.
func NewClient(source Source, c *cache.JSONCache, timeout time.Duration) *Client {
	return &Client{source: source, cache: c, timeout: timeout}
}

// Task resolves a task. projectID is not part of the lookup key; callers compare it.
func (c *Client) Task(ctx context.Context, projectID, taskID uuid.UUID) (Task, error) {
	key := "task:" + taskID.String()
	if c.cache != nil {
		key = c.cache.Key("task", taskID.String())
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		lookupCtx := context.WithoutCancel(ctx)
		if c.timeout > 0 {
			var cancel context.CancelFunc
			lookupCtx, cancel = context.WithTimeout(lookupCtx, c.timeout)
			defer cancel()
		}
		return cache.Fetch(lookupCtx, c.cache, key, func(ctx context.Context) (Task, error) {
			return c.source.Task(ctx, projectID, taskID)
		})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Task{}, err
		}
		return Task{}, fmt.Errorf("catalog: lookup task %s: %w", taskID, err)
	}
	return v.(Task), nil
}

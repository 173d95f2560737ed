package graph

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"redline/internal/platform/redis"
	id "redline/pkg/domain"
)

const cacheTTL = 5 * time.Minute

// Cache is a best-effort snapshot cache over Redis. The graph itself lives
// in the record store; the cache only shortcuts the read path. Every write
// path invalidates, so a missing or unreachable Redis degrades to store
// reads, never to stale answers being the only answers.
//
// A nil Cache or a nil client is valid and disables caching.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCache(client *redis.Client, logger *slog.Logger) *Cache {
	return &Cache{client: client, ttl: cacheTTL, logger: logger}
}

func cacheKey(workspaceID id.WorkspaceID) string {
	return "graph:snapshot:" + workspaceID.String()
}

// Get returns the cached snapshot or (nil, nil) on a miss. Errors are
// logged and reported as misses.
func (c *Cache) Get(ctx context.Context, workspaceID id.WorkspaceID) (*Snapshot, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	raw, err := c.client.Get(ctx, cacheKey(workspaceID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		c.logger.WarnContext(ctx, "graph cache read failed",
			slog.String("workspace_id", workspaceID.String()),
			slog.String("error", err.Error()))
		return nil, nil
	}
	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		// Poisoned entry; drop it so the next read repopulates.
		c.Invalidate(ctx, workspaceID)
		return nil, nil
	}
	return &snapshot, nil
}

// Set stores the snapshot. Failures are logged, not returned; the cache is
// never on a mutation's critical path.
func (c *Cache) Set(ctx context.Context, snapshot *Snapshot) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(snapshot.State.WorkspaceID), raw, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "graph cache write failed",
			slog.String("workspace_id", snapshot.State.WorkspaceID.String()),
			slog.String("error", err.Error()))
	}
}

// Invalidate drops the workspace's cached snapshot.
func (c *Cache) Invalidate(ctx context.Context, workspaceID id.WorkspaceID) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, cacheKey(workspaceID)).Err(); err != nil {
		c.logger.WarnContext(ctx, "graph cache invalidation failed",
			slog.String("workspace_id", workspaceID.String()),
			slog.String("error", err.Error()))
	}
}

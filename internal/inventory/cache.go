package inventory

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/lagerbot/warehouse-bot/internal/models"
	"github.com/lagerbot/warehouse-bot/pkg/metrics"
)

// DefaultSnapshotTTL bounds how stale a cached inventory snapshot may get.
const DefaultSnapshotTTL = time.Minute

const snapshotCacheKey = "inventory:snapshot"

// SnapshotCache caches the full inventory snapshot between store reads. Cache
// failures are soft: callers fall back to the store.
type SnapshotCache interface {
	Get(ctx context.Context) ([]models.InventoryRecord, bool)
	Set(ctx context.Context, records []models.InventoryRecord)
	Invalidate(ctx context.Context)
}

// RedisSnapshotCache stores the snapshot as one JSON blob with TTL expiry.
type RedisSnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisSnapshotCache creates a Redis-backed snapshot cache. A non-positive
// ttl selects the one minute default.
func NewRedisSnapshotCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisSnapshotCache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &RedisSnapshotCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisSnapshotCache) Get(ctx context.Context) ([]models.InventoryRecord, bool) {
	result, err := c.client.Get(ctx, snapshotCacheKey).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Snapshot cache read failed", "error", err)
		}
		return nil, false
	}

	var records []models.InventoryRecord
	if err := json.Unmarshal([]byte(result), &records); err != nil {
		c.logger.Warn("Snapshot cache entry corrupt, discarding", "error", err)
		c.Invalidate(ctx)
		return nil, false
	}
	return records, true
}

func (c *RedisSnapshotCache) Set(ctx context.Context, records []models.InventoryRecord) {
	data, err := json.Marshal(records)
	if err != nil {
		c.logger.Warn("Snapshot cache marshal failed", "error", err)
		return
	}
	if err := c.client.Set(ctx, snapshotCacheKey, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Snapshot cache write failed", "error", err)
	}
}

func (c *RedisSnapshotCache) Invalidate(ctx context.Context) {
	if err := c.client.Del(ctx, snapshotCacheKey).Err(); err != nil {
		c.logger.Warn("Snapshot cache invalidation failed", "error", err)
	}
}

// MemorySnapshotCache is the in-process fallback when no Redis is configured.
type MemorySnapshotCache struct {
	mu      sync.Mutex
	records []models.InventoryRecord
	setAt   time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewMemorySnapshotCache creates an in-memory snapshot cache. A non-positive
// ttl selects the one minute default.
func NewMemorySnapshotCache(ttl time.Duration) *MemorySnapshotCache {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &MemorySnapshotCache{ttl: ttl, now: time.Now}
}

func (c *MemorySnapshotCache) Get(_ context.Context) ([]models.InventoryRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.records == nil || c.now().Sub(c.setAt) > c.ttl {
		c.records = nil
		return nil, false
	}
	return c.records, true
}

func (c *MemorySnapshotCache) Set(_ context.Context, records []models.InventoryRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = records
	c.setAt = c.now()
}

func (c *MemorySnapshotCache) Invalidate(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = nil
}

// Catalog serves inventory snapshots through an injectable cache. Mutating
// callers invalidate after every applied change so the next resolution sees
// fresh stock.
type Catalog struct {
	store   Store
	cache   SnapshotCache
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewCatalog wires a store with a snapshot cache. metrics may be nil.
func NewCatalog(store Store, cache SnapshotCache, m *metrics.Metrics, logger *slog.Logger) *Catalog {
	return &Catalog{store: store, cache: cache, metrics: m, logger: logger}
}

// Snapshot returns the inventory, from cache when possible. force bypasses
// the cache and refreshes it.
func (c *Catalog) Snapshot(ctx context.Context, force bool) ([]models.InventoryRecord, error) {
	if !force {
		if records, ok := c.cache.Get(ctx); ok {
			c.metrics.RecordCacheAccess("snapshot", true)
			c.logger.Debug("Inventory snapshot served from cache", "count", len(records))
			return records, nil
		}
		c.metrics.RecordCacheAccess("snapshot", false)
	}

	records, err := c.store.Snapshot(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load inventory snapshot")
	}
	c.cache.Set(ctx, records)
	return records, nil
}

// Invalidate drops the cached snapshot.
func (c *Catalog) Invalidate(ctx context.Context) {
	c.cache.Invalidate(ctx)
}

// Package cache memoizes hybrid search responses in Redis and collapses
// concurrent identical searches into one computation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/devstudio-tyler/company-on/internal/retrieval"
	"github.com/devstudio-tyler/company-on/pkg/metrics"
	pkgredis "github.com/devstudio-tyler/company-on/pkg/redis"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "search:"

// Backend is the subset of the Redis client the cache needs.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type QueryCache struct {
	client  Backend
	ttl     time.Duration
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

func New(client Backend, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		client:  client,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Request identifies a cacheable search.
type Request struct {
	Query string
	Limit int
	Alpha float64
	Beta  float64
}

func (c *QueryCache) Get(ctx context.Context, req Request) (*retrieval.Response, bool) {
	key := buildKey(req)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var resp retrieval.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.ObserveSearchCache(true)
	return &resp, true
}

// Set stores resp. Degraded responses are not cached so a recovered
// backend is picked up on the next query.
func (c *QueryCache) Set(ctx context.Context, req Request, resp *retrieval.Response) {
	if resp.Mode != retrieval.ModeHybrid {
		return
	}
	key := buildKey(req)
	data, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached response for req or runs compute once
// for all concurrent callers with the same request.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	req Request,
	compute func() (*retrieval.Response, error),
) (*retrieval.Response, bool, error) {
	if resp, ok := c.Get(ctx, req); ok {
		return resp, true, nil
	}
	val, err, _ := c.group.Do(buildKey(req), func() (any, error) {
		resp, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, req, resp)
		return resp, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*retrieval.Response), false, nil
}

// Invalidate drops every cached response. Ingestion calls it after a
// document completes.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating search cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	c.metrics.ObserveSearchCache(false)
}

func buildKey(req Request) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(req.Query)), " ")
	raw := fmt.Sprintf("%s|limit=%d|alpha=%g|beta=%g", normalized, req.Limit, req.Alpha, req.Beta)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

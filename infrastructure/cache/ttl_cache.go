package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/isectech/risk-posture-engine/pkg/logging"
	"github.com/isectech/risk-posture-engine/pkg/metrics"
	"github.com/isectech/risk-posture-engine/shared/common"
)

// Tier is a shared byte-oriented cache behind the in-process cache
type Tier interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// envelope is what goes to the shared tier so expiry survives the round trip
type envelope[V any] struct {
	ExpiresAt time.Time `msgpack:"expires_at"`
	Value     V         `msgpack:"value"`
}

// TTLCache is a bounded in-process cache with per-entry TTL and single-flight
// recomputation on miss. Expired entries are never returned.
type TTLCache[V any] struct {
	name      string
	mu        sync.Mutex
	entries   *lru.Cache[string, entry[V]]
	group     singleflight.Group
	clock     common.Clock
	tier      Tier
	codec     *Codec
	collector *metrics.Collector
	logger    *logging.Logger

	computeTimeout time.Duration
}

// DefaultComputeTimeout bounds a shared computation once it is detached from callers
const DefaultComputeTimeout = 30 * time.Second

// Option configures a TTLCache
type Option[V any] func(*TTLCache[V])

// WithTier puts a shared tier behind the local cache
func WithTier[V any](tier Tier, codec *Codec) Option[V] {
	return func(c *TTLCache[V]) {
		c.tier = tier
		c.codec = codec
	}
}

// WithMetrics records hits and misses on collector
func WithMetrics[V any](collector *metrics.Collector) Option[V] {
	return func(c *TTLCache[V]) {
		c.collector = collector
	}
}

// WithLogger sets the logger used for tier failures
func WithLogger[V any](logger *logging.Logger) Option[V] {
	return func(c *TTLCache[V]) {
		c.logger = logger
	}
}

// WithComputeTimeout bounds each shared computation
func WithComputeTimeout[V any](timeout time.Duration) Option[V] {
	return func(c *TTLCache[V]) {
		c.computeTimeout = timeout
	}
}

// NewTTLCache creates a cache holding at most maxEntries values
func NewTTLCache[V any](name string, maxEntries int, clock common.Clock, opts ...Option[V]) (*TTLCache[V], error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("cache %s: max entries must be positive", name)
	}
	entries, err := lru.New[string, entry[V]](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s cache: %w", name, err)
	}
	if clock == nil {
		clock = common.SystemClock{}
	}

	c := &TTLCache[V]{
		name:    name,
		entries: entries,
		clock:   clock,
		logger:  logging.NewNop(),

		computeTimeout: DefaultComputeTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns a live entry
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *TTLCache[V]) getLocked(key string) (V, bool) {
	var zero V
	e, ok := c.entries.Get(key)
	if !ok {
		return zero, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		c.entries.Remove(key)
		return zero, false
	}
	return e.value, true
}

// Set stores value for ttl
func (c *TTLCache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, entry[V]{value: value, expiresAt: c.clock.Now().Add(ttl)})
}

// Delete drops a key from the local cache and the shared tier
func (c *TTLCache[V]) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	c.entries.Remove(key)
	c.mu.Unlock()

	if c.tier != nil {
		if err := c.tier.Delete(ctx, c.tierKey(key)); err != nil {
			c.logger.Warn("Failed to delete shared cache entry", logging.String("cache", c.name), logging.String("key", key), logging.Error(err))
		}
	}
}

// Len returns the number of entries, including ones not yet evicted after expiry
func (c *TTLCache[V]) Len() int {
	return c.entries.Len()
}

// GetOrCompute returns the cached value for key, computing it at most once
// across concurrent callers. force skips both cache reads and replaces the entry.
// A failed computation leaves any existing entry untouched.
func (c *TTLCache[V]) GetOrCompute(ctx context.Context, key string, ttl time.Duration, force bool, compute func(context.Context) (V, error)) (V, bool, error) {
	if !force {
		if v, ok := c.Get(key); ok {
			c.record(true)
			return v, true, nil
		}
	}
	c.record(false)

	flightKey := key
	if force {
		flightKey = "force:" + key
	}

	type result struct {
		value  V
		cached bool
	}

	// the computation outlives any single caller; each caller stops waiting
	// when its own ctx ends
	ch := c.group.DoChan(flightKey, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.computeTimeout)
		defer cancel()

		if !force {
			if v, ok := c.Get(key); ok {
				return result{value: v, cached: true}, nil
			}
			if v, ok := c.fromTier(fctx, key); ok {
				return result{value: v, cached: true}, nil
			}
		}

		v, err := compute(fctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl)
		c.toTier(fctx, key, v, ttl)
		return result{value: v}, nil
	})

	var zero V
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
	if res.Err != nil {
		return zero, false, res.Err
	}

	r := res.Val.(result)
	return r.value, r.cached, nil
}

func (c *TTLCache[V]) tierKey(key string) string {
	return c.name + ":" + key
}

func (c *TTLCache[V]) fromTier(ctx context.Context, key string) (V, bool) {
	var zero V
	if c.tier == nil {
		return zero, false
	}

	data, ok, err := c.tier.Get(ctx, c.tierKey(key))
	if err != nil {
		c.logger.Warn("Shared cache read failed", logging.String("cache", c.name), logging.String("key", key), logging.Error(err))
		return zero, false
	}
	if !ok {
		return zero, false
	}

	var env envelope[V]
	if err := c.codec.Decode(data, &env); err != nil {
		c.logger.Warn("Shared cache entry undecodable", logging.String("cache", c.name), logging.String("key", key), logging.Error(err))
		return zero, false
	}

	remaining := env.ExpiresAt.Sub(c.clock.Now())
	if remaining <= 0 {
		return zero, false
	}
	c.Set(key, env.Value, remaining)
	return env.Value, true
}

func (c *TTLCache[V]) toTier(ctx context.Context, key string, value V, ttl time.Duration) {
	if c.tier == nil {
		return
	}

	data, err := c.codec.Encode(envelope[V]{ExpiresAt: c.clock.Now().Add(ttl), Value: value})
	if err != nil {
		c.logger.Warn("Failed to encode shared cache entry", logging.String("cache", c.name), logging.String("key", key), logging.Error(err))
		return
	}
	if err := c.tier.Set(ctx, c.tierKey(key), data, ttl); err != nil {
		c.logger.Warn("Shared cache write failed", logging.String("cache", c.name), logging.String("key", key), logging.Error(err))
	}
}

func (c *TTLCache[V]) record(hit bool) {
	if c.collector != nil {
		c.collector.RecordCacheRequest(c.name, hit)
	}
}

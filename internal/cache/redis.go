package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache holds JSON-encoded read-side projections for a bounded time.
type Cache interface {
	// Get decodes the cached value for key into dest. It reports false when
	// the key is absent or expired. gen is the generation the lookup ran
	// against; a value computed after a miss is stored with Set under that
	// same gen, so a concurrent Invalidate orphans it instead of serving it.
	Get(ctx context.Context, key string, dest any) (gen int64, hit bool, err error)
	Set(ctx context.Context, gen int64, key string, value any) error
	// Invalidate drops every cached entry.
	Invalidate(ctx context.Context) error
	Close() error
}

// Redis caches projections in Redis. Entries are namespaced by a generation
// counter, so Invalidate is a single INCR rather than a key scan.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects to the Redis server at url (redis://host:port/db) and
// checks it is reachable.
func NewRedis(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return &Redis{client: client, prefix: "trendpulse:trends", ttl: ttl}, nil
}

func (r *Redis) generation(ctx context.Context) (int64, error) {
	gen, err := r.client.Get(ctx, r.prefix+":gen").Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cache generation: %w", err)
	}
	return gen, nil
}

func (r *Redis) key(gen int64, key string) string {
	return fmt.Sprintf("%s:%d:%s", r.prefix, gen, key)
}

func (r *Redis) Get(ctx context.Context, key string, dest any) (int64, bool, error) {
	gen, err := r.generation(ctx)
	if err != nil {
		return 0, false, err
	}
	val, err := r.client.Get(ctx, r.key(gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return gen, false, nil
	}
	if err != nil {
		return gen, false, fmt.Errorf("get cache %s: %w", key, err)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return gen, false, fmt.Errorf("decode cache %s: %w", key, err)
	}
	return gen, true, nil
}

func (r *Redis) Set(ctx context.Context, gen int64, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache %s: %w", key, err)
	}
	if err := r.client.Set(ctx, r.key(gen, key), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("set cache %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context) error {
	if err := r.client.Incr(ctx, r.prefix+":gen").Err(); err != nil {
		return fmt.Errorf("invalidate cache: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Nop is a Cache that never holds anything. It is used when no Redis URL is
// configured.
type Nop struct{}

func (Nop) Get(context.Context, string, any) (int64, bool, error) { return 0, false, nil }
func (Nop) Set(context.Context, int64, string, any) error         { return nil }
func (Nop) Invalidate(context.Context) error                      { return nil }
func (Nop) Close() error                                          { return nil }

package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis is a Cache backed by a Redis instance, for deployments running more
// than one resolver replica. Errors degrade to cache misses; the resolver
// never fails a request because Redis is down.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *zap.Logger
}

// NewRedis returns a Redis cache. keyPrefix namespaces entries so several
// services can share one instance.
func NewRedis(client *redis.Client, keyPrefix string, defaultTTL time.Duration, log *zap.Logger) *Redis {
	if keyPrefix == "" {
		keyPrefix = "moniker:"
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{client: client, prefix: keyPrefix, ttl: defaultTTL, log: log}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		r.log.Warn("redis get failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return val, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = r.ttl
	}
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		r.log.Warn("redis set failed", zap.String("key", key), zap.Error(err))
	}
}

func (r *Redis) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		r.log.Warn("redis del failed", zap.String("key", key), zap.Error(err))
	}
}

func (r *Redis) DeletePrefix(ctx context.Context, prefix string) int {
	return r.deleteByPattern(ctx, r.prefix+prefix+"*")
}

func (r *Redis) Purge(ctx context.Context) {
	r.deleteByPattern(ctx, r.prefix+"*")
}

func (r *Redis) Len(ctx context.Context) int {
	count := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		r.log.Warn("redis scan failed", zap.Error(err))
	}
	return count
}

func (r *Redis) deleteByPattern(ctx context.Context, pattern string) int {
	removed := 0
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	var batch []string
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			r.log.Warn("redis del failed", zap.Error(err))
			return
		}
		removed += len(batch)
		batch = batch[:0]
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			flush()
		}
	}
	flush()
	if err := iter.Err(); err != nil {
		r.log.Warn("redis scan failed", zap.Error(err))
	}
	return removed
}

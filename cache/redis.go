package cache

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fabfab/palms-chat/logger"
)

// Redis shares cached answers between replicas. Redis failures are logged and read as
// misses so a cache outage never fails a chat.
type Redis struct {
	rdb    goredis.Cmdable
	prefix string
	ttl    time.Duration
	log    *logger.Logger
}

func NewRedis(rdb goredis.Cmdable, prefix string, ttl time.Duration, log *logger.Logger) *Redis {
	if log == nil {
		log = logger.NewNop()
	}
	if prefix == "" {
		prefix = "palms:"
	}
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl, log: log.With("service", "ResponseCache")}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool) {
	val, err := r.rdb.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false
	}
	if err != nil {
		r.log.Warn("redis cache get failed", "error", err)
		return "", false
	}
	return val, true
}

func (r *Redis) Set(ctx context.Context, key, value string) {
	if err := r.rdb.Set(ctx, r.prefix+key, value, r.ttl).Err(); err != nil {
		r.log.Warn("redis cache set failed", "error", err)
	}
}

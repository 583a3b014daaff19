package rooms

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultCacheTTL = 5 * time.Minute
	cacheKeyPrefix  = "assistant:rooms:"
)

// CachedSource keeps Redis snapshots of datasets loaded from another Source.
// With a nil Redis client it is a passthrough.
type CachedSource struct {
	next  Source
	redis *redis.Client
	ttl   time.Duration
}

func NewCachedSource(next Source, rdb *redis.Client, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedSource{next: next, redis: rdb, ttl: ttl}
}

func (s *CachedSource) Load(ctx context.Context, facility string) (*Dataset, error) {
	if s.redis != nil {
		cached, err := s.redis.Get(ctx, cacheKeyPrefix+facility).Bytes()
		if err == nil {
			ds := NewDataset()
			if err := json.Unmarshal(cached, ds); err == nil {
				return ds, nil
			}
			slog.Warn("discarding unreadable dataset snapshot", "facility", facility)
		}
	}

	ds, err := s.next.Load(ctx, facility)
	if err != nil {
		return nil, err
	}

	if s.redis != nil {
		data, err := json.Marshal(ds)
		if err != nil {
			slog.Warn("failed to encode dataset snapshot", "facility", facility, "error", err)
			return ds, nil
		}
		if err := s.redis.Set(ctx, cacheKeyPrefix+facility, data, s.ttl).Err(); err != nil {
			slog.Warn("failed to cache dataset snapshot", "facility", facility, "error", err)
		}
	}
	return ds, nil
}

package directory

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const DefaultCacheTTL = 5 * time.Minute

// Cache is the subset of the redis client the read-through cache uses.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Cached is a read-through redis cache in front of another Directory. Cache
// failures are logged and fall through to the backing directory.
type Cached struct {
	next   Directory
	cache  Cache
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCached(next Directory, cache Cache, ttl time.Duration, logger zerolog.Logger) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{next: next, cache: cache, ttl: ttl, logger: logger}
}

func providerKey(id string) string {
	return "vetbook:provider:" + id
}

func (c *Cached) Provider(ctx context.Context, id string) (model.Provider, error) {
	key := providerKey(id)
	raw, err := c.cache.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p model.Provider
		uerr := json.Unmarshal(raw, &p)
		if uerr == nil {
			return p, nil
		}
		c.logger.Warn().Err(uerr).Str("provider_id", id).Msg("discarding undecodable cached provider")
	case !errors.Is(err, redis.Nil):
		c.logger.Warn().Err(err).Str("provider_id", id).Msg("provider cache read failed")
	}

	p, err := c.next.Provider(ctx, id)
	if err != nil {
		return model.Provider{}, err
	}
	if data, err := json.Marshal(p); err == nil {
		if err := c.cache.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Str("provider_id", id).Msg("provider cache write failed")
		}
	}
	return p, nil
}

// Invalidate drops the cached entry, e.g. after a directory upsert.
func (c *Cached) Invalidate(ctx context.Context, id string) error {
	return c.cache.Del(ctx, providerKey(id)).Err()
}

package lookup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/andrejvysny/spendly-sub003/internal/constants"
	"github.com/andrejvysny/spendly-sub003/internal/logger"
	"github.com/andrejvysny/spendly-sub003/internal/rules"
	"github.com/andrejvysny/spendly-sub003/pkg/circuitbreaker"
	"github.com/andrejvysny/spendly-sub003/pkg/metrics"
)

// CachedResolver is a read-through cache over another resolver. Only the
// id-to-name lookups are cached; they are hit once per action per
// transaction and the names are effectively immutable between rule runs.
// Redis failures trip a circuit breaker and the resolver falls through
// to the backing store.
type CachedResolver struct {
	next    rules.EntityResolver
	rdb     *redis.Client
	breaker *circuitbreaker.Wrapper
	ttl     time.Duration
	log     logger.Logger
}

func NewCachedResolver(next rules.EntityResolver, rdb *redis.Client, breaker *circuitbreaker.Wrapper, ttlSeconds int, log logger.Logger) *CachedResolver {
	if ttlSeconds <= 0 {
		ttlSeconds = constants.DefaultCacheTTLSeconds
	}
	return &CachedResolver{
		next:    next,
		rdb:     rdb,
		breaker: breaker,
		ttl:     time.Duration(ttlSeconds) * time.Second,
		log:     log,
	}
}

var _ rules.EntityResolver = (*CachedResolver)(nil)

func (c *CachedResolver) ResolveCategory(ctx context.Context, userID, categoryID int64) (string, error) {
	return c.resolveCached(ctx, "category", userID, categoryID, c.next.ResolveCategory)
}

func (c *CachedResolver) ResolveMerchant(ctx context.Context, userID, merchantID int64) (string, error) {
	return c.resolveCached(ctx, "merchant", userID, merchantID, c.next.ResolveMerchant)
}

func (c *CachedResolver) ResolveTag(ctx context.Context, userID, tagID int64) (string, error) {
	return c.resolveCached(ctx, "tag", userID, tagID, c.next.ResolveTag)
}

func (c *CachedResolver) resolveCached(ctx context.Context, entity string, userID, id int64, fallback func(context.Context, int64, int64) (string, error)) (string, error) {
	key := fmt.Sprintf("%s%s:%d:%d", constants.CacheKeyPrefixLookup, entity, userID, id)

	if name, ok := c.cacheGet(ctx, entity, key); ok {
		return name, nil
	}

	name, err := fallback(ctx, userID, id)
	if err != nil {
		return "", err
	}

	c.cacheSet(ctx, key, name)
	return name, nil
}

func (c *CachedResolver) cacheGet(ctx context.Context, entity, key string) (string, bool) {
	result, err := c.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		return c.rdb.Get(ctx, key).Result()
	})
	if err != nil {
		if err != redis.Nil {
			c.log.WarnwCtx(ctx, "Lookup cache read failed, falling through",
				"key", key,
				"error", err,
			)
		}
		metrics.LookupCacheRequestsTotal.WithLabelValues(entity, "miss").Inc()
		return "", false
	}

	metrics.LookupCacheRequestsTotal.WithLabelValues(entity, "hit").Inc()
	return result.(string), true
}

func (c *CachedResolver) cacheSet(ctx context.Context, key, name string) {
	_, err := c.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, c.rdb.Set(ctx, key, name, c.ttl).Err()
	})
	if err != nil {
		c.log.DebugwCtx(ctx, "Lookup cache write failed",
			"key", key,
			"error", err,
		)
	}
}

// Writes go straight through; creating an entity also primes the cache
// so the follow-up resolve hits.

func (c *CachedResolver) FindCategoryByName(ctx context.Context, userID int64, name string) (int64, bool, error) {
	return c.next.FindCategoryByName(ctx, userID, name)
}

func (c *CachedResolver) FindMerchantByName(ctx context.Context, userID int64, name string) (int64, bool, error) {
	return c.next.FindMerchantByName(ctx, userID, name)
}

func (c *CachedResolver) FindTagByName(ctx context.Context, userID int64, name string) (int64, bool, error) {
	return c.next.FindTagByName(ctx, userID, name)
}

func (c *CachedResolver) CreateCategory(ctx context.Context, userID int64, name string) (int64, error) {
	id, err := c.next.CreateCategory(ctx, userID, name)
	if err == nil {
		c.cacheSet(ctx, fmt.Sprintf("%scategory:%d:%d", constants.CacheKeyPrefixLookup, userID, id), name)
	}
	return id, err
}

func (c *CachedResolver) CreateMerchant(ctx context.Context, userID int64, name string) (int64, error) {
	id, err := c.next.CreateMerchant(ctx, userID, name)
	if err == nil {
		c.cacheSet(ctx, fmt.Sprintf("%smerchant:%d:%d", constants.CacheKeyPrefixLookup, userID, id), name)
	}
	return id, err
}

func (c *CachedResolver) CreateTag(ctx context.Context, userID int64, name string) (int64, error) {
	id, err := c.next.CreateTag(ctx, userID, name)
	if err == nil {
		c.cacheSet(ctx, fmt.Sprintf("%stag:%d:%d", constants.CacheKeyPrefixLookup, userID, id), name)
	}
	return id, err
}

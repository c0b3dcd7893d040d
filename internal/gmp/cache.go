package gmp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultQuoteTTL bounds how long a cached fee quote is reused.
const DefaultQuoteTTL = 30 * time.Second

// QuoteCache stores fee quotes by key.
type QuoteCache interface {
	Get(ctx context.Context, key string) (*big.Int, bool, error)
	Set(ctx context.Context, key string, fee *big.Int, ttl time.Duration) error
}

// CachedEstimator serves quotes from a cache and falls through to another estimator on a miss.
// Cache failures are logged and never fail the estimate.
type CachedEstimator struct {
	next   FeeEstimator
	cache  QuoteCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedEstimator wraps next with cache.
func NewCachedEstimator(next FeeEstimator, cache QuoteCache, ttl time.Duration, logger *slog.Logger) *CachedEstimator {
	if ttl <= 0 {
		ttl = DefaultQuoteTTL
	}
	return &CachedEstimator{next: next, cache: cache, ttl: ttl, logger: logger}
}

// EstimateGasFee returns a cached quote if one is fresh, otherwise asks next and caches the answer.
func (c *CachedEstimator) EstimateGasFee(ctx context.Context, sourceChain, destinationChain, sourceTokenSymbol string) (*big.Int, error) {
	key := QuoteKey(sourceChain, destinationChain, sourceTokenSymbol)

	fee, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("fee cache read failed", slog.String("key", key), slog.String("error", err.Error()))
	} else if ok {
		c.logger.Debug("fee quote served from cache", slog.String("key", key), slog.String("fee", fee.String()))
		return fee, nil
	}

	fee, err = c.next.EstimateGasFee(ctx, sourceChain, destinationChain, sourceTokenSymbol)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, key, fee, c.ttl); err != nil {
		c.logger.Warn("fee cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	return fee, nil
}

// QuoteKey is the cache key for a fee quote.
func QuoteKey(sourceChain, destinationChain, sourceTokenSymbol string) string {
	return strings.ToLower(fmt.Sprintf("fee:%s:%s:%s", sourceChain, destinationChain, sourceTokenSymbol))
}

// RedisQuoteCache stores quotes in Redis as decimal strings.
type RedisQuoteCache struct {
	client *redis.Client
	prefix string
}

// NewRedisQuoteCache connects to Redis and verifies the connection.
func NewRedisQuoteCache(ctx context.Context, addr, password string, db int) (*RedisQuoteCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisQuoteCache{client: client, prefix: "protocolx:"}, nil
}

// Get returns the cached quote, reporting false on a miss.
func (r *RedisQuoteCache) Get(ctx context.Context, key string) (*big.Int, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	fee, ok := new(big.Int).SetString(val, 10)
	if !ok {
		return nil, false, fmt.Errorf("%w: cached value %q", ErrInvalidFee, val)
	}
	return fee, true, nil
}

// Set stores a quote with expiration.
func (r *RedisQuoteCache) Set(ctx context.Context, key string, fee *big.Int, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+key, fee.String(), ttl).Err()
}

// Close closes the Redis connection.
func (r *RedisQuoteCache) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

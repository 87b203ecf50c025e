package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/veildoc/veildoc/internal/config"
	"go.uber.org/zap"
)

// MaskCache is an optional Redis-backed cache of rule-engine results.
// Masking is deterministic, so a (rule, text, list) triple always maps
// to the same output; in batch runs over similar documents the cache
// skips repeated regex work.
type MaskCache struct {
	client *redis.Client
	config *config.CacheConfig
	logger *zap.Logger
	stats  cacheStats
}

type cacheStats struct {
	hits   int64
	misses int64
}

// Stats is a point-in-time snapshot of cache performance.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// New creates a Redis-backed mask cache and verifies connectivity.
func New(cfg *config.CacheConfig, logger *zap.Logger) (*MaskCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	mc := &MaskCache{
		client: client,
		config: cfg,
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Mask cache initialized",
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Duration("default_ttl", cfg.DefaultTTL))

	return mc, nil
}

// Get returns the cached masked text for a rule application, if any.
// Lookup failures count as misses; the caller just masks again.
func (mc *MaskCache) Get(ctx context.Context, ruleID, text string, list []string) (string, bool) {
	key := mc.key(ruleID, text, list)
	val, err := mc.client.Get(ctx, key).Result()
	if err == redis.Nil {
		mc.stats.misses++
		return "", false
	}
	if err != nil {
		mc.stats.misses++
		mc.logger.Debug("Cache lookup failed", zap.Error(err))
		return "", false
	}
	mc.stats.hits++
	return val, true
}

// Set stores a masked result.
func (mc *MaskCache) Set(ctx context.Context, ruleID, text string, list []string, masked string) error {
	key := mc.key(ruleID, text, list)
	return mc.client.Set(ctx, key, masked, mc.config.DefaultTTL).Err()
}

// Stats returns hit/miss counters.
func (mc *MaskCache) Stats() Stats {
	total := mc.stats.hits + mc.stats.misses
	s := Stats{Hits: mc.stats.hits, Misses: mc.stats.misses}
	if total > 0 {
		s.HitRate = float64(mc.stats.hits) / float64(total)
	}
	return s
}

// Close releases the Redis connection pool.
func (mc *MaskCache) Close() error {
	return mc.client.Close()
}

// key hashes the full rule application so distinct custom lists never
// collide. Raw text never appears in Redis.
func (mc *MaskCache) key(ruleID, text string, list []string) string {
	h := sha256.New()
	h.Write([]byte(ruleID))
	h.Write([]byte{0})
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(list, "\x00")))
	return mc.config.KeyPrefix + hex.EncodeToString(h.Sum(nil))
}

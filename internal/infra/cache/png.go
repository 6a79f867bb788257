// Package cache keeps recently rendered PNGs in Redis, keyed by the PDF they
// came from.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"pdf2png/internal/infra/logging"
)

const (
	keyPrefix  = "pngcache:"
	opTimeout  = 1 * time.Second
	defaultTTL = 1 * time.Minute
)

// PNGCache is a Redis-backed render cache. A nil *PNGCache is a disabled
// cache: every lookup misses and every store is dropped.
type PNGCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New wraps rdb. A non-positive ttl falls back to one minute.
func New(rdb *redis.Client, ttl time.Duration) *PNGCache {
	if rdb == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &PNGCache{rdb: rdb, ttl: ttl}
}

// Key creates a SHA256-based cache key for a PDF rendered at dpi.
func Key(pdf []byte, dpi int) string {
	h := sha256.New()
	h.Write(pdf)
	h.Write([]byte(strconv.Itoa(dpi)))
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached PNG for key. Redis failures are logged and reported
// as a miss.
func (c *PNGCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		logging.Warn("Redis read failed", "error", err)
		return nil, false
	}
	logging.Info("PNG cache hit", "key", key)
	return data, true
}

// Set stores png under key for the cache TTL.
func (c *PNGCache) Set(ctx context.Context, key string, png []byte) {
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.rdb.Set(ctx, key, png, c.ttl).Err(); err != nil {
		logging.Warn("Redis write failed", "error", err)
	}
}

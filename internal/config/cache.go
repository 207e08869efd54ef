package config

import (
	"strings"
	"time"
)

// CacheConfig defines settings for the availability response cache.
// Availability changes with every reservation, so the default TTL is kept
// short; the cache only absorbs bursts of identical reads.
type CacheConfig struct {
	Enabled      bool
	TTL          time.Duration
	Prefix       string
	MaxBodyBytes int
}

// LoadCacheConfig reads CACHE_* variables.
func LoadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      envBool("CACHE_ENABLED", true),
		TTL:          envDur("CACHE_TTL", 5*time.Second),
		Prefix:       strings.TrimSuffix(envStr("CACHE_PREFIX", "seatbot:cache"), ":"),
		MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 64*1024),
	}
}

package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching tenant configuration snapshots.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, tenantID string, key string) error

	// GetRuleSet retrieves a cached configuration snapshot.
	GetRuleSet(ctx context.Context, tenantID string) (*RuleSet, error)

	// SetRuleSet caches a configuration snapshot.
	SetRuleSet(ctx context.Context, tenantID string, rs *RuleSet, ttl time.Duration) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings (Community tier)
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings (Pro tier)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EnableTwoPhase wraps local LRU around Redis as L1/L2.
	EnableTwoPhase bool

	// RuleSetTTL is how long a configuration snapshot may be served from cache.
	RuleSetTTL time.Duration
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for lab inventory and templates.
// A cache that cannot reach Redis behaves as permanently empty.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Default TTL values for different cache types
const (
	DefaultLabUnitsTTL = 10 * time.Minute
	DefaultTemplateTTL = 1 * time.Hour
	DefaultLabTTL      = 30 * time.Minute
)

// Key prefixes for Redis cache
const (
	KeyPrefix   = "benchbook:cache:"
	KeyLabUnits = KeyPrefix + "lab_units:" // + lab_id + ":" + equipment_type
	KeyTemplate = KeyPrefix + "template:"  // + template_id
	KeyLab      = KeyPrefix + "lab:"       // + lab_id
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	LabUnitsTTL time.Duration
	TemplateTTL time.Duration
	LabTTL      time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		LabUnitsTTL:    DefaultLabUnitsTTL,
		TemplateTTL:    DefaultTemplateTTL,
		LabTTL:         DefaultLabTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Disabled returns a cache that never stores anything.
func Disabled(logger zerolog.Logger) *Cache {
	return &Cache{
		logger:   logger.With().Str("component", "cache").Logger(),
		config:   DefaultConfig(),
		disabled: true,
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// delete removes a key from cache.
func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// deletePattern deletes all keys matching a pattern.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	// Use SCAN to find keys (safer than KEYS for production)
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

// Equipment caching methods

func labUnitsKey(labID, equipmentType string) string {
	return KeyLabUnits + labID + ":" + equipmentType
}

// GetLabUnits returns the cached active unit ids of a type, in scheduling order.
func (c *Cache) GetLabUnits(ctx context.Context, labID, equipmentType string) ([]string, bool) {
	var units []string
	found, err := c.get(ctx, labUnitsKey(labID, equipmentType), &units)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("lab_id", labID).Str("equipment_type", equipmentType).Int("count", len(units)).Msg("lab units cache hit")
	return units, true
}

// SetLabUnits caches the active unit ids of a type.
func (c *Cache) SetLabUnits(ctx context.Context, labID, equipmentType string, units []string) error {
	return c.set(ctx, labUnitsKey(labID, equipmentType), units, c.config.LabUnitsTTL)
}

// InvalidateLabUnits drops every cached unit list of a lab.
func (c *Cache) InvalidateLabUnits(ctx context.Context, labID string) error {
	c.logger.Debug().Str("lab_id", labID).Msg("invalidating lab unit caches")
	return c.deletePattern(ctx, KeyLabUnits+labID+":*")
}

// Template caching methods

// CachedTemplate mirrors a stored template.
type CachedTemplate struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	LabID       string          `json:"lab_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Branches    json.RawMessage `json:"branches"`
}

// GetTemplate retrieves a cached template by ID.
func (c *Cache) GetTemplate(ctx context.Context, templateID string) (*CachedTemplate, bool) {
	var tmpl CachedTemplate
	found, err := c.get(ctx, KeyTemplate+templateID, &tmpl)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("template_id", templateID).Msg("template cache hit")
	return &tmpl, true
}

// SetTemplate caches a template.
func (c *Cache) SetTemplate(ctx context.Context, tmpl *CachedTemplate) error {
	return c.set(ctx, KeyTemplate+tmpl.ID, tmpl, c.config.TemplateTTL)
}

// InvalidateTemplate removes a template from cache.
func (c *Cache) InvalidateTemplate(ctx context.Context, templateID string) error {
	return c.delete(ctx, KeyTemplate+templateID)
}

// Lab caching methods

// CachedLab represents a cached lab record.
type CachedLab struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedBy   string `json:"created_by"`
}

// GetLab retrieves a cached lab by ID.
func (c *Cache) GetLab(ctx context.Context, labID string) (*CachedLab, bool) {
	var lab CachedLab
	found, err := c.get(ctx, KeyLab+labID, &lab)
	if err != nil || !found {
		return nil, false
	}
	return &lab, true
}

// SetLab caches a lab.
func (c *Cache) SetLab(ctx context.Context, lab *CachedLab) error {
	return c.set(ctx, KeyLab+lab.ID, lab, c.config.LabTTL)
}

// InvalidateLab removes all caches related to a lab.
func (c *Cache) InvalidateLab(ctx context.Context, labID string) error {
	c.logger.Debug().Str("lab_id", labID).Msg("invalidating all lab caches")
	if err := c.delete(ctx, KeyLab+labID); err != nil {
		return err
	}
	return c.InvalidateLabUnits(ctx, labID)
}

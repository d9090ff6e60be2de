/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/benchbook/internal/events"
	"github.com/friendsincode/benchbook/internal/telemetry"
)

const redisChannelPrefix = "benchbook:events:"

// RedisBus implements a Redis-backed event bus for distributed systems.
type RedisBus struct {
	client redis.UniversalClient
	local  *events.Bus
	logger zerolog.Logger
	nodeID string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Circuit breaker state
	mu            sync.Mutex
	useFallback   bool
	failCount     int
	maxFails      int
	lastCheck     time.Time
	checkInterval time.Duration
}

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// Connection pooling
	PoolSize     int
	MinIdleConns int

	// Timeouts
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

// NewRedisBus creates a Redis-backed event bus.
// Falls back to in-memory bus if Redis is unavailable (circuit breaker pattern).
func NewRedisBus(cfg RedisConfig, nodeID string, logger zerolog.Logger) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	rb := &RedisBus{
		client:        client,
		local:         events.NewBus(),
		logger:        logger.With().Str("component", "eventbus").Str("backend", "redis").Logger(),
		nodeID:        nodeID,
		ctx:           ctx,
		cancel:        cancel,
		maxFails:      cfg.MaxFailures,
		checkInterval: cfg.CheckInterval,
	}
	if rb.maxFails <= 0 {
		rb.maxFails = 5
	}
	if rb.checkInterval <= 0 {
		rb.checkInterval = 30 * time.Second
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		rb.logger.Warn().Err(err).Msg("Redis connection failed, using in-memory fallback")
		rb.useFallback = true
		rb.lastCheck = time.Now()
		return rb, nil
	}

	rb.startReceiver()
	rb.logger.Info().Str("addr", cfg.Addr).Str("node_id", nodeID).Msg("Redis event bus initialized")
	return rb, nil
}

// startReceiver subscribes to every benchbook channel and bridges remote events.
func (rb *RedisBus) startReceiver() {
	pubsub := rb.client.PSubscribe(rb.ctx, redisChannelPrefix+"*")
	rb.wg.Add(1)
	go func() {
		defer rb.wg.Done()
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-rb.ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					rb.logger.Warn().Msg("Redis subscription closed")
					rb.handleFailure()
					return
				}
				delivered, err := bridge(rb.local, rb.nodeID, []byte(msg.Payload))
				if err != nil {
					rb.logger.Error().Err(err).Str("channel", msg.Channel).Msg("failed to decode Redis event")
					continue
				}
				if delivered {
					rb.logger.Debug().Str("event_type", strings.TrimPrefix(msg.Channel, redisChannelPrefix)).Msg("delivered remote event")
				}
			}
		}
	}()
}

// Subscribe registers a local subscriber for an event type.
func (rb *RedisBus) Subscribe(eventType events.EventType) events.Subscriber {
	return rb.local.Subscribe(eventType)
}

// Unsubscribe removes a subscriber.
func (rb *RedisBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	rb.local.Unsubscribe(eventType, sub)
}

// Publish delivers locally and, unless the breaker is open, to other nodes.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	rb.local.Publish(eventType, payload)

	if rb.fallbackActive() {
		telemetry.EventBusPublishTotal.WithLabelValues("redis", "fallback").Inc()
		return
	}

	data, err := marshalMessage(eventType, payload, rb.nodeID)
	if err != nil {
		rb.logger.Error().Err(err).Msg("failed to marshal event")
		return
	}

	ctx, cancel := context.WithTimeout(rb.ctx, 2*time.Second)
	defer cancel()

	if err := rb.client.Publish(ctx, redisChannelPrefix+string(eventType), data).Err(); err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to Redis")
		telemetry.EventBusPublishTotal.WithLabelValues("redis", "error").Inc()
		rb.handleFailure()
		return
	}

	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()
	telemetry.EventBusPublishTotal.WithLabelValues("redis", "ok").Inc()
}

// Fallback reports whether the bus is running local-only.
func (rb *RedisBus) Fallback() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.useFallback
}

// fallbackActive returns the breaker state, probing Redis once per check interval while open.
func (rb *RedisBus) fallbackActive() bool {
	rb.mu.Lock()
	if !rb.useFallback {
		rb.mu.Unlock()
		return false
	}
	if time.Since(rb.lastCheck) < rb.checkInterval {
		rb.mu.Unlock()
		return true
	}
	rb.lastCheck = time.Now()
	rb.mu.Unlock()

	ctx, cancel := context.WithTimeout(rb.ctx, 2*time.Second)
	defer cancel()
	if err := rb.client.Ping(ctx).Err(); err != nil {
		return true
	}

	rb.mu.Lock()
	rb.useFallback = false
	rb.failCount = 0
	rb.mu.Unlock()
	rb.startReceiver()
	rb.logger.Info().Msg("reconnected to Redis, disabling fallback")
	return false
}

// handleFailure implements circuit breaker logic.
func (rb *RedisBus) handleFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.failCount++
	if rb.failCount >= rb.maxFails && !rb.useFallback {
		rb.logger.Warn().
			Int("fail_count", rb.failCount).
			Msg("Redis failure threshold reached, switching to in-memory fallback")
		rb.useFallback = true
		rb.lastCheck = time.Now()
	}
}

// Close stops the receiver and closes the Redis connection.
func (rb *RedisBus) Close() error {
	rb.logger.Info().Msg("closing Redis event bus")
	rb.cancel()
	rb.wg.Wait()
	return rb.client.Close()
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package lablock serializes placements per lab across instances with a
// Redis token lock.
package lablock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/benchbook/internal/keyedlock"
)

const (
	keyPrefix            = "benchbook:lock:lab:"
	defaultTTL           = 30 * time.Second
	defaultRetryInterval = 25 * time.Millisecond
)

// unlockScript deletes the key only while it still holds our token.
const unlockScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

// extendScript refreshes the TTL only while we still hold the key.
const extendScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`

// ErrLockLost is logged when a lock expired before it was released.
var ErrLockLost = errors.New("lab lock expired while held")

// Config tunes the Redis locker.
type Config struct {
	// TTL bounds how long a crashed holder can block a lab.
	TTL time.Duration
	// RetryInterval is the pause between acquisition attempts.
	RetryInterval time.Duration
}

// RedisLocker is a SET NX PX lock keyed by lab id. Waiters in this process
// queue on a local keyed mutex first so only one of them polls Redis.
type RedisLocker struct {
	client redis.UniversalClient
	local  keyedlock.Map
	cfg    Config
	logger zerolog.Logger
}

// NewRedisLocker creates a locker over client.
func NewRedisLocker(client redis.UniversalClient, cfg Config, logger zerolog.Logger) *RedisLocker {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	return &RedisLocker{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "lab_lock").Logger(),
	}
}

// Backend names the locker for metrics.
func (l *RedisLocker) Backend() string {
	return "redis"
}

// Lock blocks until this caller holds the lab or ctx is done. While held the
// lease is renewed at a third of the TTL.
func (l *RedisLocker) Lock(ctx context.Context, labID string) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx, labID)
	if err != nil {
		return nil, err
	}

	key := keyPrefix + labID
	token := uuid.NewString()

	if err := l.acquire(ctx, key, token); err != nil {
		unlockLocal()
		return nil, err
	}

	renewCtx, stopRenew := context.WithCancel(context.Background())
	renewDone := make(chan struct{})
	go l.renew(renewCtx, renewDone, key, token)

	var once sync.Once
	return func() {
		once.Do(func() { l.release(labID, key, token, stopRenew, renewDone, unlockLocal) })
	}, nil
}

func (l *RedisLocker) release(labID, key, token string, stopRenew context.CancelFunc, renewDone <-chan struct{}, unlockLocal func()) {
	defer unlockLocal()
	stopRenew()
	<-renewDone

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := l.client.Eval(ctx, unlockScript, []string{key}, token).Int()
	switch {
	case err != nil:
		l.logger.Error().Err(err).Str("lab_id", labID).Msg("release lab lock failed")
	case n == 0:
		l.logger.Warn().Err(ErrLockLost).Str("lab_id", labID).Msg("lab lock was not ours at release")
	}
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(l.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.cfg.TTL).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) renew(ctx context.Context, done chan<- struct{}, key, token string) {
	defer close(done)
	ticker := time.NewTicker(l.cfg.TTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.client.Eval(ctx, extendScript, []string{key}, token, l.cfg.TTL.Milliseconds()).Int()
			if err != nil {
				if ctx.Err() == nil {
					l.logger.Warn().Err(err).Str("key", key).Msg("renew lab lock failed")
				}
				continue
			}
			if n == 0 {
				l.logger.Error().Err(ErrLockLost).Str("key", key).Msg("lab lock lost before release")
				return
			}
		}
	}
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store persists labs, equipment, templates and reservations with gorm.
// It implements the equipment pool and reservation interfaces the planner reads from.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/benchbook/internal/cache"
)

var (
	// ErrNotFound is returned when a lab, unit or template does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a unique constraint would be violated.
	ErrConflict = errors.New("record already exists")
	// ErrOverlap is returned when the database rejects a reservation that
	// overlaps another one on the same unit.
	ErrOverlap = errors.New("reservation overlaps an existing one")
)

// Store is the gorm-backed persistence layer.
type Store struct {
	db     *gorm.DB
	cache  *cache.Cache
	logger zerolog.Logger
}

// New creates a store. A nil cache disables unit list caching.
func New(db *gorm.DB, c *cache.Cache, logger zerolog.Logger) *Store {
	if c == nil {
		c = cache.Disabled(logger)
	}
	return &Store{
		db:     db,
		cache:  c,
		logger: logger.With().Str("component", "store").Logger(),
	}
}

// DB exposes the underlying connection for read-only collaborators.
func (s *Store) DB() *gorm.DB {
	return s.db
}

type txKey struct{}

// conn returns the transaction bound to ctx, or the root connection.
func (s *Store) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return s.db.WithContext(ctx)
}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*gorm.DB)
	return ok
}

// WithinTx runs fn inside one database transaction. Store calls made with the
// context passed to fn join that transaction. Nested calls reuse the outer one.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func wrapNotFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("load %s: %w", what, err)
}

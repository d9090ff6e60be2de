/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package booking

import (
	"context"

	"github.com/friendsincode/benchbook/internal/keyedlock"
)

// LabLocker serializes the plan-then-commit section per lab.
type LabLocker interface {
	Lock(ctx context.Context, labID string) (unlock func(), err error)
}

// LocalLocker serializes placements within this process.
type LocalLocker struct {
	locks keyedlock.Map
}

// NewLocalLocker creates an in-process lab locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{}
}

// Lock blocks until the lab is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, labID string) (func(), error) {
	return l.locks.Lock(ctx, labID)
}

// Backend names the locker for metrics.
func (l *LocalLocker) Backend() string {
	return "local"
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package booking

import "errors"

var (
	// ErrStore wraps any failure of the reservation store.
	ErrStore = errors.New("reservation store unavailable")

	// ErrRaceLost means a unit was reserved by someone else between planning and commit.
	ErrRaceLost = errors.New("placement lost a commit race")

	// ErrNotFound means there was nothing to cancel.
	ErrNotFound = errors.New("no reservations found")

	// ErrOutsideHorizon means the requested day is in the past or beyond the booking horizon.
	ErrOutsideHorizon = errors.New("day is outside the booking horizon")
)

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/benchbook/internal/models"
	"github.com/friendsincode/benchbook/internal/planner"
	"github.com/friendsincode/benchbook/internal/store"
)

// Store is what booking needs from persistence. The planner interfaces are
// used for reads; the rest runs inside WithinTx at commit time.
type Store interface {
	planner.EquipmentPool
	planner.ReservationReader
	HasOverlap(ctx context.Context, unitID string, iv planner.Interval) (bool, error)
	InsertReservation(ctx context.Context, r *models.Reservation) error
	DeleteTaskReservations(ctx context.Context, userID, taskID string) (int64, error)
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Committer turns an assignment into reservation rows.
type Committer struct {
	store Store
	now   func() time.Time
}

// NewCommitter creates a committer over store.
func NewCommitter(store Store) *Committer {
	return &Committer{store: store, now: time.Now}
}

// Commit writes one reservation per hold inside a single transaction. Every
// hold is re-checked against the store first; an overlap, found by the
// re-check or rejected by the database, aborts the whole commit with
// ErrRaceLost and nothing is written.
func (c *Committer) Commit(ctx context.Context, a *planner.Assignment, userID string, task planner.Task) ([]models.Reservation, error) {
	var rows []models.Reservation
	created := c.now().UTC()

	err := c.store.WithinTx(ctx, func(ctx context.Context) error {
		rows = rows[:0]
		for _, step := range a.Steps {
			for _, hold := range step.Holds {
				overlap, err := c.store.HasOverlap(ctx, step.UnitID, hold)
				if err != nil {
					return fmt.Errorf("%w: %w", ErrStore, err)
				}
				if overlap {
					return fmt.Errorf("%w: unit %s already reserved during %s", ErrRaceLost, step.UnitID, hold)
				}

				r := models.Reservation{
					ID:        uuid.NewString(),
					LabID:     a.LabID,
					UnitID:    step.UnitID,
					TaskID:    task.ID,
					UserID:    userID,
					StepName:  step.StepName,
					Branch:    step.Branch,
					StepIndex: step.Index,
					StartsAt:  hold.Start,
					EndsAt:    hold.End,
					CreatedAt: created,
				}
				if err := c.store.InsertReservation(ctx, &r); err != nil {
					if errors.Is(err, store.ErrOverlap) {
						return fmt.Errorf("%w: %w", ErrRaceLost, err)
					}
					return fmt.Errorf("%w: %w", ErrStore, err)
				}
				rows = append(rows, r)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrRaceLost) || errors.Is(err, ErrStore) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: commit: %w", ErrStore, err)
	}
	return rows, nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planner

import (
	"context"
	"errors"
	"time"
)

// FindSlots returns the start/end pairs inside the working day containing day
// at which task can be placed. The result is recomputed on every call.
func (p *Planner) FindSlots(ctx context.Context, task Task, labID string, day time.Time) ([]Interval, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	snap, err := p.Snapshot(ctx, task, labID, day)
	if err != nil {
		return nil, err
	}
	return p.SlotsIn(ctx, snap, task)
}

// SlotsIn scans the snapshot's window for feasible start times.
//
// The task length is the makespan of a placement at the window start with an
// empty calendar. A feasible candidate that follows an infeasible one (or is
// the first) moves the cursor to the next snap boundary; a further feasible
// candidate advances by the refine step; an infeasible one by the probe step.
func (p *Planner) SlotsIn(ctx context.Context, snap *Snapshot, task Task) ([]Interval, error) {
	window := snap.Window

	total, err := p.engine.Estimate(snap.WithoutReservations(), task, window.Start, window.End)
	if errors.Is(err, ErrInfeasible) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if total <= 0 {
		return nil, ErrEmptyTask
	}

	probe := time.Duration(p.cfg.ProbeMinutes) * time.Minute
	refine := time.Duration(p.cfg.RefineMinutes) * time.Minute

	var slots []Interval
	inRun := false
	for cursor := window.Start; !cursor.Add(total).After(window.End); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := cursor.Add(total)
		_, err := p.engine.Place(snap, task, cursor, end)
		switch {
		case err == nil:
			slots = append(slots, Interval{Start: cursor, End: end})
			if inRun {
				cursor = cursor.Add(refine)
			} else {
				cursor = nextBoundary(cursor, p.cfg.SnapMinutes)
				inRun = true
			}
		case errors.Is(err, ErrInfeasible):
			inRun = false
			cursor = cursor.Add(probe)
		default:
			return nil, err
		}
	}
	return slots, nil
}

// nextBoundary returns the first wall-clock multiple of step minutes strictly after t.
func nextBoundary(t time.Time, step int) time.Time {
	y, m, d := t.Date()
	minutes := t.Hour()*60 + t.Minute()
	next := (minutes/step + 1) * step
	return time.Date(y, m, d, 0, next, 0, 0, t.Location())
}

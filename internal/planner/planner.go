/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planner

import (
	"context"
	"fmt"
	"time"
)

// Config describes the working window and the slot scan cadence.
type Config struct {
	// DayStart and DayEnd are offsets from local midnight.
	DayStart time.Duration
	DayEnd   time.Duration
	// Location fixes the zone days are computed in. Nil means the zone of the time passed in.
	Location *time.Location

	SnapMinutes   int
	ProbeMinutes  int
	RefineMinutes int

	PassiveReuse bool
}

// DefaultConfig returns an 08:00-17:00 window with 30/1/15 minute scan steps.
func DefaultConfig() Config {
	return Config{
		DayStart:      8 * time.Hour,
		DayEnd:        17 * time.Hour,
		SnapMinutes:   30,
		ProbeMinutes:  1,
		RefineMinutes: 15,
	}
}

// Validate checks the window and step sizes.
func (c Config) Validate() error {
	if c.DayStart < 0 || c.DayEnd > 24*time.Hour || c.DayEnd <= c.DayStart {
		return fmt.Errorf("invalid working window %s-%s", c.DayStart, c.DayEnd)
	}
	if c.SnapMinutes <= 0 || c.ProbeMinutes <= 0 || c.RefineMinutes <= 0 {
		return fmt.Errorf("slot scan steps must be positive (snap=%d probe=%d refine=%d)", c.SnapMinutes, c.ProbeMinutes, c.RefineMinutes)
	}
	return nil
}

func (c Config) location(t time.Time) *time.Location {
	if c.Location != nil {
		return c.Location
	}
	return t.Location()
}

// Day returns the working window of the calendar day containing t.
func (c Config) Day(t time.Time) Interval {
	loc := c.location(t)
	local := t.In(loc)
	y, m, d := local.Date()
	return Interval{
		Start: time.Date(y, m, d, 0, int(c.DayStart/time.Minute), 0, 0, loc),
		End:   time.Date(y, m, d, 0, int(c.DayEnd/time.Minute), 0, 0, loc),
	}
}

// Planner answers placement questions for a lab using live store data.
type Planner struct {
	pool         EquipmentPool
	reservations ReservationReader
	engine       *Engine
	cfg          Config
}

// New creates a planner over the given pool and reservation store.
func New(pool EquipmentPool, reservations ReservationReader, cfg Config) *Planner {
	return &Planner{
		pool:         pool,
		reservations: reservations,
		engine:       NewEngine(Options{PassiveReuse: cfg.PassiveReuse}),
		cfg:          cfg,
	}
}

// Config returns the planner configuration.
func (p *Planner) Config() Config {
	return p.cfg
}

// Engine returns the placement engine.
func (p *Planner) Engine() *Engine {
	return p.engine
}

// Snapshot loads the units task needs and their reservations for the working day containing day.
func (p *Planner) Snapshot(ctx context.Context, task Task, labID string, day time.Time) (*Snapshot, error) {
	return LoadSnapshot(ctx, p.pool, p.reservations, labID, task, p.cfg.Day(day))
}

// Plan computes the placement of task starting at start without touching the store.
func (p *Planner) Plan(ctx context.Context, task Task, labID string, start time.Time) (*Assignment, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	start = start.Truncate(time.Minute)
	window := p.cfg.Day(start)
	if start.Before(window.Start) || !start.Before(window.End) {
		return nil, fmt.Errorf("%w: %s is outside working hours", ErrInfeasible, start.In(window.Start.Location()).Format("2006-01-02 15:04"))
	}

	snap, err := LoadSnapshot(ctx, p.pool, p.reservations, labID, task, window)
	if err != nil {
		return nil, err
	}
	return p.engine.Place(snap, task, start, window.End)
}

// Estimate returns the makespan of the placement Plan would produce.
func (p *Planner) Estimate(ctx context.Context, task Task, labID string, start time.Time) (time.Duration, error) {
	a, err := p.Plan(ctx, task, labID, start)
	if err != nil {
		return 0, err
	}
	return a.Makespan(), nil
}

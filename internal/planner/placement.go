/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planner

import (
	"time"
)

// Options tunes the placement engine.
type Options struct {
	// PassiveReuse lets another branch of the same task use a unit while a
	// step on it waits. Other tasks still find the unit reserved for the
	// whole step.
	PassiveReuse bool
}

// Engine places tasks against a Snapshot. It holds no state between calls.
type Engine struct {
	opts Options
}

// NewEngine creates a placement engine.
func NewEngine(opts Options) *Engine {
	return &Engine{opts: opts}
}

// Options returns the engine options.
func (e *Engine) Options() Options {
	return e.opts
}

// Place finds the tightest conflict-free placement of task anchored at start
// that finishes no later than deadline.
//
// The first branch starts at start. Every later branch tries integer-minute
// offsets from 0 up to the summed duration of the branches placed so far
// plus its own, and keeps the offset with the smallest makespan. Ties go to
// the smaller offset.
func (e *Engine) Place(snap *Snapshot, task Task, start, deadline time.Time) (*Assignment, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	for _, equipmentType := range task.EquipmentTypes() {
		if len(snap.Units(equipmentType)) == 0 {
			return nil, &UnknownTypeError{LabID: snap.LabID, EquipmentType: equipmentType}
		}
	}

	base := newAttempt(snap, e.opts.PassiveReuse, start)
	placed := 0
	anchored := false

	for bi, branch := range task.Branches {
		if len(branch.Steps) == 0 {
			continue
		}
		own := branchMinutes(branch)

		if !anchored {
			if !base.placeBranch(bi, branch, start, deadline) {
				return nil, ErrInfeasible
			}
			anchored = true
			placed += own
			continue
		}

		var best *attempt
		for off := 0; off <= placed+own; off++ {
			at := start.Add(time.Duration(off) * time.Minute)
			earliestEnd := at.Add(time.Duration(own) * time.Minute)
			if earliestEnd.After(deadline) {
				break
			}
			if best != nil {
				bound := earliestEnd
				if base.end.After(bound) {
					bound = base.end
				}
				if !best.end.After(bound) {
					break
				}
			}

			candidate := base.clone()
			if !candidate.placeBranch(bi, branch, at, deadline) {
				continue
			}
			if best == nil || candidate.end.Before(best.end) {
				best = candidate
			}
		}
		if best == nil {
			return nil, ErrInfeasible
		}
		base = best
		placed += own
	}

	return base.assignment(), nil
}

// Estimate returns the makespan Place would produce.
func (e *Engine) Estimate(snap *Snapshot, task Task, start, deadline time.Time) (time.Duration, error) {
	a, err := e.Place(snap, task, start, deadline)
	if err != nil {
		return 0, err
	}
	return a.Makespan(), nil
}

// attempt is a partial placement under construction.
type attempt struct {
	snap  *Snapshot
	reuse bool
	start time.Time
	end   time.Time

	steps []StepAssignment
	// exclusive[i] is the part of steps[i] no other step of this task may
	// share on the same unit.
	exclusive [][]Interval
	held      map[string][]Interval
	active    []Interval
}

func newAttempt(snap *Snapshot, reuse bool, start time.Time) *attempt {
	return &attempt{
		snap:  snap,
		reuse: reuse,
		start: start,
		end:   start,
		held:  make(map[string][]Interval),
	}
}

func (a *attempt) clone() *attempt {
	c := &attempt{
		snap:      a.snap,
		reuse:     a.reuse,
		start:     a.start,
		end:       a.end,
		steps:     append([]StepAssignment(nil), a.steps...),
		exclusive: append([][]Interval(nil), a.exclusive...),
		active:    append([]Interval(nil), a.active...),
		held:      make(map[string][]Interval, len(a.held)),
	}
	for unit, ivs := range a.held {
		c.held[unit] = append([]Interval(nil), ivs...)
	}
	return c
}

// placeBranch lays the branch's steps back to back from at.
//
// Against the snapshot a step always needs its unit for the whole span. With
// reuse on, steps of the same task may share a unit as long as their
// active-use segments stay apart; a step without active use keeps the unit
// to itself.
func (a *attempt) placeBranch(index int, branch Branch, at, deadline time.Time) bool {
	cursor := at
	for si, step := range branch.Steps {
		span := Interval{Start: cursor, End: cursor.Add(step.Duration())}
		if span.End.After(deadline) {
			return false
		}

		uses := step.ActiveSegments(cursor)
		for _, u := range uses {
			for _, other := range a.active {
				if u.Overlaps(other) {
					return false
				}
			}
		}

		var exclusive []Interval
		switch {
		case span.Empty():
		case a.reuse && len(uses) > 0:
			exclusive = uses
		default:
			exclusive = []Interval{span}
		}

		unit, ok := a.pickUnit(step.EquipmentType, span, exclusive)
		if !ok {
			return false
		}

		a.held[unit] = append(a.held[unit], exclusive...)
		a.exclusive = append(a.exclusive, exclusive)
		a.active = append(a.active, uses...)
		a.steps = append(a.steps, StepAssignment{
			Branch:        index,
			Index:         si,
			StepName:      step.Name,
			EquipmentType: step.EquipmentType,
			UnitID:        unit,
			Start:         span.Start,
			End:           span.End,
		})
		if span.End.After(a.end) {
			a.end = span.End
		}
		cursor = span.End
	}
	return true
}

// pickUnit returns the first unit of the type that is free in the snapshot for
// span and not exclusively held by this attempt.
func (a *attempt) pickUnit(equipmentType string, span Interval, exclusive []Interval) (string, bool) {
	for _, unit := range a.snap.Units(equipmentType) {
		if a.unitFree(unit, span, exclusive) {
			return unit, true
		}
	}
	return "", false
}

func (a *attempt) unitFree(unit string, span Interval, exclusive []Interval) bool {
	if !span.Empty() && !a.snap.free(unit, span) {
		return false
	}
	for _, h := range exclusive {
		for _, other := range a.held[unit] {
			if other.Overlaps(h) {
				return false
			}
		}
	}
	return true
}

// holds splits the unit time covered by the task among its steps, so the
// reservations written for one unit never overlap and together cover every
// step span. A step owns its exclusive segments plus the rest of its span
// that no other step uses exclusively and no earlier step already owns.
func (a *attempt) holds(i int) []Interval {
	s := a.steps[i]
	span := Interval{Start: s.Start, End: s.End}
	if span.Empty() {
		return nil
	}
	if !a.reuse {
		return []Interval{span}
	}

	rest := []Interval{span}
	for j, other := range a.steps {
		if j == i || other.UnitID != s.UnitID {
			continue
		}
		rest = subtractIntervals(rest, a.exclusive[j])
		if j < i {
			rest = subtractIntervals(rest, []Interval{{Start: other.Start, End: other.End}})
		}
	}
	return mergeIntervals(append(rest, a.exclusive[i]...))
}

func (a *attempt) assignment() *Assignment {
	steps := append([]StepAssignment(nil), a.steps...)
	for i := range steps {
		steps[i].Holds = a.holds(i)
	}
	return &Assignment{
		LabID: a.snap.LabID,
		Start: a.start,
		End:   a.end,
		Steps: steps,
	}
}

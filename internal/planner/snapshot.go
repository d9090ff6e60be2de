/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planner

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// EquipmentPool lists the schedulable units of a type in a lab.
// Units must be returned in a stable order; first-fit depends on it.
type EquipmentPool interface {
	ActiveUnits(ctx context.Context, labID, equipmentType string) ([]string, error)
}

// ReservationReader returns the reserved intervals of a unit that overlap [from, to).
type ReservationReader interface {
	UnitReservations(ctx context.Context, unitID string, from, to time.Time) ([]Interval, error)
}

// Snapshot is a read-once view of a lab's units and their reservations.
// It is safe for concurrent reads.
type Snapshot struct {
	LabID  string
	Window Interval

	units map[string][]string
	busy  map[string][]Interval
}

// NewSnapshot builds a snapshot from already loaded data.
func NewSnapshot(labID string, window Interval, units map[string][]string, busy map[string][]Interval) *Snapshot {
	s := &Snapshot{
		LabID:  labID,
		Window: window,
		units:  make(map[string][]string, len(units)),
		busy:   make(map[string][]Interval, len(busy)),
	}
	for t, ids := range units {
		s.units[t] = append([]string(nil), ids...)
	}
	for unit, ivs := range busy {
		sorted := append([]Interval(nil), ivs...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })
		s.busy[unit] = sorted
	}
	return s
}

// LoadSnapshot reads the units needed by task and their reservations inside window.
// A type with no active units yields an *UnknownTypeError.
func LoadSnapshot(ctx context.Context, pool EquipmentPool, reservations ReservationReader, labID string, task Task, window Interval) (*Snapshot, error) {
	units := make(map[string][]string)
	busy := make(map[string][]Interval)

	for _, equipmentType := range task.EquipmentTypes() {
		ids, err := pool.ActiveUnits(ctx, labID, equipmentType)
		if err != nil {
			return nil, fmt.Errorf("load units of type %q: %w", equipmentType, err)
		}
		if len(ids) == 0 {
			return nil, &UnknownTypeError{LabID: labID, EquipmentType: equipmentType}
		}
		units[equipmentType] = ids

		for _, id := range ids {
			if _, done := busy[id]; done {
				continue
			}
			ivs, err := reservations.UnitReservations(ctx, id, window.Start, window.End)
			if err != nil {
				return nil, fmt.Errorf("load reservations of unit %s: %w", id, err)
			}
			busy[id] = ivs
		}
	}

	return NewSnapshot(labID, window, units, busy), nil
}

// Units returns the ordered unit ids of a type.
func (s *Snapshot) Units(equipmentType string) []string {
	return s.units[equipmentType]
}

// Reservations returns the reserved intervals of a unit, sorted by start.
func (s *Snapshot) Reservations(unitID string) []Interval {
	return s.busy[unitID]
}

// WithoutReservations returns a view with the same units and an empty calendar.
func (s *Snapshot) WithoutReservations() *Snapshot {
	return &Snapshot{
		LabID:  s.LabID,
		Window: s.Window,
		units:  s.units,
		busy:   map[string][]Interval{},
	}
}

// free reports whether none of the unit's reservations overlap iv.
func (s *Snapshot) free(unitID string, iv Interval) bool {
	for _, r := range s.busy[unitID] {
		if !r.Start.Before(iv.End) {
			break
		}
		if r.Overlaps(iv) {
			return false
		}
	}
	return true
}

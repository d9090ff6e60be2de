/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package planner computes conflict-free placements of multi-branch tasks
// onto a lab's equipment units and finds the start times at which a task fits.
//
// Nothing in this package writes to a store. Callers load a Snapshot of the
// units and reservations they care about and the engine works against it.
package planner

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxStepNameLength bounds step names accepted from clients.
const MaxStepNameLength = 100

// Phase classifies a timed segment of a step.
type Phase string

const (
	PhaseActive     Phase = "active"
	PhasePassive    Phase = "passive"
	PhaseProcessing Phase = "processing"
)

// ActiveUse reports whether the operator is occupied during the phase.
func (p Phase) ActiveUse() bool {
	return p == PhaseActive || p == PhaseProcessing
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseActive, PhasePassive, PhaseProcessing:
		return true
	}
	return false
}

// PhaseDuration is one timed segment of a step.
type PhaseDuration struct {
	Phase   Phase `json:"phase"`
	Minutes int   `json:"minutes"`
}

// Step is a unit of work that needs one unit of an equipment type for its
// whole duration. Timing segments run in the order given.
type Step struct {
	Name          string          `json:"name"`
	EquipmentType string          `json:"equipment_type"`
	Timing        []PhaseDuration `json:"timing"`
}

// NewStep builds a step with the usual active, passive, processing layout.
func NewStep(name, equipmentType string, active, passive, processing int) Step {
	return Step{
		Name:          name,
		EquipmentType: equipmentType,
		Timing: []PhaseDuration{
			{Phase: PhaseActive, Minutes: active},
			{Phase: PhasePassive, Minutes: passive},
			{Phase: PhaseProcessing, Minutes: processing},
		},
	}
}

// Minutes returns the step's total length.
func (s Step) Minutes() int {
	total := 0
	for _, seg := range s.Timing {
		total += seg.Minutes
	}
	return total
}

// Duration returns the step's total length as a time.Duration.
func (s Step) Duration() time.Duration {
	return time.Duration(s.Minutes()) * time.Minute
}

// PhaseMinutes sums the minutes spent in the given phase.
func (s Step) PhaseMinutes(p Phase) int {
	total := 0
	for _, seg := range s.Timing {
		if seg.Phase == p {
			total += seg.Minutes
		}
	}
	return total
}

// ActiveSegments returns the active-use intervals of the step when it starts at start.
// Adjacent active-use segments are merged. Zero-length segments are skipped.
func (s Step) ActiveSegments(start time.Time) []Interval {
	var out []Interval
	cursor := start
	for _, seg := range s.Timing {
		end := cursor.Add(time.Duration(seg.Minutes) * time.Minute)
		if seg.Phase.ActiveUse() && seg.Minutes > 0 {
			if n := len(out); n > 0 && out[n-1].End.Equal(cursor) {
				out[n-1].End = end
			} else {
				out = append(out, Interval{Start: cursor, End: end})
			}
		}
		cursor = end
	}
	return out
}

// Validate checks the step's name, type and timing.
func (s Step) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: step name is required", ErrInvalidTask)
	}
	if utf8.RuneCountInString(s.Name) > MaxStepNameLength {
		return fmt.Errorf("%w: step name longer than %d characters", ErrInvalidTask, MaxStepNameLength)
	}
	if strings.TrimSpace(s.EquipmentType) == "" {
		return fmt.Errorf("%w: step %q has no equipment type", ErrInvalidTask, s.Name)
	}
	for _, seg := range s.Timing {
		if !seg.Phase.Valid() {
			return fmt.Errorf("%w: step %q has unknown phase %q", ErrInvalidTask, s.Name, seg.Phase)
		}
		if seg.Minutes < 0 {
			return fmt.Errorf("%w: step %q has negative %s minutes", ErrInvalidTask, s.Name, seg.Phase)
		}
	}
	return nil
}

// Branch is an ordered list of steps executed strictly in sequence.
type Branch struct {
	Steps []Step `json:"steps"`
}

// Task is a set of branches that run conceptually in parallel.
// ID refers to the persisted template the task was built from.
type Task struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Branches    []Branch `json:"branches"`
}

// StepCount returns the number of steps across all branches.
func (t Task) StepCount() int {
	n := 0
	for _, b := range t.Branches {
		n += len(b.Steps)
	}
	return n
}

// EquipmentTypes returns the distinct equipment types the task needs, in first-use order.
func (t Task) EquipmentTypes() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, b := range t.Branches {
		for _, s := range b.Steps {
			if _, ok := seen[s.EquipmentType]; ok {
				continue
			}
			seen[s.EquipmentType] = struct{}{}
			out = append(out, s.EquipmentType)
		}
	}
	return out
}

// Validate checks every step. It returns ErrEmptyTask when there is nothing
// to schedule and ErrInvalidTask for malformed steps.
func (t Task) Validate() error {
	if t.StepCount() == 0 {
		return ErrEmptyTask
	}
	total := 0
	for _, b := range t.Branches {
		for _, s := range b.Steps {
			if err := s.Validate(); err != nil {
				return err
			}
			total += s.Minutes()
		}
	}
	if total <= 0 {
		return ErrEmptyTask
	}
	return nil
}

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether the two half-open intervals share any instant.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Empty reports whether the interval has no length.
func (i Interval) Empty() bool {
	return !i.Start.Before(i.End)
}

// Duration returns the interval length.
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

func (i Interval) String() string {
	return fmt.Sprintf("[%s, %s)", i.Start.Format(time.RFC3339), i.End.Format(time.RFC3339))
}

// subtractIntervals removes every cut from ivs. Empty pieces are dropped.
func subtractIntervals(ivs, cuts []Interval) []Interval {
	out := append([]Interval(nil), ivs...)
	for _, cut := range cuts {
		var next []Interval
		for _, iv := range out {
			if !iv.Overlaps(cut) {
				next = append(next, iv)
				continue
			}
			if iv.Start.Before(cut.Start) {
				next = append(next, Interval{Start: iv.Start, End: cut.Start})
			}
			if cut.End.Before(iv.End) {
				next = append(next, Interval{Start: cut.End, End: iv.End})
			}
		}
		out = next
	}
	return out
}

// mergeIntervals sorts ivs and joins the ones that overlap or touch.
func mergeIntervals(ivs []Interval) []Interval {
	var sorted []Interval
	for _, iv := range ivs {
		if !iv.Empty() {
			sorted = append(sorted, iv)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	var out []Interval
	for _, iv := range sorted {
		if n := len(out); n > 0 && !iv.Start.After(out[n-1].End) {
			if iv.End.After(out[n-1].End) {
				out[n-1].End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// StepAssignment places one step on one unit.
// Holds lists the intervals during which the unit is reserved for the step.
type StepAssignment struct {
	Branch        int        `json:"branch"`
	Index         int        `json:"index"`
	StepName      string     `json:"step_name"`
	EquipmentType string     `json:"equipment_type"`
	UnitID        string     `json:"unit_id"`
	Start         time.Time  `json:"start"`
	End           time.Time  `json:"end"`
	Holds         []Interval `json:"holds"`
}

// Assignment is a complete placement of a task.
type Assignment struct {
	LabID string           `json:"lab_id"`
	Start time.Time        `json:"start"`
	End   time.Time        `json:"end"`
	Steps []StepAssignment `json:"steps"`
}

// Makespan returns the time from the first step start to the last step end.
func (a *Assignment) Makespan() time.Duration {
	return a.End.Sub(a.Start)
}

// HoldCount returns the number of unit holds the assignment will reserve.
func (a *Assignment) HoldCount() int {
	n := 0
	for _, s := range a.Steps {
		n += len(s.Holds)
	}
	return n
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testZone = time.FixedZone("UTC+10", 10*60*60)

func at(hour, minute int) time.Time {
	return time.Date(2026, time.March, 2, hour, minute, 0, 0, testZone)
}

// memCalendar is an in-memory pool and reservation store.
type memCalendar struct {
	units        map[string][]string
	reservations map[string][]Interval
}

func newMemCalendar() *memCalendar {
	return &memCalendar{
		units:        make(map[string][]string),
		reservations: make(map[string][]Interval),
	}
}

func (m *memCalendar) addUnits(equipmentType string, ids ...string) {
	m.units[equipmentType] = append(m.units[equipmentType], ids...)
}

func (m *memCalendar) reserve(unit string, start, end time.Time) {
	m.reservations[unit] = append(m.reservations[unit], Interval{Start: start, End: end})
}

func (m *memCalendar) ActiveUnits(_ context.Context, _ string, equipmentType string) ([]string, error) {
	return m.units[equipmentType], nil
}

func (m *memCalendar) UnitReservations(_ context.Context, unitID string, from, to time.Time) ([]Interval, error) {
	var out []Interval
	for _, iv := range m.reservations[unitID] {
		if iv.Overlaps(Interval{Start: from, End: to}) {
			out = append(out, iv)
		}
	}
	return out, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Location = testZone
	return cfg
}

func scopeTask(branches int) Task {
	task := Task{ID: "tpl-1", Name: "imaging"}
	for i := 0; i < branches; i++ {
		task.Branches = append(task.Branches, Branch{Steps: []Step{NewStep("image", "Scope", 5, 15, 7)}})
	}
	return task
}

func TestDurations(t *testing.T) {
	task := Task{Branches: []Branch{
		{Steps: []Step{NewStep("a", "Scope", 5, 15, 7), NewStep("b", "Scope", 10, 0, 0)}},
		{Steps: []Step{NewStep("c", "Centrifuge", 0, 40, 0)}},
	}}

	assert.Equal(t, 37*time.Minute, BranchDuration(task.Branches[0]))
	assert.Equal(t, 40*time.Minute, BranchDuration(task.Branches[1]))
	assert.Equal(t, 40*time.Minute, TaskDuration(task))
	assert.Equal(t, time.Duration(0), TaskDuration(Task{}))
}

func TestStepValidate(t *testing.T) {
	long := make([]byte, MaxStepNameLength+1)
	for i := range long {
		long[i] = 'x'
	}

	tests := []struct {
		name    string
		step    Step
		wantErr bool
	}{
		{name: "valid", step: NewStep("image", "Scope", 5, 15, 7)},
		{name: "zero minutes", step: NewStep("noop", "Scope", 0, 0, 0)},
		{name: "negative active", step: NewStep("bad", "Scope", -1, 0, 0), wantErr: true},
		{name: "negative passive", step: NewStep("bad", "Scope", 0, -5, 0), wantErr: true},
		{name: "missing name", step: NewStep(" ", "Scope", 1, 0, 0), wantErr: true},
		{name: "missing type", step: NewStep("image", "", 1, 0, 0), wantErr: true},
		{name: "name too long", step: NewStep(string(long), "Scope", 1, 0, 0), wantErr: true},
		{name: "unknown phase", step: Step{Name: "x", EquipmentType: "Scope", Timing: []PhaseDuration{{Phase: "soak", Minutes: 3}}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.step.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTask)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTaskValidateEmpty(t *testing.T) {
	assert.ErrorIs(t, Task{}.Validate(), ErrEmptyTask)
	assert.ErrorIs(t, Task{Branches: []Branch{{}, {}}}.Validate(), ErrEmptyTask)

	zero := Task{Branches: []Branch{{Steps: []Step{NewStep("noop", "Scope", 0, 0, 0)}}}}
	assert.ErrorIs(t, zero.Validate(), ErrEmptyTask)
}

func TestActiveSegments(t *testing.T) {
	step := Step{Name: "x", EquipmentType: "Scope", Timing: []PhaseDuration{
		{Phase: PhaseActive, Minutes: 5},
		{Phase: PhaseProcessing, Minutes: 3},
		{Phase: PhasePassive, Minutes: 10},
		{Phase: PhaseActive, Minutes: 0},
		{Phase: PhaseProcessing, Minutes: 2},
	}}

	segs := step.ActiveSegments(at(9, 0))
	require.Len(t, segs, 2)
	assert.Equal(t, Interval{Start: at(9, 0), End: at(9, 8)}, segs[0])
	assert.Equal(t, Interval{Start: at(9, 18), End: at(9, 20)}, segs[1])
}

func TestIntervalOverlapIsHalfOpen(t *testing.T) {
	a := Interval{Start: at(9, 0), End: at(9, 27)}
	assert.False(t, a.Overlaps(Interval{Start: at(9, 27), End: at(9, 30)}))
	assert.False(t, a.Overlaps(Interval{Start: at(8, 30), End: at(9, 0)}))
	assert.True(t, a.Overlaps(Interval{Start: at(9, 26), End: at(9, 30)}))
	assert.True(t, a.Overlaps(Interval{Start: at(9, 5), End: at(9, 6)}))
}

func TestPlanSingleStep(t *testing.T) {
	cal := newMemCalendar()
	cal.addUnits("Scope", "scope-1")
	p := New(cal, cal, testConfig())

	a, err := p.Plan(context.Background(), scopeTask(1), "lab-1", at(9, 0))
	require.NoError(t, err)
	require.Len(t, a.Steps, 1)

	step := a.Steps[0]
	assert.Equal(t, "scope-1", step.UnitID)
	assert.True(t, step.Start.Equal(at(9, 0)))
	assert.True(t, step.End.Equal(at(9, 27)))
	assert.Equal(t, []Interval{{Start: at(9, 0), End: at(9, 27)}}, step.Holds)
	assert.Equal(t, 27*time.Minute, a.Makespan())
}

func TestPlanBlockedByExistingReservation(t *testing.T) {
	cal := newMemCalendar()
	cal.addUnits("Scope", "scope-1")
	cal.reserve("scope-1", at(9, 10), at(9, 20))
	p := New(cal, cal, testConfig())

	_, err := p.Plan(context.Background(), scopeTask(1), "lab-1", at(9, 0))
	assert.ErrorIs(t, err, ErrInfeasible)

	_, err = p.Plan(context.Background(), scopeTask(1), "lab-1", at(9, 20))
	assert.NoError(t, err)
}

func TestFindSlotsAroundReservation(t *testing.T) {
	cal := newMemCalendar()
	cal.addUnits("Scope", "scope-1")
	cal.reserve("scope-1", at(9, 10), at(9, 20))
	p := New(cal, cal, testConfig())

	slots, err := p.FindSlots(context.Background(), scopeTask(1), "lab-1", at(0, 0))
	require.NoError(t, err)
	require.NotEmpty(t, slots)

	starts := make(map[string]bool)
	for _, s := range slots {
		starts[s.Start.Format("15:04")] = true
		assert.Equal(t, 27*time.Minute, s.Duration())
		assert.False(t, s.Overlaps(Interval{Start: at(9, 10), End: at(9, 20)}), "slot %s overlaps reservation", s)
	}

	assert.True(t, starts["08:00"])
	assert.True(t, starts["08:30"])
	assert.False(t, starts["09:00"])
	assert.True(t, starts["09:20"])
	assert.True(t, starts["09:30"])
	assert.True(t, starts["09:45"])

	last := slots[len(slots)-1]
	assert.False(t, last.End.After(at(17, 0)))
}

func TestOverlappingBranchesOnSingleUnitDoNotFitInDay(t *testing.T) {
	cal := newMemCalendar()
	cal.addUnits("Incubator", "inc-1")
	p := New(cal, cal, testConfig())

	task := Task{Branches: []Branch{
		{Steps: []Step{NewStep("grow A", "Incubator", 300, 0, 0)}},
		{Steps: []Step{NewStep("grow B", "Incubator", 300, 0, 0)}},
	}}

	_, err := p.Plan(context.Background(), task, "lab-1", at(8, 0))
	assert.ErrorIs(t, err, ErrInfeasible)

	slots, err := p.FindSlots(context.Background(), task, "lab-1", at(8, 0))
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestParallelBranchesUseDistinctUnits(t *testing.T) {
	cal := newMemCalendar()
	cal.addUnits("Scope", "scope-1", "scope-2")
	p := New(cal, cal, testConfig())

	a, err := p.Plan(context.Background(), scopeTask(2), "lab-1", at(9, 0))
	require.NoError(t, err)
	require.Len(t, a.Steps, 2)

	first, second := a.Steps[0], a.Steps[1]
	assert.Equal(t, "scope-1", first.UnitID)
	assert.Equal(t, "scope-2", second.UnitID)
	assert.True(t, first.Start.Equal(at(9, 0)))
	// active use of the second branch must clear the first branch's 5 minute setup
	// and its closing 7 minutes must start after the first branch finishes
	assert.True(t, second.Start.Equal(at(9, 7)))
	assert.Equal(t, 34*time.Minute, a.Makespan())
	assertNoConflicts(t, a)
}

func TestPassiveReuseSharesUnitDuringWait(t *testing.T) {
	cal := newMemCalendar()
	cal.addUnits("Scope", "scope-1")

	strict := New(cal, cal, testConfig())
	a, err := strict.Plan(context.Background(), scopeTask(2), "lab-1", at(9, 0))
	require.NoError(t, err)
	assert.Equal(t, 54*time.Minute, a.Makespan())
	assert.Equal(t, 2, a.HoldCount())

	cfg := testConfig()
	cfg.PassiveReuse = true
	reuse := New(cal, cal, cfg)
	a, err = reuse.Plan(context.Background(), scopeTask(2), "lab-1", at(9, 0))
	require.NoError(t, err)
	assert.Equal(t, 34*time.Minute, a.Makespan())
	assert.Equal(t, 4, a.HoldCount())
	for _, s := range a.Steps {
		assert.Equal(t, "scope-1", s.UnitID)
	}
	assertNoConflicts(t, a)

	// the unit stays reserved for the whole makespan, passive waits included
	var all []Interval
	for _, s := range a.Steps {
		all = append(all, s.Holds...)
	}
	assert.Equal(t, []Interval{{Start: at(9, 0), End: at(9, 34)}}, mergeIntervals(all))
}

func TestPassiveReuseDoesNotLendWaitToOtherTasks(t *testing.T) {
	cal := newMemCalendar()
	cal.addUnits("Scope", "scope-1")
	// another task reserved the unit during the step's passive wait
	cal.reserve("scope-1", at(9, 7), at(9, 17))

	cfg := testConfig()
	cfg.PassiveReuse = true
	p := New(cal, cal, cfg)

	_, err := p.Plan(context.Background(), scopeTask(1), "lab-1", at(9, 0))
	assert.ErrorIs(t, err, ErrInfeasible)
}

func TestPassiveReuseHoldsWaitOnlyStepWhole(t *testing.T) {
	cal := newMemCalendar()
	cal.addUnits("Scope", "scope-1")

	cfg := testConfig()
	cfg.PassiveReuse = true
	p := New(cal, cal, cfg)

	a, err := p.Plan(context.Background(), Task{Branches: []Branch{
		{Steps: []Step{NewStep("soak", "Scope", 0, 40, 0)}},
		{Steps: []Step{NewStep("snap", "Scope", 5, 0, 0)}},
	}}, "lab-1", at(9, 0))
	require.NoError(t, err)
	require.Len(t, a.Steps, 2)

	assert.Equal(t, []Interval{{Start: at(9, 0), End: at(9, 40)}}, a.Steps[0].Holds)
	assert.True(t, a.Steps[1].Start.Equal(at(9, 40)))
	assert.Equal(t, 45*time.Minute, a.Makespan())
	assertNoConflicts(t, a)
}

func TestIntervalSetHelpers(t *testing.T) {
	got := subtractIntervals(
		[]Interval{{Start: at(9, 0), End: at(10, 0)}},
		[]Interval{{Start: at(9, 10), End: at(9, 20)}, {Start: at(9, 50), End: at(10, 30)}},
	)
	assert.Equal(t, []Interval{
		{Start: at(9, 0), End: at(9, 10)},
		{Start: at(9, 20), End: at(9, 50)},
	}, got)

	merged := mergeIntervals([]Interval{
		{Start: at(9, 20), End: at(9, 30)},
		{Start: at(9, 0), End: at(9, 10)},
		{Start: at(9, 10), End: at(9, 15)},
		{Start: at(9, 40), End: at(9, 40)},
	})
	assert.Equal(t, []Interval{
		{Start: at(9, 0), End: at(9, 15)},
		{Start: at(9, 20), End: at(9, 30)},
	}, merged)
}

func TestThreeBranchesPlaceSequentially(t *testing.T) {
	cal := newMemCalendar()
	cal.addUnits("Scope", "scope-1", "scope-2")
	p := New(cal, cal, testConfig())

	task := Task{Branches: []Branch{
		{Steps: []Step{NewStep("a", "Scope", 10, 0, 0)}},
		{Steps: []Step{NewStep("b", "Scope", 10, 0, 0)}},
		{Steps: []Step{NewStep("c", "Scope", 10, 0, 0)}},
	}}

	a, err := p.Plan(context.Background(), task, "lab-1", at(10, 0))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, a.Makespan())
	for _, s := range a.Steps {
		assert.Equal(t, "scope-1", s.UnitID)
	}
	assertNoConflicts(t, a)
}

func TestMultiStepBranchesAcrossTypes(t *testing.T) {
	cal := newMemCalendar()
	cal.addUnits("Scope", "scope-1")
	cal.addUnits("Centrifuge", "cf-1", "cf-2")
	cal.reserve("cf-1", at(9, 0), at(12, 0))
	p := New(cal, cal, testConfig())

	task := Task{Branches: []Branch{
		{Steps: []Step{NewStep("spin", "Centrifuge", 2, 20, 2), NewStep("image", "Scope", 5, 15, 7)}},
		{Steps: []Step{NewStep("spin 2", "Centrifuge", 2, 20, 2)}},
	}}

	a, err := p.Plan(context.Background(), task, "lab-1", at(9, 0))
	require.NoError(t, err)
	require.Len(t, a.Steps, 3)
	assert.Equal(t, "cf-2", a.Steps[0].UnitID)
	assert.True(t, a.Steps[1].Start.Equal(a.Steps[0].End), "steps in a branch run back to back")
	assert.Equal(t, "cf-2", a.Steps[2].UnitID, "cf-1 is reserved all morning")
	assertNoConflicts(t, a)
}

func TestPlanErrors(t *testing.T) {
	cal := newMemCalendar()
	cal.addUnits("Scope", "scope-1")
	p := New(cal, cal, testConfig())
	ctx := context.Background()

	_, err := p.Plan(ctx, Task{}, "lab-1", at(9, 0))
	assert.ErrorIs(t, err, ErrEmptyTask)

	unknown := Task{Branches: []Branch{{Steps: []Step{NewStep("x", "Laser", 5, 0, 0)}}}}
	_, err = p.Plan(ctx, unknown, "lab-1", at(9, 0))
	assert.ErrorIs(t, err, ErrUnknownEquipmentType)
	var typeErr *UnknownTypeError
	require.True(t, errors.As(err, &typeErr))
	assert.Equal(t, "Laser", typeErr.EquipmentType)

	_, err = p.Plan(ctx, scopeTask(1), "lab-1", at(7, 59))
	assert.ErrorIs(t, err, ErrInfeasible)

	_, err = p.Plan(ctx, scopeTask(1), "lab-1", at(16, 45))
	assert.ErrorIs(t, err, ErrInfeasible)

	_, err = p.FindSlots(ctx, unknown, "lab-1", at(9, 0))
	assert.ErrorIs(t, err, ErrUnknownEquipmentType)
}

func TestFindSlotsIsIdempotentAndPlaceable(t *testing.T) {
	cal := newMemCalendar()
	cal.addUnits("Scope", "scope-1", "scope-2")
	cal.reserve("scope-1", at(10, 0), at(11, 30))
	cal.reserve("scope-2", at(10, 15), at(13, 0))
	p := New(cal, cal, testConfig())
	ctx := context.Background()

	first, err := p.FindSlots(ctx, scopeTask(2), "lab-1", at(12, 0))
	require.NoError(t, err)
	second, err := p.FindSlots(ctx, scopeTask(2), "lab-1", at(12, 0))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	require.NotEmpty(t, first)

	for _, slot := range first {
		a, err := p.Plan(ctx, scopeTask(2), "lab-1", slot.Start)
		require.NoError(t, err, "slot %s", slot)
		assert.False(t, a.End.After(slot.End))
	}
}

func TestFindSlotsHonoursCancellation(t *testing.T) {
	cal := newMemCalendar()
	cal.addUnits("Scope", "scope-1")
	p := New(cal, cal, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.FindSlots(ctx, scopeTask(1), "lab-1", at(9, 0))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNextBoundary(t *testing.T) {
	tests := []struct {
		in   time.Time
		want time.Time
	}{
		{in: at(8, 0), want: at(8, 30)},
		{in: at(8, 1), want: at(8, 30)},
		{in: at(8, 29), want: at(8, 30)},
		{in: at(9, 20), want: at(9, 30)},
		{in: at(9, 30), want: at(10, 0)},
	}
	for _, tt := range tests {
		got := nextBoundary(tt.in, 30)
		assert.True(t, got.Equal(tt.want), "nextBoundary(%s) = %s", tt.in.Format("15:04"), got.Format("15:04"))
	}
}

func TestConfigDay(t *testing.T) {
	cfg := testConfig()
	day := cfg.Day(time.Date(2026, time.March, 1, 23, 30, 0, 0, time.UTC))
	// 23:30 UTC is already 09:30 on March 2nd in UTC+10
	assert.True(t, day.Start.Equal(at(8, 0)))
	assert.True(t, day.End.Equal(at(17, 0)))

	assert.NoError(t, cfg.Validate())
	bad := cfg
	bad.DayEnd = bad.DayStart
	assert.Error(t, bad.Validate())
}

func assertNoConflicts(t *testing.T, a *Assignment) {
	t.Helper()

	byUnit := make(map[string][]Interval)
	for _, s := range a.Steps {
		byUnit[s.UnitID] = append(byUnit[s.UnitID], s.Holds...)
	}
	for unit, holds := range byUnit {
		for i := range holds {
			for j := i + 1; j < len(holds); j++ {
				assert.False(t, holds[i].Overlaps(holds[j]), "unit %s holds %s and %s overlap", unit, holds[i], holds[j])
			}
		}
	}
}

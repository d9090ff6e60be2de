/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package builder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friendsincode/benchbook/internal/events"
	"github.com/friendsincode/benchbook/internal/models"
	"github.com/friendsincode/benchbook/internal/planner"
)

type memStore struct {
	mu        sync.Mutex
	units     map[string][]string
	templates []*models.Template
}

func (m *memStore) ActiveUnits(_ context.Context, _, equipmentType string) ([]string, error) {
	return m.units[equipmentType], nil
}

func (m *memStore) CreateTemplate(_ context.Context, t *models.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = "tmpl-" + t.Name
	m.templates = append(m.templates, t)
	return nil
}

func newBuilder() (*Builder, *memStore, *events.Bus) {
	st := &memStore{units: map[string][]string{
		"Scope":      {"scope-1"},
		"Centrifuge": {"spin-1", "spin-2"},
	}}
	bus := events.NewBus()
	return New(st, bus, Options{}, zerolog.Nop()), st, bus
}

func TestBuildAndFinalize(t *testing.T) {
	b, st, bus := newBuilder()
	created := bus.Subscribe(events.EventTemplateCreated)
	ctx := context.Background()

	_, err := b.Start(ctx, "alice", "lab-1", "Western blot", "")
	require.NoError(t, err)

	for _, step := range []planner.Step{
		planner.NewStep("Prep", "Centrifuge", 5, 10, 0),
		planner.NewStep("Image", "Scope", 5, 15, 7),
		planner.NewStep("Spin", "Centrifuge", 2, 20, 0),
	} {
		_, err := b.AddStep(ctx, "alice", step)
		require.NoError(t, err)
	}

	order, err := ParseOrder("1 2\n3")
	require.NoError(t, err)

	tmpl, err := b.Finalize(ctx, "alice", order)
	require.NoError(t, err)
	require.Len(t, tmpl.Branches, 2)
	assert.Equal(t, "Prep", tmpl.Branches[0].Steps[0].Name)
	assert.Equal(t, "Image", tmpl.Branches[0].Steps[1].Name)
	assert.Equal(t, "Spin", tmpl.Branches[1].Steps[0].Name)
	assert.Equal(t, "alice", tmpl.OwnerID)
	assert.Len(t, st.templates, 1)

	assert.Zero(t, b.Active(), "session removed after finalize")
	assert.Zero(t, b.locks.Len(), "lock removed after finalize")

	select {
	case p := <-created:
		assert.Equal(t, tmpl.ID, p["template_id"])
	default:
		t.Fatal("expected template.created event")
	}

	_, err = b.Session(ctx, "alice")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestAddStepValidation(t *testing.T) {
	b, _, _ := newBuilder()
	ctx := context.Background()

	_, err := b.AddStep(ctx, "bob", planner.NewStep("x", "Scope", 1, 0, 0))
	assert.ErrorIs(t, err, ErrNoSession)

	_, err = b.Start(ctx, "bob", "lab-1", "Assay", "")
	require.NoError(t, err)

	_, err = b.AddStep(ctx, "bob", planner.NewStep("Read", "Plate reader", 5, 0, 0))
	var unknown *planner.UnknownTypeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "Plate reader", unknown.EquipmentType)
	assert.ErrorIs(t, err, planner.ErrUnknownEquipmentType)

	_, err = b.AddStep(ctx, "bob", planner.NewStep(strings.Repeat("n", planner.MaxStepNameLength+1), "Scope", 5, 0, 0))
	assert.ErrorIs(t, err, planner.ErrInvalidTask)

	_, err = b.AddStep(ctx, "bob", planner.NewStep("Neg", "Scope", -1, 0, 0))
	assert.ErrorIs(t, err, planner.ErrInvalidTask)

	n, err := b.AddStep(ctx, "bob", planner.NewStep(strings.Repeat("n", planner.MaxStepNameLength), "Scope", 5, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = b.Start(ctx, "bob", "lab-1", "Again", "")
	assert.ErrorIs(t, err, ErrSessionExists)

	require.NoError(t, b.Discard(ctx, "bob"))
	assert.ErrorIs(t, b.Discard(ctx, "bob"), ErrNoSession)
}

func TestFinalizeRejectsBadOrders(t *testing.T) {
	tests := []struct {
		name  string
		order [][]int
	}{
		{"missing step", [][]int{{1, 2}}},
		{"duplicate step", [][]int{{1, 2}, {2, 3}}},
		{"out of range", [][]int{{1, 2, 3, 4}}},
		{"zero index", [][]int{{0, 1, 2, 3}}},
		{"empty branch", [][]int{{1, 2, 3}, {}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b, st, _ := newBuilder()
			ctx := context.Background()
			_, err := b.Start(ctx, "carol", "lab-1", "Task", "")
			require.NoError(t, err)
			for i := 0; i < 3; i++ {
				_, err := b.AddStep(ctx, "carol", planner.NewStep("s", "Scope", 1, 0, 0))
				require.NoError(t, err)
			}

			_, err = b.Finalize(ctx, "carol", tc.order)
			assert.ErrorIs(t, err, ErrInvalidOrder)
			assert.Empty(t, st.templates)
			assert.Equal(t, 1, b.Active(), "session kept after a rejected order")
		})
	}
}

func TestFinalizeDefaultsToOneBranch(t *testing.T) {
	b, _, _ := newBuilder()
	ctx := context.Background()

	_, err := b.Start(ctx, "dan", "lab-1", "Serial", "")
	require.NoError(t, err)
	_, err = b.Finalize(ctx, "dan", nil)
	assert.ErrorIs(t, err, planner.ErrEmptyTask)

	_, err = b.AddStep(ctx, "dan", planner.NewStep("a", "Scope", 1, 0, 0))
	require.NoError(t, err)
	_, err = b.AddStep(ctx, "dan", planner.NewStep("b", "Scope", 1, 0, 0))
	require.NoError(t, err)

	tmpl, err := b.Finalize(ctx, "dan", nil)
	require.NoError(t, err)
	require.Len(t, tmpl.Branches, 1)
	assert.Len(t, tmpl.Branches[0].Steps, 2)
}

func TestParseOrder(t *testing.T) {
	tests := []struct {
		in      string
		want    [][]int
		wantErr bool
	}{
		{in: "1 2 3\n4 5", want: [][]int{{1, 2, 3}, {4, 5}}},
		{in: "1,2\r\n\n3", want: [][]int{{1, 2}, {3}}},
		{in: "  7  ", want: [][]int{{7}}},
		{in: "", wantErr: true},
		{in: "1 two", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseOrder(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidOrder) {
				t.Fatalf("ParseOrder(%q): expected ErrInvalidOrder, got %v", tc.in, err)
			}
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestConcurrentUsersDoNotInterfere(t *testing.T) {
	b, st, _ := newBuilder()
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, user := range []string{"u1", "u2", "u3", "u4"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			if _, err := b.Start(ctx, user, "lab-1", "task-"+user, ""); err != nil {
				t.Errorf("start %s: %v", user, err)
				return
			}
			for i := 0; i < 5; i++ {
				if _, err := b.AddStep(ctx, user, planner.NewStep("s", "Centrifuge", 1, 1, 0)); err != nil {
					t.Errorf("add step %s: %v", user, err)
					return
				}
			}
			if _, err := b.Finalize(ctx, user, nil); err != nil {
				t.Errorf("finalize %s: %v", user, err)
			}
		}(user)
	}
	wg.Wait()

	assert.Len(t, st.templates, 4)
	for _, tmpl := range st.templates {
		assert.Len(t, tmpl.Branches[0].Steps, 5)
	}
	assert.Zero(t, b.Active())
}

func TestIdleSessionsExpire(t *testing.T) {
	st := &memStore{units: map[string][]string{"Scope": {"scope-1"}}}
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	b := New(st, nil, Options{IdleTTL: time.Hour, Now: func() time.Time { return now }}, zerolog.Nop())
	ctx := context.Background()

	_, err := b.Start(ctx, "alice", "lab-1", "blot", "")
	require.NoError(t, err)
	_, err = b.Start(ctx, "bob", "lab-1", "gel", "")
	require.NoError(t, err)

	// touching alice's session keeps it alive
	now = now.Add(45 * time.Minute)
	_, err = b.AddStep(ctx, "alice", planner.NewStep("image", "Scope", 5, 0, 0))
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	assert.Equal(t, 1, b.Sweep())
	assert.Equal(t, 1, b.Active())

	_, err = b.Session(ctx, "bob")
	assert.ErrorIs(t, err, ErrNoSession)
	s, err := b.Session(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, s.Steps, 1)

	// an expired session does not block a new one
	now = now.Add(2 * time.Hour)
	_, err = b.Start(ctx, "alice", "lab-1", "blot again", "")
	require.NoError(t, err)
}

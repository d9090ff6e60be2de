/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"testing"
	"time"

	"github.com/friendsincode/benchbook/internal/planner"
)

func TestNormalizeLabRole(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want LabRole
	}{
		{name: "admin canonical", in: "admin", want: LabRoleAdmin},
		{name: "admin mixed case", in: " Admin ", want: LabRoleAdmin},
		{name: "member canonical", in: "member", want: LabRoleMember},
		{name: "unknown becomes member", in: "owner", want: LabRoleMember},
		{name: "empty becomes member", in: "", want: LabRoleMember},
	}

	for _, tt := range tests {
		if got := NormalizeLabRole(tt.in); got != tt.want {
			t.Fatalf("%s: NormalizeLabRole(%q)=%q, want %q", tt.name, tt.in, got, tt.want)
		}
	}
}

func TestTemplateTask(t *testing.T) {
	branches := []planner.Branch{{Steps: []planner.Step{planner.NewStep("scope", "Scope", 5, 15, 7)}}}
	tmpl := Template{ID: "t1", Name: "imaging", Description: "d", Branches: branches}

	task := tmpl.Task()
	if task.ID != "t1" || task.Name != "imaging" || task.Description != "d" || task.StepCount() != 1 {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestReservationInterval(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	r := Reservation{StartsAt: start, EndsAt: start.Add(27 * time.Minute)}
	if got := r.Interval().Duration(); got != 27*time.Minute {
		t.Fatalf("Interval().Duration()=%s, want 27m", got)
	}
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planner

import "time"

// BranchDuration sums the length of every step in the branch.
func BranchDuration(b Branch) time.Duration {
	var total time.Duration
	for _, s := range b.Steps {
		total += s.Duration()
	}
	return total
}

// TaskDuration returns the longest branch. It is a lower bound on the
// makespan and ignores equipment contention.
func TaskDuration(t Task) time.Duration {
	var longest time.Duration
	for _, b := range t.Branches {
		if d := BranchDuration(b); d > longest {
			longest = d
		}
	}
	return longest
}

func branchMinutes(b Branch) int {
	total := 0
	for _, s := range b.Steps {
		total += s.Minutes()
	}
	return total
}

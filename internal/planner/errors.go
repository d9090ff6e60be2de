/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planner

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyTask means the task has no steps or zero total duration.
	ErrEmptyTask = errors.New("task has nothing to schedule")
	// ErrUnknownEquipmentType means a step names a type with no active units in the lab.
	ErrUnknownEquipmentType = errors.New("unknown equipment type")
	// ErrInfeasible means no conflict-free placement exists at the requested start.
	ErrInfeasible = errors.New("no feasible placement")
	// ErrInvalidTask means a step is malformed.
	ErrInvalidTask = errors.New("invalid task")
)

// UnknownTypeError names the equipment type that could not be resolved.
type UnknownTypeError struct {
	LabID         string
	EquipmentType string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("lab %s has no active units of type %q", e.LabID, e.EquipmentType)
}

func (e *UnknownTypeError) Unwrap() error {
	return ErrUnknownEquipmentType
}

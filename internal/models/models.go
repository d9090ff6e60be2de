/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"strings"
	"time"

	"github.com/friendsincode/benchbook/internal/planner"
)

// LabRole enumerates the roles a user can hold inside a lab.
type LabRole string

const (
	LabRoleAdmin  LabRole = "admin"
	LabRoleMember LabRole = "member"
)

// NormalizeLabRole maps free-form input onto a known role. Unknown values become member.
func NormalizeLabRole(role string) LabRole {
	switch LabRole(strings.ToLower(strings.TrimSpace(role))) {
	case LabRoleAdmin:
		return LabRoleAdmin
	default:
		return LabRoleMember
	}
}

// Lab is the scoping boundary for equipment, templates and reservations.
type Lab struct {
	ID          string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	CreatedBy   string    `gorm:"type:varchar(64);not null" json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LabMember links a user to a lab with a role.
type LabMember struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	LabID     string    `gorm:"type:varchar(36);uniqueIndex:idx_lab_members_lab_user;not null" json:"lab_id"`
	UserID    string    `gorm:"type:varchar(64);uniqueIndex:idx_lab_members_lab_user;index;not null" json:"user_id"`
	Role      LabRole   `gorm:"type:varchar(16);not null" json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// EquipmentUnit is one physical instrument of a type. Inactive units are never scheduled.
type EquipmentUnit struct {
	ID            string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	LabID         string    `gorm:"type:varchar(36);index:idx_units_lab_type;not null" json:"lab_id"`
	EquipmentType string    `gorm:"type:varchar(128);index:idx_units_lab_type;not null" json:"equipment_type"`
	Label         string    `gorm:"type:varchar(128)" json:"label,omitempty"`
	Active        bool      `gorm:"not null" json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Template is a persisted task definition owned by a user.
type Template struct {
	ID          string           `gorm:"type:varchar(36);primaryKey" json:"id"`
	OwnerID     string           `gorm:"type:varchar(64);index;not null" json:"owner_id"`
	LabID       string           `gorm:"type:varchar(36);index;not null" json:"lab_id"`
	Name        string           `gorm:"type:varchar(255);not null" json:"name"`
	Description string           `gorm:"type:text" json:"description,omitempty"`
	Branches    []planner.Branch `gorm:"type:text;serializer:json" json:"branches"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Task converts the template into a schedulable task.
func (t Template) Task() planner.Task {
	return planner.Task{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Branches:    t.Branches,
	}
}

// Reservation holds a unit for one step of a placed task.
// Per unit, reservations never overlap as half-open [StartsAt, EndsAt) ranges.
type Reservation struct {
	ID             string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	LabID          string     `gorm:"type:varchar(36);index;not null" json:"lab_id"`
	UnitID         string     `gorm:"type:varchar(36);index:idx_reservations_unit_time;not null" json:"unit_id"`
	TaskID         string     `gorm:"type:varchar(36);index:idx_reservations_user_task;not null" json:"task_id"`
	UserID         string     `gorm:"type:varchar(64);index:idx_reservations_user_task;not null" json:"user_id"`
	StepName       string     `gorm:"type:varchar(128)" json:"step_name"`
	Branch         int        `json:"branch"`
	StepIndex      int        `json:"step_index"`
	StartsAt       time.Time  `gorm:"index:idx_reservations_unit_time;not null" json:"starts_at"`
	EndsAt         time.Time  `gorm:"not null" json:"ends_at"`
	ReminderSentAt *time.Time `gorm:"index" json:"reminder_sent_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Interval returns the reserved range.
func (r Reservation) Interval() planner.Interval {
	return planner.Interval{Start: r.StartsAt, End: r.EndsAt}
}

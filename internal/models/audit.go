/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// AuditAction defines the type of audited action.
type AuditAction string

const (
	AuditActionLabCreate         AuditAction = "lab.create"
	AuditActionLabJoin           AuditAction = "lab.join"
	AuditActionEquipmentAdd      AuditAction = "equipment.add"
	AuditActionEquipmentRemove   AuditAction = "equipment.remove"
	AuditActionEquipmentToggle   AuditAction = "equipment.toggle"
	AuditActionTemplateCreate    AuditAction = "template.create"
	AuditActionTemplateShare     AuditAction = "template.share"
	AuditActionReservationCreate AuditAction = "reservation.create"
	AuditActionReservationCancel AuditAction = "reservation.cancel"
	AuditActionIntegrityRepair   AuditAction = "integrity.repair"
)

// AuditLog records mutations of shared lab state.
type AuditLog struct {
	ID           string         `gorm:"type:varchar(36);primaryKey"`
	Timestamp    time.Time      `gorm:"index:idx_audit_timestamp;not null"`
	UserID       *string        `gorm:"type:varchar(64);index:idx_audit_user"` // NULL for system actions
	LabID        *string        `gorm:"type:varchar(36);index:idx_audit_lab"`
	Action       AuditAction    `gorm:"type:varchar(64);index:idx_audit_action;not null"`
	ResourceType string         `gorm:"type:varchar(64)"`
	ResourceID   string         `gorm:"type:varchar(36)"`
	Details      map[string]any `gorm:"type:text;serializer:json"`
	CreatedAt    time.Time
}

// TableName returns the table name for GORM.
func (AuditLog) TableName() string {
	return "audit_logs"
}

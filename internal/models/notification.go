/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// NotificationType defines the type of notification.
type NotificationType string

const (
	NotificationTypeStepReminder         NotificationType = "step_reminder"         // Reminder before a reserved step starts
	NotificationTypeReservationCreated   NotificationType = "reservation_created"   // Task placed and reserved
	NotificationTypeReservationCancelled NotificationType = "reservation_cancelled" // Task reservations removed
)

// NotificationChannel defines the delivery channel.
type NotificationChannel string

const (
	NotificationChannelInApp NotificationChannel = "in_app"
	NotificationChannelEvent NotificationChannel = "event"
)

// NotificationStatus defines the delivery status.
type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
	NotificationStatusRead    NotificationStatus = "read"
)

// Notification stores a notification log entry.
type Notification struct {
	ID               string              `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID           string              `gorm:"type:varchar(64);index:idx_notifications_user;not null" json:"user_id"`
	NotificationType NotificationType    `gorm:"type:varchar(64);index:idx_notifications_type;not null" json:"notification_type"`
	Channel          NotificationChannel `gorm:"type:varchar(32);not null" json:"channel"`
	Subject          string              `gorm:"type:varchar(255)" json:"subject,omitempty"`
	Body             string              `gorm:"type:text;not null" json:"body"`
	Status           NotificationStatus  `gorm:"type:varchar(32);not null;default:'pending';index:idx_notifications_status" json:"status"`
	SentAt           *time.Time          `json:"sent_at,omitempty"`
	ReadAt           *time.Time          `json:"read_at,omitempty"`

	// Reference to related entity (reservation, template)
	ReferenceType string `gorm:"type:varchar(64)" json:"reference_type,omitempty"`
	ReferenceID   string `gorm:"type:varchar(36)" json:"reference_id,omitempty"`

	Metadata map[string]any `gorm:"type:text;serializer:json" json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the table name for GORM.
func (Notification) TableName() string {
	return "notifications"
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/benchbook/internal/events"
	"github.com/friendsincode/benchbook/internal/models"
)

// Service handles audit logging by subscribing to events and storing audit entries.
type Service struct {
	db     *gorm.DB
	bus    events.Broker
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewService creates a new audit service.
func NewService(db *gorm.DB, bus events.Broker, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// auditedEvents maps events onto the audit action they record. Inventory
// updates carry their own action in the payload.
var auditedEvents = map[events.EventType]models.AuditAction{
	events.EventReservationCreated:   models.AuditActionReservationCreate,
	events.EventReservationCancelled: models.AuditActionReservationCancel,
	events.EventLabCreated:           models.AuditActionLabCreate,
	events.EventLabJoined:            models.AuditActionLabJoin,
	events.EventInventoryUpdated:     models.AuditActionEquipmentAdd,
	events.EventTemplateCreated:      models.AuditActionTemplateCreate,
	events.EventTemplateShared:       models.AuditActionTemplateShare,
	events.EventIntegrityRepaired:    models.AuditActionIntegrityRepair,
}

// Start subscribes to the audited events and records them until ctx is done.
// Subscriptions are registered before Start returns.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Msg("audit service starting")

	for eventType, action := range auditedEvents {
		sub := s.bus.Subscribe(eventType)
		s.wg.Add(1)
		go s.consume(ctx, eventType, action, sub)
	}

	s.logger.Info().Int("events", len(auditedEvents)).Msg("audit service started")
}

// Wait blocks until every consumer has stopped.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) consume(ctx context.Context, eventType events.EventType, action models.AuditAction, sub events.Subscriber) {
	defer s.wg.Done()
	defer s.bus.Unsubscribe(eventType, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			if eventType == events.EventInventoryUpdated {
				action = inventoryAction(payload)
			}
			s.logAuditEntry(context.WithoutCancel(ctx), action, payload)
		}
	}
}

func inventoryAction(payload events.Payload) models.AuditAction {
	switch payload["action"] {
	case "remove":
		return models.AuditActionEquipmentRemove
	case "toggle":
		return models.AuditActionEquipmentToggle
	default:
		return models.AuditActionEquipmentAdd
	}
}

// logAuditEntry creates an audit log entry from an event payload.
func (s *Service) logAuditEntry(ctx context.Context, action models.AuditAction, payload events.Payload) {
	entry := &models.AuditLog{
		Action:  action,
		Details: make(map[string]any),
	}

	if userID, ok := payload["user_id"].(string); ok && userID != "" {
		entry.UserID = &userID
	}
	if labID, ok := payload["lab_id"].(string); ok && labID != "" {
		entry.LabID = &labID
	}

	entry.ResourceType, entry.ResourceID = resourceOf(action, payload)

	for k, v := range payload {
		switch k {
		case "user_id", "lab_id":
		default:
			entry.Details[k] = v
		}
	}

	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("action", string(action)).
			Msg("failed to log audit entry")
	}
}

func resourceOf(action models.AuditAction, payload events.Payload) (string, string) {
	str := func(key string) string {
		v, _ := payload[key].(string)
		return v
	}
	switch action {
	case models.AuditActionReservationCreate, models.AuditActionReservationCancel:
		return "task", str("task_id")
	case models.AuditActionLabCreate, models.AuditActionLabJoin:
		return "lab", str("lab_id")
	case models.AuditActionEquipmentAdd, models.AuditActionEquipmentRemove:
		return "equipment_type", str("equipment_type")
	case models.AuditActionEquipmentToggle:
		return "equipment_unit", str("unit_id")
	case models.AuditActionTemplateCreate, models.AuditActionTemplateShare:
		return "template", str("template_id")
	case models.AuditActionIntegrityRepair:
		return "reservation", str("resource_id")
	}
	return "", ""
}

// Log records an audit entry directly (for non-event-bus actions).
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	now := time.Now().UTC()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.Details == nil {
		entry.Details = make(map[string]any)
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}

	s.logger.Debug().
		Str("action", string(entry.Action)).
		Str("id", entry.ID).
		Msg("audit entry logged")

	return nil
}

// QueryFilters defines filters for querying audit logs.
type QueryFilters struct {
	UserID    *string
	LabID     *string
	Action    *models.AuditAction
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Query retrieves audit logs with filters.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})

	if filters.UserID != nil {
		query = query.Where("user_id = ?", *filters.UserID)
	}
	if filters.LabID != nil {
		query = query.Where("lab_id = ?", *filters.LabID)
	}
	if filters.Action != nil {
		query = query.Where("action = ?", *filters.Action)
	}
	if filters.StartTime != nil {
		query = query.Where("timestamp >= ?", *filters.StartTime)
	}
	if filters.EndTime != nil {
		query = query.Where("timestamp <= ?", *filters.EndTime)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	} else {
		query = query.Limit(100)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Order("timestamp DESC").Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

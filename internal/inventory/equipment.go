/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/friendsincode/benchbook/internal/events"
	"github.com/friendsincode/benchbook/internal/models"
)

// AddUnits registers count new units of a type.
func (s *Service) AddUnits(ctx context.Context, actorID, labID, equipmentType string, count int) ([]models.EquipmentUnit, error) {
	equipmentType = strings.TrimSpace(equipmentType)
	if equipmentType == "" {
		return nil, fmt.Errorf("%w: equipment type is required", ErrInvalidInput)
	}
	if err := validCount(count); err != nil {
		return nil, err
	}
	if err := s.RequireAdmin(ctx, labID, actorID); err != nil {
		return nil, err
	}

	units, err := s.store.AddUnits(ctx, labID, equipmentType, count)
	if err != nil {
		return nil, err
	}
	s.publishInventory(labID, actorID, "add", equipmentType, len(units))
	return units, nil
}

// RemoveUnits deletes up to count units of a type, newest first. Their
// reservations are removed with them.
func (s *Service) RemoveUnits(ctx context.Context, actorID, labID, equipmentType string, count int) (int, error) {
	equipmentType = strings.TrimSpace(equipmentType)
	if err := validCount(count); err != nil {
		return 0, err
	}
	if err := s.RequireAdmin(ctx, labID, actorID); err != nil {
		return 0, err
	}

	removed, err := s.store.RemoveUnits(ctx, labID, equipmentType, count)
	if err != nil {
		return 0, err
	}
	s.publishInventory(labID, actorID, "remove", equipmentType, removed)
	s.logger.Info().Str("lab_id", labID).Str("equipment_type", equipmentType).Int("removed", removed).Msg("units removed")
	return removed, nil
}

// SetUnitActive takes a unit in or out of service.
func (s *Service) SetUnitActive(ctx context.Context, actorID, labID, unitID string, active bool) (*models.EquipmentUnit, error) {
	if err := s.RequireAdmin(ctx, labID, actorID); err != nil {
		return nil, err
	}
	unit, err := s.store.SetUnitActive(ctx, labID, unitID, active)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(events.EventInventoryUpdated, events.Payload{
		"lab_id":         labID,
		"user_id":        actorID,
		"action":         "toggle",
		"unit_id":        unit.ID,
		"equipment_type": unit.EquipmentType,
		"active":         active,
	})
	return unit, nil
}

// Summary maps each equipment type to its active unit count.
func (s *Service) Summary(ctx context.Context, userID, labID string) (map[string]int, error) {
	if _, err := s.RequireMember(ctx, labID, userID); err != nil {
		return nil, err
	}
	return s.store.EquipmentSummary(ctx, labID)
}

// Units lists every unit in the lab, active or not.
func (s *Service) Units(ctx context.Context, userID, labID string) ([]models.EquipmentUnit, error) {
	if _, err := s.RequireMember(ctx, labID, userID); err != nil {
		return nil, err
	}
	return s.store.ListUnits(ctx, labID)
}

func (s *Service) publishInventory(labID, userID, action, equipmentType string, count int) {
	s.bus.Publish(events.EventInventoryUpdated, events.Payload{
		"lab_id":         labID,
		"user_id":        userID,
		"action":         action,
		"equipment_type": equipmentType,
		"count":          count,
	})
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/benchbook/internal/models"
)

// ActiveUnits returns the active unit ids of a type in a lab, oldest first.
func (s *Store) ActiveUnits(ctx context.Context, labID, equipmentType string) ([]string, error) {
	cacheable := !inTx(ctx)
	if cacheable {
		if ids, ok := s.cache.GetLabUnits(ctx, labID, equipmentType); ok {
			return ids, nil
		}
	}

	var ids []string
	err := s.conn(ctx).
		Model(&models.EquipmentUnit{}).
		Where("lab_id = ? AND equipment_type = ? AND active = ?", labID, equipmentType, true).
		Order("created_at ASC, id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list active units: %w", err)
	}

	if cacheable && len(ids) > 0 {
		if err := s.cache.SetLabUnits(ctx, labID, equipmentType, ids); err != nil {
			s.logger.Debug().Err(err).Str("lab_id", labID).Msg("cache lab units failed")
		}
	}
	return ids, nil
}

// ListUnits returns every unit of a lab, grouped by type in creation order.
func (s *Store) ListUnits(ctx context.Context, labID string) ([]models.EquipmentUnit, error) {
	var units []models.EquipmentUnit
	if err := s.conn(ctx).
		Where("lab_id = ?", labID).
		Order("equipment_type ASC, created_at ASC, id ASC").
		Find(&units).Error; err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	return units, nil
}

// GetUnit loads one unit.
func (s *Store) GetUnit(ctx context.Context, unitID string) (*models.EquipmentUnit, error) {
	var unit models.EquipmentUnit
	if err := s.conn(ctx).First(&unit, "id = ?", unitID).Error; err != nil {
		return nil, wrapNotFound(err, "unit "+unitID)
	}
	return &unit, nil
}

// AddUnits creates count active units of a type. Creation times are spaced so
// that first-fit order follows insertion order even on coarse clocks.
func (s *Store) AddUnits(ctx context.Context, labID, equipmentType string, count int) ([]models.EquipmentUnit, error) {
	if count <= 0 {
		return nil, fmt.Errorf("unit count must be positive, got %d", count)
	}

	var existing int64
	if err := s.conn(ctx).Model(&models.EquipmentUnit{}).
		Where("lab_id = ? AND equipment_type = ?", labID, equipmentType).
		Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("count units: %w", err)
	}

	now := time.Now().UTC()
	units := make([]models.EquipmentUnit, count)
	for i := range units {
		units[i] = models.EquipmentUnit{
			ID:            uuid.NewString(),
			LabID:         labID,
			EquipmentType: equipmentType,
			Label:         fmt.Sprintf("%s #%d", equipmentType, int(existing)+i+1),
			Active:        true,
			CreatedAt:     now.Add(time.Duration(i) * time.Millisecond),
			UpdatedAt:     now,
		}
	}

	if err := s.conn(ctx).Create(&units).Error; err != nil {
		return nil, fmt.Errorf("create units: %w", err)
	}
	s.invalidateUnits(ctx, labID)
	return units, nil
}

// RemoveUnits deletes up to count units of a type, newest first, together with
// their reservations. It returns the number of units removed.
func (s *Store) RemoveUnits(ctx context.Context, labID, equipmentType string, count int) (int, error) {
	if count <= 0 {
		return 0, fmt.Errorf("unit count must be positive, got %d", count)
	}

	removed := 0
	err := s.WithinTx(ctx, func(ctx context.Context) error {
		var ids []string
		if err := s.conn(ctx).Model(&models.EquipmentUnit{}).
			Where("lab_id = ? AND equipment_type = ?", labID, equipmentType).
			Order("created_at DESC, id DESC").
			Limit(count).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("select units: %w", err)
		}
		if len(ids) == 0 {
			return fmt.Errorf("no %q units in lab: %w", equipmentType, ErrNotFound)
		}

		if err := s.conn(ctx).Where("unit_id IN ?", ids).Delete(&models.Reservation{}).Error; err != nil {
			return fmt.Errorf("delete unit reservations: %w", err)
		}
		if err := s.conn(ctx).Where("id IN ?", ids).Delete(&models.EquipmentUnit{}).Error; err != nil {
			return fmt.Errorf("delete units: %w", err)
		}
		removed = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.invalidateUnits(ctx, labID)
	return removed, nil
}

// SetUnitActive toggles whether a unit is offered to the planner.
func (s *Store) SetUnitActive(ctx context.Context, labID, unitID string, active bool) (*models.EquipmentUnit, error) {
	res := s.conn(ctx).Model(&models.EquipmentUnit{}).
		Where("id = ? AND lab_id = ?", unitID, labID).
		Updates(map[string]any{"active": active, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return nil, fmt.Errorf("update unit: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("unit %s: %w", unitID, ErrNotFound)
	}
	s.invalidateUnits(ctx, labID)
	return s.GetUnit(ctx, unitID)
}

// EquipmentSummary maps each type in the lab to its active unit count.
func (s *Store) EquipmentSummary(ctx context.Context, labID string) (map[string]int, error) {
	type row struct {
		EquipmentType string
		Count         int
	}
	var rows []row
	if err := s.conn(ctx).Model(&models.EquipmentUnit{}).
		Select("equipment_type, COUNT(*) AS count").
		Where("lab_id = ? AND active = ?", labID, true).
		Group("equipment_type").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("summarize equipment: %w", err)
	}

	summary := make(map[string]int, len(rows))
	for _, r := range rows {
		summary[r.EquipmentType] = r.Count
	}
	return summary, nil
}

func (s *Store) invalidateUnits(ctx context.Context, labID string) {
	if err := s.cache.InvalidateLabUnits(ctx, labID); err != nil {
		s.logger.Warn().Err(err).Str("lab_id", labID).Msg("invalidate unit cache failed")
	}
}

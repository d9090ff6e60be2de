/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/friendsincode/benchbook/internal/cache"
	"github.com/friendsincode/benchbook/internal/models"
	"github.com/friendsincode/benchbook/internal/planner"
)

// CreateTemplate persists a template, assigning an id when missing.
func (s *Store) CreateTemplate(ctx context.Context, t *models.Template) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if err := s.conn(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

// GetTemplate loads a template by id.
func (s *Store) GetTemplate(ctx context.Context, templateID string) (*models.Template, error) {
	if cached, ok := s.cache.GetTemplate(ctx, templateID); ok {
		var branches []planner.Branch
		if err := json.Unmarshal(cached.Branches, &branches); err == nil {
			return &models.Template{
				ID:          cached.ID,
				OwnerID:     cached.OwnerID,
				LabID:       cached.LabID,
				Name:        cached.Name,
				Description: cached.Description,
				Branches:    branches,
			}, nil
		}
	}

	var t models.Template
	if err := s.conn(ctx).First(&t, "id = ?", templateID).Error; err != nil {
		return nil, wrapNotFound(err, "template "+templateID)
	}

	if raw, err := json.Marshal(t.Branches); err == nil {
		_ = s.cache.SetTemplate(ctx, &cache.CachedTemplate{
			ID:          t.ID,
			OwnerID:     t.OwnerID,
			LabID:       t.LabID,
			Name:        t.Name,
			Description: t.Description,
			Branches:    raw,
		})
	}
	return &t, nil
}

// ListTemplates returns a user's templates in a lab, newest first.
// An empty labID lists across labs.
func (s *Store) ListTemplates(ctx context.Context, ownerID, labID string) ([]models.Template, error) {
	q := s.conn(ctx).Where("owner_id = ?", ownerID)
	if labID != "" {
		q = q.Where("lab_id = ?", labID)
	}
	var out []models.Template
	if err := q.Order("created_at DESC, id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return out, nil
}

// DeleteTemplate removes a template owned by the user. Reservations stay.
func (s *Store) DeleteTemplate(ctx context.Context, ownerID, templateID string) error {
	res := s.conn(ctx).Where("id = ? AND owner_id = ?", templateID, ownerID).Delete(&models.Template{})
	if res.Error != nil {
		return fmt.Errorf("delete template: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("template %s: %w", templateID, ErrNotFound)
	}
	_ = s.cache.InvalidateTemplate(ctx, templateID)
	return nil
}

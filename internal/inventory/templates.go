/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/friendsincode/benchbook/internal/events"
	"github.com/friendsincode/benchbook/internal/models"
	"github.com/friendsincode/benchbook/internal/planner"
	"github.com/friendsincode/benchbook/internal/store"
)

// Templates lists the user's templates, optionally within one lab.
func (s *Service) Templates(ctx context.Context, userID, labID string) ([]models.Template, error) {
	return s.store.ListTemplates(ctx, userID, labID)
}

// Template returns one of the user's templates.
func (s *Service) Template(ctx context.Context, userID, templateID string) (*models.Template, error) {
	t, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if t.OwnerID != userID {
		// other users' templates are reported as missing
		return nil, fmt.Errorf("template %s: %w", templateID, store.ErrNotFound)
	}
	return t, nil
}

// SaveTemplate stores a complete task as a template in one call.
func (s *Service) SaveTemplate(ctx context.Context, userID, labID string, task planner.Task) (*models.Template, error) {
	if _, err := s.RequireMember(ctx, labID, userID); err != nil {
		return nil, err
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	t := &models.Template{
		OwnerID:     userID,
		LabID:       labID,
		Name:        task.Name,
		Description: task.Description,
		Branches:    task.Branches,
	}
	if err := s.store.CreateTemplate(ctx, t); err != nil {
		return nil, err
	}
	s.bus.Publish(events.EventTemplateCreated, events.Payload{
		"lab_id":      labID,
		"user_id":     userID,
		"template_id": t.ID,
		"name":        t.Name,
	})
	return t, nil
}

// ShareTemplate copies a template to another member of the same lab.
func (s *Service) ShareTemplate(ctx context.Context, ownerID, templateID, recipientID string) (*models.Template, error) {
	src, err := s.Template(ctx, ownerID, templateID)
	if err != nil {
		return nil, err
	}
	if recipientID == ownerID {
		return nil, fmt.Errorf("%w: cannot share a template with yourself", ErrInvalidInput)
	}
	if _, err := s.RequireMember(ctx, src.LabID, recipientID); err != nil {
		return nil, err
	}

	branches := append([]planner.Branch(nil), src.Branches...)
	cp := &models.Template{
		ID:          uuid.NewString(),
		OwnerID:     recipientID,
		LabID:       src.LabID,
		Name:        src.Name,
		Description: src.Description,
		Branches:    branches,
	}
	if err := s.store.CreateTemplate(ctx, cp); err != nil {
		return nil, err
	}

	s.bus.Publish(events.EventTemplateShared, events.Payload{
		"lab_id":       src.LabID,
		"user_id":      ownerID,
		"template_id":  cp.ID,
		"source_id":    src.ID,
		"recipient_id": recipientID,
	})
	return cp, nil
}

// DeleteTemplate removes one of the user's templates. Existing reservations are kept.
func (s *Service) DeleteTemplate(ctx context.Context, userID, templateID string) error {
	return s.store.DeleteTemplate(ctx, userID, templateID)
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/benchbook/internal/cache"
	"github.com/friendsincode/benchbook/internal/models"
)

// CreateLab inserts a lab and makes its creator an admin.
func (s *Store) CreateLab(ctx context.Context, name, description, creatorID string) (*models.Lab, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("lab name is required")
	}

	lab := &models.Lab{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedBy:   creatorID,
	}
	err := s.WithinTx(ctx, func(ctx context.Context) error {
		var count int64
		if err := s.conn(ctx).Model(&models.Lab{}).Where("name = ?", name).Count(&count).Error; err != nil {
			return fmt.Errorf("check lab name: %w", err)
		}
		if count > 0 {
			return fmt.Errorf("lab %q: %w", name, ErrConflict)
		}
		if err := s.conn(ctx).Create(lab).Error; err != nil {
			return fmt.Errorf("create lab: %w", err)
		}
		return s.addMember(ctx, lab.ID, creatorID, models.LabRoleAdmin)
	})
	if err != nil {
		return nil, err
	}
	return lab, nil
}

// GetLab loads a lab by id.
func (s *Store) GetLab(ctx context.Context, labID string) (*models.Lab, error) {
	if cached, ok := s.cache.GetLab(ctx, labID); ok {
		return &models.Lab{ID: cached.ID, Name: cached.Name, Description: cached.Description, CreatedBy: cached.CreatedBy}, nil
	}
	var lab models.Lab
	if err := s.conn(ctx).First(&lab, "id = ?", labID).Error; err != nil {
		return nil, wrapNotFound(err, "lab "+labID)
	}
	_ = s.cache.SetLab(ctx, &cache.CachedLab{ID: lab.ID, Name: lab.Name, Description: lab.Description, CreatedBy: lab.CreatedBy})
	return &lab, nil
}

// FindLabByName loads a lab by its unique name.
func (s *Store) FindLabByName(ctx context.Context, name string) (*models.Lab, error) {
	var lab models.Lab
	if err := s.conn(ctx).First(&lab, "name = ?", strings.TrimSpace(name)).Error; err != nil {
		return nil, wrapNotFound(err, "lab "+name)
	}
	return &lab, nil
}

// ListLabs returns every lab ordered by name.
func (s *Store) ListLabs(ctx context.Context) ([]models.Lab, error) {
	var labs []models.Lab
	if err := s.conn(ctx).Order("name ASC").Find(&labs).Error; err != nil {
		return nil, fmt.Errorf("list labs: %w", err)
	}
	return labs, nil
}

// UserLabs returns the labs a user belongs to.
func (s *Store) UserLabs(ctx context.Context, userID string) ([]models.Lab, error) {
	var labs []models.Lab
	if err := s.conn(ctx).
		Joins("JOIN lab_members lm ON lm.lab_id = labs.id").
		Where("lm.user_id = ?", userID).
		Order("labs.name ASC").
		Find(&labs).Error; err != nil {
		return nil, fmt.Errorf("list user labs: %w", err)
	}
	return labs, nil
}

// AddMember adds the user to the lab. Existing members keep their role.
func (s *Store) AddMember(ctx context.Context, labID, userID string, role models.LabRole) (*models.LabMember, error) {
	if _, err := s.GetLab(ctx, labID); err != nil {
		return nil, err
	}
	if m, err := s.Member(ctx, labID, userID); err == nil {
		return m, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err := s.addMember(ctx, labID, userID, role); err != nil {
		return nil, err
	}
	return s.Member(ctx, labID, userID)
}

func (s *Store) addMember(ctx context.Context, labID, userID string, role models.LabRole) error {
	m := &models.LabMember{
		ID:        uuid.NewString(),
		LabID:     labID,
		UserID:    userID,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.conn(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("add lab member: %w", err)
	}
	return nil
}

// Member loads the membership of a user in a lab.
func (s *Store) Member(ctx context.Context, labID, userID string) (*models.LabMember, error) {
	var m models.LabMember
	err := s.conn(ctx).First(&m, "lab_id = ? AND user_id = ?", labID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %s in lab %s: %w", userID, labID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load member: %w", err)
	}
	return &m, nil
}

// Members lists a lab's members, admins first.
func (s *Store) Members(ctx context.Context, labID string) ([]models.LabMember, error) {
	var members []models.LabMember
	if err := s.conn(ctx).
		Where("lab_id = ?", labID).
		Order("role ASC, created_at ASC").
		Find(&members).Error; err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// SetMemberRole changes the role of an existing member.
func (s *Store) SetMemberRole(ctx context.Context, labID, userID string, role models.LabRole) error {
	res := s.conn(ctx).Model(&models.LabMember{}).
		Where("lab_id = ? AND user_id = ?", labID, userID).
		Update("role", role)
	if res.Error != nil {
		return fmt.Errorf("update member role: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user %s in lab %s: %w", userID, labID, ErrNotFound)
	}
	return nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package inventory manages labs, their members, equipment units and the
// templates users keep in them. Mutations of shared lab state require the
// lab admin role.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/friendsincode/benchbook/internal/events"
	"github.com/friendsincode/benchbook/internal/models"
	"github.com/friendsincode/benchbook/internal/store"
)

// MaxUnitsPerCall bounds add and remove requests.
const MaxUnitsPerCall = 100

var (
	// ErrForbidden is returned when the caller lacks the role an operation needs.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = errors.New("invalid input")
)

// Service implements lab, equipment and template management.
type Service struct {
	store  *store.Store
	bus    events.Publisher
	logger zerolog.Logger
}

// NewService creates an inventory service.
func NewService(st *store.Store, bus events.Publisher, logger zerolog.Logger) *Service {
	if bus == nil {
		bus = events.Discard{}
	}
	return &Service{
		store:  st,
		bus:    bus,
		logger: logger.With().Str("component", "inventory").Logger(),
	}
}

// CreateLab registers a lab with the caller as its admin.
func (s *Service) CreateLab(ctx context.Context, userID, name, description string) (*models.Lab, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: lab name is required", ErrInvalidInput)
	}
	lab, err := s.store.CreateLab(ctx, name, strings.TrimSpace(description), userID)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(events.EventLabCreated, events.Payload{
		"lab_id":  lab.ID,
		"user_id": userID,
		"name":    lab.Name,
	})
	s.logger.Info().Str("lab_id", lab.ID).Str("name", lab.Name).Str("user_id", userID).Msg("lab created")
	return lab, nil
}

// JoinLab adds the caller as a member. ref is a lab id or a lab name.
func (s *Service) JoinLab(ctx context.Context, userID, ref string) (*models.Lab, *models.LabMember, error) {
	lab, err := s.resolveLab(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	member, err := s.store.AddMember(ctx, lab.ID, userID, models.LabRoleMember)
	if err != nil {
		return nil, nil, err
	}
	s.bus.Publish(events.EventLabJoined, events.Payload{
		"lab_id":  lab.ID,
		"user_id": userID,
		"role":    string(member.Role),
	})
	return lab, member, nil
}

// GrantAdmin makes another member of the lab an admin.
func (s *Service) GrantAdmin(ctx context.Context, actorID, labID, userID string) (*models.LabMember, error) {
	if err := s.RequireAdmin(ctx, labID, actorID); err != nil {
		return nil, err
	}
	if _, err := s.store.Member(ctx, labID, userID); err != nil {
		return nil, err
	}
	if err := s.store.SetMemberRole(ctx, labID, userID, models.LabRoleAdmin); err != nil {
		return nil, err
	}
	return s.store.Member(ctx, labID, userID)
}

// Labs lists the labs the user belongs to.
func (s *Service) Labs(ctx context.Context, userID string) ([]models.Lab, error) {
	return s.store.UserLabs(ctx, userID)
}

// Lab returns a lab the user belongs to.
func (s *Service) Lab(ctx context.Context, userID, labID string) (*models.Lab, error) {
	if _, err := s.RequireMember(ctx, labID, userID); err != nil {
		return nil, err
	}
	return s.store.GetLab(ctx, labID)
}

// Members lists the members of a lab the user belongs to.
func (s *Service) Members(ctx context.Context, userID, labID string) ([]models.LabMember, error) {
	if _, err := s.RequireMember(ctx, labID, userID); err != nil {
		return nil, err
	}
	return s.store.Members(ctx, labID)
}

// RequireMember returns the caller's membership or ErrForbidden.
func (s *Service) RequireMember(ctx context.Context, labID, userID string) (*models.LabMember, error) {
	if _, err := s.store.GetLab(ctx, labID); err != nil {
		return nil, err
	}
	m, err := s.store.Member(ctx, labID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: not a member of lab %s", ErrForbidden, labID)
	}
	return m, err
}

// RequireAdmin returns ErrForbidden unless the caller is a lab admin.
func (s *Service) RequireAdmin(ctx context.Context, labID, userID string) error {
	m, err := s.RequireMember(ctx, labID, userID)
	if err != nil {
		return err
	}
	if m.Role != models.LabRoleAdmin {
		return fmt.Errorf("%w: admin role required in lab %s", ErrForbidden, labID)
	}
	return nil
}

func (s *Service) resolveLab(ctx context.Context, ref string) (*models.Lab, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: lab is required", ErrInvalidInput)
	}
	lab, err := s.store.GetLab(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return s.store.FindLabByName(ctx, ref)
	}
	return lab, err
}

func validCount(count int) error {
	if count < 1 || count > MaxUnitsPerCall {
		return fmt.Errorf("%w: count must be between 1 and %d", ErrInvalidInput, MaxUnitsPerCall)
	}
	return nil
}

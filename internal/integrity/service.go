/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package integrity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/benchbook/internal/events"
	"github.com/friendsincode/benchbook/internal/models"
	"github.com/friendsincode/benchbook/internal/telemetry"
)

type FindingType string

const (
	FindingReservationOverlap      FindingType = "reservation_overlap"
	FindingOrphanReservation       FindingType = "orphan_reservation"
	FindingInactiveUnitReservation FindingType = "inactive_unit_reservation"
)

var allFindingTypes = []FindingType{
	FindingReservationOverlap,
	FindingOrphanReservation,
	FindingInactiveUnitReservation,
}

type Finding struct {
	ID         string         `json:"id"`
	Type       FindingType    `json:"type"`
	Severity   string         `json:"severity"`
	Summary    string         `json:"summary"`
	LabID      string         `json:"lab_id"`
	ResourceID string         `json:"resource_id"`
	Repairable bool           `json:"repairable"`
	Details    map[string]any `json:"details,omitempty"`
}

type Report struct {
	GeneratedAt time.Time           `json:"generated_at"`
	LabID       string              `json:"lab_id,omitempty"`
	Total       int                 `json:"total"`
	ByType      map[FindingType]int `json:"by_type"`
	Findings    []Finding           `json:"findings"`
}

type RepairInput struct {
	Type       FindingType `json:"type"`
	LabID      string      `json:"lab_id"`
	ResourceID string      `json:"resource_id"`
	UserID     string      `json:"-"`
}

type RepairResult struct {
	Changed bool           `json:"changed"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type Service struct {
	db     *gorm.DB
	bus    events.Publisher
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(db *gorm.DB, bus events.Publisher, logger zerolog.Logger) *Service {
	if bus == nil {
		bus = events.Discard{}
	}
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "integrity").Logger(),
		now:    time.Now,
	}
}

// Scan audits reservations of one lab, or of every lab when labID is empty.
func (s *Service) Scan(ctx context.Context, labID string) (*Report, error) {
	findings := make([]Finding, 0, 16)

	for _, scan := range []func(context.Context, string) ([]Finding, error){
		s.scanOverlaps,
		s.scanOrphanReservations,
		s.scanInactiveUnitReservations,
	} {
		added, err := scan(ctx, labID)
		if err != nil {
			return nil, err
		}
		findings = append(findings, added...)
	}

	byType := make(map[FindingType]int)
	for _, f := range findings {
		byType[f.Type]++
	}
	if labID == "" {
		for _, ft := range allFindingTypes {
			telemetry.IntegrityFindings.WithLabelValues(string(ft)).Set(float64(byType[ft]))
		}
	}

	report := &Report{
		GeneratedAt: s.now().UTC(),
		LabID:       labID,
		Total:       len(findings),
		ByType:      byType,
		Findings:    findings,
	}

	if report.Total > 0 {
		s.logger.Warn().Str("lab_id", labID).Int("total_findings", report.Total).Interface("by_type", byType).Msg("integrity scan completed with findings")
	} else {
		s.logger.Info().Str("lab_id", labID).Msg("integrity scan completed with no findings")
	}

	return report, nil
}

// Repair fixes a single repairable finding. Repairs are idempotent.
func (s *Service) Repair(ctx context.Context, input RepairInput) (RepairResult, error) {
	var (
		result RepairResult
		err    error
	)
	switch input.Type {
	case FindingReservationOverlap:
		result, err = s.repairOverlap(ctx, input)
	case FindingOrphanReservation:
		result, err = s.repairOrphanReservation(ctx, input)
	default:
		return RepairResult{}, fmt.Errorf("unsupported finding type: %s", input.Type)
	}
	if err != nil || !result.Changed {
		return result, err
	}

	s.bus.Publish(events.EventIntegrityRepaired, events.Payload{
		"lab_id":       input.LabID,
		"user_id":      input.UserID,
		"finding_type": string(input.Type),
		"resource_id":  input.ResourceID,
		"message":      result.Message,
	})
	return result, nil
}

func (s *Service) scoped(ctx context.Context, labID, column string) *gorm.DB {
	q := s.db.WithContext(ctx)
	if labID != "" {
		q = q.Where(column+" = ?", labID)
	}
	return q
}

func (s *Service) scanOverlaps(ctx context.Context, labID string) ([]Finding, error) {
	type row struct {
		LabID      string
		UnitID     string
		KeepID     string
		DropID     string
		FirstTask  string
		SecondTask string
	}
	var rows []row
	// the later booking is the one that should not have been committed
	if err := s.scoped(ctx, labID, "a.lab_id").
		Table("reservations a").
		Select(`
			a.lab_id, a.unit_id,
			CASE WHEN a.created_at > b.created_at THEN b.id ELSE a.id END AS keep_id,
			CASE WHEN a.created_at > b.created_at THEN a.id ELSE b.id END AS drop_id,
			a.task_id AS first_task, b.task_id AS second_task
		`).
		Joins("JOIN reservations b ON b.unit_id = a.unit_id AND a.id < b.id").
		Where("a.starts_at < b.ends_at AND a.ends_at > b.starts_at").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	findings := make([]Finding, 0, len(rows))
	for _, r := range rows {
		findings = append(findings, Finding{
			ID:         findingID(FindingReservationOverlap, r.LabID, r.DropID),
			Type:       FindingReservationOverlap,
			Severity:   "critical",
			Summary:    "Two reservations hold the same unit at the same time",
			LabID:      r.LabID,
			ResourceID: r.DropID,
			Repairable: true,
			Details: map[string]any{
				"unit_id":        r.UnitID,
				"kept_id":        r.KeepID,
				"first_task_id":  r.FirstTask,
				"second_task_id": r.SecondTask,
			},
		})
	}
	return findings, nil
}

func (s *Service) scanOrphanReservations(ctx context.Context, labID string) ([]Finding, error) {
	type row struct {
		ID     string
		LabID  string
		UnitID string
		TaskID string
		UserID string
	}
	var rows []row
	if err := s.scoped(ctx, labID, "r.lab_id").
		Table("reservations r").
		Select("r.id, r.lab_id, r.unit_id, r.task_id, r.user_id").
		Joins("LEFT JOIN equipment_units u ON u.id = r.unit_id").
		Where("u.id IS NULL").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	findings := make([]Finding, 0, len(rows))
	for _, r := range rows {
		findings = append(findings, Finding{
			ID:         findingID(FindingOrphanReservation, r.LabID, r.ID),
			Type:       FindingOrphanReservation,
			Severity:   "medium",
			Summary:    "Reservation references a unit that no longer exists",
			LabID:      r.LabID,
			ResourceID: r.ID,
			Repairable: true,
			Details: map[string]any{
				"unit_id": r.UnitID,
				"task_id": r.TaskID,
				"user_id": r.UserID,
			},
		})
	}
	return findings, nil
}

func (s *Service) scanInactiveUnitReservations(ctx context.Context, labID string) ([]Finding, error) {
	type row struct {
		ID     string
		LabID  string
		UnitID string
		TaskID string
	}
	var rows []row
	if err := s.scoped(ctx, labID, "r.lab_id").
		Table("reservations r").
		Select("r.id, r.lab_id, r.unit_id, r.task_id").
		Joins("JOIN equipment_units u ON u.id = r.unit_id").
		Where("u.active = ? AND r.starts_at >= ?", false, s.now().UTC()).
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	findings := make([]Finding, 0, len(rows))
	for _, r := range rows {
		findings = append(findings, Finding{
			ID:         findingID(FindingInactiveUnitReservation, r.LabID, r.ID),
			Type:       FindingInactiveUnitReservation,
			Severity:   "low",
			Summary:    "Upcoming reservation is on a deactivated unit",
			LabID:      r.LabID,
			ResourceID: r.ID,
			Details: map[string]any{
				"unit_id": r.UnitID,
				"task_id": r.TaskID,
			},
		})
	}
	return findings, nil
}

// repairOverlap removes the whole placement the conflicting reservation belongs to.
func (s *Service) repairOverlap(ctx context.Context, input RepairInput) (RepairResult, error) {
	var res models.Reservation
	if err := s.db.WithContext(ctx).First(&res, "id = ?", input.ResourceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return RepairResult{Changed: false, Message: "reservation already removed"}, nil
		}
		return RepairResult{}, err
	}

	deleted := s.db.WithContext(ctx).
		Where("user_id = ? AND task_id = ?", res.UserID, res.TaskID).
		Delete(&models.Reservation{})
	if deleted.Error != nil {
		return RepairResult{}, deleted.Error
	}

	s.logger.Warn().
		Str("reservation_id", res.ID).
		Str("task_id", res.TaskID).
		Int64("removed", deleted.RowsAffected).
		Msg("removed conflicting placement")

	return RepairResult{
		Changed: true,
		Message: "conflicting placement removed",
		Details: map[string]any{
			"task_id": res.TaskID,
			"user_id": res.UserID,
			"removed": deleted.RowsAffected,
		},
	}, nil
}

func (s *Service) repairOrphanReservation(ctx context.Context, input RepairInput) (RepairResult, error) {
	result := s.db.WithContext(ctx).
		Where("id = ? AND NOT EXISTS (SELECT 1 FROM equipment_units u WHERE u.id = reservations.unit_id)", input.ResourceID).
		Delete(&models.Reservation{})
	if result.Error != nil {
		return RepairResult{}, result.Error
	}
	if result.RowsAffected == 0 {
		return RepairResult{Changed: false, Message: "no orphan reservation"}, nil
	}
	return RepairResult{Changed: true, Message: "orphan reservation deleted"}, nil
}

func findingID(t FindingType, labID, resourceID string) string {
	return fmt.Sprintf("%s|%s|%s", t, labID, resourceID)
}

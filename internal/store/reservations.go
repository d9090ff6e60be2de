/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/friendsincode/benchbook/internal/models"
	"github.com/friendsincode/benchbook/internal/planner"
)

// UnitReservations returns the reserved intervals of a unit that overlap [from, to).
func (s *Store) UnitReservations(ctx context.Context, unitID string, from, to time.Time) ([]planner.Interval, error) {
	var rows []models.Reservation
	if err := s.conn(ctx).
		Select("starts_at", "ends_at").
		Where("unit_id = ? AND starts_at < ? AND ends_at > ?", unitID, to.UTC(), from.UTC()).
		Order("starts_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list unit reservations: %w", err)
	}

	out := make([]planner.Interval, len(rows))
	for i, r := range rows {
		out[i] = r.Interval()
	}
	return out, nil
}

// HasOverlap reports whether any reservation on the unit intersects iv.
func (s *Store) HasOverlap(ctx context.Context, unitID string, iv planner.Interval) (bool, error) {
	var count int64
	if err := s.conn(ctx).Model(&models.Reservation{}).
		Where("unit_id = ? AND starts_at < ? AND ends_at > ?", unitID, iv.End.UTC(), iv.Start.UTC()).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("check overlap: %w", err)
	}
	return count > 0, nil
}

// InsertReservation writes one reservation row.
func (s *Store) InsertReservation(ctx context.Context, r *models.Reservation) error {
	r.StartsAt = r.StartsAt.UTC()
	r.EndsAt = r.EndsAt.UTC()
	if !r.EndsAt.After(r.StartsAt) {
		return fmt.Errorf("reservation %s has empty range", r.ID)
	}
	if err := s.conn(ctx).Create(r).Error; err != nil {
		if isOverlapViolation(err) {
			return fmt.Errorf("insert reservation on unit %s during %s: %w", r.UnitID, r.Interval(), ErrOverlap)
		}
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

// sqlStateOverlap is raised by the postgres reservation overlap guard.
const sqlStateOverlap = "23P01"

func isOverlapViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateOverlap
}

// DeleteTaskReservations removes every reservation the user holds for a task.
func (s *Store) DeleteTaskReservations(ctx context.Context, userID, taskID string) (int64, error) {
	res := s.conn(ctx).
		Where("user_id = ? AND task_id = ?", userID, taskID).
		Delete(&models.Reservation{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete task reservations: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// TaskReservations lists the reservations a user holds for a task in start order.
func (s *Store) TaskReservations(ctx context.Context, userID, taskID string) ([]models.Reservation, error) {
	var rows []models.Reservation
	if err := s.conn(ctx).
		Where("user_id = ? AND task_id = ?", userID, taskID).
		Order("starts_at ASC, branch ASC, step_index ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list task reservations: %w", err)
	}
	return rows, nil
}

// UserReservations lists a user's reservations ending after since.
func (s *Store) UserReservations(ctx context.Context, userID string, since time.Time) ([]models.Reservation, error) {
	var rows []models.Reservation
	if err := s.conn(ctx).
		Where("user_id = ? AND ends_at > ?", userID, since.UTC()).
		Order("starts_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list user reservations: %w", err)
	}
	return rows, nil
}

// LabReservations lists the reservations of a lab that overlap [from, to).
func (s *Store) LabReservations(ctx context.Context, labID string, from, to time.Time) ([]models.Reservation, error) {
	var rows []models.Reservation
	if err := s.conn(ctx).
		Where("lab_id = ? AND starts_at < ? AND ends_at > ?", labID, to.UTC(), from.UTC()).
		Order("unit_id ASC, starts_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list lab reservations: %w", err)
	}
	return rows, nil
}

// DueReminders returns unreminded reservations starting in [from, to).
func (s *Store) DueReminders(ctx context.Context, from, to time.Time) ([]models.Reservation, error) {
	var rows []models.Reservation
	if err := s.conn(ctx).
		Where("reminder_sent_at IS NULL AND starts_at >= ? AND starts_at < ?", from.UTC(), to.UTC()).
		Order("starts_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	return rows, nil
}

// MarkReminded stamps reminder_sent_at. It reports false when another worker got there first.
func (s *Store) MarkReminded(ctx context.Context, reservationID string, at time.Time) (bool, error) {
	res := s.conn(ctx).Model(&models.Reservation{}).
		Where("id = ? AND reminder_sent_at IS NULL", reservationID).
		Update("reminder_sent_at", at.UTC())
	if res.Error != nil {
		return false, fmt.Errorf("mark reminded: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

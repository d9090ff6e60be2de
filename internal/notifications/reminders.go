/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package notifications sends step reminders shortly before reserved steps start.
package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/benchbook/internal/events"
	"github.com/friendsincode/benchbook/internal/models"
	"github.com/friendsincode/benchbook/internal/telemetry"
)

// Store is the persistence the reminder loop needs.
type Store interface {
	DueReminders(ctx context.Context, from, to time.Time) ([]models.Reservation, error)
	MarkReminded(ctx context.Context, reservationID string, at time.Time) (bool, error)
	CreateNotification(ctx context.Context, n *models.Notification) error
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Config holds reminder settings.
type Config struct {
	// Lead is how long before a step starts the reminder goes out.
	Lead time.Duration
	// CheckInterval is the polling period and the width of each due window.
	CheckInterval time.Duration
	// Location renders local times in reminder text.
	Location *time.Location
}

// Service polls for reservations that are about to start.
type Service struct {
	store  Store
	bus    events.Publisher
	config Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a reminder service.
func NewService(store Store, bus events.Publisher, config Config, logger zerolog.Logger) *Service {
	if config.Lead <= 0 {
		config.Lead = 3 * time.Minute
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Minute
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if bus == nil {
		bus = events.Discard{}
	}
	return &Service{
		store:  store,
		bus:    bus,
		config: config,
		logger: logger.With().Str("component", "notifications").Logger(),
		now:    time.Now,
	}
}

// Run checks for due reminders every CheckInterval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("lead", s.config.Lead).
		Dur("interval", s.config.CheckInterval).
		Msg("reminder loop started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("reminder loop stopping")
			return nil
		case <-ticker.C:
			if _, err := s.CheckReminders(ctx, s.now()); err != nil {
				s.logger.Error().Err(err).Msg("reminder check failed")
			}
		}
	}
}

// CheckReminders notifies owners of reservations starting in
// [now, now+lead+interval). The window reaches back to now so a late tick or
// a leadership handover still catches steps that have not started yet. Each
// reservation is reminded at most once, even with several instances polling.
func (s *Service) CheckReminders(ctx context.Context, now time.Time) (int, error) {
	from := now
	to := now.Add(s.config.Lead + s.config.CheckInterval)

	due, err := s.store.DueReminders(ctx, from, to)
	if err != nil {
		telemetry.ReminderErrorsTotal.WithLabelValues("query").Inc()
		return 0, fmt.Errorf("load due reminders: %w", err)
	}

	sent := 0
	for _, r := range due {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		ok, err := s.remind(ctx, r, now)
		if err != nil {
			telemetry.ReminderErrorsTotal.WithLabelValues("notify").Inc()
			s.logger.Error().Err(err).Str("reservation_id", r.ID).Msg("failed to send reminder")
			continue
		}
		if ok {
			sent++
		}
	}

	if sent > 0 {
		s.logger.Debug().Int("sent", sent).Time("window_start", from).Msg("reminders sent")
	}
	return sent, nil
}

func (s *Service) remind(ctx context.Context, r models.Reservation, now time.Time) (bool, error) {
	claimed := false
	n := &models.Notification{
		UserID:           r.UserID,
		NotificationType: models.NotificationTypeStepReminder,
		Channel:          models.NotificationChannelInApp,
		Subject:          fmt.Sprintf("Step %q starts soon", r.StepName),
		Body:             s.body(r),
		Status:           models.NotificationStatusSent,
		SentAt:           &now,
		ReferenceType:    "reservation",
		ReferenceID:      r.ID,
		Metadata: map[string]any{
			"lab_id":  r.LabID,
			"task_id": r.TaskID,
			"unit_id": r.UnitID,
		},
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.store.MarkReminded(ctx, r.ID, now)
		if err != nil || !ok {
			return err
		}
		claimed = true
		return s.store.CreateNotification(ctx, n)
	})
	if err != nil || !claimed {
		return false, err
	}

	telemetry.RemindersSentTotal.Inc()
	s.bus.Publish(events.EventReservationReminder, events.Payload{
		"reservation_id":  r.ID,
		"notification_id": n.ID,
		"lab_id":          r.LabID,
		"task_id":         r.TaskID,
		"user_id":         r.UserID,
		"unit_id":         r.UnitID,
		"step_name":       r.StepName,
		"starts_at":       r.StartsAt,
	})
	return true, nil
}

func (s *Service) body(r models.Reservation) string {
	start := r.StartsAt.In(s.config.Location)
	end := r.EndsAt.In(s.config.Location)
	return fmt.Sprintf("Your step %q begins at %s and runs until %s.",
		r.StepName, start.Format("15:04"), end.Format("15:04"))
}

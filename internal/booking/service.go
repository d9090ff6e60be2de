/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package booking finds start times for tasks and turns placements into
// reservations, one lab at a time.
package booking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/friendsincode/benchbook/internal/events"
	"github.com/friendsincode/benchbook/internal/models"
	"github.com/friendsincode/benchbook/internal/planner"
	"github.com/friendsincode/benchbook/internal/telemetry"
)

const tracerName = "benchbook/booking"

// Options tune the service.
type Options struct {
	// HorizonDays limits bookable days to [today, today+HorizonDays). Zero disables the check.
	HorizonDays int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Placement is the result of a successful PlaceAndReserve.
type Placement struct {
	TaskID       string               `json:"task_id"`
	Assignment   *planner.Assignment  `json:"assignment"`
	Reservations []models.Reservation `json:"reservations"`
}

// Service is the booking entry point used by the API and CLI.
type Service struct {
	store     Store
	planner   *planner.Planner
	committer *Committer
	locker    LabLocker
	bus       events.Publisher
	opts      Options
	logger    zerolog.Logger

	slots singleflight.Group
}

// NewService wires a booking service. A nil locker serializes in-process only;
// a nil bus drops events.
func NewService(store Store, cfg planner.Config, locker LabLocker, bus events.Publisher, opts Options, logger zerolog.Logger) *Service {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if bus == nil {
		bus = events.Discard{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:     store,
		planner:   planner.New(store, store, cfg),
		committer: NewCommitter(store),
		locker:    locker,
		bus:       bus,
		opts:      opts,
		logger:    logger.With().Str("component", "booking").Logger(),
	}
}

// Planner exposes the underlying planner.
func (s *Service) Planner() *planner.Planner {
	return s.planner
}

// FindAvailableSlots lists the start/end pairs on day at which task fits in lab.
// Identical concurrent searches share one scan.
func (s *Service) FindAvailableSlots(ctx context.Context, task planner.Task, labID string, day time.Time) ([]planner.Interval, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "booking.FindAvailableSlots")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"lab_id": labID, "task_id": task.ID, "day": day})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := task.Validate(); err != nil {
		telemetry.SlotSearchesTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if err := s.checkHorizon(day); err != nil {
		return nil, err
	}

	key, err := slotKey(task, labID, s.planner.Config().Day(day))
	if err != nil {
		return nil, err
	}

	// The scan runs detached so one caller giving up does not fail the others.
	scanCtx := context.WithoutCancel(ctx)
	ch := s.slots.DoChan(key, func() (any, error) {
		start := time.Now()
		slots, err := s.planner.FindSlots(scanCtx, task, labID, day)
		telemetry.SlotSearchDuration.Observe(time.Since(start).Seconds())
		return slots, err
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			err := classify(res.Err)
			telemetry.SlotSearchesTotal.WithLabelValues(outcome(err)).Inc()
			telemetry.RecordError(span, err)
			return nil, err
		}
		slots := res.Val.([]planner.Interval)
		result := "found"
		if len(slots) == 0 {
			result = "empty"
		}
		telemetry.SlotSearchesTotal.WithLabelValues(result).Inc()
		return append([]planner.Interval(nil), slots...), nil
	}
}

// Preview computes the placement PlaceAndReserve would make at start without writing anything.
func (s *Service) Preview(ctx context.Context, task planner.Task, labID string, start time.Time) (*planner.Assignment, error) {
	if err := s.checkHorizon(start); err != nil {
		return nil, err
	}
	a, err := s.planner.Plan(ctx, task, labID, start)
	if err != nil {
		return nil, classify(err)
	}
	return a, nil
}

// PlaceAndReserve plans task at start and commits the reservations. Planning
// and commit run under the lab lock so two placements in one lab never
// interleave.
func (s *Service) PlaceAndReserve(ctx context.Context, task planner.Task, labID, userID string, start time.Time) (*Placement, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "booking.PlaceAndReserve")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"lab_id": labID, "task_id": task.ID, "user_id": userID, "start": start})

	began := time.Now()
	placement, err := s.placeAndReserve(ctx, task, labID, userID, start)
	telemetry.PlacementDuration.Observe(time.Since(began).Seconds())
	telemetry.PlacementsTotal.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		telemetry.RecordError(span, err)
		s.logger.Debug().Err(err).Str("lab_id", labID).Str("task_id", task.ID).Time("start", start).Msg("placement rejected")
		return nil, err
	}

	s.logger.Info().
		Str("lab_id", labID).
		Str("task_id", placement.TaskID).
		Str("user_id", userID).
		Time("start", placement.Assignment.Start).
		Time("end", placement.Assignment.End).
		Int("reservations", len(placement.Reservations)).
		Msg("task reserved")
	return placement, nil
}

func (s *Service) placeAndReserve(ctx context.Context, task planner.Task, labID, userID string, start time.Time) (*Placement, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkHorizon(start); err != nil {
		return nil, err
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	waitStart := time.Now()
	unlock, err := s.locker.Lock(ctx, labID)
	telemetry.LabLockWaitDuration.WithLabelValues(lockerBackend(s.locker)).Observe(time.Since(waitStart).Seconds())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: acquire lab lock: %w", ErrStore, err)
	}
	defer unlock()

	a, err := s.planner.Plan(ctx, task, labID, start)
	if err != nil {
		return nil, classify(err)
	}

	rows, err := s.committer.Commit(ctx, a, userID, task)
	if err != nil {
		return nil, err
	}
	telemetry.ReservationsCreatedTotal.Add(float64(len(rows)))

	s.bus.Publish(events.EventReservationCreated, events.Payload{
		"lab_id":       labID,
		"task_id":      task.ID,
		"task_name":    task.Name,
		"user_id":      userID,
		"start":        a.Start,
		"end":          a.End,
		"reservations": len(rows),
	})

	return &Placement{TaskID: task.ID, Assignment: a, Reservations: rows}, nil
}

// CancelReservations removes every reservation the user holds for the task.
// It returns ErrNotFound when there was nothing to remove.
func (s *Service) CancelReservations(ctx context.Context, userID, taskID string) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "booking.CancelReservations")
	defer span.End()

	n, err := s.store.DeleteTaskReservations(ctx, userID, taskID)
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, fmt.Errorf("%w: %w", ErrStore, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: task %s for user %s", ErrNotFound, taskID, userID)
	}
	telemetry.ReservationsCancelledTotal.Add(float64(n))

	s.bus.Publish(events.EventReservationCancelled, events.Payload{
		"task_id":      taskID,
		"user_id":      userID,
		"reservations": n,
	})
	s.logger.Info().Str("task_id", taskID).Str("user_id", userID).Int64("reservations", n).Msg("task cancelled")
	return n, nil
}

func (s *Service) checkHorizon(day time.Time) error {
	if s.opts.HorizonDays <= 0 {
		return nil
	}
	cfg := s.planner.Config()
	today := cfg.Day(s.opts.Now())
	target := cfg.Day(day)
	last := today.Start.AddDate(0, 0, s.opts.HorizonDays)
	if target.Start.Before(today.Start) || !target.Start.Before(last) {
		return fmt.Errorf("%w: %s", ErrOutsideHorizon, target.Start.Format("2006-01-02"))
	}
	return nil
}

// classify keeps planner errors as they are and files everything else under ErrStore.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, planner.ErrEmptyTask),
		errors.Is(err, planner.ErrInvalidTask),
		errors.Is(err, planner.ErrUnknownEquipmentType),
		errors.Is(err, planner.ErrInfeasible),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, planner.ErrInfeasible):
		return "infeasible"
	case errors.Is(err, ErrRaceLost):
		return "race_lost"
	case errors.Is(err, ErrStore):
		return "store_error"
	case errors.Is(err, planner.ErrUnknownEquipmentType):
		return "unknown_equipment_type"
	case errors.Is(err, planner.ErrEmptyTask), errors.Is(err, planner.ErrInvalidTask):
		return "invalid"
	case errors.Is(err, ErrOutsideHorizon):
		return "outside_horizon"
	default:
		return "cancelled"
	}
}

func lockerBackend(l LabLocker) string {
	if b, ok := l.(interface{ Backend() string }); ok {
		return b.Backend()
	}
	return "custom"
}

func slotKey(task planner.Task, labID string, window planner.Interval) (string, error) {
	raw, err := json.Marshal(task.Branches)
	if err != nil {
		return "", fmt.Errorf("fingerprint task: %w", err)
	}
	sum := sha256.Sum256(raw)
	return labID + "|" + hex.EncodeToString(sum[:8]) + "|" + window.Start.UTC().Format(time.RFC3339), nil
}

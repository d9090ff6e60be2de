/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/friendsincode/benchbook/internal/db"
	"github.com/friendsincode/benchbook/internal/events"
	"github.com/friendsincode/benchbook/internal/models"
	"github.com/friendsincode/benchbook/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := database.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Migrate(database))
	return store.New(database, nil, zerolog.Nop())
}

func reservation(id string, start time.Time) *models.Reservation {
	return &models.Reservation{
		ID: id, LabID: "lab-1", UnitID: "unit-1", TaskID: "task-1", UserID: "alice",
		StepName: "Imaging", StartsAt: start, EndsAt: start.Add(27 * time.Minute),
	}
}

func TestCheckRemindersWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 8, 56, 0, 0, time.UTC)

	// window is [08:56, 09:00)
	require.NoError(t, s.InsertReservation(ctx, reservation("due", now.Add(3*time.Minute+30*time.Second))))
	require.NoError(t, s.InsertReservation(ctx, reservation("missed-tick", now.Add(2*time.Minute))))
	require.NoError(t, s.InsertReservation(ctx, reservation("started", now.Add(-time.Minute))))
	require.NoError(t, s.InsertReservation(ctx, reservation("too-late", now.Add(4*time.Minute))))

	bus := events.NewBus()
	sub := bus.Subscribe(events.EventReservationReminder)
	svc := NewService(s, bus, Config{Lead: 3 * time.Minute, CheckInterval: time.Minute, Location: time.FixedZone("UTC+10", 10*3600)}, zerolog.Nop())

	sent, err := svc.CheckReminders(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	reminded := map[any]bool{}
	for i := 0; i < 2; i++ {
		select {
		case p := <-sub:
			assert.Equal(t, "alice", p["user_id"])
			reminded[p["reservation_id"]] = true
		default:
			t.Fatal("expected reminder event")
		}
	}
	assert.Equal(t, map[any]bool{"due": true, "missed-tick": true}, reminded)

	notes, err := s.UserNotifications(ctx, "alice", true, 0)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	for _, n := range notes {
		assert.Equal(t, models.NotificationTypeStepReminder, n.NotificationType)
		if n.ReferenceID == "due" {
			assert.Contains(t, n.Body, "18:59")
		}
	}

	// second pass over the same window sends nothing
	sent, err = svc.CheckReminders(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, sent)

	require.NoError(t, s.MarkNotificationRead(ctx, "alice", notes[0].ID, now))
	unread, err := s.UserNotifications(ctx, "alice", true, 0)
	require.NoError(t, err)
	assert.Len(t, unread, 1)
}

func TestRunStopsOnCancel(t *testing.T) {
	svc := NewService(newTestStore(t), nil, Config{CheckInterval: 10 * time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reminder loop did not stop")
	}
}

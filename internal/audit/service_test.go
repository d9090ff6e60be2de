/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

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

	"github.com/friendsincode/benchbook/internal/events"
	"github.com/friendsincode/benchbook/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := database.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.AutoMigrate(&models.AuditLog{}))
	return database
}

func TestServiceRecordsPublishedEvents(t *testing.T) {
	database := newTestDB(t)
	bus := events.NewBus()
	svc := NewService(database, bus, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)

	bus.Publish(events.EventReservationCreated, events.Payload{
		"lab_id": "lab-1", "user_id": "alice", "task_id": "task-1", "reservations": 2,
	})
	bus.Publish(events.EventInventoryUpdated, events.Payload{
		"lab_id": "lab-1", "user_id": "bob", "action": "remove", "equipment_type": "Scope", "count": 1,
	})

	require.Eventually(t, func() bool {
		var n int64
		database.Model(&models.AuditLog{}).Count(&n)
		return n == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	svc.Wait()

	action := models.AuditActionReservationCreate
	logs, total, err := svc.Query(context.Background(), QueryFilters{Action: &action})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	entry := logs[0]
	require.NotNil(t, entry.UserID)
	assert.Equal(t, "alice", *entry.UserID)
	require.NotNil(t, entry.LabID)
	assert.Equal(t, "lab-1", *entry.LabID)
	assert.Equal(t, "task", entry.ResourceType)
	assert.Equal(t, "task-1", entry.ResourceID)
	assert.NotContains(t, entry.Details, "user_id")

	user := "bob"
	logs, _, err = svc.Query(context.Background(), QueryFilters{UserID: &user})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditActionEquipmentRemove, logs[0].Action)
	assert.Equal(t, "Scope", logs[0].ResourceID)
}

func TestQueryPaginatesNewestFirst(t *testing.T) {
	database := newTestDB(t)
	svc := NewService(database, events.NewBus(), zerolog.Nop())
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Log(ctx, &models.AuditLog{
			Action:    models.AuditActionLabJoin,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	logs, total, err := svc.Query(ctx, QueryFilters{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	require.Len(t, logs, 2)
	assert.True(t, logs[0].Timestamp.Equal(base.Add(3*time.Minute)))
	assert.True(t, logs[1].Timestamp.Equal(base.Add(2*time.Minute)))

	from := base.Add(4 * time.Minute)
	logs, _, err = svc.Query(ctx, QueryFilters{StartTime: &from})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

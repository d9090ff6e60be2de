/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"testing"

	"github.com/friendsincode/benchbook/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return database
}

func TestMigrateCreatesTables(t *testing.T) {
	database := openTestDB(t)
	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	for _, model := range []any{
		&models.Lab{},
		&models.LabMember{},
		&models.EquipmentUnit{},
		&models.Template{},
		&models.Reservation{},
		&models.Notification{},
		&models.AuditLog{},
	} {
		if !database.Migrator().HasTable(model) {
			t.Fatalf("expected table for %T", model)
		}
	}

	// Running twice is a no-op.
	if err := Migrate(database); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestMigrateNormalizesLabRoles(t *testing.T) {
	database := openTestDB(t)
	if err := Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	rows := []models.LabMember{
		{ID: "m1", LabID: "lab", UserID: "u1", Role: "Owner"},
		{ID: "m2", LabID: "lab", UserID: "u2", Role: "technician"},
		{ID: "m3", LabID: "lab", UserID: "u3", Role: models.LabRoleAdmin},
	}
	if err := database.Create(&rows).Error; err != nil {
		t.Fatalf("seed members: %v", err)
	}

	if err := normalizeLabRoles(database); err != nil {
		t.Fatalf("normalize: %v", err)
	}

	want := map[string]models.LabRole{"u1": models.LabRoleAdmin, "u2": models.LabRoleMember, "u3": models.LabRoleAdmin}
	var got []models.LabMember
	if err := database.Find(&got).Error; err != nil {
		t.Fatalf("load members: %v", err)
	}
	for _, m := range got {
		if m.Role != want[m.UserID] {
			t.Fatalf("user %s: role %q, want %q", m.UserID, m.Role, want[m.UserID])
		}
	}
}

func TestCallbacksRegister(t *testing.T) {
	database := openTestDB(t)
	if err := RegisterCallbacks(database); err != nil {
		t.Fatalf("register callbacks: %v", err)
	}
	if err := Migrate(database); err != nil {
		t.Fatalf("migrate with callbacks: %v", err)
	}
	var count int64
	if err := database.Model(&models.Lab{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	UpdateConnectionMetrics(database)
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/benchbook/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		// Labs and membership
		&models.Lab{},
		&models.LabMember{},

		// Equipment and task definitions
		&models.EquipmentUnit{},
		&models.Template{},

		// Bookings
		&models.Reservation{},

		// Supporting records
		&models.Notification{},
		&models.AuditLog{},
	); err != nil {
		return err
	}

	if err := applyPostgresReservationOverlapGuard(database); err != nil {
		return err
	}
	if err := normalizeLabRoles(database); err != nil {
		return err
	}

	return nil
}

// applyPostgresReservationOverlapGuard rejects overlapping reservations on a unit
// at the database level. Other backends rely on the lab lock and the commit check.
func applyPostgresReservationOverlapGuard(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
CREATE OR REPLACE FUNCTION prevent_unit_reservation_overlap()
RETURNS trigger
LANGUAGE plpgsql
AS $$
BEGIN
  IF NEW.ends_at <= NEW.starts_at THEN
    RAISE EXCEPTION 'reservation end must be after start'
      USING ERRCODE = '23514';
  END IF;

  IF EXISTS (
    SELECT 1
    FROM reservations r
    WHERE r.unit_id = NEW.unit_id
      AND r.id <> NEW.id
      AND tstzrange(r.starts_at, r.ends_at, '[)') && tstzrange(NEW.starts_at, NEW.ends_at, '[)')
  ) THEN
    RAISE EXCEPTION 'overlapping reservation on unit %', NEW.unit_id
      USING ERRCODE = '23P01';
  END IF;

  RETURN NEW;
END;
$$;

DROP TRIGGER IF EXISTS trg_prevent_unit_reservation_overlap ON reservations;

CREATE TRIGGER trg_prevent_unit_reservation_overlap
BEFORE INSERT OR UPDATE OF unit_id, starts_at, ends_at
ON reservations
FOR EACH ROW
EXECUTE FUNCTION prevent_unit_reservation_overlap();
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres reservation overlap guard: %w", err)
	}

	return nil
}

// normalizeLabRoles folds hand-edited role values onto admin/member.
func normalizeLabRoles(database *gorm.DB) error {
	if err := database.Exec("UPDATE lab_members SET role = ? WHERE LOWER(TRIM(role)) IN ?", models.LabRoleAdmin, []string{"admin", "owner", "manager"}).Error; err != nil {
		return fmt.Errorf("normalize lab admin role: %w", err)
	}
	if err := database.Exec("UPDATE lab_members SET role = ? WHERE role <> ?", models.LabRoleMember, models.LabRoleAdmin).Error; err != nil {
		return fmt.Errorf("normalize lab member role: %w", err)
	}
	return nil
}

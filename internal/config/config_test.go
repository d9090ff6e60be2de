/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("BENCHBOOK_DB_DSN", "file::memory:?cache=shared")
	t.Setenv("BENCHBOOK_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("BENCHBOOK_TIMEZONE", "UTC+10")
}

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	setRequired(t)
	t.Setenv("BENCHBOOK_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBDSN == "" {
		t.Fatal("expected DB DSN to be set")
	}
	if cfg.JWTSigningKey != "supersecret" {
		t.Fatalf("unexpected jwt signing key: %q", cfg.JWTSigningKey)
	}
	if cfg.DBBackend != DatabaseSQLite {
		t.Fatalf("expected sqlite default backend, got %q", cfg.DBBackend)
	}
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DayStart != 8*time.Hour || cfg.DayEnd != 17*time.Hour {
		t.Fatalf("unexpected working day %s-%s", cfg.DayStart, cfg.DayEnd)
	}
	if cfg.SnapMinutes != 30 || cfg.ProbeMinutes != 1 || cfg.RefineMinutes != 15 {
		t.Fatalf("unexpected scan steps %d/%d/%d", cfg.SnapMinutes, cfg.ProbeMinutes, cfg.RefineMinutes)
	}
	if cfg.ReminderLead != 3*time.Minute {
		t.Fatalf("unexpected reminder lead %s", cfg.ReminderLead)
	}
	if cfg.BookingHorizonDays != 4 {
		t.Fatalf("unexpected horizon %d", cfg.BookingHorizonDays)
	}
	if _, off := time.Date(2026, 3, 2, 0, 0, 0, 0, cfg.Location).Zone(); off != 10*3600 {
		t.Fatalf("expected +10h offset, got %d", off)
	}

	pc := cfg.Planner()
	if err := pc.Validate(); err != nil {
		t.Fatalf("planner config invalid: %v", err)
	}
}

func TestLoadWorkingDayOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("BENCHBOOK_DAY_START", "07:30")
	t.Setenv("BENCHBOOK_DAY_END", "18:00")
	t.Setenv("BENCHBOOK_REMINDER_LEAD", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DayStart != 7*time.Hour+30*time.Minute {
		t.Fatalf("unexpected day start %s", cfg.DayStart)
	}
	if cfg.ReminderLead != 5*time.Minute {
		t.Fatalf("bare minutes not accepted: %s", cfg.ReminderLead)
	}
}

func TestLoadRejectsInvertedDay(t *testing.T) {
	setRequired(t)
	t.Setenv("BENCHBOOK_DAY_START", "17:00")
	t.Setenv("BENCHBOOK_DAY_END", "08:00")

	if _, err := Load(); err == nil {
		t.Fatal("expected inverted working day to fail")
	}
}

func TestLoadRejectsUnknownBackends(t *testing.T) {
	for _, tc := range []struct{ key, value string }{
		{"BENCHBOOK_DB_BACKEND", "oracle"},
		{"BENCHBOOK_LAB_LOCK_BACKEND", "zookeeper"},
		{"BENCHBOOK_EVENT_BUS", "kafka"},
	} {
		t.Run(tc.key, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%s to fail", tc.key, tc.value)
			}
		})
	}
}

func TestLoadLeaderElectionRequiresSharedLabLock(t *testing.T) {
	setRequired(t)
	t.Setenv("BENCHBOOK_LEADER_ELECTION_ENABLED", "true")

	if _, err := Load(); err == nil {
		t.Fatal("expected leader election with a local lab lock to fail")
	}

	t.Setenv("BENCHBOOK_LAB_LOCK_BACKEND", "redis")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected redis lab lock to be accepted: %v", err)
	}
	if !cfg.MultiInstance() {
		t.Fatal("expected multi-instance config")
	}
}

func TestLoadProductionRequiresLongSigningKey(t *testing.T) {
	setRequired(t)
	t.Setenv("BENCHBOOK_ENV", "production")

	if _, err := Load(); err == nil {
		t.Fatal("expected short signing key to be rejected in production")
	}

	t.Setenv("BENCHBOOK_JWT_SIGNING_KEY", "0123456789abcdef0123456789abcdef")
	if _, err := Load(); err != nil {
		t.Fatalf("expected production load to succeed: %v", err)
	}
}

func TestParseClock(t *testing.T) {
	cases := map[string]time.Duration{
		"08:00": 8 * time.Hour,
		"17:45": 17*time.Hour + 45*time.Minute,
		" 9:05": 9*time.Hour + 5*time.Minute,
	}
	for in, want := range cases {
		got, err := parseClock(in)
		if err != nil {
			t.Fatalf("parseClock(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("parseClock(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := parseClock("8am"); err == nil {
		t.Fatal("expected error for 8am")
	}
}

func TestParseLocation(t *testing.T) {
	cases := []struct {
		in     string
		offset int
		ok     bool
	}{
		{"UTC", 0, true},
		{"", 0, true},
		{"UTC+10", 10 * 3600, true},
		{"utc-03:30", -(3*3600 + 30*60), true},
		{"UTC+99", 0, false},
		{"UTC+5:75", 0, false},
		{"Not/AZone", 0, false},
	}
	for _, tc := range cases {
		loc, err := ParseLocation(tc.in)
		if tc.ok != (err == nil) {
			t.Fatalf("ParseLocation(%q) err=%v, want ok=%v", tc.in, err, tc.ok)
		}
		if !tc.ok {
			continue
		}
		if _, off := time.Date(2026, 1, 1, 0, 0, 0, 0, loc).Zone(); off != tc.offset {
			t.Fatalf("ParseLocation(%q) offset %d, want %d", tc.in, off, tc.offset)
		}
	}
}

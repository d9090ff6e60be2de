/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/friendsincode/benchbook/internal/planner"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// LabLockBackend selects how placement is serialized per lab.
type LabLockBackend string

const (
	LabLockLocal LabLockBackend = "local"
	LabLockRedis LabLockBackend = "redis"
)

// EventBusBackend selects the event transport.
type EventBusBackend string

const (
	EventBusMemory EventBusBackend = "memory"
	EventBusRedis  EventBusBackend = "redis"
	EventBusNATS   EventBusBackend = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	DBBackend     DatabaseBackend
	DBDSN         string
	JWTSigningKey string
	MetricsBind   string

	// Working window and slot scan
	DayStart           time.Duration // offset from midnight
	DayEnd             time.Duration
	Timezone           string
	Location           *time.Location
	SnapMinutes        int
	ProbeMinutes       int
	RefineMinutes      int
	PassiveReuse       bool
	BookingHorizonDays int

	// Reminders
	ReminderLead          time.Duration
	ReminderCheckInterval time.Duration

	// Task builder sessions untouched for this long are dropped
	BuilderIdleTTL time.Duration

	// Slot search rate limiting (per user)
	SlotSearchRPS   float64
	SlotSearchBurst int

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string
	LabLockBackend        LabLockBackend
	LabLockTTL            time.Duration
	CacheEnabled          bool

	// Event transport
	EventBus EventBusBackend
	NATSURL  string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnvAny([]string{"BENCHBOOK_ENV"}, "development"),
		HTTPBind:      getEnvAny([]string{"BENCHBOOK_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:      getEnvIntAny([]string{"BENCHBOOK_HTTP_PORT", "PORT"}, 8080),
		DBBackend:     DatabaseBackend(getEnvAny([]string{"BENCHBOOK_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:         getEnvAny([]string{"BENCHBOOK_DB_DSN", "DATABASE_URL"}, ""),
		JWTSigningKey: getEnvAny([]string{"BENCHBOOK_JWT_SIGNING_KEY"}, ""),
		MetricsBind:   getEnvAny([]string{"BENCHBOOK_METRICS_BIND"}, "127.0.0.1:9000"),

		Timezone:           getEnvAny([]string{"BENCHBOOK_TIMEZONE", "TZ"}, "UTC+10"),
		SnapMinutes:        getEnvIntAny([]string{"BENCHBOOK_SNAP_MINUTES"}, 30),
		ProbeMinutes:       getEnvIntAny([]string{"BENCHBOOK_PROBE_MINUTES"}, 1),
		RefineMinutes:      getEnvIntAny([]string{"BENCHBOOK_REFINE_MINUTES"}, 15),
		PassiveReuse:       getEnvBoolAny([]string{"BENCHBOOK_PASSIVE_REUSE"}, false),
		BookingHorizonDays: getEnvIntAny([]string{"BENCHBOOK_BOOKING_HORIZON_DAYS"}, 4),

		ReminderLead:          getEnvDurationAny([]string{"BENCHBOOK_REMINDER_LEAD"}, 3*time.Minute),
		ReminderCheckInterval: getEnvDurationAny([]string{"BENCHBOOK_REMINDER_CHECK_INTERVAL"}, time.Minute),

		BuilderIdleTTL: getEnvDurationAny([]string{"BENCHBOOK_BUILDER_IDLE_TTL"}, 2*time.Hour),

		SlotSearchRPS:   getEnvFloatAny([]string{"BENCHBOOK_SLOT_SEARCH_RPS"}, 2),
		SlotSearchBurst: getEnvIntAny([]string{"BENCHBOOK_SLOT_SEARCH_BURST"}, 5),

		TracingEnabled:    getEnvBoolAny([]string{"BENCHBOOK_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"BENCHBOOK_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"BENCHBOOK_TRACING_SAMPLE_RATE"}, 1.0),

		LeaderElectionEnabled: getEnvBoolAny([]string{"BENCHBOOK_LEADER_ELECTION_ENABLED"}, false),
		RedisAddr:             getEnvAny([]string{"BENCHBOOK_REDIS_ADDR", "REDIS_ADDR"}, "localhost:6379"),
		RedisPassword:         getEnvAny([]string{"BENCHBOOK_REDIS_PASSWORD", "REDIS_PASSWORD"}, ""),
		RedisDB:               getEnvIntAny([]string{"BENCHBOOK_REDIS_DB"}, 0),
		InstanceID:            getEnvAny([]string{"BENCHBOOK_INSTANCE_ID", "HOSTNAME"}, ""),
		LabLockBackend:        LabLockBackend(getEnvAny([]string{"BENCHBOOK_LAB_LOCK_BACKEND"}, string(LabLockLocal))),
		LabLockTTL:            getEnvDurationAny([]string{"BENCHBOOK_LAB_LOCK_TTL"}, 30*time.Second),
		CacheEnabled:          getEnvBoolAny([]string{"BENCHBOOK_CACHE_ENABLED"}, false),

		EventBus: EventBusBackend(getEnvAny([]string{"BENCHBOOK_EVENT_BUS"}, string(EventBusMemory))),
		NATSURL:  getEnvAny([]string{"BENCHBOOK_NATS_URL", "NATS_URL"}, "nats://localhost:4222"),
	}

	var err error
	if cfg.DayStart, err = parseClock(getEnvAny([]string{"BENCHBOOK_DAY_START"}, "08:00")); err != nil {
		return nil, fmt.Errorf("BENCHBOOK_DAY_START: %w", err)
	}
	if cfg.DayEnd, err = parseClock(getEnvAny([]string{"BENCHBOOK_DAY_END"}, "17:00")); err != nil {
		return nil, fmt.Errorf("BENCHBOOK_DAY_END: %w", err)
	}
	if cfg.Location, err = ParseLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("BENCHBOOK_TIMEZONE: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.DBBackend != DatabasePostgres && c.DBBackend != DatabaseMySQL && c.DBBackend != DatabaseSQLite {
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}

	if c.DBDSN == "" {
		return fmt.Errorf("BENCHBOOK_DB_DSN must be provided")
	}

	if c.JWTSigningKey == "" {
		return fmt.Errorf("BENCHBOOK_JWT_SIGNING_KEY must be provided")
	}

	if c.DayEnd <= c.DayStart {
		return fmt.Errorf("working day end %s must be after start %s", c.DayEnd, c.DayStart)
	}

	if c.SnapMinutes <= 0 || c.ProbeMinutes <= 0 || c.RefineMinutes <= 0 {
		return fmt.Errorf("slot scan steps must be positive")
	}

	if c.BookingHorizonDays < 1 {
		return fmt.Errorf("booking horizon must be at least one day")
	}

	if c.ReminderCheckInterval <= 0 {
		return fmt.Errorf("reminder check interval must be positive")
	}

	if c.BuilderIdleTTL <= 0 {
		return fmt.Errorf("builder idle TTL must be positive")
	}

	switch c.LabLockBackend {
	case LabLockLocal, LabLockRedis:
	default:
		return fmt.Errorf("unsupported lab lock backend %q", c.LabLockBackend)
	}

	// leader election implies several instances; placement must then be
	// serialized across all of them
	if c.LeaderElectionEnabled && c.LabLockBackend != LabLockRedis {
		return fmt.Errorf("BENCHBOOK_LEADER_ELECTION_ENABLED requires BENCHBOOK_LAB_LOCK_BACKEND=redis")
	}

	switch c.EventBus {
	case EventBusMemory, EventBusRedis, EventBusNATS:
	default:
		return fmt.Errorf("unsupported event bus %q", c.EventBus)
	}

	if strings.EqualFold(c.Environment, "production") && len(c.JWTSigningKey) < 32 {
		return fmt.Errorf("BENCHBOOK_JWT_SIGNING_KEY must be at least 32 bytes in production")
	}

	return nil
}

// MultiInstance reports whether any component coordinates through Redis.
func (c *Config) MultiInstance() bool {
	return c.LeaderElectionEnabled || c.LabLockBackend == LabLockRedis
}

// parseClock parses "HH:MM" into an offset from midnight.
func parseClock(v string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", v)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// ParseLocation accepts an IANA zone name or a fixed offset such as "UTC+10" or "UTC-03:30".
func ParseLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "UTC") {
		return time.UTC, nil
	}

	upper := strings.ToUpper(name)
	if strings.HasPrefix(upper, "UTC+") || strings.HasPrefix(upper, "UTC-") {
		sign := 1
		if upper[3] == '-' {
			sign = -1
		}
		hours, minutes := upper[4:], "0"
		if i := strings.Index(hours, ":"); i >= 0 {
			hours, minutes = hours[:i], hours[i+1:]
		}
		h, err := strconv.Atoi(hours)
		if err != nil || h > 14 {
			return nil, fmt.Errorf("invalid offset %q", name)
		}
		m, err := strconv.Atoi(minutes)
		if err != nil || m < 0 || m >= 60 {
			return nil, fmt.Errorf("invalid offset %q", name)
		}
		return time.FixedZone(upper, sign*(h*3600+m*60)), nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", name, err)
	}
	return loc, nil
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go durations ("90s") or bare minutes ("3").
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			if parsed, err := time.ParseDuration(v); err == nil {
				return parsed
			}
			if minutes, err := strconv.Atoi(v); err == nil {
				return time.Duration(minutes) * time.Minute
			}
		}
	}
	return def
}

// Planner returns the working window and scan settings for the placement engine.
func (c *Config) Planner() planner.Config {
	return planner.Config{
		DayStart:      c.DayStart,
		DayEnd:        c.DayEnd,
		Location:      c.Location,
		SnapMinutes:   c.SnapMinutes,
		ProbeMinutes:  c.ProbeMinutes,
		RefineMinutes: c.RefineMinutes,
		PassiveReuse:  c.PassiveReuse,
	}
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package builder assembles tasks step by step in per-user sessions and
// persists the result as a template.
package builder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/benchbook/internal/events"
	"github.com/friendsincode/benchbook/internal/keyedlock"
	"github.com/friendsincode/benchbook/internal/models"
	"github.com/friendsincode/benchbook/internal/planner"
)

var (
	// ErrNoSession is returned when the user has no task under construction.
	ErrNoSession = errors.New("no builder session")
	// ErrSessionExists is returned when the user already has an open session.
	ErrSessionExists = errors.New("builder session already open")
	// ErrInvalidOrder is returned when a branch order does not use every step exactly once.
	ErrInvalidOrder = errors.New("invalid branch order")
)

// Store is what the builder needs from persistence.
type Store interface {
	ActiveUnits(ctx context.Context, labID, equipmentType string) ([]string, error)
	CreateTemplate(ctx context.Context, t *models.Template) error
}

// Session is a task under construction.
type Session struct {
	UserID      string         `json:"user_id"`
	LabID       string         `json:"lab_id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Steps       []planner.Step `json:"steps"`
	StartedAt   time.Time      `json:"started_at"`
	TouchedAt   time.Time      `json:"touched_at"`
}

// DefaultIdleTTL is how long an untouched session is kept.
const DefaultIdleTTL = 2 * time.Hour

// Options tunes session expiry.
type Options struct {
	// IdleTTL drops sessions not touched for this long. Zero means DefaultIdleTTL.
	IdleTTL time.Duration
	Now     func() time.Time
}

// Builder holds one session per user. Operations on the same user are serialized.
type Builder struct {
	store  Store
	bus    events.Publisher
	opts   Options
	logger zerolog.Logger

	locks keyedlock.Map

	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates a builder.
func New(store Store, bus events.Publisher, opts Options, logger zerolog.Logger) *Builder {
	if bus == nil {
		bus = events.Discard{}
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Builder{
		store:    store,
		bus:      bus,
		opts:     opts,
		logger:   logger.With().Str("component", "builder").Logger(),
		sessions: make(map[string]*Session),
	}
}

// Start opens a session for userID in labID.
func (b *Builder) Start(ctx context.Context, userID, labID, name, description string) (*Session, error) {
	unlock, err := b.locks.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: task name is required", planner.ErrInvalidTask)
	}

	now := b.opts.Now().UTC()

	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.sessions[userID]; ok && !b.idle(old, now) {
		return nil, ErrSessionExists
	}
	s := &Session{
		UserID:      userID,
		LabID:       labID,
		Name:        name,
		Description: strings.TrimSpace(description),
		StartedAt:   now,
		TouchedAt:   now,
	}
	b.sessions[userID] = s

	b.logger.Debug().Str("user_id", userID).Str("lab_id", labID).Msg("builder session started")
	return s.clone(), nil
}

// Session returns a copy of the user's open session.
func (b *Builder) Session(ctx context.Context, userID string) (*Session, error) {
	unlock, err := b.locks.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, ok := b.get(userID)
	if !ok {
		return nil, ErrNoSession
	}
	return s.clone(), nil
}

// AddStep appends a step and returns its 1-based index. The step's equipment
// type must have active units in the session's lab.
func (b *Builder) AddStep(ctx context.Context, userID string, step planner.Step) (int, error) {
	unlock, err := b.locks.Lock(ctx, userID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	s, ok := b.get(userID)
	if !ok {
		return 0, ErrNoSession
	}

	step.Name = strings.TrimSpace(step.Name)
	step.EquipmentType = strings.TrimSpace(step.EquipmentType)
	if err := step.Validate(); err != nil {
		return 0, err
	}

	units, err := b.store.ActiveUnits(ctx, s.LabID, step.EquipmentType)
	if err != nil {
		return 0, fmt.Errorf("load units: %w", err)
	}
	if len(units) == 0 {
		return 0, &planner.UnknownTypeError{LabID: s.LabID, EquipmentType: step.EquipmentType}
	}

	b.mu.Lock()
	s.Steps = append(s.Steps, step)
	n := len(s.Steps)
	b.mu.Unlock()
	return n, nil
}

// Finalize arranges the collected steps into branches and saves the template.
// order lists 1-based step indices per branch; every step must appear exactly once.
// The session is closed on success.
func (b *Builder) Finalize(ctx context.Context, userID string, order [][]int) (*models.Template, error) {
	unlock, err := b.locks.Lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, ok := b.get(userID)
	if !ok {
		return nil, ErrNoSession
	}
	if len(s.Steps) == 0 {
		return nil, planner.ErrEmptyTask
	}
	if order == nil {
		order = [][]int{sequential(len(s.Steps))}
	}
	branches, err := arrange(s.Steps, order)
	if err != nil {
		return nil, err
	}

	task := planner.Task{Name: s.Name, Description: s.Description, Branches: branches}
	if err := task.Validate(); err != nil {
		return nil, err
	}

	tmpl := &models.Template{
		OwnerID:     userID,
		LabID:       s.LabID,
		Name:        s.Name,
		Description: s.Description,
		Branches:    branches,
	}
	if err := b.store.CreateTemplate(ctx, tmpl); err != nil {
		return nil, err
	}

	b.drop(userID)

	b.bus.Publish(events.EventTemplateCreated, events.Payload{
		"lab_id":      tmpl.LabID,
		"user_id":     userID,
		"template_id": tmpl.ID,
		"name":        tmpl.Name,
		"steps":       task.StepCount(),
		"branches":    len(branches),
	})
	b.logger.Info().Str("user_id", userID).Str("template_id", tmpl.ID).Msg("task template saved")
	return tmpl, nil
}

// Discard closes the user's session without saving.
func (b *Builder) Discard(ctx context.Context, userID string) error {
	unlock, err := b.locks.Lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	if _, ok := b.get(userID); !ok {
		return ErrNoSession
	}
	b.drop(userID)
	return nil
}

// Active returns the number of open sessions.
func (b *Builder) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// get returns the user's session and marks it as used. An idle session is
// dropped and reported as missing.
func (b *Builder) get(userID string) (*Session, bool) {
	now := b.opts.Now().UTC()

	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[userID]
	if !ok {
		return nil, false
	}
	if b.idle(s, now) {
		delete(b.sessions, userID)
		return nil, false
	}
	s.TouchedAt = now
	return s, true
}

func (b *Builder) idle(s *Session, now time.Time) bool {
	return now.Sub(s.TouchedAt) > b.opts.IdleTTL
}

// Sweep drops every idle session and returns how many were dropped.
func (b *Builder) Sweep() int {
	now := b.opts.Now().UTC()

	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for userID, s := range b.sessions {
		if b.idle(s, now) {
			delete(b.sessions, userID)
			n++
		}
	}
	return n
}

// Run sweeps idle sessions until ctx is done.
func (b *Builder) Run(ctx context.Context) error {
	interval := max(b.opts.IdleTTL/4, time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := b.Sweep(); n > 0 {
				b.logger.Info().Int("sessions", n).Msg("dropped idle builder sessions")
			}
		}
	}
}

func (b *Builder) drop(userID string) {
	b.mu.Lock()
	delete(b.sessions, userID)
	b.mu.Unlock()
}

func (s *Session) clone() *Session {
	c := *s
	c.Steps = append([]planner.Step(nil), s.Steps...)
	return &c
}

func sequential(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

// arrange builds branches from 1-based indices into steps.
func arrange(steps []planner.Step, order [][]int) ([]planner.Branch, error) {
	used := make([]bool, len(steps))
	branches := make([]planner.Branch, 0, len(order))
	for bi, line := range order {
		if len(line) == 0 {
			return nil, fmt.Errorf("%w: branch %d is empty", ErrInvalidOrder, bi+1)
		}
		branch := planner.Branch{Steps: make([]planner.Step, 0, len(line))}
		for _, idx := range line {
			if idx < 1 || idx > len(steps) {
				return nil, fmt.Errorf("%w: step %d does not exist", ErrInvalidOrder, idx)
			}
			if used[idx-1] {
				return nil, fmt.Errorf("%w: step %d used more than once", ErrInvalidOrder, idx)
			}
			used[idx-1] = true
			branch.Steps = append(branch.Steps, steps[idx-1])
		}
		branches = append(branches, branch)
	}
	for i, ok := range used {
		if !ok {
			return nil, fmt.Errorf("%w: step %d is not used", ErrInvalidOrder, i+1)
		}
	}
	return branches, nil
}

// ParseOrder reads one branch per line, steps separated by spaces or commas.
// Blank lines are ignored.
func ParseOrder(text string) ([][]int, error) {
	var order [][]int
	for n, line := range strings.Split(text, "\n") {
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ' ' || r == ',' || r == '\t' || r == '\r'
		})
		if len(fields) == 0 {
			continue
		}
		branch := make([]int, 0, len(fields))
		for _, f := range fields {
			idx, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %q is not a step number", ErrInvalidOrder, n+1, f)
			}
			branch = append(branch, idx)
		}
		order = append(order, branch)
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("%w: no branches given", ErrInvalidOrder)
	}
	return order, nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package leadership

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Runner is a long-running job that stops when its context is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// Elector is the part of Election that LeaderAware needs.
type Elector interface {
	Start(ctx context.Context) error
	Stop() error
	IsLeader() bool
	LeaderCh() <-chan bool
	GetLeader(ctx context.Context) (string, error)
}

// LeaderAware runs a job only while this instance holds leadership.
type LeaderAware struct {
	job      Runner
	election Elector
	logger   zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	done    chan struct{}
}

// NewLeaderAware creates a leader-aware wrapper around job.
func NewLeaderAware(job Runner, election Elector, name string, logger zerolog.Logger) *LeaderAware {
	return &LeaderAware{
		job:      job,
		election: election,
		logger:   logger.With().Str("component", "leader_aware").Str("job", name).Logger(),
	}
}

// Start begins the election and follows leadership changes until ctx ends.
func (la *LeaderAware) Start(ctx context.Context) error {
	la.mu.Lock()
	la.ctx = ctx
	la.mu.Unlock()

	la.logger.Info().Msg("starting leader-aware job")
	if err := la.election.Start(ctx); err != nil {
		return err
	}

	go la.monitorLeadership(ctx)
	return nil
}

// Stop stops the job and releases leadership.
func (la *LeaderAware) Stop() error {
	la.logger.Info().Msg("stopping leader-aware job")
	la.stopJob()
	return la.election.Stop()
}

// IsLeader returns whether this instance is the leader.
func (la *LeaderAware) IsLeader() bool {
	return la.election.IsLeader()
}

// Leader returns the instance id currently holding leadership, or "" when
// nobody does.
func (la *LeaderAware) Leader(ctx context.Context) (string, error) {
	return la.election.GetLeader(ctx)
}

// Running reports whether the job is currently executing here.
func (la *LeaderAware) Running() bool {
	la.mu.Lock()
	defer la.mu.Unlock()
	return la.running
}

func (la *LeaderAware) monitorLeadership(ctx context.Context) {
	if la.election.IsLeader() {
		la.startJob()
	}

	leaderCh := la.election.LeaderCh()
	for {
		select {
		case <-ctx.Done():
			la.stopJob()
			return
		case isLeader := <-leaderCh:
			if isLeader {
				la.logger.Info().Msg("became leader, starting job")
				la.startJob()
			} else {
				la.logger.Warn().Msg("lost leadership, stopping job")
				la.stopJob()
			}
		}
	}
}

func (la *LeaderAware) startJob() {
	la.mu.Lock()
	defer la.mu.Unlock()
	if la.running {
		return
	}

	ctx, cancel := context.WithCancel(la.ctx)
	done := make(chan struct{})
	la.cancel = cancel
	la.done = done
	la.running = true

	go func() {
		defer close(done)
		la.logger.Info().Msg("job started")
		if err := la.job.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			la.logger.Error().Err(err).Msg("job error")
		}
		la.logger.Info().Msg("job stopped")
	}()
}

// stopJob cancels the job and waits for it to return.
func (la *LeaderAware) stopJob() {
	la.mu.Lock()
	if !la.running {
		la.mu.Unlock()
		return
	}
	cancel, done := la.cancel, la.done
	la.running = false
	la.cancel = nil
	la.mu.Unlock()

	cancel()
	<-done
}

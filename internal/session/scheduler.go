// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// Saver persists a snapshot. storage.Adapter satisfies it.
type Saver interface {
	Save(ctx context.Context, snap *model.Snapshot) error
}

// Config holds configuration for the scheduler.
type Config struct {
	// Quiet is the trailing-edge window (default: 1 second)
	Quiet time.Duration

	// SaveTimeout bounds a save started by the timer (default: 10 seconds)
	SaveTimeout time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Quiet:       time.Second,
		SaveTimeout: 10 * time.Second,
	}
}

// =============================================================================
// SCHEDULER
// =============================================================================

// Scheduler coalesces save requests. Each Trigger replaces the pending
// snapshot and restarts the quiet window; when the window elapses the most
// recent snapshot is saved once.
type Scheduler struct {
	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	pending *model.Snapshot
	closed  bool

	// saveMu serializes saves so an older snapshot never lands after a newer one.
	saveMu sync.Mutex

	saver       Saver
	quiet       time.Duration
	saveTimeout time.Duration
	saves       atomic.Int64
	failures    atomic.Int64
	log         zerolog.Logger
}

// NewScheduler creates a scheduler in front of saver.
func NewScheduler(saver Saver, cfg Config, logger zerolog.Logger) *Scheduler {
	def := DefaultConfig()
	if cfg.Quiet <= 0 {
		cfg.Quiet = def.Quiet
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = def.SaveTimeout
	}
	return &Scheduler{
		saver:       saver,
		quiet:       cfg.Quiet,
		saveTimeout: cfg.SaveTimeout,
		log:         logger.With().Str("component", "persistence").Logger(),
	}
}

// Trigger records snap as the state to persist and (re)arms the timer.
// The snapshot must not be mutated afterwards.
func (s *Scheduler) Trigger(snap *model.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || snap == nil {
		return
	}
	s.pending = snap
	s.gen++
	gen := s.gen
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.quiet, func() { s.fire(gen) })
}

// fire runs on the timer goroutine. A timer superseded by a later Trigger
// or Flush finds a newer generation and does nothing.
func (s *Scheduler) fire(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
	defer cancel()
	_ = s.flush(ctx, gen, false)
}

// Flush saves the pending snapshot now. It is a no-op when nothing is
// pending.
func (s *Scheduler) Flush(ctx context.Context) error {
	return s.flush(ctx, 0, true)
}

func (s *Scheduler) flush(ctx context.Context, gen uint64, force bool) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if !force && gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	snap := s.pending
	s.pending = nil
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	if snap == nil {
		return nil
	}

	start := time.Now()
	if err := s.saver.Save(ctx, snap); err != nil {
		// Dropped; the next mutation schedules a fresh save.
		s.failures.Add(1)
		s.log.Warn().Err(err).Int("conversations", len(snap.Conversations)).Msg("save failed")
		return errors.Wrap(err, "save snapshot")
	}
	s.saves.Add(1)
	s.log.Debug().
		Int("conversations", len(snap.Conversations)).
		Dur("took", time.Since(start)).
		Msg("snapshot saved")
	return nil
}

// Close flushes any pending snapshot and ignores later triggers.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Flush(ctx)
}

// Pending reports whether a snapshot is waiting to be saved.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Saves returns the number of successful saves.
func (s *Scheduler) Saves() int {
	return int(s.saves.Load())
}

// Failures returns the number of failed saves.
func (s *Scheduler) Failures() int {
	return int(s.failures.Load())
}

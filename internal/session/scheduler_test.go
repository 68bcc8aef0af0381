// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

type recordingSaver struct {
	mu    sync.Mutex
	saved []*model.Snapshot
	err   error
}

func (r *recordingSaver) Save(_ context.Context, snap *model.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.saved = append(r.saved, snap)
	return nil
}

func (r *recordingSaver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

func (r *recordingSaver) last() *model.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.saved) == 0 {
		return nil
	}
	return r.saved[len(r.saved)-1]
}

func snapshotWith(n int) *model.Snapshot {
	s := model.EmptySnapshot()
	for i := 0; i < n; i++ {
		s.Conversations = append(s.Conversations, model.NewConversation(model.NewID(), time.Now()))
	}
	return s
}

func newTestScheduler(saver Saver, quiet time.Duration) *Scheduler {
	return NewScheduler(saver, Config{Quiet: quiet}, zerolog.Nop())
}

// =============================================================================
// CONFIG TESTS
// =============================================================================

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.Second, cfg.Quiet)
	assert.Equal(t, 10*time.Second, cfg.SaveTimeout)

	s := NewScheduler(&recordingSaver{}, Config{}, zerolog.Nop())
	assert.Equal(t, time.Second, s.quiet)
}

// =============================================================================
// DEBOUNCE TESTS
// =============================================================================

func TestScheduler_CoalescesBurstIntoOneSave(t *testing.T) {
	saver := &recordingSaver{}
	s := newTestScheduler(saver, 60*time.Millisecond)

	var last *model.Snapshot
	for i := 1; i <= 10; i++ {
		last = snapshotWith(i)
		s.Trigger(last)
		time.Sleep(2 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return saver.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(120 * time.Millisecond)

	assert.Equal(t, 1, saver.count(), "burst should produce exactly one save")
	assert.Same(t, last, saver.last(), "save should carry the latest snapshot")
	assert.False(t, s.Pending())
}

func TestScheduler_TrailingEdge(t *testing.T) {
	saver := &recordingSaver{}
	s := newTestScheduler(saver, 150*time.Millisecond)

	s.Trigger(snapshotWith(1))
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 0, saver.count(), "save must wait for the quiet window")
	assert.True(t, s.Pending())

	require.Eventually(t, func() bool { return saver.count() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_SeparateBurstsSaveSeparately(t *testing.T) {
	saver := &recordingSaver{}
	s := newTestScheduler(saver, 20*time.Millisecond)

	s.Trigger(snapshotWith(1))
	require.Eventually(t, func() bool { return saver.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	s.Trigger(snapshotWith(2))
	require.Eventually(t, func() bool { return saver.count() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, saver.last().Conversations, 2)
}

// =============================================================================
// FLUSH / CLOSE TESTS
// =============================================================================

func TestScheduler_FlushSavesImmediately(t *testing.T) {
	saver := &recordingSaver{}
	s := newTestScheduler(saver, time.Hour)

	snap := snapshotWith(3)
	s.Trigger(snap)
	require.NoError(t, s.Flush(context.Background()))

	assert.Equal(t, 1, saver.count())
	assert.Same(t, snap, saver.last())
	assert.Equal(t, 1, s.Saves())

	// Nothing pending: no second save.
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 1, saver.count())
}

func TestScheduler_FlushCancelsArmedTimer(t *testing.T) {
	saver := &recordingSaver{}
	s := newTestScheduler(saver, 30*time.Millisecond)

	s.Trigger(snapshotWith(1))
	require.NoError(t, s.Flush(context.Background()))
	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, 1, saver.count())
}

func TestScheduler_CloseFlushesAndIgnoresLaterTriggers(t *testing.T) {
	saver := &recordingSaver{}
	s := newTestScheduler(saver, time.Hour)

	s.Trigger(snapshotWith(1))
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, 1, saver.count())

	s.Trigger(snapshotWith(2))
	assert.False(t, s.Pending())
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 1, saver.count())
}

func TestScheduler_SaveFailureIsDropped(t *testing.T) {
	saver := &recordingSaver{err: errors.New("disk full")}
	s := newTestScheduler(saver, time.Hour)

	s.Trigger(snapshotWith(1))
	err := s.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, s.Pending(), "failed snapshot is not retried")
	assert.Equal(t, 1, s.Failures())

	saver.mu.Lock()
	saver.err = nil
	saver.mu.Unlock()

	s.Trigger(snapshotWith(2))
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 1, saver.count())
}

func TestScheduler_ConcurrentTriggers(t *testing.T) {
	saver := &recordingSaver{}
	s := newTestScheduler(saver, 30*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.Trigger(snapshotWith(n % 3))
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return saver.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, saver.count())
}

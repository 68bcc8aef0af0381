// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// DataFileName is the snapshot file inside the data directory.
const DataFileName = "chat-data.json"

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps the snapshot in a single pretty-printed JSON file.
type FileStore struct {
	mu   sync.Mutex
	path string
	log  zerolog.Logger
}

var _ Adapter = (*FileStore)(nil)

// NewFileStore stores the snapshot as DataFileName under dir.
func NewFileStore(dir string, logger zerolog.Logger) *FileStore {
	return NewFileStoreAt(filepath.Join(dir, DataFileName), logger)
}

// NewFileStoreAt stores the snapshot at an explicit path.
func NewFileStoreAt(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		path: path,
		log:  logger.With().Str("backend", "file").Str("path", path).Logger(),
	}
}

// Path returns the data file location.
func (s *FileStore) Path() string {
	return s.path
}

// Name implements Adapter.
func (s *FileStore) Name() string {
	return string(BackendFile)
}

// Save writes snap atomically with two-space indentation.
func (s *FileStore) Save(_ context.Context, snap *model.Snapshot) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.WriteJSONAtomic(s.path, snap, 0600); err != nil {
		return errors.Wrapf(err, "write %s", s.path)
	}
	return nil
}

// Load reads the data file. A missing, unreadable or corrupted file is
// reported as absent.
func (s *FileStore) Load(_ context.Context) (*model.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Msg("read data file")
		}
		return nil, false
	}
	snap, err := model.DecodeSnapshot(data)
	if err != nil {
		s.log.Warn().Err(err).Msg("data file is corrupted, ignoring")
		return nil, false
	}
	if snap == nil {
		return nil, false
	}
	return snap, true
}

// Close implements Adapter.
func (s *FileStore) Close() error {
	return nil
}

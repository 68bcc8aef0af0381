// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// KVKey is the single key the snapshot lives under.
const KVKey = "chat_store_data"

// KVFileName is the default database file inside the data directory.
const KVFileName = "chat-store.db"

// =============================================================================
// KEY-VALUE STORE
// =============================================================================

// KVStore keeps the snapshot as one JSON value in an embedded SQLite table.
type KVStore struct {
	db  *sql.DB
	key string
	log zerolog.Logger
}

var _ Adapter = (*KVStore)(nil)

// OpenKVStore opens (creating if needed) the database at path.
func OpenKVStore(path string, logger zerolog.Logger) (*KVStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	stmts := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		`CREATE TABLE IF NOT EXISTS kv (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "initialize database")
		}
	}

	return &KVStore{
		db:  db,
		key: KVKey,
		log: logger.With().Str("backend", "kv").Str("path", path).Logger(),
	}, nil
}

// Name implements Adapter.
func (s *KVStore) Name() string {
	return string(BackendKV)
}

// Save replaces the stored value with snap.
func (s *KVStore) Save(ctx context.Context, snap *model.Snapshot) error {
	if snap == nil {
		return errors.New("nil snapshot")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	if err := s.put(ctx, string(data)); err != nil {
		return errors.Wrap(err, "store snapshot")
	}
	return nil
}

// Load reads the stored value. Missing rows, query failures and corrupted
// JSON are reported as absent.
func (s *KVStore) Load(ctx context.Context) (*model.Snapshot, bool) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, s.key).Scan(&value)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Warn().Err(err).Msg("read snapshot")
		}
		return nil, false
	}
	snap, err := model.DecodeSnapshot([]byte(value))
	if err != nil {
		s.log.Warn().Err(err).Msg("stored snapshot is corrupted, ignoring")
		return nil, false
	}
	if snap == nil {
		return nil, false
	}
	return snap, true
}

// put stores value under the snapshot key.
func (s *KVStore) put(ctx context.Context, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		s.key, value)
	return err
}

// Close closes the database.
func (s *KVStore) Close() error {
	return s.db.Close()
}

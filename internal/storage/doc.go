// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chat snapshots behind one Adapter interface.
//
// Two deployments are supported. When a host process owns the disk, the
// BridgeAdapter talks to it over an asynchronous message channel (the
// load-chats and save-chats request channels) and the Host writes
// chat-data.json. When no host answers, the KVStore keeps the snapshot under a
// single key in an embedded SQLite database.
//
// # Key Types
//
//   - Adapter: Save/Load/Close over a model.Snapshot
//   - FileStore: pretty-printed chat-data.json with atomic writes
//   - KVStore: single-key SQLite store ("chat_store_data")
//   - BridgeAdapter: request/reply client over watermill pub/sub
//   - Host: serves the bridge channels from a FileStore
//
// # Selection
//
// Select picks the adapter once at startup. With BackendAuto it probes the
// bridge with a short load-chats round trip and falls back to the KVStore.
//
//	adapter, err := storage.Select(ctx, storage.Options{
//		Backend: storage.BackendAuto,
//		DataDir: dataDir,
//		Bridge:  bridge,
//	}, log.Logger)
//
// # Failure Semantics
//
// Load never fails: unreadable or corrupted data is logged and reported as
// absent. Save returns the acknowledgement as an error value.
package storage

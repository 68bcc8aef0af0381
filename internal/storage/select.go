// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Options drive Select.
type Options struct {
	Backend Backend

	// DataDir holds chat-data.json and the KV database.
	DataDir string

	// KVPath overrides the KV database location.
	KVPath string

	// Bridge is the bridge client, or nil when no host was started.
	Bridge *BridgeAdapter

	ProbeTimeout time.Duration
}

// Select returns the adapter for opts. It is called once at startup; with
// BackendAuto the bridge is probed and the KV store is the fallback.
func Select(ctx context.Context, opts Options, logger zerolog.Logger) (Adapter, error) {
	backend := opts.Backend
	if backend == "" {
		backend = BackendAuto
	}

	switch backend {
	case BackendBridge:
		if opts.Bridge == nil {
			return nil, errors.Wrap(ErrBridgeUnavailable, "bridge backend requested without a host")
		}
		return opts.Bridge, nil

	case BackendFile:
		return NewFileStore(opts.DataDir, logger), nil

	case BackendKV:
		return OpenKVStore(kvPath(opts), logger)

	case BackendAuto:
		if opts.Bridge != nil && opts.Bridge.Probe(ctx, opts.ProbeTimeout) {
			logger.Debug().Msg("storage: bridge host answered, using bridge")
			return opts.Bridge, nil
		}
		logger.Debug().Msg("storage: no bridge host, using kv store")
		return OpenKVStore(kvPath(opts), logger)
	}
	return nil, errors.Errorf("unknown storage backend %q", backend)
}

func kvPath(opts Options) string {
	if opts.KVPath != "" {
		return opts.KVPath
	}
	return filepath.Join(opts.DataDir, KVFileName)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// Adapter is a durable home for the chat snapshot.
type Adapter interface {
	// Save persists snap. A nil error is the success acknowledgement.
	Save(ctx context.Context, snap *model.Snapshot) error

	// Load returns the stored snapshot. ok is false when nothing usable is
	// stored, including read failures and corrupted data.
	Load(ctx context.Context) (snap *model.Snapshot, ok bool)

	// Name identifies the backend in logs.
	Name() string

	Close() error
}

// Backend names a storage implementation.
type Backend string

const (
	BackendAuto   Backend = "auto"
	BackendBridge Backend = "bridge"
	BackendKV     Backend = "kv"
	BackendFile   Backend = "file"
)

// ParseBackend validates a backend name. Empty means auto.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BackendAuto, nil
	case BackendAuto, BackendBridge, BackendKV, BackendFile:
		return b, nil
	default:
		return "", fmt.Errorf("unknown storage backend %q (want auto, bridge, kv or file)", s)
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrBridgeUnavailable means no host answered on the bridge channel.
var ErrBridgeUnavailable = errors.New("storage bridge unavailable")

// ErrBridgeRejected matches every BridgeError via errors.Is.
var ErrBridgeRejected = &BridgeError{}

// BridgeError is a negative acknowledgement from the host.
type BridgeError struct {
	Channel string
	Message string
}

// Error implements the error interface.
func (e *BridgeError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s rejected", e.Channel)
	}
	return fmt.Sprintf("%s rejected: %s", e.Channel, e.Message)
}

// Is implements errors.Is support for comparing bridge errors.
func (e *BridgeError) Is(target error) bool {
	_, ok := target.(*BridgeError)
	return ok
}

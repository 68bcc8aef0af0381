// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the chat engine packages.
//
// # Key Functions
//
// String Utilities:
//   - Ellipsize: rune-safe truncation with an appended ellipsis
//   - CollapseSpace: folds runs of whitespace (including newlines) to one space
//   - PadWidth: display-width aware padding for terminal tables
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync
//   - WriteJSONAtomic: indented JSON written through AtomicWriteFile
//
// # Usage
//
//	title := util.Ellipsize(util.CollapseSpace(text), 20)
//
//	if err := util.WriteJSONAtomic(path, snapshot, 0600); err != nil {
//		return err
//	}
package util

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session provides debounced persistence of the chat state.
//
// A burst of mutations (a user typing a series of messages, a stream being
// finalized, a rename right after a create) collapses into a single write of
// the latest snapshot once the state has been quiet for a configured window.
//
// # Key Types
//
//   - Scheduler: trailing-edge debouncer in front of a Saver
//   - Saver: anything that can persist a model.Snapshot
//
// # Usage
//
//	sched := session.NewScheduler(adapter, session.DefaultConfig(), log.Logger)
//	defer sched.Close(context.Background())
//
//	sched.Trigger(snapshot) // after every mutation
//	sched.Flush(ctx)        // before exit
package session

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat holds the conversation state engine.
//
// # Key Types
//
//   - Repository: Conversations, selection and per-conversation request state
//   - Orchestrator: One streaming completion request per conversation
//   - View: A conversation with its streaming buffer and notice
//
// # Usage
//
//	sched := session.NewScheduler(adapter, session.DefaultConfig(), log.Logger)
//	repo := chat.NewRepository(chat.WithPersister(sched))
//	repo.Load(ctx, adapter)
//
//	orch := chat.NewOrchestrator(repo, client, log.Logger)
//	defer orch.Close()
//	orch.Send(model.NewTextMessage(model.RoleUser, "hello"))
package chat

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the rigrun-chat command line.
//
// # Commands
//
//   - rigrun-chat: Interactive chat REPL (default)
//   - rigrun-chat list: List conversations
//   - rigrun-chat export <n|id>: Write a conversation as Markdown or JSON
//   - rigrun-chat clear --yes: Delete every conversation
//
// # REPL Commands
//
//   - /new, /list, /switch <n|id>, /delete [n|id]
//   - /rename <title>, /fav, /model [name]
//   - /attach <path> [caption], /export [md|json] [dir]
//   - /clear, /quit
//
// App is the application root: it owns the storage adapter, the persistence
// scheduler, the repository and the orchestrator, and flushes pending state
// on Close.
package cli

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// These are the shapes that cross every boundary of the engine: the
// repository keeps them in memory, the storage adapters persist them as a
// Snapshot, and the cloud package translates them into completion requests.
//
// # Key Types
//
//   - Conversation: an ordered, append-only message log with a title
//   - Message: one turn, with plain-text or multi-part Content
//   - Part: a text fragment or an attached file (inline data or URL)
//   - Snapshot: the persisted form {chatHistories, currentChatId}
//   - Role: system, user or assistant
//
// # Wire Format
//
// Snapshot marshals to the layout of chat-data.json:
//
//	{
//	  "chatHistories": [
//	    {"id": "...", "title": "New chat", "messages": [], "createdAt": "..."}
//	  ],
//	  "currentChatId": null
//	}
//
// Message content is a JSON string for plain text and an array of parts
// otherwise.
package model

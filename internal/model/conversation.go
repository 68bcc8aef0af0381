// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"time"
)

// DefaultTitle is the title of a conversation nobody has named yet.
const DefaultTitle = "New chat"

// legacyDefaultTitle is the placeholder title older data files carry.
const legacyDefaultTitle = "新对话"

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds one chat thread. Messages are append-only.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is epoch milliseconds; zero when never touched after creation.
	UpdatedAt int64  `json:"updatedAt,omitempty"`
	Model     string `json:"model,omitempty"`
	Favorite  bool   `json:"favorite,omitempty"`

	// Named is set by an explicit rename; derivation never touches it again.
	Named bool `json:"named,omitempty"`
}

type conversationAlias Conversation

// MarshalJSON always emits messages as an array.
func (c Conversation) MarshalJSON() ([]byte, error) {
	a := conversationAlias(c)
	if a.Messages == nil {
		a.Messages = []Message{}
	}
	return json.Marshal(a)
}

// NewConversation returns an empty conversation with the default title.
func NewConversation(id string, now time.Time) Conversation {
	return Conversation{
		ID:        id,
		Title:     DefaultTitle,
		Messages:  []Message{},
		CreatedAt: now,
	}
}

// LastMessage returns the most recent message, or nil if empty.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// Updated returns the last modification time, falling back to CreatedAt.
func (c *Conversation) Updated() time.Time {
	if c.UpdatedAt == 0 {
		return c.CreatedAt
	}
	return time.UnixMilli(c.UpdatedAt).UTC()
}

// HasDefaultTitle reports whether the conversation is still unnamed.
func (c *Conversation) HasDefaultTitle() bool {
	if c.Named {
		return false
	}
	return c.Title == "" || c.Title == DefaultTitle || c.Title == legacyDefaultTitle
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"bytes"
	"encoding/json"
)

// Snapshot is the persisted form of the repository: every conversation,
// newest first, plus the selected id.
type Snapshot struct {
	Conversations []Conversation `json:"chatHistories"`
	CurrentID     *string        `json:"currentChatId"`
}

type snapshotAlias Snapshot

// MarshalJSON always emits chatHistories as an array.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	a := snapshotAlias(s)
	if a.Conversations == nil {
		a.Conversations = []Conversation{}
	}
	return json.Marshal(a)
}

// EmptySnapshot returns a snapshot with no conversations and no selection.
func EmptySnapshot() *Snapshot {
	return &Snapshot{Conversations: []Conversation{}}
}

// Index returns the position of id, or -1.
func (s *Snapshot) Index(id string) int {
	for i := range s.Conversations {
		if s.Conversations[i].ID == id {
			return i
		}
	}
	return -1
}

// Find returns the conversation with id, or nil.
func (s *Snapshot) Find(id string) *Conversation {
	if i := s.Index(id); i >= 0 {
		return &s.Conversations[i]
	}
	return nil
}

// Current returns the selected conversation, or nil.
func (s *Snapshot) Current() *Conversation {
	if s.CurrentID == nil {
		return nil
	}
	return s.Find(*s.CurrentID)
}

// Sanitize restores the repository invariants on data read from storage:
// ids are unique (first occurrence wins), conversations without an id are
// dropped, message slices are non-nil, and a dangling selection is cleared.
func (s *Snapshot) Sanitize() {
	seen := make(map[string]bool, len(s.Conversations))
	kept := make([]Conversation, 0, len(s.Conversations))
	for _, c := range s.Conversations {
		if c.ID == "" || seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		if c.Messages == nil {
			c.Messages = []Message{}
		}
		if c.Title == "" {
			c.Title = DefaultTitle
		}
		kept = append(kept, c)
	}
	s.Conversations = kept
	if s.CurrentID != nil && !seen[*s.CurrentID] {
		s.CurrentID = nil
	}
}

// DecodeSnapshot parses and sanitizes persisted data. A JSON null yields a
// nil snapshot and no error.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	s.Sanitize()
	return &s, nil
}

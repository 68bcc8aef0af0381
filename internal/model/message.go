// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// CONTENT PARTS
// =============================================================================

// PartType distinguishes the kinds of message parts.
type PartType string

const (
	PartText PartType = "text"
	PartFile PartType = "file"
)

// Part is one element of multi-part content. File parts carry either inline
// base64 Data or a URL (remote or data: URL).
type Part struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	Name     string   `json:"name,omitempty"`
	MimeType string   `json:"mimeType,omitempty"`
	Data     string   `json:"data,omitempty"`
	URL      string   `json:"url,omitempty"`
}

// TextPart returns a text part.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// FilePart returns a file part holding raw as base64.
func FilePart(name, mimeType string, raw []byte) Part {
	return Part{
		Type:     PartFile,
		Name:     name,
		MimeType: mimeType,
		Data:     base64.StdEncoding.EncodeToString(raw),
	}
}

// IsImage reports whether the part is an image file.
func (p Part) IsImage() bool {
	return p.Type == PartFile && strings.HasPrefix(p.MimeType, "image/")
}

// Bytes decodes inline file data. It returns nil for URL-only parts or
// undecodable payloads.
func (p Part) Bytes() []byte {
	if p.Data == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return nil
	}
	return raw
}

// Content is either plain text or an ordered list of parts. A nil Parts
// slice means plain text.
type Content struct {
	Text  string
	Parts []Part
}

// MarshalJSON encodes plain text as a JSON string and parts as an array.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Parts == nil {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Parts)
}

// UnmarshalJSON accepts a string, an array of parts, or null.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*c = Content{}
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		return nil
	case data[0] == '"':
		return json.Unmarshal(data, &c.Text)
	default:
		parts := []Part{}
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		c.Parts = parts
		return nil
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
type Message struct {
	ID        string    `json:"id,omitempty"`
	Role      Role      `json:"role"`
	Content   Content   `json:"content"`
	SkipReply bool      `json:"skipReply,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// legacyMessage accepts the flat fileName/fileType layout older data files
// used for uploads.
type legacyMessage struct {
	messageAlias
	FileName string `json:"fileName,omitempty"`
	FileType string `json:"fileType,omitempty"`
}

type messageAlias Message

// UnmarshalJSON decodes a message, folding legacy file fields into a file part.
func (m *Message) UnmarshalJSON(data []byte) error {
	var lm legacyMessage
	if err := json.Unmarshal(data, &lm); err != nil {
		return err
	}
	*m = Message(lm.messageAlias)
	if lm.FileName != "" && m.Content.Parts == nil {
		part := Part{Type: PartFile, Name: lm.FileName, MimeType: lm.FileType}
		if isURL(m.Content.Text) {
			part.URL = m.Content.Text
		} else {
			part.Data = m.Content.Text
		}
		m.Content = Content{Parts: []Part{part}}
	}
	return nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "data:") || strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// NewID returns a fresh identifier for conversations and messages.
func NewID() string {
	return uuid.NewString()
}

// NewTextMessage creates a plain-text message.
func NewTextMessage(role Role, text string) Message {
	return Message{
		ID:        NewID(),
		Role:      role,
		Content:   Content{Text: text},
		Timestamp: Now(),
	}
}

// NewFileMessage creates a user upload. File-only uploads do not ask for a
// reply.
func NewFileMessage(name, mimeType string, raw []byte, caption string) Message {
	parts := []Part{FilePart(name, mimeType, raw)}
	if caption != "" {
		parts = append(parts, TextPart(caption))
	}
	return Message{
		ID:        NewID(),
		Role:      RoleUser,
		Content:   Content{Parts: parts},
		SkipReply: caption == "",
		Timestamp: Now(),
	}
}

// Now returns the current time in UTC at millisecond precision, matching
// what survives a JSON round trip.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// PlainText returns the message text: the plain content, or the text parts
// joined by newlines.
func (m Message) PlainText() string {
	if m.Content.Parts == nil {
		return m.Content.Text
	}
	var texts []string
	for _, p := range m.Content.Parts {
		if p.Type == PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// HasFile reports whether any part is a file.
func (m Message) HasFile() bool {
	for _, p := range m.Content.Parts {
		if p.Type == PartFile {
			return true
		}
	}
	return false
}

// Files returns the file parts in order.
func (m Message) Files() []Part {
	var files []Part
	for _, p := range m.Content.Parts {
		if p.Type == PartFile {
			files = append(files, p)
		}
	}
	return files
}

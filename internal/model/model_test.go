// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedTime() time.Time {
	return time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
}

// =============================================================================
// CONTENT TESTS
// =============================================================================

func TestContent_PlainTextIsJSONString(t *testing.T) {
	data, err := json.Marshal(Content{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, `"hi"`, string(data))
}

func TestContent_PartsAreJSONArray(t *testing.T) {
	c := Content{Parts: []Part{TextPart("look"), {Type: PartFile, Name: "a.png", MimeType: "image/png", URL: "https://x/a.png"}}}
	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "["))

	var back Content
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, c, back)
}

func TestContent_NullDecodesEmpty(t *testing.T) {
	var c Content
	require.NoError(t, json.Unmarshal([]byte("null"), &c))
	assert.Equal(t, Content{}, c)
}

func TestMessage_LegacyFileFields(t *testing.T) {
	raw := `{"role":"user","content":"data:image/png;base64,AAAA","fileName":"cat.png","fileType":"image/png","timestamp":"2025-03-14T09:26:53Z"}`
	var m Message
	require.NoError(t, json.Unmarshal([]byte(raw), &m))

	require.Len(t, m.Content.Parts, 1)
	p := m.Content.Parts[0]
	assert.Equal(t, PartFile, p.Type)
	assert.Equal(t, "cat.png", p.Name)
	assert.Equal(t, "data:image/png;base64,AAAA", p.URL)
	assert.True(t, p.IsImage())
	assert.True(t, m.HasFile())
}

func TestMessage_PlainText(t *testing.T) {
	m := Message{Role: RoleUser, Content: Content{Parts: []Part{
		TextPart("first"),
		FilePart("notes.txt", "text/plain", []byte("body")),
		TextPart("second"),
	}}}
	assert.Equal(t, "first\nsecond", m.PlainText())
	require.Len(t, m.Files(), 1)
	assert.Equal(t, []byte("body"), m.Files()[0].Bytes())
}

func TestNewFileMessage_SkipsReplyWithoutCaption(t *testing.T) {
	m := NewFileMessage("a.pdf", "application/pdf", []byte{1, 2}, "")
	assert.True(t, m.SkipReply)
	assert.NotEmpty(t, m.ID)

	m = NewFileMessage("a.pdf", "application/pdf", []byte{1, 2}, "summarize")
	assert.False(t, m.SkipReply)
}

// =============================================================================
// SNAPSHOT TESTS
// =============================================================================

func TestSnapshot_RoundTrip(t *testing.T) {
	id := "c1"
	s := &Snapshot{
		Conversations: []Conversation{
			{
				ID:        "c1",
				Title:     "Hello",
				CreatedAt: fixedTime(),
				UpdatedAt: fixedTime().Add(time.Minute).UnixMilli(),
				Model:     "gpt-4o",
				Favorite:  true,
				Messages: []Message{
					{ID: "m1", Role: RoleUser, Content: Content{Text: "Hello"}, Timestamp: fixedTime()},
					{ID: "m2", Role: RoleAssistant, Content: Content{Text: "Hi!"}, Timestamp: fixedTime()},
					{ID: "m3", Role: RoleUser, Content: Content{Parts: []Part{FilePart("a.txt", "text/plain", []byte("x"))}}, SkipReply: true, Timestamp: fixedTime()},
				},
			},
			NewConversation("c2", fixedTime()),
		},
		CurrentID: &id,
	}

	data, err := json.Marshal(s)
	require.NoError(t, err)

	back, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, s, back)
}

func TestSnapshot_EmptyMarshalsArray(t *testing.T) {
	data, err := json.Marshal(Snapshot{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"chatHistories":[],"currentChatId":null}`, string(data))
}

func TestSnapshot_Sanitize(t *testing.T) {
	missing := "gone"
	s := &Snapshot{
		Conversations: []Conversation{
			{ID: "a", Title: "first"},
			{ID: "a", Title: "duplicate"},
			{ID: ""},
			{ID: "b"},
		},
		CurrentID: &missing,
	}
	s.Sanitize()

	require.Len(t, s.Conversations, 2)
	assert.Equal(t, "first", s.Conversations[0].Title)
	assert.Equal(t, DefaultTitle, s.Conversations[1].Title)
	assert.NotNil(t, s.Conversations[1].Messages)
	assert.Nil(t, s.CurrentID)
}

func TestDecodeSnapshot_NullAndGarbage(t *testing.T) {
	s, err := DecodeSnapshot([]byte("null"))
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = DecodeSnapshot([]byte("{not json"))
	assert.Error(t, err)
}

// =============================================================================
// TITLE TESTS
// =============================================================================

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name string
		msgs []Message
		want string
		ok   bool
	}{
		{
			name: "truncates long text",
			msgs: []Message{NewTextMessage(RoleUser, "Explain quantum computing in simple terms please")},
			want: "Explain quantum comp...",
			ok:   true,
		},
		{
			name: "short text kept",
			msgs: []Message{NewTextMessage(RoleUser, "  Hello\nthere ")},
			want: "Hello there",
			ok:   true,
		},
		{
			name: "skips files and assistant",
			msgs: []Message{
				NewFileMessage("a.png", "image/png", []byte{1}, "caption"),
				NewTextMessage(RoleAssistant, "welcome"),
				NewTextMessage(RoleUser, "real question"),
			},
			want: "real question",
			ok:   true,
		},
		{
			name: "nothing qualifies",
			msgs: []Message{NewFileMessage("a.png", "image/png", []byte{1}, "")},
			ok:   false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := DeriveTitle(tc.msgs, DefaultTitleRunes)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDeriveTitle_NormalizesNFC(t *testing.T) {
	// "e" + combining acute accent composes to a single rune.
	got, ok := DeriveTitle([]Message{NewTextMessage(RoleUser, "cafe\u0301")}, 4)
	require.True(t, ok)
	assert.Equal(t, "caf\u00e9", got)
}

func TestConversation_Helpers(t *testing.T) {
	c := NewConversation("x", fixedTime())
	assert.True(t, c.HasDefaultTitle())
	assert.Nil(t, c.LastMessage())
	assert.Equal(t, fixedTime(), c.Updated())

	c.Messages = append(c.Messages, NewTextMessage(RoleUser, "hi"))
	assert.Equal(t, "hi", c.LastMessage().PlainText())
}

func TestConversation_HasDefaultTitle(t *testing.T) {
	c := NewConversation("x", fixedTime())
	c.Title = "新对话"
	assert.True(t, c.HasDefaultTitle(), "legacy placeholder is unnamed")

	c.Title = DefaultTitle
	c.Named = true
	assert.False(t, c.HasDefaultTitle(), "explicit rename to the placeholder sticks")

	c.Title = "Trip plans"
	c.Named = false
	assert.False(t, c.HasDefaultTitle())
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/cloud"
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/storage"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// stubCompleter replies "Hi there" to every request.
type stubCompleter struct{}

func (stubCompleter) Params(modelName string) cloud.Params {
	if modelName == "" {
		modelName = "stub"
	}
	return cloud.Params{Model: modelName, N: 1, TopP: 1}
}

func (stubCompleter) Stream(context.Context, openai.ChatCompletionRequest) (*cloud.Decoder, error) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"Hi \"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"there\"}}]}\n" +
		"data: [DONE]\n"
	return cloud.NewDecoder(io.NopCloser(strings.NewReader(body)), zerolog.Nop()), nil
}

// scriptReader feeds fixed lines to the REPL, then EOF.
type scriptReader struct {
	lines   []string
	history []string
}

func (s *scriptReader) Prompt(string) (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scriptReader) AppendHistory(item string) {
	s.history = append(s.history, item)
}

func testConfig(t *testing.T, backend storage.Backend) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Backend = string(backend)
	cfg.Storage.DataDir = t.TempDir()
	cfg.Persistence.DebounceMs = 10
	return cfg
}

func openTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	app, err := openApp(context.Background(), cfg, zerolog.Nop(), appOptions{completer: stubCompleter{}})
	require.NoError(t, err)
	return app
}

// =============================================================================
// APP WIRING
// =============================================================================

func TestAppAutoUsesBridgeWhenHostAnswers(t *testing.T) {
	cfg := testConfig(t, storage.BackendAuto)
	app := openTestApp(t, cfg)
	assert.Equal(t, "bridge", app.Adapter.Name())

	id := app.Repository.CreateConversation()
	require.True(t, app.Orchestrator.SendMessage(id, model.NewTextMessage(model.RoleUser, "hello")))
	app.Orchestrator.Wait()
	require.NoError(t, app.Close())

	// The host wrote through to the data file.
	snap, ok := storage.NewFileStore(cfg.Storage.DataDir, zerolog.Nop()).Load(context.Background())
	require.True(t, ok)
	require.Len(t, snap.Conversations, 1)
	assert.Equal(t, "hello", snap.Conversations[0].Title)
	require.Len(t, snap.Conversations[0].Messages, 2)
	assert.Equal(t, "Hi there", snap.Conversations[0].Messages[1].PlainText())
}

func TestAppAutoFallsBackToKV(t *testing.T) {
	cfg := testConfig(t, storage.BackendAuto)
	cfg.Storage.Host = false
	cfg.Storage.ProbeTimeoutMs = 50

	app := openTestApp(t, cfg)
	assert.Equal(t, "kv", app.Adapter.Name())
	id := app.Repository.CreateConversation()
	app.Repository.RenameConversation(id, "kept")
	require.NoError(t, app.Close())

	reopened := openTestApp(t, cfg)
	defer reopened.Close()
	conv, ok := reopened.Repository.Conversation(id)
	require.True(t, ok)
	assert.Equal(t, "kept", conv.Title)
	assert.Equal(t, id, reopened.Repository.CurrentID())
}

func TestAppFileBackendRoundTrip(t *testing.T) {
	cfg := testConfig(t, storage.BackendFile)
	app := openTestApp(t, cfg)
	id := app.Repository.CreateConversation()
	app.Repository.SetFavorite(id, true)
	require.NoError(t, app.Close())

	_, err := os.Stat(filepath.Join(cfg.Storage.DataDir, storage.DataFileName))
	require.NoError(t, err)

	reopened := openTestApp(t, cfg)
	defer reopened.Close()
	conv, ok := reopened.Repository.Conversation(id)
	require.True(t, ok)
	assert.True(t, conv.Favorite)
}

func TestAppBridgeWithoutHostFails(t *testing.T) {
	cfg := testConfig(t, storage.BackendBridge)
	cfg.Storage.Host = false

	_, err := openApp(context.Background(), cfg, zerolog.Nop(), appOptions{completer: stubCompleter{}})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrBridgeUnavailable)
}

// =============================================================================
// REPL
// =============================================================================

func TestREPLSession(t *testing.T) {
	app := openTestApp(t, testConfig(t, storage.BackendFile))
	defer app.Close()

	attachment := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(attachment, []byte("remember the milk"), 0600))

	in := &scriptReader{lines: []string{
		"hello",
		"",
		"/rename Greeting",
		"/new",
		"/attach " + attachment,
		"/list",
		"/switch 2",
		"/fav",
		"/bogus",
		"/quit",
		"never read",
	}}
	var out bytes.Buffer
	require.NoError(t, NewREPL(app, in, &out).Run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "Hi there")
	assert.Contains(t, text, "Attached.")
	assert.Contains(t, text, "Greeting")
	assert.Contains(t, text, "unknown command /bogus")
	assert.Equal(t, []string{"never read"}, in.lines)
	assert.NotContains(t, in.history, "")

	snap := app.Repository.State()
	require.Len(t, snap.Conversations, 2)
	greeting := snap.Conversations[1]
	assert.Equal(t, "Greeting", greeting.Title)
	assert.True(t, greeting.Favorite)
	require.NotNil(t, snap.CurrentID)
	assert.Equal(t, greeting.ID, *snap.CurrentID)

	upload := snap.Conversations[0]
	require.Len(t, upload.Messages, 1)
	files := upload.Messages[0].Files()
	require.Len(t, files, 1)
	assert.Equal(t, "notes.txt", files[0].Name)
	assert.Equal(t, "remember the milk", string(files[0].Bytes()))
}

func TestREPLDeleteAndClear(t *testing.T) {
	app := openTestApp(t, testConfig(t, storage.BackendFile))
	defer app.Close()
	app.Repository.CreateConversation()
	app.Repository.CreateConversation()

	in := &scriptReader{lines: []string{"/delete", "/delete 5", "/clear"}}
	var out bytes.Buffer
	require.NoError(t, NewREPL(app, in, &out).Run(context.Background()))

	assert.Contains(t, out.String(), "no conversation matches")
	assert.Empty(t, app.Repository.State().Conversations)
}

func TestREPLExport(t *testing.T) {
	app := openTestApp(t, testConfig(t, storage.BackendFile))
	defer app.Close()
	dir := t.TempDir()

	in := &scriptReader{lines: []string{"/export", "hello", "/export json " + dir, "/export html"}}
	var out bytes.Buffer
	require.NoError(t, NewREPL(app, in, &out).Run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "no conversation selected")
	assert.Contains(t, text, "Exported to")
	assert.Contains(t, text, "unknown export format")

	matches, err := filepath.Glob(filepath.Join(dir, "conversation_hello_*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	var conv model.Conversation
	require.NoError(t, json.Unmarshal(data, &conv))
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "Hi there", conv.Messages[1].PlainText())
}

// =============================================================================
// HELPERS
// =============================================================================

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input, name, arg string
	}{
		{"/quit", "quit", ""},
		{"/Rename  My title ", "rename", "My title"},
		{"/attach /tmp/a.png what is this", "attach", "/tmp/a.png what is this"},
	}
	for _, tt := range tests {
		name, arg := parseCommand(tt.input)
		assert.Equal(t, tt.name, name, tt.input)
		assert.Equal(t, tt.arg, arg, tt.input)
	}
}

func TestResolveRef(t *testing.T) {
	snap := &model.Snapshot{Conversations: []model.Conversation{
		{ID: "abc123"}, {ID: "abd456"}, {ID: "xyz789"},
	}}

	tests := []struct {
		ref  string
		want string
		ok   bool
	}{
		{"1", "abc123", true},
		{"3", "xyz789", true},
		{"4", "", false},
		{"0", "", false},
		{"abd456", "abd456", true},
		{"xy", "xyz789", true},
		{"ab", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := resolveRef(snap, tt.ref)
		assert.Equal(t, tt.ok, ok, tt.ref)
		assert.Equal(t, tt.want, got, tt.ref)
	}
}

func TestRenderList(t *testing.T) {
	current := "b"
	snap := &model.Snapshot{
		Conversations: []model.Conversation{
			{ID: "b", Title: "Current one", Messages: make([]model.Message, 3), Favorite: true},
			{ID: "a", Title: "A very long conversation title that will not fit in the column at all"},
		},
		CurrentID: &current,
	}
	var out bytes.Buffer
	RenderList(&out, snap, 60)

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "*+1."), lines[0])
	assert.Contains(t, lines[0], "3 msg")
	assert.Contains(t, lines[1], "…")

	out.Reset()
	RenderList(&out, model.EmptySnapshot(), 80)
	assert.Contains(t, out.String(), "No conversations yet.")
}

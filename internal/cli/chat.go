// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat REPL for rigrun-chat.
//
// USABILITY: Supports arrow keys for history navigation and line editing.

package cli

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/pkg/errors"

	"github.com/jeranaias/rigrun-chat/internal/chat"
	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/export"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// MaxAttachmentSize caps files accepted by /attach.
const MaxAttachmentSize = 20 << 20

// =============================================================================
// INPUT HISTORY
// =============================================================================

// LineReader is the line editor the REPL reads from. *liner.State
// implements it.
type LineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// lineEditor wraps liner with a history file in the config directory.
type lineEditor struct {
	*liner.State
	historyFile string
}

func newLineEditor() *lineEditor {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	e := &lineEditor{State: line, historyFile: filepath.Join(dir, "repl_history")}
	if f, err := os.Open(e.historyFile); err == nil {
		_, _ = e.ReadHistory(f)
		f.Close()
	}
	return e
}

// Close saves history with owner-only permissions and restores the terminal.
func (e *lineEditor) Close() error {
	if err := os.MkdirAll(filepath.Dir(e.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(e.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = e.WriteHistory(f)
			f.Close()
		}
	}
	return e.State.Close()
}

// =============================================================================
// REPL
// =============================================================================

// REPL is the interactive shell over a repository and orchestrator.
type REPL struct {
	repo  *chat.Repository
	orch  *chat.Orchestrator
	in    LineReader
	out   io.Writer
	width int
}

// NewREPL creates a REPL reading from in and writing to out.
func NewREPL(app *App, in LineReader, out io.Writer) *REPL {
	return &REPL{
		repo:  app.Repository,
		orch:  app.Orchestrator,
		in:    in,
		out:   out,
		width: GetTerminalWidth(),
	}
}

// Run reads lines until /quit, EOF or ctx is cancelled.
func (r *REPL) Run(ctx context.Context) error {
	r.printf("%s\n%s\n\n", TitleStyle.Render("rigrun-chat"), DimStyle.Render("Type a message, or /help for commands."))
	if conv, ok := r.repo.Current(); ok {
		r.printTranscript(conv)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		input, err := r.in.Prompt(r.prompt())
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				r.printf("\n")
				return nil
			}
			return errors.Wrap(err, "read input")
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		r.in.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			name, arg := parseCommand(input)
			quit, err := r.command(ctx, name, arg)
			if err != nil {
				r.printf("%s %v\n", ErrorStyle.Render("[Error]"), err)
			}
			if quit {
				return nil
			}
			continue
		}

		r.send(ctx, model.NewTextMessage(model.RoleUser, input))
	}
}

// prompt stays free of escape codes; liner measures it by runes.
func (r *REPL) prompt() string {
	conv, ok := r.repo.Current()
	if !ok {
		return "new> "
	}
	return util.Ellipsize(conv.Title, 16) + "> "
}

func (r *REPL) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}

// send hands msg to the orchestrator and follows the reply until it settles.
func (r *REPL) send(ctx context.Context, msg model.Message) {
	before := 0
	if conv, ok := r.repo.Current(); ok {
		before = len(conv.Messages)
	}

	id, ok := r.orch.Send(msg)
	if !ok {
		r.printf("%s\n", WarningStyle.Render("A reply is still in progress for this conversation."))
		return
	}
	if msg.SkipReply {
		r.printf("%s\n", DimStyle.Render("Attached."))
		return
	}
	r.follow(ctx, id, before+1)
}

// follow prints the streaming buffer of id as it grows, then any remaining
// text of the finalized reply at index replyAt, then the failure notice.
func (r *REPL) follow(ctx context.Context, id string, replyAt int) {
	updates, cancel := r.repo.Subscribe()
	defer cancel()

	r.printf("%s ", RenderRole(model.RoleAssistant))
	printed := 0
	for {
		v, ok := r.repo.View(id)
		if !ok {
			r.printf("\n")
			return
		}
		if v.InFlight {
			if len(v.Buffer) > printed {
				r.printf("%s", v.Buffer[printed:])
				printed = len(v.Buffer)
			}
		} else {
			msgs := v.Conversation.Messages
			if replyAt < len(msgs) && msgs[replyAt].Role == model.RoleAssistant {
				if text := msgs[replyAt].PlainText(); len(text) > printed {
					r.printf("%s", text[printed:])
				}
			}
			r.printf("\n")
			if v.Notice != "" {
				r.printf("%s\n", ErrorStyle.Render(v.Notice))
			}
			r.printf("\n")
			return
		}

		select {
		case <-updates:
		case <-ctx.Done():
			r.printf("\n")
			return
		}
	}
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// parseCommand splits "/name rest of line" into name and argument.
func parseCommand(input string) (name, arg string) {
	input = strings.TrimPrefix(strings.TrimSpace(input), "/")
	name, arg, _ = strings.Cut(input, " ")
	return strings.ToLower(name), strings.TrimSpace(arg)
}

// command runs one slash command. quit reports whether the REPL should exit.
func (r *REPL) command(ctx context.Context, name, arg string) (quit bool, err error) {
	switch name {
	case "quit", "exit", "q":
		return true, nil

	case "help", "h", "?":
		r.printHelp()

	case "new":
		r.repo.CreateConversation()
		r.printf("%s\n", SuccessStyle.Render("Started a new conversation."))

	case "list", "ls":
		RenderList(r.out, r.repo.State(), r.width)

	case "switch", "open":
		id, err := r.resolve(arg)
		if err != nil {
			return false, err
		}
		r.repo.SelectConversation(&id)
		if conv, ok := r.repo.Conversation(id); ok {
			r.printTranscript(conv)
		}

	case "delete", "rm":
		id := r.repo.CurrentID()
		if arg != "" {
			if id, err = r.resolve(arg); err != nil {
				return false, err
			}
		}
		if id == "" {
			return false, errors.New("no conversation selected")
		}
		r.repo.DeleteConversation(id)
		r.printf("%s\n", SuccessStyle.Render("Deleted."))

	case "rename":
		id := r.repo.CurrentID()
		if id == "" {
			return false, errors.New("no conversation selected")
		}
		if arg == "" {
			return false, errors.New("usage: /rename <title>")
		}
		r.repo.RenameConversation(id, arg)

	case "fav", "favorite":
		conv, ok := r.repo.Current()
		if !ok {
			return false, errors.New("no conversation selected")
		}
		r.repo.SetFavorite(conv.ID, !conv.Favorite)

	case "model":
		conv, ok := r.repo.Current()
		if !ok {
			return false, errors.New("no conversation selected")
		}
		r.repo.SetModel(conv.ID, arg)

	case "attach":
		path, caption, _ := strings.Cut(arg, " ")
		if path == "" {
			return false, errors.New("usage: /attach <path> [caption]")
		}
		msg, err := loadAttachment(path, strings.TrimSpace(caption))
		if err != nil {
			return false, err
		}
		r.send(ctx, msg)

	case "export":
		conv, ok := r.repo.Current()
		if !ok {
			return false, errors.New("no conversation selected")
		}
		format, dir, _ := strings.Cut(arg, " ")
		path, err := exportConversation(&conv, format, strings.TrimSpace(dir))
		if err != nil {
			return false, err
		}
		r.printf("%s %s\n", SuccessStyle.Render("Exported to"), path)

	case "clear":
		r.repo.ClearAll()
		r.printf("%s\n", SuccessStyle.Render("All conversations cleared."))

	default:
		return false, errors.Errorf("unknown command /%s (try /help)", name)
	}
	return false, nil
}

// resolve maps a 1-based list index, an id, or a unique id prefix to an id.
func (r *REPL) resolve(ref string) (string, error) {
	id, ok := resolveRef(r.repo.State(), ref)
	if !ok {
		return "", errors.Errorf("no conversation matches %q", ref)
	}
	return id, nil
}

func resolveRef(snap *model.Snapshot, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	var n int
	if _, err := fmt.Sscanf(ref, "%d", &n); err == nil && fmt.Sprint(n) == ref {
		if n >= 1 && n <= len(snap.Conversations) {
			return snap.Conversations[n-1].ID, true
		}
		return "", false
	}
	if c := snap.Find(ref); c != nil {
		return c.ID, true
	}
	match := ""
	for _, c := range snap.Conversations {
		if strings.HasPrefix(c.ID, ref) {
			if match != "" {
				return "", false
			}
			match = c.ID
		}
	}
	return match, match != ""
}

// loadAttachment reads path into a file message.
func loadAttachment(path, caption string) (model.Message, error) {
	info, err := os.Stat(path)
	if err != nil {
		return model.Message{}, errors.Wrap(err, "attach")
	}
	if info.IsDir() {
		return model.Message{}, errors.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxAttachmentSize {
		return model.Message{}, errors.Errorf("%s is larger than %d MiB", path, MaxAttachmentSize>>20)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.Message{}, errors.Wrap(err, "attach")
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" {
		mimeType = http.DetectContentType(raw)
	}
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return model.NewFileMessage(filepath.Base(path), mimeType, raw, caption), nil
}

// =============================================================================
// OUTPUT
// =============================================================================

func (r *REPL) printTranscript(conv model.Conversation) {
	r.printf("%s\n%s\n", TitleStyle.Render(conv.Title), RenderSeparator(min(r.width, 70)))
	for _, m := range conv.Messages {
		text := m.PlainText()
		for _, f := range m.Files() {
			text = strings.TrimSpace(fmt.Sprintf("[%s] %s", f.Name, text))
		}
		r.printf("%s %s\n", RenderRole(m.Role), text)
	}
	r.printf("\n")
}

func (r *REPL) printHelp() {
	rows := [][2]string{
		{"/new", "start a new conversation"},
		{"/list", "list conversations"},
		{"/switch <n|id>", "select a conversation"},
		{"/delete [n|id]", "delete a conversation (default: current)"},
		{"/rename <title>", "rename the current conversation"},
		{"/fav", "toggle favorite"},
		{"/model [name]", "set the model for this conversation"},
		{"/attach <path> [caption]", "send a file"},
		{"/export [md|json] [dir]", "write the current conversation to a file"},
		{"/clear", "delete every conversation"},
		{"/quit", "exit"},
	}
	for _, row := range rows {
		r.printf("  %s %s\n", util.PadWidth(row[0], 26), DimStyle.Render(row[1]))
	}
}

// exportConversation writes conv to dir (default ".") in the named format.
func exportConversation(conv *model.Conversation, format, dir string) (string, error) {
	opts := export.DefaultOptions()
	if dir != "" {
		opts.OutputDir = dir
	}
	exporter, err := export.ForFormat(format, opts)
	if err != nil {
		return "", err
	}
	return export.ExportToFile(conv, exporter, opts)
}

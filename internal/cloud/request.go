// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"fmt"
	"strings"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// DefaultSystemPrompt is prepended to every conversation unless configured
// otherwise.
const DefaultSystemPrompt = "You are a helpful assistant."

// maxInlineFile caps how much of a text attachment is inlined into a prompt.
const maxInlineFile = 64 * 1024

// Params are the per-request model and sampling parameters.
type Params struct {
	Model        string
	Temperature  float32
	MaxTokens    int
	TopP         float32
	N            int
	SystemPrompt string
}

// BuildRequest assembles a streaming request for history.
func BuildRequest(p Params, history []model.Message) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       p.Model,
		Messages:    ToChatMessages(history, p.SystemPrompt),
		Stream:      true,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		TopP:        p.TopP,
		N:           p.N,
	}
}

// ToChatMessages converts history to provider messages. systemPrompt is
// prepended unless it is empty or history already opens with a system
// message. Messages without any content are dropped.
func ToChatMessages(history []model.Message, systemPrompt string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if systemPrompt != "" && (len(history) == 0 || history[0].Role != model.RoleSystem) {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	for _, m := range history {
		if msg, ok := toChatMessage(m); ok {
			out = append(out, msg)
		}
	}
	return out
}

func toChatMessage(m model.Message) (openai.ChatCompletionMessage, bool) {
	role := m.Role.String()

	// Only user turns may carry multi-part content.
	if m.Content.Parts == nil || m.Role != model.RoleUser {
		text := m.PlainText()
		if text == "" {
			return openai.ChatCompletionMessage{}, false
		}
		return openai.ChatCompletionMessage{Role: role, Content: text}, true
	}

	parts := make([]openai.ChatMessagePart, 0, len(m.Content.Parts))
	for _, p := range m.Content.Parts {
		switch {
		case p.Type == model.PartText:
			if p.Text != "" {
				parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: p.Text})
			}
		case p.IsImage():
			if url := imageURL(p); url != "" {
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: url, Detail: openai.ImageURLDetailAuto},
				})
			}
		case p.Type == model.PartFile:
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: describeFile(p)})
		}
	}
	if len(parts) == 0 {
		return openai.ChatCompletionMessage{}, false
	}
	return openai.ChatCompletionMessage{Role: role, MultiContent: parts}, true
}

func imageURL(p model.Part) string {
	if p.URL != "" {
		return p.URL
	}
	if p.Data == "" {
		return ""
	}
	return "data:" + p.MimeType + ";base64," + p.Data
}

// describeFile renders a non-image attachment as text. Textual payloads are
// inlined.
func describeFile(p model.Part) string {
	header := fmt.Sprintf("[Attached file: %s", p.Name)
	if p.MimeType != "" {
		header += " (" + p.MimeType + ")"
	}
	header += "]"

	if p.URL != "" {
		return header + "\n" + p.URL
	}
	raw := p.Bytes()
	if len(raw) == 0 || !isTextual(p.MimeType) || !utf8.Valid(raw) {
		return header
	}
	if len(raw) > maxInlineFile {
		raw = raw[:maxInlineFile]
		for !utf8.Valid(raw) {
			raw = raw[:len(raw)-1]
		}
	}
	return header + "\n" + string(raw)
}

func isTextual(mime string) bool {
	return strings.HasPrefix(mime, "text/") ||
		mime == "application/json" ||
		mime == "application/xml" ||
		mime == "application/x-yaml"
}

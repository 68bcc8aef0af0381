// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/rigrun-chat/internal/util"
)

// DefaultTitleRunes is the title length budget, excluding the ellipsis.
const DefaultTitleRunes = 20

// DeriveTitle builds a title from the first user message that carries text
// and no attachment. ok is false when no message qualifies.
func DeriveTitle(msgs []Message, maxRunes int) (title string, ok bool) {
	if maxRunes <= 0 {
		maxRunes = DefaultTitleRunes
	}
	for _, m := range msgs {
		if m.Role != RoleUser || m.HasFile() {
			continue
		}
		text := util.CollapseSpace(norm.NFC.String(m.PlainText()))
		if text == "" {
			continue
		}
		return util.Ellipsize(text, maxRunes), true
	}
	return "", false
}

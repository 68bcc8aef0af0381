// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// Fixed list columns: marker, index, message count, updated.
const (
	markerCols  = 2
	indexCols   = 4
	countCols   = 6
	updatedCols = 17
)

// RenderList writes one row per conversation, newest first. The selected
// conversation is marked with "*" and favorites with "+".
func RenderList(w io.Writer, snap *model.Snapshot, width int) {
	if len(snap.Conversations) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No conversations yet."))
		return
	}
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}
	titleCols := width - markerCols - indexCols - countCols - updatedCols - 3

	current := ""
	if snap.CurrentID != nil {
		current = *snap.CurrentID
	}
	for i, c := range snap.Conversations {
		marker := " "
		if c.ID == current {
			marker = "*"
		}
		if c.Favorite {
			marker += "+"
		} else {
			marker += " "
		}

		row := fmt.Sprintf("%s%s %s %s %s",
			marker,
			util.PadWidth(fmt.Sprintf("%d.", i+1), indexCols),
			util.PadWidth(c.Title, titleCols),
			util.PadWidth(fmt.Sprintf("%d msg", len(c.Messages)), countCols),
			util.PadWidth(formatUpdated(c.Updated()), updatedCols),
		)
		if c.ID == current {
			row = HighlightStyle.Render(row)
		}
		fmt.Fprintln(w, row)
	}
}

func formatUpdated(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

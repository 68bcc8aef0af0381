// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// STREAMING: Robust SSE parsing with error handling

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

// MaxLineSize is the maximum allowed size for a single stream line (1MB).
const MaxLineSize = 1 << 20

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// streamFrame is one decoded data payload. Some providers report failures
// mid-stream as an error object instead of a chunk.
type streamFrame struct {
	openai.ChatCompletionStreamResponse
	Error *errorBody `json:"error,omitempty"`
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder turns a server-sent event body into a sequence of text deltas.
//
// Lines are only interpreted once complete, so a multi-byte character split
// across network reads is reassembled before decoding. The body is closed
// exactly once: when the sequence terminates (done marker, end of input or
// error) or when Close is called, whichever comes first.
type Decoder struct {
	body   io.ReadCloser
	reader *bufio.Reader
	log    zerolog.Logger

	done    bool
	err     error
	pending error

	frames  int
	skipped int

	closeOnce sync.Once
	closeErr  error
}

// NewDecoder wraps body. The Decoder takes ownership of it.
func NewDecoder(body io.ReadCloser, logger zerolog.Logger) *Decoder {
	return &Decoder{
		body:   body,
		reader: bufio.NewReaderSize(body, 32*1024),
		log:    logger,
	}
}

// Next returns the next non-empty delta. It returns io.EOF once the stream
// has ended normally and the terminating error on every later call.
func (d *Decoder) Next() (string, error) {
	if d.done {
		return "", d.err
	}
	if d.pending != nil {
		return d.finish(d.pending)
	}

	for {
		line, readErr := d.readLine()
		if len(line) > 0 {
			delta, stop, err := d.interpret(line)
			if err != nil {
				return d.finish(err)
			}
			if stop {
				return d.finish(io.EOF)
			}
			if delta != "" {
				if readErr != nil {
					d.pending = streamErr(readErr)
				}
				return delta, nil
			}
		}
		if readErr != nil {
			return d.finish(streamErr(readErr))
		}
	}
}

func streamErr(err error) error {
	if err == io.EOF {
		return io.EOF
	}
	if errors.Is(err, ErrLineTooLong) {
		return err
	}
	return &StreamError{Err: err}
}

// readLine reads through the next newline, enforcing MaxLineSize.
func (d *Decoder) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := d.reader.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > MaxLineSize {
			return nil, ErrLineTooLong
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		return line, err
	}
}

// interpret handles one line. Non-data lines and frames without content
// yield an empty delta.
func (d *Decoder) interpret(line []byte) (delta string, stop bool, err error) {
	line = bytes.TrimRight(line, "\r\n")
	if !bytes.HasPrefix(line, dataPrefix) {
		// event:, id:, retry: and ":" comments
		return "", false, nil
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if len(payload) == 0 {
		return "", false, nil
	}

	d.frames++
	if bytes.Equal(payload, doneMarker) {
		return "", true, nil
	}

	var frame streamFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		d.skipped++
		d.log.Warn().Err(err).Int("frame", d.frames).Msg("skipping malformed stream frame")
		return "", false, nil
	}
	if frame.Error != nil && frame.Error.Message != "" {
		return "", false, &APIError{Code: frame.Error.code(), Message: frame.Error.Message}
	}
	if len(frame.Choices) == 0 {
		return "", false, nil
	}
	return frame.Choices[0].Delta.Content, false, nil
}

func (d *Decoder) finish(err error) (string, error) {
	d.done = true
	d.err = err
	d.pending = nil
	d.Close()
	d.log.Debug().Int("frames", d.frames).Int("skipped", d.skipped).Msg("stream finished")
	return "", err
}

// Close releases the response body. It is safe to call more than once.
func (d *Decoder) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.body.Close()
	})
	return d.closeErr
}

// Each calls fn for every delta until the stream ends. It returns nil on a
// normal end and checks ctx between frames.
func (d *Decoder) Each(ctx context.Context, fn func(delta string)) error {
	defer d.Close()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		delta, err := d.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		fn(delta)
	}
}

// Collect drains the stream and returns the concatenated text.
func (d *Decoder) Collect(ctx context.Context) (string, error) {
	var b strings.Builder
	err := d.Each(ctx, func(delta string) { b.WriteString(delta) })
	return b.String(), err
}

// Frames returns the number of data frames seen so far.
func (d *Decoder) Frames() int {
	return d.frames
}

// Skipped returns the number of malformed frames that were ignored.
func (d *Decoder) Skipped() int {
	return d.skipped
}

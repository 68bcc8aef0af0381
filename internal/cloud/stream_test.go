// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingBody records how often Close is called.
type countingBody struct {
	io.Reader
	closes int
}

func (b *countingBody) Close() error {
	b.closes++
	return nil
}

func newTestDecoder(r io.Reader) (*Decoder, *countingBody) {
	body := &countingBody{Reader: r}
	return NewDecoder(body, zerolog.Nop()), body
}

func frame(content string) string {
	return `data:{"choices":[{"index":0,"delta":{"content":"` + content + `"}}]}` + "\n\n"
}

func drain(t *testing.T, d *Decoder) []string {
	t.Helper()
	var deltas []string
	for {
		delta, err := d.Next()
		if err == io.EOF {
			return deltas
		}
		require.NoError(t, err)
		deltas = append(deltas, delta)
	}
}

// =============================================================================
// FRAME DECODING TESTS
// =============================================================================

func TestDecoder_ReconstructsText(t *testing.T) {
	d, body := newTestDecoder(strings.NewReader(frame("Hel") + frame("lo") + "data:[DONE]\n\n"))

	assert.Equal(t, []string{"Hel", "lo"}, drain(t, d))
	assert.Equal(t, 3, d.Frames())
	assert.Equal(t, 1, body.closes)
}

func TestDecoder_SkipsMalformedFrames(t *testing.T) {
	input := frame("Hel") + "data:{not json}\n\n" + frame("lo") + "data: [DONE]\n"
	d, _ := newTestDecoder(strings.NewReader(input))

	assert.Equal(t, []string{"Hel", "lo"}, drain(t, d))
	assert.Equal(t, 1, d.Skipped())
}

func TestDecoder_IgnoresNonDataLines(t *testing.T) {
	input := ": keep-alive\n" +
		"event: message\n" +
		"id: 7\n" +
		"retry: 1000\n" +
		"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n" +
		"data: {\"choices\":[]}\n" +
		"data:\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\r\n" +
		"data: [DONE]\r\n"
	d, _ := newTestDecoder(strings.NewReader(input))

	assert.Equal(t, []string{"ok"}, drain(t, d))
	assert.Equal(t, 0, d.Skipped())
}

func TestDecoder_StopsAtDone(t *testing.T) {
	d, _ := newTestDecoder(strings.NewReader(frame("a") + "data: [DONE]\n\n" + frame("ignored")))
	assert.Equal(t, []string{"a"}, drain(t, d))
}

func TestDecoder_NaturalEndWithoutNewline(t *testing.T) {
	input := frame("first") + `data:{"choices":[{"delta":{"content":"last"}}]}`
	d, body := newTestDecoder(strings.NewReader(input))

	assert.Equal(t, []string{"first", "last"}, drain(t, d))
	assert.Equal(t, 1, body.closes)
}

func TestDecoder_SplitMultibyteCharacters(t *testing.T) {
	text := []string{"héllo ", "世界", " 🚀"}
	var input strings.Builder
	for _, s := range text {
		input.WriteString(frame(s))
	}
	input.WriteString("data: [DONE]\n")

	// One byte per read splits every multi-byte sequence across reads.
	d, _ := newTestDecoder(iotest.OneByteReader(strings.NewReader(input.String())))

	assert.Equal(t, text, drain(t, d))
}

func TestDecoder_EmptyStream(t *testing.T) {
	d, body := newTestDecoder(strings.NewReader(""))

	_, err := d.Next()
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 1, body.closes)
}

// =============================================================================
// TERMINATION TESTS
// =============================================================================

func TestDecoder_CloseExactlyOnce(t *testing.T) {
	d, body := newTestDecoder(strings.NewReader(frame("x") + "data: [DONE]\n"))

	drain(t, d)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	_, err := d.Next()
	assert.Equal(t, io.EOF, err, "terminated decoder keeps returning EOF")
	assert.Equal(t, 1, body.closes)
}

func TestDecoder_EarlyCloseByConsumer(t *testing.T) {
	d, body := newTestDecoder(strings.NewReader(frame("a") + frame("b")))

	delta, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", delta)

	d.Close()
	d.Close()
	assert.Equal(t, 1, body.closes)
}

func TestDecoder_ReadErrorTerminates(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader(frame("partial")), iotest.ErrReader(boom))
	d, body := newTestDecoder(r)

	delta, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "partial", delta)

	_, err = d.Next()
	require.Error(t, err)
	var streamErr *StreamError
	assert.ErrorAs(t, err, &streamErr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, body.closes)

	_, again := d.Next()
	assert.Equal(t, err, again)
}

func TestDecoder_ErrorFrame(t *testing.T) {
	input := frame("a") + `data: {"error":{"message":"overloaded","type":"server_error"}}` + "\n"
	d, body := newTestDecoder(strings.NewReader(input))

	_, err := d.Next()
	require.NoError(t, err)
	_, err = d.Next()

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "overloaded", apiErr.Message)
	assert.Equal(t, "server_error", apiErr.Code)
	assert.Equal(t, "provider error [server_error] in stream: overloaded", apiErr.Error())
	assert.Equal(t, 1, body.closes)
}

func TestDecoder_LineTooLong(t *testing.T) {
	input := "data: " + strings.Repeat("x", MaxLineSize+10) + "\n"
	d, _ := newTestDecoder(strings.NewReader(input))

	_, err := d.Next()
	assert.ErrorIs(t, err, ErrLineTooLong)
}

// =============================================================================
// CONSUMER HELPERS TESTS
// =============================================================================

func TestDecoder_Collect(t *testing.T) {
	d, body := newTestDecoder(strings.NewReader(frame("Hel") + frame("lo") + "data: [DONE]\n"))

	text, err := d.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
	assert.Equal(t, 1, body.closes)
}

func TestDecoder_EachHonorsContext(t *testing.T) {
	d, body := newTestDecoder(strings.NewReader(frame("a") + frame("b") + frame("c")))
	ctx, cancel := context.WithCancel(context.Background())

	var got []string
	err := d.Each(ctx, func(delta string) {
		got = append(got, delta)
		cancel()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, 1, body.closes)
}

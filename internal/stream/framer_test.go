// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// FRAME BUFFER TESTS
// =============================================================================

// appendOK appends raw and fails the test on a size error.
func appendOK(t *testing.T, fb *FrameBuffer, raw []byte) []string {
	t.Helper()
	frames, err := fb.Append(raw)
	require.NoError(t, err)
	return frames
}

func TestFrameBuffer_SplitFrame(t *testing.T) {
	fb := NewFrameBuffer()

	frames := appendOK(t, fb, []byte(`{"message":{"content":"Hel`))
	assert.Empty(t, frames, "no terminator yet")
	assert.Equal(t, `{"message":{"content":"Hel`, fb.Pending())

	frames = appendOK(t, fb, []byte(`lo"}}` + "\n"))
	require.Equal(t, []string{`{"message":{"content":"Hello"}}`}, frames)
	assert.Empty(t, fb.Pending())
}

func TestFrameBuffer_MultipleFramesOneChunk(t *testing.T) {
	fb := NewFrameBuffer()

	frames := appendOK(t, fb, []byte("a\nb\n\nc"))
	assert.Equal(t, []string{"a", "b", ""}, frames, "blank frames are not filtered here")
	assert.Equal(t, "c", fb.Pending())

	frames = appendOK(t, fb, []byte("\n"))
	assert.Equal(t, []string{"c"}, frames)
}

func TestFrameBuffer_MultiByteSplit(t *testing.T) {
	text := "héllo 日本 🦊\n"
	raw := []byte(text)

	// Split at every byte position, including inside each multi-byte rune.
	for cut := 1; cut < len(raw); cut++ {
		fb := NewFrameBuffer()
		var frames []string
		frames = append(frames, appendOK(t, fb, raw[:cut])...)
		frames = append(frames, appendOK(t, fb, raw[cut:])...)

		require.Equal(t, []string{"héllo 日本 🦊"}, frames, "cut at %d", cut)
		assert.Zero(t, fb.Incomplete())
	}
}

func TestFrameBuffer_ByteAtATime(t *testing.T) {
	raw := []byte("über\n🦊🦊\n")
	fb := NewFrameBuffer()

	var frames []string
	for i := range raw {
		frames = append(frames, appendOK(t, fb, raw[i:i+1])...)
	}
	assert.Equal(t, []string{"über", "🦊🦊"}, frames)
}

func TestFrameBuffer_HoldsIncompleteRune(t *testing.T) {
	fox := []byte("🦊")
	fb := NewFrameBuffer()

	assert.Empty(t, appendOK(t, fb, fox[:2]))
	assert.Equal(t, 2, fb.Incomplete())
	assert.Empty(t, fb.Pending())

	assert.Empty(t, appendOK(t, fb, fox[2:]))
	assert.Zero(t, fb.Incomplete())
	assert.Equal(t, "🦊", fb.Pending())
}

func TestFrameBuffer_InvalidBytes(t *testing.T) {
	fb := NewFrameBuffer()
	frames := appendOK(t, fb, []byte{'a', 0xff, 'b', '\n'})
	assert.Equal(t, []string{"a�b"}, frames)
}

func TestFrameBuffer_LargeChunk(t *testing.T) {
	line := strings.Repeat("é", scratchSize) // larger than the scratch buffer
	fb := NewFrameBuffer()

	frames := appendOK(t, fb, []byte(line + "\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, line, frames[0])
}

func TestFrameBuffer_Reset(t *testing.T) {
	fb := NewFrameBuffer()
	appendOK(t, fb, []byte("partial"))
	appendOK(t, fb, []byte{0xe6})
	fb.Reset()

	assert.Empty(t, fb.Pending())
	assert.Zero(t, fb.Incomplete())
	assert.Nil(t, appendOK(t, fb, nil))
}

func TestFrameBuffer_FrameTooLarge(t *testing.T) {
	fb := NewFrameBufferSize(16)

	frames := appendOK(t, fb, []byte("ok\n0123456789"))
	assert.Equal(t, []string{"ok"}, frames)

	frames, err := fb.Append([]byte("abcdefghij"))
	assert.Empty(t, frames)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "0123456789abcdefghij", fe.Frame)
	assert.Empty(t, fb.Pending(), "oversized remainder is dropped")
}

func TestFrameBuffer_FramesBeforeOversizedTail(t *testing.T) {
	fb := NewFrameBufferSize(8)

	frames, err := fb.Append([]byte("a\nb\n" + strings.Repeat("x", 9)))
	assert.Equal(t, []string{"a", "b"}, frames)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestFrameBuffer_LimitAppliesToUnterminatedTextOnly(t *testing.T) {
	fb := NewFrameBufferSize(8)

	// Long terminated frames are fine; only the pending remainder is bounded.
	long := strings.Repeat("y", 64)
	frames := appendOK(t, fb, []byte(long+"\n"+long+"\n"))
	assert.Equal(t, []string{long, long}, frames)
}

func TestFrameBuffer_LongLineManyChunks(t *testing.T) {
	fb := NewFrameBuffer()
	chunk := []byte(strings.Repeat("z", 4096))

	var err error
	for i := 0; i < MaxFrameSize/len(chunk) && err == nil; i++ {
		_, err = fb.Append(chunk)
	}
	require.NoError(t, err, "exactly MaxFrameSize is allowed")
	assert.Len(t, fb.Pending(), MaxFrameSize)

	_, err = fb.Append([]byte("z"))
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	frames := appendOK(t, fb, []byte("tail\n"))
	assert.Equal(t, []string{"tail"}, frames, "buffer is usable after the error")
}

func TestNewFrameBufferSize_Default(t *testing.T) {
	assert.Equal(t, MaxFrameSize, NewFrameBufferSize(0).limit)
	assert.Equal(t, MaxFrameSize, NewFrameBuffer().limit)
}

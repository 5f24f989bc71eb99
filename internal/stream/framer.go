// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// =============================================================================
// FRAME BUFFER
// =============================================================================

// scratchSize is the decode buffer size. It must hold at least one encoded
// rune for the transform loop to make progress.
const scratchSize = 4096

// MaxFrameSize is the default limit on an unterminated frame (1MB).
const MaxFrameSize = 1024 * 1024

// FrameBuffer turns raw chunks of a newline-delimited stream into complete
// frames.
//
// Chunks may split a frame or a multi-byte UTF-8 sequence anywhere. Incomplete
// sequences are held back until the following chunk completes them, and
// invalid bytes decode to U+FFFD. A frame is returned only once its "\n"
// terminator has arrived, and never twice.
//
// A FrameBuffer is not safe for concurrent use.
type FrameBuffer struct {
	dec     *encoding.Decoder
	scratch []byte
	carry   []byte          // undecoded tail of a split rune
	pending strings.Builder // decoded text after the last terminator
	limit   int
}

// NewFrameBuffer creates an empty frame buffer limited to MaxFrameSize.
func NewFrameBuffer() *FrameBuffer {
	return NewFrameBufferSize(MaxFrameSize)
}

// NewFrameBufferSize creates an empty frame buffer whose unterminated frame
// may grow to at most limit bytes. A limit of zero or less means MaxFrameSize.
func NewFrameBufferSize(limit int) *FrameBuffer {
	if limit <= 0 {
		limit = MaxFrameSize
	}
	return &FrameBuffer{
		dec:     unicode.UTF8.NewDecoder(),
		scratch: make([]byte, scratchSize),
		limit:   limit,
	}
}

// Append decodes raw and returns every frame completed by it, in order.
// Returned frames do not include the terminator. Blank frames are returned
// as-is; filtering them is up to the decoder.
//
// If the unterminated remainder grows past the size limit, Append returns
// the frames completed so far and a *FrameError wrapping ErrFrameTooLarge.
// The oversized remainder is discarded.
func (b *FrameBuffer) Append(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	text := b.decode(raw)

	// Only the new text is scanned for terminators.
	var frames []string
	for {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			break
		}
		if b.pending.Len() == 0 {
			frames = append(frames, text[:i])
		} else {
			b.pending.WriteString(text[:i])
			frames = append(frames, b.pending.String())
			b.pending.Reset()
		}
		text = text[i+1:]
	}

	if b.pending.Len()+len(text) > b.limit {
		head := b.pending.String() + text
		if len(head) > maxFrameInError {
			head = head[:maxFrameInError]
		}
		b.pending.Reset()
		return frames, &FrameError{Frame: head, Err: ErrFrameTooLarge}
	}
	b.pending.WriteString(text)
	return frames, nil
}

// decode runs raw through the stateful UTF-8 decoder, carrying any trailing
// partial rune over to the next call.
func (b *FrameBuffer) decode(raw []byte) string {
	src := make([]byte, 0, len(b.carry)+len(raw))
	src = append(src, b.carry...)
	src = append(src, raw...)
	b.carry = b.carry[:0]

	var out strings.Builder
	for len(src) > 0 {
		nDst, nSrc, err := b.dec.Transform(b.scratch, src, false)
		out.Write(b.scratch[:nDst])
		src = src[nSrc:]

		switch {
		case err == nil:
		case errors.Is(err, transform.ErrShortDst):
			continue
		case errors.Is(err, transform.ErrShortSrc):
			b.carry = append(b.carry, src...)
			return out.String()
		default:
			// The UTF-8 decoder replaces invalid input rather than failing,
			// so this is unreachable in practice. Drop one byte to move on.
			if len(src) > 0 {
				src = src[1:]
			}
			out.WriteRune(utf8.RuneError)
		}
	}
	return out.String()
}

// Pending returns the decoded text that has not been terminated yet. At the
// end of a stream this is the fragment that will never be yielded.
func (b *FrameBuffer) Pending() string {
	return b.pending.String()
}

// Incomplete returns how many bytes of a split multi-byte rune are being held.
func (b *FrameBuffer) Incomplete() int {
	return len(b.carry)
}

// Reset discards all buffered state.
func (b *FrameBuffer) Reset() {
	b.dec.Reset()
	b.carry = b.carry[:0]
	b.pending.Reset()
}

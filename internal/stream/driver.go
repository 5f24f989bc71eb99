// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jeranaias/s6zchat/internal/model"
)

// =============================================================================
// STATES
// =============================================================================

// State is the lifecycle state of a Driver.
type State int

const (
	StateIdle State = iota
	StateActive
	StateCompleted
	StateErrored
	StateCancelled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateErrored || s == StateCancelled
}

// =============================================================================
// SINK
// =============================================================================

// Sink receives everything a stream does to the host. Both methods are called
// from the goroutine running the Driver, in order.
type Sink interface {
	// Apply receives one update for the target message.
	Apply(u model.Update)

	// SetProcessing is called with true when the stream starts and with false
	// exactly once when it ends, whatever the outcome.
	SetProcessing(active bool)
}

// FuncSink adapts plain functions to Sink. Nil fields are ignored.
type FuncSink struct {
	OnUpdate     func(model.Update)
	OnProcessing func(bool)
}

// Apply implements Sink.
func (s FuncSink) Apply(u model.Update) {
	if s.OnUpdate != nil {
		s.OnUpdate(u)
	}
}

// SetProcessing implements Sink.
func (s FuncSink) SetProcessing(active bool) {
	if s.OnProcessing != nil {
		s.OnProcessing(active)
	}
}

// =============================================================================
// DRIVER
// =============================================================================

// Options configures a Driver.
type Options struct {
	// Index is the transcript index of the message being streamed into.
	Index int

	// Seed is the content the target message already holds. Overlap merging
	// runs against Seed plus everything applied since.
	Seed string

	// Merger strips re-delivered text from NDJSON deltas.
	// Nil means WindowMerger with DefaultWindow.
	Merger Merger

	// HaltOnMalformed ends an NDJSON stream as errored on the first frame
	// that fails to parse. By default such frames are logged and skipped.
	HaltOnMalformed bool

	// MaxFrameSize limits an unterminated NDJSON frame. A frame growing past
	// it ends the stream as errored, regardless of HaltOnMalformed.
	// Zero means MaxFrameSize.
	MaxFrameSize int

	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
}

// Outcome summarises a finished stream.
type Outcome struct {
	State State
	// Err is set for StateErrored only. Cancellation is not an error.
	Err error
	// Content is the target message content at the end, including Seed.
	Content string
	// Deltas counts the delta updates emitted.
	Deltas int
	// Frames counts the frames or events read.
	Frames int
	// Skipped counts malformed frames that were dropped.
	Skipped int
}

// Driver runs one stream from start to a terminal state and converts it into
// updates for a Sink. A Driver is single use.
type Driver struct {
	sink  Sink
	opts  Options
	log   *zerolog.Logger
	state State
}

// NewDriver creates a driver that reports to sink.
func NewDriver(sink Sink, opts Options) *Driver {
	logger := opts.Logger
	if logger == nil {
		l := log.Logger
		logger = &l
	}
	if opts.Merger == nil {
		opts.Merger = WindowMerger{Window: DefaultWindow}
	}
	return &Driver{
		sink: sink,
		opts: opts,
		log:  logger,
	}
}

// State returns the current state.
func (d *Driver) State() State {
	return d.state
}

// runState is the per-run decoding state. It never leaves the run.
type runState struct {
	content strings.Builder
	deltas  int
	frames  int
	skipped int
}

// RunFrames reads a newline-delimited JSON stream from src until it ends, is
// cancelled, or fails.
func (d *Driver) RunFrames(ctx context.Context, src ByteSource) Outcome {
	return d.run(ctx, "ndjson", func(st *runState) error {
		fb := NewFrameBufferSize(d.opts.MaxFrameSize)
		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			chunk, err := src.Read(ctx)
			frames, aerr := fb.Append(chunk)
			for _, frame := range frames {
				if ferr := d.applyFrame(st, frame); ferr != nil {
					return ferr
				}
			}
			if aerr != nil {
				return aerr
			}

			if err != nil {
				if errors.Is(err, io.EOF) {
					if pending := fb.Pending(); pending != "" || fb.Incomplete() > 0 {
						d.log.Debug().
							Int("pending_bytes", len(pending)+fb.Incomplete()).
							Msg("Discarding unterminated trailing frame")
					}
					return nil
				}
				return err
			}
		}
	})
}

// RunEvents reads structured events from src until it ends, is cancelled, or
// fails. Events are applied verbatim without overlap merging.
func (d *Driver) RunEvents(ctx context.Context, src EventSource) Outcome {
	return d.run(ctx, "events", func(st *runState) error {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}

			ev, err := src.Next(ctx)
			if err != nil {
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
			st.frames++

			if content, ok := DecodeEvent(ev); ok {
				d.emit(st, content)
			}
		}
	})
}

// applyFrame decodes one NDJSON frame and emits its delta.
func (d *Driver) applyFrame(st *runState, frame string) error {
	st.frames++

	delta, err := DecodeFrame(frame)
	if err != nil {
		var fe *FrameError
		if errors.As(err, &fe) && !d.opts.HaltOnMalformed {
			st.skipped++
			d.log.Warn().Err(fe.Err).Int("frame", st.frames).Msg("Skipping malformed frame")
			return nil
		}
		return err
	}

	if delta != "" {
		d.emit(st, d.opts.Merger.Merge(st.content.String(), delta))
	}
	return nil
}

// emit sends a non-empty delta to the sink.
func (d *Driver) emit(st *runState, delta string) {
	if delta == "" {
		return
	}
	st.content.WriteString(delta)
	st.deltas++
	d.sink.Apply(model.Update{Kind: model.UpdateDelta, Index: d.opts.Index, Delta: delta})
}

// run moves the driver through its lifecycle around loop.
func (d *Driver) run(ctx context.Context, protocol string, loop func(*runState) error) (out Outcome) {
	if d.state != StateIdle {
		return Outcome{State: StateErrored, Err: ErrDriverUsed}
	}

	st := &runState{}
	st.content.WriteString(d.opts.Seed)

	d.state = StateActive
	d.sink.SetProcessing(true)

	defer func() {
		if r := recover(); r != nil {
			out = d.settle(ctx, protocol, st, fmt.Errorf("%w: %v", ErrPanic, r))
		}
		d.finish()
	}()

	return d.settle(ctx, protocol, st, loop(st))
}

// settle classifies the loop result into a terminal state and logs it.
func (d *Driver) settle(ctx context.Context, protocol string, st *runState, err error) Outcome {
	out := Outcome{
		Content: st.content.String(),
		Deltas:  st.deltas,
		Frames:  st.frames,
		Skipped: st.skipped,
	}

	switch {
	case err == nil:
		out.State = StateCompleted
		d.log.Debug().
			Str("protocol", protocol).
			Int("deltas", st.deltas).
			Int("frames", st.frames).
			Int("skipped", st.skipped).
			Msg("Stream completed")
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		out.State = StateCancelled
		d.log.Debug().
			Str("protocol", protocol).
			Int("deltas", st.deltas).
			Msg("Stream cancelled")
	default:
		out.State = StateErrored
		out.Err = err
		d.log.Error().
			Err(err).
			Str("protocol", protocol).
			Int("deltas", st.deltas).
			Msg("Stream failed")
	}

	d.state = out.State
	return out
}

// finish emits the final update and lowers the processing flag. A panic from
// the sink on the update is logged and does not reach the caller.
func (d *Driver) finish() {
	defer d.sink.SetProcessing(false)
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Interface("panic", r).
				Int("index", d.opts.Index).
				Msg("Sink panicked on finish")
		}
	}()
	d.sink.Apply(model.Update{Kind: model.UpdateFinish, Index: d.opts.Index})
}

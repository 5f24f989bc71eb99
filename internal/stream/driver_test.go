// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/s6zchat/internal/model"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// recordingSink applies updates to a local message and records every call.
type recordingSink struct {
	msg        model.Message
	updates    []model.Update
	processing []bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{msg: model.NewAssistantPlaceholder()}
}

func (s *recordingSink) Apply(u model.Update) {
	s.updates = append(s.updates, u)
	u.ApplyTo(&s.msg)
}

func (s *recordingSink) SetProcessing(active bool) {
	s.processing = append(s.processing, active)
}

func (s *recordingSink) requireFinished(t *testing.T) {
	t.Helper()
	require.Equal(t, []bool{true, false}, s.processing, "processing flag raised and cleared once")
	require.NotEmpty(t, s.updates)
	assert.Equal(t, model.UpdateFinish, s.updates[len(s.updates)-1].Kind)
	assert.False(t, s.msg.IsLoading)
	assert.False(t, s.msg.IsStreaming)
}

// chunkSource returns each part in turn, then io.EOF.
func chunkSource(parts ...string) ByteSource {
	i := 0
	return ByteSourceFunc(func(ctx context.Context) ([]byte, error) {
		if i >= len(parts) {
			return nil, io.EOF
		}
		i++
		return []byte(parts[i-1]), nil
	})
}

// eventSource returns each event in turn, then io.EOF.
func eventSource(events ...Event) EventSource {
	i := 0
	return EventSourceFunc(func(ctx context.Context) (Event, error) {
		if i >= len(events) {
			return Event{}, io.EOF
		}
		i++
		return events[i-1], nil
	})
}

func frameOf(content string) string {
	raw, _ := json.Marshal(map[string]any{
		"model":   "gemma3:latest",
		"message": map[string]string{"role": "assistant", "content": content},
		"done":    false,
	})
	return string(raw) + "\n"
}

func quietLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// =============================================================================
// NDJSON DRIVER TESTS
// =============================================================================

func TestDriver_RunFrames_SplitFrame(t *testing.T) {
	sink := newRecordingSink()
	d := NewDriver(sink, Options{Index: 3, Logger: quietLogger()})

	out := d.RunFrames(context.Background(), chunkSource(`{"message":{"content":"Hel`, `lo"}}`+"\n"))

	assert.Equal(t, StateCompleted, out.State)
	assert.NoError(t, out.Err)
	assert.Equal(t, "Hello", out.Content)
	assert.Equal(t, "Hello", sink.msg.Content)
	assert.Equal(t, 1, out.Deltas)
	assert.Equal(t, StateCompleted, d.State())
	for _, u := range sink.updates {
		assert.Equal(t, 3, u.Index)
	}
	sink.requireFinished(t)
}

func TestDriver_RunFrames_AnyChunkingSameContent(t *testing.T) {
	deltas := []string{"The ", "quick ", "brown 🦊 ", "jumps over ", "über ", "the lazy dog."}
	var wire strings.Builder
	for _, d := range deltas {
		wire.WriteString(frameOf(d))
	}
	wire.WriteString(`{"model":"gemma3:latest","done":true}` + "\n")
	raw := wire.String()
	want := strings.Join(deltas, "")

	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 200; iter++ {
		var parts []string
		for rest := raw; len(rest) > 0; {
			n := 1 + rng.Intn(16)
			if n > len(rest) {
				n = len(rest)
			}
			parts = append(parts, rest[:n])
			rest = rest[n:]
		}

		sink := newRecordingSink()
		out := NewDriver(sink, Options{Logger: quietLogger()}).RunFrames(context.Background(), chunkSource(parts...))

		require.Equal(t, StateCompleted, out.State)
		require.Equal(t, want, sink.msg.Content, "iteration %d", iter)
		require.Equal(t, len(deltas), out.Deltas)
	}
}

func TestDriver_RunFrames_BlankFramesProduceNothing(t *testing.T) {
	sink := newRecordingSink()
	out := NewDriver(sink, Options{Logger: quietLogger()}).RunFrames(context.Background(),
		chunkSource("\n\n  \n", frameOf("A"), "\r\n"))

	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, 1, out.Deltas)
	assert.Equal(t, "A", sink.msg.Content)
	assert.Zero(t, out.Skipped)
}

func TestDriver_RunFrames_OnlyBlankFrames(t *testing.T) {
	sink := newRecordingSink()
	out := NewDriver(sink, Options{Logger: quietLogger()}).RunFrames(context.Background(), chunkSource("\n\n"))

	assert.Equal(t, StateCompleted, out.State)
	assert.Zero(t, out.Deltas)
	require.Len(t, sink.updates, 1)
	sink.requireFinished(t)
}

func TestDriver_RunFrames_UnterminatedTailDropped(t *testing.T) {
	sink := newRecordingSink()
	out := NewDriver(sink, Options{Logger: quietLogger()}).RunFrames(context.Background(),
		chunkSource(frameOf("A"), `{"message":{"content":"B"}}`))

	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, "A", sink.msg.Content)
}

func TestDriver_RunFrames_OverlapRemoved(t *testing.T) {
	sink := newRecordingSink()
	out := NewDriver(sink, Options{Logger: quietLogger()}).RunFrames(context.Background(),
		chunkSource(frameOf("Hello wor"), frameOf("world!")))

	assert.Equal(t, "Hello world!", out.Content)
	assert.Equal(t, "Hello world!", sink.msg.Content)
	require.Len(t, sink.updates, 3)
	assert.Equal(t, "ld!", sink.updates[1].Delta)
}

func TestDriver_RunFrames_FullyRedeliveredDeltaIsDropped(t *testing.T) {
	sink := newRecordingSink()
	out := NewDriver(sink, Options{Logger: quietLogger()}).RunFrames(context.Background(),
		chunkSource(frameOf("abcdef"), frameOf("def")))

	assert.Equal(t, "abcdef", out.Content)
	assert.Equal(t, 1, out.Deltas, "an empty merge result emits no update")
}

func TestDriver_RunFrames_SeedParticipatesInMerge(t *testing.T) {
	sink := newRecordingSink()
	sink.msg.Content = "Hello wor"

	out := NewDriver(sink, Options{Seed: "Hello wor", Logger: quietLogger()}).RunFrames(context.Background(),
		chunkSource(frameOf("world!")))

	assert.Equal(t, "Hello world!", out.Content)
	assert.Equal(t, "Hello world!", sink.msg.Content)
}

func TestDriver_RunFrames_CustomMerger(t *testing.T) {
	sink := newRecordingSink()
	out := NewDriver(sink, Options{Merger: NopMerger{}, Logger: quietLogger()}).RunFrames(context.Background(),
		chunkSource(frameOf("ha"), frameOf("ha")))

	assert.Equal(t, "haha", out.Content)
}

// =============================================================================
// MALFORMED FRAME POLICY
// =============================================================================

func TestDriver_RunFrames_MalformedSkipped(t *testing.T) {
	var logs bytes.Buffer
	logger := zerolog.New(&logs)

	sink := newRecordingSink()
	out := NewDriver(sink, Options{Logger: &logger}).RunFrames(context.Background(),
		chunkSource(frameOf("A"), "{not json}\n", frameOf("B")))

	assert.Equal(t, StateCompleted, out.State)
	assert.NoError(t, out.Err)
	assert.Equal(t, "AB", sink.msg.Content)
	assert.Equal(t, 1, out.Skipped)
	assert.Equal(t, 3, out.Frames)
	assert.Contains(t, logs.String(), `"level":"warn"`)
	assert.Contains(t, logs.String(), "Skipping malformed frame")
	sink.requireFinished(t)
}

func TestDriver_RunFrames_HaltOnMalformed(t *testing.T) {
	sink := newRecordingSink()
	out := NewDriver(sink, Options{HaltOnMalformed: true, Logger: quietLogger()}).RunFrames(context.Background(),
		chunkSource(frameOf("A"), "{not json}\n", frameOf("B")))

	assert.Equal(t, StateErrored, out.State)
	var fe *FrameError
	require.ErrorAs(t, out.Err, &fe)
	assert.Equal(t, "A", sink.msg.Content, "applied content is kept")
	sink.requireFinished(t)
}

func TestDriver_RunFrames_BackendError(t *testing.T) {
	sink := newRecordingSink()
	out := NewDriver(sink, Options{Logger: quietLogger()}).RunFrames(context.Background(),
		chunkSource(frameOf("partial"), `{"error":"out of memory"}`+"\n", frameOf("never")))

	assert.Equal(t, StateErrored, out.State)
	var be *BackendError
	require.ErrorAs(t, out.Err, &be)
	assert.Equal(t, "out of memory", be.Message)
	assert.Equal(t, "partial", sink.msg.Content)
	sink.requireFinished(t)
}

// =============================================================================
// ERRORS AND CANCELLATION
// =============================================================================

func TestDriver_RunFrames_ReadError(t *testing.T) {
	boom := errors.New("connection reset")
	calls := 0
	src := ByteSourceFunc(func(ctx context.Context) ([]byte, error) {
		calls++
		if calls == 1 {
			return []byte(frameOf("A")), nil
		}
		return nil, boom
	})

	var logs bytes.Buffer
	logger := zerolog.New(&logs)
	sink := newRecordingSink()
	out := NewDriver(sink, Options{Logger: &logger}).RunFrames(context.Background(), src)

	assert.Equal(t, StateErrored, out.State)
	assert.ErrorIs(t, out.Err, boom)
	assert.Equal(t, "A", sink.msg.Content)
	assert.Contains(t, logs.String(), `"level":"error"`)
	sink.requireFinished(t)
}

func TestDriver_RunFrames_CancelledMidStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	src := ByteSourceFunc(func(ctx context.Context) ([]byte, error) {
		calls++
		if calls == 1 {
			return []byte(frameOf("partial ")), nil
		}
		cancel()
		return nil, ctx.Err()
	})

	var logs bytes.Buffer
	logger := zerolog.New(&logs).Level(zerolog.DebugLevel)
	sink := newRecordingSink()
	out := NewDriver(sink, Options{Logger: &logger}).RunFrames(ctx, src)

	assert.Equal(t, StateCancelled, out.State)
	assert.NoError(t, out.Err, "cancellation is not an error")
	assert.Equal(t, "partial ", sink.msg.Content)
	assert.Contains(t, logs.String(), "Stream cancelled")
	assert.NotContains(t, logs.String(), `"level":"error"`)
	sink.requireFinished(t)
}

func TestDriver_RunFrames_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	read := false
	src := ByteSourceFunc(func(ctx context.Context) ([]byte, error) {
		read = true
		return nil, io.EOF
	})

	sink := newRecordingSink()
	out := NewDriver(sink, Options{Logger: quietLogger()}).RunFrames(ctx, src)

	assert.Equal(t, StateCancelled, out.State)
	assert.False(t, read, "source is not read after cancellation")
	assert.Zero(t, out.Deltas)
	sink.requireFinished(t)
}

func TestDriver_RunFrames_DeadlineIsAnError(t *testing.T) {
	src := ByteSourceFunc(func(ctx context.Context) ([]byte, error) {
		return nil, context.DeadlineExceeded
	})

	sink := newRecordingSink()
	out := NewDriver(sink, Options{Logger: quietLogger()}).RunFrames(context.Background(), src)

	assert.Equal(t, StateErrored, out.State)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
	sink.requireFinished(t)
}

func TestDriver_RunFrames_PanicRecovered(t *testing.T) {
	src := ByteSourceFunc(func(ctx context.Context) ([]byte, error) {
		panic("decoder exploded")
	})

	sink := newRecordingSink()
	out := NewDriver(sink, Options{Logger: quietLogger()}).RunFrames(context.Background(), src)

	assert.Equal(t, StateErrored, out.State)
	assert.ErrorIs(t, out.Err, ErrPanic)
	assert.Contains(t, out.Err.Error(), "decoder exploded")
	sink.requireFinished(t)
}

func TestDriver_RunFrames_FrameTooLarge(t *testing.T) {
	sink := newRecordingSink()
	d := NewDriver(sink, Options{MaxFrameSize: 64, Logger: quietLogger()})

	out := d.RunFrames(context.Background(), chunkSource(
		frameOf("Hello"),
		strings.Repeat("x", 40),
		strings.Repeat("x", 40),
		frameOf(" never"),
	))

	assert.Equal(t, StateErrored, out.State)
	assert.ErrorIs(t, out.Err, ErrFrameTooLarge)
	assert.Equal(t, "Hello", out.Content, "content before the oversized frame is kept")
	sink.requireFinished(t)
}

func TestDriver_RunFrames_FrameTooLargeIgnoresSkipPolicy(t *testing.T) {
	sink := newRecordingSink()
	d := NewDriver(sink, Options{MaxFrameSize: 8, HaltOnMalformed: false, Logger: quietLogger()})

	out := d.RunFrames(context.Background(), chunkSource(strings.Repeat("x", 9)))

	assert.Equal(t, StateErrored, out.State)
	assert.ErrorIs(t, out.Err, ErrFrameTooLarge)
	assert.Zero(t, out.Skipped)
	sink.requireFinished(t)
}

// finishPanicSink panics when asked to apply the final update.
type finishPanicSink struct {
	recordingSink
}

func (s *finishPanicSink) Apply(u model.Update) {
	s.recordingSink.Apply(u)
	if u.Kind == model.UpdateFinish {
		panic("sink rejected finish")
	}
}

func TestDriver_SinkPanicOnFinishIsContained(t *testing.T) {
	for _, protocol := range []string{"ndjson", "events"} {
		t.Run(protocol, func(t *testing.T) {
			sink := &finishPanicSink{recordingSink: *newRecordingSink()}
			d := NewDriver(sink, Options{Logger: quietLogger()})

			var out Outcome
			require.NotPanics(t, func() {
				if protocol == "ndjson" {
					out = d.RunFrames(context.Background(), chunkSource(frameOf("Hi")))
				} else {
					out = d.RunEvents(context.Background(), eventSource(ChoiceEvent("Hi")))
				}
			})

			assert.Equal(t, StateCompleted, out.State)
			assert.Equal(t, "Hi", out.Content)
			assert.Equal(t, []bool{true, false}, sink.processing, "flag is still lowered once")
		})
	}
}

func TestDriver_SingleUse(t *testing.T) {
	sink := newRecordingSink()
	d := NewDriver(sink, Options{Logger: quietLogger()})

	first := d.RunFrames(context.Background(), chunkSource(frameOf("A")))
	require.Equal(t, StateCompleted, first.State)

	second := d.RunEvents(context.Background(), eventSource(ChoiceEvent("B")))
	assert.Equal(t, StateErrored, second.State)
	assert.ErrorIs(t, second.Err, ErrDriverUsed)
	assert.Equal(t, []bool{true, false}, sink.processing, "second run never touches the sink")
}

// =============================================================================
// EVENT DRIVER TESTS
// =============================================================================

func TestDriver_RunEvents(t *testing.T) {
	sink := newRecordingSink()
	out := NewDriver(sink, Options{Index: 1, Logger: quietLogger()}).RunEvents(context.Background(), eventSource(
		Event{Type: "response.created"},
		TextEvent("response.output_text.delta", "Hel"),
		ChoiceEvent("lo"),
		Event{Type: "response.output_text.done"},
	))

	assert.Equal(t, StateCompleted, out.State)
	assert.Equal(t, "Hello", sink.msg.Content)
	assert.Equal(t, 2, out.Deltas)
	assert.Equal(t, 4, out.Frames)
	sink.requireFinished(t)
}

func TestDriver_RunEvents_NoMerging(t *testing.T) {
	sink := newRecordingSink()
	out := NewDriver(sink, Options{Logger: quietLogger()}).RunEvents(context.Background(),
		eventSource(ChoiceEvent("ha"), ChoiceEvent("ha")))

	assert.Equal(t, "haha", out.Content)
}

func TestDriver_RunEvents_Error(t *testing.T) {
	apiErr := errors.New("rate limited")
	calls := 0
	src := EventSourceFunc(func(ctx context.Context) (Event, error) {
		calls++
		if calls == 1 {
			return ChoiceEvent("A"), nil
		}
		return Event{}, apiErr
	})

	sink := newRecordingSink()
	out := NewDriver(sink, Options{Logger: quietLogger()}).RunEvents(context.Background(), src)

	assert.Equal(t, StateErrored, out.State)
	assert.ErrorIs(t, out.Err, apiErr)
	assert.Equal(t, "A", sink.msg.Content)
	sink.requireFinished(t)
}

func TestDriver_RunEvents_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := EventSourceFunc(func(ctx context.Context) (Event, error) {
		cancel()
		return Event{}, ctx.Err()
	})

	sink := newRecordingSink()
	out := NewDriver(sink, Options{Logger: quietLogger()}).RunEvents(ctx, src)

	assert.Equal(t, StateCancelled, out.State)
	assert.NoError(t, out.Err)
	sink.requireFinished(t)
}

func TestFuncSink(t *testing.T) {
	var got []model.Update
	var flags []bool
	sink := FuncSink{
		OnUpdate:     func(u model.Update) { got = append(got, u) },
		OnProcessing: func(b bool) { flags = append(flags, b) },
	}

	NewDriver(sink, Options{Logger: quietLogger()}).RunEvents(context.Background(), eventSource(ChoiceEvent("x")))

	assert.Equal(t, []bool{true, false}, flags)
	require.Len(t, got, 2)
	assert.Equal(t, model.UpdateDelta, got[0].Kind)
	assert.Equal(t, model.UpdateFinish, got[1].Kind)

	// Nil callbacks are fine.
	FuncSink{}.Apply(model.Update{})
	FuncSink{}.SetProcessing(true)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "completed", StateCompleted.String())
	assert.Equal(t, "cancelled", StateCancelled.String())
	assert.True(t, StateErrored.Terminal())
	assert.False(t, StateActive.Terminal())
	assert.Equal(t, "State(9)", State(9).String())
}

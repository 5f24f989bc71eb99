// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream decodes streamed model responses into message updates.
//
// Two wire protocols are supported. Newline-delimited JSON (Ollama) arrives
// as raw byte chunks that are reassembled into frames, decoded, and merged
// against the accumulated text so re-delivered fragments are not duplicated.
// Structured events (OpenAI) arrive already parsed and are applied verbatim.
//
// # Key Types
//
//   - FrameBuffer: UTF-8 safe reassembly of newline-terminated frames,
//     bounded by MaxFrameSize
//   - Merger: Overlap removal strategy (WindowMerger, AffixMerger, NopMerger)
//   - Event: A pre-parsed structured streaming event
//   - Driver: Runs one stream to completion and reports to a Sink
//   - Outcome: Terminal state and counters of a finished stream
//
// # Usage
//
//	d := stream.NewDriver(sink, stream.Options{Index: idx})
//	out := d.RunFrames(ctx, stream.NewReaderSource(body, 0))
//	if out.State == stream.StateErrored {
//	    return out.Err
//	}
//
// The sink sees SetProcessing(true) once, one Apply per delta in arrival
// order, a final UpdateFinish, and SetProcessing(false) once.
package stream

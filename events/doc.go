// Package events delivers the output of a run to its caller as an ordered stream of frames.
//
// A run produces reasoning-text and answer-text deltas, an optional references frame and
// exactly one end frame, unless the caller cancels. Every frame carries the run id and a
// sequence number starting at 1.
//
// Frames go to a Sink. The package provides a Go channel sink, a server-sent events writer
// and Tee for fan-out; the broker package adds topic based delivery over NATS.
//
//	sink := events.NewChanSink(16)
//	out := events.NewChannel(runID, sink)
//	_ = out.Answer(ctx, "<think>checking</think>It is sunny.")
//	_ = out.End(ctx)
package events

// Package executor drives the tool-use loop of a single request.
//
// A run asks the model for a turn, streams its text to the caller, and when the turn
// ends with tool calls it executes them, folds the calls and their results into the
// history and asks again. The run ends when a turn carries no tool calls or when the
// turn ceiling is reached.
//
// Design decisions:
//   - Command pattern: a RunCommand carries everything one run needs
//   - Fork and join: the loop appends to a fork of the caller's history and joins it
//     back only when the run was not cancelled
//   - Fire and await all: the tool calls of a turn run concurrently, results are folded
//     in call order
//   - Retries: transient provider failures are retried with backoff as long as nothing
//     of the turn reached the caller
//
// Lifecycle of a turn:
//
//	REQUESTING ──► STREAMING ──► TURN_END_REACHED ──┬──► DONE
//	     ▲                                          │
//	     └──────────── tool calls executed ◄────────┘
//
// Example usage:
//
//	cmd, err := executor.NewRunCommand("gpt-4o-mini", history)
//	if err != nil {
//	    return err
//	}
//	cmd = cmd.WithInstructions("You are a helpful assistant").
//	    WithMaxTurns(5)
//
//	loop := executor.New(openai.New(), registry)
//	if err := loop.Run(ctx, cmd, events.NewChanSink(64)); err != nil {
//	    return err
//	}
package executor

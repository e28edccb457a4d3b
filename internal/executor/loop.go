package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/casualjim/toolstream/events"
	"github.com/casualjim/toolstream/internal/metrics"
	"github.com/casualjim/toolstream/internal/shorttermmemory"
	"github.com/casualjim/toolstream/messages"
	"github.com/casualjim/toolstream/pkg/slogx"
	"github.com/casualjim/toolstream/provider"
	"github.com/casualjim/toolstream/toolset"
)

// ErrMaxTurns marks a run that was cut short by its turn ceiling. It is logged, the
// caller sees a normal end of stream.
var ErrMaxTurns = errors.New("max turns reached")

// Tools lists and invokes the tools a model may call. toolset.Registry implements it.
type Tools interface {
	ListTools(ctx context.Context) ([]provider.ToolDescriptor, error)
	Invoke(ctx context.Context, name, args string) toolset.Outcome
}

var _ Tools = (*toolset.Registry)(nil)

// Loop runs requests against one provider and one set of tools. A Loop holds no
// per-run state and may serve many runs concurrently.
type Loop struct {
	provider provider.Provider
	tools    Tools
}

// New creates a loop. tools may be nil, the model then sees no tools.
func New(p provider.Provider, tools Tools) *Loop {
	return &Loop{provider: p, tools: tools}
}

// deliveryError is a failure of the sink. The caller is gone, so no explanation is sent.
type deliveryError struct{ err error }

func (e *deliveryError) Error() string { return "failed to deliver frame: " + e.err.Error() }
func (e *deliveryError) Unwrap() error { return e.err }

// loopState is the per-run bookkeeping.
type loopState struct {
	turnCount int
	done      bool
}

type run struct {
	cmd     RunCommand
	history *shorttermmemory.History
	out     *events.Channel
	tools   []provider.ToolDescriptor
	state   loopState
	logger  *slog.Logger
}

// Run executes cmd and streams its frames to sink.
//
// Every run that is not cancelled ends with an end frame and its turns joined into
// cmd.History. A failed run explains the failure in answer text before the end frame
// and returns the error. A cancelled run returns ctx.Err(), sends nothing more and
// leaves cmd.History untouched.
func (l *Loop) Run(ctx context.Context, cmd RunCommand, sink events.Sink) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if l.provider == nil {
		return errors.New("provider is required")
	}
	if sink == nil {
		return errors.New("sink is required")
	}

	r := &run{
		cmd:     cmd,
		history: cmd.History.Fork(),
		out:     events.NewChannel(cmd.ID(), sink),
		logger:  slog.Default().With(slogx.RunID(cmd.ID()), slog.String("provider", l.provider.Name())),
	}
	finished := metrics.RunStarted()

	outcome, err := l.drive(ctx, r)
	if err != nil && ctx.Err() != nil {
		r.logger.DebugContext(ctx, "run cancelled", slog.Int("turns", r.state.turnCount))
		finished(metrics.OutcomeCancelled)
		return ctx.Err()
	}

	cmd.History.Join(r.history)
	finished(outcome)
	if err != nil {
		r.logger.ErrorContext(ctx, "run failed", slogx.Error(err), slog.Int("turns", r.state.turnCount))
		return err
	}
	r.logger.DebugContext(ctx, "run finished", slog.String("outcome", outcome), slog.Int("turns", r.state.turnCount))
	return nil
}

func (l *Loop) drive(ctx context.Context, r *run) (string, error) {
	if err := r.out.References(ctx, r.cmd.References); err != nil {
		return metrics.OutcomeFailed, &deliveryError{err}
	}
	r.tools = l.listTools(ctx, r)

	for r.state.turnCount < r.cmd.MaxTurns {
		if err := ctx.Err(); err != nil {
			return metrics.OutcomeCancelled, err
		}

		turn, err := l.requestTurn(ctx, r)
		if err != nil {
			return metrics.OutcomeFailed, l.fail(ctx, r, err)
		}

		text := stripReasoning(turn.text.String())
		if len(turn.calls) == 0 {
			if text != "" {
				r.history.Append(messages.Assistant(text))
			}
			r.state.done = true
			if err := r.out.End(ctx); err != nil {
				return metrics.OutcomeFailed, &deliveryError{err}
			}
			return metrics.OutcomeCompleted, nil
		}

		if r.cmd.ArgumentPolicy == AbortTurn {
			if err := firstArgumentError(turn.calls); err != nil {
				return metrics.OutcomeFailed, l.fail(ctx, r, err)
			}
		}

		parts := make([]messages.ToolCallPart, len(turn.calls))
		for i, c := range turn.calls {
			parts[i] = c.ToolCallPart
		}
		r.history.Append(messages.Assistant(text, parts...))

		results, err := l.dispatch(ctx, r, turn.calls)
		if err != nil {
			return metrics.OutcomeCancelled, err
		}
		r.history.Append(messages.ToolResults(results...))

		r.state.turnCount++
		metrics.RecordTurn()
	}

	r.logger.WarnContext(ctx, "run truncated", slogx.Error(ErrMaxTurns), slog.Int("max_turns", r.cmd.MaxTurns))
	r.state.done = true
	if err := r.out.End(ctx); err != nil {
		return metrics.OutcomeFailed, &deliveryError{err}
	}
	return metrics.OutcomeTruncated, nil
}

func (l *Loop) listTools(ctx context.Context, r *run) []provider.ToolDescriptor {
	if l.tools == nil {
		return nil
	}
	tools, err := l.tools.ListTools(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to list tools, continuing without tools", slogx.Error(err))
		return nil
	}
	return tools
}

// fail explains err to the caller and ends the stream. It returns err, joined with any
// delivery failure.
func (l *Loop) fail(ctx context.Context, r *run, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var de *deliveryError
	if errors.As(err, &de) {
		return err
	}

	msg := failureText(err)
	if r.out.Answered() {
		msg = "\n\n" + msg
	}
	if serr := r.out.Notice(ctx, msg); serr != nil {
		return errors.Join(err, &deliveryError{serr})
	}
	if serr := r.out.End(ctx); serr != nil {
		return errors.Join(err, &deliveryError{serr})
	}
	return err
}

func failureText(err error) string {
	switch {
	case errors.Is(err, ErrRetriesExhausted):
		return fmt.Sprintf("The model is not available right now, please try again later. (%v)", err)
	case errors.Is(err, errInvalidArguments):
		return fmt.Sprintf("I could not run the requested tools. (%v)", err)
	default:
		return fmt.Sprintf("Something went wrong while answering. (%v)", err)
	}
}

type turnResult struct {
	text    strings.Builder
	calls   []finalCall
	emitted bool
}

// requestTurn asks the provider for one turn, retrying transient failures as long as
// nothing of the turn was sent to the caller.
func (l *Loop) requestTurn(ctx context.Context, r *run) (*turnResult, error) {
	cfg := r.cmd.Retry
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := cfg.Backoff(attempt-1, retryAfter(lastErr))
			r.logger.WarnContext(ctx, "retrying provider call",
				slogx.Error(lastErr), slog.Int("attempt", attempt), slog.Duration("delay", delay))
			metrics.RecordProviderRetry(l.provider.Name())
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		turn, err := l.streamTurn(ctx, r)
		if err == nil {
			return turn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if turn.emitted || !provider.IsTransient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, cfg.MaxAttempts, lastErr)
}

// streamTurn performs one provider call and consumes its stream. The returned turn is
// never nil, so callers can tell whether anything was sent before a failure.
func (l *Loop) streamTurn(ctx context.Context, r *run) (*turnResult, error) {
	turn := &turnResult{}

	// The stream producer stops once callCtx is done, also after an early return.
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if r.cmd.ProviderTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, r.cmd.ProviderTimeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	stream, err := l.provider.Stream(callCtx, provider.Request{
		RunID:        r.cmd.ID(),
		Model:        r.cmd.Model,
		Instructions: r.cmd.Instructions,
		Context:      r.cmd.Context,
		History:      r.history,
		Tools:        r.tools,
	})
	metrics.RecordProviderRequest(l.provider.Name(), err)
	if err != nil {
		return turn, provider.ClassifyContext(ctx, err)
	}

	acc := newAccumulator()
	for {
		select {
		case ev, ok := <-stream:
			if !ok {
				turn.calls = acc.finalize()
				return turn, nil
			}
			switch ev := ev.(type) {
			case provider.TextDelta:
				if err := l.forward(ctx, r, turn, ev); err != nil {
					return turn, err
				}
			case provider.ToolCallFragment:
				acc.add(ev)
			case provider.TurnEnd:
				turn.calls = acc.finalize()
				return turn, nil
			case provider.Error:
				return turn, provider.ClassifyContext(ctx, ev.Err)
			default:
				r.logger.DebugContext(ctx, "ignoring unknown stream event", slog.String("type", fmt.Sprintf("%T", ev)))
			}
		case <-callCtx.Done():
			return turn, provider.ClassifyContext(ctx, callCtx.Err())
		}
	}
}

func (l *Loop) forward(ctx context.Context, r *run, turn *turnResult, ev provider.TextDelta) error {
	if ev.Text == "" {
		return nil
	}
	turn.emitted = true

	var err error
	if ev.Reasoning {
		err = r.out.Reasoning(ctx, ev.Text)
	} else {
		turn.text.WriteString(ev.Text)
		err = r.out.Answer(ctx, ev.Text)
	}
	if err != nil {
		return &deliveryError{err}
	}
	return nil
}

// dispatch runs every callable call concurrently and returns the results in call
// order. Calls with broken arguments get an error result without running.
func (l *Loop) dispatch(ctx context.Context, r *run, calls []finalCall) ([]messages.ToolResultPart, error) {
	results := make([]messages.ToolResultPart, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		if call.err != nil {
			r.logger.WarnContext(ctx, "tool call has invalid arguments", slogx.Tool(call.Name, call.ID), slogx.Error(call.err))
			results[i] = messages.ToolError(call.ID, call.Name, call.err.Error())
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = l.invoke(ctx, r, call)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return results, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Loop) invoke(ctx context.Context, r *run, call finalCall) messages.ToolResultPart {
	start := time.Now()
	var outcome toolset.Outcome
	if l.tools == nil {
		outcome = toolset.Err(fmt.Sprintf("%v: %s", toolset.ErrUnknownTool, call.Name))
	} else {
		outcome = l.tools.Invoke(ctx, call.Name, call.Arguments)
	}
	elapsed := time.Since(start)
	metrics.RecordToolInvocation(outcome.Failed(), elapsed)

	if outcome.Failed() {
		r.logger.WarnContext(ctx, "tool call failed", slogx.Tool(call.Name, call.ID),
			slog.String("message", outcome.Message), slog.Duration("elapsed", elapsed))
		return messages.ToolError(call.ID, call.Name, outcome.Message)
	}
	r.logger.DebugContext(ctx, "tool call finished", slogx.Tool(call.Name, call.ID), slog.Duration("elapsed", elapsed))
	return messages.ToolResult(call.ID, call.Name, outcome.Value)
}

var errInvalidArguments = errors.New("invalid tool arguments")

func firstArgumentError(calls []finalCall) error {
	for _, c := range calls {
		if c.err != nil {
			return fmt.Errorf("%w: %w", errInvalidArguments, c.err)
		}
	}
	return nil
}

// stripReasoning drops inline <think> sections from answer text. An unterminated
// section runs to the end of the text.
func stripReasoning(text string) string {
	var sb strings.Builder
	for {
		start := strings.Index(text, "<think>")
		if start < 0 {
			sb.WriteString(text)
			break
		}
		sb.WriteString(text[:start])
		rest := text[start+len("<think>"):]
		end := strings.Index(rest, "</think>")
		if end < 0 {
			break
		}
		text = rest[end+len("</think>"):]
	}
	return strings.TrimSpace(sb.String())
}

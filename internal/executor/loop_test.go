package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/casualjim/toolstream/events"
	"github.com/casualjim/toolstream/messages"
	"github.com/casualjim/toolstream/provider"
	"github.com/casualjim/toolstream/toolset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_AnswerWithoutToolCalls(t *testing.T) {
	p := &fakeProvider{steps: []step{{events: []provider.Event{text("Hello"), text(" world"), turnEnd()}}}}
	tools := &fakeTools{descriptors: []provider.ToolDescriptor{searchTool()}}
	sink := &recorder{}
	cmd := newCommand(t, "say hello")

	require.NoError(t, New(p, tools).Run(context.Background(), cmd, sink))

	assert.Equal(t, 1, p.calls())
	assert.Equal(t, []events.Kind{events.KindAnswer, events.KindAnswer, events.KindEnd}, sink.kinds())
	assert.Equal(t, "Hello world", sink.text(events.KindAnswer))
	for i, f := range sink.frames {
		assert.Equal(t, uint64(i+1), f.Seq)
		assert.Equal(t, cmd.ID(), f.RunID)
	}

	turns := cmd.History.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, messages.RoleAssistant, turns[1].Role)
	assert.Equal(t, "Hello world", turns[1].Text())
	assert.Empty(t, turns[1].ToolCalls())
	assert.Empty(t, tools.calls())
}

func TestLoop_ToolTurnThenAnswer(t *testing.T) {
	p := &fakeProvider{steps: []step{
		{events: []provider.Event{
			text("Let me look."),
			call(0, "call_1", "search", `{"q":`),
			call(0, "", "", `"weather"}`),
			turnEnd(),
		}},
		{events: []provider.Event{text("It is sunny."), turnEnd()}},
	}}
	tools := &fakeTools{
		descriptors: []provider.ToolDescriptor{searchTool()},
		fn: func(_ context.Context, name, args string) toolset.Outcome {
			return toolset.Ok("sunny, 24C")
		},
	}
	sink := &recorder{}
	cmd := newCommand(t, "weather?").WithInstructions("be brief").WithContext("Paris is in France")

	require.NoError(t, New(p, tools).Run(context.Background(), cmd, sink))

	require.Equal(t, 2, p.calls())
	assert.Equal(t, []invocation{{name: "search", args: `{"q":"weather"}`}}, tools.calls())
	assert.Equal(t, "Let me look.It is sunny.", sink.text(events.KindAnswer))
	assert.Equal(t, events.KindEnd, sink.kinds()[len(sink.kinds())-1])

	first := p.requests[0]
	assert.Equal(t, "test-model", first.Model)
	assert.Equal(t, "be brief", first.Instructions)
	assert.Equal(t, "Paris is in France", first.Context)
	assert.Equal(t, []provider.ToolDescriptor{searchTool()}, first.Tools)
	assert.Len(t, p.histories[0], 1)
	assert.Len(t, p.histories[1], 3, "second request sees the tool turn")

	turns := cmd.History.Turns()
	require.Len(t, turns, 4)
	assert.Equal(t, []messages.Role{messages.RoleUser, messages.RoleAssistant, messages.RoleTool, messages.RoleAssistant},
		[]messages.Role{turns[0].Role, turns[1].Role, turns[2].Role, turns[3].Role})

	assert.Equal(t, "Let me look.", turns[1].Text())
	assert.Equal(t, []messages.ToolCallPart{{ID: "call_1", Name: "search", Arguments: `{"q":"weather"}`}}, turns[1].ToolCalls())
	assert.Equal(t, []messages.ToolResultPart{messages.ToolResult("call_1", "search", "sunny, 24C")}, turns[2].Results())
	assert.Equal(t, "It is sunny.", turns[3].Text())
}

func TestLoop_ResultsFollowCallOrder(t *testing.T) {
	p := &fakeProvider{steps: []step{
		{events: []provider.Event{
			call(0, "a", "A", "{}"),
			call(1, "b", "B", "{}"),
			call(2, "c", "C", "{}"),
			turnEnd(),
		}},
		{events: []provider.Event{text("done"), turnEnd()}},
	}}

	// C finishes first, then B, then A.
	cDone, bDone := make(chan struct{}), make(chan struct{})
	wait := func(ctx context.Context, ch chan struct{}) bool {
		select {
		case <-ch:
			return true
		case <-ctx.Done():
			return false
		case <-time.After(2 * time.Second):
			return false
		}
	}
	tools := &fakeTools{fn: func(ctx context.Context, name, _ string) toolset.Outcome {
		switch name {
		case "C":
			close(cDone)
		case "B":
			if !wait(ctx, cDone) {
				return toolset.Err("C never finished")
			}
			close(bDone)
		case "A":
			if !wait(ctx, bDone) {
				return toolset.Err("B never finished")
			}
		}
		return toolset.Ok("result " + name)
	}}

	cmd := newCommand(t, "run all three")
	require.NoError(t, New(p, tools).Run(context.Background(), cmd, &recorder{}))

	turns := cmd.History.Turns()
	require.Len(t, turns, 4)
	results := turns[2].Results()
	require.Len(t, results, 3)
	for i, name := range []string{"A", "B", "C"} {
		assert.Equal(t, strings.ToLower(name), results[i].CallID)
		assert.Equal(t, "result "+name, results[i].Result)
		assert.False(t, results[i].IsError())
	}
}

func TestLoop_StopsAtMaxTurns(t *testing.T) {
	for _, maxTurns := range []int{1, 3, 5} {
		t.Run(fmt.Sprintf("max %d", maxTurns), func(t *testing.T) {
			p := &fakeProvider{steps: []step{{events: []provider.Event{
				text("again"),
				call(0, "", "search", `{"q":"loop"}`),
				turnEnd(),
			}}}}
			tools := &fakeTools{}
			sink := &recorder{}
			cmd := newCommand(t, "loop forever").WithMaxTurns(maxTurns)

			require.NoError(t, New(p, tools).Run(context.Background(), cmd, sink))

			assert.Equal(t, maxTurns, p.calls())
			assert.Len(t, tools.calls(), maxTurns)
			assert.Equal(t, 1+2*maxTurns, cmd.History.Len())
			kinds := sink.kinds()
			assert.Equal(t, events.KindEnd, kinds[len(kinds)-1])
			assert.Equal(t, strings.Repeat("again", maxTurns), sink.text(events.KindAnswer), "no error text on truncation")
		})
	}
}

func TestLoop_ToolFailuresAreResults(t *testing.T) {
	p := &fakeProvider{steps: []step{
		{events: []provider.Event{
			call(0, "c1", "flaky", "{}"),
			call(1, "c2", "missing", "{}"),
			call(2, "c3", "search", `{"q":"go"}`),
			turnEnd(),
		}},
		{events: []provider.Event{text("partial answer"), turnEnd()}},
	}}
	tools := &fakeTools{fn: func(_ context.Context, name, _ string) toolset.Outcome {
		switch name {
		case "flaky":
			return toolset.Err("tool timed out after 30s")
		case "missing":
			return toolset.Err("unknown tool: missing")
		default:
			return toolset.Ok("found")
		}
	}}
	cmd := newCommand(t, "go")

	require.NoError(t, New(p, tools).Run(context.Background(), cmd, &recorder{}))

	results := cmd.History.Turns()[2].Results()
	require.Len(t, results, 3)
	assert.Equal(t, messages.ToolError("c1", "flaky", "tool timed out after 30s"), results[0])
	assert.Equal(t, messages.ToolError("c2", "missing", "unknown tool: missing"), results[1])
	assert.Equal(t, messages.ToolResult("c3", "search", "found"), results[2])
	assert.Equal(t, 2, p.calls(), "the loop continues after tool failures")
}

func TestLoop_InvalidArgumentsReported(t *testing.T) {
	p := &fakeProvider{steps: []step{
		{events: []provider.Event{
			call(0, "c1", "search", `{"q": "unterminated`),
			call(1, "c2", "search", `{"q":"ok"}`),
			turnEnd(),
		}},
		{events: []provider.Event{text("answer"), turnEnd()}},
	}}
	tools := &fakeTools{}
	cmd := newCommand(t, "search twice")

	require.NoError(t, New(p, tools).Run(context.Background(), cmd, &recorder{}))

	assert.Equal(t, []invocation{{name: "search", args: `{"q":"ok"}`}}, tools.calls())
	turns := cmd.History.Turns()
	require.Len(t, turns, 4)
	assert.Equal(t, `{"q": "unterminated`, turns[1].ToolCalls()[0].Arguments, "history keeps what the model produced")
	results := turns[2].Results()
	require.Len(t, results, 2)
	assert.True(t, results[0].IsError())
	assert.Contains(t, results[0].Error, "not valid JSON")
	assert.False(t, results[1].IsError())
}

func TestLoop_InvalidArgumentsAbortTurn(t *testing.T) {
	p := &fakeProvider{steps: []step{{events: []provider.Event{
		text("Checking."),
		call(0, "c1", "search", `{"q":`),
		call(1, "c2", "search", `{"q":"ok"}`),
		turnEnd(),
	}}}}
	tools := &fakeTools{}
	sink := &recorder{}
	cmd := newCommand(t, "search").WithArgumentPolicy(AbortTurn)

	err := New(p, tools).Run(context.Background(), cmd, sink)
	require.ErrorIs(t, err, errInvalidArguments)

	assert.Empty(t, tools.calls())
	assert.Equal(t, 1, cmd.History.Len(), "nothing of the aborted turn is kept")
	assert.Equal(t, []events.Kind{events.KindAnswer, events.KindAnswer, events.KindEnd}, sink.kinds())
	answer := sink.text(events.KindAnswer)
	assert.True(t, strings.HasPrefix(answer, "Checking.\n\n"))
	assert.Contains(t, answer, "could not run the requested tools")
}

func TestLoop_RetriesTransientFailures(t *testing.T) {
	transient := provider.ClassifyStatus(503, "overloaded", 0)
	p := &fakeProvider{steps: []step{
		{err: transient},
		{events: []provider.Event{call(0, "c1", "search", "{}"), provider.Error{Err: transient}}},
		{events: []provider.Event{text("recovered"), turnEnd()}},
	}}
	tools := &fakeTools{}
	sink := &recorder{}
	cmd := newCommand(t, "hi")

	require.NoError(t, New(p, tools).Run(context.Background(), cmd, sink))

	assert.Equal(t, 3, p.calls())
	assert.Empty(t, tools.calls(), "fragments of a failed attempt are discarded")
	assert.Equal(t, "recovered", sink.text(events.KindAnswer))
	assert.Equal(t, 2, cmd.History.Len())
}

func TestLoop_RetriesExhausted(t *testing.T) {
	p := &fakeProvider{steps: []step{{err: provider.ClassifyStatus(429, "rate limited", 0)}}}
	sink := &recorder{}
	cmd := newCommand(t, "hi").WithRetry(fastRetry(2))

	err := New(p, &fakeTools{}).Run(context.Background(), cmd, sink)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.True(t, provider.IsTransient(err))

	assert.Equal(t, 2, p.calls())
	assert.Equal(t, []events.Kind{events.KindAnswer, events.KindEnd}, sink.kinds())
	assert.Contains(t, sink.text(events.KindAnswer), "not available right now")
	assert.Equal(t, 1, cmd.History.Len())
}

func TestLoop_NoRetryOnceTextWasSent(t *testing.T) {
	p := &fakeProvider{steps: []step{
		{events: []provider.Event{text("Partial"), provider.Error{Err: &provider.TransientError{Err: errors.New("connection reset")}}}},
		{events: []provider.Event{text("never"), turnEnd()}},
	}}
	sink := &recorder{}
	cmd := newCommand(t, "hi")

	err := New(p, nil).Run(context.Background(), cmd, sink)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)

	assert.Equal(t, 1, p.calls())
	answer := sink.text(events.KindAnswer)
	assert.True(t, strings.HasPrefix(answer, "Partial\n\nSomething went wrong"), answer)
	assert.Contains(t, answer, "connection reset")
	assert.Equal(t, events.KindEnd, sink.kinds()[len(sink.kinds())-1])
}

func TestLoop_FailureInsideReasoningIsAnswerText(t *testing.T) {
	p := &fakeProvider{steps: []step{
		{events: []provider.Event{text("<think>pondering"), provider.Error{Err: errors.New("boom")}}},
	}}
	sink := &recorder{}
	cmd := newCommand(t, "hi")

	err := New(p, nil).Run(context.Background(), cmd, sink)
	require.Error(t, err)

	assert.Equal(t, "pondering", sink.text(events.KindReasoning))
	answer := sink.text(events.KindAnswer)
	assert.True(t, strings.HasPrefix(answer, "Something went wrong while answering."), "no answer text was sent before: %q", answer)
	assert.Contains(t, answer, "boom")
	assert.Equal(t, events.KindEnd, sink.kinds()[len(sink.kinds())-1])
}

func TestLoop_PermanentFailureNotRetried(t *testing.T) {
	p := &fakeProvider{steps: []step{{err: provider.ClassifyStatus(400, "bad request", 0)}}}
	sink := &recorder{}

	err := New(p, nil).Run(context.Background(), newCommand(t, "hi"), sink)
	var se *provider.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 400, se.StatusCode)
	assert.Equal(t, 1, p.calls())
	assert.Equal(t, []events.Kind{events.KindAnswer, events.KindEnd}, sink.kinds())
}

func TestLoop_ProviderTimeoutIsRetried(t *testing.T) {
	p := &fakeProvider{steps: []step{
		{block: true},
		{events: []provider.Event{text("late but fine"), turnEnd()}},
	}}
	sink := &recorder{}
	cmd := newCommand(t, "hi").WithProviderTimeout(20 * time.Millisecond)

	require.NoError(t, New(p, nil).Run(context.Background(), cmd, sink))
	assert.Equal(t, 2, p.calls())
	assert.Equal(t, "late but fine", sink.text(events.KindAnswer))
}

func TestLoop_CancelWhileStreaming(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &fakeProvider{steps: []step{{events: []provider.Event{text("Hel")}, block: true}}}
	sink := &recorder{onSend: func(events.Frame) { cancel() }}
	cmd := newCommand(t, "hi")

	err := New(p, nil).Run(ctx, cmd, sink)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []events.Kind{events.KindAnswer}, sink.kinds(), "no end frame after cancellation")
	assert.Equal(t, 1, cmd.History.Len(), "history is left untouched")
}

func TestLoop_CancelWhileToolsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := &fakeProvider{steps: []step{{events: []provider.Event{
		call(0, "c1", "slow", "{}"),
		call(1, "c2", "fast", "{}"),
		turnEnd(),
	}}}}
	tools := &fakeTools{fn: func(ctx context.Context, name, _ string) toolset.Outcome {
		if name == "fast" {
			return toolset.Ok("fast")
		}
		cancel()
		<-ctx.Done()
		return toolset.Err(ctx.Err().Error())
	}}
	sink := &recorder{}
	cmd := newCommand(t, "hi")

	err := New(p, tools).Run(ctx, cmd, sink)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, cmd.History.Len())
	assert.NotContains(t, sink.kinds(), events.KindEnd)
	assert.Equal(t, 1, p.calls())
}

func TestLoop_ReferencesComeFirst(t *testing.T) {
	p := &fakeProvider{steps: []step{{events: []provider.Event{text("See the docs."), turnEnd()}}}}
	sink := &recorder{}
	cmd := newCommand(t, "hi").WithContext("retrieved text", "handbook.pdf", "faq.md")

	require.NoError(t, New(p, nil).Run(context.Background(), cmd, sink))

	require.NotEmpty(t, sink.frames)
	first := sink.frames[0]
	assert.Equal(t, events.KindReferences, first.Kind)
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, []string{"handbook.pdf", "faq.md"}, first.References)
}

func TestLoop_ReasoningIsStreamedButNotStored(t *testing.T) {
	p := &fakeProvider{steps: []step{{events: []provider.Event{
		provider.TextDelta{Text: "considering", Reasoning: true},
		text("<think>more</think>"),
		text("Hi there"),
		turnEnd(),
	}}}}
	sink := &recorder{}
	cmd := newCommand(t, "hi")

	require.NoError(t, New(p, nil).Run(context.Background(), cmd, sink))

	assert.Equal(t, "consideringmore", sink.text(events.KindReasoning))
	assert.Equal(t, "Hi there", sink.text(events.KindAnswer))
	turns := cmd.History.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "Hi there", turns[1].Text())
}

func TestLoop_EmptyAnswerAppendsNothing(t *testing.T) {
	p := &fakeProvider{steps: []step{{events: []provider.Event{turnEnd()}}}}
	sink := &recorder{}
	cmd := newCommand(t, "hi")

	require.NoError(t, New(p, nil).Run(context.Background(), cmd, sink))
	assert.Equal(t, []events.Kind{events.KindEnd}, sink.kinds())
	assert.Equal(t, 1, cmd.History.Len())
}

func TestLoop_StreamClosedWithoutTurnEnd(t *testing.T) {
	p := &fakeProvider{steps: []step{{events: []provider.Event{text("cut")}}}}
	sink := &recorder{}
	cmd := newCommand(t, "hi")

	require.NoError(t, New(p, nil).Run(context.Background(), cmd, sink))
	assert.Equal(t, []events.Kind{events.KindAnswer, events.KindEnd}, sink.kinds())
}

func TestLoop_ListToolsFailure(t *testing.T) {
	p := &fakeProvider{steps: []step{{events: []provider.Event{text("no tools"), turnEnd()}}}}
	tools := &fakeTools{listErr: errors.New("all sources failed")}

	require.NoError(t, New(p, tools).Run(context.Background(), newCommand(t, "hi"), &recorder{}))
	assert.Empty(t, p.requests[0].Tools)
}

func TestLoop_SinkFailure(t *testing.T) {
	boom := errors.New("client went away")
	p := &fakeProvider{steps: []step{{events: []provider.Event{text("hello"), turnEnd()}}}}
	cmd := newCommand(t, "hi")

	err := New(p, nil).Run(context.Background(), cmd, &recorder{err: boom})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, p.calls(), "delivery failures are not retried")
}

func TestLoop_Validation(t *testing.T) {
	p := &fakeProvider{steps: []step{{events: []provider.Event{turnEnd()}}}}

	assert.Error(t, New(p, nil).Run(context.Background(), RunCommand{}, &recorder{}))
	assert.ErrorContains(t, New(p, nil).Run(context.Background(), newCommand(t, "hi"), nil), "sink is required")
	assert.ErrorContains(t, New(nil, nil).Run(context.Background(), newCommand(t, "hi"), &recorder{}), "provider is required")
	assert.Zero(t, p.calls())
}

func TestLoop_ConcurrentRuns(t *testing.T) {
	p := &fakeProvider{steps: []step{
		{events: []provider.Event{call(0, "c1", "search", "{}"), turnEnd()}},
		{events: []provider.Event{text("done"), turnEnd()}},
	}}
	tools := &fakeTools{}
	loop := New(p, tools)

	// every run replays the script from the last step once the first two are used up
	errs := make(chan error, 4)
	cmds := make([]RunCommand, 4)
	for i := range cmds {
		cmds[i] = newCommand(t, "hi")
		go func() {
			errs <- loop.Run(context.Background(), cmds[i], &recorder{})
		}()
	}
	for range cmds {
		require.NoError(t, <-errs)
	}
	for _, cmd := range cmds {
		last, ok := cmd.History.Last()
		require.True(t, ok)
		assert.Equal(t, messages.RoleAssistant, last.Role)
	}
}

// Package provider normalizes LLM backends into one streaming contract.
//
// Backends differ in how they stream tool calls. Some emit each call whole inside a
// structured part; others emit a call token by token as indexed deltas. Adapters hide
// that difference and translate every backend into the same small event union:
//
//  1. TextDelta: a piece of text, optionally marked as reasoning
//  2. ToolCallFragment: part of a tool call, keyed by its index within the turn
//  3. TurnEnd: the model finished the turn
//  4. Error: the stream failed and is about to close
//
// Fragments that share an Index belong to the same call. Consumers concatenate the Name
// and Args of consecutive fragments; they never replace earlier values. The first
// non-empty ID and Signature win.
//
// Stream performs the request before returning. Failures that happen before any event is
// produced are returned directly, so callers can retry them. Once the channel is
// returned, every stream ends with exactly one TurnEnd or Error and is then closed.
//
// Example usage:
//
//	events, err := p.Stream(ctx, provider.Request{
//	    RunID:        uuidx.New(),
//	    Model:        "gpt-4o-mini",
//	    Instructions: "You are a helpful assistant",
//	    History:      history,
//	    Tools:        tools,
//	})
//	if err != nil {
//	    return err
//	}
//	for ev := range events {
//	    switch ev := ev.(type) {
//	    case provider.TextDelta:
//	        fmt.Print(ev.Text)
//	    case provider.ToolCallFragment:
//	        // accumulate by ev.Index
//	    case provider.TurnEnd:
//	        // finalize the turn
//	    case provider.Error:
//	        return ev.Err
//	    }
//	}
package provider

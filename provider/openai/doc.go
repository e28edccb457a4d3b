/*
Package openai implements provider.Provider for OpenAI compatible chat completion
endpoints.

The backend streams deltas. A tool call arrives as a series of fragments that share an
index: the first usually carries the call id and function name, the rest carry pieces of
the JSON arguments. Each delta is forwarded as a provider.ToolCallFragment without any
buffering, so the orchestration loop owns accumulation and parsing.

Reasoning text is read from the non-standard delta.reasoning_content field that several
compatible servers emit, and is forwarded as a reasoning TextDelta.

# Request Mapping

  - Instructions and context become a single system message
  - User turns become user messages
  - Assistant turns become assistant messages with text and tool_calls
  - Each tool result becomes its own tool message keyed by tool_call_id; failures are
    sent as "error: <message>"

The thought signatures some backends attach to tool calls are not part of this protocol
and are not sent.

# Usage

	p := openai.New(option.WithAPIKey(key))
	events, err := p.Stream(ctx, provider.Request{Model: "gpt-4o-mini", History: h})
*/
package openai

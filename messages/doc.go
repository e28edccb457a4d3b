// Package messages defines the conversation data model shared by the provider adapters,
// the history store and the orchestration loop.
//
// A conversation is an ordered list of Turns. Each Turn carries a Role and an ordered
// list of Parts:
//
//   - TextPart: plain text produced by the user or the assistant
//   - ToolCallPart: a request from the model to invoke a tool
//   - ToolResultPart: the outcome of a tool invocation, either a result or an error
//
// ToolCallPart.Signature holds an opaque provider token that must be replayed
// byte-for-byte when the history is sent back to the provider that produced it.
//
// Turns marshal to a tagged JSON representation so that an external persistence layer
// can store the turns a run produced:
//
//	{"role":"assistant","timestamp":"...","parts":[{"type":"tool_call","id":"c1","name":"search","arguments":"{}"}]}
package messages

package provider

import (
	"context"
	"strings"

	"github.com/casualjim/toolstream/internal/shorttermmemory"
	"github.com/google/uuid"
)

// Provider is a streaming LLM backend.
type Provider interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Stream sends the request and returns the canonical events of one model turn.
	Stream(context.Context, Request) (<-chan Event, error)
}

// Request carries everything an adapter needs to build one provider call.
type Request struct {
	// RunID identifies the orchestration run this call belongs to.
	RunID uuid.UUID

	// Model is the backend specific model name.
	Model string

	// Instructions is the system prompt.
	Instructions string

	// Context is an opaque block of pre-resolved context, appended to the system prompt.
	Context string

	// History is the conversation so far, including tool turns of this run.
	History *shorttermmemory.History

	// Tools are the tools the model may call.
	Tools []ToolDescriptor

	_ struct{}
}

// SystemPrompt combines the instructions and the resolved context block.
func (r *Request) SystemPrompt() string {
	instructions := strings.TrimSpace(r.Instructions)
	extra := strings.TrimSpace(r.Context)
	switch {
	case extra == "":
		return instructions
	case instructions == "":
		return extra
	default:
		return instructions + "\n\n" + extra
	}
}

// ToolDescriptor describes a tool to the model.
//
// Name must already be sanitized for the provider. Parameters is a JSON schema object.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// EmptyParameters is the schema of a tool that takes no arguments.
func EmptyParameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

// Emit sends ev on ch unless ctx is done first. It reports whether the event was sent.
func Emit(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Offer sends ev on ch only if that does not block. Adapters use it to report
// cancellation to a consumer that may already have stopped reading.
func Offer(ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	default:
		return false
	}
}

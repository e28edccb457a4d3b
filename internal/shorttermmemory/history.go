// Package shorttermmemory holds the conversation history of a single request.
//
// History is append-only: turns are added at the end and never mutated afterwards.
// The orchestration loop works on a fork of the caller's history and joins it back
// only when a run completes, so a cancelled run leaves no partial turns behind.
package shorttermmemory

import (
	"iter"
	"slices"

	"github.com/casualjim/toolstream/messages"
	"github.com/casualjim/toolstream/pkg/uuidx"
	"github.com/google/uuid"
)

// New creates an empty History with a fresh identifier.
//
// Example:
//
//	h := New()
//	h.Append(messages.User("what's the weather in Paris?"))
func New(turns ...messages.Turn) *History {
	h := &History{
		id:    uuidx.New(),
		turns: make([]messages.Turn, 0, len(turns)),
	}
	for _, t := range turns {
		h.Append(t)
	}
	return h
}

// History is an ordered, append-only list of turns.
//
// A History is owned by one goroutine at a time. Concurrent runs must each work on
// their own fork.
type History struct {
	id      uuid.UUID
	turns   []messages.Turn
	initLen int // length at fork time, used for joining
}

// ID returns the unique identifier of this history. Forks get a new one.
func (h *History) ID() uuid.UUID {
	return h.id
}

// Len returns the total number of turns.
func (h *History) Len() int {
	return len(h.turns)
}

// TurnLen returns the number of turns appended since the history was forked.
func (h *History) TurnLen() int {
	return len(h.turns) - h.initLen
}

// Turns returns a copy of all turns.
func (h *History) Turns() []messages.Turn {
	return slices.Clone(h.turns)
}

// Iter returns an iterator over all turns without copying them.
func (h *History) Iter() iter.Seq[messages.Turn] {
	return slices.Values(h.turns)
}

// Last returns the most recent turn, if any.
func (h *History) Last() (messages.Turn, bool) {
	if len(h.turns) == 0 {
		return messages.Turn{}, false
	}
	return h.turns[len(h.turns)-1], true
}

// Append adds a turn at the end of the history. The turn's parts are copied so later
// changes to the caller's slice cannot alter what was recorded.
func (h *History) Append(t messages.Turn) {
	h.turns = append(h.turns, t.Clone())
}

// Fork creates a new history that starts with a copy of the current turns.
// Turns appended to the fork are invisible to the receiver until Join.
func (h *History) Fork() *History {
	return &History{
		id:      uuidx.New(),
		turns:   slices.Clone(h.turns),
		initLen: h.Len(),
	}
}

// Join appends the turns that were added to b after it was forked.
//
// Example:
//
//	original := New(u1, a1)     // [u1, a1]
//	forked := original.Fork()   // [u1, a1], initLen=2
//	forked.Append(u2)           // [u1, a1, u2]
//	original.Join(forked)       // original is [u1, a1, u2]
func (h *History) Join(b *History) {
	h.turns = append(h.turns, b.turns[b.initLen:]...)
}

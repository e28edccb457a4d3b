package shorttermmemory

import (
	"testing"

	"github.com/casualjim/toolstream/messages"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory(t *testing.T) {
	t.Run("new history", func(t *testing.T) {
		h := New()
		assert.NotEqual(t, uuid.Nil, h.ID())
		assert.Equal(t, 0, h.Len())
		_, ok := h.Last()
		assert.False(t, ok)
	})

	t.Run("new with seed turns", func(t *testing.T) {
		h := New(messages.User("a"), messages.Assistant("b"))
		assert.Equal(t, 2, h.Len())
		assert.Equal(t, 2, h.TurnLen())
		last, ok := h.Last()
		require.True(t, ok)
		assert.Equal(t, messages.RoleAssistant, last.Role)
	})

	t.Run("turns returns a copy", func(t *testing.T) {
		h := New(messages.User("a"))
		turns := h.Turns()
		turns = append(turns, messages.User("b"))
		assert.Equal(t, 1, h.Len())
		assert.Len(t, turns, 2)
	})

	t.Run("append copies parts", func(t *testing.T) {
		h := New()
		turn := messages.User("original")
		h.Append(turn)
		turn.Parts[0] = messages.Text("mutated")
		last, _ := h.Last()
		assert.Equal(t, "original", last.Text())
	})

	t.Run("iterates in order", func(t *testing.T) {
		h := New(messages.User("1"), messages.User("2"), messages.User("3"))
		var got []string
		for turn := range h.Iter() {
			got = append(got, turn.Text())
		}
		assert.Equal(t, []string{"1", "2", "3"}, got)
	})
}

func TestHistory_ForkJoin(t *testing.T) {
	t.Run("fork is isolated until join", func(t *testing.T) {
		original := New(messages.User("q"))
		fork := original.Fork()
		assert.NotEqual(t, original.ID(), fork.ID())
		assert.Equal(t, 0, fork.TurnLen())

		fork.Append(messages.Assistant("", messages.ToolCallPart{ID: "c1", Name: "search"}))
		fork.Append(messages.ToolResults(messages.ToolResult("c1", "search", "r")))
		assert.Equal(t, 1, original.Len())
		assert.Equal(t, 2, fork.TurnLen())

		original.Join(fork)
		require.Equal(t, 3, original.Len())
		turns := original.Turns()
		assert.Equal(t, messages.RoleAssistant, turns[1].Role)
		assert.Equal(t, messages.RoleTool, turns[2].Role)
	})

	t.Run("discarded fork leaves original unchanged", func(t *testing.T) {
		original := New(messages.User("q"))
		fork := original.Fork()
		fork.Append(messages.Assistant("partial"))
		assert.Equal(t, 1, original.Len())
	})

	t.Run("join keeps turns added to original after fork", func(t *testing.T) {
		original := New(messages.User("1"))
		fork := original.Fork()
		original.Append(messages.User("2"))
		fork.Append(messages.Assistant("3"))
		original.Join(fork)

		var got []string
		for turn := range original.Iter() {
			got = append(got, turn.Text())
		}
		assert.Equal(t, []string{"1", "2", "3"}, got)
	})
}

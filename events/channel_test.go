package events

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	frames []Frame
	err    error
}

func (r *recorder) Send(_ context.Context, f Frame) error {
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, f)
	return nil
}

type piece struct {
	kind Kind
	text string
}

func pieces(frames []Frame) []piece {
	var result []piece
	for _, f := range frames {
		result = append(result, piece{kind: f.Kind, text: f.Text})
	}
	return result
}

// merged collapses adjacent frames of the same kind so assertions don't depend on
// where deltas were cut.
func merged(frames []Frame) []piece {
	var result []piece
	for _, p := range pieces(frames) {
		if n := len(result); n > 0 && result[n-1].kind == p.kind && p.kind != KindEnd {
			result[n-1].text += p.text
			continue
		}
		result = append(result, p)
	}
	return result
}

func TestChannel_Answer(t *testing.T) {
	rec := &recorder{}
	ch := NewChannel(uuid.New(), rec)
	ctx := context.Background()

	require.NoError(t, ch.Answer(ctx, "Hello"))
	require.NoError(t, ch.Answer(ctx, " world"))
	require.NoError(t, ch.End(ctx))

	assert.Equal(t, []piece{
		{KindAnswer, "Hello"},
		{KindAnswer, " world"},
		{KindEnd, ""},
	}, pieces(rec.frames))
}

func TestChannel_Notice(t *testing.T) {
	ctx := context.Background()

	t.Run("closes an open reasoning section", func(t *testing.T) {
		rec := &recorder{}
		ch := NewChannel(uuid.New(), rec)
		require.NoError(t, ch.Answer(ctx, "<think>pondering</th"))
		assert.False(t, ch.Answered())

		require.NoError(t, ch.Notice(ctx, "failed"))
		require.NoError(t, ch.End(ctx))
		assert.Equal(t, []piece{
			{KindReasoning, "pondering"},
			{KindReasoning, "</th"},
			{KindAnswer, "failed"},
			{KindEnd, ""},
		}, pieces(rec.frames))
		assert.True(t, ch.Answered())
	})

	t.Run("later answer text starts outside reasoning", func(t *testing.T) {
		rec := &recorder{}
		ch := NewChannel(uuid.New(), rec)
		require.NoError(t, ch.Answer(ctx, "<think>a"))
		require.NoError(t, ch.Notice(ctx, ""))
		require.NoError(t, ch.Answer(ctx, "b"))
		assert.Equal(t, []piece{
			{KindReasoning, "a"},
			{KindAnswer, "b"},
		}, pieces(rec.frames))
	})
}

func TestChannel_ThinkMarkers(t *testing.T) {
	tests := []struct {
		name   string
		deltas []string
		want   []piece
	}{
		{
			name:   "whole markers",
			deltas: []string{"<think>pondering</think>The answer"},
			want:   []piece{{KindReasoning, "pondering"}, {KindAnswer, "The answer"}, {KindEnd, ""}},
		},
		{
			name:   "open marker split across deltas",
			deltas: []string{"<thi", "nk>hmm</think>ok"},
			want:   []piece{{KindReasoning, "hmm"}, {KindAnswer, "ok"}, {KindEnd, ""}},
		},
		{
			name:   "close marker split across deltas",
			deltas: []string{"<think>a", "b</", "think", ">c"},
			want:   []piece{{KindReasoning, "ab"}, {KindAnswer, "c"}, {KindEnd, ""}},
		},
		{
			name:   "text before marker",
			deltas: []string{"x <think>y</think> z"},
			want:   []piece{{KindAnswer, "x "}, {KindReasoning, "y"}, {KindAnswer, " z"}, {KindEnd, ""}},
		},
		{
			name:   "lookalike is released at end",
			deltas: []string{"a <thin"},
			want:   []piece{{KindAnswer, "a <thin"}, {KindEnd, ""}},
		},
		{
			name:   "lookalike is released when disproved",
			deltas: []string{"1 <", "2"},
			want:   []piece{{KindAnswer, "1 <2"}, {KindEnd, ""}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			ch := NewChannel(uuid.New(), rec)
			ctx := context.Background()
			for _, d := range tt.deltas {
				require.NoError(t, ch.Answer(ctx, d))
			}
			require.NoError(t, ch.End(ctx))
			assert.Equal(t, tt.want, merged(rec.frames))

			var text strings.Builder
			for _, f := range rec.frames {
				text.WriteString(f.Text)
			}
			want := strings.NewReplacer(thinkOpen, "", thinkClose, "").Replace(strings.Join(tt.deltas, ""))
			assert.Equal(t, want, text.String(), "no text is lost")
		})
	}
}

func TestChannel_HoldsBackOnlyPartialMarker(t *testing.T) {
	rec := &recorder{}
	ch := NewChannel(uuid.New(), rec)
	require.NoError(t, ch.Answer(context.Background(), "abc<th"))
	require.Len(t, rec.frames, 1)
	assert.Equal(t, "abc", rec.frames[0].Text)
}

func TestChannel_SequenceAndRunID(t *testing.T) {
	rec := &recorder{}
	runID := uuid.New()
	ch := NewChannel(runID, rec)
	ctx := context.Background()

	require.NoError(t, ch.References(ctx, []string{"doc-1", "doc-2"}))
	require.NoError(t, ch.References(ctx, nil))
	require.NoError(t, ch.Reasoning(ctx, "thinking"))
	require.NoError(t, ch.Reasoning(ctx, ""))
	require.NoError(t, ch.Answer(ctx, "done"))
	require.NoError(t, ch.End(ctx))
	require.NoError(t, ch.End(ctx))

	require.Len(t, rec.frames, 4)
	for i, f := range rec.frames {
		assert.Equal(t, uint64(i+1), f.Seq)
		assert.Equal(t, runID, f.RunID)
		assert.False(t, time.Time(f.Timestamp).IsZero())
	}
	assert.Equal(t, KindReferences, rec.frames[0].Kind)
	assert.Equal(t, []string{"doc-1", "doc-2"}, rec.frames[0].References)
	assert.Equal(t, KindEnd, rec.frames[3].Kind)
	assert.Equal(t, uint64(4), ch.Seq())
}

func TestChannel_SinkError(t *testing.T) {
	boom := errors.New("client went away")
	ch := NewChannel(uuid.New(), &recorder{err: boom})
	assert.ErrorIs(t, ch.Answer(context.Background(), "hi"), boom)
	assert.ErrorIs(t, ch.End(context.Background()), boom)
}

func TestPartialSuffix(t *testing.T) {
	assert.Equal(t, 0, partialSuffix("abc", thinkOpen))
	assert.Equal(t, 1, partialSuffix("abc<", thinkOpen))
	assert.Equal(t, 6, partialSuffix("<think", thinkOpen))
	assert.Equal(t, 3, partialSuffix("x</t", thinkClose))
	assert.Equal(t, 0, partialSuffix("", thinkOpen))
}

package events

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestFrame_JSON(t *testing.T) {
	ts := strfmt.DateTime(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	frame := Frame{
		RunID:      uuid.MustParse("0190a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b"),
		Seq:        3,
		Kind:       KindReferences,
		References: []string{"a.pdf", "b.pdf"},
		Timestamp:  ts,
	}

	b, err := json.Marshal(frame)
	require.NoError(t, err)
	assert.Equal(t, "references", gjson.GetBytes(b, "kind").String())
	assert.Equal(t, int64(3), gjson.GetBytes(b, "seq").Int())
	assert.False(t, gjson.GetBytes(b, "text").Exists())

	var decoded Frame
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, frame.RunID, decoded.RunID)
	assert.Equal(t, frame.References, decoded.References)
	assert.Equal(t, frame.Kind, decoded.Kind)
	assert.Equal(t, frame.Seq, decoded.Seq)
	assert.Equal(t, ts.String(), decoded.Timestamp.String())
}

func TestFrame_UnmarshalErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		msg  string
	}{
		{"invalid json", `{"kind":`, "invalid json"},
		{"unknown kind", `{"kind":"tool-call"}`, "invalid frame kind"},
		{"bad run id", `{"kind":"end","run_id":"nope"}`, "invalid run id"},
		{"bad timestamp", `{"kind":"end","timestamp":"yesterday"}`, "invalid timestamp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f Frame
			assert.ErrorContains(t, f.UnmarshalJSON([]byte(tt.data)), tt.msg)
		})
	}
}

func TestChanSink(t *testing.T) {
	sink := NewChanSink(2)
	ctx := context.Background()
	require.NoError(t, sink.Send(ctx, Frame{Kind: KindAnswer, Text: "a"}))
	require.NoError(t, sink.Send(ctx, Frame{Kind: KindEnd}))

	t.Run("respects context when full", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, sink.Send(cctx, Frame{Kind: KindEnd}), context.Canceled)
	})

	sink.Close()
	sink.Close()
	assert.ErrorIs(t, sink.Send(ctx, Frame{}), ErrClosed)

	var got []Kind
	for f := range sink.Frames() {
		got = append(got, f.Kind)
	}
	assert.Equal(t, []Kind{KindAnswer, KindEnd}, got)
}

func TestTee(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	failing := &recorder{err: errors.New("down")}

	sink := Tee(a, failing, b)
	err := sink.Send(context.Background(), Frame{Kind: KindAnswer, Text: "x"})
	assert.ErrorContains(t, err, "down")
	assert.Len(t, a.frames, 1)
	assert.Len(t, b.frames, 1, "later sinks still receive the frame")
}

func TestSSEWriter(t *testing.T) {
	runID := uuid.New()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse, err := NewSSEWriter(w)
		if !assert.NoError(t, err) {
			return
		}
		ch := NewChannel(runID, sse)
		assert.NoError(t, ch.Answer(r.Context(), "<think>hm</think>hi"))
		assert.NoError(t, ch.End(r.Context()))
	}))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var kinds []string
	var frames []Frame
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			kinds = append(kinds, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			var f Frame
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f))
			frames = append(frames, f)
		}
	}
	require.NoError(t, scanner.Err())

	assert.Equal(t, []string{"reasoning-text", "answer-text", "end"}, kinds)
	require.Len(t, frames, 3)
	assert.Equal(t, "hm", frames[0].Text)
	assert.Equal(t, "hi", frames[1].Text)
	assert.Equal(t, runID, frames[2].RunID)
	assert.Equal(t, uint64(3), frames[2].Seq)
}

type plainWriter struct{ http.ResponseWriter }

func TestSSEWriter_RequiresFlusher(t *testing.T) {
	_, err := NewSSEWriter(plainWriter{httptest.NewRecorder()})
	assert.ErrorContains(t, err, "flushing")
}

func TestSSEWriter_Event(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, sse.Event(context.Background(), "summary", map[string]int{"turns": 2}))
	assert.Equal(t, "event: summary\ndata: {\"turns\":2}\n\n", rec.Body.String())
	assert.True(t, rec.Flushed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sse.Event(ctx, "summary", nil), context.Canceled)
}

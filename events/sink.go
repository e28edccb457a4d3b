package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	json "github.com/goccy/go-json"
)

// Sink receives frames in order. A Sink is used by a single run at a time.
type Sink interface {
	Send(ctx context.Context, frame Frame) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, frame Frame) error

func (f SinkFunc) Send(ctx context.Context, frame Frame) error {
	return f(ctx, frame)
}

// ErrClosed is returned when sending to a closed sink.
var ErrClosed = errors.New("sink is closed")

// ChanSink delivers frames over a Go channel.
type ChanSink struct {
	ch     chan Frame
	mu     sync.RWMutex
	closed bool
}

// NewChanSink creates a channel sink with the given buffer size.
func NewChanSink(size int) *ChanSink {
	return &ChanSink{ch: make(chan Frame, size)}
}

// Frames returns the channel frames are delivered on. It is closed by Close.
func (s *ChanSink) Frames() <-chan Frame {
	return s.ch
}

func (s *ChanSink) Send(ctx context.Context, frame Frame) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.ch <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the frame channel. It is safe to call more than once.
func (s *ChanSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// Tee sends every frame to all sinks, in order. Every sink sees the frame even when an
// earlier one fails.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(ctx context.Context, frame Frame) error {
		var errs []error
		for _, s := range sinks {
			if err := s.Send(ctx, frame); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// SSEWriter writes frames as server-sent events, flushing after each one.
type SSEWriter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewSSEWriter prepares w for an event stream. The response writer must support flushing.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &SSEWriter{w: w, flusher: flusher}, nil
}

func (s *SSEWriter) Send(ctx context.Context, frame Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", frame.Seq, frame.Kind, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Event writes v as a named event outside the frame sequence.
func (s *SSEWriter) Event(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", name, err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

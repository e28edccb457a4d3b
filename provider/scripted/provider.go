// Package scripted replays recorded provider turns. It backs demos and offline runs of
// the CLI and stands in for a real backend in tests.
//
// A script is JSON lines, one canonical event per line in its tagged form. A turn_end or
// error event closes a turn; each Stream call replays the next turn. Blank lines and lines
// starting with # are skipped.
//
//	{"type":"text_delta","text":"Let me check the time."}
//	{"type":"tool_call_fragment","index":0,"id":"c1","name":"current_time","args":"{\"timezone\":\"UTC\"}"}
//	{"type":"turn_end","finish_reason":"tool_calls"}
//	{"type":"text_delta","text":"It is noon."}
//	{"type":"turn_end"}
package scripted

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/casualjim/toolstream/provider"
)

const name = "scripted"

// ErrExhausted is returned when every turn of the script was replayed.
var ErrExhausted = errors.New("script has no more turns")

var _ provider.Provider = (*Provider)(nil)

// Provider replays turns in order. It is safe for concurrent use; concurrent runs share
// one cursor.
type Provider struct {
	mu    sync.Mutex
	turns [][]provider.Event
	next  int
	loop  bool
	delay time.Duration
}

// Option configures a scripted provider.
type Option func(*Provider)

// Loop restarts the script from the first turn once it is exhausted.
func Loop() Option {
	return func(p *Provider) { p.loop = true }
}

// WithDelay pauses between events, which makes streaming visible on a console.
func WithDelay(d time.Duration) Option {
	return func(p *Provider) { p.delay = d }
}

// New creates a provider from already decoded turns.
func New(turns [][]provider.Event, options ...Option) *Provider {
	p := &Provider{turns: turns}
	for _, o := range options {
		o(p)
	}
	return p
}

// Load reads a script.
func Load(r io.Reader, options ...Option) (*Provider, error) {
	var (
		turns   [][]provider.Event
		current []provider.Event
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 || data[0] == '#' {
			continue
		}
		ev, err := provider.DecodeEvent(data)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		current = append(current, ev)
		switch ev.(type) {
		case provider.TurnEnd, provider.Error:
			turns = append(turns, current)
			current = nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	if len(current) > 0 {
		turns = append(turns, append(current, provider.TurnEnd{}))
	}
	if len(turns) == 0 {
		return nil, errors.New("script has no turns")
	}
	return New(turns, options...), nil
}

// Open loads a script from a file.
func Open(path string, options ...Option) (*Provider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, options...)
}

func (p *Provider) Name() string {
	return name
}

// Remaining returns the number of turns not yet replayed.
func (p *Provider) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.turns) - p.next
}

func (p *Provider) Stream(ctx context.Context, _ provider.Request) (<-chan provider.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.next >= len(p.turns) {
		if !p.loop {
			p.mu.Unlock()
			return nil, ErrExhausted
		}
		p.next = 0
	}
	turn := p.turns[p.next]
	p.next++
	p.mu.Unlock()

	events := make(chan provider.Event)
	go func() {
		defer close(events)
		for _, ev := range turn {
			if p.delay > 0 {
				select {
				case <-time.After(p.delay):
				case <-ctx.Done():
					provider.Offer(events, provider.Error{Err: ctx.Err()})
					return
				}
			}
			if !provider.Emit(ctx, events, ev) {
				provider.Offer(events, provider.Error{Err: ctx.Err()})
				return
			}
		}
	}()
	return events, nil
}

package events

import (
	"context"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// Channel turns the text of a run into numbered frames. Answer text may carry inline
// <think>...</think> markers; text between them is sent as reasoning. The only text held
// back is a partial marker at the end of a delta.
//
// A Channel is not safe for concurrent use.
type Channel struct {
	runID    uuid.UUID
	sink     Sink
	seq      uint64
	inThink  bool
	pending  string
	ended    bool
	answered bool
}

// NewChannel creates an output channel for a run.
func NewChannel(runID uuid.UUID, sink Sink) *Channel {
	return &Channel{runID: runID, sink: sink}
}

// Answered reports whether any answer text was sent.
func (c *Channel) Answered() bool {
	return c.answered
}

// Seq returns the number of frames sent so far.
func (c *Channel) Seq() uint64 {
	return c.seq
}

// Reasoning sends text the provider marked as reasoning.
func (c *Channel) Reasoning(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	return c.send(ctx, Frame{Kind: KindReasoning, Text: text})
}

// Answer sends answer text, splitting out inline reasoning markers.
func (c *Channel) Answer(ctx context.Context, text string) error {
	buf := c.pending + text
	c.pending = ""

	for buf != "" {
		tag := thinkOpen
		if c.inThink {
			tag = thinkClose
		}

		if idx := strings.Index(buf, tag); idx >= 0 {
			if err := c.sendText(ctx, buf[:idx]); err != nil {
				return err
			}
			c.inThink = !c.inThink
			buf = buf[idx+len(tag):]
			continue
		}

		keep := partialSuffix(buf, tag)
		if err := c.sendText(ctx, buf[:len(buf)-keep]); err != nil {
			return err
		}
		c.pending = buf[len(buf)-keep:]
		break
	}
	return nil
}

// Notice sends text that is always answer text, such as a failure explanation. Held back
// text is flushed first and an open reasoning section is closed.
func (c *Channel) Notice(ctx context.Context, text string) error {
	if c.pending != "" {
		pending := c.pending
		c.pending = ""
		if err := c.sendText(ctx, pending); err != nil {
			return err
		}
	}
	c.inThink = false
	if text == "" {
		return nil
	}
	return c.send(ctx, Frame{Kind: KindAnswer, Text: text})
}

// References sends the identifiers of the sources the answer draws on.
func (c *Channel) References(ctx context.Context, refs []string) error {
	if len(refs) == 0 {
		return nil
	}
	return c.send(ctx, Frame{Kind: KindReferences, References: refs})
}

// End flushes held back text and sends the end frame. Calls after the first are ignored.
func (c *Channel) End(ctx context.Context) error {
	if c.ended {
		return nil
	}
	if c.pending != "" {
		text := c.pending
		c.pending = ""
		if err := c.sendText(ctx, text); err != nil {
			return err
		}
	}
	c.ended = true
	return c.send(ctx, Frame{Kind: KindEnd})
}

func (c *Channel) sendText(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	kind := KindAnswer
	if c.inThink {
		kind = KindReasoning
	}
	return c.send(ctx, Frame{Kind: kind, Text: text})
}

func (c *Channel) send(ctx context.Context, frame Frame) error {
	c.seq++
	frame.RunID = c.runID
	frame.Seq = c.seq
	frame.Timestamp = strfmt.DateTime(time.Now().UTC())
	if frame.Kind == KindAnswer {
		c.answered = true
	}
	return c.sink.Send(ctx, frame)
}

// partialSuffix returns the length of the longest suffix of s that is a proper prefix of tag.
func partialSuffix(s, tag string) int {
	n := min(len(tag)-1, len(s))
	for ; n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}

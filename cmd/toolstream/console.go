package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/casualjim/toolstream/events"
	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
)

// console prints frames to a terminal as they arrive. Reasoning is dimmed and
// references are listed once the answer is complete. With a renderer the answer is
// buffered and rendered as markdown at the end of the run instead of streamed.
type console struct {
	out      io.Writer
	renderer *glamour.TermRenderer

	mu         sync.Mutex
	answer     strings.Builder
	references []string
	reasoning  bool
}

func newConsole(out io.Writer, render bool) (*console, error) {
	c := &console{out: out}
	if render {
		r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
		if err != nil {
			return nil, err
		}
		c.renderer = r
	}
	return c, nil
}

var (
	reasoningColor = color.New(color.Faint, color.Italic)
	referenceColor = color.New(color.FgYellow)
)

func (c *console) Send(_ context.Context, frame events.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch frame.Kind {
	case events.KindReasoning:
		c.reasoning = true
		_, err := reasoningColor.Fprint(c.out, frame.Text)
		return err
	case events.KindAnswer:
		if err := c.endReasoning(); err != nil {
			return err
		}
		c.answer.WriteString(frame.Text)
		if c.renderer != nil {
			return nil
		}
		_, err := io.WriteString(c.out, frame.Text)
		return err
	case events.KindReferences:
		c.references = append(c.references, frame.References...)
		return nil
	case events.KindEnd:
		return c.finish()
	default:
		return nil
	}
}

func (c *console) endReasoning() error {
	if !c.reasoning {
		return nil
	}
	c.reasoning = false
	_, err := io.WriteString(c.out, "\n\n")
	return err
}

func (c *console) finish() error {
	if err := c.endReasoning(); err != nil {
		return err
	}
	if c.renderer != nil && c.answer.Len() > 0 {
		rendered, err := c.renderer.Render(c.answer.String())
		if err != nil {
			return fmt.Errorf("failed to render answer: %w", err)
		}
		if _, err := io.WriteString(c.out, rendered); err != nil {
			return err
		}
	} else if _, err := io.WriteString(c.out, "\n"); err != nil {
		return err
	}
	if len(c.references) > 0 {
		if _, err := referenceColor.Fprintln(c.out, "\nSources:"); err != nil {
			return err
		}
		for _, ref := range c.references {
			if _, err := referenceColor.Fprintf(c.out, "  - %s\n", ref); err != nil {
				return err
			}
		}
	}
	c.answer.Reset()
	c.references = nil
	return nil
}

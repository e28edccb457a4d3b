package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/casualjim/toolstream/events"
	"github.com/casualjim/toolstream/internal/executor"
	"github.com/casualjim/toolstream/internal/shorttermmemory"
	"github.com/casualjim/toolstream/messages"
	"github.com/fatih/color"
	json "github.com/goccy/go-json"
	"github.com/k0kubun/pp/v3"
	"github.com/spf13/cobra"
)

type chatOptions struct {
	context     string
	references  []string
	render      bool
	dumpHistory bool
	historyFile string
}

func newChatCommand(a *app) *cobra.Command {
	var o chatOptions
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Ask a question, or start an interactive session when no message is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.chat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), strings.Join(args, " "), o)
		},
	}
	cmd.Flags().StringVar(&o.context, "context", "", "retrieved text the model should use")
	cmd.Flags().StringArrayVar(&o.references, "ref", nil, "a source of the context (repeatable)")
	cmd.Flags().BoolVar(&o.render, "render", false, "render the answer as markdown once it is complete")
	cmd.Flags().BoolVar(&o.dumpHistory, "dump-history", false, "print the conversation history on exit")
	cmd.Flags().StringVar(&o.historyFile, "history", "", "JSON file the conversation is loaded from and saved to")
	return cmd
}

func (a *app) chat(ctx context.Context, in io.Reader, out io.Writer, message string, o chatOptions) error {
	p, err := buildProvider(a.cfg)
	if err != nil {
		return err
	}
	tools, servers, err := buildTools(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer servers.Close()

	sink, err := newConsole(out, o.render)
	if err != nil {
		return err
	}
	history, err := loadHistory(o.historyFile)
	if err != nil {
		return err
	}
	s := &session{
		loop:    executor.New(p, tools),
		cfg:     a.cfg.Apply,
		model:   a.cfg.Model,
		history: history,
		sink:    sink,
		opts:    o,
	}

	if message != "" {
		err = s.ask(ctx, message)
	} else {
		err = s.repl(ctx, in, out)
	}
	if o.dumpHistory {
		_, _ = pp.Fprintln(out, s.history.Turns())
	}
	if o.historyFile != "" {
		err = errors.Join(err, saveHistory(o.historyFile, s.history))
	}
	return err
}

// loadHistory reads turns saved by an earlier session. A missing file starts a new
// conversation.
func loadHistory(path string) (*shorttermmemory.History, error) {
	if path == "" {
		return shorttermmemory.New(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return shorttermmemory.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	var turns []messages.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("failed to decode history %s: %w", path, err)
	}
	return shorttermmemory.New(turns...), nil
}

func saveHistory(path string, history *shorttermmemory.History) error {
	data, err := json.MarshalIndent(history.Turns(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

// session keeps the history of a conversation across questions.
type session struct {
	loop    *executor.Loop
	cfg     func(executor.RunCommand) executor.RunCommand
	model   string
	history *shorttermmemory.History
	sink    events.Sink
	opts    chatOptions
}

func (s *session) ask(ctx context.Context, message string) error {
	s.history.Append(messages.User(message))
	cmd, err := executor.NewRunCommand(s.model, s.history)
	if err != nil {
		return err
	}
	cmd = s.cfg(cmd).WithContext(s.opts.context, s.opts.references...)
	return s.loop.Run(ctx, cmd, s.sink)
}

func (s *session) repl(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "%s: ", color.CyanString("User"))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		switch {
		case input == "":
			continue
		case strings.EqualFold(input, "exit"), strings.EqualFold(input, "quit"):
			return nil
		}

		fmt.Fprintf(out, "%s: ", color.MagentaString("Assistant"))
		if err := s.ask(ctx, input); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			// the answer already explains the failure, keep the session going
			fmt.Fprintln(out, color.RedString("error: %v", err))
		}
	}
}

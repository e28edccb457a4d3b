package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/casualjim/toolstream/events"
	"github.com/casualjim/toolstream/internal/broker"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newWatchCommand(a *app) *cobra.Command {
	var render bool
	cmd := &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Print the frames of a run served by another process",
		Long: "Subscribes to the frames a server publishes on NATS for one run and prints them " +
			"until the run ends. Requires TOOLSTREAM_NATS_URL.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id: %w", err)
			}
			return a.watch(cmd.Context(), cmd.OutOrStdout(), id, render)
		},
	}
	cmd.Flags().BoolVar(&render, "render", false, "render the answer as markdown once it is complete")
	return cmd
}

func (a *app) watch(ctx context.Context, out io.Writer, id uuid.UUID, render bool) error {
	if a.cfg.NATSURL == "" {
		return errors.New("watch needs a NATS server, set TOOLSTREAM_NATS_URL")
	}
	b, conn, err := buildBroker(a.cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	sink, err := newConsole(out, render)
	if err != nil {
		return err
	}
	return follow(ctx, b, id, sink)
}

// follow copies the frames of a run to sink until its end frame arrives.
func follow(ctx context.Context, b broker.Broker, id uuid.UUID, sink events.Sink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	topic := b.Topic(ctx, id.String())
	defer topic.Close()

	done := make(chan error, 1)
	sub, err := topic.Subscribe(ctx, func(ctx context.Context, f events.Frame) {
		if err := sink.Send(ctx, f); err != nil {
			select {
			case done <- err:
			default:
			}
			return
		}
		if f.Kind == events.KindEnd {
			select {
			case done <- nil:
			default:
			}
		}
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/casualjim/toolstream/internal/executor"
	"github.com/casualjim/toolstream/internal/server"
	"github.com/casualjim/toolstream/pkg/slogx"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve conversations over HTTP with server-sent events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	p, err := buildProvider(a.cfg)
	if err != nil {
		return err
	}
	tools, servers, err := buildTools(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer servers.Close()
	b, conn, err := buildBroker(a.cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	handler, err := server.New(executor.New(p, tools), tools,
		server.WithModel(a.cfg.Model),
		server.WithPrepare(a.cfg.Apply),
		server.WithBroker(b),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "listening", slog.String("addr", a.cfg.Listen), slog.String("provider", p.Name()))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown did not complete", slogx.Error(err))
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

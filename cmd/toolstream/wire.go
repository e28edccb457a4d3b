package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/casualjim/toolstream/internal/broker"
	"github.com/casualjim/toolstream/internal/builtin"
	"github.com/casualjim/toolstream/internal/config"
	"github.com/casualjim/toolstream/pkg/natsx"
	"github.com/casualjim/toolstream/pkg/slogx"
	"github.com/casualjim/toolstream/provider"
	"github.com/casualjim/toolstream/provider/gemini"
	"github.com/casualjim/toolstream/provider/openai"
	"github.com/casualjim/toolstream/provider/scripted"
	"github.com/casualjim/toolstream/toolset"
	"github.com/openai/openai-go/option"
)

// scriptDelay paces replayed events so a scripted run streams visibly.
const scriptDelay = 20 * time.Millisecond

func buildProvider(cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		var options []option.RequestOption
		if cfg.APIKey != "" {
			options = append(options, option.WithAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			options = append(options, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(options...), nil
	case config.ProviderGemini:
		options := []gemini.Option{gemini.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			options = append(options, gemini.WithBaseURL(cfg.BaseURL))
		}
		p, err := gemini.New(options...)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.ProviderScripted:
		p, err := scripted.Open(cfg.Script, scripted.Loop(), scripted.WithDelay(scriptDelay))
		if err != nil {
			return nil, fmt.Errorf("failed to load script: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// buildTools registers the built-in tools and every reachable MCP server. A server that
// can't be reached is logged and skipped. The returned closer disconnects the servers.
func buildTools(ctx context.Context, cfg *config.Config) (*toolset.Registry, io.Closer, error) {
	sources := []toolset.Source{builtin.Source()}
	var servers closers
	for _, spec := range cfg.MCPServers {
		src, err := toolset.DialMCP(ctx, spec)
		if err != nil {
			slog.WarnContext(ctx, "skipping tool server", slog.String("server", spec), slogx.Error(err))
			continue
		}
		sources = append(sources, src)
		servers = append(servers, src)
	}

	registry, err := toolset.New(sources,
		toolset.WithTimeout(cfg.ToolTimeout),
		toolset.WithValidation(cfg.ValidateToolArgs),
	)
	if err != nil {
		_ = servers.Close()
		return nil, nil, err
	}
	return registry, servers, nil
}

// buildBroker connects to NATS when a URL is configured and otherwise keeps frames in
// process.
func buildBroker(cfg *config.Config) (broker.Broker, io.Closer, error) {
	if cfg.NATSURL == "" {
		return broker.Local(), closers(nil), nil
	}
	conn, err := natsx.NewClient(cfg.NATSURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return broker.NATS(conn, cfg.NATSSubject), closerFunc(conn.Close), nil
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

type closers []io.Closer

func (c closers) Close() error {
	var first error
	for _, cl := range c {
		if err := cl.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

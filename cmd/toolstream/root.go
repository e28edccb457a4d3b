package main

import (
	"os"
	"strings"

	"github.com/casualjim/toolstream/internal/config"
	"github.com/casualjim/toolstream/pkg/slogx"
	"github.com/spf13/cobra"
)

// app carries the configuration loaded before a subcommand runs.
type app struct {
	envFiles []string
	cfg      *config.Config

	// flag overrides, applied only when set on the command line
	provider  string
	model     string
	maxTurns  int
	mcp       []string
	logLevel  string
	logPretty bool
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "toolstream",
		Short:         "Stream answers from a language model that can call tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringSliceVar(&a.envFiles, "env-file", nil, "dotenv files to load, .env when omitted")
	flags.StringVar(&a.provider, "provider", "", "model provider: openai, gemini or script")
	flags.StringVar(&a.model, "model", "", "model name")
	flags.IntVar(&a.maxTurns, "max-turns", 0, "maximum model requests per run")
	flags.StringArrayVar(&a.mcp, "mcp", nil, "MCP tool server, a command line or http+stream:// URL (repeatable)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.BoolVar(&a.logPretty, "log-pretty", false, "human readable logs")

	root.AddCommand(
		newChatCommand(a),
		newServeCommand(a),
		newToolsCommand(a),
		newWatchCommand(a),
	)
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.envFiles...)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("provider") {
		cfg.Provider = strings.ToLower(a.provider)
	}
	if flags.Changed("model") {
		cfg.Model = a.model
	}
	if flags.Changed("max-turns") {
		cfg.MaxTurns = a.maxTurns
	}
	if flags.Changed("mcp") {
		cfg.MCPServers = append(cfg.MCPServers, a.mcp...)
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("log-pretty") {
		cfg.LogPretty = a.logPretty
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	slogx.Setup(os.Stderr, cfg.LogLevel, cfg.LogPretty)
	a.cfg = cfg
	return nil
}

// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/casualjim/toolstream/internal/executor"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name, e.g. TOOLSTREAM_MODEL.
const Prefix = "TOOLSTREAM"

// Supported providers.
const (
	ProviderOpenAI   = "openai"
	ProviderGemini   = "gemini"
	ProviderScripted = "script"
)

// Config holds the settings of the CLI and server.
type Config struct {
	// Provider backend
	Provider string `envconfig:"PROVIDER" default:"openai"` // openai, gemini or script
	Model    string `envconfig:"MODEL"`
	APIKey   string `envconfig:"API_KEY"`
	BaseURL  string `envconfig:"BASE_URL"`
	Script   string `envconfig:"SCRIPT"` // JSON lines replayed by the script provider

	// Orchestration
	Instructions     string        `envconfig:"INSTRUCTIONS"`
	MaxTurns         int           `envconfig:"MAX_TURNS" default:"5"`
	ArgumentPolicy   string        `envconfig:"ARGUMENT_POLICY" default:"report"` // report or abort
	RetryAttempts    int           `envconfig:"RETRY_ATTEMPTS" default:"4"`
	RetryBackoff     time.Duration `envconfig:"RETRY_BACKOFF" default:"500ms"`
	RetryMaxBackoff  time.Duration `envconfig:"RETRY_MAX_BACKOFF" default:"8s"`
	ProviderTimeout  time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"2m"`
	ToolTimeout      time.Duration `envconfig:"TOOL_TIMEOUT" default:"30s"`
	ValidateToolArgs bool          `envconfig:"VALIDATE_TOOL_ARGS" default:"true"`

	// Tool servers, comma separated transport specs such as "npx -y some-server" or
	// "http+stream://localhost:3000/mcp"
	MCPServers []string `envconfig:"MCP_SERVERS"`

	// Frame fan-out
	NATSURL     string `envconfig:"NATS_URL"`
	NATSSubject string `envconfig:"NATS_SUBJECT" default:"toolstream.frames"`

	// Server
	Listen string `envconfig:"LISTEN" default:":8080"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// Load reads the given dotenv files, or .env when none are named, and then the
// environment. Missing dotenv files are ignored and variables already set in the
// environment win over the files.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	return LoadFromEnv()
}

// LoadFromEnv reads the environment only.
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.MCPServers = compact(cfg.MCPServers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var err error
	switch c.Provider {
	case ProviderOpenAI, ProviderGemini:
	case ProviderScripted:
		if c.Script == "" {
			err = errors.Join(err, fmt.Errorf("%s_SCRIPT is required for the script provider", Prefix))
		}
	default:
		err = errors.Join(err, fmt.Errorf("unknown provider %q", c.Provider))
	}
	if _, perr := executor.ParseArgumentPolicy(c.ArgumentPolicy); perr != nil {
		err = errors.Join(err, perr)
	}
	if c.MaxTurns < 1 {
		err = errors.Join(err, fmt.Errorf("%s_MAX_TURNS must be at least 1", Prefix))
	}
	if c.RetryAttempts < 1 {
		err = errors.Join(err, fmt.Errorf("%s_RETRY_ATTEMPTS must be at least 1", Prefix))
	}
	return err
}

// Retry returns the provider retry settings.
func (c *Config) Retry() executor.RetryConfig {
	retry := executor.DefaultRetryConfig()
	retry.MaxAttempts = c.RetryAttempts
	retry.InitialBackoff = c.RetryBackoff
	retry.MaxBackoff = c.RetryMaxBackoff
	return retry
}

// Apply copies the orchestration settings onto cmd.
func (c *Config) Apply(cmd executor.RunCommand) executor.RunCommand {
	policy, _ := executor.ParseArgumentPolicy(c.ArgumentPolicy)
	if c.Instructions != "" {
		cmd = cmd.WithInstructions(c.Instructions)
	}
	return cmd.
		WithMaxTurns(c.MaxTurns).
		WithArgumentPolicy(policy).
		WithRetry(c.Retry()).
		WithProviderTimeout(c.ProviderTimeout)
}

func compact(values []string) []string {
	var result []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			result = append(result, v)
		}
	}
	return result
}

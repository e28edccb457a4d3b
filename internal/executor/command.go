package executor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/casualjim/toolstream/internal/shorttermmemory"
	"github.com/casualjim/toolstream/pkg/uuidx"
	"github.com/google/uuid"
)

const (
	// DefaultMaxTurns is the number of tool turns a run may take before it is cut short.
	DefaultMaxTurns = 5
	// DefaultProviderTimeout bounds a single provider call, including its stream.
	DefaultProviderTimeout = 2 * time.Minute
)

// ArgumentPolicy decides what happens to a turn when a tool call carries arguments
// that are not valid JSON.
type ArgumentPolicy int

const (
	// ReportAndContinue records an error result for the broken call and runs its siblings.
	ReportAndContinue ArgumentPolicy = iota
	// AbortTurn runs none of the turn's calls and ends the run with an explanation.
	AbortTurn
)

func (p ArgumentPolicy) String() string {
	switch p {
	case ReportAndContinue:
		return "report"
	case AbortTurn:
		return "abort"
	default:
		return fmt.Sprintf("ArgumentPolicy(%d)", int(p))
	}
}

// ParseArgumentPolicy reads "report" or "abort".
func ParseArgumentPolicy(s string) (ArgumentPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "report", "continue":
		return ReportAndContinue, nil
	case "abort":
		return AbortTurn, nil
	default:
		return 0, fmt.Errorf("unknown argument policy %q", s)
	}
}

// NewRunCommand creates a command with default limits for one run over history.
func NewRunCommand(model string, history *shorttermmemory.History) (RunCommand, error) {
	if history == nil {
		return RunCommand{}, errors.New("history is required")
	}

	return RunCommand{
		id:              uuidx.New(),
		Model:           model,
		History:         history,
		MaxTurns:        DefaultMaxTurns,
		ArgumentPolicy:  ReportAndContinue,
		Retry:           DefaultRetryConfig(),
		ProviderTimeout: DefaultProviderTimeout,
	}, nil
}

// RunCommand is the input of a single run.
type RunCommand struct {
	id uuid.UUID

	// Model is passed through to the provider.
	Model string
	// Instructions is the system prompt.
	Instructions string
	// Context is an opaque, already resolved block of context for the model.
	Context string
	// References identify the sources Context was drawn from. They are sent to the
	// caller once, before any text.
	References []string
	// History is the caller's conversation. It receives the run's turns when the run
	// was not cancelled.
	History *shorttermmemory.History

	MaxTurns        int
	ArgumentPolicy  ArgumentPolicy
	Retry           RetryConfig
	ProviderTimeout time.Duration
}

func (r RunCommand) Validate() error {
	var err error
	if r.id == uuid.Nil {
		err = errors.Join(err, errors.New("run id is required, use NewRunCommand"))
	}
	if r.History == nil {
		err = errors.Join(err, errors.New("history is required"))
	}
	if r.MaxTurns < 1 {
		err = errors.Join(err, fmt.Errorf("max turns must be at least 1, got %d", r.MaxTurns))
	}
	if r.ArgumentPolicy != ReportAndContinue && r.ArgumentPolicy != AbortTurn {
		err = errors.Join(err, fmt.Errorf("unknown argument policy %s", r.ArgumentPolicy))
	}
	if verr := r.Retry.Validate(); verr != nil {
		err = errors.Join(err, verr)
	}
	if r.ProviderTimeout < 0 {
		err = errors.Join(err, errors.New("provider timeout cannot be negative"))
	}
	return err
}

func (r RunCommand) ID() uuid.UUID {
	return r.id
}

func (r RunCommand) WithRunID(id uuid.UUID) RunCommand {
	r.id = id
	return r
}

func (r RunCommand) WithInstructions(instructions string) RunCommand {
	r.Instructions = instructions
	return r
}

func (r RunCommand) WithContext(context string, references ...string) RunCommand {
	r.Context = context
	r.References = references
	return r
}

func (r RunCommand) WithMaxTurns(maxTurns int) RunCommand {
	r.MaxTurns = maxTurns
	return r
}

func (r RunCommand) WithArgumentPolicy(policy ArgumentPolicy) RunCommand {
	r.ArgumentPolicy = policy
	return r
}

func (r RunCommand) WithRetry(cfg RetryConfig) RunCommand {
	r.Retry = cfg
	return r
}

func (r RunCommand) WithProviderTimeout(timeout time.Duration) RunCommand {
	r.ProviderTimeout = timeout
	return r
}

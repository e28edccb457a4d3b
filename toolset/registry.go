package toolset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/toolstream/pkg/slogx"
	"github.com/casualjim/toolstream/provider"
	"github.com/fogfish/opts"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tidwall/gjson"
)

// DefaultTimeout bounds a single invocation unless configured otherwise.
const DefaultTimeout = 30 * time.Second

// Config holds the registry settings.
type Config struct {
	Timeout  time.Duration
	Validate bool
}

// Option configures a registry.
type Option = opts.Option[Config]

// WithTimeout bounds every invocation. Zero disables the bound.
var WithTimeout = opts.ForName[Config, time.Duration]("Timeout")

// WithValidation checks arguments against the tool schema before dispatch.
var WithValidation = opts.ForName[Config, bool]("Validate")

type route struct {
	owner      int
	source     Source
	name       string
	descriptor provider.ToolDescriptor
}

// Registry merges the tools of several sources behind sanitized names and dispatches
// invocations to the source that owns them. When two sources offer the same name the
// earlier source wins.
type Registry struct {
	sources []Source
	cfg     Config

	refreshMu  sync.Mutex
	listed     atomic.Bool
	routes     *haxmap.Map[string, route]
	validators *haxmap.Map[string, *jsonschema.Schema]
}

// New creates a registry over the given sources, in priority order.
func New(sources []Source, options ...Option) (*Registry, error) {
	cfg := Config{Timeout: DefaultTimeout}
	if err := opts.Apply(&cfg, options); err != nil {
		return nil, err
	}
	return &Registry{
		sources:    sources,
		cfg:        cfg,
		routes:     haxmap.New[string, route](),
		validators: haxmap.New[string, *jsonschema.Schema](),
	}, nil
}

// ListTools discovers the tools of every source and refreshes the dispatch table.
// A source that fails to list is skipped and keeps the routes of its last listing, so runs
// that were already offered its tools can still call them. An error is returned only when
// every source failed.
func (r *Registry) ListTools(ctx context.Context) ([]provider.ToolDescriptor, error) {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	seen := make(map[string]struct{})
	var result []provider.ToolDescriptor
	var errs []error
	failed := make(map[int]struct{})
	for i, src := range r.sources {
		tools, err := src.ListTools(ctx)
		if err != nil {
			slog.WarnContext(ctx, "failed to list tools", slog.String("source", src.Name()), slogx.Error(err))
			errs = append(errs, err)
			failed[i] = struct{}{}
			continue
		}
		for _, t := range tools {
			name := SanitizeName(t.Name)
			if _, dup := seen[name]; dup {
				slog.DebugContext(ctx, "tool name already taken by an earlier source",
					slog.String("source", src.Name()), slog.String("tool", t.Name), slog.String("name", name))
				continue
			}
			seen[name] = struct{}{}

			desc := provider.ToolDescriptor{Name: name, Description: t.Description, Parameters: t.Parameters}
			if desc.Parameters == nil {
				desc.Parameters = provider.EmptyParameters()
			}
			r.routes.Set(name, route{owner: i, source: src, name: t.Name, descriptor: desc})
			r.validators.Del(name)
			result = append(result, desc)
		}
	}

	var stale []string
	r.routes.ForEach(func(name string, rt route) bool {
		if _, ok := seen[name]; ok {
			return true
		}
		if _, ok := failed[rt.owner]; !ok {
			stale = append(stale, name)
		}
		return true
	})
	for _, name := range stale {
		r.routes.Del(name)
		r.validators.Del(name)
	}
	r.listed.Store(true)

	if len(errs) > 0 && len(errs) == len(r.sources) {
		return nil, errors.Join(errs...)
	}
	return result, nil
}

// Invoke calls the tool registered under the sanitized name. It never panics and
// reports every failure as an Err outcome.
func (r *Registry) Invoke(ctx context.Context, name, args string) Outcome {
	if !r.listed.Load() {
		if _, err := r.ListTools(ctx); err != nil {
			return Err(fmt.Sprintf("tools unavailable: %v", err))
		}
	}

	rt, ok := r.routes.Get(name)
	if !ok {
		return Err(fmt.Sprintf("%v: %s", ErrUnknownTool, name))
	}

	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	if err := r.checkArguments(name, rt, args); err != nil {
		slog.InfoContext(ctx, "rejected tool arguments", slogx.Tool(name, ""), slogx.Error(err))
		return Err(err.Error())
	}

	value, err := r.call(ctx, rt, args)
	if err != nil {
		slog.WarnContext(ctx, "tool invocation failed", slog.String("source", rt.source.Name()), slogx.Tool(name, ""), slogx.Error(err))
		return Err(err.Error())
	}
	return Ok(value)
}

func (r *Registry) checkArguments(name string, rt route, args string) error {
	if !gjson.Valid(args) {
		return &ClientError{Reason: "arguments are not valid JSON"}
	}
	if !gjson.Parse(args).IsObject() {
		return &ClientError{Reason: "arguments must be a JSON object"}
	}
	if !r.cfg.Validate {
		return nil
	}

	schema, ok := r.validators.Get(name)
	if !ok {
		compiled, err := compileSchema(name, rt.descriptor.Parameters)
		if err != nil {
			// a schema we can't compile doesn't block the call
			slog.Warn("skipping argument validation", slogx.Tool(name, ""), slogx.Error(err))
			return nil
		}
		schema, _ = r.validators.GetOrSet(name, compiled)
	}
	return validateArguments(schema, args)
}

type callResult struct {
	value string
	err   error
}

func (r *Registry) call(parent context.Context, rt route, args string) (string, error) {
	ctx := parent
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, r.cfg.Timeout)
		defer cancel()
	}

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- callResult{err: &panicError{p: p}}
			}
		}()
		value, err := rt.source.CallTool(ctx, rt.name, args)
		done <- callResult{value: value, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() != nil && parent.Err() == nil {
			return "", fmt.Errorf("%w after %s", ErrTimeout, r.cfg.Timeout)
		}
		return res.value, res.err
	case <-ctx.Done():
		if parent.Err() == nil {
			return "", fmt.Errorf("%w after %s", ErrTimeout, r.cfg.Timeout)
		}
		return "", parent.Err()
	}
}

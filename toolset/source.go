package toolset

import (
	"context"
	"errors"
	"fmt"

	"github.com/casualjim/toolstream/provider"
	"github.com/casualjim/toolstream/tool"
)

// Source is an origin of tools, like a set of in-process functions or a remote MCP server.
type Source interface {
	// Name identifies the source in logs.
	Name() string
	// ListTools returns the tools the source offers, with their original names.
	ListTools(ctx context.Context) ([]provider.ToolDescriptor, error)
	// CallTool invokes a tool by its original name with a JSON object of arguments.
	CallTool(ctx context.Context, name, args string) (string, error)
}

var _ Source = (*LocalSource)(nil)

// LocalSource offers in-process Go functions.
type LocalSource struct {
	name  string
	tools []tool.Definition
	index map[string]tool.Definition
}

// NewLocalSource creates a source for the given definitions. Later definitions with a
// name already taken are ignored.
func NewLocalSource(name string, definitions ...tool.Definition) *LocalSource {
	src := &LocalSource{
		name:  name,
		index: make(map[string]tool.Definition, len(definitions)),
	}
	for _, def := range definitions {
		if _, exists := src.index[def.Name]; exists {
			continue
		}
		src.index[def.Name] = def
		src.tools = append(src.tools, def)
	}
	return src
}

func (s *LocalSource) Name() string {
	return s.name
}

func (s *LocalSource) ListTools(context.Context) ([]provider.ToolDescriptor, error) {
	result := make([]provider.ToolDescriptor, 0, len(s.tools))
	for _, def := range s.tools {
		params, err := def.SchemaMap()
		if err != nil {
			return nil, err
		}
		result = append(result, provider.ToolDescriptor{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  params,
		})
	}
	return result, nil
}

func (s *LocalSource) CallTool(ctx context.Context, name, args string) (string, error) {
	def, ok := s.index[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	result, err := def.Call(ctx, args)
	if errors.Is(err, tool.ErrInvalidArguments) {
		return "", &ClientError{Reason: err.Error(), Err: err}
	}
	return result, err
}

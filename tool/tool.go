package tool

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/casualjim/toolstream/pkg/reflectx"
	"github.com/fogfish/opts"
	json "github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Definition describes a Go function that can be offered to a model as a tool.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]string
	Function    any
}

var functionReflector = jsonschema.Reflector{
	AllowAdditionalProperties: true,
	DoNotReference:            true,
}

// Schema returns the JSON schema of the arguments object the function accepts.
// A context.Context parameter is supplied by the caller and never appears in the schema.
func (td Definition) Schema() *jsonschema.Schema {
	return functionSchema(&functionReflector, td)
}

// SchemaMap returns the argument schema as a plain JSON object.
func (td Definition) SchemaMap() (map[string]any, error) {
	b, err := json.Marshal(td.Schema())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema of %s: %w", td.Name, err)
	}
	var result map[string]any
	if err := json.Unmarshal(b, &result); err != nil {
		return nil, fmt.Errorf("failed to decode schema of %s: %w", td.Name, err)
	}
	return result, nil
}

func functionSchema(reflector *jsonschema.Reflector, f Definition) *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: orderedmap.New[string, *jsonschema.Schema](),
	}

	typ := reflect.TypeOf(f.Function)
	if typ == nil || typ.Kind() != reflect.Func {
		return schema
	}

	var required []string
	for _, p := range f.params(typ) {
		propSchema := reflector.ReflectFromType(p.typ)
		propSchema.Version = ""
		schema.Properties.Set(p.name, propSchema)
		required = append(required, p.name)
	}
	if len(required) > 0 {
		schema.Required = required
	}
	return schema
}

type param struct {
	index int
	name  string
	typ   reflect.Type
}

// params lists the model-supplied parameters of the function. They are named paramN in
// declaration order unless renamed with Parameters.
func (td Definition) params(typ reflect.Type) []param {
	var result []param
	n := 0
	for i := range typ.NumIn() {
		pt := typ.In(i)
		if reflectx.Is[context.Context](pt) {
			continue
		}
		name := fmt.Sprintf("param%d", n)
		if p, ok := td.Parameters[name]; ok {
			name = p
		}
		result = append(result, param{index: i, name: name, typ: pt})
		n++
	}
	return result
}

// Option configures a tool definition.
type Option = opts.Option[Definition]

// Must is like New but panics when the definition is invalid.
func Must(f any, options ...Option) Definition {
	def, err := New(f, options...)
	if err != nil {
		panic(err)
	}
	return def
}

// New creates a tool definition for f. When no name is given the function name is used.
func New(f any, options ...Option) (Definition, error) {
	if !reflectx.IsFunction(f) {
		return Definition{}, errors.New("provided value is not a function")
	}
	typ := reflect.TypeOf(f)
	if typ.IsVariadic() {
		return Definition{}, errors.New("variadic functions can not be used as tools")
	}
	if typ.NumOut() > 2 {
		return Definition{}, fmt.Errorf("tool functions return at most a value and an error, got %d results", typ.NumOut())
	}
	if typ.NumOut() == 2 && !reflectx.Implements[error](typ.Out(1)) {
		return Definition{}, errors.New("the second result of a tool function must be an error")
	}

	var def Definition
	if err := opts.Apply(&def, options); err != nil {
		return Definition{}, err
	}
	if def.Name == "" {
		def.Name = reflectx.FunctionName(f)
	}

	def.Function = f
	return def, nil
}

// Name sets the name the model sees.
var Name = opts.ForName[Definition, string]("Name")

// Description sets the description the model sees.
var Description = opts.ForName[Definition, string]("Description")

// Parameters names the model-supplied parameters in declaration order.
func Parameters(parameters ...string) Option {
	return opts.Type[Definition](func(o *Definition) error {
		o.Parameters = make(map[string]string, len(parameters))
		for i, p := range parameters {
			o.Parameters[fmt.Sprintf("param%d", i)] = p
		}
		return nil
	})
}

package toolset

import (
	"bytes"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema of %s: %w", name, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("failed to decode schema of %s: %w", name, err)
	}

	location := "mem://tools/" + name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(location, doc); err != nil {
		return nil, fmt.Errorf("failed to add schema of %s: %w", name, err)
	}
	compiled, err := c.Compile(location)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema of %s: %w", name, err)
	}
	return compiled, nil
}

func validateArguments(schema *jsonschema.Schema, args string) error {
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(args))
	if err != nil {
		return &ClientError{Reason: "json parse error: " + err.Error(), Err: err}
	}
	if err := schema.Validate(inst); err != nil {
		return &ClientError{Reason: err.Error(), Err: err}
	}
	return nil
}

package tool

import (
	"context"
	"reflect"
	"testing"

	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

func TestMust(t *testing.T) {
	testFunc := func() {}

	t.Run("valid function", func(t *testing.T) {
		assert.NotPanics(t, func() {
			def := Must(testFunc)
			assert.Equal(t, reflect.ValueOf(testFunc).Pointer(), reflect.ValueOf(def.Function).Pointer())
		})
	})

	t.Run("invalid function", func(t *testing.T) {
		assert.Panics(t, func() {
			Must("not a function")
		})
	})
}

func TestNew_RejectsSignatures(t *testing.T) {
	tests := []struct {
		name string
		fn   any
		msg  string
	}{
		{"not a function", 42, "not a function"},
		{"variadic", func(_ ...string) {}, "variadic"},
		{"three results", func() (int, int, error) { return 0, 0, nil }, "at most"},
		{"second result not error", func() (int, string) { return 0, "" }, "must be an error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.fn)
			assert.ErrorContains(t, err, tt.msg)
		})
	}
}

func TestName(t *testing.T) {
	tests := []struct {
		name     string
		toolName string
	}{
		{
			name:     "simple name",
			toolName: "test_tool",
		},
		{
			name:     "name with spaces",
			toolName: "test tool name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := New(func() {}, Name(tt.toolName))
			require.NoError(t, err)
			assert.Equal(t, tt.toolName, def.Name)
		})
	}

	t.Run("falls back to function name", func(t *testing.T) {
		def, err := New(currentTime)
		require.NoError(t, err)
		assert.Equal(t, "currentTime", def.Name)
	})
}

func TestDescription(t *testing.T) {
	for _, desc := range []string{"A test tool", "", "Line 1\nLine 2\nLine 3"} {
		def, err := New(func() {}, Description(desc))
		require.NoError(t, err)
		assert.Equal(t, desc, def.Description)
	}
}

func TestParameters(t *testing.T) {
	tests := []struct {
		name       string
		parameters []string
		want       map[string]string
	}{
		{
			name:       "no parameters",
			parameters: []string{},
			want:       map[string]string{},
		},
		{
			name:       "multiple parameters",
			parameters: []string{"city", "days"},
			want: map[string]string{
				"param0": "city",
				"param1": "days",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := New(func() {}, Parameters(tt.parameters...))
			require.NoError(t, err)
			assert.Equal(t, tt.want, def.Parameters)
		})
	}
}

func TestDefinition_Schema(t *testing.T) {
	props := orderedmap.New[string, *jsonschema.Schema]()
	props.Set("city", &jsonschema.Schema{Type: "string"})
	props.Set("days", &jsonschema.Schema{Type: "integer"})

	tests := []struct {
		name string
		tool Definition
		want *jsonschema.Schema
	}{
		{
			name: "named parameters skip context",
			tool: Must(func(_ context.Context, city string, days int) string { return city },
				Name("weather"),
				Parameters("city", "days"),
			),
			want: &jsonschema.Schema{
				Type:       "object",
				Properties: props,
				Required:   []string{"city", "days"},
			},
		},
		{
			name: "no parameters",
			tool: Must(func(context.Context) string { return "" }),
			want: &jsonschema.Schema{
				Type:       "object",
				Properties: orderedmap.New[string, *jsonschema.Schema](),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tool.Schema())
		})
	}
}

func TestDefinition_SchemaMap(t *testing.T) {
	def := Must(func(q string, limit int) string { return q }, Parameters("query", "limit"))

	m, err := def.SchemaMap()
	require.NoError(t, err)
	assert.Equal(t, "object", m["type"])
	assert.ElementsMatch(t, []any{"query", "limit"}, m["required"])

	props, ok := m["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "query")
	assert.Contains(t, props, "limit")
	assert.Equal(t, "string", props["query"].(map[string]any)["type"])
}

func currentTime() string { return "now" }

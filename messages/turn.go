package messages

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Role identifies who produced a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// Turn is one message in the conversation history.
type Turn struct {
	Role      Role            `json:"role"`
	Parts     []Part          `json:"parts"`
	Timestamp strfmt.DateTime `json:"timestamp"`
}

// User creates a user turn with a single text part.
func User(text string) Turn {
	return Turn{Role: RoleUser, Parts: []Part{Text(text)}, Timestamp: now()}
}

// Assistant creates an assistant turn. Empty text is omitted so that a turn made only
// of tool calls carries no text part.
func Assistant(text string, calls ...ToolCallPart) Turn {
	parts := make([]Part, 0, len(calls)+1)
	if text != "" {
		parts = append(parts, Text(text))
	}
	for _, c := range calls {
		parts = append(parts, c)
	}
	return Turn{Role: RoleAssistant, Parts: parts, Timestamp: now()}
}

// ToolResults creates a tool turn carrying results in the given order.
func ToolResults(results ...ToolResultPart) Turn {
	parts := make([]Part, len(results))
	for i, r := range results {
		parts[i] = r
	}
	return Turn{Role: RoleTool, Parts: parts, Timestamp: now()}
}

func now() strfmt.DateTime {
	return strfmt.DateTime(time.Now().UTC())
}

// Text concatenates all text parts of the turn.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, p := range t.Parts {
		if tp, ok := p.(TextPart); ok {
			sb.WriteString(tp.Text)
		}
	}
	return sb.String()
}

// ToolCalls returns the tool call parts of the turn in order.
func (t Turn) ToolCalls() []ToolCallPart {
	var calls []ToolCallPart
	for _, p := range t.Parts {
		if tc, ok := p.(ToolCallPart); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// Results returns the tool result parts of the turn in order.
func (t Turn) Results() []ToolResultPart {
	var results []ToolResultPart
	for _, p := range t.Parts {
		if tr, ok := p.(ToolResultPart); ok {
			results = append(results, tr)
		}
	}
	return results
}

// Clone returns a copy of the turn that shares no slice storage with the receiver.
func (t Turn) Clone() Turn {
	parts := make([]Part, len(t.Parts))
	copy(parts, t.Parts)
	return Turn{Role: t.Role, Parts: parts, Timestamp: t.Timestamp}
}

func (t Turn) MarshalJSON() ([]byte, error) {
	result := []byte(`{}`)

	var err error
	result, err = sjson.SetBytes(result, "role", string(t.Role))
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "timestamp", t.Timestamp.String())
	if err != nil {
		return nil, err
	}

	parts := []byte(`[]`)
	for i, p := range t.Parts {
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal part %d: %w", i, err)
		}
		parts, err = sjson.SetRawBytes(parts, "-1", b)
		if err != nil {
			return nil, err
		}
	}
	return sjson.SetRawBytes(result, "parts", parts)
}

func (t *Turn) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}

	role := gjson.GetBytes(data, "role")
	if !role.Exists() {
		return fmt.Errorf("missing required field 'role'")
	}
	t.Role = Role(role.String())
	if !t.Role.Valid() {
		return fmt.Errorf("invalid role %q", t.Role)
	}

	if ts := gjson.GetBytes(data, "timestamp"); ts.Exists() {
		dt, err := strfmt.ParseDateTime(ts.String())
		if err != nil {
			return fmt.Errorf("invalid timestamp: %w", err)
		}
		t.Timestamp = dt
	}

	rawParts := gjson.GetBytes(data, "parts").Array()
	t.Parts = make([]Part, len(rawParts))
	for i, raw := range rawParts {
		p, err := unmarshalPart(raw)
		if err != nil {
			return fmt.Errorf("invalid part at %d: %w", i, err)
		}
		t.Parts[i] = p
	}
	return nil
}

package messages

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	textPartJSON       = []byte(`{"type":"text"}`)
	toolCallPartJSON   = []byte(`{"type":"tool_call"}`)
	toolResultPartJSON = []byte(`{"type":"tool_result"}`)
)

// Part is one piece of a Turn. The set of implementations is closed.
type Part interface {
	part()
}

// TextPart is plain text.
type TextPart struct {
	Text string `json:"text"`
}

func (TextPart) part() {}

// Text creates a TextPart.
func Text(text string) TextPart {
	return TextPart{Text: text}
}

// ToolCallPart is a tool invocation requested by the model.
//
// Arguments holds the raw JSON text exactly as the model produced it.
// Signature is opaque and provider specific; it is never inspected, only replayed.
type ToolCallPart struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Signature string `json:"signature,omitempty"`
}

func (ToolCallPart) part() {}

// ToolResultPart is the outcome of a single tool invocation. Exactly one of Result
// or Error is meaningful; IsError reports which.
type ToolResultPart struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	failed bool
}

func (ToolResultPart) part() {}

// IsError reports whether the invocation failed.
func (p ToolResultPart) IsError() bool {
	return p.failed || p.Error != ""
}

// ToolResult creates a successful ToolResultPart.
func ToolResult(callID, name, result string) ToolResultPart {
	return ToolResultPart{CallID: callID, Name: name, Result: result}
}

// ToolError creates a failed ToolResultPart.
func ToolError(callID, name, message string) ToolResultPart {
	return ToolResultPart{CallID: callID, Name: name, Error: message, failed: true}
}

func (p TextPart) MarshalJSON() ([]byte, error) {
	return sjson.SetBytes(textPartJSON, "text", p.Text)
}

func (p *TextPart) UnmarshalJSON(data []byte) error {
	if err := expectType(data, "text"); err != nil {
		return err
	}
	text := gjson.GetBytes(data, "text")
	if !text.Exists() {
		return fmt.Errorf("missing required field 'text'")
	}
	p.Text = text.String()
	return nil
}

func (p ToolCallPart) MarshalJSON() ([]byte, error) {
	result := toolCallPartJSON

	var err error
	result, err = sjson.SetBytes(result, "id", p.ID)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "name", p.Name)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "arguments", p.Arguments)
	if err != nil {
		return nil, err
	}
	if p.Signature != "" {
		result, err = sjson.SetBytes(result, "signature", p.Signature)
	}
	return result, err
}

func (p *ToolCallPart) UnmarshalJSON(data []byte) error {
	if err := expectType(data, "tool_call"); err != nil {
		return err
	}
	id := gjson.GetBytes(data, "id")
	if !id.Exists() {
		return fmt.Errorf("missing required field 'id'")
	}
	name := gjson.GetBytes(data, "name")
	if !name.Exists() {
		return fmt.Errorf("missing required field 'name'")
	}
	p.ID = id.String()
	p.Name = name.String()
	p.Arguments = gjson.GetBytes(data, "arguments").String()
	p.Signature = gjson.GetBytes(data, "signature").String()
	return nil
}

func (p ToolResultPart) MarshalJSON() ([]byte, error) {
	result := toolResultPartJSON

	var err error
	result, err = sjson.SetBytes(result, "call_id", p.CallID)
	if err != nil {
		return nil, err
	}
	result, err = sjson.SetBytes(result, "name", p.Name)
	if err != nil {
		return nil, err
	}
	if p.IsError() {
		return sjson.SetBytes(result, "error", p.Error)
	}
	return sjson.SetBytes(result, "result", p.Result)
}

func (p *ToolResultPart) UnmarshalJSON(data []byte) error {
	if err := expectType(data, "tool_result"); err != nil {
		return err
	}
	callID := gjson.GetBytes(data, "call_id")
	if !callID.Exists() {
		return fmt.Errorf("missing required field 'call_id'")
	}
	p.CallID = callID.String()
	p.Name = gjson.GetBytes(data, "name").String()

	if errv := gjson.GetBytes(data, "error"); errv.Exists() {
		p.Error = errv.String()
		p.failed = true
		return nil
	}
	p.Result = gjson.GetBytes(data, "result").String()
	return nil
}

func expectType(data []byte, expected string) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}
	tpe := gjson.GetBytes(data, "type")
	if !tpe.Exists() || tpe.String() != expected {
		return fmt.Errorf("missing or invalid type, expected '%s'", expected)
	}
	return nil
}

func unmarshalPart(raw gjson.Result) (Part, error) {
	switch tpe := raw.Get("type").String(); tpe {
	case "text":
		var p TextPart
		if err := p.UnmarshalJSON([]byte(raw.Raw)); err != nil {
			return nil, err
		}
		return p, nil
	case "tool_call":
		var p ToolCallPart
		if err := p.UnmarshalJSON([]byte(raw.Raw)); err != nil {
			return nil, err
		}
		return p, nil
	case "tool_result":
		var p ToolResultPart
		if err := p.UnmarshalJSON([]byte(raw.Raw)); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown part type %q", tpe)
	}
}

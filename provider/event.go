package provider

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	textDeltaJSON        = []byte(`{"type":"text_delta"}`)
	toolCallFragmentJSON = []byte(`{"type":"tool_call_fragment"}`)
	turnEndJSON          = []byte(`{"type":"turn_end"}`)
	errorJSON            = []byte(`{"type":"error"}`)
)

// Event is the canonical stream event. The set of implementations is closed.
type Event interface {
	event()
}

// TextDelta is a piece of model text. Reasoning marks text the backend flagged as
// thinking rather than answer.
type TextDelta struct {
	Text      string `json:"text"`
	Reasoning bool   `json:"reasoning,omitempty"`
}

func (TextDelta) event() {}

// ToolCallFragment is part of the tool call at Index. Empty fields mean "not present
// in this fragment".
type ToolCallFragment struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Args      string `json:"args,omitempty"`
	Signature string `json:"signature,omitempty"`
}

func (ToolCallFragment) event() {}

// TurnEnd marks the end of a model turn.
type TurnEnd struct {
	FinishReason string `json:"finish_reason,omitempty"`
}

func (TurnEnd) event() {}

// Error is a stream level failure. It is always the last event of a stream.
type Error struct {
	Err error `json:"error"`
}

func (Error) event() {}

func (e Error) Error() string {
	return fmt.Sprintf("stream error: %v", e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}

func (e TextDelta) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes(textDeltaJSON, "text", e.Text)
	if err != nil {
		return nil, err
	}
	if e.Reasoning {
		result, err = sjson.SetBytes(result, "reasoning", true)
	}
	return result, err
}

func (e *TextDelta) UnmarshalJSON(data []byte) error {
	if err := expectType(data, "text_delta"); err != nil {
		return err
	}
	text := gjson.GetBytes(data, "text")
	if !text.Exists() {
		return fmt.Errorf("missing required field 'text'")
	}
	e.Text = text.String()
	e.Reasoning = gjson.GetBytes(data, "reasoning").Bool()
	return nil
}

func (e ToolCallFragment) MarshalJSON() ([]byte, error) {
	result, err := sjson.SetBytes(toolCallFragmentJSON, "index", e.Index)
	if err != nil {
		return nil, err
	}
	for _, kv := range [][2]string{{"id", e.ID}, {"name", e.Name}, {"args", e.Args}, {"signature", e.Signature}} {
		if kv[1] == "" {
			continue
		}
		result, err = sjson.SetBytes(result, kv[0], kv[1])
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (e *ToolCallFragment) UnmarshalJSON(data []byte) error {
	if err := expectType(data, "tool_call_fragment"); err != nil {
		return err
	}
	index := gjson.GetBytes(data, "index")
	if !index.Exists() {
		return fmt.Errorf("missing required field 'index'")
	}
	e.Index = int(index.Int())
	e.ID = gjson.GetBytes(data, "id").String()
	e.Name = gjson.GetBytes(data, "name").String()
	e.Args = gjson.GetBytes(data, "args").String()
	e.Signature = gjson.GetBytes(data, "signature").String()
	return nil
}

func (e TurnEnd) MarshalJSON() ([]byte, error) {
	if e.FinishReason == "" {
		return turnEndJSON, nil
	}
	return sjson.SetBytes(turnEndJSON, "finish_reason", e.FinishReason)
}

func (e *TurnEnd) UnmarshalJSON(data []byte) error {
	if err := expectType(data, "turn_end"); err != nil {
		return err
	}
	e.FinishReason = gjson.GetBytes(data, "finish_reason").String()
	return nil
}

func (e Error) MarshalJSON() ([]byte, error) {
	msg := "<nil>"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	result, err := sjson.SetBytes(errorJSON, "error", msg)
	if err != nil {
		return nil, err
	}
	if IsTransient(e.Err) {
		result, err = sjson.SetBytes(result, "transient", true)
	}
	return result, err
}

func (e *Error) UnmarshalJSON(data []byte) error {
	if err := expectType(data, "error"); err != nil {
		return err
	}
	msg := gjson.GetBytes(data, "error")
	if !msg.Exists() {
		return fmt.Errorf("missing required field 'error'")
	}
	e.Err = errors.New(msg.String())
	if gjson.GetBytes(data, "transient").Bool() {
		e.Err = &TransientError{Err: e.Err}
	}
	return nil
}

// DecodeEvent decodes a single event from its tagged JSON form.
func DecodeEvent(data []byte) (Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid json: %s", data)
	}
	switch tpe := gjson.GetBytes(data, "type").String(); tpe {
	case "text_delta":
		var ev TextDelta
		if err := ev.UnmarshalJSON(data); err != nil {
			return nil, err
		}
		return ev, nil
	case "tool_call_fragment":
		var ev ToolCallFragment
		if err := ev.UnmarshalJSON(data); err != nil {
			return nil, err
		}
		return ev, nil
	case "turn_end":
		var ev TurnEnd
		if err := ev.UnmarshalJSON(data); err != nil {
			return nil, err
		}
		return ev, nil
	case "error":
		var ev Error
		if err := ev.UnmarshalJSON(data); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", tpe)
	}
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

package gemini

import (
	"fmt"
	"iter"

	"github.com/casualjim/toolstream/messages"
	"github.com/casualjim/toolstream/pkg/jsonx"
	"github.com/casualjim/toolstream/provider"
	json "github.com/goccy/go-json"
	"github.com/tidwall/sjson"
)

// buildRequest serializes a request into a generateContent body.
//
// Assistant turns become "model" contents. Tool turns become a single "user" content
// holding one functionResponse part per result, in call order. Captured thought
// signatures are replayed next to the functionCall they arrived with.
func buildRequest(req *provider.Request) ([]byte, error) {
	if req.History == nil {
		return nil, fmt.Errorf("request has no history")
	}

	body := []byte(`{"contents":[]}`)
	var err error

	if system := req.SystemPrompt(); system != "" {
		instruction, err := sjson.SetBytes([]byte(`{"parts":[{}]}`), "parts.0.text", system)
		if err != nil {
			return nil, err
		}
		if body, err = sjson.SetRawBytes(body, "systemInstruction", instruction); err != nil {
			return nil, err
		}
	}

	body, err = appendContents(body, req.History.Iter())
	if err != nil {
		return nil, err
	}

	if len(req.Tools) == 0 {
		return body, nil
	}
	declarations := []byte(`{"functionDeclarations":[]}`)
	for i, tool := range req.Tools {
		decl, err := functionDeclaration(tool)
		if err != nil {
			return nil, fmt.Errorf("tool at %d: %w", i, err)
		}
		if declarations, err = sjson.SetRawBytes(declarations, "functionDeclarations.-1", decl); err != nil {
			return nil, err
		}
	}
	return sjson.SetRawBytes(body, "tools", append(append([]byte{'['}, declarations...), ']'))
}

func appendContents(body []byte, turns iter.Seq[messages.Turn]) ([]byte, error) {
	var err error
	for turn := range turns {
		var content []byte
		switch turn.Role {
		case messages.RoleUser:
			content, err = userContent(turn)
		case messages.RoleAssistant:
			content, err = modelContent(turn)
		case messages.RoleTool:
			content, err = functionResponseContent(turn)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		if content == nil {
			continue
		}
		body, err = sjson.SetRawBytes(body, "contents.-1", content)
		if err != nil {
			return nil, err
		}
	}
	return body, nil
}

func userContent(turn messages.Turn) ([]byte, error) {
	text := turn.Text()
	if text == "" {
		return nil, nil
	}
	content, err := sjson.SetBytes([]byte(`{"role":"user","parts":[{}]}`), "parts.0.text", text)
	if err != nil {
		return nil, err
	}
	return content, nil
}

func modelContent(turn messages.Turn) ([]byte, error) {
	content := []byte(`{"role":"model","parts":[]}`)
	var err error
	for _, part := range turn.Parts {
		var raw []byte
		switch p := part.(type) {
		case messages.TextPart:
			if p.Text == "" {
				continue
			}
			raw, err = sjson.SetBytes([]byte(`{}`), "text", p.Text)
		case messages.ToolCallPart:
			raw, err = functionCallPart(p)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		content, err = sjson.SetRawBytes(content, "parts.-1", raw)
		if err != nil {
			return nil, err
		}
	}
	return content, nil
}

func functionCallPart(p messages.ToolCallPart) ([]byte, error) {
	raw, err := sjson.SetBytes([]byte(`{}`), "functionCall.name", p.Name)
	if err != nil {
		return nil, err
	}
	if p.ID != "" {
		if raw, err = sjson.SetBytes(raw, "functionCall.id", p.ID); err != nil {
			return nil, err
		}
	}
	// arguments that never parsed are replayed as an empty object
	if raw, err = sjson.SetRawBytes(raw, "functionCall.args", jsonx.ObjectOrEmpty(p.Arguments)); err != nil {
		return nil, err
	}
	if p.Signature != "" {
		if raw, err = sjson.SetBytes(raw, "thoughtSignature", p.Signature); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

func functionResponseContent(turn messages.Turn) ([]byte, error) {
	results := turn.Results()
	if len(results) == 0 {
		return nil, nil
	}
	content := []byte(`{"role":"user","parts":[]}`)
	for _, r := range results {
		raw, err := sjson.SetBytes([]byte(`{}`), "functionResponse.name", r.Name)
		if err != nil {
			return nil, err
		}
		if r.CallID != "" {
			if raw, err = sjson.SetBytes(raw, "functionResponse.id", r.CallID); err != nil {
				return nil, err
			}
		}
		if r.IsError() {
			raw, err = sjson.SetBytes(raw, "functionResponse.response.error", r.Error)
		} else {
			raw, err = sjson.SetRawBytes(raw, "functionResponse.response.result", jsonx.RawOrString(r.Result))
		}
		if err != nil {
			return nil, err
		}
		if content, err = sjson.SetRawBytes(content, "parts.-1", raw); err != nil {
			return nil, err
		}
	}
	return content, nil
}

func functionDeclaration(tool provider.ToolDescriptor) ([]byte, error) {
	if tool.Name == "" {
		return nil, fmt.Errorf("tool has no name")
	}
	params := tool.Parameters
	if params == nil {
		params = provider.EmptyParameters()
	}
	schema, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal parameters of %s: %w", tool.Name, err)
	}

	decl, err := sjson.SetBytes([]byte(`{}`), "name", tool.Name)
	if err != nil {
		return nil, err
	}
	if tool.Description != "" {
		if decl, err = sjson.SetBytes(decl, "description", tool.Description); err != nil {
			return nil, err
		}
	}
	return sjson.SetRawBytes(decl, "parametersJsonSchema", schema)
}

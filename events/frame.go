package events

import (
	"fmt"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Kind classifies an output frame.
type Kind string

const (
	KindReasoning  Kind = "reasoning-text"
	KindAnswer     Kind = "answer-text"
	KindReferences Kind = "references"
	KindEnd        Kind = "end"
)

func (k Kind) Valid() bool {
	switch k {
	case KindReasoning, KindAnswer, KindReferences, KindEnd:
		return true
	default:
		return false
	}
}

// Frame is one unit of output delivered to the caller. Text frames carry deltas that
// are appended to what came before; nothing is ever retracted.
type Frame struct {
	RunID      uuid.UUID
	Seq        uint64
	Kind       Kind
	Text       string
	References []string
	Timestamp  strfmt.DateTime
}

func (f Frame) MarshalJSON() ([]byte, error) {
	result := []byte(`{}`)

	var err error
	if result, err = sjson.SetBytes(result, "run_id", f.RunID.String()); err != nil {
		return nil, err
	}
	if result, err = sjson.SetBytes(result, "seq", f.Seq); err != nil {
		return nil, err
	}
	if result, err = sjson.SetBytes(result, "kind", string(f.Kind)); err != nil {
		return nil, err
	}
	if f.Text != "" {
		if result, err = sjson.SetBytes(result, "text", f.Text); err != nil {
			return nil, err
		}
	}
	if len(f.References) > 0 {
		if result, err = sjson.SetBytes(result, "references", f.References); err != nil {
			return nil, err
		}
	}
	return sjson.SetBytes(result, "timestamp", f.Timestamp.String())
}

func (f *Frame) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid json: %s", data)
	}

	kind := Kind(gjson.GetBytes(data, "kind").String())
	if !kind.Valid() {
		return fmt.Errorf("invalid frame kind %q", kind)
	}
	f.Kind = kind

	if id := gjson.GetBytes(data, "run_id"); id.Exists() {
		runID, err := uuid.Parse(id.String())
		if err != nil {
			return fmt.Errorf("invalid run id: %w", err)
		}
		f.RunID = runID
	}
	f.Seq = gjson.GetBytes(data, "seq").Uint()
	f.Text = gjson.GetBytes(data, "text").String()

	f.References = nil
	for _, ref := range gjson.GetBytes(data, "references").Array() {
		f.References = append(f.References, ref.String())
	}

	if ts := gjson.GetBytes(data, "timestamp"); ts.Exists() {
		dt, err := strfmt.ParseDateTime(ts.String())
		if err != nil {
			return fmt.Errorf("invalid timestamp: %w", err)
		}
		f.Timestamp = dt
	}
	return nil
}

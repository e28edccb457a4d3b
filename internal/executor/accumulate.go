package executor

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/casualjim/toolstream/messages"
	"github.com/casualjim/toolstream/pkg/uuidx"
	"github.com/casualjim/toolstream/provider"
	"github.com/tidwall/gjson"
)

// pendingCall is a tool call under construction.
type pendingCall struct {
	index     int
	id        string
	name      string
	args      string
	signature string
}

// accumulator collects the tool call fragments of one turn, keyed by index.
type accumulator struct {
	calls map[int]*pendingCall
}

func newAccumulator() *accumulator {
	return &accumulator{calls: make(map[int]*pendingCall)}
}

func (a *accumulator) add(f provider.ToolCallFragment) {
	call, ok := a.calls[f.Index]
	if !ok {
		call = &pendingCall{index: f.Index}
		a.calls[f.Index] = call
	}
	if call.id == "" {
		call.id = f.ID
	}
	if call.signature == "" {
		call.signature = f.Signature
	}
	call.name += f.Name
	call.args += f.Args
}

func (a *accumulator) len() int {
	return len(a.calls)
}

// finalize returns the calls in index order.
func (a *accumulator) finalize() []finalCall {
	indexes := slices.Sorted(maps.Keys(a.calls))
	result := make([]finalCall, 0, len(indexes))
	for _, idx := range indexes {
		result = append(result, a.calls[idx].finalize())
	}
	return result
}

// finalCall is a completed tool call. err is set when its arguments are not a JSON value.
type finalCall struct {
	messages.ToolCallPart
	err error
}

func (p *pendingCall) finalize() finalCall {
	id := p.id
	if id == "" {
		id = uuidx.CallID()
	}
	name := strings.TrimSpace(p.name)
	args := p.args
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}

	call := finalCall{ToolCallPart: messages.ToolCallPart{
		ID:        id,
		Name:      name,
		Arguments: args,
		Signature: p.signature,
	}}
	if !gjson.Valid(args) {
		call.err = fmt.Errorf("invalid arguments for tool %s: not valid JSON: %s", name, truncate(args, 200))
	}
	return call
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

package tool

import (
	"context"
	"encoding"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/casualjim/toolstream/pkg/reflectx"
	json "github.com/goccy/go-json"
)

// ErrInvalidArguments is returned by Call when the arguments can not be bound to the
// function parameters.
var ErrInvalidArguments = errors.New("invalid arguments")

// Call decodes args, a JSON object keyed by parameter name, invokes the function and
// renders its result as text. Missing parameters receive their zero value.
func (td Definition) Call(ctx context.Context, args string) (string, error) {
	val := reflect.ValueOf(td.Function)
	if !val.IsValid() || val.Kind() != reflect.Func {
		return "", fmt.Errorf("tool %s has no function", td.Name)
	}
	typ := val.Type()

	fields := map[string]json.RawMessage{}
	if trimmed := strings.TrimSpace(args); trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidArguments, err)
		}
	}

	callArgs := make([]reflect.Value, typ.NumIn())
	for i := range typ.NumIn() {
		if reflectx.Is[context.Context](typ.In(i)) {
			callArgs[i] = reflect.ValueOf(ctx)
		}
	}
	for _, p := range td.params(typ) {
		ptr := reflect.New(p.typ)
		if raw, ok := fields[p.name]; ok {
			if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
				return "", fmt.Errorf("%w: %s: %w", ErrInvalidArguments, p.name, err)
			}
		}
		callArgs[p.index] = ptr.Elem()
	}

	results := val.Call(callArgs)
	switch len(results) {
	case 0:
		return "", nil
	case 2:
		if err, ok := results[1].Interface().(error); ok && err != nil {
			return "", err
		}
	}

	res := results[0]
	if !res.IsValid() || (isNillable(res.Kind()) && res.IsNil()) {
		return "", nil
	}
	return renderResult(res.Interface())
}

func isNillable(k reflect.Kind) bool {
	switch k {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	default:
		return false
	}
}

func renderResult(value any) (string, error) {
	switch v := value.(type) {
	case error:
		return "", v
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case time.Time:
		return v.Format(time.RFC3339), nil
	case time.Duration:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	case int, int8, int16, int32, int64:
		return strconv.FormatInt(reflect.ValueOf(v).Int(), 10), nil
	case uint, uint8, uint16, uint32, uint64:
		return strconv.FormatUint(reflect.ValueOf(v).Uint(), 10), nil
	case float32, float64:
		return strconv.FormatFloat(reflect.ValueOf(v).Float(), 'f', -1, 64), nil
	case encoding.TextMarshaler:
		b, err := v.MarshalText()
		if err != nil {
			return "", fmt.Errorf("failed to marshal result: %w", err)
		}
		return string(b), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to marshal result: %w", err)
		}
		return string(b), nil
	}
}

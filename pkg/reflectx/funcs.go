package reflectx

import (
	"reflect"
	"runtime"
	"strings"
)

// IsFunction reports whether fn is a non-nil function value.
func IsFunction(fn any) bool {
	if fn == nil {
		return false
	}
	return reflect.TypeOf(fn).Kind() == reflect.Func
}

// FunctionName derives a readable name for fn. Named function types use the type name,
// everything else uses the last segment of the runtime symbol.
func FunctionName(fn any) string {
	if !IsFunction(fn) {
		return ""
	}

	val := reflect.ValueOf(fn)
	typ := val.Type()
	if typ.Name() != "" {
		return typ.String()
	}

	rf := runtime.FuncForPC(val.Pointer())
	if rf == nil {
		return typ.String()
	}
	name := rf.Name()
	if lastDot := strings.LastIndex(name, "."); lastDot >= 0 {
		name = name[lastDot+1:]
	}
	return strings.TrimSuffix(name, "-fm")
}

// Is reports whether typ is exactly T. Unlike comparing against reflect.TypeOf of a
// zero value, this also works when T is an interface.
func Is[T any](typ reflect.Type) bool {
	return typ == reflect.TypeFor[T]()
}

// Implements reports whether typ implements the interface T.
func Implements[T any](typ reflect.Type) bool {
	iface := reflect.TypeFor[T]()
	return iface.Kind() == reflect.Interface && typ.Implements(iface)
}

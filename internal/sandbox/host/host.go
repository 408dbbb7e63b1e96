package host

import (
	"fmt"
	"sort"
	"strconv"
)

// Func is a host function callable from plugin code. Arguments and
// results use plain Go values: nil, bool, int64, float64, string,
// []byte, []any, map[string]any, Object and Func.
type Func func(args ...any) (any, error)

// Object is a named set of host methods. Method names are camelCase;
// engines may present them in the language's own convention.
type Object map[string]Func

// Names returns the method names in sorted order
func (o Object) Names() []string {
	names := make([]string, 0, len(o))
	for name := range o {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Module is a host module a plugin can load by name
type Module struct {
	Name    string
	Exports Object
}

// Args wraps a call's arguments with typed accessors
type Args []any

// Len returns the number of arguments
func (a Args) Len() int { return len(a) }

// Value returns argument i, or nil when absent
func (a Args) Value(i int) any {
	if i < 0 || i >= len(a) {
		return nil
	}
	return a[i]
}

// String extracts a required string argument
func (a Args) String(i int, name string) (string, error) {
	switch v := a.Value(i).(type) {
	case string:
		return v, nil
	case nil:
		return "", fmt.Errorf("%s parameter required", name)
	default:
		return "", fmt.Errorf("%s must be string, got %T", name, v)
	}
}

// OptString extracts an optional string argument
func (a Args) OptString(i int, def string) string {
	if s, ok := a.Value(i).(string); ok {
		return s
	}
	return def
}

// Int extracts a numeric argument
func (a Args) Int(i int, name string) (int64, error) {
	switch v := a.Value(i).(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be number, got %q", name, v)
		}
		return n, nil
	case nil:
		return 0, fmt.Errorf("%s parameter required", name)
	default:
		return 0, fmt.Errorf("%s must be number, got %T", name, v)
	}
}

// Bool extracts an optional boolean argument
func (a Args) Bool(i int, def bool) bool {
	if b, ok := a.Value(i).(bool); ok {
		return b
	}
	return def
}

// Map extracts an object argument; nil stays nil
func (a Args) Map(i int, name string) (map[string]any, error) {
	switch v := a.Value(i).(type) {
	case map[string]any:
		return v, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("%s must be object, got %T", name, v)
	}
}

// StringMap extracts an object argument with values rendered as strings
func (a Args) StringMap(i int, name string) (map[string]string, error) {
	m, err := a.Map(i, name)
	if err != nil || m == nil {
		return nil, err
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = Stringify(v)
	}
	return out, nil
}

// Bytes extracts a string or byte argument
func (a Args) Bytes(i int, name string) ([]byte, error) {
	switch v := a.Value(i).(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case nil:
		return nil, fmt.Errorf("%s parameter required", name)
	default:
		return nil, fmt.Errorf("%s must be string or bytes, got %T", name, v)
	}
}

// Stringify renders a plain value the way plugins expect to see it.
// Whole floats print without a fraction.
func Stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(s, 10)
	case int:
		return strconv.Itoa(s)
	case bool:
		return strconv.FormatBool(s)
	}
	return fmt.Sprint(v)
}

// Strings converts a []string to the []any engines expect
func Strings(items []string) []any {
	out := make([]any, len(items))
	for i, s := range items {
		out[i] = s
	}
	return out
}

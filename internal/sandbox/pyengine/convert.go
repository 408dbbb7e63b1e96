package pyengine

import (
	"sort"
	"strings"
	"unicode"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/sandbox/host"
)

// toStarlark converts a plain host value. Host objects become structs
// whose methods use snake_case names; fail, when non-nil, is called with
// every host error before it is raised.
func toStarlark(v any, fail func(error)) starlark.Value {
	switch t := v.(type) {
	case nil:
		return starlark.None
	case bool:
		return starlark.Bool(t)
	case int:
		return starlark.MakeInt(t)
	case int64:
		return starlark.MakeInt64(t)
	case float64:
		return starlark.Float(t)
	case string:
		return starlark.String(t)
	case []byte:
		return starlark.Bytes(t)
	case []any:
		items := make([]starlark.Value, len(t))
		for i, item := range t {
			items[i] = toStarlark(item, fail)
		}
		return starlark.NewList(items)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := starlark.NewDict(len(t))
		for _, k := range keys {
			_ = d.SetKey(starlark.String(k), toStarlark(t[k], fail))
		}
		return d
	case host.Object:
		return starlarkstruct.FromStringDict(starlarkstruct.Default, members(t, fail))
	case host.Func:
		return builtin("function", t, fail)
	}
	return starlark.String(host.Stringify(v))
}

// members converts an object's methods to snake_case builtins
func members(o host.Object, fail func(error)) starlark.StringDict {
	out := make(starlark.StringDict, len(o))
	for name, fn := range o {
		snake := SnakeCase(name)
		out[snake] = builtin(snake, fn, fail)
	}
	return out
}

// builtin adapts a host function. Keyword arguments follow the
// positional ones in call order.
func builtin(name string, fn host.Func, fail func(error)) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		in := make([]any, 0, len(args)+len(kwargs))
		for _, a := range args {
			in = append(in, fromStarlark(a))
		}
		for _, kv := range kwargs {
			in = append(in, fromStarlark(kv[1]))
		}
		out, err := fn(in...)
		if err != nil {
			if fail != nil {
				fail(err)
			}
			return nil, err
		}
		return toStarlark(out, fail), nil
	})
}

// fromStarlark converts a Starlark value into a plain host value
func fromStarlark(v starlark.Value) any {
	switch t := v.(type) {
	case nil, starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(t)
	case starlark.Int:
		if n, ok := t.Int64(); ok {
			return n
		}
		return float64(t.Float())
	case starlark.Float:
		return float64(t)
	case starlark.String:
		return string(t)
	case starlark.Bytes:
		return []byte(t)
	case *starlark.List:
		out := make([]any, t.Len())
		for i := 0; i < t.Len(); i++ {
			out[i] = fromStarlark(t.Index(i))
		}
		return out
	case starlark.Tuple:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = fromStarlark(item)
		}
		return out
	case *starlark.Dict:
		out := make(map[string]any, t.Len())
		for _, kv := range t.Items() {
			key, ok := starlark.AsString(kv[0])
			if !ok {
				key = kv[0].String()
			}
			out[key] = fromStarlark(kv[1])
		}
		return out
	case *starlarkstruct.Struct:
		out := make(map[string]any)
		for _, name := range t.AttrNames() {
			attr, err := t.Attr(name)
			if err != nil {
				continue
			}
			if _, callable := attr.(starlark.Callable); callable {
				continue
			}
			out[name] = fromStarlark(attr)
		}
		return out
	}
	return v.String()
}

// SnakeCase converts a camelCase host name: getShareUrl becomes
// get_share_url and parseURL becomes parse_url
func SnakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

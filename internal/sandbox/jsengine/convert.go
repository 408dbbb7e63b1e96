package jsengine

import (
	"time"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/sandbox/host"
)

// toValue converts a plain host value into a runtime value
func (c *Context) toValue(v any) goja.Value {
	switch t := v.(type) {
	case nil:
		return goja.Null()
	case host.Object:
		obj := c.vm.NewObject()
		for name, fn := range t {
			_ = obj.Set(name, c.wrap(fn))
		}
		return obj
	case host.Func:
		return c.vm.ToValue(c.wrap(t))
	case []byte:
		return c.vm.ToValue(c.vm.NewArrayBuffer(t))
	case []any:
		items := make([]any, len(t))
		for i, item := range t {
			items[i] = c.toValue(item)
		}
		return c.vm.NewArray(items...)
	case map[string]any:
		obj := c.vm.NewObject()
		for k, item := range t {
			_ = obj.Set(k, c.toValue(item))
		}
		return obj
	}
	return c.vm.ToValue(v)
}

// wrap adapts a host function. Errors are thrown as JavaScript exceptions
// the plugin may catch.
func (c *Context) wrap(fn host.Func) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, a := range call.Arguments {
			args[i] = export(a)
		}
		out, err := fn(args...)
		if err != nil {
			c.throw(err)
		}
		return c.toValue(out)
	}
}

// export converts a runtime value into a plain host value
func export(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return plain(v.Export())
}

func plain(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = plain(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = plain(item)
		}
		return out
	case goja.ArrayBuffer:
		return t.Bytes()
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case time.Time:
		return t.Format(time.RFC3339)
	}
	return v
}

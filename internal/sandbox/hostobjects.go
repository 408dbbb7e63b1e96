package sandbox

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/providers/http/client"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/sandbox/host"
)

// InputObject exposes the read-only share link state
func InputObject(in plugin.Input) host.Object {
	constant := func(s string) host.Func {
		return func(...any) (any, error) { return s, nil }
	}
	key := func(args []any) (string, error) {
		return host.Args(args).String(0, "key")
	}

	return host.Object{
		"getShareUrl":      constant(in.ShareURL()),
		"getShareKey":      constant(in.ShareKey()),
		"getSharePassword": constant(in.SharePassword()),
		"getType":          constant(in.Type()),
		"getPanName":       constant(in.PanName()),
		"getOtherParam": func(args ...any) (any, error) {
			k, err := key(args)
			if err != nil {
				return nil, err
			}
			return in.OtherParam(k), nil
		},
		"getAllOtherParams": func(...any) (any, error) {
			return in.AllOtherParams(), nil
		},
		"hasOtherParam": func(args ...any) (any, error) {
			k, err := key(args)
			if err != nil {
				return nil, err
			}
			return in.HasOtherParam(k), nil
		},
		"getOtherParamAsString": func(args ...any) (any, error) {
			k, err := key(args)
			if err != nil {
				return nil, err
			}
			return in.OtherParamAsString(k), nil
		},
		"getOtherParamAsInteger": func(args ...any) (any, error) {
			k, err := key(args)
			if err != nil {
				return nil, err
			}
			if n, ok := in.OtherParamAsInteger(k); ok {
				return n, nil
			}
			return nil, nil
		},
		"getOtherParamAsBoolean": func(args ...any) (any, error) {
			k, err := key(args)
			if err != nil {
				return nil, err
			}
			if b, ok := in.OtherParamAsBoolean(k); ok {
				return b, nil
			}
			return nil, nil
		},
	}
}

// LoggerObject writes plugin output into sink. Messages accept {}
// placeholders; surplus arguments are appended.
func LoggerObject(sink *LogSink) host.Object {
	level := func(l plugin.LogLevel) host.Func {
		return func(args ...any) (any, error) {
			if len(args) == 0 {
				sink.Append(l, plugin.SourcePlugin, "")
				return nil, nil
			}
			sink.Append(l, plugin.SourcePlugin, FormatLog(formatArg(args[0]), args[1:]))
			return nil, nil
		}
	}
	enabled := func(...any) (any, error) { return true, nil }

	return host.Object{
		"debug":          level(plugin.LevelDebug),
		"info":           level(plugin.LevelInfo),
		"log":            level(plugin.LevelInfo),
		"warn":           level(plugin.LevelWarn),
		"error":          level(plugin.LevelError),
		"isDebugEnabled": enabled,
		"isInfoEnabled":  enabled,
		"isWarnEnabled":  enabled,
		"isErrorEnabled": enabled,
	}
}

// FormatLog substitutes each {} in msg with the next argument
func FormatLog(msg string, args []any) string {
	if len(args) == 0 {
		return msg
	}

	var b strings.Builder
	i := 0
	for {
		idx := strings.Index(msg, "{}")
		if idx < 0 || i >= len(args) {
			break
		}
		b.WriteString(msg[:idx])
		b.WriteString(formatArg(args[i]))
		msg = msg[idx+2:]
		i++
	}
	b.WriteString(msg)

	for ; i < len(args); i++ {
		b.WriteByte(' ')
		b.WriteString(formatArg(args[i]))
	}
	return b.String()
}

func formatArg(v any) string {
	switch v.(type) {
	case map[string]any, []any:
		if s, err := sonic.MarshalString(v); err == nil {
			return s
		}
	case host.Object, host.Func:
		return "[host object]"
	}
	return host.Stringify(v)
}

// BridgeObject exposes c to plugin code. Calls run under ctx, which is
// cancelled when the execution times out.
func BridgeObject(ctx context.Context, c *client.Client) host.Object {
	var self host.Object

	get := func(fn func(context.Context, string) (*client.Response, error)) host.Func {
		return func(args ...any) (any, error) {
			u, err := host.Args(args).String(0, "url")
			if err != nil {
				return nil, err
			}
			return respond(fn(ctx, u))
		}
	}
	send := func(fn func(context.Context, string, any) (*client.Response, error)) host.Func {
		return func(args ...any) (any, error) {
			a := host.Args(args)
			u, err := a.String(0, "url")
			if err != nil {
				return nil, err
			}
			return respond(fn(ctx, u, a.Value(1)))
		}
	}

	self = host.Object{
		"get":             get(c.Get),
		"getWithRedirect": get(c.GetWithRedirect),
		"getNoRedirect":   get(c.GetNoRedirect),
		"delete":          get(c.Delete),
		"post":            send(c.Post),
		"put":             send(c.Put),
		"patch":           send(c.Patch),
		"postJson":        send(c.PostJSON),
		"sendJson":        send(c.PostJSON),
		"sendForm": func(args ...any) (any, error) {
			a := host.Args(args)
			u, err := a.String(0, "url")
			if err != nil {
				return nil, err
			}
			form, err := a.StringMap(1, "data")
			if err != nil {
				return nil, err
			}
			return respond(c.PostForm(ctx, u, form))
		},
		"sendMultipartForm": func(args ...any) (any, error) {
			a := host.Args(args)
			u, err := a.String(0, "url")
			if err != nil {
				return nil, err
			}
			fields, err := a.Map(1, "data")
			if err != nil {
				return nil, err
			}
			return respond(c.PostMultipart(ctx, u, fields))
		},
		"putHeader": func(args ...any) (any, error) {
			a := host.Args(args)
			name, err := a.String(0, "name")
			if err != nil {
				return nil, err
			}
			c.SetHeader(name, host.Stringify(a.Value(1)))
			return self, nil
		},
		"putHeaders": func(args ...any) (any, error) {
			headers, err := host.Args(args).StringMap(0, "headers")
			if err != nil {
				return nil, err
			}
			c.SetHeaders(headers)
			return self, nil
		},
		"removeHeader": func(args ...any) (any, error) {
			name, err := host.Args(args).String(0, "name")
			if err != nil {
				return nil, err
			}
			c.RemoveHeader(name)
			return self, nil
		},
		"clearHeaders": func(...any) (any, error) {
			c.ClearHeaders()
			return self, nil
		},
		"getHeaders": func(...any) (any, error) {
			return stringMap(c.Headers()), nil
		},
		"setTimeout": func(args ...any) (any, error) {
			secs, err := host.Args(args).Int(0, "seconds")
			if err != nil {
				return nil, err
			}
			if secs <= 0 {
				return nil, fmt.Errorf("timeout must be positive, got %d", secs)
			}
			c.SetTimeout(time.Duration(secs) * time.Second)
			return self, nil
		},
		"urlEncode": func(args ...any) (any, error) {
			s, err := host.Args(args).String(0, "value")
			if err != nil {
				return nil, err
			}
			return url.QueryEscape(s), nil
		},
		"urlDecode": func(args ...any) (any, error) {
			s, err := host.Args(args).String(0, "value")
			if err != nil {
				return nil, err
			}
			return url.QueryUnescape(s)
		},
	}
	return self
}

// FetchFunc implements fetch(url, {method, headers, body}) over the bridge
func FetchFunc(ctx context.Context, c *client.Client) host.Func {
	return func(args ...any) (any, error) {
		a := host.Args(args)
		u, err := a.String(0, "url")
		if err != nil {
			return nil, err
		}
		opts, err := a.Map(1, "options")
		if err != nil {
			return nil, err
		}

		method := "GET"
		var body any
		if opts != nil {
			if m, ok := opts["method"].(string); ok && m != "" {
				method = strings.ToUpper(m)
			}
			if h, ok := opts["headers"].(map[string]any); ok {
				for k, v := range h {
					if v != nil {
						c.SetHeader(k, host.Stringify(v))
					}
				}
			}
			body = opts["body"]
		}

		switch method {
		case "GET":
			return respond(c.Get(ctx, u))
		case "HEAD":
			return respond(c.GetNoRedirect(ctx, u))
		case "DELETE":
			return respond(c.Delete(ctx, u))
		case "POST":
			return respond(c.Post(ctx, u, body))
		case "PUT":
			return respond(c.Put(ctx, u, body))
		case "PATCH":
			return respond(c.Patch(ctx, u, body))
		}
		return nil, fmt.Errorf("unsupported HTTP method: %s", method)
	}
}

func respond(resp *client.Response, err error) (any, error) {
	if err != nil {
		return nil, err
	}
	return ResponseObject(resp), nil
}

// ResponseObject exposes one bridge response
func ResponseObject(r *client.Response) host.Object {
	text := func(...any) (any, error) { return r.Text() }
	ok := func(...any) (any, error) { return r.OK(), nil }
	content := func(...any) (any, error) { return r.Bytes() }

	return host.Object{
		"body":       text,
		"text":       text,
		"json":       func(...any) (any, error) { return r.JSON() },
		"statusCode": func(...any) (any, error) { return int64(r.StatusCode()), nil },
		"header": func(args ...any) (any, error) {
			name, err := host.Args(args).String(0, "name")
			if err != nil {
				return nil, err
			}
			if v := r.Header(name); v != "" {
				return v, nil
			}
			return nil, nil
		},
		"headers":       func(...any) (any, error) { return stringMap(r.Headers()), nil },
		"ok":            ok,
		"isSuccess":     ok,
		"content":       content,
		"bytes":         content,
		"contentLength": func(...any) (any, error) { return r.ContentLength(), nil },
		"url":           func(...any) (any, error) { return r.URL(), nil },
	}
}

func stringMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

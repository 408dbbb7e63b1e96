package pyengine

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	starlarkmath "go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	cryptomod "github.com/GriffinCanCode/ParserSandbox/backend/internal/providers/crypto"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/providers/http/utils"
)

// jsonAPI keeps integers integral and output deterministic
var jsonAPI = sonic.Config{UseInt64: true, SortMapKeys: true, EscapeHTML: false}.Froze()

// Builtin module names served without consulting the host
const (
	ModuleJSON    = "json"
	ModuleRe      = "re"
	ModuleBase64  = "base64"
	ModuleHashlib = "hashlib"
	ModuleTime    = "time"
	ModuleMath    = "math"
	ModuleURLLib  = "urllib.parse"
	ModuleOS      = "os"
	ModuleOSPath  = "os.path"
)

// stdlib builds the fixed module table. sleep returns early when
// interrupted is closed.
func stdlib(interrupted func() <-chan struct{}) map[string]starlark.StringDict {
	table := map[string]*starlarkstruct.Module{
		ModuleJSON:    jsonModule(),
		ModuleRe:      reModule(),
		ModuleBase64:  base64Module(),
		ModuleHashlib: hashlibModule(),
		ModuleTime:    timeModule(interrupted),
		ModuleMath:    starlarkmath.Module,
		ModuleURLLib:  urllibModule(),
		ModuleOS:      osModule(),
		ModuleOSPath:  osPathModule(),
	}

	out := make(map[string]starlark.StringDict, len(table))
	for name, m := range table {
		out[name] = exports(name, m)
	}
	return out
}

// exports makes a module loadable both whole and by member. urllib.parse
// binds as urllib with a parse attribute.
func exports(name string, m *starlarkstruct.Module) starlark.StringDict {
	d := make(starlark.StringDict, len(m.Members)+1)
	for k, v := range m.Members {
		d[k] = v
	}
	root, rest, nested := strings.Cut(name, ".")
	if nested {
		d[root] = starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{rest: m})
	} else {
		d[root] = m
	}
	return d
}

func module(name string, fns map[string]func(starlark.Tuple, []starlark.Tuple) (starlark.Value, error)) *starlarkstruct.Module {
	members := make(starlark.StringDict, len(fns))
	for fname, fn := range fns {
		fn := fn
		members[fname] = starlark.NewBuiltin(name+"."+fname, func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			return fn(args, kwargs)
		})
	}
	return &starlarkstruct.Module{Name: name, Members: members}
}

func jsonModule() *starlarkstruct.Module {
	return module(ModuleJSON, map[string]func(starlark.Tuple, []starlark.Tuple) (starlark.Value, error){
		"loads": func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var s starlark.Value
			if err := starlark.UnpackArgs("loads", args, kwargs, "s", &s); err != nil {
				return nil, err
			}
			text, err := textOf(s)
			if err != nil {
				return nil, err
			}
			var v any
			if err := jsonAPI.UnmarshalFromString(text, &v); err != nil {
				return nil, fmt.Errorf("invalid JSON: %w", err)
			}
			return toStarlark(v, nil), nil
		},
		"dumps": func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var obj starlark.Value
			var indent starlark.Value = starlark.None
			var ensureASCII bool
			if err := starlark.UnpackArgs("dumps", args, kwargs, "obj", &obj, "indent?", &indent, "ensure_ascii?", &ensureASCII); err != nil {
				return nil, err
			}
			var (
				out []byte
				err error
			)
			if n, ok := indent.(starlark.Int); ok {
				width, _ := n.Int64()
				out, err = jsonAPI.MarshalIndent(fromStarlark(obj), "", strings.Repeat(" ", int(width)))
			} else {
				out, err = jsonAPI.Marshal(fromStarlark(obj))
			}
			if err != nil {
				return nil, err
			}
			return starlark.String(out), nil
		},
	})
}

func base64Module() *starlarkstruct.Module {
	encode := func(enc *base64.Encoding) func(starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var s starlark.Value
			if err := starlark.UnpackPositionalArgs("b64encode", args, kwargs, 1, &s); err != nil {
				return nil, err
			}
			text, err := textOf(s)
			if err != nil {
				return nil, err
			}
			return starlark.String(enc.EncodeToString([]byte(text))), nil
		}
	}
	decode := func(enc *base64.Encoding) func(starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var s starlark.Value
			if err := starlark.UnpackPositionalArgs("b64decode", args, kwargs, 1, &s); err != nil {
				return nil, err
			}
			text, err := textOf(s)
			if err != nil {
				return nil, err
			}
			out, err := enc.DecodeString(strings.TrimSpace(text))
			if err != nil {
				return nil, err
			}
			return starlark.String(out), nil
		}
	}

	return module(ModuleBase64, map[string]func(starlark.Tuple, []starlark.Tuple) (starlark.Value, error){
		"b64encode":         encode(base64.StdEncoding),
		"b64decode":         decode(base64.StdEncoding),
		"urlsafe_b64encode": encode(base64.URLEncoding),
		"urlsafe_b64decode": decode(base64.URLEncoding),
	})
}

// hashlibModule returns digest objects with hexdigest() and digest()
func hashlibModule() *starlarkstruct.Module {
	fns := make(map[string]func(starlark.Tuple, []starlark.Tuple) (starlark.Value, error))
	for _, alg := range []string{"md5", "sha1", "sha256", "sha512", "sha3_256", "sha3_512"} {
		alg := alg
		fns[alg] = func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var s starlark.Value = starlark.String("")
			if err := starlark.UnpackPositionalArgs(alg, args, kwargs, 0, &s); err != nil {
				return nil, err
			}
			text, err := textOf(s)
			if err != nil {
				return nil, err
			}
			sum, err := cryptomod.Hash(alg, []byte(text))
			if err != nil {
				return nil, err
			}
			raw, _ := hex.DecodeString(sum)
			return starlarkstruct.FromStringDict(starlark.String(alg), starlark.StringDict{
				"name": starlark.String(alg),
				"hexdigest": starlark.NewBuiltin("hexdigest", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
					return starlark.String(sum), nil
				}),
				"digest": starlark.NewBuiltin("digest", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
					return starlark.Bytes(raw), nil
				}),
			}), nil
		}
	}
	return module(ModuleHashlib, fns)
}

func timeModule(interrupted func() <-chan struct{}) *starlarkstruct.Module {
	now := func(starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return starlark.Float(float64(time.Now().UnixNano()) / 1e9), nil
	}
	return module(ModuleTime, map[string]func(starlark.Tuple, []starlark.Tuple) (starlark.Value, error){
		"time": now,
		"time_ns": func(starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			return starlark.MakeInt64(time.Now().UnixNano()), nil
		},
		"monotonic": now,
		"sleep": func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var secs starlark.Value
			if err := starlark.UnpackPositionalArgs("sleep", args, kwargs, 1, &secs); err != nil {
				return nil, err
			}
			f, ok := starlark.AsFloat(secs)
			if !ok || f < 0 {
				return nil, fmt.Errorf("sleep: invalid duration %s", secs)
			}
			t := time.NewTimer(time.Duration(f * float64(time.Second)))
			defer t.Stop()
			select {
			case <-t.C:
			case <-interrupted():
				return nil, fmt.Errorf("sleep interrupted")
			}
			return starlark.None, nil
		},
	})
}

func urllibModule() *starlarkstruct.Module {
	str1 := func(name string, fn func(string) (string, error)) func(starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var s string
			var safe string
			if err := starlark.UnpackArgs(name, args, kwargs, "string", &s, "safe?", &safe); err != nil {
				return nil, err
			}
			out, err := fn(s)
			if err != nil {
				return nil, err
			}
			return starlark.String(out), nil
		}
	}
	plain := func(fn func(string) string) func(string) (string, error) {
		return func(s string) (string, error) { return fn(s), nil }
	}

	return module(ModuleURLLib, map[string]func(starlark.Tuple, []starlark.Tuple) (starlark.Value, error){
		"quote":        str1("quote", plain(url.PathEscape)),
		"quote_plus":   str1("quote_plus", plain(url.QueryEscape)),
		"unquote":      str1("unquote", url.PathUnescape),
		"unquote_plus": str1("unquote_plus", url.QueryUnescape),
		"urlencode": func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var d *starlark.Dict
			if err := starlark.UnpackPositionalArgs("urlencode", args, kwargs, 1, &d); err != nil {
				return nil, err
			}
			params, _ := fromStarlark(d).(map[string]any)
			return starlark.String(utils.EncodeQuery(params)), nil
		},
		"parse_qs": func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var qs string
			if err := starlark.UnpackPositionalArgs("parse_qs", args, kwargs, 1, &qs); err != nil {
				return nil, err
			}
			values, err := url.ParseQuery(strings.TrimPrefix(qs, "?"))
			if err != nil {
				return nil, err
			}
			out := make(map[string]any, len(values))
			for k, v := range values {
				items := make([]any, len(v))
				for i, s := range v {
					items[i] = s
				}
				out[k] = items
			}
			return toStarlark(out, nil), nil
		},
		"urljoin": func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var base, ref string
			if err := starlark.UnpackPositionalArgs("urljoin", args, kwargs, 2, &base, &ref); err != nil {
				return nil, err
			}
			out, err := utils.Resolve(base, ref)
			if err != nil {
				return nil, err
			}
			return starlark.String(out), nil
		},
		"urlparse": func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var raw string
			if err := starlark.UnpackPositionalArgs("urlparse", args, kwargs, 1, &raw); err != nil {
				return nil, err
			}
			u, err := url.Parse(raw)
			if err != nil {
				return nil, err
			}
			var port starlark.Value = starlark.None
			if p := u.Port(); p != "" {
				port = starlark.String(p)
			}
			return starlarkstruct.FromStringDict(starlark.String("ParseResult"), starlark.StringDict{
				"scheme":   starlark.String(u.Scheme),
				"netloc":   starlark.String(u.Host),
				"hostname": starlark.String(u.Hostname()),
				"port":     port,
				"path":     starlark.String(u.Path),
				"query":    starlark.String(u.RawQuery),
				"fragment": starlark.String(u.Fragment),
			}), nil
		},
	})
}

// osModule is the environment-free subset of os: path helpers, an empty
// environ and getenv that always yields its default
func osModule() *starlarkstruct.Module {
	m := module(ModuleOS, map[string]func(starlark.Tuple, []starlark.Tuple) (starlark.Value, error){
		"getenv": func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var key string
			var def starlark.Value = starlark.None
			if err := starlark.UnpackArgs("getenv", args, kwargs, "key", &key, "default?", &def); err != nil {
				return nil, err
			}
			return def, nil
		},
	})
	environ := starlark.NewDict(0)
	environ.Freeze()
	m.Members["environ"] = environ
	m.Members["sep"] = starlark.String("/")
	m.Members["path"] = osPathModule()
	return m
}

func osPathModule() *starlarkstruct.Module {
	str1 := func(name string, fn func(string) starlark.Value) func(starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var p string
			if err := starlark.UnpackPositionalArgs(name, args, kwargs, 1, &p); err != nil {
				return nil, err
			}
			return fn(p), nil
		}
	}
	str := func(fn func(string) string) func(string) starlark.Value {
		return func(p string) starlark.Value { return starlark.String(fn(p)) }
	}

	return module(ModuleOSPath, map[string]func(starlark.Tuple, []starlark.Tuple) (starlark.Value, error){
		"join": func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if len(kwargs) > 0 {
				return nil, fmt.Errorf("join: unexpected keyword arguments")
			}
			out := ""
			for _, a := range args {
				part, ok := starlark.AsString(a)
				if !ok {
					return nil, fmt.Errorf("join: expected str, got %s", a.Type())
				}
				switch {
				case strings.HasPrefix(part, "/"), out == "":
					out = part
				case strings.HasSuffix(out, "/"):
					out += part
				default:
					out += "/" + part
				}
			}
			return starlark.String(out), nil
		},
		"basename": str1("basename", func(p string) starlark.Value {
			return starlark.String(p[strings.LastIndex(p, "/")+1:])
		}),
		"dirname": str1("dirname", func(p string) starlark.Value {
			i := strings.LastIndex(p, "/")
			if i < 0 {
				return starlark.String("")
			}
			dir := strings.TrimRight(p[:i+1], "/")
			if dir == "" {
				dir = p[:i+1]
			}
			return starlark.String(dir)
		}),
		"splitext": str1("splitext", func(p string) starlark.Value {
			ext := path.Ext(p)
			if ext == p[strings.LastIndex(p, "/")+1:] {
				ext = ""
			}
			return starlark.Tuple{starlark.String(strings.TrimSuffix(p, ext)), starlark.String(ext)}
		}),
		"normpath": str1("normpath", str(path.Clean)),
		"isabs": str1("isabs", func(p string) starlark.Value {
			return starlark.Bool(path.IsAbs(p))
		}),
	})
}

// textOf accepts str or bytes
func textOf(v starlark.Value) (string, error) {
	switch t := v.(type) {
	case starlark.String:
		return string(t), nil
	case starlark.Bytes:
		return string(t), nil
	}
	return "", fmt.Errorf("expected str or bytes, got %s", v.Type())
}

package pyengine

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Python flag values
const (
	flagIgnoreCase = 2
	flagMultiline  = 8
	flagDotAll     = 16
)

// matchTimeout bounds a single backtracking match
const matchTimeout = time.Second

var (
	patterns    sync.Map // cacheKey -> *regexp2.Regexp
	groupRefRe  = regexp.MustCompile(`\\g<(\w+)>|\\(\d+)`)
	dollarRefRe = regexp.MustCompile(`\$`)
)

type cacheKey struct {
	pattern string
	flags   int
}

// compileRe compiles a Python pattern. regexp2 runs in RE2 compatibility
// mode so (?P<name>...) groups parse.
func compileRe(pattern string, flags int) (*regexp2.Regexp, error) {
	key := cacheKey{pattern, flags}
	if re, ok := patterns.Load(key); ok {
		return re.(*regexp2.Regexp), nil
	}

	opts := regexp2.RegexOptions(regexp2.RE2)
	if flags&flagIgnoreCase != 0 {
		opts |= regexp2.IgnoreCase
	}
	if flags&flagMultiline != 0 {
		opts |= regexp2.Multiline
	}
	if flags&flagDotAll != 0 {
		opts |= regexp2.Singleline
	}
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	re.MatchTimeout = matchTimeout
	patterns.Store(key, re)
	return re, nil
}

// pyReplacement converts \1 and \g<name> references to regexp2's syntax
func pyReplacement(repl string) string {
	repl = dollarRefRe.ReplaceAllString(repl, "$$$$")
	return groupRefRe.ReplaceAllStringFunc(repl, func(ref string) string {
		m := groupRefRe.FindStringSubmatch(ref)
		if m[1] != "" {
			return "${" + m[1] + "}"
		}
		return "${" + m[2] + "}"
	})
}

type reArgs struct {
	pattern string
	str     string
	flags   int
}

func unpackRe(name string, args starlark.Tuple, kwargs []starlark.Tuple) (reArgs, error) {
	var a reArgs
	err := starlark.UnpackArgs(name, args, kwargs, "pattern", &a.pattern, "string", &a.str, "flags?", &a.flags)
	return a, err
}

func reModule() *starlarkstruct.Module {
	find := func(name, prefix, suffix string) func(starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			a, err := unpackRe(name, args, kwargs)
			if err != nil {
				return nil, err
			}
			re, err := compileRe(prefix+a.pattern+suffix, a.flags)
			if err != nil {
				return nil, err
			}
			m, err := re.FindStringMatch(a.str)
			if err != nil {
				return nil, err
			}
			if m == nil {
				return starlark.None, nil
			}
			return matchObject(m, a.str), nil
		}
	}

	m := module(ModuleRe, map[string]func(starlark.Tuple, []starlark.Tuple) (starlark.Value, error){
		"search":    find("search", "", ""),
		"match":     find("match", `\A(?:`, `)`),
		"fullmatch": find("fullmatch", `\A(?:`, `)\z`),
		"findall": func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			a, err := unpackRe("findall", args, kwargs)
			if err != nil {
				return nil, err
			}
			re, err := compileRe(a.pattern, a.flags)
			if err != nil {
				return nil, err
			}
			var out []starlark.Value
			m, err := re.FindStringMatch(a.str)
			for ; m != nil && err == nil; m, err = re.FindNextMatch(m) {
				groups := m.Groups()[1:]
				switch len(groups) {
				case 0:
					out = append(out, starlark.String(m.String()))
				case 1:
					out = append(out, starlark.String(groups[0].String()))
				default:
					t := make(starlark.Tuple, len(groups))
					for i, g := range groups {
						t[i] = starlark.String(g.String())
					}
					out = append(out, t)
				}
			}
			if err != nil {
				return nil, err
			}
			return starlark.NewList(out), nil
		},
		"sub": func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var pattern, repl, s string
			var count, flags int
			if err := starlark.UnpackArgs("sub", args, kwargs, "pattern", &pattern, "repl", &repl, "string", &s, "count?", &count, "flags?", &flags); err != nil {
				return nil, err
			}
			re, err := compileRe(pattern, flags)
			if err != nil {
				return nil, err
			}
			if count <= 0 {
				count = -1
			}
			out, err := re.Replace(s, pyReplacement(repl), -1, count)
			if err != nil {
				return nil, err
			}
			return starlark.String(out), nil
		},
		"split": func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var pattern, s string
			var maxsplit, flags int
			if err := starlark.UnpackArgs("split", args, kwargs, "pattern", &pattern, "string", &s, "maxsplit?", &maxsplit, "flags?", &flags); err != nil {
				return nil, err
			}
			re, err := compileRe(pattern, flags)
			if err != nil {
				return nil, err
			}
			runes := []rune(s)
			var out []starlark.Value
			last := 0
			m, err := re.FindStringMatch(s)
			for ; m != nil && err == nil; m, err = re.FindNextMatch(m) {
				if maxsplit > 0 && len(out) >= maxsplit {
					break
				}
				out = append(out, starlark.String(string(runes[last:m.Index])))
				last = m.Index + m.Length
			}
			if err != nil {
				return nil, err
			}
			out = append(out, starlark.String(string(runes[last:])))
			return starlark.NewList(out), nil
		},
		"escape": func(args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var s string
			if err := starlark.UnpackPositionalArgs("escape", args, kwargs, 1, &s); err != nil {
				return nil, err
			}
			return starlark.String(regexp2.Escape(s)), nil
		},
	})

	for name, v := range map[string]int{
		"I": flagIgnoreCase, "IGNORECASE": flagIgnoreCase,
		"M": flagMultiline, "MULTILINE": flagMultiline,
		"S": flagDotAll, "DOTALL": flagDotAll,
	} {
		m.Members[name] = starlark.MakeInt(v)
	}
	return m
}

// matchObject mirrors the parts of Python's Match that plugins use.
// Positions are code point offsets.
func matchObject(m *regexp2.Match, s string) starlark.Value {
	group := func(v starlark.Value) (*regexp2.Group, error) {
		switch t := v.(type) {
		case starlark.Int:
			n, _ := t.Int64()
			if g := m.GroupByNumber(int(n)); g != nil {
				return g, nil
			}
		case starlark.String:
			if g := m.GroupByName(string(t)); g != nil {
				return g, nil
			}
		}
		return nil, fmt.Errorf("no such group: %s", v)
	}
	text := func(g *regexp2.Group) starlark.Value {
		if len(g.Captures) == 0 {
			return starlark.None
		}
		return starlark.String(g.String())
	}
	bound := func(name string, end bool) *starlark.Builtin {
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var which starlark.Value = starlark.MakeInt(0)
			if err := starlark.UnpackPositionalArgs(name, args, kwargs, 0, &which); err != nil {
				return nil, err
			}
			g, err := group(which)
			if err != nil {
				return nil, err
			}
			if len(g.Captures) == 0 {
				return starlark.MakeInt(-1), nil
			}
			if end {
				return starlark.MakeInt(g.Index + g.Length), nil
			}
			return starlark.MakeInt(g.Index), nil
		})
	}

	return starlarkstruct.FromStringDict(starlark.String("Match"), starlark.StringDict{
		"string": starlark.String(s),
		"group": starlark.NewBuiltin("group", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if len(kwargs) > 0 {
				return nil, fmt.Errorf("group: unexpected keyword arguments")
			}
			if len(args) == 0 {
				return starlark.String(m.String()), nil
			}
			out := make(starlark.Tuple, len(args))
			for i, a := range args {
				g, err := group(a)
				if err != nil {
					return nil, err
				}
				out[i] = text(g)
			}
			if len(out) == 1 {
				return out[0], nil
			}
			return out, nil
		}),
		"groups": starlark.NewBuiltin("groups", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			groups := m.Groups()[1:]
			out := make(starlark.Tuple, len(groups))
			for i := range groups {
				out[i] = text(&groups[i])
			}
			return out, nil
		}),
		"groupdict": starlark.NewBuiltin("groupdict", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			d := starlark.NewDict(0)
			for i, g := range m.Groups() {
				if _, err := strconv.Atoi(g.Name); err == nil {
					continue
				}
				_ = d.SetKey(starlark.String(g.Name), text(&m.Groups()[i]))
			}
			return d, nil
		}),
		"start": bound("start", false),
		"end":   bound("end", true),
	})
}

package utils

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/sandbox/host"
)

// ModuleName is the name plugins load this module by
const ModuleName = "url"

// BuildURL appends path, query parameters and fragment to base
func BuildURL(base, path string, params map[string]any, fragment string) (string, error) {
	parsedURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	if path != "" {
		if !strings.HasSuffix(parsedURL.Path, "/") && !strings.HasPrefix(path, "/") {
			parsedURL.Path += "/"
		}
		parsedURL.Path += strings.TrimPrefix(path, "/")
	}

	if len(params) > 0 {
		q := parsedURL.Query()
		addValues(q, params, true)
		parsedURL.RawQuery = q.Encode()
	}

	if fragment != "" {
		parsedURL.Fragment = strings.TrimPrefix(fragment, "#")
	}
	return parsedURL.String(), nil
}

// ParseURL splits a URL into its components. Passwords are never exposed.
func ParseURL(raw string) (map[string]any, error) {
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	result := map[string]any{
		"scheme":   parsedURL.Scheme,
		"host":     parsedURL.Host,
		"hostname": parsedURL.Hostname(),
		"port":     parsedURL.Port(),
		"path":     parsedURL.Path,
		"rawQuery": parsedURL.RawQuery,
		"query":    flatten(parsedURL.Query()),
		"fragment": parsedURL.Fragment,
		"raw":      raw,
	}
	if parsedURL.User != nil {
		result["username"] = parsedURL.User.Username()
		_, hasPassword := parsedURL.User.Password()
		result["hasPassword"] = hasPassword
	}
	return result, nil
}

// JoinPath joins segments onto base, which may be a full URL or a bare path
func JoinPath(base string, segments []string) (string, error) {
	parsedURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base: %w", err)
	}

	joined := parsedURL.Path
	for _, seg := range segments {
		seg = strings.Trim(seg, "/")
		if seg == "" {
			continue
		}
		if !strings.HasSuffix(joined, "/") {
			joined += "/"
		}
		joined += seg
	}

	if parsedURL.Scheme == "" {
		return joined, nil
	}
	parsedURL.Path = joined
	return parsedURL.String(), nil
}

// EncodeQuery encodes params as a query string with sorted keys
func EncodeQuery(params map[string]any) string {
	q := url.Values{}
	addValues(q, params, false)
	return q.Encode()
}

// DecodeQuery parses a query string, with or without the leading '?'
func DecodeQuery(query string) (map[string]any, error) {
	parsed, err := url.ParseQuery(strings.TrimPrefix(query, "?"))
	if err != nil {
		return nil, fmt.Errorf("invalid query string: %w", err)
	}
	return flatten(parsed), nil
}

// Resolve resolves ref against base the way a browser follows a link
func Resolve(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("invalid reference: %w", err)
	}
	return b.ResolveReference(r).String(), nil
}

// Domain returns the registrable domain of a URL or hostname,
// e.g. "pan.example.co.uk" becomes "example.co.uk"
func Domain(raw string) (string, error) {
	hostname := raw
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("invalid URL: %w", err)
		}
		hostname = u.Hostname()
	}
	return publicsuffix.EffectiveTLDPlusOne(strings.ToLower(hostname))
}

// addValues copies params into q; arrays become repeated keys
func addValues(q url.Values, params map[string]any, replace bool) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if arr, ok := params[k].([]any); ok {
			for _, item := range arr {
				q.Add(k, host.Stringify(item))
			}
			continue
		}
		if replace {
			q.Set(k, host.Stringify(params[k]))
		} else {
			q.Add(k, host.Stringify(params[k]))
		}
	}
}

// flatten collapses single-valued keys to strings and keeps lists otherwise
func flatten(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) == 1 {
			out[k] = v[0]
		} else {
			out[k] = host.Strings(v)
		}
	}
	return out
}

// Module exposes the URL helpers to plugins
func Module() host.Module {
	return host.Module{Name: ModuleName, Exports: host.Object{
		"encode": func(args ...any) (any, error) {
			s, err := host.Args(args).String(0, "value")
			if err != nil {
				return nil, err
			}
			return url.QueryEscape(s), nil
		},
		"decode": func(args ...any) (any, error) {
			s, err := host.Args(args).String(0, "value")
			if err != nil {
				return nil, err
			}
			return url.QueryUnescape(s)
		},
		"encodePath": func(args ...any) (any, error) {
			s, err := host.Args(args).String(0, "value")
			if err != nil {
				return nil, err
			}
			return url.PathEscape(s), nil
		},
		"parse": func(args ...any) (any, error) {
			s, err := host.Args(args).String(0, "url")
			if err != nil {
				return nil, err
			}
			return ParseURL(s)
		},
		"build": func(args ...any) (any, error) {
			a := host.Args(args)
			base, err := a.String(0, "base")
			if err != nil {
				return nil, err
			}
			params, err := a.Map(2, "params")
			if err != nil {
				return nil, err
			}
			return BuildURL(base, a.OptString(1, ""), params, a.OptString(3, ""))
		},
		"join": func(args ...any) (any, error) {
			a := host.Args(args)
			base, err := a.String(0, "base")
			if err != nil {
				return nil, err
			}
			segments := make([]string, 0, a.Len()-1)
			for i := 1; i < a.Len(); i++ {
				if arr, ok := a.Value(i).([]any); ok {
					for _, seg := range arr {
						segments = append(segments, host.Stringify(seg))
					}
					continue
				}
				segments = append(segments, host.Stringify(a.Value(i)))
			}
			return JoinPath(base, segments)
		},
		"encodeQuery": func(args ...any) (any, error) {
			params, err := host.Args(args).Map(0, "params")
			if err != nil {
				return nil, err
			}
			return EncodeQuery(params), nil
		},
		"decodeQuery": func(args ...any) (any, error) {
			s, err := host.Args(args).String(0, "query")
			if err != nil {
				return nil, err
			}
			return DecodeQuery(s)
		},
		"resolve": func(args ...any) (any, error) {
			a := host.Args(args)
			base, err := a.String(0, "base")
			if err != nil {
				return nil, err
			}
			ref, err := a.String(1, "ref")
			if err != nil {
				return nil, err
			}
			return Resolve(base, ref)
		},
		"domain": func(args ...any) (any, error) {
			s, err := host.Args(args).String(0, "url")
			if err != nil {
				return nil, err
			}
			return Domain(s)
		},
	}}
}

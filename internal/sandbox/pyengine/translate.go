package pyengine

import (
	"regexp"
	"strings"
)

var (
	importRe     = regexp.MustCompile(`^import\s+(.+?)\s*$`)
	fromImportRe = regexp.MustCompile(`^from\s+([\w.]+)\s+import\s+\(?(.+?)\)?\s*$`)
	raiseCallRe  = regexp.MustCompile(`^(\s*)raise\s+[\w.]+\((.*)\)\s*$`)
	raiseNameRe  = regexp.MustCompile(`^(\s*)raise\s+([\w.]+)\s*$`)
	isNotRe      = regexp.MustCompile(`\bis\s+not\b`)
	isRe         = regexp.MustCompile(`\bis\b`)
	codecRe      = regexp.MustCompile(`\.(?:en|de)code\(\s*(?:(?:"[\w-]*"|'[\w-]*')\s*)?\)`)
)

// Translate rewrites the Python constructs the dialect lacks into their
// Starlark forms, keeping every statement on its original line:
//
//	import json              -> load("json", "json")
//	import hashlib as h      -> load("hashlib", h="hashlib")
//	from json import loads   -> load("json", "loads")
//	raise Exception("x")     -> fail("x")
//	x is None / is not None  -> x == None / x != None
//	f"{a} and {b!r}"         -> "{} and {!r}".format(a, b)
//	s.encode("utf-8")        -> s
//
// Strings and comments are left alone.
func Translate(src string) string {
	lines := strings.Split(src, "\n")
	var triple string
	for i, line := range lines {
		if triple == "" {
			if out, ok := translateImport(line); ok {
				lines[i] = out
				continue
			}
			if m := raiseCallRe.FindStringSubmatch(line); m != nil {
				line = m[1] + "fail(" + m[2] + ")"
			} else if m := raiseNameRe.FindStringSubmatch(line); m != nil {
				line = m[1] + `fail("` + m[2] + `")`
			}
			line = codecRe.ReplaceAllString(line, "")
		}
		lines[i], triple = translateLine(line, triple)
	}
	return strings.Join(lines, "\n")
}

// translateImport handles top-level import statements only; Starlark
// allows load nowhere else
func translateImport(line string) (string, bool) {
	if m := fromImportRe.FindStringSubmatch(line); m != nil {
		var args []string
		for _, name := range strings.Split(m[2], ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if orig, alias, ok := splitAlias(name); ok {
				args = append(args, alias+"="+quote(orig))
			} else {
				args = append(args, quote(name))
			}
		}
		return "load(" + quote(m[1]) + ", " + strings.Join(args, ", ") + ")", true
	}

	if m := importRe.FindStringSubmatch(line); m != nil {
		var stmts []string
		for _, mod := range strings.Split(m[1], ",") {
			mod = strings.TrimSpace(mod)
			if mod == "" {
				continue
			}
			if orig, alias, ok := splitAlias(mod); ok {
				stmts = append(stmts, "load("+quote(orig)+", "+alias+"="+quote(rootName(orig))+")")
				continue
			}
			stmts = append(stmts, "load("+quote(mod)+", "+quote(rootName(mod))+")")
		}
		return strings.Join(stmts, "; "), true
	}
	return "", false
}

func splitAlias(s string) (orig, alias string, ok bool) {
	parts := strings.Fields(s)
	if len(parts) == 3 && parts[1] == "as" {
		return parts[0], parts[2], true
	}
	return "", "", false
}

// rootName is the binding a dotted import introduces
func rootName(mod string) string {
	if i := strings.IndexByte(mod, '.'); i >= 0 {
		return mod[:i]
	}
	return mod
}

func quote(s string) string { return `"` + s + `"` }

// translateLine rewrites code segments of one line. triple is the open
// triple-quote delimiter carried from the previous line, if any.
func translateLine(line, triple string) (string, string) {
	var out strings.Builder
	var code strings.Builder
	flush := func() {
		out.WriteString(rewriteCode(code.String()))
		code.Reset()
	}

	i := 0
	if triple != "" {
		end := strings.Index(line, triple)
		if end < 0 {
			return line, triple
		}
		out.WriteString(line[:end+3])
		i = end + 3
		triple = ""
	}

	for i < len(line) {
		ch := line[i]
		if ch == '#' {
			flush()
			out.WriteString(line[i:])
			return out.String(), ""
		}

		start, prefix, ok := stringStart(line, i)
		if !ok {
			code.WriteByte(ch)
			i++
			continue
		}
		flush()

		q := line[start]
		delim := string(q)
		if strings.HasPrefix(line[start:], strings.Repeat(string(q), 3)) {
			delim = strings.Repeat(string(q), 3)
		}
		end := stringEnd(line, start+len(delim), delim)
		if end < 0 {
			// unterminated: only triple quotes may continue on the next line
			out.WriteString(line[i:])
			if len(delim) == 3 {
				return out.String(), delim
			}
			return out.String(), ""
		}

		lit := line[i:end]
		if strings.ContainsAny(prefix, "fF") && len(delim) == 1 {
			lit = formatString(prefix, delim, line[start+1:end-1])
		}
		out.WriteString(lit)
		i = end
	}
	flush()
	return out.String(), ""
}

// stringStart reports whether a string literal, possibly prefixed, begins
// at i. start is the index of the opening quote.
func stringStart(line string, i int) (start int, prefix string, ok bool) {
	if i > 0 && isIdent(line[i-1]) {
		return 0, "", false
	}
	j := i
	for j < len(line) && j-i < 2 && strings.IndexByte("rRbBfFuU", line[j]) >= 0 {
		j++
	}
	if j < len(line) && (line[j] == '"' || line[j] == '\'') {
		return j, line[i:j], true
	}
	return 0, "", false
}

// stringEnd returns the index just past the closing delimiter, or -1
func stringEnd(line string, from int, delim string) int {
	for k := from; k < len(line); k++ {
		if line[k] == '\\' {
			k++
			continue
		}
		if strings.HasPrefix(line[k:], delim) {
			return k + len(delim)
		}
	}
	return -1
}

func isIdent(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

func rewriteCode(s string) string {
	if s == "" {
		return s
	}
	s = isNotRe.ReplaceAllString(s, "!=")
	return isRe.ReplaceAllString(s, "==")
}

// formatString turns the body of an f-string into a str.format call.
// Format specs after ':' are dropped; !r and !s conversions are kept.
func formatString(prefix, delim, body string) string {
	var tmpl strings.Builder
	var args []string

	for i := 0; i < len(body); i++ {
		ch := body[i]
		switch {
		case ch == '{' && i+1 < len(body) && body[i+1] == '{':
			tmpl.WriteString("{{")
			i++
		case ch == '}' && i+1 < len(body) && body[i+1] == '}':
			tmpl.WriteString("}}")
			i++
		case ch == '{':
			end := fieldEnd(body, i+1)
			if end < 0 {
				tmpl.WriteString(body[i:])
				i = len(body)
				continue
			}
			expr, conv := splitField(body[i+1 : end])
			args = append(args, rewriteCode(expr))
			tmpl.WriteString("{" + conv + "}")
			i = end
		default:
			tmpl.WriteByte(ch)
		}
	}

	p := strings.NewReplacer("f", "", "F", "").Replace(prefix)
	return p + delim + tmpl.String() + delim + ".format(" + strings.Join(args, ", ") + ")"
}

// fieldEnd finds the '}' closing a replacement field opened before from
func fieldEnd(body string, from int) int {
	depth := 0
	var quote byte
	for k := from; k < len(body); k++ {
		c := body[k]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']':
			depth--
		case c == '}':
			if depth == 0 {
				return k
			}
			depth--
		}
	}
	return -1
}

// splitField separates the expression from its conversion and spec
func splitField(field string) (expr, conv string) {
	depth := 0
	var quote byte
	for k := 0; k < len(field); k++ {
		c := field[k]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case depth == 0 && c == '!' && k+1 < len(field) && field[k+1] != '=':
			conv = "!" + field[k+1:k+2]
			return strings.TrimSpace(field[:k]), conv
		case depth == 0 && c == ':':
			return strings.TrimSpace(field[:k]), ""
		}
	}
	return strings.TrimSpace(field), ""
}

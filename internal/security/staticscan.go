package security

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/monitoring"
)

// DangerousImports are modules that grant process, socket or native access
var DangerousImports = []string{
	"subprocess", "socket", "ctypes", "_ctypes", "multiprocessing",
	"threading", "asyncio", "pty", "fcntl", "resource", "syslog", "signal",
	"shutil", "importlib", "pickle", "marshal",
}

// DangerousOSMembers are os members that spawn processes or mutate the filesystem.
// Benign members such as os.path and os.environ stay usable.
var DangerousOSMembers = []string{
	"system", "popen",
	"spawn", "spawnl", "spawnle", "spawnlp", "spawnlpe",
	"spawnv", "spawnve", "spawnvp", "spawnvpe",
	"exec", "execl", "execle", "execlp", "execlpe",
	"execv", "execve", "execvp", "execvpe",
	"fork", "forkpty", "kill", "killpg",
	"remove", "unlink", "rmdir", "removedirs", "mkdir", "makedirs",
	"rename", "renames", "replace", "truncate",
	"chmod", "chown", "lchown", "chroot",
	"mknod", "mkfifo", "link", "symlink",
}

// DangerousBuiltins evaluate code or expose interpreter internals
var DangerousBuiltins = []string{"exec", "eval", "compile", "__import__", "breakpoint", "globals"}

var (
	importRe     = regexp.MustCompile(`^\s*import\s+(.+)$`)
	fromImportRe = regexp.MustCompile(`^\s*from\s+([\w.]+)\s+import\s+(.+)$`)
	qualCallRe   = regexp.MustCompile(`\b([A-Za-z_]\w*)\s*\.\s*([A-Za-z_]\w*)\s*\(`)
	builtinRe    = regexp.MustCompile(`(?:^|[^.\w])(` + strings.Join(quoteAll(DangerousBuiltins), "|") + `)\s*\(`)
	openWriteRe  = regexp.MustCompile(`\bopen\s*\([^)]*['"][rbt]*[wax+][rwaxbt+]*['"]`)
	reflectionRe = regexp.MustCompile(`__(subclasses|globals|builtins|code|bases|mro|loader|spec)__`)
	modeLiteral  = regexp.MustCompile(`^[rwaxbt+]{1,3}$`)
)

// StaticScanPolicy scans source lexically and accumulates every violation
type StaticScanPolicy struct {
	imports   map[string]struct{}
	osMembers map[string]struct{}
	logger    *zap.Logger
	metrics   *monitoring.Metrics
}

// NewStaticScanPolicy creates a scanner with the default deny lists
func NewStaticScanPolicy(logger *zap.Logger) *StaticScanPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StaticScanPolicy{
		imports:   toSet(DangerousImports),
		osMembers: toSet(DangerousOSMembers),
		logger:    logger,
	}
}

// WithMetrics attaches a metrics collector
func (p *StaticScanPolicy) WithMetrics(m *monitoring.Metrics) *StaticScanPolicy {
	p.metrics = m
	return p
}

func (p *StaticScanPolicy) Name() string { return "static-scan" }

// Check scans d.Source and reports all findings in source order
func (p *StaticScanPolicy) Check(d *plugin.Descriptor) Result {
	violations := p.Scan(d.Source)
	for _, v := range violations {
		p.metrics.RecordSecurityViolation(p.Name(), v.RuleID)
	}
	if len(violations) > 0 {
		p.logger.Warn("Static scan rejected plugin",
			zap.String("type", d.Type),
			zap.Int("violations", len(violations)),
		)
	}
	return newResult(p.Name(), violations)
}

// Scan returns every violation found in source
func (p *StaticScanPolicy) Scan(source string) []plugin.Violation {
	if strings.TrimSpace(source) == "" {
		return []plugin.Violation{{RuleID: RuleEmptySource, Symbol: "", Message: "plugin source is empty"}}
	}

	lines := strings.Split(codeOnly(source), "\n")
	osNames := map[string]struct{}{"os": {}}
	var out []plugin.Violation

	// First pass: imports, and aliases of os for the call pass
	for i, line := range lines {
		n := i + 1
		if m := fromImportRe.FindStringSubmatch(line); m != nil {
			mod := m[1]
			if p.bannedModule(mod) {
				out = append(out, importViolation(mod, n))
				continue
			}
			if mod == "os" {
				for _, name := range splitImportList(m[2]) {
					if _, bad := p.osMembers[name.name]; bad {
						out = append(out, callViolation("os."+name.name, n))
					}
				}
			}
			continue
		}
		if m := importRe.FindStringSubmatch(line); m != nil {
			for _, name := range splitImportList(m[1]) {
				if p.bannedModule(name.name) {
					out = append(out, importViolation(name.name, n))
				}
				if name.name == "os" && name.alias != "" {
					osNames[name.alias] = struct{}{}
				}
			}
		}
	}

	// Second pass: calls, builtins, reflection and file writes
	for i, line := range lines {
		n := i + 1
		for _, m := range qualCallRe.FindAllStringSubmatch(line, -1) {
			if _, isOS := osNames[m[1]]; !isOS {
				continue
			}
			if p.bannedOSMember(m[2]) {
				out = append(out, callViolation("os."+m[2], n))
			}
		}
		for _, m := range builtinRe.FindAllStringSubmatch(line, -1) {
			out = append(out, plugin.Violation{
				RuleID:  RuleBannedBuiltin,
				Symbol:  m[1],
				Message: fmt.Sprintf("builtin %s() evaluates code or exposes interpreter internals", m[1]),
				Line:    n,
			})
		}
		for _, m := range reflectionRe.FindAllString(line, -1) {
			out = append(out, plugin.Violation{
				RuleID:  RuleReflection,
				Symbol:  m,
				Message: "interpreter internals are not accessible",
				Line:    n,
			})
		}
		if loc := openWriteRe.FindString(line); loc != "" {
			out = append(out, plugin.Violation{
				RuleID:  RuleFileWrite,
				Symbol:  "open",
				Message: "opening files for writing is not allowed",
				Line:    n,
			})
		}
	}

	sortByLine(out)
	return out
}

func (p *StaticScanPolicy) bannedModule(mod string) bool {
	root, _, _ := strings.Cut(mod, ".")
	_, ok := p.imports[root]
	return ok
}

func (p *StaticScanPolicy) bannedOSMember(name string) bool {
	if _, ok := p.osMembers[name]; ok {
		return true
	}
	return strings.HasPrefix(name, "spawn") || strings.HasPrefix(name, "exec")
}

func importViolation(mod string, line int) plugin.Violation {
	return plugin.Violation{
		RuleID:  RuleBannedImport,
		Symbol:  mod,
		Message: fmt.Sprintf("importing %s is not allowed", mod),
		Line:    line,
	}
}

func callViolation(symbol string, line int) plugin.Violation {
	return plugin.Violation{
		RuleID:  RuleBannedCall,
		Symbol:  symbol,
		Message: fmt.Sprintf("%s() spawns processes or mutates the filesystem", symbol),
		Line:    line,
	}
}

type importName struct {
	name  string
	alias string
}

// splitImportList parses "a.b as c, d" and "(x, y as z)"
func splitImportList(s string) []importName {
	s = strings.Trim(strings.TrimSpace(s), "()")
	var out []importName
	for _, part := range strings.Split(s, ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		n := importName{name: fields[0]}
		if len(fields) == 3 && fields[1] == "as" {
			n.alias = fields[2]
		}
		out = append(out, n)
	}
	return out
}

// codeOnly blanks comments and string bodies, keeping line numbers stable.
// Short literals made only of file mode letters survive so open() modes stay
// visible to the scan.
func codeOnly(src string) string {
	var b strings.Builder
	b.Grow(len(src))

	const (
		stCode = iota
		stString
		stTriple
	)
	state := stCode
	var (
		quote byte
		lit   strings.Builder
	)

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch state {
		case stCode:
			switch {
			case c == '#':
				for i < len(src) && src[i] != '\n' {
					i++
				}
				if i < len(src) {
					b.WriteByte('\n')
				}
			case (c == '"' || c == '\'') && strings.HasPrefix(src[i:], strings.Repeat(string(c), 3)):
				state, quote = stTriple, c
				i += 2
				b.WriteString(`""`)
			case c == '"' || c == '\'':
				state, quote = stString, c
				lit.Reset()
			default:
				b.WriteByte(c)
			}
		case stString:
			switch {
			case c == '\\' && i+1 < len(src) && src[i+1] != '\n':
				i++
			case c == quote || c == '\n':
				b.WriteByte(quote)
				if modeLiteral.MatchString(lit.String()) {
					b.WriteString(lit.String())
				}
				b.WriteByte(quote)
				if c == '\n' {
					b.WriteByte('\n')
				}
				state = stCode
			default:
				lit.WriteByte(c)
			}
		case stTriple:
			switch {
			case c == '\n':
				b.WriteByte('\n')
			case c == '\\' && i+1 < len(src) && src[i+1] != '\n':
				i++
			case c == quote && strings.HasPrefix(src[i:], strings.Repeat(string(quote), 3)):
				state = stCode
				i += 2
			}
		}
	}
	return b.String()
}

func sortByLine(vs []plugin.Violation) {
	sort.SliceStable(vs, func(i, j int) bool { return vs[i].Line < vs[j].Line })
}

func toSet(items []string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, s := range items {
		m[s] = struct{}{}
	}
	return m
}

func quoteAll(items []string) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = regexp.QuoteMeta(s)
	}
	return out
}

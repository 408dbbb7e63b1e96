package security

import (
	"sort"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/infrastructure/monitoring"
)

// DefaultAllowlist is the set of host modules plugins may require
var DefaultAllowlist = []string{"crypto", "html", "url"}

// deniedRules names the rule broken by well-known dangerous modules.
// Anything absent here and from the allowlist is denied as not-allowlisted.
var deniedRules = map[string]string{
	"child_process":  RuleProcessExec,
	"process":        RuleProcessExec,
	"cluster":        RuleProcessExec,
	"worker_threads": RuleProcessExec,
	"fs":             RuleFilesystem,
	"fs/promises":    RuleFilesystem,
	"os":             RuleFilesystem,
	"net":            RuleRawSocket,
	"dgram":          RuleRawSocket,
	"tls":            RuleRawSocket,
	"dns":            RuleRawSocket,
	"http":           RuleRawSocket,
	"https":          RuleRawSocket,
	"http2":          RuleRawSocket,
	"vm":             RuleDynamicEval,
	"module":         RuleReflection,
	"v8":             RuleReflection,
	"inspector":      RuleReflection,
}

// ChokePointPolicy denies every host symbol not on its allowlist
type ChokePointPolicy struct {
	allow   map[string]struct{}
	logger  *zap.Logger
	metrics *monitoring.Metrics
	denied  atomic.Int64
}

// NewChokePointPolicy creates a policy; a nil allowlist means DefaultAllowlist
func NewChokePointPolicy(allowlist []string, logger *zap.Logger) *ChokePointPolicy {
	if allowlist == nil {
		allowlist = DefaultAllowlist
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	allow := make(map[string]struct{}, len(allowlist))
	for _, s := range allowlist {
		allow[normalizeSymbol(s)] = struct{}{}
	}
	return &ChokePointPolicy{allow: allow, logger: logger}
}

// WithMetrics attaches a metrics collector
func (p *ChokePointPolicy) WithMetrics(m *monitoring.Metrics) *ChokePointPolicy {
	p.metrics = m
	return p
}

func (p *ChokePointPolicy) Name() string { return "choke-point" }

// Check passes any non-empty source; enforcement happens in Authorize
func (p *ChokePointPolicy) Check(d *plugin.Descriptor) Result {
	if strings.TrimSpace(d.Source) == "" {
		return newResult(p.Name(), []plugin.Violation{{
			RuleID:  RuleEmptySource,
			Symbol:  d.Type,
			Message: "plugin source is empty",
		}})
	}
	return newResult(p.Name(), nil)
}

// Allowed reports whether symbol is on the allowlist
func (p *ChokePointPolicy) Allowed(symbol string) bool {
	_, ok := p.allow[normalizeSymbol(symbol)]
	return ok
}

// Allowlist returns the allowed symbols in sorted order
func (p *ChokePointPolicy) Allowlist() []string {
	out := make([]string, 0, len(p.allow))
	for s := range p.allow {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Authorize judges one host symbol access
func (p *ChokePointPolicy) Authorize(symbol string) error {
	if p.Allowed(symbol) {
		return nil
	}

	name := normalizeSymbol(symbol)
	rule, ok := deniedRules[name]
	if !ok {
		rule = RuleNotAllowed
	}
	v := plugin.Violation{
		RuleID:  rule,
		Symbol:  symbol,
		Message: "host module is not on the allowlist",
	}

	p.denied.Add(1)
	p.metrics.RecordSecurityViolation(p.Name(), rule)
	p.logger.Warn("Denied host symbol access",
		zap.String("symbol", symbol),
		zap.String("rule", rule),
	)
	return plugin.SecurityError([]plugin.Violation{v})
}

// Denied returns the number of denials since creation
func (p *ChokePointPolicy) Denied() int64 {
	return p.denied.Load()
}

func normalizeSymbol(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimPrefix(s, "node:")
}

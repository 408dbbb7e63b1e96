package security

import (
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
)

// Rule identifiers shared by both strategies
const (
	RuleProcessExec   = "process-exec"
	RuleFilesystem    = "filesystem"
	RuleRawSocket     = "raw-socket"
	RuleReflection    = "reflection"
	RuleDynamicEval   = "dynamic-eval"
	RuleNotAllowed    = "not-allowlisted"
	RuleBannedImport  = "banned-import"
	RuleBannedCall    = "banned-call"
	RuleBannedBuiltin = "banned-builtin"
	RuleFileWrite     = "file-write"
	RuleUnsupported   = "unsupported-language"
	RuleEmptySource   = "empty-source"
)

// Policy vets a descriptor once, at registration
type Policy interface {
	Name() string
	Check(d *plugin.Descriptor) Result
}

// Authorizer is implemented by policies that judge symbol access at runtime
type Authorizer interface {
	Authorize(symbol string) error
}

// Result is the cached outcome of a policy check
type Result struct {
	Passed     bool               `json:"passed"`
	Policy     string             `json:"policy"`
	Violations []plugin.Violation `json:"violations,omitempty"`
}

// Err returns a security_violation error listing every finding, or nil
func (r Result) Err() error {
	if r.Passed {
		return nil
	}
	return plugin.SecurityError(r.Violations)
}

func newResult(policy string, violations []plugin.Violation) Result {
	return Result{
		Passed:     len(violations) == 0,
		Policy:     policy,
		Violations: violations,
	}
}

// Engine routes each descriptor to the policy for its language
type Engine struct {
	policies map[plugin.Language]Policy
}

// NewEngine creates an engine from an explicit language to policy table
func NewEngine(policies map[plugin.Language]Policy) *Engine {
	cp := make(map[plugin.Language]Policy, len(policies))
	for k, v := range policies {
		cp[k] = v
	}
	return &Engine{policies: cp}
}

// Check vets d with the policy registered for its language
func (e *Engine) Check(d *plugin.Descriptor) Result {
	p, ok := e.policies[d.Language]
	if !ok {
		return newResult("none", []plugin.Violation{{
			RuleID:  RuleUnsupported,
			Symbol:  string(d.Language),
			Message: "no security policy for language",
		}})
	}
	return p.Check(d)
}

// Policy returns the policy for lang
func (e *Engine) Policy(lang plugin.Language) (Policy, bool) {
	p, ok := e.policies[lang]
	return p, ok
}

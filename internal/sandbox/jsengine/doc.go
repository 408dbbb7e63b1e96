// Package jsengine runs JavaScript plugins on the goja interpreter.
//
// Each context owns one goja runtime. Dangerous globals are removed,
// dynamic code evaluation is disabled and the built-in prototypes are
// frozen before any plugin source runs. Host modules are reachable only
// through require, which consults the execution's security policy.
package jsengine

// Package pyengine runs Python-dialect plugins on Starlark.
//
// Plugin sources are translated line for line into Starlark (imports
// become load statements, f-strings become str.format calls, raise
// becomes fail) and compiled once per distinct source. The interpreter
// has no filesystem, socket or os access; load serves a fixed module
// table and host modules resolved through the execution's Require hook.
// Host methods are exposed under snake_case names.
package pyengine

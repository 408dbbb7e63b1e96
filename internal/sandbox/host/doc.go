// Package host defines the language-neutral values the sandbox exposes
// to plugin code: functions, method sets and loadable modules.
package host

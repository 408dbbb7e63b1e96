// Package registry holds the plugins the service can run.
//
// Every plugin is parsed by the manifest parser and vetted by the security
// engine exactly once, when it is registered. The verdict is stored with
// the entry and never recomputed.
//
// Components:
//   - Registry: register, replace, unregister, lookup and URL matching
//   - Loader: registers the .js and .py files found under a directory
//
// Example Usage:
//
//	reg := registry.NewRegistry(policies, registry.Options{}, logger, metrics)
//	report, err := registry.NewLoader(reg, "./plugins", logger).Load()
//	entry, input, ok := reg.Match(shareURL, "", nil)
package registry

// Package main is the entry point for the parser plugin sandbox server.
//
// The server loads plugins from a directory, vets each one against the
// security policy for its language and serves them over HTTP.
//
// Architecture:
//
//	Client → gin API → Registry (manifest + policy)
//	                 → Coordinator → Context Pool (goja | Starlark)
//	                                → Network Bridge (SSRF guard) → share sites
//
// The server provides:
//   - REST API for plugin registration, resolution and playground runs
//   - WebSocket playground streaming plugin logs live
//   - Prometheus metrics and pool statistics
//   - Per-IP rate limiting
//
// Configuration:
//   - Defaults, then an optional YAML or TOML file, then environment
//     variables
//   - CLI flags override all three
//
// Usage:
//
//	./server -config sandbox.yaml
//	PLUGIN_DIR=./plugins LOG_DEV=true ./server -port 8080
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main

// Package plugin defines the parser plugin data model.
//
// A plugin is a short script that resolves one family of share links into a
// direct download link. This package holds the immutable Descriptor produced
// at registration, the request and result types exchanged with the execution
// coordinator, and the error taxonomy shared by every sandbox layer.
//
// Error Kinds:
//   - manifest_error: header block missing or malformed (registration time)
//   - security_violation: banned symbol or pattern
//   - network_policy_violation: blocked outbound request (per call)
//   - execution_timeout: coordinator forced cancellation
//   - plugin_runtime_error: uncaught error raised by plugin code
//   - result_shape_error: capability returned the wrong value shape
package plugin

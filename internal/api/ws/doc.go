// Package ws provides the streaming plugin playground.
//
// A client submits plugin source over a WebSocket and receives each log
// entry as the plugin emits it, followed by the structured result. Source
// is vetted with the registry's parser and policies but never registered,
// and always runs in a freshly created context.
//
// Message Types (Client → Server):
//   - run: source, url, capability, optional password, extra, timeout_ms
//   - ping: Keep-alive ping
//
// Message Types (Server → Client):
//   - system: connection established
//   - rejected: manifest or security failure, nothing was run
//   - started: execution accepted
//   - log: one captured log entry
//   - result: the execution result
//   - error: malformed request
//
// Example Usage:
//
//	handler := ws.NewHandler(registry, coordinator, metrics, logger)
//	router.GET("/v2/playground/ws", handler.HandleConnection)
package ws

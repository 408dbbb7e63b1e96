/*
Package tracing provides lightweight request tracing for the API.

Each HTTP request gets a span whose trace id is taken from the X-Trace-ID
header or generated. Handlers tag the active span with the plugin and
execution it ran, so one log line ties an API call to its execution id.

# Usage

	tracer := tracing.New("sandbox", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	// inside a handler
	tracing.Tag(c.Request.Context(), "execution.id", result.ID)

# Trace Format

Traces use standard HTTP headers for propagation:
  - X-Trace-ID: Unique identifier for entire request flow
  - X-Span-ID: Identifier for current operation

Finished spans are logged at debug level, spans slower than
DefaultSlowThreshold at warn and failed spans at error.
*/
package tracing

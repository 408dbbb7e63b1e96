/*
Package client is the network bridge plugins use to reach share pages.

A Bridge holds what all executions share: the SSRF guard, per-host
circuit breakers, a global rate limiter and a tuned base transport.
Each execution gets its own Client with private default headers,
cookie jar, timeout and optional proxy.

Every request is checked by the guard before it is sent, on each
redirect hop and again at dial time. Responses are read whole, capped
at MaxBodyBytes, and decoded on demand: gzip, deflate, br and zstd are
reversed, unknown encodings fail, and text is converted to UTF-8.

	bridge := client.New(client.Options{Timeout: 30 * time.Second}, nil, logger, metrics)
	c, _ := bridge.NewClient(nil)
	defer c.Close()

	resp, err := c.Get(ctx, "https://share.example/s/abc")
	text, err := resp.Text()
*/
package client

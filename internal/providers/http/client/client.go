package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
	"github.com/GriffinCanCode/ParserSandbox/backend/internal/sandbox/host"
	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

// Client is the HTTP client handed to one plugin execution. Default
// headers and timeout are per client; cookies persist across its calls.
type Client struct {
	bridge    *Bridge
	resty     *resty.Client
	transport *http.Transport

	mu      sync.RWMutex
	headers http.Header
}

type noRedirectKey struct{}

// NewClient creates a client. A nil proxy falls back to the bridge default.
func (b *Bridge) NewClient(proxy *Proxy) (*Client, error) {
	transport := b.base.Clone()

	if proxy == nil && b.opts.Proxy != "" {
		p, err := ParseProxy(b.opts.Proxy)
		if err != nil {
			return nil, err
		}
		proxy = p
	}
	if proxy != nil {
		u, err := proxy.URL()
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(u)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	c := &Client{
		bridge:    b,
		transport: transport,
		headers:   defaultHeaders(b.opts.UserAgent),
	}
	c.resty = resty.New().
		SetTransport(&retryablehttp.RoundTripper{Client: b.retryClient(transport)}).
		SetTimeout(b.opts.Timeout).
		SetCookieJar(jar).
		SetLogger(b.logger.Named("resty").Sugar()).
		SetRedirectPolicy(resty.RedirectPolicyFunc(c.checkRedirect))
	return c, nil
}

func defaultHeaders(userAgent string) http.Header {
	h := make(http.Header)
	h.Set("User-Agent", userAgent)
	h.Set("Accept-Encoding", acceptEncoding)
	h.Set("Accept-Language", DefaultLanguage)
	return h
}

// Close releases pooled connections
func (c *Client) Close() {
	c.transport.CloseIdleConnections()
}

// SetHeader sets a default header
func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers.Set(key, value)
}

// SetHeaders sets several default headers
func (c *Client) SetHeaders(headers map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range headers {
		c.headers.Set(k, v)
	}
}

// RemoveHeader removes a default header
func (c *Client) RemoveHeader(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers.Del(key)
}

// ClearHeaders drops custom headers and restores the defaults
func (c *Client) ClearHeaders() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers = defaultHeaders(c.bridge.opts.UserAgent)
}

// Headers returns a copy of the default headers
func (c *Client) Headers() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	headers := make(map[string]string, len(c.headers))
	for k, v := range c.headers {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	return headers
}

// SetTimeout configures the per-request timeout; non-positive values are ignored
func (c *Client) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resty.SetTimeout(d)
}

// Get fetches url following redirects
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.do(ctx, http.MethodGet, url, nil)
}

// GetWithRedirect is Get; kept for plugins written against that name
func (c *Client) GetWithRedirect(ctx context.Context, url string) (*Response, error) {
	return c.Get(ctx, url)
}

// GetNoRedirect fetches url and returns the first response, so plugins
// can read a Location header
func (c *Client) GetNoRedirect(ctx context.Context, url string) (*Response, error) {
	return c.do(context.WithValue(ctx, noRedirectKey{}, true), http.MethodGet, url, nil)
}

// Post sends data: strings and bytes as-is, maps as a form, anything else as JSON
func (c *Client) Post(ctx context.Context, url string, data any) (*Response, error) {
	return c.do(ctx, http.MethodPost, url, bodyOf(data))
}

// Put sends data with the same encoding rules as Post
func (c *Client) Put(ctx context.Context, url string, data any) (*Response, error) {
	return c.do(ctx, http.MethodPut, url, bodyOf(data))
}

// Patch sends data with the same encoding rules as Post
func (c *Client) Patch(ctx context.Context, url string, data any) (*Response, error) {
	return c.do(ctx, http.MethodPatch, url, bodyOf(data))
}

// Delete sends a DELETE request
func (c *Client) Delete(ctx context.Context, url string) (*Response, error) {
	return c.do(ctx, http.MethodDelete, url, nil)
}

// PostJSON sends data encoded as JSON
func (c *Client) PostJSON(ctx context.Context, url string, data any) (*Response, error) {
	return c.do(ctx, http.MethodPost, url, jsonBody(data))
}

// PostForm sends an urlencoded form
func (c *Client) PostForm(ctx context.Context, url string, form map[string]string) (*Response, error) {
	return c.do(ctx, http.MethodPost, url, func(r *resty.Request) error {
		r.SetFormData(form)
		return nil
	})
}

// PostMultipart sends a multipart form; []byte values become file parts
func (c *Client) PostMultipart(ctx context.Context, url string, fields map[string]any) (*Response, error) {
	return c.do(ctx, http.MethodPost, url, func(r *resty.Request) error {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			switch v := fields[k].(type) {
			case []byte:
				r.SetFileReader(k, k, bytes.NewReader(v))
			case nil:
			default:
				r.SetMultipartFormData(map[string]string{k: host.Stringify(v)})
			}
		}
		return nil
	})
}

type prepareFunc func(*resty.Request) error

func bodyOf(data any) prepareFunc {
	switch v := data.(type) {
	case nil:
		return nil
	case string:
		return func(r *resty.Request) error {
			r.SetBody(v)
			return nil
		}
	case []byte:
		return func(r *resty.Request) error {
			r.SetBody(v)
			return nil
		}
	case map[string]string:
		return func(r *resty.Request) error {
			r.SetFormData(v)
			return nil
		}
	case map[string]any:
		return func(r *resty.Request) error {
			form := make(map[string]string, len(v))
			for k, val := range v {
				form[k] = host.Stringify(val)
			}
			r.SetFormData(form)
			return nil
		}
	default:
		return jsonBody(data)
	}
}

func jsonBody(data any) prepareFunc {
	return func(r *resty.Request) error {
		body, err := sonic.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to encode JSON body: %w", err)
		}
		r.SetHeader("Content-Type", "application/json; charset=utf-8")
		r.SetBody(body)
		return nil
	}
}

func (c *Client) checkRedirect(req *http.Request, via []*http.Request) error {
	if skip, _ := req.Context().Value(noRedirectKey{}).(bool); skip {
		return http.ErrUseLastResponse
	}
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return c.bridge.guard.CheckURL(req.Context(), req.URL)
}

func (c *Client) do(ctx context.Context, method, rawURL string, prepare prepareFunc) (*Response, error) {
	b := c.bridge
	start := time.Now()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if err := b.guard.CheckURL(ctx, u); err != nil {
		b.metrics.RecordBridgeRequest(method, "blocked", time.Since(start))
		return nil, err
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	done, err := b.breakers.Get(u.Hostname()).Allow()
	if err != nil {
		b.metrics.RecordBridgeRequest(method, "circuit_open", time.Since(start))
		return nil, fmt.Errorf("upstream %s unavailable: %w", u.Hostname(), err)
	}

	c.mu.RLock()
	req := c.resty.R().SetContext(ctx).SetDoNotParseResponse(true)
	req.Header = c.headers.Clone()
	c.mu.RUnlock()

	if prepare != nil {
		if err := prepare(req); err != nil {
			done(true)
			return nil, err
		}
	}

	resp, err := req.Execute(method, u.String())
	if err != nil {
		done(!upstreamFailure(ctx, err))
		outcome := "error"
		if plugin.IsKind(err, plugin.KindNetworkPolicy) {
			outcome = "blocked"
			err = policyError(err)
		}
		b.metrics.RecordBridgeRequest(method, outcome, time.Since(start))
		b.logger.Debug("Plugin request failed",
			zap.String("method", method),
			zap.String("host", u.Hostname()),
			zap.Error(err))
		return nil, err
	}

	out, err := c.read(resp)
	done(!upstreamFailure(ctx, err) && resp.StatusCode() < http.StatusInternalServerError)
	if err != nil {
		b.metrics.RecordBridgeRequest(method, "error", time.Since(start))
		return nil, err
	}
	b.metrics.RecordBridgeRequest(method, statusClass(out.StatusCode()), time.Since(start))
	return out, nil
}

// policyError unwraps transport layers so plugins see the rejection itself
func policyError(err error) error {
	var pe *plugin.Error
	if errors.As(err, &pe) {
		return pe
	}
	return err
}

func (c *Client) read(resp *resty.Response) (*Response, error) {
	raw := resp.RawBody()
	if raw == nil {
		return newResponse(resp.RawResponse, nil, c.bridge.opts.MaxBodyBytes), nil
	}
	defer raw.Close()

	limit := c.bridge.opts.MaxBodyBytes
	body, err := io.ReadAll(io.LimitReader(raw, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrBodyTooLarge, limit)
	}
	return newResponse(resp.RawResponse, body, limit), nil
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

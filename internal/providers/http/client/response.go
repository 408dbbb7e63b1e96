package client

import (
	"bytes"
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
)

// Response is a fully read upstream response
type Response struct {
	status int
	header http.Header
	url    string
	raw    []byte
	limit  int64

	once    sync.Once
	content []byte
	err     error
}

func newResponse(resp *http.Response, body []byte, limit int64) *Response {
	r := &Response{raw: body, limit: limit}
	if resp != nil {
		r.status = resp.StatusCode
		r.header = resp.Header
		if resp.Request != nil && resp.Request.URL != nil {
			r.url = resp.Request.URL.String()
		}
	}
	if r.header == nil {
		r.header = make(http.Header)
	}
	return r
}

// StatusCode returns the HTTP status
func (r *Response) StatusCode() int { return r.status }

// OK reports a 2xx status
func (r *Response) OK() bool { return r.status >= 200 && r.status < 300 }

// URL returns the final URL after redirects
func (r *Response) URL() string { return r.url }

// Header returns the first value of a response header
func (r *Response) Header(name string) string { return r.header.Get(name) }

// Headers returns the first value of every response header
func (r *Response) Headers() map[string]string {
	out := make(map[string]string, len(r.header))
	for k, v := range r.header {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// Raw returns the body exactly as received
func (r *Response) Raw() []byte { return r.raw }

// Bytes returns the body with its content encoding reversed
func (r *Response) Bytes() ([]byte, error) {
	r.once.Do(func() {
		r.content, r.err = DecodeContent(r.header.Get("Content-Encoding"), r.raw, r.limit)
	})
	return r.content, r.err
}

// ContentLength returns the decoded body size
func (r *Response) ContentLength() int64 {
	b, err := r.Bytes()
	if err != nil {
		return int64(len(r.raw))
	}
	return int64(len(b))
}

// Text returns the decoded body converted to UTF-8
func (r *Response) Text() (string, error) {
	b, err := r.Bytes()
	if err != nil {
		return "", err
	}
	return DecodeText(b, r.header.Get("Content-Type"))
}

// JSON decodes the body. An empty body yields nil.
func (r *Response) JSON() (any, error) {
	text, err := r.Text()
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace([]byte(text))) == 0 {
		return nil, nil
	}
	var v any
	if err := sonic.UnmarshalString(text, &v); err != nil {
		return nil, err
	}
	return v, nil
}

package client

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

var (
	ErrUnsupportedEncoding = errors.New("unsupported content encoding")
	ErrBodyTooLarge        = errors.New("response body too large")
)

// DecodeContent reverses a Content-Encoding header value. Stacked
// encodings are undone last-applied first. Output is capped at limit.
func DecodeContent(encoding string, body []byte, limit int64) ([]byte, error) {
	var codings []string
	for _, c := range strings.Split(encoding, ",") {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" && c != "identity" {
			codings = append(codings, c)
		}
	}

	for i := len(codings) - 1; i >= 0; i-- {
		r, err := decoder(codings[i], body)
		if err != nil {
			return nil, err
		}
		out, err := readCapped(r, limit)
		r.Close()
		if err != nil {
			return nil, fmt.Errorf("%s decode failed: %w", codings[i], err)
		}
		body = out
	}
	return body, nil
}

func decoder(coding string, body []byte) (io.ReadCloser, error) {
	switch coding {
	case "gzip", "x-gzip":
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip decode failed: %w", err)
		}
		return r, nil
	case "deflate":
		// Servers disagree on whether deflate carries a zlib header
		if r, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
			return r, nil
		}
		return flate.NewReader(bytes.NewReader(body)), nil
	case "br":
		return io.NopCloser(brotli.NewReader(bytes.NewReader(body))), nil
	case "zstd":
		d, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("zstd decode failed: %w", err)
		}
		return d.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, coding)
	}
}

func readCapped(r io.Reader, limit int64) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, fmt.Errorf("%w: decoded size exceeds %d bytes", ErrBodyTooLarge, limit)
	}
	return out, nil
}

// DecodeText converts body to UTF-8. The charset comes from the
// Content-Type header, then an HTML meta tag, then statistical detection.
func DecodeText(body []byte, contentType string) (string, error) {
	label := charsetParam(contentType)
	if label == "" {
		if utf8.Valid(body) {
			return string(body), nil
		}
		if _, name, certain := charset.DetermineEncoding(body, contentType); certain {
			label = name
		} else if res, err := chardet.NewTextDetector().DetectBest(body); err == nil {
			label = res.Charset
		}
	}
	if label == "" || isUTF8(label) {
		return string(body), nil
	}

	r, err := charset.NewReaderLabel(label, bytes.NewReader(body))
	if err != nil {
		// unknown label: hand back the bytes rather than fail the call
		return string(body), nil
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("charset %s decode failed: %w", label, err)
	}
	return string(out), nil
}

func charsetParam(contentType string) string {
	if contentType == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(params["charset"])
}

func isUTF8(label string) bool {
	l := strings.ToLower(label)
	return l == "utf-8" || l == "utf8"
}

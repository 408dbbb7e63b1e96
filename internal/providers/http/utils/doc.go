// Package utils implements the url host module: escaping, parsing,
// building and joining URLs, query string codecs, link resolution and
// registrable-domain lookup.
package utils

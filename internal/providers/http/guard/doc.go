/*
Package guard keeps plugin HTTP traffic away from internal networks.

Check runs before every bridge request and on every redirect hop. It
rejects non-http(s) schemes, well-known local and metadata hostnames,
and any literal or resolved address that is loopback, private,
link-local, unspecified, shared (100.64/10), multicast or a cloud
metadata endpoint. A DNS failure is not a rejection.

DialContext repeats the address check at connect time and dials the
vetted IP directly.
*/
package guard

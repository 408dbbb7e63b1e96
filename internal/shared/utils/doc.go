// Package utils holds small helpers shared by the registry and the API:
// plugin source digests and limits on caller-supplied extra input.
package utils

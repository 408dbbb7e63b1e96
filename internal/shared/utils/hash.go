package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DigestPrefix tags source digests with their algorithm
const DigestPrefix = "sha256:"

// SourceDigest returns a stable digest of plugin source. Line endings
// are normalized so a file checked out on Windows hashes the same.
func SourceDigest(source string) string {
	normalized := strings.ReplaceAll(source, "\r\n", "\n")
	sum := sha256.Sum256([]byte(normalized))
	return DigestPrefix + hex.EncodeToString(sum[:])
}

// ShortDigest returns the first 12 hex characters of a digest for display
func ShortDigest(digest string) string {
	hexPart := strings.TrimPrefix(digest, DigestPrefix)
	if len(hexPart) < 12 {
		return hexPart
	}
	return hexPart[:12]
}

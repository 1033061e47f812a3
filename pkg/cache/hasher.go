package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// QuickHash returns a full SHA-256 digest of data, hex-encoded.
func QuickHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// ShortHash returns a 16-character SHA-256 prefix, used where a shorter
// cache key fingerprint is good enough than the full digest.
func ShortHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}

// SourceKey builds the cache key the catalogue's read-through cache stores
// a resolved source under, keyed by credential fingerprint.
func SourceKey(fingerprint string) string {
	return fmt.Sprintf("source:%s", ShortHash([]byte(fingerprint)))
}

// SourceByPortKey builds the cache key for source lookups keyed by the
// UDP port a syslog listener is bound to.
func SourceByPortKey(port int) string {
	return fmt.Sprintf("source:port:%d", port)
}

// Package hash provides lightweight, non-cryptographic fingerprints used for
// diagnostics. Fingerprints produced here are never part of an on-disk format;
// they exist purely so a caller logging a corruption event has a stable short
// identifier for "what got skipped" without the engine retaining the bytes.
package hash

import "github.com/cespare/xxhash/v2"

// ID computes the xxHash64 of the given string.
func ID(data string) uint64 {
	return xxhash.Sum64String(data)
}

// Fingerprint computes the xxHash64 of an arbitrary byte range.
func Fingerprint(data []byte) uint64 {
	return xxhash.Sum64(data)
}

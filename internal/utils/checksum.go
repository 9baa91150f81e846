package utils

import "github.com/cespare/xxhash/v2"

// Checksum fingerprints an opaque payload so corruption between enqueue and
// apply is detectable. Not a cryptographic hash.
func Checksum(data []byte) uint64 {
	return xxhash.Sum64(data)
}

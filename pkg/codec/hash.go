// Package codec implements the storage pipeline applied to configuration
// payloads: content hashing, optional compression, and authenticated
// encryption under a per-author key.
package codec

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// HashSize is the size in bytes of a content hash.
const HashSize = 32

// HashContent returns the hex-encoded BLAKE3-256 digest of plaintext.
// Hashes are always computed over the uncompressed, unencrypted bytes so
// they stay comparable across compression settings and key changes.
func HashContent(plaintext []byte) string {
	sum := blake3.Sum256(plaintext)
	return hex.EncodeToString(sum[:])
}

// VerifyContent reports whether plaintext hashes to want.
func VerifyContent(plaintext []byte, want string) bool {
	return HashContent(plaintext) == want
}

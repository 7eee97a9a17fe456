package codec

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size in bytes of a derived content key.
const KeySize = chacha20poly1305.KeySize

// BlobVersion is the format byte prepended to every sealed blob. It is
// authenticated as part of the AAD.
const BlobVersion byte = 0x01

// BlobOverhead is the per-blob overhead: version byte, XChaCha20 nonce
// and Poly1305 tag.
const BlobOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// DefaultKeySalt is the application salt mixed into every content key.
// Changing it makes all previously stored versions undecryptable.
const DefaultKeySalt = "cfgvault.configuration.v1"

var hkdfInfoContent = []byte("cfgvault.content-key.v1")

// DeriveKey derives the content key for an author identity. The same
// author and salt always produce the same key, which is why a stored
// version's author must never change after creation.
func DeriveKey(author, salt string) ([]byte, error) {
	reader := hkdf.New(sha256.New, []byte(author), []byte(salt), hkdfInfoContent)
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext with XChaCha20-Poly1305. The result has the form
//
//	[version: 1 byte] [nonce: 24 bytes] [ciphertext+tag]
//
// aad binds the ciphertext to its owner; Open must be given the same aad.
func Seal(plaintext, key, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	out := make([]byte, 1+len(nonce), 1+len(nonce)+len(plaintext)+aead.Overhead())
	out[0] = BlobVersion
	copy(out[1:], nonce[:])
	return aead.Seal(out, nonce[:], plaintext, buildAAD(BlobVersion, aad)), nil
}

// Open decrypts a blob produced by Seal.
func Open(blob, key, aad []byte) ([]byte, error) {
	if len(blob) < BlobOverhead {
		return nil, fmt.Errorf("encrypted blob is %d bytes, minimum is %d", len(blob), BlobOverhead)
	}
	if blob[0] != BlobVersion {
		return nil, fmt.Errorf("encrypted blob version %d is not supported (expected %d)", blob[0], BlobVersion)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := blob[1+chacha20poly1305.NonceSizeX:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, buildAAD(blob[0], aad))
	if err != nil {
		return nil, fmt.Errorf("AEAD decryption failed (wrong key or tampered data): %w", err)
	}
	return plaintext, nil
}

func buildAAD(version byte, aad []byte) []byte {
	out := make([]byte, 1+len(aad))
	out[0] = version
	copy(out[1:], aad)
	return out
}

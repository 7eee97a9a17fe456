package codec

import (
	"errors"
	"fmt"

	"github.com/assetforge/cfgvault/pkg/cache"
)

// DefaultMaxPayload is the hard ceiling on a single plaintext payload.
const DefaultMaxPayload = 100 * 1024 * 1024

var (
	// ErrEmptyPayload is returned when encoding zero bytes.
	ErrEmptyPayload = errors.New("payload is empty")
	// ErrPayloadTooLarge is returned when a payload exceeds the pipeline ceiling.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
	// ErrHashMismatch is returned when decoded bytes do not hash to the stored digest.
	ErrHashMismatch = errors.New("content hash mismatch")
	// ErrSizeOutOfRange is returned when a stored plaintext size is negative
	// or above the pipeline ceiling.
	ErrSizeOutOfRange = errors.New("stored size out of range")
)

// Pipeline runs hash → compress → encrypt on the way in and the reverse,
// with hash verification, on the way out.
type Pipeline struct {
	// Salt is mixed into every derived key. Empty means DefaultKeySalt.
	Salt string
	// Compression is the preferred algorithm; it is only applied when it
	// makes the payload strictly smaller.
	Compression Compression
	// MaxPayload caps plaintext size in bytes. Zero means DefaultMaxPayload.
	MaxPayload int64
	// Keys caches derived author keys. Nil derives on every call.
	Keys *cache.LRU[string, []byte]
}

// DefaultPipeline returns a pipeline with zstd compression and default limits.
func DefaultPipeline() *Pipeline {
	return &Pipeline{
		Salt:        DefaultKeySalt,
		Compression: CompressionZstd,
		MaxPayload:  DefaultMaxPayload,
	}
}

// Encoded is the persisted form of a payload.
type Encoded struct {
	Blob          []byte
	PlaintextSize int64
	ContentHash   string
	Compression   Compression
}

// Encode prepares plaintext for storage under author's key.
func (p *Pipeline) Encode(author string, plaintext []byte) (*Encoded, error) {
	if len(plaintext) == 0 {
		return nil, ErrEmptyPayload
	}
	if int64(len(plaintext)) > p.maxPayload() {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(plaintext), p.maxPayload())
	}

	hash := HashContent(plaintext)

	packed, algo, err := Compress(plaintext, p.Compression)
	if err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}

	key, err := p.key(author)
	if err != nil {
		return nil, err
	}
	blob, err := Seal(packed, key, []byte(hash))
	if err != nil {
		return nil, fmt.Errorf("encrypt payload: %w", err)
	}

	return &Encoded{
		Blob:          blob,
		PlaintextSize: int64(len(plaintext)),
		ContentHash:   hash,
		Compression:   algo,
	}, nil
}

// Decode reverses Encode. author must be the author recorded at encode
// time. The plaintext is returned only if it hashes to contentHash.
func (p *Pipeline) Decode(author string, blob []byte, algo Compression, size int64, contentHash string) ([]byte, error) {
	if size < 0 || size > p.maxPayload() {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrSizeOutOfRange, size, p.maxPayload())
	}
	key, err := p.key(author)
	if err != nil {
		return nil, err
	}
	packed, err := Open(blob, key, []byte(contentHash))
	if err != nil {
		return nil, err
	}
	plaintext, err := Decompress(packed, algo, int(size))
	if err != nil {
		return nil, err
	}
	if !VerifyContent(plaintext, contentHash) {
		return nil, ErrHashMismatch
	}
	return plaintext, nil
}

func (p *Pipeline) key(author string) ([]byte, error) {
	if p.Keys == nil {
		return DeriveKey(author, p.salt())
	}
	return p.Keys.GetOrLoad(p.salt()+"\x00"+author, func() ([]byte, error) {
		return DeriveKey(author, p.salt())
	})
}

func (p *Pipeline) salt() string {
	if p.Salt == "" {
		return DefaultKeySalt
	}
	return p.Salt
}

func (p *Pipeline) maxPayload() int64 {
	if p.MaxPayload <= 0 {
		return DefaultMaxPayload
	}
	return p.MaxPayload
}

package codec

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetforge/cfgvault/pkg/cache"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestHashContent(t *testing.T) {
	h1 := HashContent([]byte("cfg1"))
	h2 := HashContent([]byte("cfg1"))
	h3 := HashContent([]byte("cfg2"))

	assert.Len(t, h1, HashSize*2)
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.True(t, VerifyContent([]byte("cfg1"), h1))
	assert.False(t, VerifyContent([]byte("cfg1 "), h1))
}

func TestCompress(t *testing.T) {
	compressible := []byte(strings.Repeat("ladder rung 001: XIC I:0/0 OTE O:0/0\n", 200))
	incompressible := randomBytes(t, 4096)

	tests := []struct {
		name     string
		data     []byte
		algo     Compression
		wantAlgo Compression
	}{
		{"zstd compressible", compressible, CompressionZstd, CompressionZstd},
		{"lz4 compressible", compressible, CompressionLZ4, CompressionLZ4},
		{"none requested", compressible, CompressionNone, CompressionNone},
		{"zstd incompressible falls back", incompressible, CompressionZstd, CompressionNone},
		{"lz4 incompressible falls back", incompressible, CompressionLZ4, CompressionNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, algo, err := Compress(tt.data, tt.algo)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAlgo, algo)
			if algo != CompressionNone {
				assert.Less(t, len(out), len(tt.data))
			}

			back, err := Decompress(out, algo, len(tt.data))
			require.NoError(t, err)
			assert.True(t, bytes.Equal(tt.data, back))
		})
	}
}

func TestDecompress_SizeMismatch(t *testing.T) {
	_, err := Decompress([]byte("abc"), CompressionNone, 4)
	require.Error(t, err)

	packed, algo, err := Compress([]byte(strings.Repeat("a", 1000)), CompressionZstd)
	require.NoError(t, err)
	_, err = Decompress(packed, algo, 999)
	require.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	for _, name := range []string{"", "none", "zstd", "lz4"} {
		_, err := ParseCompression(name)
		assert.NoError(t, err, name)
	}
	_, err := ParseCompression("gzip")
	assert.Error(t, err)
}

func TestSealOpen(t *testing.T) {
	key, err := DeriveKey("alice", DefaultKeySalt)
	require.NoError(t, err)
	assert.Len(t, key, KeySize)

	blob, err := Seal([]byte("secret"), key, []byte("aad"))
	require.NoError(t, err)
	assert.Equal(t, BlobVersion, blob[0])
	assert.Len(t, blob, BlobOverhead+len("secret"))

	plain, err := Open(blob, key, []byte("aad"))
	require.NoError(t, err)
	assert.Equal(t, "secret", string(plain))

	t.Run("wrong aad", func(t *testing.T) {
		_, err := Open(blob, key, []byte("other"))
		assert.Error(t, err)
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := DeriveKey("bob", DefaultKeySalt)
		require.NoError(t, err)
		_, err = Open(blob, other, []byte("aad"))
		assert.Error(t, err)
	})

	t.Run("tampered", func(t *testing.T) {
		tampered := append([]byte(nil), blob...)
		tampered[len(tampered)-1] ^= 0xff
		_, err := Open(tampered, key, []byte("aad"))
		assert.Error(t, err)
	})

	t.Run("short blob", func(t *testing.T) {
		_, err := Open(blob[:BlobOverhead-1], key, []byte("aad"))
		assert.Error(t, err)
	})
}

func TestDeriveKey_Deterministic(t *testing.T) {
	k1, err := DeriveKey("alice", "salt")
	require.NoError(t, err)
	k2, err := DeriveKey("alice", "salt")
	require.NoError(t, err)
	k3, err := DeriveKey("alice", "other-salt")
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestPipeline_RoundTrip(t *testing.T) {
	p := DefaultPipeline()

	tests := []struct {
		name     string
		data     []byte
		wantAlgo Compression
	}{
		{"compressible", []byte(strings.Repeat("setpoint=42\n", 500)), CompressionZstd},
		{"incompressible", randomBytes(t, 2048), CompressionNone},
		{"tiny", []byte("x"), CompressionNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := p.Encode("alice", tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAlgo, enc.Compression)
			assert.Equal(t, int64(len(tt.data)), enc.PlaintextSize)
			assert.Equal(t, HashContent(tt.data), enc.ContentHash)

			out, err := p.Decode("alice", enc.Blob, enc.Compression, enc.PlaintextSize, enc.ContentHash)
			require.NoError(t, err)
			assert.Equal(t, tt.data, out)

			_, err = p.Decode("mallory", enc.Blob, enc.Compression, enc.PlaintextSize, enc.ContentHash)
			assert.Error(t, err)
		})
	}
}

func TestPipeline_Limits(t *testing.T) {
	p := &Pipeline{MaxPayload: 8}

	_, err := p.Encode("alice", nil)
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = p.Encode("alice", []byte("123456789"))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = p.Encode("alice", []byte("12345678"))
	assert.NoError(t, err)
}

func TestPipeline_WrongHashFailsAuthentication(t *testing.T) {
	p := DefaultPipeline()
	enc, err := p.Encode("alice", []byte("cfg1"))
	require.NoError(t, err)

	_, err = p.Decode("alice", enc.Blob, enc.Compression, enc.PlaintextSize, HashContent([]byte("cfg2")))
	assert.Error(t, err)
}

func TestPipeline_DecodeRejectsBadSize(t *testing.T) {
	p := DefaultPipeline()
	data := []byte(strings.Repeat("setpoint=42\n", 500))
	enc, err := p.Encode("alice", data)
	require.NoError(t, err)
	require.Equal(t, CompressionZstd, enc.Compression)

	for _, size := range []int64{-1, DefaultMaxPayload + 1} {
		var out []byte
		require.NotPanics(t, func() {
			out, err = p.Decode("alice", enc.Blob, enc.Compression, size, enc.ContentHash)
		})
		assert.Nil(t, out)
		assert.ErrorIs(t, err, ErrSizeOutOfRange, "size %d", size)
	}

	_, err = Decompress([]byte("abc"), CompressionLZ4, -1)
	assert.Error(t, err)
}

func TestPipeline_KeyCache(t *testing.T) {
	keys := cache.New[string, []byte](4, time.Minute)
	p := &Pipeline{Compression: CompressionLZ4, Keys: keys}

	enc, err := p.Encode("alice", []byte(strings.Repeat("tag=1\n", 100)))
	require.NoError(t, err)
	assert.Equal(t, 1, keys.Size())

	out, err := p.Decode("alice", enc.Blob, enc.Compression, enc.PlaintextSize, enc.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("tag=1\n", 100), string(out))
	assert.Equal(t, 1, keys.Size())

	uncached := &Pipeline{}
	out, err = uncached.Decode("alice", enc.Blob, enc.Compression, enc.PlaintextSize, enc.ContentHash)
	require.NoError(t, err)
	assert.Len(t, out, 600)
}

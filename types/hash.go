package types

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// DigestSize is the size of a block digest in bytes.
const DigestSize = 32

// Digest is a 32-byte BLAKE2b-256 content digest. The zero value is the
// empty digest and is never the digest of a real block.
type Digest [DigestSize]byte

// NewDigest creates a Digest from bytes, returning an error if the length
// is wrong. Use for untrusted input (network, files).
func NewDigest(data []byte) (Digest, error) {
	var d Digest
	if len(data) != DigestSize {
		return d, fmt.Errorf("digest must be %d bytes, got %d", DigestSize, len(data))
	}
	copy(d[:], data)
	return d, nil
}

// MustNewDigest creates a Digest, panicking if invalid.
// Use only for trusted internal data.
func MustNewDigest(data []byte) Digest {
	d, err := NewDigest(data)
	if err != nil {
		panic(err)
	}
	return d
}

// HashBytes computes the BLAKE2b-256 hash of data.
func HashBytes(data []byte) Digest {
	return Digest(blake2b.Sum256(data))
}

// Bytes returns the digest as a byte slice copy.
func (d Digest) Bytes() []byte {
	out := make([]byte, DigestSize)
	copy(out, d[:])
	return out
}

// IsZero reports whether the digest is the zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Hex returns the full lowercase hex encoding of the digest.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// String returns a short form of the digest for logs.
func (d Digest) String() string {
	return "@" + hex.EncodeToString(d[:4])
}

package privval

import (
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/schemes"
	"golang.org/x/crypto/blake2b"

	"github.com/blockberries/dagberry/types"
)

// Supported scheme names. Any name known to the circl registry works; these
// are the two the engine is run with.
const (
	SchemeEd25519 = "Ed25519"
	SchemeMLDSA44 = "ML-DSA-44"
)

// Errors
var (
	ErrUnknownScheme  = errors.New("unknown signature scheme")
	ErrInvalidKey     = errors.New("invalid key bytes")
	ErrEmptyCommittee = errors.New("test committee must not be empty")
)

// SchemeByName resolves a signature scheme from the circl registry.
func SchemeByName(name string) (sign.Scheme, error) {
	s := schemes.ByName(name)
	if s == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, name)
	}
	return s, nil
}

// Signer signs consensus messages on behalf of one committee seat.
type Signer interface {
	// SchemeName returns the registry name of the signature scheme.
	SchemeName() string

	// PublicKey returns the encoded public key.
	PublicKey() []byte

	// Sign signs a message.
	Sign(msg []byte) ([]byte, error)
}

// LocalSigner holds a private key in memory.
type LocalSigner struct {
	scheme sign.Scheme
	priv   sign.PrivateKey
	pub    []byte
}

// NewLocalSigner generates a fresh keypair for the named scheme.
func NewLocalSigner(schemeName string) (*LocalSigner, error) {
	scheme, err := SchemeByName(schemeName)
	if err != nil {
		return nil, err
	}
	pub, priv, err := scheme.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s key: %w", schemeName, err)
	}
	return newLocalSigner(scheme, pub, priv)
}

// NewLocalSignerFromSeed deterministically derives a keypair from a seed.
// The seed may be any length; it is expanded to the scheme's seed size.
func NewLocalSignerFromSeed(schemeName string, seed []byte) (*LocalSigner, error) {
	scheme, err := SchemeByName(schemeName)
	if err != nil {
		return nil, err
	}
	pub, priv := scheme.DeriveKey(expandSeed(seed, scheme.SeedSize()))
	return newLocalSigner(scheme, pub, priv)
}

func newLocalSigner(scheme sign.Scheme, pub sign.PublicKey, priv sign.PrivateKey) (*LocalSigner, error) {
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return &LocalSigner{scheme: scheme, priv: priv, pub: pubBytes}, nil
}

// SchemeName implements Signer.
func (s *LocalSigner) SchemeName() string {
	return s.scheme.Name()
}

// PublicKey implements Signer.
func (s *LocalSigner) PublicKey() []byte {
	out := make([]byte, len(s.pub))
	copy(out, s.pub)
	return out
}

// Sign implements Signer.
func (s *LocalSigner) Sign(msg []byte) ([]byte, error) {
	return s.scheme.Sign(s.priv, msg, nil), nil
}

// privateKeyBytes returns the encoded private key for persistence.
func (s *LocalSigner) privateKeyBytes() ([]byte, error) {
	return s.priv.MarshalBinary()
}

// Verify checks a signature against an encoded public key of the named
// scheme. Unknown schemes and malformed keys verify as false.
func Verify(schemeName string, pub, msg, sig []byte) bool {
	scheme, err := SchemeByName(schemeName)
	if err != nil {
		return false
	}
	if len(pub) != scheme.PublicKeySize() || len(sig) != scheme.SignatureSize() {
		return false
	}
	pk, err := scheme.UnmarshalBinaryPublicKey(pub)
	if err != nil {
		return false
	}
	return scheme.Verify(pk, msg, sig, nil)
}

// expandSeed stretches seed to n bytes with counter-mode BLAKE2b.
func expandSeed(seed []byte, n int) []byte {
	out := make([]byte, 0, n)
	var counter byte
	for len(out) < n {
		h := blake2b.Sum256(append(seed, counter))
		out = append(out, h[:]...)
		counter++
	}
	return out[:n]
}

// NewTestCommittee returns an equal-stake committee of the given size with
// deterministic keys, plus the matching signers in seat order. For tests
// and local simulation runs only.
func NewTestCommittee(size int, schemeName string) (*types.Committee, []*LocalSigner, error) {
	if size <= 0 {
		return nil, nil, ErrEmptyCommittee
	}
	authorities := make([]types.Authority, size)
	signers := make([]*LocalSigner, size)
	for i := 0; i < size; i++ {
		seed := fmt.Sprintf("dagberry-test-authority-%d", i)
		signer, err := NewLocalSignerFromSeed(schemeName, []byte(seed))
		if err != nil {
			return nil, nil, err
		}
		signers[i] = signer
		authorities[i] = types.Authority{
			Stake:     1,
			Scheme:    signer.SchemeName(),
			PublicKey: signer.PublicKey(),
		}
	}
	committee, err := types.NewCommittee(authorities)
	if err != nil {
		return nil, nil, err
	}
	return committee, signers, nil
}

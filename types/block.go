package types

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// WireVersion is the version byte prefixed to every serialized block. A
// decoder must reject versions it does not understand.
const WireVersion byte = 1

// Wire errors
var (
	ErrEmptyWireBlock = errors.New("empty wire block")
	ErrWireVersion    = errors.New("unsupported wire version")
)

// Block is one vertex of the uncertified DAG. A block at round r cites a
// quorum-weighted set of distinct-author round r-1 blocks as parents and
// carries a batch of opaque transaction payloads.
//
// Blocks are immutable once created. The block's identity is its content
// digest, see BlockDigest.
type Block struct {
	Author      AuthorityIndex
	Round       Round
	Parents     []BlockReference
	Payload     [][]byte
	TimestampNs uint64
	Signature   []byte
}

// blockBody is the RLP layout covered by the signature: every field of the
// block except the signature itself.
type blockBody struct {
	Author      AuthorityIndex
	Round       Round
	Parents     []BlockReference
	Payload     [][]byte
	TimestampNs uint64
}

// SignBytes returns the bytes the block signature is computed over: the
// wire version followed by the RLP encoding of all fields except the
// signature.
func (b *Block) SignBytes() []byte {
	body, err := rlp.EncodeToBytes(&blockBody{
		Author:      b.Author,
		Round:       b.Round,
		Parents:     b.Parents,
		Payload:     b.Payload,
		TimestampNs: b.TimestampNs,
	})
	if err != nil {
		panic(fmt.Sprintf("CONSENSUS CRITICAL: failed to marshal block body: %v", err))
	}
	out := make([]byte, 0, 1+len(body))
	out = append(out, WireVersion)
	return append(out, body...)
}

// BlockDigest computes the block's identity digest.
//
// The signature covers all fields except itself; the digest additionally
// covers the signature. The layering lets a holder of a block digest pin
// the exact signed bytes without re-verifying descendants.
func (b *Block) BlockDigest() Digest {
	signBytes := b.SignBytes()
	buf := make([]byte, 0, len(signBytes)+len(b.Signature))
	buf = append(buf, signBytes...)
	buf = append(buf, b.Signature...)
	return HashBytes(buf)
}

// Ref returns the block's reference: (author, round, digest).
func (b *Block) Ref() BlockReference {
	return BlockReference{Author: b.Author, Round: b.Round, Digest: b.BlockDigest()}
}

// CitesRef reports whether ref appears among the block's parents.
func (b *Block) CitesRef(ref BlockReference) bool {
	for _, p := range b.Parents {
		if p == ref {
			return true
		}
	}
	return false
}

// ParentFromAuthor returns the parent cited from the given author, if any.
func (b *Block) ParentFromAuthor(author AuthorityIndex) (BlockReference, bool) {
	for _, p := range b.Parents {
		if p.Author == author {
			return p, true
		}
	}
	return BlockReference{}, false
}

// TransactionCount returns the number of transactions in the payload.
func (b *Block) TransactionCount() int {
	return len(b.Payload)
}

// String returns a short form for logs.
func (b *Block) String() string {
	return b.Ref().String()
}

// EncodeWire serializes the block into the fixed, versioned wire layout:
// one version byte followed by the RLP encoding of the full block.
func (b *Block) EncodeWire() ([]byte, error) {
	body, err := rlp.EncodeToBytes(b)
	if err != nil {
		return nil, fmt.Errorf("failed to encode block: %w", err)
	}
	out := make([]byte, 0, 1+len(body))
	out = append(out, WireVersion)
	return append(out, body...), nil
}

// DecodeWire deserializes a block from the wire layout, rejecting unknown
// versions.
func DecodeWire(data []byte) (*Block, error) {
	if len(data) == 0 {
		return nil, ErrEmptyWireBlock
	}
	if data[0] != WireVersion {
		return nil, fmt.Errorf("%w: %d", ErrWireVersion, data[0])
	}
	b := &Block{}
	if err := rlp.DecodeBytes(data[1:], b); err != nil {
		return nil, fmt.Errorf("failed to decode block: %w", err)
	}
	return b, nil
}

// GenesisBlock returns the implicit round-zero block for an authority.
// Genesis blocks cite nothing, carry no payload and no signature, and are
// identical on every validator.
func GenesisBlock(author AuthorityIndex) *Block {
	return &Block{Author: author, Round: GenesisRound}
}

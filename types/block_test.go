package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testBlock() *Block {
	parent := BlockReference{Author: 1, Round: 1, Digest: HashBytes([]byte("parent"))}
	return &Block{
		Author:      2,
		Round:       2,
		Parents:     []BlockReference{parent},
		Payload:     [][]byte{[]byte("tx-1"), []byte("tx-2")},
		TimestampNs: 42,
		Signature:   []byte("sig"),
	}
}

func TestSignBytesExcludeSignature(t *testing.T) {
	a := testBlock()
	b := testBlock()
	b.Signature = []byte("different")
	require.Equal(t, a.SignBytes(), b.SignBytes())

	c := testBlock()
	c.Round = 3
	require.NotEqual(t, a.SignBytes(), c.SignBytes())
}

func TestBlockDigestCoversSignature(t *testing.T) {
	a := testBlock()
	b := testBlock()
	require.Equal(t, a.BlockDigest(), b.BlockDigest())

	b.Signature = []byte("different")
	require.NotEqual(t, a.BlockDigest(), b.BlockDigest())
}

func TestBlockRefAndCitations(t *testing.T) {
	b := testBlock()
	ref := b.Ref()
	require.Equal(t, b.Author, ref.Author)
	require.Equal(t, b.Round, ref.Round)
	require.Equal(t, b.BlockDigest(), ref.Digest)

	require.True(t, b.CitesRef(b.Parents[0]))
	require.False(t, b.CitesRef(ref))

	p, ok := b.ParentFromAuthor(1)
	require.True(t, ok)
	require.Equal(t, b.Parents[0], p)
	_, ok = b.ParentFromAuthor(3)
	require.False(t, ok)

	require.Equal(t, 2, b.TransactionCount())
}

func TestWireRoundTrip(t *testing.T) {
	b := testBlock()
	data, err := b.EncodeWire()
	require.NoError(t, err)
	require.Equal(t, WireVersion, data[0])

	got, err := DecodeWire(data)
	require.NoError(t, err)
	require.Equal(t, b, got)
	require.Equal(t, b.BlockDigest(), got.BlockDigest())
}

func TestDecodeWireRejectsBadInput(t *testing.T) {
	_, err := DecodeWire(nil)
	require.ErrorIs(t, err, ErrEmptyWireBlock)

	data, err := testBlock().EncodeWire()
	require.NoError(t, err)
	data[0] = 99
	_, err = DecodeWire(data)
	require.ErrorIs(t, err, ErrWireVersion)

	_, err = DecodeWire([]byte{WireVersion, 0xff, 0x01})
	require.Error(t, err)
}

func TestGenesisBlocks(t *testing.T) {
	g := GenesisBlock(3)
	require.Equal(t, GenesisRound, g.Round)
	require.Empty(t, g.Parents)
	require.Empty(t, g.Payload)
	require.Empty(t, g.Signature)

	require.Equal(t, GenesisBlock(3).Ref(), g.Ref(), "genesis blocks are identical everywhere")
	require.NotEqual(t, GenesisBlock(2).Ref().Digest, g.Ref().Digest)
}

func TestCompareRefs(t *testing.T) {
	low := BlockReference{Author: 3, Round: 1, Digest: HashBytes([]byte("x"))}
	mid := BlockReference{Author: 0, Round: 2, Digest: HashBytes([]byte("y"))}
	high := BlockReference{Author: 1, Round: 2, Digest: HashBytes([]byte("z"))}

	require.Negative(t, CompareRefs(low, mid), "round dominates author")
	require.Negative(t, CompareRefs(mid, high))
	require.Positive(t, CompareRefs(high, low))
	require.Zero(t, CompareRefs(mid, mid))
}

package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/dagberry/types"
)

func TestDagStateGenesisSeeding(t *testing.T) {
	committee, _ := newTestCommittee(t, 4)
	dag := NewDagState(committee)

	require.Equal(t, 4, dag.Len())
	require.Equal(t, types.Round(0), dag.HighestRound())
	require.Equal(t, 4, dag.RoundAuthorCount(0))
	require.Equal(t, types.Stake(4), dag.RoundStake(0))

	for i := 0; i < 4; i++ {
		ref, ok := dag.RefByRoundAuthor(0, types.AuthorityIndex(i))
		require.True(t, ok)
		require.Equal(t, types.GenesisBlock(types.AuthorityIndex(i)).Ref(), ref)
	}
}

func TestDagStateInsertAndQuery(t *testing.T) {
	committee, signers := newTestCommittee(t, 4)
	dag := NewDagState(committee)

	b := signedBlock(t, signers, 2, 1, dag.RoundRefs(0), [][]byte{[]byte("tx")})
	ref := dag.Insert(b)

	require.True(t, dag.Contains(ref))
	require.True(t, dag.ContainsDigest(ref.Digest))
	got, ok := dag.Get(ref)
	require.True(t, ok)
	require.Equal(t, b, got)
	got, ok = dag.GetByRoundAuthor(1, 2)
	require.True(t, ok)
	require.Equal(t, b, got)
	require.Equal(t, types.Round(1), dag.HighestRound())
	require.Equal(t, types.Stake(1), dag.RoundStake(1))

	// Re-inserting the identical block is idempotent.
	require.Equal(t, ref, dag.Insert(b))
	require.Equal(t, 5, dag.Len())
}

func TestDagStateRoundRefsSorted(t *testing.T) {
	committee, signers := newTestCommittee(t, 4)
	dag := NewDagState(committee)

	parents := dag.RoundRefs(0)
	for _, i := range []types.AuthorityIndex{3, 0, 2, 1} {
		dag.Insert(signedBlock(t, signers, i, 1, parents, nil))
	}
	refs := dag.RoundRefs(1)
	require.Len(t, refs, 4)
	for i, ref := range refs {
		require.Equal(t, types.AuthorityIndex(i), ref.Author)
	}
}

func TestDagStateInsertPanics(t *testing.T) {
	committee, signers := newTestCommittee(t, 4)
	dag := NewDagState(committee)
	parents := dag.RoundRefs(0)

	t.Run("unknown author", func(t *testing.T) {
		b := signedBlock(t, signers, 1, 1, parents, nil)
		b.Author = 9
		require.Panics(t, func() { dag.Insert(b) })
	})

	t.Run("occupied slot", func(t *testing.T) {
		dag.Insert(signedBlock(t, signers, 1, 1, parents, nil))
		conflicting := signedBlock(t, signers, 1, 1, parents, [][]byte{[]byte("other")})
		require.Panics(t, func() { dag.Insert(conflicting) })
	})

	t.Run("missing parent", func(t *testing.T) {
		orphanParent := types.BlockReference{Author: 0, Round: 1, Digest: types.HashBytes([]byte("nowhere"))}
		b := signedBlock(t, signers, 2, 2, []types.BlockReference{orphanParent}, nil)
		require.Panics(t, func() { dag.Insert(b) })
	})
}

func TestDagStateCausalHistory(t *testing.T) {
	committee, signers := newTestCommittee(t, 4)
	dag := NewDagState(committee)
	fullRound(t, dag, signers, 1)
	fullRound(t, dag, signers, 2)

	ref, ok := dag.RefByRoundAuthor(2, 0)
	require.True(t, ok)

	// One round 2 block, four round 1 blocks, four genesis blocks.
	history := dag.CausalHistory(ref)
	require.Len(t, history, 9)
	require.Equal(t, ref.Digest, history[0].BlockDigest())

	require.Nil(t, dag.CausalHistory(types.BlockReference{Digest: types.HashBytes([]byte("unknown"))}))
}

func TestDagStateInHistory(t *testing.T) {
	committee, signers := newTestCommittee(t, 4)
	dag := NewDagState(committee)

	fullRound(t, dag, signers, 1)
	// Round 2 blocks cite only three of the round 1 blocks.
	parents := refsExcluding(dag.RoundRefs(1), 3)
	for i := range signers {
		dag.Insert(signedBlock(t, signers, types.AuthorityIndex(i), 2, parents, nil))
	}

	anchor, ok := dag.RefByRoundAuthor(2, 0)
	require.True(t, ok)
	cited, ok := dag.RefByRoundAuthor(1, 1)
	require.True(t, ok)
	uncited, ok := dag.RefByRoundAuthor(1, 3)
	require.True(t, ok)
	genesis, ok := dag.RefByRoundAuthor(0, 2)
	require.True(t, ok)

	require.True(t, dag.InHistory(anchor, anchor))
	require.True(t, dag.InHistory(anchor, cited))
	require.True(t, dag.InHistory(anchor, genesis))
	require.False(t, dag.InHistory(anchor, uncited))
}

func TestDagStateWatermark(t *testing.T) {
	committee, _ := newTestCommittee(t, 4)
	dag := NewDagState(committee)

	require.Equal(t, types.Round(0), dag.LowestRequiredRound())
	dag.AdvanceWatermark(5)
	require.Equal(t, types.Round(5), dag.LowestRequiredRound())
	dag.AdvanceWatermark(3)
	require.Equal(t, types.Round(5), dag.LowestRequiredRound(), "watermark never moves backward")
}

package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/dagberry/types"
)

func TestLinearizerFirstSubDag(t *testing.T) {
	committee, signers := newTestCommittee(t, 4)
	dag := NewDagState(committee)

	parents := dag.RoundRefs(0)
	for i := range signers {
		payload := [][]byte{[]byte{byte('a' + i)}}
		dag.Insert(signedBlock(t, signers, types.AuthorityIndex(i), 1, parents, payload))
	}

	leader, ok := dag.GetByRoundAuthor(1, committee.LeaderFor(1))
	require.True(t, ok)

	lin := NewLinearizer(dag)
	sub := lin.Linearize(leader)

	// Four genesis blocks plus the leader itself; the leader comes last.
	require.Len(t, sub.Blocks, 5)
	require.Equal(t, leader, sub.Blocks[len(sub.Blocks)-1])
	require.Equal(t, leader, sub.Leader)
	require.Equal(t, [][]byte{[]byte("b")}, sub.Transactions, "only the leader carries a payload")
	require.Equal(t, 5, lin.OrderedCount())
}

func TestLinearizerNoDuplicatesAcrossSubDags(t *testing.T) {
	committee, signers := newTestCommittee(t, 4)
	dag := NewDagState(committee)
	for r := types.Round(1); r <= 3; r++ {
		fullRound(t, dag, signers, r)
	}

	lin := NewLinearizer(dag)
	seen := make(map[types.Digest]struct{})

	for r := types.Round(1); r <= 3; r++ {
		leader, ok := dag.GetByRoundAuthor(r, committee.LeaderFor(r))
		require.True(t, ok)
		sub := lin.Linearize(leader)
		require.Equal(t, leader, sub.Blocks[len(sub.Blocks)-1])
		for _, b := range sub.Blocks {
			digest := b.BlockDigest()
			_, dup := seen[digest]
			require.False(t, dup, "block ordered twice: %s", b)
			seen[digest] = struct{}{}
		}
	}

	// Everything up to round 2 is ordered, plus the round 3 leader; the
	// other round 3 blocks wait for a later leader.
	require.Equal(t, 4+4+4+1, lin.OrderedCount())
}

func TestLinearizerDeterministicOrder(t *testing.T) {
	committee, signers := newTestCommittee(t, 4)

	runOnce := func() []types.BlockReference {
		dag := NewDagState(committee)
		for r := types.Round(1); r <= 2; r++ {
			fullRound(t, dag, signers, r)
		}
		leader, ok := dag.GetByRoundAuthor(2, committee.LeaderFor(2))
		require.True(t, ok)
		sub := NewLinearizer(dag).Linearize(leader)
		out := make([]types.BlockReference, len(sub.Blocks))
		for i, b := range sub.Blocks {
			out[i] = b.Ref()
		}
		return out
	}

	first := runOnce()
	require.Equal(t, first, runOnce())

	// Within the sub-DAG, order is by round, then author, then digest; the
	// leader block is also the maximum, so the whole sequence is sorted.
	for i := 1; i < len(first); i++ {
		require.Negative(t, types.CompareRefs(first[i-1], first[i]))
	}
}

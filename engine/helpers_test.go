package engine

import (
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/dagberry/privval"
	"github.com/blockberries/dagberry/types"
)

const testScheme = privval.SchemeEd25519

func newTestCommittee(t *testing.T, size int) (*types.Committee, []*privval.LocalSigner) {
	t.Helper()
	committee, signers, err := privval.NewTestCommittee(size, testScheme)
	require.NoError(t, err)
	return committee, signers
}

func testLogger() log.Logger {
	return log.New()
}

func signedBlock(t *testing.T, signers []*privval.LocalSigner, author types.AuthorityIndex, round types.Round, parents []types.BlockReference, payload [][]byte) *types.Block {
	t.Helper()
	b := &types.Block{
		Author:      author,
		Round:       round,
		Parents:     parents,
		Payload:     payload,
		TimestampNs: uint64(round),
	}
	sig, err := signers[author].Sign(b.SignBytes())
	require.NoError(t, err)
	b.Signature = sig
	return b
}

// fullRound inserts one block per seat, each citing every block of the
// previous round.
func fullRound(t *testing.T, dag *DagState, signers []*privval.LocalSigner, round types.Round) {
	t.Helper()
	parents := dag.RoundRefs(round - 1)
	for i := range signers {
		dag.Insert(signedBlock(t, signers, types.AuthorityIndex(i), round, parents, nil))
	}
}

// refsExcluding filters the refs of the previous round down to those not
// authored by the excluded seats.
func refsExcluding(refs []types.BlockReference, exclude ...types.AuthorityIndex) []types.BlockReference {
	out := make([]types.BlockReference, 0, len(refs))
	for _, r := range refs {
		skip := false
		for _, ex := range exclude {
			if r.Author == ex {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, r)
		}
	}
	return out
}

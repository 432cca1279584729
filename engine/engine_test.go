package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/dagberry/types"
)

func newTestEngine(t *testing.T, authority types.AuthorityIndex) *Engine {
	t.Helper()
	committee, signers := newTestCommittee(t, 4)
	eng, err := NewEngine(DefaultConfig(), committee, authority, signers[authority], nil, nil)
	require.NoError(t, err)
	return eng
}

func TestNewEngineValidation(t *testing.T) {
	committee, signers := newTestCommittee(t, 4)

	_, err := NewEngine(DefaultConfig(), committee, 0, nil, nil, nil)
	require.ErrorIs(t, err, ErrNoSigner)

	_, err = NewEngine(DefaultConfig(), committee, 9, signers[0], nil, nil)
	require.ErrorIs(t, err, ErrNotInCommittee)

	_, err = NewEngine(DefaultConfig(), committee, 0, signers[1], nil, nil)
	require.ErrorIs(t, err, ErrNotInCommittee, "signer key must match the seat")

	cfg := DefaultConfig()
	cfg.LeaderTimeout = 0
	_, err = NewEngine(cfg, committee, 0, signers[0], nil, nil)
	require.ErrorIs(t, err, ErrInvalidLeaderTimeout)
}

func TestEngineLifecycle(t *testing.T) {
	eng := newTestEngine(t, 0)
	ctx := context.Background()

	require.ErrorIs(t, eng.Stop(), ErrNotStarted)
	require.NoError(t, eng.Start(ctx))
	require.ErrorIs(t, eng.Start(ctx), ErrAlreadyStarted)

	st := eng.Status()
	require.True(t, st.Running)
	require.Equal(t, types.AuthorityIndex(0), st.Authority)
	require.Equal(t, types.Round(1), st.LastProposed, "bootstrap proposed round one")
	require.Equal(t, 5, st.DagBlocks)

	require.NoError(t, eng.Stop())
	require.ErrorIs(t, eng.Stop(), ErrNotStarted)

	st = eng.Status()
	require.False(t, st.Running)
}

func TestEngineRejectsBlocksWhenStopped(t *testing.T) {
	eng := newTestEngine(t, 0)
	require.NoError(t, eng.Start(context.Background()))
	require.NoError(t, eng.Stop())

	b := types.GenesisBlock(1)
	require.ErrorIs(t, eng.SubmitBlock(b), ErrNotStarted)
}

func TestEngineHandleBlockMessage(t *testing.T) {
	committee, signers := newTestCommittee(t, 4)
	eng, err := NewEngine(DefaultConfig(), committee, 0, signers[0], nil, nil)
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop()

	require.Error(t, eng.HandleBlockMessage("peer-1", []byte("garbage")))

	genesis := make([]types.BlockReference, 4)
	for i := range genesis {
		genesis[i] = types.GenesisBlock(types.AuthorityIndex(i)).Ref()
	}
	b := &types.Block{Author: 1, Round: 1, Parents: genesis, TimestampNs: 1}
	sig, err := signers[1].Sign(b.SignBytes())
	require.NoError(t, err)
	b.Signature = sig
	wire, err := b.EncodeWire()
	require.NoError(t, err)

	require.NoError(t, eng.HandleBlockMessage("peer-1", wire))

	require.Eventually(t, func() bool {
		return eng.Status().HighestRound >= 1 && eng.Status().DagBlocks >= 6
	}, time.Second, 10*time.Millisecond, "queued block reaches the DAG")
}

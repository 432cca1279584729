package integration

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/dagberry/engine"
	"github.com/blockberries/dagberry/privval"
	"github.com/blockberries/dagberry/types"
)

// network wires a committee of engines together in process: every proposed
// block is delivered straight to every peer, and each node's committed
// output is recorded for comparison.
type network struct {
	t       *testing.T
	engines []*engine.Engine

	mu      sync.Mutex
	leaders [][]types.BlockReference
	txs     [][]string
}

func newNetwork(t *testing.T, size int, cfg *engine.Config) *network {
	t.Helper()
	committee, signers, err := privval.NewTestCommittee(size, privval.SchemeEd25519)
	require.NoError(t, err)

	n := &network{
		t:       t,
		engines: make([]*engine.Engine, size),
		leaders: make([][]types.BlockReference, size),
		txs:     make([][]string, size),
	}
	for i := range n.engines {
		eng, err := engine.NewEngine(cfg, committee, types.AuthorityIndex(i), signers[i], nil, nil)
		require.NoError(t, err)

		seat := i
		counter := 0
		eng.SetPayloadProvider(func(int) [][]byte {
			counter++
			return [][]byte{[]byte(fmt.Sprintf("tx-%d-%d", seat, counter))}
		})
		eng.SetCommitListener(func(sub *engine.CommittedSubDag) {
			n.mu.Lock()
			defer n.mu.Unlock()
			n.leaders[seat] = append(n.leaders[seat], sub.Leader.Ref())
			for _, tx := range sub.Transactions {
				n.txs[seat] = append(n.txs[seat], string(tx))
			}
		})
		n.engines[i] = eng
	}
	for i, eng := range n.engines {
		seat := i
		eng.SetBlockBroadcaster(func(b *types.Block) {
			for j, peer := range n.engines {
				if j != seat {
					peer.SubmitBlock(b)
				}
			}
		})
	}
	return n
}

func (n *network) start(ctx context.Context) {
	n.t.Helper()
	for _, eng := range n.engines {
		require.NoError(n.t, eng.Start(ctx))
	}
}

func (n *network) stop() {
	for _, eng := range n.engines {
		eng.Stop()
	}
}

func (n *network) commitCounts() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]int, len(n.leaders))
	for i, l := range n.leaders {
		out[i] = len(l)
	}
	return out
}

func (n *network) waitForCommits(min int, timeout time.Duration) {
	n.t.Helper()
	require.Eventually(n.t, func() bool {
		for _, c := range n.commitCounts() {
			if c < min {
				return false
			}
		}
		return true
	}, timeout, 20*time.Millisecond, "every node commits at least %d sub-DAGs", min)
}

func TestCommitteeAgreesOnCommitOrder(t *testing.T) {
	cfg := engine.DefaultConfig()
	n := newNetwork(t, 4, cfg)

	n.start(context.Background())
	n.waitForCommits(5, 30*time.Second)
	n.stop()

	n.mu.Lock()
	defer n.mu.Unlock()

	// All nodes commit the same leader sequence and linearize the same
	// transaction order, up to the shorter of each pair.
	for i := 1; i < len(n.engines); i++ {
		leaders := min(len(n.leaders[0]), len(n.leaders[i]))
		require.NotZero(t, leaders)
		require.Equal(t, n.leaders[0][:leaders], n.leaders[i][:leaders],
			"node %d disagrees on the committed leader sequence", i)

		txs := min(len(n.txs[0]), len(n.txs[i]))
		require.Equal(t, n.txs[0][:txs], n.txs[i][:txs],
			"node %d disagrees on the transaction order", i)
	}

	// Every node's payload shows up in the committed order somewhere.
	seen := make(map[string]bool)
	for _, tx := range n.txs[0] {
		seen[tx] = true
	}
	for seat := 0; seat < 4; seat++ {
		require.True(t, seen[fmt.Sprintf("tx-%d-1", seat)], "seat %d's first transaction committed", seat)
	}
}

func TestCommitteeProgressesPastSilentLeader(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.LeaderTimeout = 100 * time.Millisecond

	n := newNetwork(t, 4, cfg)

	// Seat 1 stays silent for the whole run. The remaining three seats
	// carry quorum stake and keep committing through leader timeouts.
	live := []*engine.Engine{n.engines[0], n.engines[2], n.engines[3]}
	for _, eng := range live {
		require.NoError(t, eng.Start(context.Background()))
	}
	defer func() {
		for _, eng := range live {
			eng.Stop()
		}
	}()

	require.Eventually(t, func() bool {
		counts := n.commitCounts()
		return counts[0] >= 3 && counts[2] >= 3 && counts[3] >= 3
	}, 30*time.Second, 20*time.Millisecond, "liveness with one crashed seat")

	n.mu.Lock()
	defer n.mu.Unlock()
	leaders := min(len(n.leaders[0]), len(n.leaders[2]))
	require.Equal(t, n.leaders[0][:leaders], n.leaders[2][:leaders])
	for _, ref := range n.leaders[0] {
		require.NotEqual(t, types.AuthorityIndex(1), ref.Author, "the silent seat never gets committed")
	}
}

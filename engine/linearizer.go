package engine

import (
	"sort"

	"github.com/blockberries/dagberry/types"
)

// CommittedSubDag is the output of linearizing one committed leader: the
// leader block together with every block of its causal history not already
// ordered under an earlier leader, in deterministic order, plus the flat
// transaction sequence extracted from those blocks.
type CommittedSubDag struct {
	Leader       *types.Block
	Blocks       []*types.Block
	Transactions [][]byte
}

// Linearizer turns the committed leader sequence into a total order of
// blocks and transactions. Each committed leader contributes its causal
// history minus everything an earlier committed leader already ordered;
// within one sub-DAG, blocks are ordered by ascending round, then author
// index, then digest, with the leader block last. Skipped leaders
// contribute nothing here, though their non-leader blocks surface later in
// the history of a subsequent committed leader.
//
// The order is a pure function of the decision sequence, so every
// validator emits byte-identical sub-DAGs.
type Linearizer struct {
	dag     *DagState
	ordered map[types.Digest]struct{}
}

// NewLinearizer creates a linearizer over the given DAG state.
func NewLinearizer(dag *DagState) *Linearizer {
	return &Linearizer{
		dag:     dag,
		ordered: make(map[types.Digest]struct{}),
	}
}

// Linearize orders the sub-DAG of one committed leader. The caller feeds
// committed leaders strictly in decision order.
func (l *Linearizer) Linearize(leader *types.Block) *CommittedSubDag {
	leaderRef := leader.Ref()

	var blocks []*types.Block
	for _, b := range l.dag.CausalHistory(leaderRef) {
		digest := b.BlockDigest()
		if _, done := l.ordered[digest]; done {
			continue
		}
		l.ordered[digest] = struct{}{}
		if digest == leaderRef.Digest {
			continue // appended last
		}
		blocks = append(blocks, b)
	}

	sort.Slice(blocks, func(i, j int) bool {
		return types.CompareRefs(blocks[i].Ref(), blocks[j].Ref()) < 0
	})
	blocks = append(blocks, leader)

	var txs [][]byte
	for _, b := range blocks {
		txs = append(txs, b.Payload...)
	}

	return &CommittedSubDag{
		Leader:       leader,
		Blocks:       blocks,
		Transactions: txs,
	}
}

// OrderedCount returns the number of blocks ordered so far.
func (l *Linearizer) OrderedCount() int {
	return len(l.ordered)
}

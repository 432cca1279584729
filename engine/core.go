package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/blockberries/dagberry/privval"
	"github.com/blockberries/dagberry/types"
	"github.com/blockberries/dagberry/wal"
)

// PayloadProvider supplies the transaction batch for the next own block.
// maxBytes is an upper bound on the combined payload size; providers that
// exceed it produce blocks peers reject as oversized.
type PayloadProvider func(maxBytes int) [][]byte

// BlockBroadcaster sends a locally built block to all peers.
type BlockBroadcaster func(b *types.Block)

// CommitListener receives committed sub-DAGs strictly in commit order.
type CommitListener func(sub *CommittedSubDag)

// Core is the proposer state machine tying the components together: it
// admits blocks through the BlockManager, advances the local round when a
// parent quorum forms, builds and signs own blocks, and drives the
// Committer and Linearizer after every insertion.
//
// Core is not safe for concurrent use; the Engine serializes all calls
// onto its event loop goroutine.
type Core struct {
	cfg        *Config
	committee  *types.Committee
	authority  types.AuthorityIndex
	signer     privval.Signer
	dag        *DagState
	manager    *BlockManager
	committer  *Committer
	linearizer *Linearizer
	ticker     *RoundTicker
	wal        wal.WAL
	logger     log.Logger

	// lastProposed is the round of the own block most recently inserted.
	// Genesis counts, so it starts at zero.
	lastProposed types.Round

	// timedOut marks lastProposed's leader as waited out, letting the
	// proposer advance on a bare quorum.
	timedOut bool

	payloadProvider PayloadProvider
	broadcaster     BlockBroadcaster
	commitListener  CommitListener
}

// NewCore wires a core from its components.
func NewCore(
	cfg *Config,
	committee *types.Committee,
	authority types.AuthorityIndex,
	signer privval.Signer,
	dag *DagState,
	manager *BlockManager,
	committer *Committer,
	linearizer *Linearizer,
	ticker *RoundTicker,
	w wal.WAL,
	logger log.Logger,
) *Core {
	if w == nil {
		w = wal.NopWAL{}
	}
	return &Core{
		cfg:        cfg,
		committee:  committee,
		authority:  authority,
		signer:     signer,
		dag:        dag,
		manager:    manager,
		committer:  committer,
		linearizer: linearizer,
		ticker:     ticker,
		wal:        w,
		logger:     logger,
	}
}

// SetPayloadProvider installs the transaction source for own blocks.
// Without one, own blocks carry an empty payload.
func (c *Core) SetPayloadProvider(p PayloadProvider) {
	c.payloadProvider = p
}

// SetBroadcaster installs the outbound block sink.
func (c *Core) SetBroadcaster(b BlockBroadcaster) {
	c.broadcaster = b
}

// SetCommitListener installs the committed sub-DAG sink.
func (c *Core) SetCommitListener(l CommitListener) {
	c.commitListener = l
}

// LastProposed returns the round of the most recent own block.
func (c *Core) LastProposed() types.Round {
	return c.lastProposed
}

// ResumeFrom positions the proposer after WAL replay so the next own block
// extends, rather than conflicts with, blocks signed before the restart.
func (c *Core) ResumeFrom(round types.Round) {
	if round > c.lastProposed {
		c.lastProposed = round
	}
}

// Bootstrap proposes the first own block. Round zero is fully seeded with
// genesis blocks, so the round one proposal is always possible.
func (c *Core) Bootstrap() {
	c.tryPropose()
}

// ProcessBlock admits a peer block and runs the downstream machinery when
// it is accepted.
func (c *Core) ProcessBlock(ctx context.Context, b *types.Block) error {
	if err := c.manager.Submit(ctx, b); err != nil {
		return err
	}
	c.afterInsert()
	return nil
}

// OnTimeout handles a leader timeout. Stale rounds are ignored.
func (c *Core) OnTimeout(ti TimeoutInfo) {
	if ti.Round != c.lastProposed {
		return
	}
	c.logger.Debug("leader timeout", "round", ti.Round, "leader", c.committee.LeaderFor(ti.Round))
	c.timedOut = true
	c.tryPropose()
}

// OnTick expires aged pending blocks.
func (c *Core) OnTick(now time.Time) {
	if dropped := c.manager.ExpirePending(now); dropped > 0 {
		c.logger.Info("expired pending blocks", "count", dropped)
	}
}

// afterInsert runs the commit rule and the proposer after DAG growth.
func (c *Core) afterInsert() {
	c.runCommit()
	c.tryPropose()
}

// runCommit drains newly decidable leader rounds, linearizes commits and
// hands the sub-DAGs to the listener.
func (c *Core) runCommit() {
	for _, d := range c.committer.TryCommit() {
		if d.Status != LeaderCommit {
			continue
		}
		c.writeCommitRecord(d)
		sub := c.linearizer.Linearize(d.Block)
		c.logger.Info("sub-dag committed", "leader_round", d.Round, "blocks", len(sub.Blocks),
			"txs", len(sub.Transactions))
		if c.commitListener != nil {
			c.commitListener(sub)
		}
	}
	c.dag.AdvanceWatermark(c.committer.Frontier())
}

// writeCommitRecord appends a commit marker to the WAL. Decisions are
// recomputed from blocks on replay; the marker is an audit trail, not a
// source of truth.
func (c *Core) writeCommitRecord(d CommitDecision) {
	if d.Block == nil {
		return
	}
	digest := d.Block.BlockDigest()
	msg := &wal.Message{Type: wal.MsgTypeCommit, Round: d.Round, Data: digest.Bytes()}
	if err := c.wal.Write(msg); err != nil {
		c.logger.Error("failed to append commit record to WAL", "round", d.Round, "err", err)
	}
}

// tryPropose advances the local round as far as DAG state allows, building
// one own block per advanced round.
func (c *Core) tryPropose() {
	for c.canAdvance() {
		c.propose()
		c.runCommit()
	}
}

// canAdvance reports whether the proposer may leave round lastProposed:
// the round must hold a parent quorum, and either the round's leader block
// has arrived or the leader timeout fired.
func (c *Core) canAdvance() bool {
	r := c.lastProposed
	if !c.committee.IsQuorumStake(c.dag.RoundStake(r)) {
		return false
	}
	if _, ok := c.dag.RefByRoundAuthor(r, c.committee.LeaderFor(r)); ok {
		return true
	}
	return c.timedOut
}

// propose builds, signs, inserts and broadcasts the next own block, citing
// every accepted block of the previous round.
func (c *Core) propose() {
	round := c.lastProposed + 1
	parents := c.dag.RoundRefs(c.lastProposed)

	var payload [][]byte
	if c.payloadProvider != nil {
		payload = c.payloadProvider(c.cfg.MaxBlockSize)
	}

	b := &types.Block{
		Author:      c.authority,
		Round:       round,
		Parents:     parents,
		Payload:     payload,
		TimestampNs: uint64(time.Now().UnixNano()),
	}
	sig, err := c.signer.Sign(b.SignBytes())
	if err != nil {
		panic(fmt.Sprintf("CONSENSUS CRITICAL: failed to sign own block: %v", err))
	}
	b.Signature = sig

	ref := c.manager.InsertOwn(b)
	c.lastProposed = round
	c.timedOut = false
	c.ticker.ScheduleTimeout(round)

	c.logger.Info("proposed block", "block", ref, "parents", len(parents), "txs", len(payload))

	if c.broadcaster != nil {
		c.broadcaster(b)
	}
}

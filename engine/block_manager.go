package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/blockberries/dagberry/evidence"
	"github.com/blockberries/dagberry/privval"
	"github.com/blockberries/dagberry/types"
	"github.com/blockberries/dagberry/wal"
)

// pendingBlock is a block buffered while its ancestors are fetched.
type pendingBlock struct {
	block    *types.Block
	wire     []byte
	missing  map[types.Digest]struct{}
	deadline time.Time
}

// BlockManager admits incoming blocks: it validates structural and causal
// correctness, verifies signatures through the Signer capability, detects
// equivocation, and inserts into DAG state. Blocks citing unknown ancestors
// are buffered (bounded, with a deadline) while the Synchronizer fetches
// the missing digests.
//
// Like DagState, the manager is driven from the consensus loop goroutine
// only.
type BlockManager struct {
	cfg       *Config
	committee *types.Committee
	dag       *DagState
	evidence  *evidence.Pool
	sync      Synchronizer
	wal       wal.WAL
	logger    log.Logger

	pending          map[types.Digest]*pendingBlock
	pendingByMissing map[types.Digest][]types.Digest
}

// NewBlockManager creates a block manager.
func NewBlockManager(
	cfg *Config,
	committee *types.Committee,
	dag *DagState,
	pool *evidence.Pool,
	sync Synchronizer,
	w wal.WAL,
	logger log.Logger,
) *BlockManager {
	if sync == nil {
		sync = NopSynchronizer{}
	}
	if w == nil {
		w = wal.NopWAL{}
	}
	return &BlockManager{
		cfg:              cfg,
		committee:        committee,
		dag:              dag,
		evidence:         pool,
		sync:             sync,
		wal:              w,
		logger:           logger,
		pending:          make(map[types.Digest]*pendingBlock),
		pendingByMissing: make(map[types.Digest][]types.Digest),
	}
}

// Submit validates a block received from the network and inserts it into
// DAG state. On any violation it fails with a typed rejection and the
// block never enters the DAG. ErrUnknownAncestor means the block was
// buffered and the missing ancestors requested; it is not discarded.
func (m *BlockManager) Submit(ctx context.Context, b *types.Block) error {
	return m.submit(ctx, b, true)
}

// SubmitReplayed admits a block during WAL replay: same validation, but
// nothing is re-appended to the WAL.
func (m *BlockManager) SubmitReplayed(ctx context.Context, b *types.Block) error {
	return m.submit(ctx, b, false)
}

func (m *BlockManager) submit(ctx context.Context, b *types.Block, persist bool) error {
	if !m.committee.KnownAuthority(b.Author) {
		return fmt.Errorf("%w: %d", ErrUnknownAuthor, b.Author)
	}

	wire, err := b.EncodeWire()
	if err != nil {
		return err
	}
	if len(wire) > m.cfg.MaxBlockSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrBlockTooLarge, len(wire), m.cfg.MaxBlockSize)
	}

	ref := b.Ref()

	if b.Round == types.GenesisRound {
		// Genesis blocks are implicit and pre-seeded; a round-zero block
		// from the network is either redundant or forged.
		if len(b.Parents) > 0 {
			return ErrGenesisWithParents
		}
		if genesis := types.GenesisBlock(b.Author); genesis.Ref() == ref {
			return ErrDuplicateBlock
		}
		return ErrGenesisMismatch
	}

	if existing, ok := m.dag.RefByRoundAuthor(b.Round, b.Author); ok && existing.Digest == ref.Digest {
		return ErrDuplicateBlock
	}
	if _, dup := m.pending[ref.Digest]; dup {
		return ErrDuplicateBlock
	}

	if err := m.validateParents(b); err != nil {
		return err
	}

	if err := m.verifySignature(b); err != nil {
		return err
	}

	// Equivocation: at most one accepted block per (author, round). The
	// signature check runs first so evidence is only ever recorded from
	// two blocks the author really signed; a forged conflict must not
	// taint an honest author.
	if existing, ok := m.dag.RefByRoundAuthor(b.Round, b.Author); ok {
		if _, err := m.evidence.Record(existing, ref); err == nil {
			m.logger.Warn("equivocation detected", "author", b.Author, "round", b.Round,
				"accepted", existing, "conflicting", ref)
		}
		return fmt.Errorf("%w: author %s round %d", ErrEquivocation, b.Author, b.Round)
	}

	// Causal completeness: buffer until every parent is present.
	missing := m.missingParents(b)
	if len(missing) > 0 {
		return m.buffer(ctx, b, wire, ref, missing)
	}

	m.accept(b, wire, ref, persist)
	m.flushPending(ctx, ref.Digest, persist)
	return nil
}

// validateParents checks the citation discipline: a block at round r cites
// blocks from exactly round r-1, from distinct authors whose combined
// stake meets the quorum threshold.
func (m *BlockManager) validateParents(b *types.Block) error {
	seen := make(map[types.AuthorityIndex]struct{}, len(b.Parents))
	var stake types.Stake
	for _, p := range b.Parents {
		if p.Round != b.Round-1 {
			return fmt.Errorf("%w: parent %s cited by round %d block", ErrWrongParentRound, p, b.Round)
		}
		if !m.committee.KnownAuthority(p.Author) {
			return fmt.Errorf("%w: parent author %d", ErrUnknownAuthor, p.Author)
		}
		if _, dup := seen[p.Author]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateParentAuthor, p.Author)
		}
		seen[p.Author] = struct{}{}
		stake += m.committee.StakeOf(p.Author)
	}
	if !m.committee.IsQuorumStake(stake) {
		return fmt.Errorf("%w: cited stake %d, need %d", ErrInsufficientParentQuorum,
			stake, m.committee.QuorumThreshold())
	}
	return nil
}

// verifySignature checks the block signature against the claimed author's
// public key via the pluggable signature scheme.
func (m *BlockManager) verifySignature(b *types.Block) error {
	authority, ok := m.committee.Authority(b.Author)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownAuthor, b.Author)
	}
	if !privval.Verify(authority.Scheme, authority.PublicKey, b.SignBytes(), b.Signature) {
		return fmt.Errorf("%w: author %s round %d", ErrBadSignature, b.Author, b.Round)
	}
	return nil
}

func (m *BlockManager) missingParents(b *types.Block) []types.BlockReference {
	var missing []types.BlockReference
	for _, p := range b.Parents {
		if !m.dag.ContainsDigest(p.Digest) {
			missing = append(missing, p)
		}
	}
	return missing
}

// buffer parks a block whose ancestors are not yet known and asks the
// Synchronizer for each missing digest.
func (m *BlockManager) buffer(ctx context.Context, b *types.Block, wire []byte, ref types.BlockReference, missing []types.BlockReference) error {
	if len(m.pending) >= m.cfg.MaxPendingBlocks {
		return fmt.Errorf("%w: %d blocks buffered", ErrPendingOverflow, len(m.pending))
	}

	pb := &pendingBlock{
		block:    b,
		wire:     wire,
		missing:  make(map[types.Digest]struct{}, len(missing)),
		deadline: time.Now().Add(m.cfg.PendingTimeout),
	}
	for _, p := range missing {
		pb.missing[p.Digest] = struct{}{}
		m.pendingByMissing[p.Digest] = append(m.pendingByMissing[p.Digest], ref.Digest)
		m.sync.RequestAncestor(ctx, p)
	}
	m.pending[ref.Digest] = pb

	m.logger.Debug("block buffered pending ancestors", "block", ref, "missing", len(missing))
	return fmt.Errorf("%w: %d parents of %s", ErrUnknownAncestor, len(missing), ref)
}

// accept appends the block to the WAL, inserts it and emits the acceptance
// event. The log write comes first so a replayed log is never behind the
// DAG state the run acted on.
func (m *BlockManager) accept(b *types.Block, wire []byte, ref types.BlockReference, persist bool) {
	if persist {
		msg := &wal.Message{Type: wal.MsgTypeBlock, Round: b.Round, Data: wire}
		var err error
		if m.cfg.WALSync {
			err = m.wal.WriteSync(msg)
		} else {
			err = m.wal.Write(msg)
		}
		if err != nil {
			m.logger.Error("failed to append block to WAL", "block", ref, "err", err)
		}
	}

	m.dag.Insert(b)

	m.logger.Debug("block accepted", "block", ref, "parents", len(b.Parents), "txs", b.TransactionCount())
}

// flushPending re-submits buffered blocks that were waiting on the newly
// inserted digest, cascading through any descendants they unblock.
// Flushed blocks inherit the caller's persistence mode: a flush during
// replay must not re-append records the reader just produced.
func (m *BlockManager) flushPending(ctx context.Context, inserted types.Digest, persist bool) {
	queue := []types.Digest{inserted}
	for len(queue) > 0 {
		digest := queue[0]
		queue = queue[1:]

		waiters := m.pendingByMissing[digest]
		if len(waiters) == 0 {
			continue
		}
		delete(m.pendingByMissing, digest)

		for _, waiter := range waiters {
			pb, ok := m.pending[waiter]
			if !ok {
				continue
			}
			delete(pb.missing, digest)
			if len(pb.missing) > 0 {
				continue
			}
			delete(m.pending, waiter)
			ref := pb.block.Ref()
			if existing, ok := m.dag.RefByRoundAuthor(pb.block.Round, pb.block.Author); ok {
				// Slot was taken while this block sat in the buffer. The
				// buffered block passed signature verification on entry,
				// so the conflict is genuine evidence.
				if existing.Digest != ref.Digest {
					if _, err := m.evidence.Record(existing, ref); err == nil {
						m.logger.Warn("equivocation detected on pending flush",
							"author", pb.block.Author, "round", pb.block.Round)
					}
				}
				continue
			}
			m.accept(pb.block, pb.wire, ref, persist)
			queue = append(queue, ref.Digest)
		}
	}
}

// ExpirePending drops buffered blocks whose ancestors did not arrive by
// their deadline. Dropped blocks must be redelivered by the network layer.
// Returns the number dropped.
func (m *BlockManager) ExpirePending(now time.Time) int {
	dropped := 0
	for digest, pb := range m.pending {
		if now.Before(pb.deadline) {
			continue
		}
		delete(m.pending, digest)
		for missing := range pb.missing {
			m.pendingByMissing[missing] = removeDigest(m.pendingByMissing[missing], digest)
			if len(m.pendingByMissing[missing]) == 0 {
				delete(m.pendingByMissing, missing)
			}
		}
		dropped++
		m.logger.Debug("pending block expired", "block", pb.block.Ref())
	}
	return dropped
}

// PendingCount returns the number of buffered blocks.
func (m *BlockManager) PendingCount() int {
	return len(m.pending)
}

// InsertOwn inserts a locally built, locally signed block. Own blocks cite
// only parents already in the DAG, so no buffering is possible.
func (m *BlockManager) InsertOwn(b *types.Block) types.BlockReference {
	ref := b.Ref()
	wire, err := b.EncodeWire()
	if err != nil {
		panic(fmt.Sprintf("CONSENSUS CRITICAL: failed to encode own block: %v", err))
	}
	m.accept(b, wire, ref, true)
	return ref
}

func removeDigest(s []types.Digest, d types.Digest) []types.Digest {
	for i, x := range s {
		if x == d {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

package engine

import (
	"fmt"
	"sort"

	"github.com/blockberries/dagberry/types"
)

// DagState is the append-only index of validated blocks: an arena keyed by
// digest plus a (round, author) index, with ancestry queries. Blocks
// reference parents by digest, never by pointer, which keeps ownership
// acyclic and lookups O(1).
//
// DagState is not safe for concurrent use. All mutation and reads happen on
// the consensus loop goroutine (single-writer discipline, see package doc).
// Insertion goes through the BlockManager only; inserting a block that
// violates the DAG invariants through any other path is a fatal internal
// defect and panics.
type DagState struct {
	committee *types.Committee

	byDigest map[types.Digest]*types.Block
	byRound  map[types.Round]map[types.AuthorityIndex]types.BlockReference

	highest types.Round

	// lowestRequired is the watermark of the lowest round still needed
	// for liveness bookkeeping (undecided leaders, pending ancestors).
	lowestRequired types.Round
}

// NewDagState creates DAG state seeded with the implicit genesis blocks of
// every committee seat.
func NewDagState(committee *types.Committee) *DagState {
	d := &DagState{
		committee: committee,
		byDigest:  make(map[types.Digest]*types.Block),
		byRound:   make(map[types.Round]map[types.AuthorityIndex]types.BlockReference),
	}
	for i := 0; i < committee.Size(); i++ {
		d.Insert(types.GenesisBlock(types.AuthorityIndex(i)))
	}
	return d
}

// Insert adds a validated block. The caller (BlockManager) has already
// established signature validity, parent quorum, slot vacancy and parent
// presence; violations here are internal invariant breaks.
func (d *DagState) Insert(b *types.Block) types.BlockReference {
	ref := b.Ref()

	if !d.committee.KnownAuthority(b.Author) {
		panic(fmt.Sprintf("CONSENSUS CRITICAL: insert from unknown author %d", b.Author))
	}
	if existing, ok := d.refByRoundAuthor(b.Round, b.Author); ok {
		if existing.Digest == ref.Digest {
			return ref // idempotent re-insert of the same block
		}
		panic(fmt.Sprintf("CONSENSUS CRITICAL: slot (%s, %d) already occupied by %s", b.Author, b.Round, existing))
	}
	for _, p := range b.Parents {
		if _, ok := d.byDigest[p.Digest]; !ok {
			panic(fmt.Sprintf("CONSENSUS CRITICAL: insert of %s with missing parent %s", ref, p))
		}
	}

	d.byDigest[ref.Digest] = b
	slots, ok := d.byRound[b.Round]
	if !ok {
		slots = make(map[types.AuthorityIndex]types.BlockReference)
		d.byRound[b.Round] = slots
	}
	slots[b.Author] = ref

	if b.Round > d.highest {
		d.highest = b.Round
	}
	return ref
}

// Contains reports whether the referenced block is present.
func (d *DagState) Contains(ref types.BlockReference) bool {
	_, ok := d.byDigest[ref.Digest]
	return ok
}

// ContainsDigest reports whether a block with the digest is present.
func (d *DagState) ContainsDigest(digest types.Digest) bool {
	_, ok := d.byDigest[digest]
	return ok
}

// Get returns the referenced block.
func (d *DagState) Get(ref types.BlockReference) (*types.Block, bool) {
	b, ok := d.byDigest[ref.Digest]
	return b, ok
}

// GetByRoundAuthor returns the accepted block in the (round, author) slot.
func (d *DagState) GetByRoundAuthor(round types.Round, author types.AuthorityIndex) (*types.Block, bool) {
	ref, ok := d.refByRoundAuthor(round, author)
	if !ok {
		return nil, false
	}
	return d.byDigest[ref.Digest], true
}

// RefByRoundAuthor returns the reference occupying the (round, author) slot.
func (d *DagState) RefByRoundAuthor(round types.Round, author types.AuthorityIndex) (types.BlockReference, bool) {
	return d.refByRoundAuthor(round, author)
}

func (d *DagState) refByRoundAuthor(round types.Round, author types.AuthorityIndex) (types.BlockReference, bool) {
	slots, ok := d.byRound[round]
	if !ok {
		return types.BlockReference{}, false
	}
	ref, ok := slots[author]
	return ref, ok
}

// RoundRefs returns the references of all accepted blocks at a round,
// sorted by author for determinism.
func (d *DagState) RoundRefs(round types.Round) []types.BlockReference {
	slots := d.byRound[round]
	out := make([]types.BlockReference, 0, len(slots))
	for _, ref := range slots {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Author < out[j].Author })
	return out
}

// RoundBlocks returns all accepted blocks at a round, sorted by author.
func (d *DagState) RoundBlocks(round types.Round) []*types.Block {
	refs := d.RoundRefs(round)
	out := make([]*types.Block, len(refs))
	for i, ref := range refs {
		out[i] = d.byDigest[ref.Digest]
	}
	return out
}

// RoundStake returns the combined stake of the distinct authors with an
// accepted block at a round. Distinctness is structural: the DAG holds at
// most one block per (author, round).
func (d *DagState) RoundStake(round types.Round) types.Stake {
	var total types.Stake
	for author := range d.byRound[round] {
		total += d.committee.StakeOf(author)
	}
	return total
}

// RoundAuthorCount returns how many distinct authors have an accepted block
// at a round.
func (d *DagState) RoundAuthorCount(round types.Round) int {
	return len(d.byRound[round])
}

// HighestRound returns the highest round with an accepted block.
func (d *DagState) HighestRound() types.Round {
	return d.highest
}

// LowestRequiredRound returns the liveness watermark.
func (d *DagState) LowestRequiredRound() types.Round {
	return d.lowestRequired
}

// AdvanceWatermark raises the liveness watermark; it never moves backward.
func (d *DagState) AdvanceWatermark(round types.Round) {
	if round > d.lowestRequired {
		d.lowestRequired = round
	}
}

// Len returns the number of accepted blocks, genesis included.
func (d *DagState) Len() int {
	return len(d.byDigest)
}

// CausalHistory returns the referenced block and all of its ancestors down
// to round zero. Causal completeness is a DAG invariant: every accepted
// block's full ancestry is present, so a missing ancestor is fatal.
func (d *DagState) CausalHistory(ref types.BlockReference) []*types.Block {
	start, ok := d.byDigest[ref.Digest]
	if !ok {
		return nil
	}
	visited := map[types.Digest]struct{}{ref.Digest: {}}
	out := []*types.Block{start}
	queue := []*types.Block{start}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		for _, p := range b.Parents {
			if _, seen := visited[p.Digest]; seen {
				continue
			}
			visited[p.Digest] = struct{}{}
			pb, ok := d.byDigest[p.Digest]
			if !ok {
				panic(fmt.Sprintf("CONSENSUS CRITICAL: causal completeness violated, missing ancestor %s of %s", p, ref))
			}
			out = append(out, pb)
			queue = append(queue, pb)
		}
	}
	return out
}

// InHistory reports whether target is in the causal history of anchor
// (anchor itself included).
func (d *DagState) InHistory(anchor, target types.BlockReference) bool {
	if anchor == target {
		return d.Contains(anchor)
	}
	start, ok := d.byDigest[anchor.Digest]
	if !ok {
		return false
	}
	visited := map[types.Digest]struct{}{anchor.Digest: {}}
	queue := []*types.Block{start}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		for _, p := range b.Parents {
			if p.Digest == target.Digest {
				return true
			}
			if _, seen := visited[p.Digest]; seen {
				continue
			}
			// Parents below the target round cannot reach it.
			if p.Round < target.Round {
				continue
			}
			visited[p.Digest] = struct{}{}
			if pb, ok := d.byDigest[p.Digest]; ok {
				queue = append(queue, pb)
			}
		}
	}
	return false
}

package evidence

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/blockberries/dagberry/types"
)

// Errors
var (
	ErrSameBlock         = errors.New("references name the same block, not equivocation")
	ErrAuthorMismatch    = errors.New("references have different authors")
	ErrRoundMismatch     = errors.New("references have different rounds")
	ErrDuplicateEvidence = errors.New("duplicate evidence")
)

// MaxPendingEvidence bounds the pending list; equivocation is deduplicated
// per (author, round, digest pair) so this is only reachable under attack.
const MaxPendingEvidence = 65536

// Equivocation is proof that an author signed two conflicting blocks for
// the same round. RefA and RefB are ordered by digest so the same pair
// always produces the same evidence record.
type Equivocation struct {
	Author     types.AuthorityIndex
	Round      types.Round
	RefA       types.BlockReference
	RefB       types.BlockReference
	ObservedAt time.Time
}

type evidenceKey struct {
	author types.AuthorityIndex
	round  types.Round
	a, b   types.Digest
}

// Pool collects equivocation evidence and answers suspect queries.
type Pool struct {
	mu sync.RWMutex

	seen     map[evidenceKey]struct{}
	suspects map[types.AuthorityIndex][]*Equivocation
	pending  []*Equivocation
}

// NewPool creates an empty evidence pool.
func NewPool() *Pool {
	return &Pool{
		seen:     make(map[evidenceKey]struct{}),
		suspects: make(map[types.AuthorityIndex][]*Equivocation),
	}
}

// Record stores evidence that refA and refB are conflicting blocks from the
// same (author, round) slot. Returns the recorded evidence, or an error if
// the pair is not equivocation or was already recorded.
func (p *Pool) Record(refA, refB types.BlockReference) (*Equivocation, error) {
	if refA.Author != refB.Author {
		return nil, ErrAuthorMismatch
	}
	if refA.Round != refB.Round {
		return nil, ErrRoundMismatch
	}
	if refA.Digest == refB.Digest {
		return nil, ErrSameBlock
	}

	// Canonical order so (a, b) and (b, a) are the same evidence.
	if bytes.Compare(refB.Digest[:], refA.Digest[:]) < 0 {
		refA, refB = refB, refA
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := evidenceKey{author: refA.Author, round: refA.Round, a: refA.Digest, b: refB.Digest}
	if _, dup := p.seen[key]; dup {
		return nil, ErrDuplicateEvidence
	}
	p.seen[key] = struct{}{}

	ev := &Equivocation{
		Author:     refA.Author,
		Round:      refA.Round,
		RefA:       refA,
		RefB:       refB,
		ObservedAt: time.Now(),
	}
	p.suspects[ev.Author] = append(p.suspects[ev.Author], ev)
	if len(p.pending) < MaxPendingEvidence {
		p.pending = append(p.pending, ev)
	}
	return ev, nil
}

// IsSuspect reports whether the author has equivocated during this run.
func (p *Pool) IsSuspect(author types.AuthorityIndex) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.suspects[author]) > 0
}

// Suspects returns the authors with recorded evidence.
func (p *Pool) Suspects() []types.AuthorityIndex {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.AuthorityIndex, 0, len(p.suspects))
	for a := range p.suspects {
		out = append(out, a)
	}
	return out
}

// ByAuthor returns all evidence recorded against an author.
func (p *Pool) ByAuthor(author types.AuthorityIndex) []*Equivocation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	evs := p.suspects[author]
	out := make([]*Equivocation, len(evs))
	copy(out, evs)
	return out
}

// Pending returns evidence not yet drained by operational tooling.
func (p *Pool) Pending() []*Equivocation {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Equivocation, len(p.pending))
	copy(out, p.pending)
	return out
}

// Size returns the total number of distinct evidence records.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.seen)
}

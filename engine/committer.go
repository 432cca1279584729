package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/blockberries/dagberry/types"
)

// LeaderStatus is the decision state of a leader round.
type LeaderStatus int

// Leader round decision states.
const (
	LeaderUndecided LeaderStatus = iota
	LeaderCommit
	LeaderSkip
)

// String returns the status name.
func (s LeaderStatus) String() string {
	switch s {
	case LeaderUndecided:
		return "Undecided"
	case LeaderCommit:
		return "Commit"
	case LeaderSkip:
		return "Skip"
	default:
		return fmt.Sprintf("LeaderStatus(%d)", int(s))
	}
}

// CommitDecision is the outcome for one leader round. For a commit, Block
// is the committed leader block; for a skip it is nil.
type CommitDecision struct {
	Round     types.Round
	Leader    types.AuthorityIndex
	Status    LeaderStatus
	Block     *types.Block
	DecidedAt types.Round
}

// String returns a short form for logs.
func (d CommitDecision) String() string {
	return fmt.Sprintf("%s(%s, %d)", d.Status, d.Leader, d.Round)
}

// Committer evaluates the certificate-free commit rule over DAG state.
//
// Each round r >= 1 has a deterministic leader L(r). The committer decides
// leader rounds strictly in order:
//
//   - Direct commit: a quorum of round r+2 blocks each certify the leader
//     block, where a block certifies when the stake of its round r+1
//     parents that cite the leader block meets the quorum threshold.
//   - Direct skip: a quorum of round r+1 blocks carry no citation of the
//     leader's round r slot.
//   - Indirect decision: when a leader round stays undecided for
//     SkipRounds rounds, it is resolved through an anchor, the first
//     non-skipped leader at least three rounds above it. The earlier
//     leader commits exactly when a certifying round r+2 block lies in
//     the anchor's causal history, and skips otherwise. An anchor
//     candidate that is itself undecided defers the resolution.
//
// Decisions are a pure function of DAG state, so every validator with the
// same blocks reaches the same sequence of decisions. Like DagState, the
// committer runs on the consensus loop goroutine only.
type Committer struct {
	committee  *types.Committee
	dag        *DagState
	skipRounds types.Round
	logger     log.Logger

	// frontier is the lowest leader round not yet decided.
	frontier types.Round
	decided  map[types.Round]CommitDecision
}

// NewCommitter creates a committer over the given DAG state.
func NewCommitter(committee *types.Committee, dag *DagState, skipRounds types.Round, logger log.Logger) *Committer {
	return &Committer{
		committee:  committee,
		dag:        dag,
		skipRounds: skipRounds,
		logger:     logger,
		frontier:   types.GenesisRound + 1,
		decided:    make(map[types.Round]CommitDecision),
	}
}

// Frontier returns the lowest leader round not yet decided.
func (c *Committer) Frontier() types.Round {
	return c.frontier
}

// Decision returns the recorded decision for a leader round.
func (c *Committer) Decision(round types.Round) (CommitDecision, bool) {
	d, ok := c.decided[round]
	return d, ok
}

// TryCommit decides as many leader rounds as current DAG state allows and
// returns the newly decided rounds in order. The decided sequence only
// ever grows: an undecided round blocks all rounds above it from being
// emitted, which is what makes the committed order a stable prefix.
func (c *Committer) TryCommit() []CommitDecision {
	var out []CommitDecision
	for {
		d, ok := c.decide(c.frontier)
		if !ok {
			return out
		}
		c.decided[c.frontier] = d
		c.frontier++
		if d.Status == LeaderCommit {
			c.logger.Info("leader committed", "round", d.Round, "leader", d.Leader, "decided_at", d.DecidedAt)
		} else {
			c.logger.Info("leader skipped", "round", d.Round, "leader", d.Leader, "decided_at", d.DecidedAt)
		}
		out = append(out, d)
	}
}

// decide attempts to decide one leader round, directly first, then
// indirectly through its anchor once the round has aged past the skip
// window.
func (c *Committer) decide(round types.Round) (CommitDecision, bool) {
	status, decidedAt, ok := c.resolve(round)
	if !ok {
		return CommitDecision{}, false
	}
	return c.decision(round, status, decidedAt), true
}

// resolve computes the status of one leader round as a pure function of
// DAG state, without recording anything.
func (c *Committer) resolve(round types.Round) (LeaderStatus, types.Round, bool) {
	status, decidedAt := c.directDecide(round)
	if status != LeaderUndecided {
		return status, decidedAt, true
	}

	// The skip window has not elapsed; the round may still decide directly.
	if c.dag.HighestRound() < round+c.skipRounds {
		return LeaderUndecided, 0, false
	}

	anchor, ok := c.findAnchor(round)
	if !ok {
		return LeaderUndecided, 0, false
	}
	return c.indirectDecide(round, anchor), anchor.Round, true
}

func (c *Committer) decision(round types.Round, status LeaderStatus, decidedAt types.Round) CommitDecision {
	d := CommitDecision{
		Round:     round,
		Leader:    c.committee.LeaderFor(round),
		Status:    status,
		DecidedAt: decidedAt,
	}
	if status == LeaderCommit {
		b, ok := c.dag.GetByRoundAuthor(round, d.Leader)
		if !ok {
			panic(fmt.Sprintf("CONSENSUS CRITICAL: committed leader block missing at round %d", round))
		}
		d.Block = b
	}
	return d
}

// directDecide applies the two-round direct rule for one leader round.
func (c *Committer) directDecide(round types.Round) (LeaderStatus, types.Round) {
	leader := c.committee.LeaderFor(round)
	leaderRef, present := c.dag.RefByRoundAuthor(round, leader)

	// Skip: a quorum of round r+1 blocks do not cite the leader slot.
	// Accepted round r+1 blocks cite either the accepted leader block or
	// nothing from the leader (a citation of a conflicting digest keeps
	// the citing block out of the DAG), so absence of a parent from the
	// leader is a definitive non-citation.
	var noLink types.Stake
	for _, b := range c.dag.RoundBlocks(round + 1) {
		if _, cites := b.ParentFromAuthor(leader); !cites {
			noLink += c.committee.StakeOf(b.Author)
		}
	}
	if c.committee.IsQuorumStake(noLink) {
		return LeaderSkip, round + 1
	}

	if !present {
		return LeaderUndecided, 0
	}

	// Commit: a quorum of round r+2 blocks each certify the leader.
	var certifierStake types.Stake
	for _, b := range c.dag.RoundBlocks(round + 2) {
		if c.certifies(b, leaderRef) {
			certifierStake += c.committee.StakeOf(b.Author)
		}
	}
	if c.committee.IsQuorumStake(certifierStake) {
		return LeaderCommit, round + 2
	}

	return LeaderUndecided, 0
}

// certifies reports whether a round r+2 block certifies the round r leader
// block: the stake of its round r+1 parents that cite the leader block
// meets the quorum threshold.
func (c *Committer) certifies(b *types.Block, leaderRef types.BlockReference) bool {
	var support types.Stake
	for _, p := range b.Parents {
		parent, ok := c.dag.Get(p)
		if !ok {
			panic(fmt.Sprintf("CONSENSUS CRITICAL: causal completeness violated, missing parent %s of %s", p, b.Ref()))
		}
		if parent.CitesRef(leaderRef) {
			support += c.committee.StakeOf(p.Author)
		}
	}
	return c.committee.IsQuorumStake(support)
}

// findAnchor returns the leader block the indirect rule resolves against:
// the first committed leader at least three rounds above the undecided
// one, passing over skipped leaders only. The anchor's causal history
// spans a quorum of every round up to its own, so by quorum intersection
// it contains a certifying block whenever any validator direct-committed
// the earlier leader. Anchors closer than three rounds cannot see the
// certifier round and are never eligible.
//
// A candidate whose own status is still open defers the search entirely.
// The candidate chain resolves bottom-up from DAG state alone, so every
// view that decides the round at all picks the identical anchor; scanning
// past an open candidate would let a view that later commits it and a
// view that never does anchor on different leaders and decide the same
// round differently.
func (c *Committer) findAnchor(round types.Round) (*types.Block, bool) {
	highest := c.dag.HighestRound()
	for r := round + 3; r+2 <= highest; r++ {
		status, _, ok := c.resolve(r)
		if !ok {
			return nil, false
		}
		if status == LeaderSkip {
			continue
		}
		leader := c.committee.LeaderFor(r)
		b, ok := c.dag.GetByRoundAuthor(r, leader)
		if !ok {
			panic(fmt.Sprintf("CONSENSUS CRITICAL: committed anchor block missing at round %d", r))
		}
		return b, true
	}
	return nil, false
}

// indirectDecide resolves an aged undecided leader round against the next
// directly committed anchor: commit when the anchor's causal history
// contains a block that certifies the leader, skip otherwise.
func (c *Committer) indirectDecide(round types.Round, anchor *types.Block) LeaderStatus {
	leader := c.committee.LeaderFor(round)
	leaderRef, present := c.dag.RefByRoundAuthor(round, leader)
	if !present {
		return LeaderSkip
	}
	for _, b := range c.dag.CausalHistory(anchor.Ref()) {
		if b.Round != round+2 {
			continue
		}
		if c.certifies(b, leaderRef) {
			return LeaderCommit
		}
	}
	return LeaderSkip
}

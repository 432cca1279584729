package types

import (
	"bytes"
	"errors"
	"fmt"
)

// Committee limits
const (
	// MaxCommitteeSize bounds the roster; consensus cost is quadratic in
	// committee size, anything larger is a configuration mistake.
	MaxCommitteeSize = 4096

	// MaxTotalStake prevents overflow in quorum arithmetic.
	MaxTotalStake = Stake(1) << 60
)

// Committee errors
var (
	ErrEmptyCommittee     = errors.New("empty committee")
	ErrCommitteeTooLarge  = errors.New("too many committee members")
	ErrInvalidStake       = errors.New("invalid stake")
	ErrTotalStakeOverflow = errors.New("total stake overflow")
	ErrEmptyPublicKey     = errors.New("authority has empty public key")
	ErrDuplicatePublicKey = errors.New("duplicate authority public key")
	ErrEmptyScheme        = errors.New("authority has empty signature scheme")
)

// Authority is one committee seat: a stake weight and a scheme-tagged
// public key. The index of a seat is its position in the roster.
type Authority struct {
	Stake     Stake
	Scheme    string
	PublicKey []byte
}

// Committee is the static, stake-weighted validator roster with quorum
// threshold arithmetic and the deterministic leader schedule. It has no
// mutable state after construction.
type Committee struct {
	authorities []Authority
	cumulative  []Stake // cumulative[i] = sum of stakes of seats 0..i
	totalStake  Stake
	quorum      Stake
	validity    Stake
}

// NewCommittee constructs a committee from an ordered roster, validating
// stakes and keys.
func NewCommittee(authorities []Authority) (*Committee, error) {
	if len(authorities) == 0 {
		return nil, ErrEmptyCommittee
	}
	if len(authorities) > MaxCommitteeSize {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrCommitteeTooLarge, len(authorities), MaxCommitteeSize)
	}

	c := &Committee{
		authorities: make([]Authority, len(authorities)),
		cumulative:  make([]Stake, len(authorities)),
	}
	for i, a := range authorities {
		if a.Stake == 0 {
			return nil, fmt.Errorf("%w: authority %d has zero stake", ErrInvalidStake, i)
		}
		if len(a.PublicKey) == 0 {
			return nil, fmt.Errorf("%w: authority %d", ErrEmptyPublicKey, i)
		}
		if a.Scheme == "" {
			return nil, fmt.Errorf("%w: authority %d", ErrEmptyScheme, i)
		}
		for j := 0; j < i; j++ {
			if bytes.Equal(authorities[j].PublicKey, a.PublicKey) {
				return nil, fmt.Errorf("%w: authorities %d and %d", ErrDuplicatePublicKey, j, i)
			}
		}
		if c.totalStake > MaxTotalStake-a.Stake {
			return nil, fmt.Errorf("%w: exceeds %d", ErrTotalStakeOverflow, MaxTotalStake)
		}
		key := make([]byte, len(a.PublicKey))
		copy(key, a.PublicKey)
		c.authorities[i] = Authority{Stake: a.Stake, Scheme: a.Scheme, PublicKey: key}
		c.totalStake += a.Stake
		c.cumulative[i] = c.totalStake
	}

	c.quorum = quorumThreshold(c.totalStake)
	c.validity = c.totalStake/3 + 1
	return c, nil
}

// quorumThreshold returns the smallest stake strictly exceeding 2/3 of
// total. The calculation avoids multiplying total by 2, which could
// overflow, by summing two thirds and adjusting for the remainder.
func quorumThreshold(total Stake) Stake {
	third := total / 3
	remainder := total % 3
	twoThirds := third + third
	if remainder == 2 {
		twoThirds++
	}
	return twoThirds + 1
}

// Size returns the number of committee seats.
func (c *Committee) Size() int {
	return len(c.authorities)
}

// TotalStake returns the combined stake of all seats.
func (c *Committee) TotalStake() Stake {
	return c.totalStake
}

// QuorumThreshold returns the smallest total stake strictly exceeding two
// thirds of the committee's total stake. Under equal weighting with n=3f+1
// this tolerates f Byzantine validators.
func (c *Committee) QuorumThreshold() Stake {
	return c.quorum
}

// ValidityThreshold returns the smallest total stake strictly exceeding one
// third of the committee's total stake: any such set contains at least one
// honest validator.
func (c *Committee) ValidityThreshold() Stake {
	return c.validity
}

// Authority returns the seat at the given index.
func (c *Committee) Authority(i AuthorityIndex) (Authority, bool) {
	if int(i) >= len(c.authorities) {
		return Authority{}, false
	}
	return c.authorities[i], true
}

// KnownAuthority reports whether the index names a committee seat.
func (c *Committee) KnownAuthority(i AuthorityIndex) bool {
	return int(i) < len(c.authorities)
}

// StakeOf returns the stake of a seat, zero for unknown indices.
func (c *Committee) StakeOf(i AuthorityIndex) Stake {
	if int(i) >= len(c.authorities) {
		return 0
	}
	return c.authorities[i].Stake
}

// IsQuorumStake reports whether the given stake meets the quorum threshold.
func (c *Committee) IsQuorumStake(s Stake) bool {
	return s >= c.quorum
}

// IsValidityStake reports whether the given stake meets the validity
// threshold.
func (c *Committee) IsValidityStake(s Stake) bool {
	return s >= c.validity
}

// IsQuorum reports whether a set of authorities carries quorum stake.
// Duplicate indices never double-count.
func (c *Committee) IsQuorum(members []AuthorityIndex) bool {
	seen := make(map[AuthorityIndex]struct{}, len(members))
	var total Stake
	for _, m := range members {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		total += c.StakeOf(m)
	}
	return c.IsQuorumStake(total)
}

// LeaderFor returns the designated leader for a round.
//
// The schedule is a pure function of (committee, round): a stake-weighted
// rotation where the round number walks the cumulative stake line, so a
// seat leads a share of rounds proportional to its stake. With equal stakes
// this degenerates to round-robin. No process-global randomness is
// involved; every validator derives the identical schedule.
func (c *Committee) LeaderFor(round Round) AuthorityIndex {
	target := Stake(uint64(round) % uint64(c.totalStake))
	for i, cum := range c.cumulative {
		if target < cum {
			return AuthorityIndex(i)
		}
	}
	// Unreachable: cumulative[len-1] == totalStake > target.
	panic("CONSENSUS CRITICAL: leader schedule walked past total stake")
}

package engine

import "errors"

// Block admission rejections. These are local, recoverable conditions: the
// block never enters DAG state, the peer that sent it is flagged by the
// caller, and the run continues.
var (
	ErrBadSignature             = errors.New("bad block signature")
	ErrInsufficientParentQuorum = errors.New("parents do not form a quorum")
	ErrEquivocation             = errors.New("equivocating block for occupied (author, round)")
	ErrUnknownAncestor          = errors.New("unknown ancestor")
	ErrUnknownAuthor            = errors.New("author is not a committee member")
	ErrWrongParentRound         = errors.New("parent cited from wrong round")
	ErrDuplicateParentAuthor    = errors.New("duplicate author in parent set")
	ErrGenesisMismatch          = errors.New("round-zero block differs from genesis")
	ErrGenesisWithParents       = errors.New("round-zero block cites parents")
	ErrBlockTooLarge            = errors.New("block exceeds maximum size")
	ErrDuplicateBlock           = errors.New("block already in DAG state")
	ErrPendingOverflow          = errors.New("pending block buffer full")
)

// Engine lifecycle errors
var (
	ErrAlreadyStarted = errors.New("engine already started")
	ErrNotStarted     = errors.New("engine not started")
	ErrNoSigner       = errors.New("no signer configured")
	ErrNotInCommittee = errors.New("authority index outside committee")
)

package types

import (
	"bytes"
	"fmt"
)

// AuthorityIndex identifies a committee seat. Seats are numbered 0..n-1 in
// committee order and never change for the lifetime of a run.
type AuthorityIndex uint32

// Round is a discrete proposal step. Every block belongs to exactly one
// round and cites parents from the immediately preceding round.
type Round uint64

// Stake is a validator's voting weight.
type Stake uint64

// GenesisRound is the round of the implicit genesis blocks.
const GenesisRound Round = 0

// String formats small committees as letters (A, B, C, ...) the way run
// logs are usually read; larger indices fall back to a numeric form.
func (a AuthorityIndex) String() string {
	if a < 26 {
		return string(rune('A' + a))
	}
	return fmt.Sprintf("authority-%d", uint32(a))
}

// BlockReference identifies a block by digest together with the (author,
// round) slot it occupies in the DAG.
type BlockReference struct {
	Author AuthorityIndex
	Round  Round
	Digest Digest
}

// String returns a short form like "B3@1a2b3c4d".
func (r BlockReference) String() string {
	return fmt.Sprintf("%s%d%s", r.Author, r.Round, r.Digest)
}

// CompareRefs orders references by round, then author, then digest. This is
// the deterministic tie-break used by the linearizer.
func CompareRefs(a, b BlockReference) int {
	switch {
	case a.Round < b.Round:
		return -1
	case a.Round > b.Round:
		return 1
	}
	switch {
	case a.Author < b.Author:
		return -1
	case a.Author > b.Author:
		return 1
	}
	return bytes.Compare(a.Digest[:], b.Digest[:])
}

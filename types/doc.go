// Package types defines the core data model of the uncertified-DAG
// consensus engine: block digests, block references, signed blocks with
// their versioned wire encoding, and the static stake-weighted committee
// with its quorum arithmetic and deterministic leader schedule.
//
// Everything in this package is immutable after construction. Mutation of
// consensus state happens in the engine package only.
package types

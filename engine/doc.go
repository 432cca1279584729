// Package engine implements the uncertified-DAG consensus core: DAG state,
// block admission, the round-based proposer, the certificate-free commit
// rule and the deterministic linearizer.
//
// The engine orders transactions among a fixed committee by building a DAG
// of signed blocks. A block at round r cites a quorum of round r-1 blocks;
// no separate certificate messages exist. Finality of a round's leader
// block is inferred from the citation structure of the two following
// rounds, which is what removes one message round compared with
// certificate-based DAG-BFT designs.
//
// All DAG mutation happens on a single event-loop goroutine (single-writer
// discipline); agreement across validators comes from quorum intersection,
// not from locking.
package engine

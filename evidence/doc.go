// Package evidence records proof of Byzantine behavior observed during a
// run. The only evidence kind the uncertified DAG produces is equivocation:
// two distinct blocks signed by the same author for the same round.
//
// Evidence is durable for the lifetime of the run: once an author is marked
// suspect it stays suspect. Recording evidence never halts consensus; the
// DAG accepts at most one of the conflicting blocks, so no stake is ever
// credited twice.
package evidence

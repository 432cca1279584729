package engine

import (
	"context"
	"errors"
	"io"

	"github.com/blockberries/dagberry/types"
	"github.com/blockberries/dagberry/wal"
)

// ReplayWAL rebuilds DAG state from the write-ahead log after a restart.
//
// Block records are re-admitted through the normal validation path without
// being re-appended; commit records are skipped, because the commit rule
// is a pure function of DAG state and recomputes the identical decision
// sequence once the blocks are back. The proposer is then positioned past
// its own highest replayed block so the next proposal cannot conflict with
// a block signed before the crash.
//
// Committed sub-DAGs discovered during replay are re-delivered to the
// commit listener; consumers must treat delivery as at-least-once across
// restarts.
//
// A block that fails re-validation is a fatal inconsistency between the
// log and the rest of the state directory, except for buffering on missing
// ancestors, which resolves as later records arrive (the log preserves
// insertion order, so in practice it never triggers).
func (c *Core) ReplayWAL(ctx context.Context) error {
	reader, err := c.wal.NewReader()
	if err != nil {
		return err
	}
	defer reader.Close()

	var ownHighest types.Round
	replayed := 0
	for {
		msg, err := reader.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if msg.Type != wal.MsgTypeBlock {
			continue
		}

		b, err := types.DecodeWire(msg.Data)
		if err != nil {
			return err
		}
		if err := c.manager.SubmitReplayed(ctx, b); err != nil {
			if errors.Is(err, ErrDuplicateBlock) {
				continue
			}
			return err
		}
		replayed++
		if b.Author == c.authority && b.Round > ownHighest {
			ownHighest = b.Round
		}
	}

	c.ResumeFrom(ownHighest)
	if replayed > 0 {
		c.logger.Info("replayed write-ahead log", "blocks", replayed,
			"highest_round", c.dag.HighestRound(), "own_round", ownHighest)
		c.runCommit()
	}
	return nil
}

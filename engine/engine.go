package engine

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/blockberries/dagberry/evidence"
	"github.com/blockberries/dagberry/privval"
	"github.com/blockberries/dagberry/types"
	"github.com/blockberries/dagberry/wal"
)

const (
	// blockChannelSize buffers inbound peer blocks ahead of the loop.
	blockChannelSize = 1024

	// pendingSweepInterval is how often aged pending blocks are expired.
	pendingSweepInterval = time.Second
)

// Status is a point-in-time snapshot of engine state.
type Status struct {
	Running        bool
	Authority      types.AuthorityIndex
	HighestRound   types.Round
	LastProposed   types.Round
	CommitFrontier types.Round
	DagBlocks      int
	PendingBlocks  int
	Suspects       int
}

// Engine is the consensus engine facade. It owns the event loop that
// serializes all state mutation: inbound peer blocks, leader timeouts and
// pending-buffer sweeps are funneled through one goroutine, which is what
// lets the inner components stay lock-free.
//
// Wiring order: construct, install the broadcaster, payload provider and
// commit listener, then Start. Callbacks run on the event loop goroutine
// and must not block.
type Engine struct {
	cfg       *Config
	committee *types.Committee
	authority types.AuthorityIndex
	signer    privval.Signer
	logger    log.Logger

	dag      *DagState
	manager  *BlockManager
	core     *Core
	ticker   *RoundTicker
	wal      wal.WAL
	evidence *evidence.Pool

	blockCh  chan *types.Block
	statusCh chan chan Status
	quitCh   chan struct{}
	doneCh   chan struct{}

	mu      sync.Mutex
	running bool
}

// NewEngine assembles an engine for one committee seat. A nil WAL disables
// persistence; a nil Synchronizer disables ancestor fetching.
func NewEngine(
	cfg *Config,
	committee *types.Committee,
	authority types.AuthorityIndex,
	signer privval.Signer,
	w wal.WAL,
	synchronizer Synchronizer,
) (*Engine, error) {
	if err := cfg.ValidateBasic(); err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, ErrNoSigner
	}
	seat, ok := committee.Authority(authority)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotInCommittee, authority)
	}
	if !bytes.Equal(seat.PublicKey, signer.PublicKey()) {
		return nil, fmt.Errorf("%w: signer key does not match seat %s", ErrNotInCommittee, authority)
	}
	if w == nil {
		w = wal.NopWAL{}
	}

	logger := log.New("authority", authority)
	dag := NewDagState(committee)
	pool := evidence.NewPool()
	manager := NewBlockManager(cfg, committee, dag, pool, synchronizer, w, logger)
	committer := NewCommitter(committee, dag, cfg.SkipRounds, logger)
	linearizer := NewLinearizer(dag)
	ticker := NewRoundTicker(cfg.LeaderTimeout, logger)
	core := NewCore(cfg, committee, authority, signer, dag, manager, committer, linearizer, ticker, w, logger)

	return &Engine{
		cfg:       cfg,
		committee: committee,
		authority: authority,
		signer:    signer,
		logger:    logger,
		dag:       dag,
		manager:   manager,
		core:      core,
		ticker:    ticker,
		wal:       w,
		evidence:  pool,
		blockCh:   make(chan *types.Block, blockChannelSize),
		statusCh:  make(chan chan Status),
		quitCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// SetPayloadProvider installs the transaction source for own blocks. Must
// be called before Start.
func (e *Engine) SetPayloadProvider(p PayloadProvider) {
	e.core.SetPayloadProvider(p)
}

// SetBlockBroadcaster installs the outbound block sink. Must be called
// before Start.
func (e *Engine) SetBlockBroadcaster(b BlockBroadcaster) {
	e.core.SetBroadcaster(b)
}

// SetCommitListener installs the committed sub-DAG sink. Must be called
// before Start.
func (e *Engine) SetCommitListener(l CommitListener) {
	e.core.SetCommitListener(l)
}

// Start replays the WAL, proposes the first block and launches the event
// loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrAlreadyStarted
	}
	select {
	case <-e.quitCh:
		// Engines are single-use; build a new one instead of restarting.
		return ErrAlreadyStarted
	default:
	}

	if err := e.wal.Start(); err != nil {
		return fmt.Errorf("failed to start WAL: %w", err)
	}
	if err := e.core.ReplayWAL(ctx); err != nil {
		e.wal.Stop()
		return fmt.Errorf("failed to replay WAL: %w", err)
	}

	e.ticker.Start()
	e.core.Bootstrap()
	e.running = true

	go e.receiveRoutine(ctx)

	e.logger.Info("engine started", "committee_size", e.committee.Size(),
		"scheme", e.signer.SchemeName(), "last_proposed", e.core.LastProposed())
	return nil
}

// Stop shuts the event loop down, waiting up to the shutdown grace period
// for in-flight work to finish, then closes the ticker and the WAL.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ErrNotStarted
	}
	e.running = false

	close(e.quitCh)
	select {
	case <-e.doneCh:
	case <-time.After(e.cfg.ShutdownGracePeriod):
		e.logger.Warn("event loop did not drain within grace period")
	}

	e.ticker.Stop()
	if err := e.wal.Stop(); err != nil {
		return fmt.Errorf("failed to stop WAL: %w", err)
	}
	e.logger.Info("engine stopped")
	return nil
}

// SubmitBlock queues a peer block for admission. It fails when the engine
// is stopped or the inbound queue is full; a full queue means the peer
// should back off and redeliver.
func (e *Engine) SubmitBlock(b *types.Block) error {
	select {
	case <-e.quitCh:
		return ErrNotStarted
	default:
	}
	select {
	case e.blockCh <- b:
		return nil
	case <-e.quitCh:
		return ErrNotStarted
	default:
		return fmt.Errorf("%w: inbound queue full", ErrPendingOverflow)
	}
}

// HandleBlockMessage decodes a wire block from a peer and queues it.
func (e *Engine) HandleBlockMessage(peerID string, data []byte) error {
	b, err := types.DecodeWire(data)
	if err != nil {
		e.logger.Debug("undecodable block from peer", "peer", peerID, "err", err)
		return err
	}
	return e.SubmitBlock(b)
}

// Status returns a snapshot of engine state. While the engine runs, the
// snapshot is taken on the event loop for consistency.
func (e *Engine) Status() Status {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()

	if running {
		reply := make(chan Status, 1)
		select {
		case e.statusCh <- reply:
			return <-reply
		case <-e.quitCh:
		}
	}
	return e.snapshot(false)
}

func (e *Engine) snapshot(running bool) Status {
	return Status{
		Running:        running,
		Authority:      e.authority,
		HighestRound:   e.dag.HighestRound(),
		LastProposed:   e.core.LastProposed(),
		CommitFrontier: e.core.committer.Frontier(),
		DagBlocks:      e.dag.Len(),
		PendingBlocks:  e.manager.PendingCount(),
		Suspects:       len(e.evidence.Suspects()),
	}
}

// Evidence exposes the equivocation pool.
func (e *Engine) Evidence() *evidence.Pool {
	return e.evidence
}

// receiveRoutine is the event loop. Every state transition of the engine
// happens here.
func (e *Engine) receiveRoutine(ctx context.Context) {
	defer close(e.doneCh)

	sweep := time.NewTicker(pendingSweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-e.quitCh:
			return

		case <-ctx.Done():
			return

		case b := <-e.blockCh:
			if err := e.core.ProcessBlock(ctx, b); err != nil {
				e.logger.Debug("block rejected", "block", b.Ref(), "err", err)
			}

		case ti := <-e.ticker.Chan():
			e.core.OnTimeout(ti)

		case now := <-sweep.C:
			e.core.OnTick(now)

		case reply := <-e.statusCh:
			reply <- e.snapshot(true)
		}
	}
}

package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/blockberries/dagberry/types"
)

const (
	// timeoutChannelSize is the buffer size for timeout channels.
	timeoutChannelSize = 100
)

// TimeoutInfo represents a round-advancement timeout event.
type TimeoutInfo struct {
	Duration time.Duration
	Round    types.Round
}

// RoundTicker schedules the leader timeout for the proposer's current
// round. Scheduling a new timeout cancels the previous one; a timeout for
// a stale round is ignored by the receiver.
type RoundTicker struct {
	mu      sync.Mutex
	timeout time.Duration
	logger  log.Logger

	timer   *time.Timer
	tickCh  chan TimeoutInfo
	tockCh  chan TimeoutInfo
	stopCh  chan struct{}
	running bool

	droppedTimeouts uint64
}

// NewRoundTicker creates a RoundTicker with the given leader timeout.
func NewRoundTicker(timeout time.Duration, logger log.Logger) *RoundTicker {
	return &RoundTicker{
		timeout: timeout,
		logger:  logger,
		tickCh:  make(chan TimeoutInfo, timeoutChannelSize),
		tockCh:  make(chan TimeoutInfo, timeoutChannelSize),
		stopCh:  make(chan struct{}),
	}
}

// Start starts the ticker goroutine.
func (rt *RoundTicker) Start() {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.running {
		return
	}
	rt.running = true

	go rt.run()
}

// Stop stops the ticker.
func (rt *RoundTicker) Stop() {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if !rt.running {
		return
	}
	rt.running = false

	close(rt.stopCh)
	if rt.timer != nil {
		rt.timer.Stop()
	}
}

// Chan returns the channel that delivers timeout events.
func (rt *RoundTicker) Chan() <-chan TimeoutInfo {
	return rt.tockCh
}

// ScheduleTimeout schedules the leader timeout for a round, replacing any
// previously scheduled one.
func (rt *RoundTicker) ScheduleTimeout(round types.Round) {
	select {
	case rt.tickCh <- TimeoutInfo{Round: round}:
	case <-rt.stopCh:
	}
}

func (rt *RoundTicker) run() {
	for {
		select {
		case <-rt.stopCh:
			return

		case ti := <-rt.tickCh:
			rt.mu.Lock()
			if rt.timer != nil {
				rt.timer.Stop()
			}
			ti.Duration = rt.timeout
			tiCopy := ti
			rt.timer = time.AfterFunc(ti.Duration, func() {
				select {
				case rt.tockCh <- tiCopy:
				case <-rt.stopCh:
				default:
					count := atomic.AddUint64(&rt.droppedTimeouts, 1)
					rt.logger.Warn("dropped timeout due to full channel",
						"round", tiCopy.Round, "total_dropped", count)
				}
			})
			rt.mu.Unlock()
		}
	}
}

// DroppedTimeouts returns the number of timeouts dropped due to a full
// channel.
func (rt *RoundTicker) DroppedTimeouts() uint64 {
	return atomic.LoadUint64(&rt.droppedTimeouts)
}

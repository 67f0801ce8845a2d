// Package scheduler implements the admission-controlled spawn scheduler: a
// bounded admission queue in front of a single dispatch loop that caps
// concurrently in-flight work, adapts its pace to the external load signal,
// reserves exclusive formation slots, and records every request's outcome
// in the ledger.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/tacticsim/spawngate/internal/logging"
	"github.com/tacticsim/spawngate/internal/metrics"
	"github.com/tacticsim/spawngate/pkg/spawn/contracts"
	"github.com/tacticsim/spawngate/pkg/spawn/ledger"
	"github.com/tacticsim/spawngate/pkg/spawn/queue"
	"github.com/tacticsim/spawngate/pkg/spawn/reservation"
	"github.com/tacticsim/spawngate/pkg/spawn/throttle"
	"github.com/tacticsim/spawngate/pkg/spawn/types"
)

const (
	faultBucket       = time.Minute
	faultsPerBucket   = 10
	rejectedQueueFull = "queue_full"
	rejectedOverload  = "system_overloaded"
)

// Dependencies are the external collaborators and plumbing the scheduler is
// constructed with. Load, Slots, and Executor are required; the rest default
// sensibly when left zero.
type Dependencies struct {
	Load     contracts.LoadSignal
	Slots    contracts.SlotProvider
	Executor contracts.WorkExecutor

	Logger logr.Logger
	// Clock defaults to the real clock; tests inject fakes.
	Clock clock.WithTicker
	// Metrics may be nil to run unmetered.
	Metrics *metrics.Metrics
	// Multiplier overrides the throttle's blending policy. Nil selects the
	// linear policy with the configured floor.
	Multiplier throttle.MultiplierFunc
}

// Scheduler owns the dispatch loop and all scheduling state. One instance
// is constructed by the embedding application's startup path and passed to
// submitters by reference; there is no package-level instance.
type Scheduler struct {
	cfg      Config
	load     contracts.LoadSignal
	executor contracts.WorkExecutor
	clk      clock.WithTicker
	logger   logr.Logger
	metrics  *metrics.Metrics

	queue    *queue.AdmissionQueue
	ledger   *ledger.Ledger
	registry *reservation.Registry
	throttle *throttle.AdaptiveThrottle
	faults   *faultLimiter

	inFlight   atomic.Int64
	inFlightWG sync.WaitGroup

	started  atomic.Bool
	stopping atomic.Bool

	mu        sync.Mutex
	cancelRun context.CancelFunc
}

// New creates a Scheduler. The configuration is validated after defaults
// are applied.
func New(cfg Config, deps Dependencies) (*Scheduler, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}
	if deps.Load == nil {
		return nil, errors.New("load signal cannot be nil")
	}
	if deps.Slots == nil {
		return nil, errors.New("slot provider cannot be nil")
	}
	if deps.Executor == nil {
		return nil, errors.New("work executor cannot be nil")
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	logger := deps.Logger.WithName("spawn-scheduler")

	s := &Scheduler{
		cfg:      cfg,
		load:     deps.Load,
		executor: deps.Executor,
		clk:      deps.Clock,
		logger:   logger,
		metrics:  deps.Metrics,
		faults:   newFaultLimiter(faultBucket, faultsPerBucket),
	}
	s.ledger = ledger.New(cfg.LedgerRetention, deps.Clock, logger)
	s.registry = reservation.NewRegistry(deps.Slots, logger)
	s.throttle = throttle.New(deps.Load, cfg.RecomputePeriod,
		cfg.MultiplierFloor, cfg.ConcurrencyCapFloor, deps.Multiplier, deps.Clock, logger)
	s.queue = queue.New(cfg.QueueMaxLen, cfg.OverloadThreshold,
		cfg.QueueEntryTimeout, deps.Load, deps.Clock, logger, s.onQueueTimeout)
	return s, nil
}

// Submit offers a request to the admission queue. It returns nil when the
// request is accepted; types.ErrQueueFull or types.ErrSystemOverloaded on
// rejection; types.ErrSchedulerStopped during shutdown. Submit never blocks
// beyond lock contention.
func (s *Scheduler) Submit(req *types.SpawnRequest) error {
	if req == nil {
		return errors.New("request cannot be nil")
	}
	if req.ID == "" {
		return errors.New("request ID cannot be empty")
	}
	if req.Count < 1 {
		return fmt.Errorf("request count must be >= 1, got %d", req.Count)
	}
	if s.stopping.Load() {
		return types.ErrSchedulerStopped
	}

	s.metrics.Submitted()
	err := s.queue.Submit(req)
	if err == nil {
		// Track the request from the moment it is accepted, so GetStatus
		// and Await see it as Pending while it waits for dispatch.
		s.ledger.Register(req.ID)
		s.metrics.SetQueueLength(s.queue.Len())
		return nil
	}
	// Rejections are terminal states reached without ever being Pending.
	switch {
	case errors.Is(err, types.ErrQueueFull):
		s.ledger.Finalize(req.ID, types.StateQueueFull, err)
		s.metrics.Rejected(rejectedQueueFull)
	case errors.Is(err, types.ErrSystemOverloaded):
		s.ledger.Finalize(req.ID, types.StateSystemOverloaded, err)
		s.metrics.Rejected(rejectedOverload)
	}
	return err
}

// GetStatus returns the request's lifecycle state and recorded cause.
func (s *Scheduler) GetStatus(requestID string) (types.LifecycleState, error) {
	return s.ledger.GetStatus(requestID)
}

// Await blocks until the request reaches a terminal state or ctx expires.
// Callers must bound their own wait via ctx; an expired wait reports
// StateTimeout regardless of the request's eventual fate.
func (s *Scheduler) Await(ctx context.Context, requestID string) (types.LifecycleState, error) {
	return s.ledger.Await(ctx, requestID)
}

// Stats is a point-in-time observability snapshot.
type Stats struct {
	QueueLength     int
	InFlight        int
	TrackedRequests int
	LoadRatio       float64
	Multiplier      float64
	EffectiveCap    int
	EffectiveBatch  int
}

// Snapshot returns current queue, in-flight, and throttle readings.
func (s *Scheduler) Snapshot() Stats {
	ts := s.throttle.Current()
	return Stats{
		QueueLength:     s.queue.Len(),
		InFlight:        int(s.inFlight.Load()),
		TrackedRequests: s.ledger.Len(),
		LoadRatio:       ts.LoadRatio,
		Multiplier:      ts.Multiplier,
		EffectiveCap:    s.throttle.EffectiveConcurrencyCap(s.cfg.BaseConcurrencyCap),
		EffectiveBatch:  s.throttle.EffectiveBatchSize(s.cfg.BaseBatchSize),
	}
}

// Run executes the dispatch loop until ctx is cancelled or Shutdown is
// called. It blocks; run it from a dedicated goroutine. A Scheduler runs at
// most once.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("scheduler already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelRun = cancel
	s.mu.Unlock()
	defer cancel()

	s.logger.V(logging.DEFAULT).Info("spawn scheduler starting",
		"queueMaxLen", s.cfg.QueueMaxLen,
		"baseConcurrencyCap", s.cfg.BaseConcurrencyCap,
		"overloadThreshold", s.cfg.OverloadThreshold)
	defer s.logger.V(logging.DEFAULT).Info("spawn scheduler stopped")

	var bg sync.WaitGroup
	bg.Add(2)
	go func() {
		defer bg.Done()
		s.throttle.Run(ctx)
	}()
	go func() {
		defer bg.Done()
		s.runMaintenance(ctx)
	}()

	// The stopping flag covers Shutdown calls made before Run: the loop
	// must never dispatch once a shutdown has been requested.
	for ctx.Err() == nil && !s.stopping.Load() {
		s.iterate(ctx)
	}

	s.stopping.Store(true)
	cancel()
	s.drainQueue()
	bg.Wait()
	return nil
}

// iterate is one pass of the dispatch loop. Every pass is guarded by a
// recover so a transient fault backs the loop off instead of killing it;
// only explicit shutdown stops the loop.
func (s *Scheduler) iterate(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.reportFault(r)
			s.clk.Sleep(s.cfg.FaultBackoff)
		}
	}()

	if s.load.IsThrottled() {
		s.clk.Sleep(s.cfg.ThrottledBackoff)
		return
	}

	capNow := s.throttle.EffectiveConcurrencyCap(s.cfg.BaseConcurrencyCap)
	if int(s.inFlight.Load()) >= capNow {
		s.clk.Sleep(s.cfg.DispatchBackoff)
		return
	}

	batch := s.throttle.EffectiveBatchSize(s.cfg.BaseBatchSize)
	dispatched := 0
	for dispatched < batch && int(s.inFlight.Load()) < capNow {
		req, ok := s.queue.Dequeue()
		if !ok {
			break
		}
		s.dispatch(ctx, req)
		dispatched++
	}
	s.metrics.SetQueueLength(s.queue.Len())
	if dispatched == 0 {
		s.clk.Sleep(s.cfg.IdleBackoff)
	}
}

// dispatch hands the request to a worker goroutine, fire-and-continue. The
// loop never blocks on an individual execution; completion is observed
// through the worker's deferred bookkeeping.
func (s *Scheduler) dispatch(ctx context.Context, req *types.SpawnRequest) {
	// Already registered at Submit; a no-op here, kept so direct dispatch
	// paths cannot leak an untracked request.
	s.ledger.Register(req.ID)
	s.metrics.SetInFlight(int(s.inFlight.Add(1)))
	s.inFlightWG.Add(1)
	go s.execute(ctx, req)
}

// execute runs one unit of work: reserve a slot when needed, call the
// executor, write exactly one terminal ledger state, release the budget.
func (s *Scheduler) execute(ctx context.Context, req *types.SpawnRequest) {
	defer s.inFlightWG.Done()
	defer func() {
		s.decInFlight()
	}()

	state, cause := s.runExecution(ctx, req)
	s.ledger.Finalize(req.ID, state, cause)
	s.metrics.Completed(state.String())
}

// runExecution isolates the fallible part of execute. An executor panic is
// converted to a StateError outcome for this request alone; it never
// propagates to other submitters or to the loop.
func (s *Scheduler) runExecution(ctx context.Context, req *types.SpawnRequest) (state types.LifecycleState, cause error) {
	slot := types.NoSlotHint
	reserved := false
	defer func() {
		if r := recover(); r != nil {
			if reserved {
				s.registry.Release(req.GroupID, slot)
			}
			state = types.StateError
			cause = fmt.Errorf("executor panic: %v", r)
		}
	}()

	if req.SlotHint != types.NoSlotHint {
		// The caller asserts it already holds this slot.
		slot = req.SlotHint
	} else if req.GroupID != "" {
		idx, err := s.registry.Reserve(req.GroupID)
		if err != nil {
			return types.StateError, fmt.Errorf("%w: group %q", err, req.GroupID)
		}
		slot = idx
		reserved = true
	}

	start := s.clk.Now()
	err := s.executor.Execute(ctx, req, slot)
	s.metrics.ObserveExecution(s.clk.Since(start).Seconds())

	switch {
	case err == nil:
		// The spawned actor now occupies the slot; the reservation stands
		// until the world reports the slot free again via Validate.
		return types.StateSuccess, nil
	case ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		if reserved {
			s.registry.Release(req.GroupID, slot)
		}
		return types.StateCancelled, fmt.Errorf("%w: %w", types.ErrCancelled, err)
	default:
		if reserved {
			s.registry.Release(req.GroupID, slot)
		}
		return types.StateError, err
	}
}

// Shutdown initiates a graceful stop: no new dequeues, in-flight work gets
// up to drainTimeout to finish, then the in-flight accounting is forced to
// zero so shutdown cannot hang on a stuck executor. Safe to call more than
// once and before Run.
func (s *Scheduler) Shutdown(drainTimeout time.Duration) {
	s.stopping.Store(true)
	s.mu.Lock()
	cancel := s.cancelRun
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.inFlightWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.V(logging.DEFAULT).Info("shutdown drain complete")
	case <-s.clk.After(drainTimeout):
		remaining := s.inFlight.Load()
		s.logger.Info("drain timeout exceeded, forcing in-flight count to zero",
			"drainTimeout", drainTimeout.String(), "remaining", remaining)
		s.forceInFlightZero()
	}
}

// Ledger exposes the request ledger for embedding applications that want
// direct read access.
func (s *Scheduler) Ledger() *ledger.Ledger { return s.ledger }

// Reservations exposes the reservation registry, mainly for validation
// hooks and tests.
func (s *Scheduler) Reservations() *reservation.Registry { return s.registry }

// onQueueTimeout records the Timeout terminal state for requests the queue
// dropped lazily.
func (s *Scheduler) onQueueTimeout(req *types.SpawnRequest) {
	s.ledger.Finalize(req.ID, types.StateTimeout, types.ErrTimeout)
	s.metrics.Completed(types.StateTimeout.String())
}

// drainQueue finalizes everything still queued at shutdown as Cancelled.
func (s *Scheduler) drainQueue() {
	for _, req := range s.queue.Drain() {
		s.ledger.Finalize(req.ID, types.StateCancelled,
			fmt.Errorf("%w: %w", types.ErrCancelled, types.ErrSchedulerStopped))
		s.metrics.Completed(types.StateCancelled.String())
	}
	s.metrics.SetQueueLength(0)
}

// runMaintenance drives the periodic reconciliation work: reservation
// validation against the live world, ledger retention sweeps, and the
// throttle gauge refresh.
func (s *Scheduler) runMaintenance(ctx context.Context) {
	ticker := s.clk.NewTicker(s.cfg.MaintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			pruned := s.registry.ValidateAll()
			swept := s.ledger.Sweep()
			s.metrics.SetMultiplier(s.throttle.Current().Multiplier)
			if pruned > 0 || swept > 0 {
				s.logger.V(logging.VERBOSE).Info("maintenance pass",
					"stalePruned", pruned, "ledgerSwept", swept)
			}
		}
	}
}

// decInFlight decrements the in-flight counter without going below zero,
// which can otherwise happen when a forced drain already zeroed it.
func (s *Scheduler) decInFlight() {
	for {
		cur := s.inFlight.Load()
		if cur <= 0 {
			s.metrics.SetInFlight(0)
			return
		}
		if s.inFlight.CompareAndSwap(cur, cur-1) {
			s.metrics.SetInFlight(int(cur - 1))
			return
		}
	}
}

// forceInFlightZero releases the remaining concurrency budget after a drain
// timeout. The worker goroutines keep running until their contexts cancel,
// but they no longer hold budget or block shutdown.
func (s *Scheduler) forceInFlightZero() {
	s.inFlight.Store(0)
	s.metrics.SetInFlight(0)
}

// reportFault logs an internal loop fault through the rate limiter.
func (s *Scheduler) reportFault(r any) {
	ok, suppressed := s.faults.allow(s.clk.Now())
	if !ok {
		return
	}
	if suppressed > 0 {
		s.logger.Info("internal faults suppressed in previous window", "count", suppressed)
	}
	s.logger.Error(fmt.Errorf("%v", r), "unexpected fault in dispatch loop, backing off")
}

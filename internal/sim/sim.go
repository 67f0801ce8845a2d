// Package sim provides the synthetic collaborators the demo binary runs
// the scheduler against: a work executor with configurable latency and
// failure rate, and a driver that submits a steady stream of spawn
// requests across the layout's groups.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/tacticsim/spawngate/internal/logging"
	"github.com/tacticsim/spawngate/pkg/spawn/scheduler"
	"github.com/tacticsim/spawngate/pkg/spawn/types"
)

// Executor simulates the expensive actor-creation call.
type Executor struct {
	latency     time.Duration
	failureRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewExecutor creates an Executor with the given per-call latency and
// failure probability.
func NewExecutor(latency time.Duration, failureRate float64, seed int64) *Executor {
	return &Executor{
		latency:     latency,
		failureRate: failureRate,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Execute sleeps for the configured latency, honoring cancellation, then
// fails with the configured probability.
func (e *Executor) Execute(ctx context.Context, req *types.SpawnRequest, slotIndex int) error {
	timer := time.NewTimer(e.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	e.mu.Lock()
	roll := e.rng.Float64()
	e.mu.Unlock()
	if roll < e.failureRate {
		return fmt.Errorf("simulated spawn failure for request %s (slot %d)", req.ID, slotIndex)
	}
	return nil
}

// Driver submits synthetic requests to the scheduler at a fixed rate,
// spreading them across the given groups.
type Driver struct {
	sched  *scheduler.Scheduler
	groups []string
	rate   int
	logger logr.Logger
}

// NewDriver creates a Driver submitting rate requests per second.
func NewDriver(sched *scheduler.Scheduler, groups []string, rate int, logger logr.Logger) *Driver {
	return &Driver{
		sched:  sched,
		groups: groups,
		rate:   rate,
		logger: logger.WithName("sim-driver"),
	}
}

// Run submits until ctx is cancelled. Admission rejections are expected
// under load and only counted, not treated as failures.
func (d *Driver) Run(ctx context.Context) {
	if d.rate <= 0 || len(d.groups) == 0 {
		return
	}
	ticker := time.NewTicker(time.Second / time.Duration(d.rate))
	defer ticker.Stop()

	var submitted, rejected uint64
	report := time.NewTicker(10 * time.Second)
	defer report.Stop()

	i := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-report.C:
			d.logger.V(logging.DEFAULT).Info("driver progress",
				"submitted", submitted, "rejected", rejected)
		case <-ticker.C:
			group := d.groups[i%len(d.groups)]
			i++
			req := types.NewSpawnRequest(group, fmt.Sprintf("party-%d", i%8), 1)
			submitted++
			if err := d.sched.Submit(req); err != nil {
				rejected++
				d.logger.V(logging.DEBUG).Info("submission rejected",
					"requestID", req.ID, "reason", err.Error())
			}
		}
	}
}

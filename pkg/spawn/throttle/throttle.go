// Package throttle converts the external load signal into effective batch
// and concurrency limits for the scheduler. This is the one place policy
// and measurement meet: the blending formula is pluggable so tests can
// inject synthetic policies, and recomputation is periodic rather than
// per-request to keep noisy load samples from thrashing the limits.
package throttle

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/tacticsim/spawngate/internal/logging"
	"github.com/tacticsim/spawngate/pkg/spawn/contracts"
)

// MultiplierFunc derives the throughput multiplier from a load ratio.
// Implementations must be monotonically non-increasing in loadRatio and
// bounded to (0, 1].
type MultiplierFunc func(loadRatio float64) float64

// LinearMultiplier returns the default policy: clamp(1-loadRatio, floor, 1).
// The floor keeps throughput above zero under sustained high load, trading
// a hard stop for graceful degradation.
func LinearMultiplier(floor float64) MultiplierFunc {
	return func(loadRatio float64) float64 {
		m := 1.0 - loadRatio
		if m < floor {
			return floor
		}
		if m > 1.0 {
			return 1.0
		}
		return m
	}
}

// State is an immutable snapshot of the throttle's derived limits.
type State struct {
	// LoadRatio is the load sample the snapshot was computed from.
	LoadRatio float64
	// Multiplier is the effective throughput multiplier in (0, 1].
	Multiplier float64
	// ComputedAt is when the snapshot was taken.
	ComputedAt time.Time
}

// AdaptiveThrottle periodically recomputes a throttle State from the load
// signal. Readers get lock-free access to the latest snapshot.
type AdaptiveThrottle struct {
	load       contracts.LoadSignal
	multiplier MultiplierFunc
	period     time.Duration
	capFloor   int
	clk        clock.WithTicker
	logger     logr.Logger

	state atomic.Pointer[State]
}

// New creates an AdaptiveThrottle. multiplier may be nil, in which case the
// linear policy with the given multiplierFloor applies. capFloor is the
// minimum effective concurrency cap, at least 1.
func New(
	load contracts.LoadSignal,
	period time.Duration,
	multiplierFloor float64,
	capFloor int,
	multiplier MultiplierFunc,
	clk clock.WithTicker,
	logger logr.Logger,
) *AdaptiveThrottle {
	if multiplier == nil {
		multiplier = LinearMultiplier(multiplierFloor)
	}
	if capFloor < 1 {
		capFloor = 1
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	t := &AdaptiveThrottle{
		load:       load,
		multiplier: multiplier,
		period:     period,
		capFloor:   capFloor,
		clk:        clk,
		logger:     logger.WithName("adaptive-throttle"),
	}
	// Start from full throughput until the first sample arrives.
	t.state.Store(&State{LoadRatio: 0, Multiplier: 1.0, ComputedAt: clk.Now()})
	return t
}

// Recompute derives and publishes a new State from the given load ratio.
func (t *AdaptiveThrottle) Recompute(loadRatio float64) State {
	s := State{
		LoadRatio:  loadRatio,
		Multiplier: t.multiplier(loadRatio),
		ComputedAt: t.clk.Now(),
	}
	t.state.Store(&s)
	t.logger.V(logging.VERBOSE).Info("throttle state recomputed",
		"loadRatio", loadRatio, "multiplier", s.Multiplier)
	return s
}

// Run recomputes the state from the load signal on the configured period
// until ctx is cancelled. Intended to run as a goroutine owned by the
// scheduler.
func (t *AdaptiveThrottle) Run(ctx context.Context) {
	ticker := t.clk.NewTicker(t.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			t.Recompute(t.load.GetLoadRatio())
		}
	}
}

// Current returns the latest published snapshot.
func (t *AdaptiveThrottle) Current() State {
	return *t.state.Load()
}

// EffectiveBatchSize scales the base batch size by the current multiplier,
// never below 1.
func (t *AdaptiveThrottle) EffectiveBatchSize(base int) int {
	return scale(base, t.state.Load().Multiplier, 1)
}

// EffectiveConcurrencyCap scales the base concurrency cap by the current
// multiplier, never below the configured cap floor.
func (t *AdaptiveThrottle) EffectiveConcurrencyCap(base int) int {
	return scale(base, t.state.Load().Multiplier, t.capFloor)
}

func scale(base int, multiplier float64, floor int) int {
	v := int(math.Floor(float64(base) * multiplier))
	if v < floor {
		return floor
	}
	return v
}

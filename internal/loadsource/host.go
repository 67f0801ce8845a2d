// Package loadsource provides LoadSignal implementations for the spawngate
// daemon: a host sampler backed by gopsutil and a synthetic signal for
// simulations and tests. The scheduling core only ever sees the
// contracts.LoadSignal interface.
package loadsource

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/tacticsim/spawngate/internal/logging"
)

const (
	// ewmaAlpha smooths instantaneous samples; a low alpha favors the
	// history so one noisy sample cannot swing admission decisions.
	ewmaAlpha = 0.3

	defaultSamplePeriod      = 2 * time.Second
	defaultThrottleThreshold = 0.9
)

// HostSignal derives a load ratio from the machine's CPU and memory use.
// CPU dominates the blend; memory only contributes once it nears
// exhaustion, since a mostly-full page cache is normal.
type HostSignal struct {
	period    time.Duration
	threshold float64
	logger    logr.Logger

	ratio atomic.Uint64 // math.Float64bits
}

// NewHostSignal creates a host sampler. Zero period and threshold select
// the defaults (2s, 0.9).
func NewHostSignal(period time.Duration, throttleThreshold float64, logger logr.Logger) *HostSignal {
	if period <= 0 {
		period = defaultSamplePeriod
	}
	if throttleThreshold <= 0 {
		throttleThreshold = defaultThrottleThreshold
	}
	return &HostSignal{
		period:    period,
		threshold: throttleThreshold,
		logger:    logger.WithName("host-load"),
	}
}

// Run samples the host until ctx is cancelled. Run it as a goroutine; the
// getters are safe to call concurrently from the start.
func (h *HostSignal) Run(ctx context.Context) {
	ticker := time.NewTicker(h.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sample(ctx)
		}
	}
}

func (h *HostSignal) sample(ctx context.Context) {
	instant, err := h.read(ctx)
	if err != nil {
		h.logger.Error(err, "host sample failed, keeping previous ratio")
		return
	}
	prev := h.GetLoadRatio()
	next := ewmaAlpha*instant + (1-ewmaAlpha)*prev
	h.ratio.Store(math.Float64bits(next))
	h.logger.V(logging.TRACE).Info("host load sampled", "instant", instant, "smoothed", next)
}

func (h *HostSignal) read(ctx context.Context) (float64, error) {
	cpuPct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}

	cpuRatio := 0.0
	if len(cpuPct) > 0 {
		cpuRatio = cpuPct[0] / 100
	}
	// Memory pressure ramps from 0 at 70% used to 1 at 95% used.
	memRatio := (vm.UsedPercent/100 - 0.70) / 0.25
	if memRatio < 0 {
		memRatio = 0
	}
	return math.Max(cpuRatio, memRatio), nil
}

// GetLoadRatio returns the smoothed load ratio.
func (h *HostSignal) GetLoadRatio() float64 {
	return math.Float64frombits(h.ratio.Load())
}

// IsThrottled reports whether the smoothed ratio exceeds the throttle
// threshold.
func (h *HostSignal) IsThrottled() bool {
	return h.GetLoadRatio() > h.threshold
}

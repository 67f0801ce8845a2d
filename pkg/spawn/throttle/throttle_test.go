package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/tacticsim/spawngate/internal/loadsource"
	"github.com/tacticsim/spawngate/internal/logging"
)

func newTestThrottle(multiplierFloor float64, capFloor int, fn MultiplierFunc) *AdaptiveThrottle {
	return New(loadsource.NewStaticSignal(0), time.Second, multiplierFloor, capFloor, fn, nil, logging.NewTestLogger())
}

func TestLinearMultiplier(t *testing.T) {
	tests := []struct {
		name      string
		loadRatio float64
		floor     float64
		want      float64
	}{
		{name: "idle", loadRatio: 0, floor: 0.1, want: 1.0},
		{name: "half load", loadRatio: 0.5, floor: 0.1, want: 0.5},
		{name: "high load", loadRatio: 0.85, floor: 0.1, want: 0.15},
		{name: "floored", loadRatio: 0.95, floor: 0.1, want: 0.1},
		{name: "saturated", loadRatio: 1.0, floor: 0.1, want: 0.1},
		{name: "overshoot above 1", loadRatio: 1.4, floor: 0.1, want: 0.1},
		{name: "negative ratio clamps to full", loadRatio: -0.2, floor: 0.1, want: 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn := LinearMultiplier(tt.floor)
			assert.InDelta(t, tt.want, fn(tt.loadRatio), 1e-9)
		})
	}
}

func TestEffectiveConcurrencyCapMonotonic(t *testing.T) {
	th := newTestThrottle(0.1, 1, nil)

	const baseCap = 20
	prev := baseCap + 1
	for ratio := 0.0; ratio <= 1.5; ratio += 0.05 {
		th.Recompute(ratio)
		cap := th.EffectiveConcurrencyCap(baseCap)
		assert.LessOrEqual(t, cap, prev,
			"cap must be non-increasing as load rises (ratio=%.2f)", ratio)
		assert.GreaterOrEqual(t, cap, 1, "cap must never drop below the floor")
		prev = cap
	}
}

func TestEffectiveCapFloor(t *testing.T) {
	th := newTestThrottle(0.1, 3, nil)
	th.Recompute(1.0)
	assert.Equal(t, 3, th.EffectiveConcurrencyCap(20))
	// Floor applies even when base*multiplier rounds to zero.
	assert.Equal(t, 3, th.EffectiveConcurrencyCap(1))
}

func TestEffectiveBatchSizeNeverZero(t *testing.T) {
	th := newTestThrottle(0.1, 1, nil)
	th.Recompute(1.5)
	assert.Equal(t, 1, th.EffectiveBatchSize(4))
	assert.Equal(t, 1, th.EffectiveBatchSize(1))
}

func TestEffectiveBatchSizeScaling(t *testing.T) {
	th := newTestThrottle(0.1, 1, nil)

	th.Recompute(0)
	assert.Equal(t, 8, th.EffectiveBatchSize(8))

	th.Recompute(0.5)
	assert.Equal(t, 4, th.EffectiveBatchSize(8))

	th.Recompute(0.75)
	assert.Equal(t, 2, th.EffectiveBatchSize(8))
}

func TestRecomputePublishesState(t *testing.T) {
	th := newTestThrottle(0.1, 1, nil)

	s := th.Recompute(0.4)
	assert.InDelta(t, 0.4, s.LoadRatio, 1e-9)
	assert.InDelta(t, 0.6, s.Multiplier, 1e-9)

	current := th.Current()
	assert.Equal(t, s.LoadRatio, current.LoadRatio)
	assert.Equal(t, s.Multiplier, current.Multiplier)
}

func TestInitialStateIsFullThroughput(t *testing.T) {
	th := newTestThrottle(0.1, 1, nil)
	assert.InDelta(t, 1.0, th.Current().Multiplier, 1e-9)
	assert.Equal(t, 8, th.EffectiveConcurrencyCap(8))
}

func TestRunRecomputesOnTick(t *testing.T) {
	clk := testingclock.NewFakeClock(time.Now())
	load := loadsource.NewStaticSignal(0.6)
	th := New(load, 50*time.Millisecond, 0.1, 1, nil, clk, logging.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go th.Run(ctx)

	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond,
		"recompute loop never armed its ticker")
	clk.Step(50 * time.Millisecond)

	require.Eventually(t, func() bool {
		return th.Current().LoadRatio == 0.6
	}, time.Second, time.Millisecond)
	assert.InDelta(t, 0.4, th.Current().Multiplier, 1e-9)
	assert.Equal(t, clk.Now(), th.Current().ComputedAt)
}

func TestPluggableMultiplier(t *testing.T) {
	// A step policy: full speed below 0.5, floor above.
	step := func(loadRatio float64) float64 {
		if loadRatio < 0.5 {
			return 1.0
		}
		return 0.25
	}
	th := newTestThrottle(0.1, 1, step)

	th.Recompute(0.4)
	require.Equal(t, 8, th.EffectiveConcurrencyCap(8))

	th.Recompute(0.6)
	require.Equal(t, 2, th.EffectiveConcurrencyCap(8))
}

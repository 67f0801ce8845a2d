package loadsource

import (
	"math"
	"sync/atomic"
)

// StaticSignal is a LoadSignal whose readings are set programmatically.
// Simulations use it to shape load; tests use it to hit exact thresholds.
type StaticSignal struct {
	ratio     atomic.Uint64 // math.Float64bits
	throttled atomic.Bool
}

// NewStaticSignal creates a StaticSignal reporting the given ratio and not
// throttled.
func NewStaticSignal(ratio float64) *StaticSignal {
	s := &StaticSignal{}
	s.SetLoadRatio(ratio)
	return s
}

// SetLoadRatio updates the reported ratio.
func (s *StaticSignal) SetLoadRatio(ratio float64) {
	s.ratio.Store(math.Float64bits(ratio))
}

// SetThrottled updates the throttle hint.
func (s *StaticSignal) SetThrottled(throttled bool) {
	s.throttled.Store(throttled)
}

// GetLoadRatio returns the configured ratio.
func (s *StaticSignal) GetLoadRatio() float64 {
	return math.Float64frombits(s.ratio.Load())
}

// IsThrottled returns the configured hint.
func (s *StaticSignal) IsThrottled() bool {
	return s.throttled.Load()
}

package scheduler

import (
	"fmt"
	"time"
)

// Defaults applied by Config.withDefaults for fields left at zero.
const (
	DefaultQueueMaxLen         = 256
	DefaultOverloadThreshold   = 0.8
	DefaultQueueEntryTimeout   = 30 * time.Second
	DefaultBaseConcurrencyCap  = 8
	DefaultBaseBatchSize       = 4
	DefaultMultiplierFloor     = 0.1
	DefaultConcurrencyCapFloor = 1
	DefaultRecomputePeriod     = 5 * time.Second
	DefaultThrottledBackoff    = 250 * time.Millisecond
	DefaultDispatchBackoff     = 50 * time.Millisecond
	DefaultIdleBackoff         = 20 * time.Millisecond
	DefaultFaultBackoff        = time.Second
	DefaultLedgerRetention     = 5 * time.Minute
	DefaultMaintenanceInterval = 30 * time.Second
)

// Config is the flat set of numeric options the scheduler takes at
// construction time. The zero value is usable: withDefaults fills every
// unset field.
type Config struct {
	// QueueMaxLen bounds the admission queue. Submissions beyond it are
	// rejected with QueueFull.
	QueueMaxLen int

	// OverloadThreshold is the load ratio above which submissions are
	// rejected with SystemOverloaded regardless of queue space.
	OverloadThreshold float64

	// QueueEntryTimeout is the maximum age of a queued request before it is
	// dropped lazily with a Timeout outcome.
	QueueEntryTimeout time.Duration

	// BaseConcurrencyCap caps concurrently in-flight executions when the
	// system is unloaded. The adaptive throttle scales it down under load.
	BaseConcurrencyCap int

	// BaseBatchSize is how many requests one loop iteration may dispatch
	// when the system is unloaded, likewise throttle-scaled.
	BaseBatchSize int

	// MultiplierFloor is the lower bound of the throttle multiplier, keeping
	// throughput above zero under sustained load.
	MultiplierFloor float64

	// ConcurrencyCapFloor is the lowest effective concurrency cap the
	// throttle may derive.
	ConcurrencyCapFloor int

	// RecomputePeriod is how often the throttle re-samples the load signal.
	RecomputePeriod time.Duration

	// ThrottledBackoff is the loop's pause while the load signal reports a
	// throttled system.
	ThrottledBackoff time.Duration

	// DispatchBackoff is the loop's pause while the concurrency budget is
	// exhausted.
	DispatchBackoff time.Duration

	// IdleBackoff is the loop's pause when the queue is empty.
	IdleBackoff time.Duration

	// FaultBackoff is the loop's pause after an unexpected internal fault.
	FaultBackoff time.Duration

	// LedgerRetention is how long terminal ledger entries stay pollable
	// before eviction.
	LedgerRetention time.Duration

	// MaintenanceInterval drives reservation validation and ledger sweeps.
	MaintenanceInterval time.Duration
}

// Validate rejects configurations the scheduler cannot operate under.
func (c *Config) Validate() error {
	if c.QueueMaxLen <= 0 {
		return fmt.Errorf("queueMaxLen must be positive, got %d", c.QueueMaxLen)
	}
	if c.OverloadThreshold <= 0 || c.OverloadThreshold > 1.5 {
		return fmt.Errorf("overloadThreshold must be in (0, 1.5], got %.2f", c.OverloadThreshold)
	}
	if c.BaseConcurrencyCap <= 0 {
		return fmt.Errorf("baseConcurrencyCap must be positive, got %d", c.BaseConcurrencyCap)
	}
	if c.BaseBatchSize <= 0 {
		return fmt.Errorf("baseBatchSize must be positive, got %d", c.BaseBatchSize)
	}
	if c.MultiplierFloor <= 0 || c.MultiplierFloor > 1 {
		return fmt.Errorf("multiplierFloor must be in (0, 1], got %.2f", c.MultiplierFloor)
	}
	if c.ConcurrencyCapFloor < 1 || c.ConcurrencyCapFloor > c.BaseConcurrencyCap {
		return fmt.Errorf("concurrencyCapFloor must be in [1, baseConcurrencyCap], got %d", c.ConcurrencyCapFloor)
	}
	if c.QueueEntryTimeout <= 0 {
		return fmt.Errorf("queueEntryTimeout must be positive, got %s", c.QueueEntryTimeout)
	}
	if c.RecomputePeriod <= 0 {
		return fmt.Errorf("recomputePeriod must be positive, got %s", c.RecomputePeriod)
	}
	return nil
}

// withDefaults returns a copy with zero fields replaced by defaults.
func (c Config) withDefaults() Config {
	if c.QueueMaxLen == 0 {
		c.QueueMaxLen = DefaultQueueMaxLen
	}
	if c.OverloadThreshold == 0 {
		c.OverloadThreshold = DefaultOverloadThreshold
	}
	if c.QueueEntryTimeout == 0 {
		c.QueueEntryTimeout = DefaultQueueEntryTimeout
	}
	if c.BaseConcurrencyCap == 0 {
		c.BaseConcurrencyCap = DefaultBaseConcurrencyCap
	}
	if c.BaseBatchSize == 0 {
		c.BaseBatchSize = DefaultBaseBatchSize
	}
	if c.MultiplierFloor == 0 {
		c.MultiplierFloor = DefaultMultiplierFloor
	}
	if c.ConcurrencyCapFloor == 0 {
		c.ConcurrencyCapFloor = DefaultConcurrencyCapFloor
	}
	if c.RecomputePeriod == 0 {
		c.RecomputePeriod = DefaultRecomputePeriod
	}
	if c.ThrottledBackoff == 0 {
		c.ThrottledBackoff = DefaultThrottledBackoff
	}
	if c.DispatchBackoff == 0 {
		c.DispatchBackoff = DefaultDispatchBackoff
	}
	if c.IdleBackoff == 0 {
		c.IdleBackoff = DefaultIdleBackoff
	}
	if c.FaultBackoff == 0 {
		c.FaultBackoff = DefaultFaultBackoff
	}
	if c.LedgerRetention == 0 {
		c.LedgerRetention = DefaultLedgerRetention
	}
	if c.MaintenanceInterval == 0 {
		c.MaintenanceInterval = DefaultMaintenanceInterval
	}
	return c
}

package scheduler

import (
	"sync"
	"time"
)

// faultLimiter bounds how many internal faults get logged per time bucket,
// so a persistently failing collaborator cannot produce unbounded log
// volume. Faults beyond the per-bucket budget are counted but suppressed;
// the suppressed count is reported when the next bucket opens.
type faultLimiter struct {
	bucket time.Duration
	max    int

	mu          sync.Mutex
	windowStart time.Time
	count       int
	suppressed  int
}

func newFaultLimiter(bucket time.Duration, max int) *faultLimiter {
	return &faultLimiter{bucket: bucket, max: max}
}

// allow reports whether a fault occurring at now should be logged, along
// with how many faults were suppressed in the previous bucket (non-zero
// only on the first allowed fault of a new bucket).
func (f *faultLimiter) allow(now time.Time) (ok bool, suppressed int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if now.Sub(f.windowStart) >= f.bucket {
		suppressed = f.suppressed
		f.windowStart = now
		f.count = 0
		f.suppressed = 0
	}
	f.count++
	if f.count > f.max {
		f.suppressed++
		return false, 0
	}
	return true, suppressed
}

package download

import (
	"sync"
	"sync/atomic"
	"time"
)

// progressTracker aggregates bytes downloaded across chunk workers
// and emits throttled speed/ETA estimates, per spec.md §4.4 step 6.
type progressTracker struct {
	total     int64
	report    ProgressFunc
	written   int64
	mu        sync.Mutex
	lastEmit  time.Time
	lastBytes int64
}

func newProgressTracker(total, alreadyDownloaded int64, report ProgressFunc) *progressTracker {
	return &progressTracker{
		total:     total,
		report:    report,
		written:   alreadyDownloaded,
		lastEmit:  time.Now(),
		lastBytes: alreadyDownloaded,
	}
}

func (t *progressTracker) add(n int64) {
	written := atomic.AddInt64(&t.written, n)
	if t.report == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(t.lastEmit)
	if elapsed < progressInterval && written < t.total {
		return
	}

	speed := float64(0)
	if elapsed > 0 {
		speed = float64(written-t.lastBytes) / elapsed.Seconds()
	}
	var eta time.Duration
	if speed > 0 {
		etaSeconds := float64(t.total-written) / speed
		eta = time.Duration(etaSeconds * float64(time.Second))
	}

	t.lastEmit = now
	t.lastBytes = written
	t.report(written, t.total, speed, eta)
}

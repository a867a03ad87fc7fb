package hostlib

import (
	"sync"
	"sync/atomic"
	"time"
)

// minSampleWindow is the smallest interval over which an instantaneous
// rate is computed. Shorter windows make the displayed rate jitter.
const minSampleWindow = 100 * time.Millisecond

// BandwidthCounter is the shared byte accumulator all clients of a host
// feed. Add is a single atomic op so it is cheap enough to call from
// every read; Rate derives bytes/second over at least minSampleWindow.
type BandwidthCounter struct {
	total atomic.Int64

	mu         sync.Mutex
	sampleAt   time.Time
	sampleVal  int64
	cachedRate int64
}

// NewBandwidthCounter returns a counter ready for use.
func NewBandwidthCounter() *BandwidthCounter {
	return &BandwidthCounter{sampleAt: time.Now()}
}

// Add records n transferred bytes.
func (b *BandwidthCounter) Add(n int64) {
	b.total.Add(n)
}

// Total returns the lifetime byte count.
func (b *BandwidthCounter) Total() int64 {
	return b.total.Load()
}

// Rate returns the instantaneous throughput in bytes per second. The
// value only advances once per sampling window; calls inside the window
// return the previous figure.
func (b *BandwidthCounter) Rate() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	elapsed := time.Since(b.sampleAt)
	if elapsed < minSampleWindow {
		return b.cachedRate
	}
	cur := b.total.Load()
	b.cachedRate = int64(float64(cur-b.sampleVal) / elapsed.Seconds())
	b.sampleVal = cur
	b.sampleAt = time.Now()
	return b.cachedRate
}

package hostlib

import (
	"io"
	"sync/atomic"
	"time"
)

// progressReader wraps an upload body and feeds three consumers on each
// read: the per-operation progress callback (cumulative bytes), the
// host's shared bandwidth counter, and an activity timestamp the
// inactivity watchdog samples. The stop predicate is checked before
// every read; a true return aborts the transfer with ErrJobCancelled so
// cancellation is distinguishable from protocol failure.
type progressReader struct {
	r          io.Reader
	onProgress func(total int64)
	shouldStop func() bool
	counter    *BandwidthCounter

	total        int64
	lastActivity atomic.Int64
	stopFlag     atomic.Bool
}

func newProgressReader(r io.Reader, counter *BandwidthCounter, onProgress func(total int64), shouldStop func() bool) *progressReader {
	pr := &progressReader{
		r:          r,
		onProgress: onProgress,
		shouldStop: shouldStop,
		counter:    counter,
	}
	pr.touch()
	return pr
}

func (p *progressReader) Read(b []byte) (n int, err error) {
	if p.shouldStop != nil && p.shouldStop() {
		p.stopFlag.Store(true)
		return 0, ErrJobCancelled
	}
	n, err = p.r.Read(b)
	if n > 0 {
		p.total += int64(n)
		p.touch()
		if p.counter != nil {
			p.counter.Add(int64(n))
		}
		if p.onProgress != nil {
			p.onProgress(p.total)
		}
	}
	return
}

func (p *progressReader) touch() {
	p.lastActivity.Store(time.Now().UnixNano())
}

// idleFor returns how long the reader has gone without moving bytes.
func (p *progressReader) idleFor() time.Duration {
	return time.Since(time.Unix(0, p.lastActivity.Load()))
}

// stopped reports whether the stop predicate aborted the transfer.
func (p *progressReader) stopped() bool {
	return p.stopFlag.Load()
}

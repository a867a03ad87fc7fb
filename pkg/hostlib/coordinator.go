package hostlib

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Default admission limits.
const (
	DefaultGlobalSlots  = 3
	DefaultPerHostSlots = 1
)

// ConnectionCoordinator is the admission controller for concurrent
// uploads: a global semaphore bounds total in-flight transfers and a
// lazily-created per-host semaphore bounds each host. Limits are
// runtime-mutable; a new limit swaps in a fresh semaphore for future
// acquisitions while active slots release against the semaphore they
// were acquired from, so nothing is ever preempted or leaked.
type ConnectionCoordinator struct {
	mu          sync.Mutex
	global      *semaphore.Weighted
	globalLimit int64
	hostLimit   int64
	hosts       map[string]*semaphore.Weighted

	active VMap[string, *Slot]
}

// Slot is one admission ticket. Release is idempotent and must always
// be called (defer it right after a successful acquire).
type Slot struct {
	JobID string
	Host  string
	Since time.Time

	global  *semaphore.Weighted
	host    *semaphore.Weighted
	coord   *ConnectionCoordinator
	release sync.Once
}

// Release returns both semaphore units and drops the active record.
func (s *Slot) Release() {
	s.release.Do(func() {
		s.host.Release(1)
		s.global.Release(1)
		s.coord.active.Delete(s.JobID)
	})
}

// NewConnectionCoordinator creates a coordinator with the given global
// and per-host limits. Zero values select the defaults.
func NewConnectionCoordinator(globalLimit, perHostLimit int) *ConnectionCoordinator {
	if globalLimit <= 0 {
		globalLimit = DefaultGlobalSlots
	}
	if perHostLimit <= 0 {
		perHostLimit = DefaultPerHostSlots
	}
	return &ConnectionCoordinator{
		global:      semaphore.NewWeighted(int64(globalLimit)),
		globalLimit: int64(globalLimit),
		hostLimit:   int64(perHostLimit),
		hosts:       make(map[string]*semaphore.Weighted),
		active:      NewVMap[string, *Slot](),
	}
}

func (c *ConnectionCoordinator) semaphores(host string) (global, hostSem *semaphore.Weighted) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hostSem, ok := c.hosts[host]
	if !ok {
		hostSem = semaphore.NewWeighted(c.hostLimit)
		c.hosts[host] = hostSem
	}
	return c.global, hostSem
}

// AcquireSlot blocks up to timeout acquiring first the global then the
// host slot. On a host-slot timeout the already-held global slot is
// returned before the error surfaces, so contention never leaks global
// capacity. The returned error wraps ErrSlotTimeout on timeout so
// callers can retry later instead of failing the job.
func (c *ConnectionCoordinator) AcquireSlot(jobID, host string, timeout time.Duration) (*Slot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	global, hostSem := c.semaphores(host)

	if err := global.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: global limit (host %s, job %s)", ErrSlotTimeout, host, jobID)
	}
	if err := hostSem.Acquire(ctx, 1); err != nil {
		global.Release(1)
		return nil, fmt.Errorf("%w: host limit (host %s, job %s)", ErrSlotTimeout, host, jobID)
	}

	slot := &Slot{
		JobID:  jobID,
		Host:   host,
		Since:  time.Now(),
		global: global,
		host:   hostSem,
		coord:  c,
	}
	c.active.Set(jobID, slot)
	return slot, nil
}

// SetGlobalLimit changes the global limit for future acquisitions.
func (c *ConnectionCoordinator) SetGlobalLimit(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.globalLimit = int64(n)
	c.global = semaphore.NewWeighted(int64(n))
}

// SetHostLimit changes one host's limit for future acquisitions.
func (c *ConnectionCoordinator) SetHostLimit(host string, n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hosts[host] = semaphore.NewWeighted(int64(n))
}

// ActiveCount returns the number of uploads currently holding slots.
func (c *ConnectionCoordinator) ActiveCount() int {
	return c.active.Len()
}

// ActiveUpload describes one admitted upload for status displays.
type ActiveUpload struct {
	JobID string    `json:"job_id"`
	Host  string    `json:"host"`
	Since time.Time `json:"since"`
}

// ActiveUploads lists the admitted (job, host) pairs.
func (c *ConnectionCoordinator) ActiveUploads() []ActiveUpload {
	out := make([]ActiveUpload, 0, c.active.Len())
	c.active.Range(func(_ string, s *Slot) bool {
		out = append(out, ActiveUpload{JobID: s.JobID, Host: s.Host, Since: s.Since})
		return true
	})
	return out
}

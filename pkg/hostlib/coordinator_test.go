package hostlib

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCoordinatorLimits(t *testing.T) {
	c := NewConnectionCoordinator(3, 1)

	var active, peak, hostPeak atomic.Int64
	perHost := make(map[string]*atomic.Int64)
	for i := 0; i < 4; i++ {
		perHost[fmt.Sprintf("host%d", i)] = &atomic.Int64{}
	}

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		host := fmt.Sprintf("host%d", i%4)
		jobID := fmt.Sprintf("job%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot, err := c.AcquireSlot(jobID, host, 10*time.Second)
			if err != nil {
				t.Errorf("acquire %s: %v", jobID, err)
				return
			}
			defer slot.Release()

			if cur := active.Add(1); cur > peak.Load() {
				peak.Store(cur)
			}
			if cur := perHost[host].Add(1); cur > hostPeak.Load() {
				hostPeak.Store(cur)
			}
			time.Sleep(2 * time.Millisecond)
			perHost[host].Add(-1)
			active.Add(-1)
		}()
	}
	wg.Wait()

	if peak.Load() > 3 {
		t.Errorf("global concurrency peaked at %d, limit 3", peak.Load())
	}
	if hostPeak.Load() > 1 {
		t.Errorf("per-host concurrency peaked at %d, limit 1", hostPeak.Load())
	}
	if c.ActiveCount() != 0 {
		t.Errorf("active count after release: %d", c.ActiveCount())
	}
}

func TestCoordinatorNoGlobalLeakOnHostTimeout(t *testing.T) {
	c := NewConnectionCoordinator(2, 1)

	holder, err := c.AcquireSlot("holder", "contested", time.Second)
	if err != nil {
		t.Fatal(err)
	}

	// host slot is taken, global capacity remains
	_, err = c.AcquireSlot("blocked", "contested", 50*time.Millisecond)
	if !errors.Is(err, ErrSlotTimeout) {
		t.Fatalf("expected ErrSlotTimeout, got %v", err)
	}

	// the failed acquire must have returned its global slot
	other, err := c.AcquireSlot("other", "elsewhere", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("global slot leaked: %v", err)
	}
	another, err := c.AcquireSlot("another", "third", 50*time.Millisecond)
	if err == nil {
		another.Release()
	}
	if err != nil {
		t.Fatalf("second global slot unavailable: %v", err)
	}

	other.Release()
	holder.Release()
}

func TestCoordinatorGlobalLimitSerializes(t *testing.T) {
	c := NewConnectionCoordinator(1, 1)

	first, err := c.AcquireSlot("j1", "hostA", time.Second)
	if err != nil {
		t.Fatal(err)
	}

	acquired := make(chan time.Time, 1)
	go func() {
		slot, aerr := c.AcquireSlot("j2", "hostB", 5*time.Second)
		if aerr != nil {
			t.Errorf("second acquire: %v", aerr)
			close(acquired)
			return
		}
		acquired <- time.Now()
		slot.Release()
	}()

	time.Sleep(100 * time.Millisecond)
	released := time.Now()
	first.Release()

	when, ok := <-acquired
	if !ok {
		t.Fatal("second acquire never completed")
	}
	if when.Before(released) {
		t.Error("second slot acquired before first was released")
	}
}

func TestCoordinatorReleaseIdempotent(t *testing.T) {
	c := NewConnectionCoordinator(1, 1)
	slot, err := c.AcquireSlot("j1", "h", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	slot.Release()
	slot.Release()

	again, err := c.AcquireSlot("j2", "h", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("slot not reusable after release: %v", err)
	}
	again.Release()
}

func TestCoordinatorActiveUploads(t *testing.T) {
	c := NewConnectionCoordinator(4, 2)
	s1, _ := c.AcquireSlot("j1", "h1", time.Second)
	s2, _ := c.AcquireSlot("j2", "h2", time.Second)

	uploads := c.ActiveUploads()
	if len(uploads) != 2 {
		t.Fatalf("expected 2 active uploads, got %d", len(uploads))
	}
	seen := map[string]string{}
	for _, u := range uploads {
		seen[u.JobID] = u.Host
	}
	if seen["j1"] != "h1" || seen["j2"] != "h2" {
		t.Errorf("unexpected active set: %v", seen)
	}

	s1.Release()
	s2.Release()
	if got := len(c.ActiveUploads()); got != 0 {
		t.Errorf("expected empty active set, got %d", got)
	}
}

func TestCoordinatorRuntimeLimitChange(t *testing.T) {
	c := NewConnectionCoordinator(1, 1)
	held, err := c.AcquireSlot("j1", "h", time.Second)
	if err != nil {
		t.Fatal(err)
	}

	c.SetGlobalLimit(2)
	c.SetHostLimit("other", 2)

	// new limit applies to future acquisitions on the fresh semaphores
	a, err := c.AcquireSlot("j2", "other", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire after limit raise: %v", err)
	}
	b, err := c.AcquireSlot("j3", "other", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("second acquire after limit raise: %v", err)
	}

	a.Release()
	b.Release()
	held.Release()
}

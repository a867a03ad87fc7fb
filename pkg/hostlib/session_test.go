package hostlib

import (
	"bytes"
	"io"
	"testing"
	"time"
)

func TestSessionSnapshotIsDeep(t *testing.T) {
	s := NewSessionState()
	s.Cookies["sid"] = "1"
	s.Token = "tok"

	snap := s.Snapshot()
	snap.Cookies["sid"] = "2"
	snap.Token = "other"

	if s.Cookies["sid"] != "1" || s.Token != "tok" {
		t.Error("snapshot shares storage with the original")
	}
}

func TestSessionMerge(t *testing.T) {
	worker := NewSessionState()
	worker.Cookies["keep"] = "old"
	worker.Token = "old-token"
	worker.StorageTotal = 100
	worker.StorageLeft = 50

	client := NewSessionState()
	client.Cookies["keep"] = "new"
	client.Cookies["added"] = "x"
	client.Token = "new-token"
	client.TokenAcquired = time.Now()

	worker.Merge(client)

	if worker.Cookies["keep"] != "new" || worker.Cookies["added"] != "x" {
		t.Errorf("cookies = %v", worker.Cookies)
	}
	if worker.Token != "new-token" {
		t.Errorf("token = %q", worker.Token)
	}
	// client harvested nothing, worker keeps its storage figures
	if worker.StorageTotal != 100 || worker.StorageLeft != 50 {
		t.Errorf("storage = %d/%d", worker.StorageLeft, worker.StorageTotal)
	}

	client.StorageTotal = 900
	client.StorageLeft = 300
	worker.Merge(client)
	if worker.StorageTotal != 900 || worker.StorageLeft != 300 {
		t.Errorf("harvested storage not merged: %d/%d", worker.StorageLeft, worker.StorageTotal)
	}
}

func TestSessionTokenAge(t *testing.T) {
	s := NewSessionState()
	if s.TokenAge() != 0 {
		t.Error("zero acquisition time must report zero age")
	}
	s.TokenAcquired = time.Now().Add(-time.Hour)
	if age := s.TokenAge(); age < 59*time.Minute {
		t.Errorf("age = %v", age)
	}
}

func TestProgressReaderReportsAndStops(t *testing.T) {
	counter := NewBandwidthCounter()
	var seen []int64
	stop := false
	pr := newProgressReader(bytes.NewReader(make([]byte, 64)), counter,
		func(total int64) { seen = append(seen, total) },
		func() bool { return stop })

	buf := make([]byte, 32)
	if _, err := pr.Read(buf); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || seen[0] != 32 {
		t.Errorf("progress = %v", seen)
	}
	if counter.Total() != 32 {
		t.Errorf("counter = %d", counter.Total())
	}

	stop = true
	if _, err := pr.Read(buf); err != ErrJobCancelled {
		t.Fatalf("err = %v, want ErrJobCancelled", err)
	}
	if !pr.stopped() {
		t.Error("stopped flag not set")
	}
}

func TestProgressReaderEOFPassthrough(t *testing.T) {
	pr := newProgressReader(bytes.NewReader(nil), nil, nil, nil)
	if _, err := pr.Read(make([]byte, 8)); err != io.EOF {
		t.Fatalf("err = %v, want EOF", err)
	}
}

func TestBandwidthCounterRate(t *testing.T) {
	c := NewBandwidthCounter()
	c.Add(1000)
	time.Sleep(minSampleWindow + 20*time.Millisecond)
	first := c.Rate()
	if first <= 0 {
		t.Fatalf("rate = %d, want positive", first)
	}
	// inside the window the cached figure is returned
	c.Add(1 << 30)
	if got := c.Rate(); got != first {
		t.Errorf("rate inside window = %d, want cached %d", got, first)
	}
}

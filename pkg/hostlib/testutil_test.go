package hostlib

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hostup/hostup/pkg/logger"
)

// fakeStore is an in-memory UploadStore recording every update.
type fakeStore struct {
	mu      sync.Mutex
	jobs    []*UploadJob
	updates []UploadJob
}

func (f *fakeStore) GetPendingUploads(host string) ([]*UploadJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*UploadJob
	for _, j := range f.jobs {
		if j.Host == host && j.Status == StatusPending {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateUpload(job *UploadJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, *job)
	return nil
}

func (f *fakeStore) lastUpdate(t *testing.T) UploadJob {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		t.Fatal("no job updates recorded")
	}
	return f.updates[len(f.updates)-1]
}

// fakeSettings is an in-memory Settings with write tracking.
type fakeSettings struct {
	mu     sync.Mutex
	values map[string]any
	writes []string
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{values: make(map[string]any)}
}

func (f *fakeSettings) key(host, key string) string { return host + "/" + key }

func (f *fakeSettings) String(host, key, def string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.values[f.key(host, key)].(string); ok {
		return v
	}
	return def
}

func (f *fakeSettings) Int(host, key string, def int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.values[f.key(host, key)].(int); ok {
		return v
	}
	return def
}

func (f *fakeSettings) Bool(host, key string, def bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.values[f.key(host, key)].(bool); ok {
		return v
	}
	return def
}

func (f *fakeSettings) set(host, key string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[f.key(host, key)] = value
	f.writes = append(f.writes, f.key(host, key))
}

func (f *fakeSettings) SetString(host, key, value string) error {
	f.set(host, key, value)
	return nil
}

func (f *fakeSettings) SetInt(host, key string, value int) error {
	f.set(host, key, value)
	return nil
}

func (f *fakeSettings) SetBool(host, key string, value bool) error {
	f.set(host, key, value)
	return nil
}

func (f *fakeSettings) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

// fakeArchiver hands back a pre-made file and counts references.
type fakeArchiver struct {
	mu       sync.Mutex
	path     string
	acquired int
	released int
}

func (f *fakeArchiver) GetOrCreateArchive(jobID, sourceDir, displayName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.path == "" {
		return "", fmt.Errorf("no archive configured")
	}
	f.acquired++
	return f.path, nil
}

func (f *fakeArchiver) Release(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
}

// fakeCreds serves credentials from a map keyed "<host>.<field>".
type fakeCreds map[string]string

func (f fakeCreds) Credential(key string) (string, error) {
	v, ok := f[key]
	if !ok {
		return "", fmt.Errorf("credential %q not set", key)
	}
	return v, nil
}

// fakeStats records transfer outcomes.
type fakeStats struct {
	mu      sync.Mutex
	records []struct {
		host  string
		bytes int64
		ok    bool
	}
}

func (f *fakeStats) RecordTransfer(host string, bytes int64, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, struct {
		host  string
		bytes int64
		ok    bool
	}{host, bytes, ok})
}

// loaderWith builds a loader pre-populated with descriptors, skipping
// the filesystem.
func loaderWith(descriptors ...*Descriptor) *DescriptorLoader {
	dl := NewDescriptorLoader(nil, "", "", logger.NewNopLogger())
	for _, d := range descriptors {
		dl.descriptors[d.Name] = d
	}
	return dl
}

// writeTempFile drops content into the test's temp dir.
func writeTempFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

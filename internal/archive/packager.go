// Package archive packages upload folders into ZIP files for the
// workers. Archives are reference counted so concurrent interest in
// the same job shares one file, and the last release deletes it.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mholt/archives"

	"github.com/hostup/hostup/pkg/logger"
)

type entry struct {
	refs  int
	path  string
	err   error
	ready chan struct{}
}

// Packager implements the engine's archiver collaborator.
type Packager struct {
	tmpDir string
	l      logger.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewPackager returns a packager writing archives under tmpDir (the
// system temp directory when empty).
func NewPackager(tmpDir string, l logger.Logger) *Packager {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Packager{
		tmpDir:  tmpDir,
		l:       l.WithCategory("archive"),
		entries: make(map[string]*entry),
	}
}

// GetOrCreateArchive returns the path of the job's ZIP archive,
// building it on first call. Concurrent callers for the same job block
// until the build finishes and share the result.
func (p *Packager) GetOrCreateArchive(jobID, sourceDir, displayName string) (string, error) {
	p.mu.Lock()
	if e, ok := p.entries[jobID]; ok {
		e.refs++
		p.mu.Unlock()
		<-e.ready
		return e.path, e.err
	}
	e := &entry{refs: 1, ready: make(chan struct{})}
	p.entries[jobID] = e
	p.mu.Unlock()

	e.path, e.err = p.build(jobID, sourceDir, displayName)
	if e.err != nil {
		// failed builds are forgotten so a retry can rebuild
		p.mu.Lock()
		delete(p.entries, jobID)
		p.mu.Unlock()
	}
	close(e.ready)
	return e.path, e.err
}

// Release drops one reference. The last release removes the archive
// file. Unknown job ids are ignored.
func (p *Packager) Release(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[jobID]
	if !ok {
		return
	}
	e.refs--
	if e.refs > 0 {
		return
	}
	delete(p.entries, jobID)
	if e.path != "" {
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			p.l.Warning("remove archive %s: %s", e.path, err.Error())
		}
	}
}

// ActiveArchives returns how many archives are currently held.
func (p *Packager) ActiveArchives() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Packager) build(jobID, sourceDir, displayName string) (string, error) {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return "", fmt.Errorf("stat source %s: %w", sourceDir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("source %s is not a directory", sourceDir)
	}

	abs, err := filepath.Abs(sourceDir)
	if err != nil {
		return "", fmt.Errorf("resolve source %s: %w", sourceDir, err)
	}
	ctx := context.Background()
	files, err := archives.FilesFromDisk(ctx, nil, map[string]string{
		abs + string(os.PathSeparator): "",
	})
	if err != nil {
		return "", fmt.Errorf("read source %s: %w", sourceDir, err)
	}

	path := filepath.Join(p.tmpDir, jobID+"-"+archiveName(displayName))
	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create archive %s: %w", path, err)
	}

	if err := (archives.Zip{}).Archive(ctx, out, files); err != nil {
		out.Close()
		os.Remove(path)
		return "", fmt.Errorf("pack %s: %w", sourceDir, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close archive %s: %w", path, err)
	}
	p.l.Info("packed %s into %s", sourceDir, path)
	return path, nil
}

// archiveName turns a display name into a safe .zip filename.
func archiveName(displayName string) string {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = "upload"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name = b.String()
	if !strings.HasSuffix(strings.ToLower(name), ".zip") {
		name += ".zip"
	}
	return name
}

package hostlib

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hostup/hostup/pkg/logger"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// DescriptorLoader reads per-host protocol descriptors from a built-in
// directory and a user-writable custom directory. A custom descriptor
// with the same name replaces the built-in one wholesale; there is no
// field-level merge.
type DescriptorLoader struct {
	fs         afero.Fs
	builtinDir string
	customDir  string
	l          logger.Logger

	descriptors map[string]*Descriptor
}

func NewDescriptorLoader(fs afero.Fs, builtinDir, customDir string, l logger.Logger) *DescriptorLoader {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &DescriptorLoader{
		fs:          fs,
		builtinDir:  builtinDir,
		customDir:   customDir,
		l:           l.WithCategory("descriptors"),
		descriptors: make(map[string]*Descriptor),
	}
}

// Load parses every descriptor from both directories. A descriptor
// that fails to parse or validate is skipped with a warning so one bad
// custom file never takes the whole host set down.
func (dl *DescriptorLoader) Load() error {
	dl.descriptors = make(map[string]*Descriptor)
	if err := dl.loadDir(dl.builtinDir, false); err != nil {
		return err
	}
	if dl.customDir != "" {
		// custom dir may not exist yet
		if ok, _ := afero.DirExists(dl.fs, dl.customDir); ok {
			if err := dl.loadDir(dl.customDir, true); err != nil {
				return err
			}
		}
	}
	if len(dl.descriptors) == 0 {
		return fmt.Errorf("no host descriptors found in %s", dl.builtinDir)
	}
	dl.l.Info("loaded %d host descriptors", len(dl.descriptors))
	return nil
}

func (dl *DescriptorLoader) loadDir(dir string, custom bool) error {
	entries, err := afero.ReadDir(dl.fs, dir)
	if err != nil {
		return fmt.Errorf("reading descriptor dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		d, derr := dl.parseFile(path)
		if derr != nil {
			dl.l.Warning("skipping %s: %s", path, derr.Error())
			continue
		}
		if custom {
			if _, ok := dl.descriptors[d.Name]; ok {
				dl.l.Info("custom descriptor overrides builtin for %s", d.Name)
			}
		}
		dl.descriptors[d.Name] = d
	}
	return nil
}

func (dl *DescriptorLoader) parseFile(path string) (*Descriptor, error) {
	raw, err := afero.ReadFile(dl.fs, path)
	if err != nil {
		return nil, err
	}
	var d Descriptor
	if err = yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}
	if err = d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Get returns a private copy of the named descriptor with the host's
// persisted tunable overrides applied. The shared descriptor itself is
// never handed out, so callers cannot mutate it.
func (dl *DescriptorLoader) Get(name string, settings Settings) (*Descriptor, error) {
	d, ok := dl.descriptors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHostNotFound, name)
	}
	clone := d.Clone()
	if settings != nil {
		overlayTunables(clone, settings)
	}
	return clone, nil
}

// Names lists the loaded host names, sorted.
func (dl *DescriptorLoader) Names() []string {
	names := make([]string, 0, len(dl.descriptors))
	for name := range dl.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a descriptor exists for the host.
func (dl *DescriptorLoader) Has(name string) bool {
	_, ok := dl.descriptors[name]
	return ok
}

// overlayTunables applies the persisted operator overrides onto a
// descriptor copy: persisted value wins, then the descriptor default,
// then the hardcoded default at the point of use.
func overlayTunables(d *Descriptor, s Settings) {
	t := &d.Tunables
	t.AutoRetry = s.Bool(d.Name, SettingAutoRetry, t.AutoRetry)
	t.MaxRetries = s.Int(d.Name, SettingMaxRetries, t.MaxRetries)
	t.InactivityTimeoutSeconds = s.Int(d.Name, SettingInactivityTimeout, t.InactivityTimeoutSeconds)
	t.TotalTimeoutSeconds = s.Int(d.Name, SettingTotalTimeout, t.TotalTimeoutSeconds)
}

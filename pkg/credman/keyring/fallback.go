// Package keyring stores the credential encryption key in the
// operating system's secret service, with a file fallback for
// environments without one.
package keyring

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

const (
	keyFileName = "credman.key"
	keyFileMode = 0600
)

// FileKeyStore keeps the key hex-encoded in a 0600 file under the
// config directory. Used when the system keyring is unavailable.
type FileKeyStore struct {
	configDir string
}

func NewFileKeyStore(configDir string) *FileKeyStore {
	return &FileKeyStore{configDir: configDir}
}

func (f *FileKeyStore) keyPath() string {
	return filepath.Join(f.configDir, keyFileName)
}

// SetKey generates a fresh 32-byte key and writes it atomically via a
// temp file and rename, so an interrupted write never leaves a
// truncated key behind.
func (f *FileKeyStore) SetKey() ([]byte, error) {
	if err := os.MkdirAll(f.configDir, 0755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	tmp, err := os.CreateTemp(f.configDir, ".credman.key.tmp.*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(hex.EncodeToString(key)); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("write key: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, keyFileMode); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, f.keyPath()); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("rename key file: %w", err)
	}
	return key, nil
}

// GetKey reads and decodes the stored key.
func (f *FileKeyStore) GetKey() ([]byte, error) {
	data, err := os.ReadFile(f.keyPath())
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("invalid key format: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length: expected 32, got %d", len(key))
	}
	return key, nil
}

func (f *FileKeyStore) DeleteKey() error {
	return os.Remove(f.keyPath())
}

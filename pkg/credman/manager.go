// Package credman persists host account credentials encrypted at rest.
// The manager satisfies the engine's credential lookup interface; the
// encryption key comes from the system keyring, a key file, or a
// user passphrase.
package credman

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hostup/hostup/pkg/credman/encryption"
	"github.com/hostup/hostup/pkg/credman/keyring"
	"github.com/hostup/hostup/pkg/credman/types"
)

const (
	credFileName = "credentials.dat"
	saltFileName = "credman.salt"
)

// Manager stores credentials in a gob-encoded file, values sealed with
// AES-GCM. Safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	filePath string
	key      []byte
	creds    map[string]*types.Credential
}

// NewManager opens (or creates) the credential file at filePath using
// the given 32-byte key.
func NewManager(filePath string, key []byte) (*Manager, error) {
	m := &Manager{
		filePath: filePath,
		key:      key,
		creds:    make(map[string]*types.Credential),
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// Open opens the credential store under configDir with a key from the
// system keyring or its file fallback.
func Open(configDir string) (*Manager, error) {
	key, err := keyring.ObtainKey(configDir)
	if err != nil {
		return nil, fmt.Errorf("obtain key: %w", err)
	}
	return NewManager(filepath.Join(configDir, credFileName), key)
}

// OpenWithPassphrase opens the credential store under configDir with a
// key derived from passphrase. The scrypt salt lives next to the
// credential file and is created on first use.
func OpenWithPassphrase(configDir, passphrase string) (*Manager, error) {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, err
	}
	saltPath := filepath.Join(configDir, saltFileName)
	salt, err := os.ReadFile(saltPath)
	if os.IsNotExist(err) {
		salt, err = encryption.NewSalt()
		if err != nil {
			return nil, err
		}
		if err = os.WriteFile(saltPath, salt, 0600); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	key, err := encryption.DeriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	return NewManager(filepath.Join(configDir, credFileName), key)
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	dec := gob.NewDecoder(bytes.NewReader(data))
	return dec.Decode(&m.creds)
}

// save writes the store atomically. Callers hold m.mu.
func (m *Manager) save() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m.creds); err != nil {
		return err
	}
	dir := filepath.Dir(m.filePath)
	tmp, err := os.CreateTemp(dir, ".credentials.dat.tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err = tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err = os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, m.filePath)
}

// Set stores one credential field for a host, replacing any previous
// value.
func (m *Manager) Set(host, field, value string) error {
	sealed, err := encryption.EncryptValue(value, m.key)
	if err != nil {
		return err
	}
	cred := &types.Credential{
		Host:      host,
		Field:     field,
		Value:     string(sealed),
		UpdatedAt: time.Now(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[cred.Key()] = cred
	return m.save()
}

// Credential resolves a "<host>.<field>" key to its decrypted value.
func (m *Manager) Credential(key string) (string, error) {
	m.mu.RLock()
	cred, ok := m.creds[key]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("credential not found: %s", key)
	}
	plain, err := encryption.DecryptValue([]byte(cred.Value), m.key)
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", key, err)
	}
	return string(plain), nil
}

// Delete removes one credential field for a host.
func (m *Manager) Delete(host, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := host + "." + field
	if _, ok := m.creds[key]; !ok {
		return fmt.Errorf("credential not found: %s", key)
	}
	delete(m.creds, key)
	return m.save()
}

// DeleteHost removes every stored field for a host.
func (m *Manager) DeleteHost(host string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for key, cred := range m.creds {
		if cred.Host == host {
			delete(m.creds, key)
			found = true
		}
	}
	if !found {
		return fmt.Errorf("no credentials for host: %s", host)
	}
	return m.save()
}

// Fields lists the stored field names for a host, sorted. Values are
// never exposed here.
func (m *Manager) Fields(host string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var fields []string
	for _, cred := range m.creds {
		if cred.Host == host {
			fields = append(fields, cred.Field)
		}
	}
	sort.Strings(fields)
	return fields
}

// Hosts lists every host with at least one stored credential, sorted.
func (m *Manager) Hosts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, cred := range m.creds {
		seen[cred.Host] = struct{}{}
	}
	hosts := make([]string, 0, len(seen))
	for host := range seen {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

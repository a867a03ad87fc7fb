package keyring

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/zalando/go-keyring"
)

// Keyring stores the credential encryption key in the operating
// system's secret service.
type Keyring struct {
	Service string
	Account string
}

// Seams for tests; the real keyring is unavailable in CI.
var (
	keyringSet    = keyring.Set
	keyringGet    = keyring.Get
	keyringDelete = keyring.Delete
	randRead      = rand.Read
)

func NewKeyring() *Keyring {
	return &Keyring{
		Service: "hostup",
		Account: "credman",
	}
}

// SetKey generates a fresh 32-byte key, stores it hex-encoded in the
// system keyring and returns the raw bytes.
func (k *Keyring) SetKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := randRead(key); err != nil {
		return nil, err
	}
	if err := keyringSet(k.Service, k.Account, hex.EncodeToString(key)); err != nil {
		return nil, err
	}
	return key, nil
}

// GetKey retrieves and decodes the stored key.
func (k *Keyring) GetKey() ([]byte, error) {
	stored, err := keyringGet(k.Service, k.Account)
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(stored)
	if err != nil {
		return nil, fmt.Errorf("invalid key format: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length: expected 32, got %d", len(key))
	}
	return key, nil
}

func (k *Keyring) DeleteKey() error {
	return keyringDelete(k.Service, k.Account)
}

// ObtainKey returns the credential encryption key, creating one on
// first use. The system keyring is preferred; a file under configDir is
// the fallback when no secret service is running.
func ObtainKey(configDir string) ([]byte, error) {
	kr := NewKeyring()
	if key, err := kr.GetKey(); err == nil {
		return key, nil
	}
	if key, err := kr.SetKey(); err == nil {
		return key, nil
	}
	fs := NewFileKeyStore(configDir)
	if key, err := fs.GetKey(); err == nil {
		return key, nil
	}
	return fs.SetKey()
}

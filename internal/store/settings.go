package store

import (
	"database/sql"
	"strconv"
	"time"
)

// settings implement the engine's host-scoped settings collaborator.
// Values are stored as text and coerced on read; a missing or
// unparsable row yields the caller's default.

func (s *Store) setting(host, key string) (string, bool) {
	row := s.db.QueryRow("SELECT value FROM settings WHERE host = ? AND key = ?", host, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if err != sql.ErrNoRows {
			return "", false
		}
		return "", false
	}
	return value, true
}

func (s *Store) String(host, key, def string) string {
	if v, ok := s.setting(host, key); ok {
		return v
	}
	return def
}

func (s *Store) Int(host, key string, def int) int {
	v, ok := s.setting(host, key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (s *Store) Bool(host, key string, def bool) bool {
	v, ok := s.setting(host, key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func (s *Store) SetString(host, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO settings (host, key, value, updated_at_ns)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(host, key) DO UPDATE SET
			value         = excluded.value,
			updated_at_ns = excluded.updated_at_ns
	`, host, key, value, time.Now().UnixNano())
	return err
}

func (s *Store) SetInt(host, key string, value int) error {
	return s.SetString(host, key, strconv.Itoa(value))
}

func (s *Store) SetBool(host, key string, value bool) error {
	return s.SetString(host, key, strconv.FormatBool(value))
}

// DeleteSetting removes an override so the descriptor default shows
// through again.
func (s *Store) DeleteSetting(host, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM settings WHERE host = ? AND key = ?", host, key)
	return err
}

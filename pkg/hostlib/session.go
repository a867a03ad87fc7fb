package hostlib

import "time"

// SessionState is the ephemeral authentication state for one host. A
// HostWorker owns the canonical copy; each HostClient it builds borrows
// a snapshot and hands mutations back after the operation completes, so
// no two goroutines ever share a live cookie map.
type SessionState struct {
	// Cookies holds the session cookie jar by name.
	Cookies map[string]string
	// Token is the bearer/session token, empty when not logged in.
	Token string
	// TokenAcquired is when Token was obtained; drives proactive refresh.
	TokenAcquired time.Time

	// Storage values opportunistically harvested during login, so the
	// worker can answer storage checks without an extra call. Zero
	// StorageTotal means nothing was harvested.
	StorageTotal int64
	StorageLeft  int64
}

// NewSessionState returns an empty session with an initialized jar.
func NewSessionState() *SessionState {
	return &SessionState{Cookies: make(map[string]string)}
}

// Snapshot returns a deep copy safe to hand to a client goroutine.
func (s *SessionState) Snapshot() *SessionState {
	cp := *s
	cp.Cookies = make(map[string]string, len(s.Cookies))
	for k, v := range s.Cookies {
		cp.Cookies[k] = v
	}
	return &cp
}

// Merge folds the mutations a client made back into the worker's copy.
// Cookies are unioned (later wins); the token and its timestamp are
// taken wholesale from the client side.
func (s *SessionState) Merge(from *SessionState) {
	if from == nil {
		return
	}
	if s.Cookies == nil {
		s.Cookies = make(map[string]string, len(from.Cookies))
	}
	for k, v := range from.Cookies {
		s.Cookies[k] = v
	}
	s.Token = from.Token
	s.TokenAcquired = from.TokenAcquired
	if from.StorageTotal > 0 {
		s.StorageTotal = from.StorageTotal
		s.StorageLeft = from.StorageLeft
	}
}

// HasToken reports whether the session carries a token.
func (s *SessionState) HasToken() bool {
	return s.Token != ""
}

// TokenAge returns how long ago the token was acquired.
func (s *SessionState) TokenAge() time.Duration {
	if s.TokenAcquired.IsZero() {
		return 0
	}
	return time.Since(s.TokenAcquired)
}

package hostlib

import (
	"time"

	"github.com/maypok86/otter"
)

const defaultTokenCapacity = 128

// tokenCredentialField is the credential-store field tokens are
// persisted under when a sink is attached.
const tokenCredentialField = "auth_token"

// TokenSink receives token writes so they survive a daemon restart.
// credman's Manager satisfies it.
type TokenSink interface {
	Set(host, field, value string) error
	Delete(host, field string) error
}

// TokenCache keeps per-host auth tokens with their acquisition time so
// clients can decide whether a token is still inside its TTL. Entries
// expire on their own a generous margin past the longest descriptor
// TTL; staleness decisions belong to the caller, the cache only stores.
type TokenCache struct {
	cache otter.CacheWithVariableTTL[string, cachedToken]
	sink  TokenSink
}

type cachedToken struct {
	token    string
	acquired time.Time
}

// NewTokenCache builds an empty cache.
func NewTokenCache() (*TokenCache, error) {
	cache, err := otter.MustBuilder[string, cachedToken](defaultTokenCapacity).
		WithVariableTTL().
		Build()
	if err != nil {
		return nil, err
	}
	return &TokenCache{cache: cache}, nil
}

// NewTokenCacheWithSink builds a cache that writes every token through
// to sink. Sink failures never fail the in-memory write.
func NewTokenCacheWithSink(sink TokenSink) (*TokenCache, error) {
	tc, err := NewTokenCache()
	if err != nil {
		return nil, err
	}
	tc.sink = sink
	return tc, nil
}

// Put stores a token for host, tagging it with the current time. ttl
// bounds how long the entry may live at all; zero means 24h.
func (tc *TokenCache) Put(host, token string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	// keep the entry past its logical TTL so age checks can observe
	// "present but stale" instead of a miss
	tc.cache.Set(host, cachedToken{token: token, acquired: time.Now()}, 2*ttl)
	if tc.sink != nil {
		_ = tc.sink.Set(host, tokenCredentialField, token)
	}
}

// Get returns the token and its acquisition time, or ErrTokenNotFound.
func (tc *TokenCache) Get(host string) (token string, acquired time.Time, err error) {
	entry, ok := tc.cache.Get(host)
	if !ok {
		return "", time.Time{}, ErrTokenNotFound
	}
	return entry.token, entry.acquired, nil
}

// Invalidate drops the host's token, if any.
func (tc *TokenCache) Invalidate(host string) {
	tc.cache.Delete(host)
	if tc.sink != nil {
		_ = tc.sink.Delete(host, tokenCredentialField)
	}
}

// Fresh reports whether the host's token exists and is younger than
// ttl. A zero ttl means the token never goes stale by age.
func (tc *TokenCache) Fresh(host string, ttl time.Duration) bool {
	entry, ok := tc.cache.Get(host)
	if !ok {
		return false
	}
	if ttl <= 0 {
		return true
	}
	return time.Since(entry.acquired) < ttl
}

// Close releases the cache's internal resources.
func (tc *TokenCache) Close() {
	tc.cache.Close()
}

// Package token implements the host daemon's bearer-token authenticator: a
// set of CSPRNG-derived tokens with lazily-enforced TTLs, checked on every
// incoming Hello.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Size is the width of a token in raw bytes (256 bits).
const Size = 32

// ErrInvalid describes a token that is unknown, malformed, or has outlived
// its TTL. Validate itself reports that case as a false result, not an error.
var ErrInvalid = errors.New("token: invalid or expired")

// Token is a 256-bit bearer credential, printed as lowercase hex on the wire
// and in pairing payloads.
type Token [Size]byte

// String renders t as 64 lowercase hex characters.
func (t Token) String() string {
	return hex.EncodeToString(t[:])
}

// Parse decodes a 64-character hex string into a Token.
func Parse(s string) (Token, error) {
	var t Token
	b, err := hex.DecodeString(s)
	if err != nil {
		return t, fmt.Errorf("token: decode hex: %w", err)
	}
	if len(b) != Size {
		return t, fmt.Errorf("token: expected %d bytes, got %d", Size, len(b))
	}
	copy(t[:], b)
	return t, nil
}

// Store holds the set of tokens a daemon currently accepts. Mirrors the
// map-behind-a-mutex shape the teacher uses for its connection and
// rate-limiter registries, generalized from a single persisted token
// (auth/store.go's TokenStore) to an in-memory set with per-entry expiry.
type Store struct {
	mu     sync.RWMutex
	tokens map[Token]time.Time // token -> expiry
}

// New returns an empty token store.
func New() *Store {
	return &Store{tokens: make(map[Token]time.Time)}
}

// Generate mints a fresh random token valid for ttl and adds it to the
// store. ttl of zero means the token never expires.
func (s *Store) Generate(ttl time.Duration) (Token, error) {
	var t Token
	if _, err := rand.Read(t[:]); err != nil {
		return t, fmt.Errorf("token: generate random bytes: %w", err)
	}
	s.Add(t, ttl)
	return t, nil
}

// Add registers an existing token with the given TTL (zero means forever).
func (s *Store) Add(t Token, ttl time.Duration) {
	var expiry time.Time
	if ttl > 0 {
		expiry = time.Now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t] = expiry
}

// Validate reports whether t is known and unexpired. Expired entries are
// evicted lazily on lookup, independent of the periodic CleanupExpired sweep.
func (s *Store) Validate(t Token) bool {
	s.mu.RLock()
	expiry, ok := s.tokens[t]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if !expiry.IsZero() && time.Now().After(expiry) {
		s.Remove(t)
		return false
	}
	return true
}

// Remove deletes a token from the store, e.g. on explicit revocation.
func (s *Store) Remove(t Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, t)
}

// CleanupExpired prunes every token whose TTL has elapsed. Intended to run
// on a periodic ticker from the endpoint, alongside the session reaper.
func (s *Store) CleanupExpired() int {
	now := time.Now()
	removed := 0

	s.mu.Lock()
	defer s.mu.Unlock()
	for t, expiry := range s.tokens {
		if !expiry.IsZero() && now.After(expiry) {
			delete(s.tokens, t)
			removed++
		}
	}
	return removed
}

// Clear removes every token from the store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[Token]time.Time)
}

// Count returns the number of tokens currently held, including any that
// have expired but not yet been swept.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

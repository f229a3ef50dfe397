package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
)

// tokenBytes is the entropy of an issued bearer token.
const tokenBytes = 32

// Session is the in-memory record behind a bearer token.
type Session struct {
	Username  string
	ExpiresAt time.Time
}

// SessionStore maps opaque tokens to usernames with a fixed TTL.
//
// Entries live in a go-cache table whose janitor purges them eagerly; the
// authoritative expiry check is done against ExpiresAt on every lookup so
// that a token is rejected exactly at issuance+TTL.
type SessionStore struct {
	cache *cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewSessionStore creates a session table. sweep <= 0 disables the janitor.
func NewSessionStore(ttl, sweep time.Duration, now func() time.Time) *SessionStore {
	if now == nil {
		now = time.Now
	}
	if sweep <= 0 {
		sweep = -1
	}
	return &SessionStore{
		// a little slack on the cache TTL keeps the explicit check authoritative
		cache: cache.New(ttl+time.Minute, sweep),
		ttl:   ttl,
		now:   now,
	}
}

// Issue creates a new token for username.
func (s *SessionStore) Issue(username string) (string, Session, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", Session{}, fmt.Errorf("failed to generate token: %w", err)
	}
	token := hex.EncodeToString(b)
	sess := Session{Username: username, ExpiresAt: s.now().Add(s.ttl)}
	s.cache.Set(token, sess, cache.DefaultExpiration)
	return token, sess, nil
}

// Resolve returns the session for token. Expired entries are evicted.
func (s *SessionStore) Resolve(token string) (Session, bool) {
	if token == "" {
		return Session{}, false
	}
	v, ok := s.cache.Get(token)
	if !ok {
		return Session{}, false
	}
	sess := v.(Session)
	if !s.now().Before(sess.ExpiresAt) {
		s.cache.Delete(token)
		return Session{}, false
	}
	return sess, true
}

// Revoke discards a token.
func (s *SessionStore) Revoke(token string) {
	s.cache.Delete(token)
}

// Len returns the number of tracked tokens, including not yet swept ones.
func (s *SessionStore) Len() int {
	return s.cache.ItemCount()
}

// Package auth implements registration, login and bearer sessions.
//
// DESIGN: Credentials are durable (UserStore); sessions are not. A token is
// an opaque random string mapped to {username, expiresAt} in an in-memory
// SessionStore owned by the Service. Restarting the process logs everyone out.
//
// Login never reveals whether the username exists: the unknown-user path
// still derives a hash so both failures take similar time and return the
// same message.
package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/pitch-gateway/internal/apierr"
	"github.com/compresr/pitch-gateway/internal/store"
	"github.com/compresr/pitch-gateway/internal/utils"
)

const (
	minPasswordLen = 6
	maxPasswordLen = 128

	msgBadCredentials = "invalid username or password"
	msgBadToken       = "Unauthorized"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,16}$`)

// UserStore is the durable credential backend.
type UserStore interface {
	CreateUser(ctx context.Context, u store.User) error
	GetUser(ctx context.Context, username string) (*store.User, error)
}

// Grant is what a successful register or login returns.
type Grant struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Service ties credential checks to session issuance.
type Service struct {
	users    UserStore
	hasher   *Hasher
	sessions *SessionStore

	dummySalt string
	dummyHash string
}

// NewService creates an auth service.
func NewService(users UserStore, hasher *Hasher, sessions *SessionStore) *Service {
	s := &Service{users: users, hasher: hasher, sessions: sessions}
	s.dummySalt = strings.Repeat("0", 32)
	s.dummyHash = hasher.Hash("not-a-password", s.dummySalt)
	return s
}

// ValidateCredentials checks username and password shape.
func ValidateCredentials(username, password string) error {
	if !usernamePattern.MatchString(username) {
		return apierr.Invalid("username must be 3-16 letters, digits or underscores")
	}
	n := utils.RuneLen(password)
	if n < minPasswordLen {
		return apierr.Invalid("password must be at least 6 characters")
	}
	if n > maxPasswordLen {
		return apierr.Invalid("password is too long")
	}
	return nil
}

// Register creates an account and signs the user in.
func (s *Service) Register(ctx context.Context, username, password string) (*Grant, error) {
	if err := ValidateCredentials(username, password); err != nil {
		return nil, err
	}

	salt, err := s.hasher.NewSalt()
	if err != nil {
		return nil, err
	}
	u := store.User{
		Username:     username,
		Salt:         salt,
		PasswordHash: s.hasher.Hash(password, salt),
	}
	// the unique constraint is the only arbiter between concurrent registrations
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apierr.Conflict("username already exists")
		}
		return nil, fmt.Errorf("register %s: %w", username, err)
	}

	log.Info().Str("username", username).Msg("user registered")
	return s.IssueToken(username)
}

// Login verifies credentials and issues a session token.
func (s *Service) Login(ctx context.Context, username, password string) (*Grant, error) {
	if username == "" || password == "" {
		return nil, apierr.Unauthorized(msgBadCredentials)
	}

	u, err := s.users.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		s.hasher.Verify(password, s.dummySalt, s.dummyHash)
		return nil, apierr.Unauthorized(msgBadCredentials)
	}
	if err != nil {
		return nil, fmt.Errorf("login %s: %w", username, err)
	}
	if !s.hasher.Verify(password, u.Salt, u.PasswordHash) {
		log.Debug().Str("username", username).Msg("login rejected")
		return nil, apierr.Unauthorized(msgBadCredentials)
	}
	return s.IssueToken(u.Username)
}

// IssueToken starts a session for username.
func (s *Service) IssueToken(username string) (*Grant, error) {
	token, sess, err := s.sessions.Issue(username)
	if err != nil {
		return nil, err
	}
	return &Grant{Token: token, Username: username, ExpiresAt: sess.ExpiresAt}, nil
}

// ResolveToken returns the username owning token.
func (s *Service) ResolveToken(token string) (string, error) {
	sess, ok := s.sessions.Resolve(token)
	if !ok {
		return "", apierr.Unauthorized(msgBadToken)
	}
	return sess.Username, nil
}

// Logout ends the session for token. Unknown tokens are ignored.
func (s *Service) Logout(token string) {
	s.sessions.Revoke(token)
}

// Sessions exposes the session table (metrics).
func (s *Service) Sessions() *SessionStore {
	return s.sessions
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(authHeader string) string {
	authHeader = strings.TrimSpace(authHeader)
	if authHeader == "" {
		return ""
	}

	const bearerPrefix = "bearer "
	if len(authHeader) >= len(bearerPrefix) && strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(authHeader[len(bearerPrefix):])
	}

	// Some clients send bare tokens
	return authHeader
}

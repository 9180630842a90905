// Package auth exposes the identity collaborator's surface to the sync
// engine: whether the device currently holds a usable access token, and the
// token itself for bearer authentication against the remote store. Sign-in,
// sign-out, and token refresh belong to the identity provider; the engine
// only reads.
package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrNotAuthenticated = errors.New("not authenticated")

// TokenSource reports authentication state and supplies the bearer token.
type TokenSource interface {
	// IsAuthenticated reports whether a usable (present, unexpired) access
	// token is held.
	IsAuthenticated() bool

	// AccessToken returns the current bearer token, or ErrNotAuthenticated.
	AccessToken() (string, error)
}

// ---------------------------------------------------------------------------
// Static token source
// ---------------------------------------------------------------------------

// StaticTokenSource wraps a fixed token, e.g. one injected via config or an
// environment variable. An empty token means unauthenticated.
type StaticTokenSource struct {
	token string
}

func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

func (s *StaticTokenSource) IsAuthenticated() bool {
	return s.token != ""
}

func (s *StaticTokenSource) AccessToken() (string, error) {
	if s.token == "" {
		return "", ErrNotAuthenticated
	}
	return s.token, nil
}

// ---------------------------------------------------------------------------
// Session token source
// ---------------------------------------------------------------------------

// SessionTokenSource holds the token for the active sign-in session. When the
// token is a JWT its exp claim bounds IsAuthenticated, so an expired session
// reads as unauthenticated without a network round trip. Opaque (non-JWT)
// tokens are trusted until SignOut.
type SessionTokenSource struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time // zero when unknown

	// now is swappable for tests.
	now func() time.Time
}

func NewSessionTokenSource() *SessionTokenSource {
	return &SessionTokenSource{now: time.Now}
}

// SignIn installs a new access token for the session.
func (s *SessionTokenSource) SignIn(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.expiresAt = tokenExpiry(token)
}

// SignOut clears the session token.
func (s *SessionTokenSource) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiresAt = time.Time{}
}

func (s *SessionTokenSource) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return false
	}
	if !s.expiresAt.IsZero() && !s.now().Before(s.expiresAt) {
		return false
	}
	return true
}

func (s *SessionTokenSource) AccessToken() (string, error) {
	if !s.IsAuthenticated() {
		return "", ErrNotAuthenticated
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

// tokenExpiry extracts the exp claim from a JWT access token. The signature
// is deliberately not verified here: verification is the remote store's job,
// this side only needs the expiry boundary. Returns zero for opaque tokens.
func tokenExpiry(token string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

package services

import (
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// accessSkew treats access tokens as expired shortly before the server does.
const accessSkew = 30 * time.Second

// AuthState holds the token pair for one server.
type AuthState struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// AccessExpired reports whether the access token is within [accessSkew] of expiry.
func (s AuthState) AccessExpired(now time.Time) bool {
	return !now.Before(s.AccessExpiresAt.Add(-accessSkew))
}

// RefreshExpired reports whether the refresh token can no longer be used.
func (s AuthState) RefreshExpired(now time.Time) bool {
	return !now.Before(s.RefreshExpiresAt)
}

// OAuth2 converts the access token to an [oauth2.Token].
func (s AuthState) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  s.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: s.RefreshToken,
		Expiry:       s.AccessExpiresAt,
	}
}

// TokenStore guards an [AuthState] with a read/write lock.
type TokenStore struct {
	mu    sync.RWMutex
	state *AuthState
}

// NewTokenStore creates an empty store.
func NewTokenStore() *TokenStore {
	return &TokenStore{}
}

// Snapshot returns a copy of the current state.
func (s *TokenStore) Snapshot() (AuthState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return AuthState{}, false
	}
	return *s.state, true
}

// Set replaces the whole state.
func (s *TokenStore) Set(state AuthState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = &state
}

// UpdateAccess replaces the access token and its expiry, leaving the refresh token untouched.
// It is a no-op after [TokenStore.Clear].
func (s *TokenStore) UpdateAccess(token string, expiresAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return false
	}
	s.state.AccessToken = token
	s.state.AccessExpiresAt = expiresAt
	return true
}

// Clear drops the state.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
}

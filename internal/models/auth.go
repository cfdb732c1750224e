package models

import "time"

// DefaultTokenLifetime applies when the server omits expiresInSeconds.
const DefaultTokenLifetime = 3600 * time.Second

// TokenInfo is one issued token.
type TokenInfo struct {
	Token            string `json:"token"`
	ExpiresInSeconds *int64 `json:"expiresInSeconds,omitempty"`
	Type             string `json:"type,omitempty"`
}

// Lifetime returns the advertised lifetime or [DefaultTokenLifetime].
func (t TokenInfo) Lifetime() time.Duration {
	if t.ExpiresInSeconds == nil {
		return DefaultTokenLifetime
	}
	return time.Duration(*t.ExpiresInSeconds) * time.Second
}

// AuthResponse is returned by /api/auth/authenticate.
type AuthResponse struct {
	Tokens struct {
		Access  TokenInfo `json:"access"`
		Refresh TokenInfo `json:"refresh"`
	} `json:"tokens"`
}

// RefreshResponse is returned by /api/auth/refresh.
type RefreshResponse struct {
	Tokens struct {
		Access TokenInfo `json:"access"`
	} `json:"tokens"`
}

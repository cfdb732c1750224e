package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ncx/internal/models"
	"github.com/desertthunder/ncx/internal/shared"
	"golang.org/x/oauth2"
)

const (
	authenticatePath = "/api/auth/authenticate"
	refreshPath      = "/api/auth/refresh"

	// authRateLimitBackoff is reported when the auth endpoints throttle; they send no Retry-After.
	authRateLimitBackoff = 60 * time.Second
)

// AuthManager exchanges an API-user JWT for access and refresh tokens and keeps the access token fresh.
//
// AuthManager implements [oauth2.TokenSource].
type AuthManager struct {
	baseURL    string
	httpClient *http.Client
	limiter    *Limiter
	store      *TokenStore
	logger     *log.Logger
	now        func() time.Time

	// refreshMu serializes refresh round trips so concurrent callers share one new token.
	refreshMu sync.Mutex
}

var _ oauth2.TokenSource = (*AuthManager)(nil)

// NewAuthManager creates an [AuthManager] for baseURL. A nil limiter disables concurrency limiting.
func NewAuthManager(baseURL string, httpClient *http.Client, limiter *Limiter, logger *log.Logger) *AuthManager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &AuthManager{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		limiter:    limiter,
		store:      NewTokenStore(),
		logger:     logger,
		now:        time.Now,
	}
}

// BaseURL returns the server this manager authenticates against.
func (a *AuthManager) BaseURL() string { return a.baseURL }

// Authenticate exchanges credential (the API-user JWT) for a token pair.
func (a *AuthManager) Authenticate(ctx context.Context, credential string) error {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return fmt.Errorf("%w: empty API credential", shared.ErrMissingCredentials)
	}

	body, err := a.post(ctx, authenticatePath, credential)
	if err != nil {
		var se *ServerError
		if errors.As(err, &se) && (se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden) {
			return fmt.Errorf("%w: %s", shared.ErrAuthentication, se.Body)
		}
		return err
	}

	var resp models.AuthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%w: failed to parse auth response (%d bytes): %v", shared.ErrInvalidResponse, len(body), err)
	}
	if resp.Tokens.Access.Token == "" {
		return fmt.Errorf("%w: auth response has no access token", shared.ErrInvalidResponse)
	}

	now := a.now()
	a.store.Set(AuthState{
		AccessToken:      resp.Tokens.Access.Token,
		RefreshToken:     resp.Tokens.Refresh.Token,
		AccessExpiresAt:  now.Add(resp.Tokens.Access.Lifetime()),
		RefreshExpiresAt: now.Add(resp.Tokens.Refresh.Lifetime()),
	})
	a.logger.Debug("authenticated", "server", a.baseURL, "access_expires_in", resp.Tokens.Access.Lifetime())
	return nil
}

// GetToken returns a valid access token, refreshing it when it is about to expire.
func (a *AuthManager) GetToken(ctx context.Context) (string, error) {
	state, ok := a.store.Snapshot()
	if !ok {
		return "", fmt.Errorf("%w: %w", shared.ErrAuthentication, shared.ErrNotAuthenticated)
	}

	now := a.now()
	switch {
	case !state.AccessExpired(now):
		return state.AccessToken, nil
	case state.RefreshExpired(now):
		return "", shared.ErrTokenExpired
	default:
		return a.refresh(ctx)
	}
}

// Token implements [oauth2.TokenSource].
func (a *AuthManager) Token() (*oauth2.Token, error) {
	if _, err := a.GetToken(context.Background()); err != nil {
		return nil, err
	}
	state, ok := a.store.Snapshot()
	if !ok {
		return nil, shared.ErrNotAuthenticated
	}
	return state.OAuth2(), nil
}

// IsAuthenticated reports whether a token pair is held.
func (a *AuthManager) IsAuthenticated() bool {
	_, ok := a.store.Snapshot()
	return ok
}

// Logout drops the token pair.
func (a *AuthManager) Logout() {
	a.store.Clear()
}

func (a *AuthManager) refresh(ctx context.Context) (string, error) {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	// Another caller may have refreshed while we waited.
	state, ok := a.store.Snapshot()
	if !ok {
		return "", fmt.Errorf("%w: %w", shared.ErrAuthentication, shared.ErrNotAuthenticated)
	}
	now := a.now()
	if !state.AccessExpired(now) {
		return state.AccessToken, nil
	}
	if state.RefreshExpired(now) {
		return "", shared.ErrTokenExpired
	}

	body, err := a.post(ctx, refreshPath, state.RefreshToken)
	if err != nil {
		var se *ServerError
		if errors.As(err, &se) && (se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden) {
			return "", shared.ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %w", shared.ErrRefreshFailed, err)
	}

	var resp models.RefreshResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: failed to parse refresh response: %v", shared.ErrInvalidResponse, err)
	}
	if resp.Tokens.Access.Token == "" {
		return "", fmt.Errorf("%w: refresh response has no access token", shared.ErrInvalidResponse)
	}

	if !a.store.UpdateAccess(resp.Tokens.Access.Token, a.now().Add(resp.Tokens.Access.Lifetime())) {
		return "", fmt.Errorf("%w: logged out during refresh", shared.ErrNotAuthenticated)
	}
	a.logger.Debug("access token refreshed", "server", a.baseURL)
	return resp.Tokens.Access.Token, nil
}

// post sends an empty POST with bearer as the Authorization token and returns the body of a 2xx response.
func (a *AuthManager) post(ctx context.Context, path, bearer string) ([]byte, error) {
	if a.limiter != nil {
		permit, err := a.limiter.Acquire(ctx, path)
		if err != nil {
			return nil, err
		}
		defer permit.Release()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitedError{RetryAfter: authRateLimitBackoff}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &ServerError{Status: resp.StatusCode, Body: truncate(string(body), 500)}
	}
	return body, nil
}

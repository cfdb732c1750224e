package services

import (
	"context"
	"maps"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultEndpointLimit applies to paths with no configured pattern.
const DefaultEndpointLimit = 5

// EndpointLimits maps normalized path patterns to a maximum number of in-flight requests.
type EndpointLimits struct {
	Default  int
	Patterns map[string]int
}

// DefaultEndpointLimits returns the limits N-central tolerates in practice.
func DefaultEndpointLimits() EndpointLimits {
	return EndpointLimits{
		Default: DefaultEndpointLimit,
		Patterns: map[string]int{
			"/api/auth/authenticate": 50,
			"/api/auth/refresh":      50,
			"/api/auth/validate":     50,
			"/api/health":            50,
			"/api/server-info":       50,

			"/api/service-orgs":   5,
			"/api/customers":      5,
			"/api/sites":          5,
			"/api/devices":        5,
			"/api/org-units":      5,
			"/api/users":          5,
			"/api/device-filters": 5,

			"/api/devices/{id}":        50,
			"/api/devices/{id}/assets": 50,

			"/api/devices/{id}/custom-properties":   5,
			"/api/org-units/{id}/custom-properties": 5,
			"/api/org-units/{id}/access-groups":     5,
			"/api/org-units/{id}/user-roles":        5,
			"/api/org-units/{id}/users":             5,
			"/api/org-units/{id}/devices":           5,

			"/api/org-units/{id}/active-issues": 3,
			"/api/active-issues/{id}":           3,
		},
	}
}

// WithOverrides returns a copy with the given patterns replaced. A "default" key replaces the default.
// Non-positive values are ignored.
func (l EndpointLimits) WithOverrides(overrides map[string]int, def int) EndpointLimits {
	out := EndpointLimits{Default: l.Default, Patterns: maps.Clone(l.Patterns)}
	if out.Patterns == nil {
		out.Patterns = map[string]int{}
	}
	if def > 0 {
		out.Default = def
	}
	for pattern, limit := range overrides {
		if limit <= 0 {
			continue
		}
		if pattern == "default" {
			out.Default = limit
			continue
		}
		out.Patterns[NormalizePath(pattern)] = limit
	}
	return out
}

// NormalizePath drops the query string and replaces integer path segments with "{id}".
func NormalizePath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if _, err := strconv.ParseInt(part, 10, 64); err == nil {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}

// resolve returns the pattern key and bound for path: exact match, then normalized, then default.
func (l EndpointLimits) resolve(path string) (string, int) {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if limit, ok := l.Patterns[path]; ok {
		return path, limit
	}
	normalized := NormalizePath(path)
	if limit, ok := l.Patterns[normalized]; ok {
		return normalized, limit
	}
	return "", l.Default
}

// Limit returns the concurrency bound for path.
func (l EndpointLimits) Limit(path string) int {
	_, limit := l.resolve(path)
	return limit
}

// Limiter bounds in-flight requests per endpoint pattern. Paths without a pattern share one default pool.
type Limiter struct {
	limits EndpointLimits

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewLimiter creates a [Limiter]. Semaphores are created lazily per pattern.
func NewLimiter(limits EndpointLimits) *Limiter {
	if limits.Default <= 0 {
		limits.Default = DefaultEndpointLimit
	}
	return &Limiter{limits: limits, sems: make(map[string]*semaphore.Weighted)}
}

// Limits returns the configured limits.
func (l *Limiter) Limits() EndpointLimits { return l.limits }

// Limit returns the concurrency bound for path.
func (l *Limiter) Limit(path string) int { return l.limits.Limit(path) }

// Permit is held for the duration of one request.
type Permit struct {
	sem  *semaphore.Weighted
	once sync.Once
}

// Release returns the permit. Calling it more than once is a no-op.
func (p *Permit) Release() {
	if p == nil || p.sem == nil {
		return
	}
	p.once.Do(func() { p.sem.Release(1) })
}

// Acquire blocks until a permit for path is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context, path string) (*Permit, error) {
	sem := l.semaphore(path)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return &Permit{sem: sem}, nil
}

func (l *Limiter) semaphore(path string) *semaphore.Weighted {
	key, limit := l.limits.resolve(path)
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.sems[key]
	if !ok {
		sem = semaphore.NewWeighted(int64(limit))
		l.sems[key] = sem
	}
	return sem
}

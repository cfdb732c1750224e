package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ncx/internal/models"
	"github.com/desertthunder/ncx/internal/shared"
	"github.com/google/go-querystring/query"
	"github.com/juju/clock"
	"github.com/juju/retry"
	"golang.org/x/oauth2"
)

const (
	DefaultTimeout    = 60 * time.Second
	DefaultMaxRetries = 3
	DefaultPageSize   = 100

	// defaultRetryAfter is used when a 429 carries no usable Retry-After header.
	defaultRetryAfter = 5 * time.Second
	// exhaustedRetryAfter is reported once the retry budget is spent.
	exhaustedRetryAfter = 60 * time.Second
)

// ClientOptions tunes a [Client]. Zero values select the defaults.
type ClientOptions struct {
	Timeout    time.Duration
	MaxRetries int
	PageSize   int
	Limits     *EndpointLimits
	HTTPClient *http.Client
	Metrics    *Metrics
	Logger     *log.Logger
	// Clock paces 429 backoff. Defaults to the wall clock.
	Clock clock.Clock
	// Name labels metrics and log lines, e.g. "source" or "destination".
	Name string
}

// ClientOptionsFromConfig maps the [api] config section onto [ClientOptions].
func ClientOptionsFromConfig(cfg shared.APIConfig) ClientOptions {
	limits := DefaultEndpointLimits().WithOverrides(cfg.Limits, cfg.DefaultLimit)
	return ClientOptions{
		Timeout:    cfg.Timeout(),
		MaxRetries: cfg.MaxRetries,
		PageSize:   cfg.PageSize,
		Limits:     &limits,
	}
}

// Client is an authenticated, concurrency-limited N-central REST client.
type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	auth       *AuthManager
	limiter    *Limiter
	metrics    *Metrics
	logger     *log.Logger
	maxRetries int
	pageSize   int
	clock      clock.Clock
}

// NewClient creates a [Client] for baseURL (see [shared.NormalizeBaseURL]).
func NewClient(baseURL string, opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	limits := DefaultEndpointLimits()
	if opts.Limits != nil {
		limits = *opts.Limits
	}

	baseURL = strings.TrimRight(baseURL, "/")
	limiter := NewLimiter(limits)
	logger := opts.Logger
	if opts.Name != "" {
		logger = shared.WithLogger(logger, "server", opts.Name)
	}

	return &Client{
		name:       opts.Name,
		baseURL:    baseURL,
		httpClient: opts.HTTPClient,
		auth:       NewAuthManager(baseURL, opts.HTTPClient, limiter, logger),
		limiter:    limiter,
		metrics:    opts.Metrics,
		logger:     logger,
		maxRetries: opts.MaxRetries,
		pageSize:   opts.PageSize,
		clock:      opts.Clock,
	}
}

// BaseURL returns the server base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Auth returns the client's [AuthManager].
func (c *Client) Auth() *AuthManager { return c.auth }

// Limiter returns the client's [Limiter].
func (c *Client) Limiter() *Limiter { return c.limiter }

// PageSize returns the configured page size.
func (c *Client) PageSize() int { return c.pageSize }

// Authenticate exchanges the API-user JWT for tokens.
func (c *Client) Authenticate(ctx context.Context, credential string) error {
	return c.auth.Authenticate(ctx, credential)
}

// Get issues a GET and decodes the JSON response into out. params may be nil, a [url.Values] or
// a struct with `url` tags.
func (c *Client) Get(ctx context.Context, path string, params any, out any) error {
	values, err := encodeParams(params)
	if err != nil {
		return err
	}
	body, err := c.do(ctx, http.MethodGet, path, values, nil)
	if err != nil {
		return err
	}
	return decode(body, out)
}

// Post issues a POST with a JSON body and decodes the JSON response into out, which may be nil.
func (c *Client) Post(ctx context.Context, path string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: failed to encode request: %v", shared.ErrInvalidInput, err)
	}
	body, err := c.do(ctx, http.MethodPost, path, nil, data)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return decode(body, out)
}

// errTooManyRequests marks the only response [Client.do] retries.
var errTooManyRequests = errors.New("too many requests")

// do runs the request pipeline: permit, token, round trip, classification. A 429 is retried up to
// maxRetries times, waiting for Retry-After (or 5s) between attempts.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, payload []byte) ([]byte, error) {
	target, err := c.resolve(path, params)
	if err != nil {
		return nil, err
	}

	var (
		body  []byte
		fatal error
		wait  = defaultRetryAfter
	)
	err = retry.Call(retry.CallArgs{
		Func: func() error {
			status, header, b, err := c.roundTrip(ctx, method, path, target, payload)
			if err != nil {
				fatal = err
				return err
			}
			if status == http.StatusTooManyRequests {
				wait = retryAfter(header)
				return errTooManyRequests
			}
			body, fatal = b, classify(status, path, b)
			return fatal
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, errTooManyRequests)
		},
		NotifyFunc: func(_ error, attempt int) {
			c.logger.Warn("rate limited", "path", path, "retry_after", wait, "attempt", attempt)
		},
		Attempts: c.maxRetries + 1,
		Delay:    defaultRetryAfter,
		BackoffFunc: func(time.Duration, int) time.Duration {
			return wait
		},
		Clock: c.clock,
		Stop:  ctx.Done(),
	})

	switch {
	case err == nil:
		return body, nil
	case fatal != nil:
		return nil, fatal
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		return nil, &RateLimitedError{RetryAfter: exhaustedRetryAfter}
	}
}

// classify maps a non-429 status onto the error taxonomy.
func classify(status int, path string, body []byte) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", shared.ErrAuthentication, truncate(string(body), 500))
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", shared.ErrNotFound, path)
	case status < 200 || status >= 300:
		return &ServerError{Status: status, Body: truncate(string(body), 500)}
	}
	return nil
}

// roundTrip performs one attempt while holding a limiter permit.
func (c *Client) roundTrip(ctx context.Context, method, path, target string, payload []byte) (int, http.Header, []byte, error) {
	permit, err := c.limiter.Acquire(ctx, path)
	if err != nil {
		return 0, nil, nil, err
	}
	defer permit.Release()

	token, err := c.auth.GetToken(ctx)
	if err != nil {
		return 0, nil, nil, err
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	done := c.metrics.begin(c.name)
	defer done()
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.observe(c.name, method, path, 0, time.Since(start))
		return 0, nil, nil, fmt.Errorf("%w: %s %s: %v", shared.ErrAPIRequest, method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	c.metrics.observe(c.name, method, path, resp.StatusCode, time.Since(start))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, resp.Header, body, nil
}

// resolve joins path onto the base URL and merges params into any query already on path.
func (c *Client) resolve(path string, params url.Values) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("%w: bad request path %q: %v", shared.ErrInvalidInput, path, err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// GetAllPages follows pageNumber/pageSize pagination until the server reports the last page, returns an
// empty page, or returns a short page. onPage, when set, receives the page number and total (0 if unknown).
func GetAllPages[T any](ctx context.Context, c *Client, path string, pageSize int, onPage func(page, totalPages int)) ([]T, error) {
	if pageSize <= 0 {
		pageSize = c.pageSize
	}

	var all []T
	for page := 1; ; page++ {
		var resp models.Page[T]
		if err := c.Get(ctx, path, models.PageQuery{PageNumber: page, PageSize: pageSize}, &resp); err != nil {
			return nil, err
		}

		count := len(resp.Data)
		all = append(all, resp.Data...)
		c.logger.Debug("fetched page", "path", path, "page", page, "items", count, "total_pages", resp.TotalPages)

		if onPage != nil {
			onPage(page, resp.TotalPages)
		}
		if resp.TotalPages > 0 && page >= resp.TotalPages {
			break
		}
		if count == 0 || count < pageSize {
			break
		}
	}
	if all == nil {
		all = []T{}
	}
	return all, nil
}

// getList fetches a single, unpaginated list envelope.
func getList[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var resp models.Page[T]
	if err := c.Get(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return []T{}, nil
	}
	return resp.Data, nil
}

func encodeParams(params any) (url.Values, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case url.Values:
		return p, nil
	default:
		values, err := query.Values(p)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to encode query: %v", shared.ErrInvalidInput, err)
		}
		return values, nil
	}
}

func decode(body []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidResponse, err)
	}
	return nil
}

// retryAfter reads Retry-After as whole seconds.
func retryAfter(h http.Header) time.Duration {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRetryAfter
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desertthunder/ncx/internal/models"
	"github.com/desertthunder/ncx/internal/shared"
	tu "github.com/desertthunder/ncx/internal/testing"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const authBody = `{"tokens":{"access":{"token":"tok","expiresInSeconds":3600},"refresh":{"token":"ref","expiresInSeconds":90000}}}`

// newTestClient serves authentication itself and hands every other request to h.
func newTestClient(t *testing.T, h http.HandlerFunc, opts ClientOptions) (*Client, *[]time.Duration) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == authenticatePath {
			w.Write([]byte(authBody))
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)

	clk := &instantClock{Clock: clock.WallClock}
	opts.Clock = clk
	c := NewClient(srv.URL, opts)
	if err := c.Authenticate(context.Background(), "jwt"); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	return c, &clk.waits
}

// instantClock fires every backoff timer immediately and records the requested waits.
type instantClock struct {
	clock.Clock
	waits []time.Duration
}

func (c *instantClock) After(d time.Duration) <-chan time.Time {
	c.waits = append(c.waits, d)
	ch := make(chan time.Time, 1)
	ch <- c.Now().Add(d)
	return ch
}

func TestClient(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		t.Run("Defaults", func(t *testing.T) {
			c := NewClient("https://nc.example.com/", ClientOptions{})
			if c.BaseURL() != "https://nc.example.com" {
				t.Errorf("expected trailing slash trimmed, got %s", c.BaseURL())
			}
			if c.maxRetries != DefaultMaxRetries || c.PageSize() != DefaultPageSize {
				t.Errorf("unexpected defaults: retries=%d page=%d", c.maxRetries, c.PageSize())
			}
			if c.Limiter().Limit("/api/devices/1") != 50 {
				t.Error("expected default endpoint limits")
			}
		})

		t.Run("Negative Retries Disable Retrying", func(t *testing.T) {
			c := NewClient("https://nc.example.com", ClientOptions{MaxRetries: -1})
			if c.maxRetries != 0 {
				t.Errorf("expected 0 retries, got %d", c.maxRetries)
			}
		})

		t.Run("From Config", func(t *testing.T) {
			cfg := shared.DefaultConfig().API
			cfg.PageSize = 25
			cfg.Limits = map[string]int{"/api/sites": 1}
			opts := ClientOptionsFromConfig(cfg)
			if opts.PageSize != 25 {
				t.Errorf("expected page size 25, got %d", opts.PageSize)
			}
			if opts.Limits.Limit("/api/sites") != 1 {
				t.Errorf("expected override applied")
			}
		})
	})

	t.Run("Get", func(t *testing.T) {
		t.Run("Encodes Query Struct", func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if got := r.URL.Query().Get("pageNumber"); got != "3" {
					t.Errorf("expected pageNumber=3, got %q", got)
				}
				if got := r.URL.Query().Get("filter"); got != "x" {
					t.Errorf("expected existing query kept, got %q", got)
				}
				w.Write([]byte(`{"data":[]}`))
			}, ClientOptions{})

			var out map[string]any
			if err := c.Get(context.Background(), "/api/devices?filter=x", models.PageQuery{PageNumber: 3}, &out); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})

		t.Run("Invalid JSON", func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`not json`))
			}, ClientOptions{})

			var out map[string]any
			err := c.Get(context.Background(), "/api/devices", nil, &out)
			if !errors.Is(err, shared.ErrInvalidResponse) {
				t.Errorf("expected ErrInvalidResponse, got %v", err)
			}
		})

		t.Run("Unauthenticated Client", func(t *testing.T) {
			c := NewClient("http://127.0.0.1:1", ClientOptions{})
			err := c.Get(context.Background(), "/api/devices", nil, nil)
			if !errors.Is(err, shared.ErrAuthentication) {
				t.Errorf("expected ErrAuthentication, got %v", err)
			}
		})

		t.Run("Transport Error", func(t *testing.T) {
			c, _ := newTestClient(t, func(http.ResponseWriter, *http.Request) {}, ClientOptions{})
			c.httpClient = &http.Client{Transport: tu.StaticTransport(nil, errors.New("connection reset"))}

			err := c.Get(context.Background(), "/api/devices", nil, nil)
			if !errors.Is(err, shared.ErrAPIRequest) {
				t.Errorf("expected ErrAPIRequest, got %v", err)
			}
		})

		t.Run("Body Read Error", func(t *testing.T) {
			c, _ := newTestClient(t, func(http.ResponseWriter, *http.Request) {}, ClientOptions{})
			resp := &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: tu.FailingBody{}}
			c.httpClient = &http.Client{Transport: tu.StaticTransport(resp, nil)}

			err := c.Get(context.Background(), "/api/devices", nil, nil)
			if err == nil || !strings.Contains(err.Error(), "failed to read response") {
				t.Errorf("expected read failure, got %v", err)
			}
		})
	})

	t.Run("Status Classification", func(t *testing.T) {
		tests := []struct {
			name   string
			status int
			check  func(error) bool
		}{
			{"Unauthorized", 401, func(err error) bool { return errors.Is(err, shared.ErrAuthentication) }},
			{"Forbidden", 403, func(err error) bool { return errors.Is(err, shared.ErrAuthentication) }},
			{"Not Found", 404, func(err error) bool { return errors.Is(err, shared.ErrNotFound) }},
			{"Server Error", 500, func(err error) bool {
				var se *ServerError
				return errors.As(err, &se) && se.Status == 500 && se.Body != ""
			}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
					http.Error(w, "boom", tt.status)
				}, ClientOptions{})

				err := c.Get(context.Background(), "/api/devices", nil, nil)
				if !tt.check(err) {
					t.Errorf("unexpected error for %d: %v", tt.status, err)
				}
			})
		}
	})

	t.Run("Rate Limiting", func(t *testing.T) {
		t.Run("Retries Using Retry-After", func(t *testing.T) {
			var calls atomic.Int32
			c, slept := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				switch calls.Add(1) {
				case 1:
					w.Header().Set("Retry-After", "2")
					w.WriteHeader(http.StatusTooManyRequests)
				case 2:
					w.WriteHeader(http.StatusTooManyRequests)
				default:
					w.Write([]byte(`{"ok":true}`))
				}
			}, ClientOptions{})

			var out map[string]bool
			if err := c.Get(context.Background(), "/api/sites", nil, &out); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !out["ok"] {
				t.Error("expected decoded body after retries")
			}
			want := []time.Duration{2 * time.Second, 5 * time.Second}
			if fmt.Sprint(*slept) != fmt.Sprint(want) {
				t.Errorf("expected waits %v, got %v", want, *slept)
			}
		})

		t.Run("Exhausted Retries", func(t *testing.T) {
			var calls atomic.Int32
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(http.StatusTooManyRequests)
			}, ClientOptions{MaxRetries: 2})

			err := c.Get(context.Background(), "/api/sites", nil, nil)
			var rl *RateLimitedError
			if !errors.As(err, &rl) || rl.RetryAfter != 60*time.Second {
				t.Fatalf("expected RateLimitedError(60s), got %v", err)
			}
			if !errors.Is(err, shared.ErrRateLimited) {
				t.Error("expected ErrRateLimited in chain")
			}
			if got := calls.Load(); got != 3 {
				t.Errorf("expected 3 attempts, got %d", got)
			}
		})

		t.Run("Cancelled While Waiting", func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			}, ClientOptions{})
			c.clock = clock.WallClock

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			if err := c.Get(ctx, "/api/sites", nil, nil); !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("expected deadline exceeded, got %v", err)
			}
		})
	})

	t.Run("Post", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
			}
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["customerName"] != "Acme" {
				t.Errorf("unexpected body %v", body)
			}
			w.Write([]byte(`{"customerId":"77"}`))
		}, ClientOptions{})

		id, err := c.CreateCustomer(context.Background(), 50, map[string]string{"customerName": "Acme"})
		if err != nil {
			t.Fatalf("CreateCustomer failed: %v", err)
		}
		if id != 77 {
			t.Errorf("expected id 77, got %d", id)
		}
	})

	t.Run("Create Response Without ID", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"ok"}`))
		}, ClientOptions{})

		_, err := c.CreateSite(context.Background(), 1, map[string]string{})
		if !errors.Is(err, shared.ErrCreatedWithoutID) {
			t.Errorf("expected ErrCreatedWithoutID, got %v", err)
		}
	})
}

func TestGetAllPages(t *testing.T) {
	serve := func(counts []int, totalPages int) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			page, _ := strconv.Atoi(r.URL.Query().Get("pageNumber"))
			data := []models.Device{}
			if page >= 1 && page <= len(counts) {
				for i := range counts[page-1] {
					data = append(data, models.Device{DeviceID: models.ID(page*1000 + i)})
				}
			}
			json.NewEncoder(w).Encode(models.Page[models.Device]{Data: data, PageNumber: page, TotalPages: totalPages})
		}
	}

	tests := []struct {
		name       string
		counts     []int
		totalPages int
		wantItems  int
		wantCalls  int
	}{
		{name: "Short Last Page", counts: []int{100, 100, 37}, wantItems: 237, wantCalls: 3},
		{name: "Reported Total Pages", counts: []int{100, 100, 100, 100}, totalPages: 2, wantItems: 200, wantCalls: 2},
		{name: "Empty First Page", counts: []int{0}, wantItems: 0, wantCalls: 1},
		{name: "Exact Multiple", counts: []int{100, 100, 0}, wantItems: 200, wantCalls: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			h := serve(tt.counts, tt.totalPages)
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				h(w, r)
			}, ClientOptions{})

			var pages []int
			items, err := GetAllPages[models.Device](context.Background(), c, PathDevices, 100, func(page, _ int) {
				pages = append(pages, page)
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(items) != tt.wantItems {
				t.Errorf("expected %d items, got %d", tt.wantItems, len(items))
			}
			if items == nil {
				t.Error("expected empty slice, not nil")
			}
			if got := int(calls.Load()); got != tt.wantCalls {
				t.Errorf("expected %d requests, got %d", tt.wantCalls, got)
			}
			if len(pages) != tt.wantCalls {
				t.Errorf("expected progress per page, got %v", pages)
			}
		})
	}

	t.Run("Error Mid Stream", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("pageNumber") == "2" {
				http.Error(w, "boom", 500)
				return
			}
			serve([]int{100, 100}, 0)(w, r)
		}, ClientOptions{})

		if _, err := GetAllPages[models.Device](context.Background(), c, PathDevices, 100, nil); !errors.Is(err, shared.ErrServer) {
			t.Errorf("expected ErrServer, got %v", err)
		}
	})
}

func TestEndpoints(t *testing.T) {
	fake := tu.NewFakeNCentral(t, 50, "Acme MSP")
	fake.Seed(func(f *tu.FakeNCentral) {
		f.Customers = []models.Customer{
			{CustomerID: 100, CustomerName: "Acme", Parent: models.SomeID(50)},
			{CustomerID: 200, CustomerName: "Other", Parent: models.SomeID(60)},
		}
		f.Sites = []models.Site{
			{SiteID: 101, SiteName: "HQ", Parent: models.SomeID(100)},
			{SiteID: 201, SiteName: "Elsewhere", Parent: models.SomeID(200)},
			{SiteID: 51, SiteName: "Direct", Parent: models.SomeID(50)},
		}
		f.Users = []models.User{
			{UserID: 1, UserName: "jane", OrgUnitID: models.SomeID(101)},
			{UserID: 2, UserName: "bob", OrgUnitID: models.SomeID(201)},
		}
	})

	c := NewClient(fake.URL(), ClientOptions{PageSize: 1})
	ctx := context.Background()
	if err := c.Authenticate(ctx, "valid-jwt"); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}

	t.Run("Server Info", func(t *testing.T) {
		info, err := c.ServerInfo(ctx)
		if err != nil {
			t.Fatalf("ServerInfo failed: %v", err)
		}
		if info.DisplayVersion() != "2024.6.0.1" {
			t.Errorf("unexpected version %q", info.DisplayVersion())
		}
		if err := c.Health(ctx); err != nil {
			t.Errorf("Health failed: %v", err)
		}
	})

	t.Run("Service Org", func(t *testing.T) {
		so, err := c.ServiceOrg(ctx, 50)
		if err != nil {
			t.Fatalf("ServiceOrg failed: %v", err)
		}
		if so.SOName != "Acme MSP" {
			t.Errorf("unexpected name %q", so.SOName)
		}
		if _, err := c.ServiceOrg(ctx, 999); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Customers By SO", func(t *testing.T) {
		customers, err := c.CustomersBySO(ctx, 50)
		if err != nil {
			t.Fatalf("CustomersBySO failed: %v", err)
		}
		if len(customers) != 1 || customers[0].CustomerName != "Acme" {
			t.Errorf("unexpected customers %+v", customers)
		}
	})

	t.Run("Sites By SO", func(t *testing.T) {
		sites, err := c.SitesBySO(ctx, 50)
		if err != nil {
			t.Fatalf("SitesBySO failed: %v", err)
		}
		names := map[string]bool{}
		for _, s := range sites {
			names[s.SiteName] = true
		}
		if len(sites) != 2 || !names["HQ"] || !names["Direct"] {
			t.Errorf("unexpected sites %v", names)
		}
	})

	t.Run("Users Paged", func(t *testing.T) {
		users, err := c.UsersByOrgUnit(ctx, 50)
		if err != nil {
			t.Fatalf("UsersByOrgUnit failed: %v", err)
		}
		if len(users) != 1 || users[0].Login() != "jane" {
			t.Errorf("unexpected users %+v", users)
		}
	})

	t.Run("All Users Paged", func(t *testing.T) {
		users, err := c.Users(ctx)
		if err != nil {
			t.Fatalf("Users failed: %v", err)
		}
		if len(users) != 2 {
			t.Errorf("expected 2 users across pages, got %d", len(users))
		}
	})

	t.Run("Creates", func(t *testing.T) {
		roleID, err := c.CreateUserRole(ctx, 100, map[string]any{"roleName": "Tech"})
		if err != nil || roleID == 0 {
			t.Fatalf("CreateUserRole failed: %d %v", roleID, err)
		}
		groupID, err := c.CreateDeviceAccessGroup(ctx, 100, map[string]any{"groupName": "Servers"})
		if err != nil || groupID == 0 {
			t.Fatalf("CreateDeviceAccessGroup failed: %d %v", groupID, err)
		}
		siteID, err := c.CreateSite(ctx, 100, map[string]any{"siteName": "Branch"})
		if err != nil || siteID == 0 {
			t.Fatalf("CreateSite failed: %d %v", siteID, err)
		}

		groups, _ := c.AccessGroups(ctx, 100)
		if len(groups) != 1 || !groups[0].IsDeviceGroup() {
			t.Errorf("unexpected groups %+v", groups)
		}
		if err := c.SetOrgPropertyValue(ctx, map[string]any{"value": "x"}); err != nil {
			t.Errorf("SetOrgPropertyValue failed: %v", err)
		}
	})
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/devices/9" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}, ClientOptions{Metrics: m, Name: "source", MaxRetries: -1})

	c.Get(context.Background(), "/api/devices/7", nil, nil)
	c.Get(context.Background(), "/api/devices/8", nil, nil)
	c.Get(context.Background(), "/api/devices/9", nil, nil)

	if got := testutil.ToFloat64(m.requests.WithLabelValues("source", "GET", "/api/devices/{id}", "2xx")); got != 2 {
		t.Errorf("expected 2 successful requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.throttled.WithLabelValues("source", "/api/devices/{id}")); got != 1 {
		t.Errorf("expected 1 throttled request, got %v", got)
	}
	if got := testutil.ToFloat64(m.inFlight.WithLabelValues("source")); got != 0 {
		t.Errorf("expected no in-flight requests, got %v", got)
	}

	t.Run("Nil Metrics", func(t *testing.T) {
		var nilMetrics *Metrics
		nilMetrics.begin("x")()
		nilMetrics.observe("x", "GET", "/", 200, time.Millisecond)
	})
}

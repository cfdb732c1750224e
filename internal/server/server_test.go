package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/desertthunder/ncx/internal/shared"
	"github.com/desertthunder/ncx/internal/tasks"
)

var quiet = shared.NewLogger(io.Discard)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBasicRouter(t *testing.T) {
	t.Run("Middleware Order", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		r := NewBasicRouter()
		r.Use(mark("first"), mark("second"))
		r.Handle(http.MethodGet, "/x", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			order = append(order, "handler")
		}))

		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
		if strings.Join(order, ",") != "first,second,handler" {
			t.Errorf("unexpected order %v", order)
		}
	})

	t.Run("Method Not Allowed", func(t *testing.T) {
		r := NewBasicRouter()
		r.Handle(http.MethodGet, "/x", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})

	t.Run("Recover", func(t *testing.T) {
		r := NewBasicRouter()
		r.Use(Recover(quiet))
		r.Handle(http.MethodGet, "/boom", http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
	})
}

func TestStatusServer(t *testing.T) {
	t.Run("Health", func(t *testing.T) {
		s := NewStatusServer(tasks.NewBroadcaster(), prometheus.NewRegistry(), quiet)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
			t.Errorf("unexpected response %d %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		c := prometheus.NewCounter(prometheus.CounterOpts{Name: "ncx_test_total", Help: "test"})
		reg.MustRegister(c)
		c.Add(3)

		s := NewStatusServer(nil, reg, quiet)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		if !strings.Contains(rec.Body.String(), "ncx_test_total 3") {
			t.Errorf("expected counter in output:\n%s", rec.Body.String())
		}
	})

	t.Run("Status Tracks Progress", func(t *testing.T) {
		events := tasks.NewBroadcaster()
		s := NewStatusServer(events, prometheus.NewRegistry(), quiet)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		s.Track(ctx)

		events.Progress(tasks.ProgressUpdate{Phase: tasks.PhaseSites, Percent: 30, Message: "sites"})

		waitFor(t, func() bool {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
			var body struct {
				Progress *tasks.ProgressUpdate `json:"progress"`
			}
			_ = json.Unmarshal(rec.Body.Bytes(), &body)
			return body.Progress != nil && body.Progress.Percent == 30
		})
	})

	t.Run("Event Stream", func(t *testing.T) {
		events := tasks.NewBroadcaster()
		s := NewStatusServer(events, prometheus.NewRegistry(), quiet)
		srv := httptest.NewServer(s.Handler())
		defer srv.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET /events failed: %v", err)
		}
		defer resp.Body.Close()

		if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
			t.Errorf("unexpected content type %q", ct)
		}

		waitFor(t, func() bool { return events.Subscribers() == 1 })
		events.Progress(tasks.ProgressUpdate{Phase: tasks.PhaseCustomers, Percent: 12})

		sc := bufio.NewScanner(resp.Body)
		var lines []string
		for sc.Scan() {
			lines = append(lines, sc.Text())
			if strings.HasPrefix(sc.Text(), "data: ") {
				break
			}
		}
		got := strings.Join(lines, "\n")
		if !strings.Contains(got, "event: progress") || !strings.Contains(got, `"phase":"Customers"`) {
			t.Errorf("unexpected stream:\n%s", got)
		}
	})

	t.Run("Serve Stops On Cancel", func(t *testing.T) {
		s := NewStatusServer(tasks.NewBroadcaster(), prometheus.NewRegistry(), quiet)
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen failed: %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- s.Serve(ctx, ln) }()

		waitFor(t, func() bool {
			resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
			if err != nil {
				return false
			}
			resp.Body.Close()
			return resp.StatusCode == http.StatusOK
		})

		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("expected clean shutdown, got %v", err)
			}
		case <-time.After(2 * shutdownTimeout):
			t.Fatal("Serve did not return after cancel")
		}
	})
}

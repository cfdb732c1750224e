package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/desertthunder/ncx/internal/tasks"
)

const (
	heartbeatInterval = 15 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// StatusServer exposes a running engine over HTTP.
//
//	GET /healthz  liveness
//	GET /status   latest progress update as JSON
//	GET /events   progress and log events as server-sent events
//	GET /metrics  Prometheus metrics from the given gatherer
type StatusServer struct {
	router   *BasicRouter
	events   *tasks.Broadcaster
	gatherer prometheus.Gatherer
	logger   *log.Logger
	started  time.Time

	heartbeat time.Duration

	mu   sync.RWMutex
	last *tasks.ProgressUpdate
}

// NewStatusServer wires the status routes. A nil gatherer serves the default registry.
func NewStatusServer(events *tasks.Broadcaster, gatherer prometheus.Gatherer, logger *log.Logger) *StatusServer {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &StatusServer{
		router:    NewBasicRouter(),
		events:    events,
		gatherer:  gatherer,
		logger:    logger,
		started:   time.Now(),
		heartbeat: heartbeatInterval,
	}
	s.router.Use(Recover(logger), Logging(logger))
	s.router.Handler(s)
	return s
}

func (s *StatusServer) Routes() []string {
	return []string{"GET /healthz", "GET /status", "GET /events", "GET /metrics"}
}

func (s *StatusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/healthz":
		writeJSON(w, map[string]string{"status": "ok"})
	case "/status":
		s.status(w)
	case "/events":
		s.stream(w, r)
	case "/metrics":
		promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	default:
		http.NotFound(w, r)
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *StatusServer) Handler() http.Handler { return s.router }

// Track keeps the latest progress update until ctx ends.
func (s *StatusServer) Track(ctx context.Context) {
	if s.events == nil {
		return
	}
	ch := s.events.Subscribe(ctx)
	go func() {
		for evt := range ch {
			if evt.Progress == nil {
				continue
			}
			u := *evt.Progress
			s.mu.Lock()
			s.last = &u
			s.mu.Unlock()
		}
	}()
}

// Serve runs the server on ln until ctx ends, then shuts it down.
func (s *StatusServer) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.Track(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("status server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and calls [StatusServer.Serve].
func (s *StatusServer) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("status server listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *StatusServer) status(w http.ResponseWriter) {
	s.mu.RLock()
	last := s.last
	s.mu.RUnlock()

	subscribers := 0
	if s.events != nil {
		subscribers = s.events.Subscribers()
	}
	writeJSON(w, map[string]any{
		"uptime":      time.Since(s.started).Round(time.Second).String(),
		"subscribers": subscribers,
		"progress":    last,
	})
}

func (s *StatusServer) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok || s.events == nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.events.Subscribe(r.Context())
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			name := "progress"
			if evt.Log != nil {
				name = "log"
			}
			data, err := json.Marshal(evt)
			if err != nil {
				s.logger.Warn("failed to encode event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

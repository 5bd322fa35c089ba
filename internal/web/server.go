// Package web is the recorder's command and notification surface: a
// websocket method channel, an HTTP mirror of its commands, a status
// stream and Prometheus metrics.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/cjeanneret/torchrec/internal/debug"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
	rate     int
}

// NewServer creates a server for addr. ratePerMinute caps command requests
// per client IP; 0 disables the limit.
func NewServer(addr string, handlers *Handlers, ratePerMinute int) *Server {
	return &Server{
		addr:     addr,
		handlers: handlers,
		rate:     ratePerMinute,
	}
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		if s.rate > 0 {
			r.Use(rateLimit(s.rate, time.Minute))
		}
		r.Post("/recording/start", s.handlers.HandleStart)
		r.Post("/recording/stop", s.handlers.HandleStop)
		r.Post("/command/{method}", s.handlers.HandleCommand)
		r.Get("/channel", s.handlers.HandleChannel)
	})

	r.Get("/status", s.handlers.HandleStatus)
	r.Get("/status/stream", s.handlers.HandleStatusStream)
	r.Get("/metrics", s.handlers.HandleMetrics)
	return r
}

func rateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rateLimited"})
		}),
	)
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
		// Status streams end with ctx instead of holding Shutdown open.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		s.handlers.Hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Package server runs the framewire gateway: an HTTP listener for operations
// endpoints and WebSocket upgrades, and a TCP listener for newline-delimited
// JSON RPC. Every connection is served by its own dispatcher.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/framewire/internal/auth"
	"github.com/mattjoyce/framewire/internal/config"
	"github.com/mattjoyce/framewire/internal/events"
	"github.com/mattjoyce/framewire/internal/framed"
	"github.com/mattjoyce/framewire/internal/journal"
	"github.com/mattjoyce/framewire/internal/log"
	"github.com/mattjoyce/framewire/internal/metrics"
)

const (
	shutdownTimeout = 5 * time.Second
	journalTimeout  = 5 * time.Second
)

//go:generate mockgen -destination=mocks/mock_recorder.go -package=mocks github.com/mattjoyce/framewire/internal/server SessionRecorder

// SessionRecorder persists one record per connection.
type SessionRecorder interface {
	Start(ctx context.Context, protocol, remoteAddr string) (string, error)
	Finish(ctx context.Context, id string, res journal.Result) error
	Recent(ctx context.Context, limit int) ([]*journal.Session, error)
}

// Server represents the gateway. A nil recorder disables the session journal.
type Server struct {
	cfg       *config.Config
	metrics   *metrics.Metrics
	recorder  SessionRecorder
	logger    *slog.Logger
	events    *events.Hub
	startedAt time.Time

	active   atomic.Int64
	sessions sync.WaitGroup
}

// New creates a server. m and logger may be nil.
func New(cfg *config.Config, m *metrics.Metrics, recorder SessionRecorder, logger *slog.Logger) *Server {
	if m == nil {
		m = metrics.New(nil)
	}
	if logger == nil {
		logger = log.WithComponent("server")
	}
	return &Server{
		cfg:       cfg,
		metrics:   m,
		recorder:  recorder,
		logger:    logger,
		events:    events.NewHub(256),
		startedAt: time.Now(),
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.metrics.Collect)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.With(s.requireScopes(auth.ScopeSessions)).Get("/sessions", s.handleSessions)
	r.With(s.requireScopes(auth.ScopeEvents)).Get("/events", s.handleEvents)
	r.Get(s.cfg.WebSocket.Path, s.handleWebSocket)

	return r
}

// Start opens the configured listeners and serves them until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig

	var httpLn, tcpLn net.Listener
	if addr := s.cfg.Listen.HTTP; addr != "" {
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("listen http %s: %w", addr, err)
		}
		httpLn = ln
	}
	if addr := s.cfg.Listen.TCP; addr != "" {
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			if httpLn != nil {
				_ = httpLn.Close()
			}
			return fmt.Errorf("listen tcp %s: %w", addr, err)
		}
		tcpLn = ln
	}
	return s.Serve(ctx, httpLn, tcpLn)
}

// Serve accepts on the given listeners, either of which may be nil. It returns
// after both listeners have stopped and every session has finished: ctx.Err()
// on cancellation, or the first listener failure.
func (s *Server) Serve(ctx context.Context, httpLn, tcpLn net.Listener) error {
	if httpLn == nil && tcpLn == nil {
		return errors.New("no listeners configured")
	}

	g, gctx := errgroup.WithContext(ctx)

	if httpLn != nil {
		srv := &http.Server{
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return gctx },
		}
		g.Go(func() error {
			s.logger.Info("HTTP listener started", "addr", httpLn.Addr().String())
			if err := srv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			s.events.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http shutdown failed: %w", err)
			}
			return nil
		})
	}

	if tcpLn != nil {
		g.Go(func() error {
			s.logger.Info("RPC listener started", "addr", tcpLn.Addr().String())
			return s.acceptRPC(gctx, tcpLn)
		})
		g.Go(func() error {
			<-gctx.Done()
			_ = tcpLn.Close()
			return nil
		})
	}

	err := g.Wait()
	s.logger.Info("listeners stopped, waiting for sessions", "active", s.active.Load())
	s.sessions.Wait()
	if err != nil {
		return err
	}
	return ctx.Err()
}

// bufferOptions applies the dispatch buffer settings to a framed connection.
func (s *Server) bufferOptions() []framed.Option {
	return []framed.Option{
		framed.WithReadBuffer(s.cfg.Dispatch.ReadBuffer),
		framed.WithWriteBuffer(s.cfg.Dispatch.WriteBuffer),
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/muurk/camstage/internal/dhcp"
	"github.com/muurk/camstage/internal/logging"
	"github.com/muurk/camstage/internal/provision"
)

// Config holds the status server configuration
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// LeaseSource provides lease table snapshots. *dhcp.LeaseStore satisfies it.
type LeaseSource interface {
	Snapshot() []dhcp.Lease
	Stats() dhcp.Stats
}

// ReportSource provides finished device reports. *report.Collector
// satisfies it.
type ReportSource interface {
	Reports() []*provision.DeviceReport
	Counts() (done, failed int)
}

type noReports struct{}

func (noReports) Reports() []*provision.DeviceReport { return nil }
func (noReports) Counts() (int, int)                 { return 0, 0 }

// Server exposes read-only batch state over HTTP and streams progress
// events over a websocket.
type Server struct {
	config  Config
	leases  LeaseSource
	reports ReportSource
	hub     *Hub

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
}

// New creates a Server. leases may be nil when devices come from an mDNS
// scan instead of the responder, and reports may be nil when no batch runs.
func New(config Config, leases LeaseSource, reports ReportSource) *Server {
	if reports == nil {
		reports = noReports{}
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 10 * time.Second
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	return &Server{
		config:  config,
		leases:  leases,
		reports: reports,
		hub:     NewHub(),
	}
}

// Hub returns the event hub. Its Broadcast method is a provision.Emitter.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)

	mux.Get("/livez", s.handleLiveness)
	mux.Route("/api", func(r chi.Router) {
		r.Get("/events", s.hub.ServeHTTP)
		r.Group(func(r chi.Router) {
			r.Use(requestLogger)
			r.Get("/leases", s.handleLeases)
			r.Get("/reports", s.handleReports)
			r.Get("/reports/{hwid}", s.handleReport)
			r.Get("/summary", s.handleSummary)
		})
	})
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv != nil {
		return errors.New("status server already started")
	}

	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = listener
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadTimeout,
	}
	s.done = make(chan struct{})

	logging.Info("Status server listening", zap.String("addr", listener.Addr().String()))

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Status server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown closes websocket clients and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.mu.Unlock()

	s.hub.Close()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	if err != nil {
		logging.Warn("Status server shutdown timed out, forcing close", zap.Error(err))
		_ = srv.Close()
	}
	<-done
	logging.Info("Status server stopped")
	return err
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Debug("Status request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

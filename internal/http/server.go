package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/open-oni/oni-admin/internal/config"
	"github.com/open-oni/oni-admin/internal/feed"
	"github.com/open-oni/oni-admin/internal/guard"
	"github.com/open-oni/oni-admin/internal/history"
	"github.com/open-oni/oni-admin/internal/jobs"
	"github.com/open-oni/oni-admin/internal/logger"
	"github.com/open-oni/oni-admin/internal/status"
)

const shutdownTimeout = 10 * time.Second

// Deps are the components the HTTP surface delegates to. Feed and History
// are optional.
type Deps struct {
	Store    *jobs.Store
	Logs     *jobs.LogStore
	Guard    *guard.Guard
	Reporter *status.Reporter
	History  *history.Store
	Feed     *feed.Manager
}

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	config     *config.Config
	deps       Deps
	schemas    *requestSchemas
}

// New creates a new HTTP server instance.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:  cfg,
		deps:    deps,
		schemas: schemas,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger.StdLogger(),
	}
	return s, nil
}

// Handler returns the routed handler, mounted under the configured base path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", HandleDescription())
	mux.HandleFunc("POST /batch/load", s.HandleBatchLoad())
	mux.HandleFunc("POST /batch/purge", s.HandleBatchPurge())
	mux.HandleFunc("GET /job/{job_id}/status", s.HandleJobStatus())
	mux.HandleFunc("GET /job/{job_id}/logs", s.HandleJobLogs())
	mux.HandleFunc("GET /jobs", s.HandleJobs())
	mux.HandleFunc("GET /jobs/export", s.HandleJobsExport())
	mux.HandleFunc("GET /history", s.HandleHistory())
	mux.HandleFunc("GET /health", s.HandleHealth())
	if s.deps.Feed != nil {
		mux.Handle("GET /jobs/ws", s.deps.Feed)
	}

	var handler http.Handler = mux
	if base := s.config.BasePath; base != "" {
		outer := http.NewServeMux()
		outer.Handle(base+"/", http.StripPrefix(base, mux))
		outer.Handle(base, http.RedirectHandler(base+"/", http.StatusMovedPermanently))
		handler = outer
	}
	return AccessLog(handler)
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	logger.Infof("Server", "Start", "listening on http://%s%s/", s.httpServer.Addr, s.config.BasePath)

	serverErrors := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		logger.Infof("Server", "Start", "received signal %v, initiating graceful shutdown", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops accepting requests, closes feed subscribers and waits for
// running jobs until ctx expires. Jobs still running afterwards are left to
// stale-job recovery on the next start.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	if s.deps.Feed != nil {
		s.deps.Feed.Close()
	}

	if s.deps.Guard != nil {
		done := make(chan struct{})
		go func() {
			s.deps.Guard.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			logger.Warnf("Server", "Shutdown", "jobs still running at shutdown; they will be recovered on restart")
		}
	}

	logger.Infof("Server", "Shutdown", "server stopped gracefully")
	return nil
}

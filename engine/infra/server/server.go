package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/compozy/kbchat/engine/infra/monitoring"
	"github.com/compozy/kbchat/engine/infra/server/middleware/ratelimit"
	"github.com/compozy/kbchat/pkg/config"
	"github.com/compozy/kbchat/pkg/logger"
)

const (
	statusNotReady            = "not_ready"
	statusReady               = "ready"
	monitoringInitTimeout     = 500 * time.Millisecond
	monitoringShutdownTimeout = 5 * time.Second
	serverShutdownTimeout     = 5 * time.Second
	httpReadTimeout           = 15 * time.Second
	httpWriteTimeout          = 15 * time.Second
	httpIdleTimeout           = 60 * time.Second
	hostAny                   = "0.0.0.0"
	hostLoopback              = "127.0.0.1"
)

type Server struct {
	cfg          *config.Config
	ctx          context.Context
	cancel       context.CancelFunc
	deps         *Dependencies
	router       *gin.Engine
	monitoring   *monitoring.Service
	httpServer   *http.Server
	closeLimiter func() error
	ingestDone   chan struct{}
}

func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	if cfg == nil {
		cfg = config.FromContext(ctx)
	}
	if cfg == nil {
		return nil, errors.New("configuration missing; pass one or attach it with config.ContextWithConfig")
	}
	serverCtx, cancel := context.WithCancel(config.ContextWithConfig(ctx, cfg))
	return &Server{cfg: cfg, ctx: serverCtx, cancel: cancel}, nil
}

// Setup initializes monitoring, dependencies and routes without listening.
func (s *Server) Setup() error {
	s.setupMonitoring()
	deps, err := SetupDependencies(s.ctx, s.cfg)
	if err != nil {
		return err
	}
	s.deps = deps
	r, closeLimiter, err := buildRouter(s.ctx, s.cfg, deps.State, s.monitoring)
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}
	s.router = r
	s.closeLimiter = closeLimiter
	return nil
}

// Handler exposes the router after Setup.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run() error {
	if err := s.Setup(); err != nil {
		s.Close()
		return err
	}
	defer s.Close()
	s.startKnowledgeIngest()
	return s.startAndRunServer()
}

// startKnowledgeIngest runs the configured startup ingestion in the background
// so the API is reachable while files are processed.
func (s *Server) startKnowledgeIngest() {
	patterns := s.cfg.Knowledge.IngestOnStart
	if len(compactPatterns(patterns)) == 0 {
		return
	}
	s.ingestDone = make(chan struct{})
	go func() {
		defer close(s.ingestDone)
		err := ingestKnowledgeOnStart(s.ctx, s.deps.State.Ingest, s.deps.Blobs, patterns, s.cfg.Server.Timeout)
		if err != nil {
			logger.FromContext(s.ctx).Error("Startup knowledge ingestion aborted", "error", err)
		}
	}()
}

func (s *Server) setupMonitoring() {
	log := logger.FromContext(s.ctx)
	start := time.Now()
	monCtx, cancel := context.WithTimeout(s.ctx, monitoringInitTimeout)
	defer cancel()
	svc := monitoring.NewServiceWithFallback(monCtx, monitoring.FromAppConfig(s.cfg))
	s.monitoring = svc
	if !svc.IsInitialized() {
		log.Info("Monitoring is disabled", "duration", time.Since(start))
		return
	}
	svc.SetAsGlobal()
	if err := ratelimit.InitMetrics(svc.Meter()); err != nil {
		log.Warn("Failed to initialize rate limit metrics", "error", err)
	}
	log.Info("Monitoring service initialized",
		"path", svc.Path(),
		"duration", time.Since(start),
	)
}

// Close releases dependencies and monitoring. Safe to call more than once.
func (s *Server) Close() {
	log := logger.FromContext(s.ctx)
	s.cancel()
	if s.ingestDone != nil {
		<-s.ingestDone
	}
	shutdownCtx := context.WithoutCancel(s.ctx)
	if s.closeLimiter != nil {
		if err := s.closeLimiter(); err != nil {
			log.Warn("Failed to close rate limiter store", "error", err)
		}
		s.closeLimiter = nil
	}
	if s.deps != nil {
		if err := s.deps.Close(shutdownCtx); err != nil {
			log.Error("Failed to release dependencies", "error", err)
		}
		s.deps = nil
	}
	if s.monitoring != nil && s.monitoring.IsInitialized() {
		ctx, cancel := context.WithTimeout(shutdownCtx, monitoringShutdownTimeout)
		defer cancel()
		if err := s.monitoring.Shutdown(ctx); err != nil {
			log.Error("Failed to shutdown monitoring service", "error", err)
		}
		s.monitoring = nil
	}
}

func (s *Server) startAndRunServer() error {
	srv := s.createHTTPServer()
	s.httpServer = srv
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logStartupBanner()
	return s.handleGracefulShutdown(srv, errCh)
}

func (s *Server) createHTTPServer() *http.Server {
	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
	logger.FromContext(s.ctx).Info("Starting HTTP server", "address", fmt.Sprintf("http://%s", addr))
	writeTimeout := httpWriteTimeout
	if s.cfg.Server.Timeout > writeTimeout {
		writeTimeout = s.cfg.Server.Timeout
	}
	return &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  httpReadTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  httpIdleTimeout,
	}
}

func (s *Server) handleGracefulShutdown(srv *http.Server, errCh <-chan error) error {
	log := logger.FromContext(s.ctx)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
	case <-quit:
		log.Debug("Received shutdown signal, initiating graceful shutdown")
	case <-s.ctx.Done():
		log.Debug("Server context canceled, initiating graceful shutdown")
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), serverShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info("Server shutdown completed successfully")
	return nil
}

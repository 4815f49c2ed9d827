// Package server assembles the HTTP server: store, analysis service, routes and middleware.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/ryuu1kyou/anomaly-analytics/internal/api/middleware"
	"github.com/ryuu1kyou/anomaly-analytics/internal/api/rest"
	"github.com/ryuu1kyou/anomaly-analytics/internal/config"
	"github.com/ryuu1kyou/anomaly-analytics/internal/pkg/logger"
	"github.com/ryuu1kyou/anomaly-analytics/internal/service"
	"github.com/ryuu1kyou/anomaly-analytics/internal/store"
)

// Server owns the HTTP listener and the store it serves from.
type Server struct {
	config *config.Config
	logger *logger.Logger
	store  store.Store
	svc    service.AnalysisService

	mu         sync.Mutex
	running    bool
	httpServer *http.Server
	wg         sync.WaitGroup
	serveErr   error
}

// NewServer opens the configured store and wires the analysis service.
func NewServer(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Server, error) {
	st, err := service.OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newServer(cfg, log, st), nil
}

func newServer(cfg *config.Config, log *logger.Logger, st store.Store) *Server {
	return &Server{
		config: cfg,
		logger: log,
		store:  st,
		svc:    service.NewAnalysisService(st, cfg, log.Named("service")),
	}
}

// Handler returns the full middleware chain around the API router.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.Recovery(s.logger.Logger))
	router.Use(middleware.StructuredLog(s.logger.Named("http")))
	rest.SetupRoutes(router, rest.NewHandler(s.svc, s.config.Analysis.Threshold, s.logger.Named("rest")))

	var h http.Handler = router
	h = middleware.MaxBodySize(s.config.Server.MaxBodyBytes)(h)
	if s.config.RateLimit.Enabled {
		h = middleware.NewRateLimiter(s.config.RateLimit.RequestsPerSecond, s.config.RateLimit.Burst).Middleware(h)
	}
	h = middleware.RequestID(h)
	h = middleware.Tracing(h)

	c := cors.New(cors.Options{
		AllowedOrigins:   s.config.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", middleware.RequestIDHeader, "traceparent"},
		ExposedHeaders:   []string{middleware.RequestIDHeader, middleware.TraceIDHeader},
		AllowCredentials: true,
	})
	return c.Handler(h)
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("server is already running")
	}

	addr := net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
			s.mu.Lock()
			s.serveErr = err
			s.mu.Unlock()
		}
	}()

	s.logger.Info("anomaly analytics server started",
		zap.String("addr", addr),
		zap.String("database", s.config.Database.Type),
		zap.Bool("rate_limit", s.config.RateLimit.Enabled))
	return nil
}

// Stop drains in-flight requests within ctx and closes the store.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return errors.New("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http server: %w", err))
	}
	s.wg.Wait()
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	s.mu.Lock()
	if s.serveErr != nil {
		errs = append(errs, s.serveErr)
	}
	s.mu.Unlock()
	return errors.Join(errs...)
}

// ApplyConfig applies the settings that can change at runtime. Only the log level does.
func (s *Server) ApplyConfig(cfg config.Config) {
	if cfg.Logging.Level == s.logger.Level().String() {
		return
	}
	if err := s.logger.SetLevel(cfg.Logging.Level); err != nil {
		s.logger.Warn("ignoring invalid log level from reloaded config", zap.Error(err))
		return
	}
	s.logger.Info("log level changed", zap.String("level", cfg.Logging.Level))
}

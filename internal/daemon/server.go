// Package daemon runs the tidum suggestion policy HTTP server.
// It owns the database, the metrics cache and the HTTP listener.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/runger/tidum/internal/config"
	"github.com/runger/tidum/internal/suggestions/api"
	"github.com/runger/tidum/internal/suggestions/db"
	"github.com/runger/tidum/internal/suggestions/engine"
	"github.com/runger/tidum/internal/suggestions/feedback"
	suggestlog "github.com/runger/tidum/internal/suggestions/log"
	"github.com/runger/tidum/internal/suggestions/metrics"
	"github.com/runger/tidum/internal/suggestions/settings"
	"github.com/runger/tidum/internal/suggestions/visibility"
)

// Version is set at build time
var Version = "dev"

// Server wires the policy stores behind the HTTP API.
type Server struct {
	cfg        *config.Config
	db         *db.DB
	cache      metrics.Cache
	closeCache func() error
	httpServer *http.Server
	listener   net.Listener
	logger     *slog.Logger
	configPath string

	mu           sync.Mutex
	shutdownOnce sync.Once
	shutdownErr  error
}

// ServerConfig contains configuration options for the server.
type ServerConfig struct {
	// Config is the loaded configuration (optional, defaults if nil)
	Config *config.Config

	// ConfigPath is reported at startup only.
	ConfigPath string

	// Logger is the structured logger (optional, uses default if nil)
	Logger *slog.Logger

	// Counters receives the engine's observability counters
	// (optional, metrics.Global if nil)
	Counters *metrics.Counters
}

// NewServer opens storage and builds the router. The caller must call
// Shutdown, or Start, which shuts down on return.
func NewServer(ctx context.Context, sc *ServerConfig) (*Server, error) {
	if sc == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := sc.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := sc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	counters := sc.Counters
	if counters == nil {
		counters = metrics.Global
	}

	store, err := db.Open(ctx, db.Options{
		Logger:      logger,
		Path:        cfg.DatabasePath(),
		BusyTimeout: time.Duration(cfg.Storage.BusyTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Server{
		cfg:        cfg,
		db:         store,
		logger:     logger,
		configPath: sc.ConfigPath,
	}

	sugg := cfg.Suggestions
	if sugg.MetricsBackend == "redis" {
		rc, err := metrics.NewRedisCache(ctx, sugg.RedisAddr, sugg.RedisPrefix)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to connect metrics cache: %w", err)
		}
		s.cache, s.closeCache = rc, rc.Close
	} else {
		s.cache = metrics.NewMemoryCache(sugg.MetricsCacheSize)
	}

	sqlDB := store.DB()
	settingsStore := settings.NewStore(sqlDB, sugg.SettingsConfig(), logger)
	recorder := feedback.NewRecorder(sqlDB, sugg.FeedbackConfig(), logger)
	aggregator := metrics.NewAggregator(sqlDB, sugg.MetricsConfig(), s.cache, counters, logger)
	eng := engine.New(engine.Deps{
		Settings:   settingsStore,
		Visibility: visibility.NewStore(sqlDB, sugg.VisibilityConfig(), logger),
		Feedback:   recorder,
		Metrics:    aggregator,
		Counters:   counters,
	}, logger)

	handler := api.NewHandler(api.HandlerDependencies{
		Engine:   eng,
		Settings: settingsStore,
		Feedback: recorder,
		Metrics:  aggregator,
		Counters: counters,
		Ping:     store.Ping,
		Logger:   logger,
	})
	router := api.NewRouter(handler, api.RouterOptions{
		IsAdmin:        cfg.IsAdminRole,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutMs) * time.Millisecond,
	})

	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or "" before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start listens if needed and serves until ctx is canceled or the server
// fails. It always shuts the server down before returning.
func (s *Server) Start(ctx context.Context) error {
	if s.Addr() == "" {
		if err := s.Listen(); err != nil {
			s.Shutdown(context.Background(), "listen failed")
			return err
		}
	}

	version, err := s.db.Version(ctx)
	if err != nil {
		s.logger.Warn("failed to read schema version", "error", err)
	}
	backend := s.cfg.Suggestions.MetricsBackend
	if backend == "" {
		backend = "memory"
	}
	suggestlog.LogStartup(s.logger, suggestlog.StartupInfo{
		Version:       Version,
		ConfigPath:    s.configPath,
		DatabasePath:  s.db.Path(),
		Addr:          s.Addr(),
		MetricsCache:  backend,
		SchemaVersion: version,
		PID:           os.Getpid(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		reason := "context canceled"
		if cause := context.Cause(gctx); cause != nil {
			reason = cause.Error()
		}
		return s.Shutdown(context.Background(), reason)
	})
	return g.Wait()
}

// Shutdown drains in-flight requests, then closes the cache and the
// database. Only the first call has an effect.
func (s *Server) Shutdown(ctx context.Context, reason string) error {
	s.shutdownOnce.Do(func() {
		suggestlog.LogShutdown(s.logger, reason)

		timeout := time.Duration(s.cfg.Server.ShutdownTimeoutMs) * time.Millisecond
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		drainCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var errs []error
		if err := s.httpServer.Shutdown(drainCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to drain http server: %w", err))
		}
		if s.closeCache != nil {
			if err := s.closeCache(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close metrics cache: %w", err))
			}
		}
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
		s.shutdownErr = errors.Join(errs...)

		s.logger.Info("server stopped")
	})
	return s.shutdownErr
}

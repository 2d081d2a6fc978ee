// Package server wires the whole service together: dev containers,
// relational store, durable queue, provider registry, pipeline worker
// and the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/folioworks/folio/internal/api"
	"github.com/folioworks/folio/internal/config"
	"github.com/folioworks/folio/internal/filestore"
	"github.com/folioworks/folio/internal/jobs"
	"github.com/folioworks/folio/internal/pipeline"
	"github.com/folioworks/folio/internal/providers"
	"github.com/folioworks/folio/internal/queue"
	"github.com/folioworks/folio/internal/scoring"
	"github.com/folioworks/folio/internal/search"
	"github.com/folioworks/folio/internal/server/endpoints"
	"github.com/folioworks/folio/internal/store"
	"github.com/folioworks/folio/internal/svcctx"
)

// Server is the main Folio HTTP server. In dev mode it also manages
// the Postgres and Redis containers, starting them on server start
// and stopping them on shutdown.
type Server struct {
	httpServer    *http.Server
	dockerManager *store.DockerManager
	store         *store.Store
	queue         *queue.RedisQueue
	jobManager    *jobs.Manager
	registry      *providers.Registry
	configMgr     *config.Manager
	logger        *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConfigManager == nil {
		return nil, errors.New("config manager is required")
	}

	svcCfg := cfg.ConfigManager.Get()

	var dockerManager *store.DockerManager
	if svcCfg.Postgres.Managed || svcCfg.Redis.Managed {
		var err error
		dockerManager, err = store.NewDockerManager(store.DockerConfig{})
		if err != nil {
			return nil, fmt.Errorf("failed to create docker manager: %w", err)
		}
	}

	// Create provider registry with hot reload
	registry := providers.NewRegistry()
	registry.SetLogger(cfg.Logger)
	registry.Reload(svcCfg.ToRegistryConfig())
	cfg.ConfigManager.OnChange(func(c *config.Config) {
		registry.Reload(c.ToRegistryConfig())
		cfg.Logger.Info("provider registry reloaded from config")
	})

	s := &Server{
		dockerManager: dockerManager,
		registry:      registry,
		configMgr:     cfg.ConfigManager,
		logger:        cfg.Logger,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{DockerManager: dockerManager}) {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.withServices(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start starts the server, its backing services and the pipeline
// worker. It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	svcCfg := s.configMgr.Get()

	// Start dev containers if we manage them
	if s.dockerManager != nil {
		s.logger.Info("starting dev containers")
		if err := s.dockerManager.Start(ctx); err != nil {
			s.setNotRunning()
			return fmt.Errorf("failed to start dev containers: %w", err)
		}
	}

	// Open the relational store
	dsn := svcCfg.Postgres.DSN
	if dsn == "" && s.dockerManager != nil {
		dsn = s.dockerManager.PostgresDSN()
	}
	st, err := store.OpenPostgres(dsn, s.logger)
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to open store: %w", err)
	}
	s.store = st

	// Connect the durable queue
	redisAddr := svcCfg.Redis.Addr
	if redisAddr == "" && s.dockerManager != nil {
		redisAddr = s.dockerManager.RedisAddr()
	}
	s.queue = queue.NewRedisQueue(queue.RedisQueueConfig{
		Addr:    redisAddr,
		LockTTL: svcCfg.Pipeline.JobLockDuration,
		Logger:  s.logger,
	})
	if err := s.queue.Ping(ctx); err != nil {
		_ = s.shutdown()
		return fmt.Errorf("redis health check failed: %w", err)
	}
	s.logger.Info("backing services ready", "redis", redisAddr)

	// Create job manager
	s.jobManager = jobs.NewManager(s.store, s.queue, s.logger)

	// Start the pipeline worker
	runner := pipeline.NewRunner(pipeline.Deps{
		Store:     s.store,
		Files:     buildFileStore(svcCfg),
		Registry:  s.registry,
		Providers: buildSearchProviders(svcCfg, s.logger),
		Resolver:  buildResolver(svcCfg),
		Detector:  buildDetector(svcCfg),
		Checker:   buildChecker(svcCfg),
		Cfg:       svcCfg.Pipeline,
		Logger:    s.logger,
	})
	worker := pipeline.NewWorker(runner, s.queue, s.store, s.logger)
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go func() {
		if err := worker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("pipeline worker stopped", "error", err)
		}
	}()

	// Create services struct for context enrichment
	s.services = &svcctx.Services{
		Store:      s.store,
		JobManager: s.jobManager,
		Queue:      s.queue,
		Registry:   s.registry,
		ConfigMgr:  s.configMgr,
		Logger:     s.logger,
	}

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			stopWorker()
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	stopWorker()
	return s.shutdown()
}

// shutdown performs graceful shutdown of the HTTP server and the
// backing services.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP server shutdown error", "error", err)
		}
	}

	if s.queue != nil {
		if err := s.queue.Close(); err != nil {
			s.logger.Error("queue close error", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("store close error", "error", err)
		}
	}

	if s.dockerManager != nil {
		s.logger.Info("stopping dev containers")
		if err := s.dockerManager.Stop(shutdownCtx); err != nil {
			s.logger.Error("dev container stop error", "error", err)
		}
		if err := s.dockerManager.Close(); err != nil {
			s.logger.Error("docker manager close error", "error", err)
		}
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// JobManager returns the job manager.
// Returns nil if the server hasn't started yet.
func (s *Server) JobManager() *jobs.Manager {
	return s.jobManager
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable if the store or job manager aren't ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.store == nil || s.jobManager == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}

// buildSearchProviders instantiates the enabled bibliographic search
// clients from config.
func buildSearchProviders(cfg *config.Config, logger *slog.Logger) []search.Provider {
	var provs []search.Provider
	for name, sc := range cfg.Search {
		if !sc.Enabled {
			continue
		}
		switch sc.Type {
		case "openalex":
			provs = append(provs, search.NewOpenAlexClient(search.OpenAlexConfig{
				BaseURL: sc.BaseURL,
				Mailto:  sc.Mailto,
			}))
		case "semanticscholar":
			provs = append(provs, search.NewSemanticScholarClient(search.SemanticScholarConfig{
				BaseURL: sc.BaseURL,
				APIKey:  config.ResolveEnvVars(sc.APIKey),
			}))
		default:
			logger.Warn("skipping unknown search provider", "name", name, "type", sc.Type)
		}
	}
	return provs
}

func buildResolver(cfg *config.Config) search.OpenAccessResolver {
	if cfg.Scoring.OpenAccessMailto == "" {
		return nil
	}
	return search.NewUnpaywallClient(search.UnpaywallConfig{
		BaseURL: cfg.Scoring.OpenAccessURL,
		Email:   cfg.Scoring.OpenAccessMailto,
	})
}

func buildDetector(cfg *config.Config) scoring.Detector {
	if cfg.Scoring.DetectorURL == "" {
		return nil
	}
	return scoring.NewHTTPDetector(scoring.DetectorConfig{
		BaseURL: cfg.Scoring.DetectorURL,
		APIKey:  config.ResolveEnvVars(cfg.Scoring.DetectorAPIKey),
	})
}

func buildChecker(cfg *config.Config) scoring.PlagiarismChecker {
	if cfg.Scoring.PlagiarismURL == "" {
		return nil
	}
	return scoring.NewHTTPPlagiarismChecker(scoring.PlagiarismConfig{
		BaseURL: cfg.Scoring.PlagiarismURL,
		APIKey:  config.ResolveEnvVars(cfg.Scoring.PlagiarismAPIKey),
	})
}

func buildFileStore(cfg *config.Config) filestore.Store {
	return filestore.NewGeminiStore(filestore.GeminiConfig{
		APIKey:  config.ResolveEnvVars(cfg.FileStore.APIKey),
		BaseURL: cfg.FileStore.BaseURL,
	})
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"toolproxy/internal/auth"
	"toolproxy/internal/cache"
	"toolproxy/internal/config"
	"toolproxy/internal/core"
	"toolproxy/internal/metadata"
	"toolproxy/internal/metrics"
	"toolproxy/internal/reinject"
	"toolproxy/internal/stream"
	"toolproxy/internal/upstream"

	"github.com/gin-gonic/gin"
)

// Options carries the collaborators NewServer cannot build from config alone.
type Options struct {
	Config  config.ServerConfig
	Logger  core.Logger
	Storage core.StorageInterface
	// HTTPClient overrides the pooled backend client, mainly for tests.
	HTTPClient *http.Client
}

// Server application server
type Server struct {
	config config.ServerConfig
	logger core.Logger
	router *gin.Engine

	auth        *auth.Authenticator
	upstream    *upstream.Client
	synthesizer *metadata.Synthesizer
	bridge      *stream.Bridge
	policy      *reinject.Policy
	corrective  *reinject.CorrectiveLoop
	relay       *httputil.ReverseProxy

	cache          *cache.LRUCache
	metricsService *metrics.MetricsService
	rateLimiter    *rateLimiter

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	closeOnce      sync.Once
	closeErr       error
}

// NewServer creates a new server instance
func NewServer(opts Options) (*Server, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if opts.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}

	target, err := url.Parse(cfg.BaseURL())
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, core.NewConfigurationError(fmt.Sprintf("invalid backend base URL %q", cfg.BaseURL()))
	}

	metricsService := metrics.NewMetricsService(metrics.MetricsConfig{
		SaveInterval: core.MinSaveInterval,
		HistorySize:  core.HistoryBufferSize,
		Storage:      opts.Storage,
		Logger:       logger,
	})
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), core.StorageOpTimeout)
	if err := metricsService.LoadStats(loadCtx); err != nil {
		logger.Warn("Failed to load historical stats: %v", err)
	}
	cancelLoad()

	authenticator := auth.New(cfg.AuthTokensFile, logger)

	httpClient := opts.HTTPClient
	if httpClient == nil {
		settings := cfg.HTTPClientSettings
		settings.ResponseHeaderTimeout = cfg.IdleTimeout()
		httpClient = upstream.NewHTTPClient(settings)
	}
	format := core.APIFormatOpenAI
	if cfg.IsOllamaMode() {
		format = core.APIFormatOllama
	}
	headers := upstream.NewHeaderBuilder(cfg.APIKey(), cfg.Referer(), cfg.Title(), !authenticator.Enabled())
	backend := upstream.NewClient(httpClient, upstream.Endpoints{
		ChatURL:     cfg.ChatCompletionsURL(),
		ModelsURL:   cfg.ModelsURL(),
		OllamaURL:   cfg.OllamaAPIURL(),
		Format:      format,
		IdleTimeout: cfg.IdleTimeout(),
	}, headers, logger)

	listingCache := cache.NewCacheWithOptions(cache.Options{Metrics: metricsService})

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())

	s := &Server{
		config:   cfg,
		logger:   logger,
		auth:     authenticator,
		upstream: backend,
		synthesizer: metadata.New(backend, metadata.Options{
			DefaultContextLength: cfg.DefaultContextLength,
			Cache:                listingCache,
			CacheKey:             cache.ModelListKey(cfg.ModelsURL()),
			CacheTTL:             cfg.ModelsCacheTTL,
			Logger:               logger,
			Metrics:              metricsService,
		}),
		bridge: stream.NewBridge(stream.Limits{
			MaxBufferSize: cfg.MaxBufferSize,
			IdleTimeout:   cfg.IdleTimeout(),
		}, logger, metricsService),
		policy:         reinject.NewPolicy(cfg.ToolReinjection, logger, metricsService),
		corrective:     reinject.NewCorrectiveLoop(cfg.MaxToolIterations, logger, metricsService),
		cache:          listingCache,
		metricsService: metricsService,
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
	}
	s.relay = s.newRelayProxy(target, format)
	if cfg.RateLimitPerMinute > 0 {
		s.rateLimiter = newRateLimiter(shutdownCtx, cfg.RateLimitPerMinute)
	}

	if err := authenticator.Watch(shutdownCtx); err != nil {
		logger.Warn("[AUTH] Token file watcher unavailable, relying on per-request reload: %v", err)
	}

	s.setupRoutes()

	logger.Info("Backend mode %s, chat endpoint %s", cfg.BackendMode, cfg.ChatCompletionsURL())
	return s, nil
}

// Handler returns the HTTP handler, used by tests and embedding callers.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until SIGINT/SIGTERM or Close, then drains in-flight requests.
func (s *Server) Run() error {
	s.setupGracefulShutdown()

	srv := &http.Server{
		Addr:              s.config.ListenAddr(),
		Handler:           s.router,
		ReadHeaderTimeout: core.ServerReadHeaderTimeout,
		IdleTimeout:       core.ServerIdleTimeout,
	}

	go func() {
		<-s.shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), core.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("Server shutdown error: %v", err)
		}
	}()

	s.logger.Info("Server starting on %s", s.config.ListenAddr())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *Server) setupGracefulShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(quit)
		select {
		case <-quit:
			s.logger.Info("Shutdown signal received, shutting down gracefully...")
			s.shutdownCancel()
		case <-s.shutdownCtx.Done():
		}
	}()
}

func (s *Server) rootInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":              "OpenAI Tool Proxy Server is running.",
		"status":               "OK",
		"chat_endpoint":        core.DefaultChatPath,
		"generic_proxy_base":   "/v1",
		"target_backend":       s.config.BaseURL(),
		"target_chat_endpoint": s.config.ChatCompletionsURL(),
	})
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) getStatsData(c *gin.Context) {
	stats := s.metricsService.GetRequestStats()
	periodStats := metrics.GetPeriodStats(stats.RequestHistory, 1, 24, 24*7)

	c.JSON(http.StatusOK, gin.H{
		"currentTime":        time.Now().Format(core.TimeFormatDateTime),
		"currentQPS":         fmt.Sprintf("%.3f", s.metricsService.GetQPS()),
		"totalRequests":      stats.TotalRequests,
		"successfulRequests": stats.SuccessfulRequests,
		"failedRequests":     stats.FailedRequests,
		"totalRecords":       len(stats.RequestHistory),
		"stats1h":            periodStats[1],
		"stats24h":           periodStats[24],
		"stats7d":            periodStats[24*7],
		"authEnabled":        s.auth.Enabled(),
		"authTokens":         s.auth.Len(),
	})
}

// Close stops background work and persists final stats. Safe to call more
// than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		if s.shutdownCancel != nil {
			s.shutdownCancel()
		}

		if s.metricsService != nil {
			ctx, cancel := context.WithTimeout(context.Background(), core.StorageOpTimeout)
			if err := s.metricsService.Close(ctx); err != nil {
				s.closeErr = errors.Join(s.closeErr, fmt.Errorf("close metrics service: %w", err))
			}
			cancel()
		}

		if s.cache != nil {
			s.cache.Stop()
		}
	})
	return s.closeErr
}

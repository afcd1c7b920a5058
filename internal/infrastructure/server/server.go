package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/scriptkit/internal/api/http"
	"github.com/GriffinCanCode/scriptkit/internal/api/middleware"
	"github.com/GriffinCanCode/scriptkit/internal/api/ws"
	"github.com/GriffinCanCode/scriptkit/internal/cache"
	"github.com/GriffinCanCode/scriptkit/internal/domain/buffer"
	"github.com/GriffinCanCode/scriptkit/internal/domain/pipeline"
	"github.com/GriffinCanCode/scriptkit/internal/domain/relay"
	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/config"
	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/logging"
	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/scriptkit/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/scriptkit/internal/providers"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	http    *http.Server
	config  *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer

	catalog *providers.Catalog
	loader  *providers.Loader
	relay   *relay.Service
	store   *cache.Store
	sink    *buffer.Buffer
	hub     *ws.Hub

	cancel context.CancelFunc
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(cfg.Logging, logging.WithFields(zap.String("service", "scriptkit")))
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	logger.Info("Initializing scriptkit server",
		zap.String("addr", cfg.Addr()),
		zap.Bool("dev", cfg.Server.Dev),
		zap.String("relay_prefix", cfg.Relay.Prefix),
	)

	// Metrics first, every component records into them
	metrics := monitoring.NewMetrics()
	tracer := tracing.New("scriptkit", logger.Component("tracing"))

	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = cfg.Relay.Timeout
	clientCfg.Retries = cfg.Relay.Retries
	clientCfg.MaxBody = cfg.Relay.MaxBody
	clientCfg.AllowPrivate = cfg.Relay.AllowPrivate
	client := httpclient.New(clientCfg, httpclient.WithTracer(tracer))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:  cfg,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		catalog: providers.NewBuiltinCatalog(),
		cancel:  cancel,
	}

	// Manifest presets fetch through the relay, which is built once the
	// manifests have contributed their hosts to the allow-lists
	deps := pipeline.Deps{
		RelayPrefix: cfg.Relay.Prefix,
		Dev:         cfg.Server.Dev,
		Fetcher: pipeline.AssetFetcherFunc(func(ctx context.Context, src string) ([]byte, error) {
			return s.relay.FetchAsset(ctx, src)
		}),
	}

	if dir := cfg.Scripts.ManifestDir; dir != "" {
		s.loader = providers.NewLoader(s.catalog, dir, deps, logger.Component("manifests"))
		res, err := s.loader.Load(ctx)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to load manifests: %w", err)
		}
		logger.Info("Loaded provider manifests",
			zap.String("dir", dir),
			zap.Int("loaded", res.Loaded),
			zap.Int("failed", res.Failed))
	}

	hosts := append(s.catalog.Hosts(), cfg.Relay.AllowedHosts...)
	s.relay, err = relay.NewService(client, relay.Options{
		Prefix:   cfg.Relay.Prefix,
		Policies: relay.DefaultPolicies(hosts),
		Routes:   cfg.Scripts.Routes,
		Logger:   logger.Logger,
		Metrics:  metrics,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create relay: %w", err)
	}

	// The persisted cache is optional; without it bundle sizes are disabled
	var sizer *cache.BundleSizer
	cacheCfg := cache.DefaultConfig(cfg.Cache.Dir)
	if cfg.Cache.InMemory {
		cacheCfg = cache.InMemoryConfig()
	}
	cacheCfg.Logger = logger.Logger
	cacheCfg.Metrics = metrics
	if store, err := cache.Open(cacheCfg); err != nil {
		logger.Warn("Persisted cache unavailable", zap.Error(err))
	} else {
		s.store = store
		sizer = cache.NewBundleSizer(store, client, cfg.Cache.TTL)
	}

	var dispatcher buffer.Dispatcher = buffer.NewHTTPDispatcher(cfg.Buffer.Endpoint, client)
	if cfg.Buffer.Endpoint == "" {
		sinkLog := logger.Component("collect")
		dispatcher = buffer.DispatcherFunc(func(_ context.Context, b buffer.Batch) error {
			sinkLog.Info("Collected events", zap.String("batch_id", b.ID), zap.Int("events", len(b.Events)))
			return nil
		})
	}
	s.sink = buffer.New(buffer.Config{Debounce: cfg.Buffer.Debounce},
		dispatcher,
		buffer.WithLogger(logger.Logger),
		buffer.WithMetrics(metrics))

	s.hub = ws.NewHub(logger.Logger, metrics)

	handlers := apihttp.NewHandlers(apihttp.Options{
		Dev:            cfg.Server.Dev,
		ScriptsEnabled: cfg.Scripts.Enabled,
		CollectPrefix:  cfg.Scripts.CollectPrefix,
		Routes:         cfg.Scripts.Routes,
		Deps:           deps,
	}, s.catalog, s.hub, s.sink, sizer, metrics, logger.Logger)

	if !cfg.Server.Dev {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = newRouter(cfg, handlers, s.relay, s.hub, metrics, tracer, logger)

	if s.loader != nil && cfg.Server.Dev {
		go func() {
			if err := s.loader.Watch(ctx); err != nil {
				logger.Warn("Manifest watcher stopped", zap.Error(err))
			}
		}()
	}

	logger.Info("Server initialized successfully",
		zap.Int("providers", s.catalog.Stats().Total),
		zap.Int("intercept_rules", len(s.relay.Rules())))
	return s, nil
}

func newRouter(
	cfg *config.Config,
	handlers *apihttp.Handlers,
	relaySvc *relay.Service,
	hub *ws.Hub,
	metrics *monitoring.Metrics,
	tracer *tracing.Tracer,
	logger *logging.Logger,
) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/providers", handlers.Providers)

	if cfg.Scripts.Enabled {
		router.GET("/shell", handlers.Shell)
		router.POST(cfg.Scripts.CollectPrefix+"/batch", handlers.Collect)
	}

	// Relay endpoints and the generated service worker
	relaySvc.Register(router)

	dev := router.Group("", middleware.DevOnly(cfg.Server.Dev))
	dev.GET("/status", handlers.Status)
	dev.GET("/status/stream", hub.HandleConnection)
	dev.GET("/size", handlers.Size)

	return router
}

// Router returns the HTTP handler
func (s *Server) Router() http.Handler {
	return s.router
}

// Catalog returns the provider catalogue
func (s *Server) Catalog() *providers.Catalog {
	return s.catalog
}

// Run starts the HTTP server and blocks until it stops
func (s *Server) Run() error {
	addr := s.config.Addr()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting HTTP server", zap.String("addr", addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, flushes buffered events and releases
// every resource
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	s.cancel()
	s.hub.Close()

	if err := s.sink.Close(ctx); err != nil {
		s.logger.Error("Failed to flush collected events", zap.Error(err))
		errs = append(errs, fmt.Errorf("flush events: %w", err))
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("Failed to close cache", zap.Error(err))
			errs = append(errs, fmt.Errorf("close cache: %w", err))
		}
	}
	s.tracer.Close()

	// Sync logger before exit
	_ = s.logger.Sync()
	return errors.Join(errs...)
}

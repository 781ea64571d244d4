package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"

	"stardust/internal/analysis"
	"stardust/internal/artifacts"
	"stardust/internal/config"
	apierrors "stardust/internal/errors"
	"stardust/internal/infrastructure"
	"stardust/internal/kv"
	customMiddleware "stardust/internal/middleware"
	"stardust/internal/operations"
	"stardust/internal/services"
	handlers "stardust/internal/transport/http"
	ws "stardust/internal/websocket"
	"stardust/pkg/contracts"
)

// AppName is reported in startup logs.
const AppName = "stardust"

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Router        *chi.Mux
	Server        *http.Server

	Store           kv.Backend
	KV              *kv.Client
	Artifacts       *artifacts.Cache
	WebSocketHub    *ws.Hub
	Operations      *operations.Manager
	Gateway         *services.Gateway
	HealthService   *services.HealthService
	ArtifactService *services.ArtifactService

	errorHandler  *apierrors.ErrorHandler
	apiThrottle   *services.DelayThrottle
	upgrader      *websocket.Upgrader
	wsOptions     ws.ClientOptions
	systemMetrics *infrastructure.SystemMetrics
}

// NewApplication loads the configuration and logger and builds the
// application from them.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return New(cfg, logger)
}

// New wires every component from cfg. Nothing listens or runs until Start.
func New(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", contracts.Version),
		slog.String("store", cfg.Store.Backend))

	a := &Application{Config: cfg, Logger: logger}
	if err := a.initializeServices(); err != nil {
		a.closeStore()
		return nil, err
	}
	a.setupRouter()
	a.createServer()
	return a, nil
}

func (a *Application) initializeServices() error {
	cfg := a.Config

	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	a.OTelProviders = providers

	a.systemMetrics, err = infrastructure.NewSystemMetrics(providers.Meter, time.Now())
	if err != nil {
		return fmt.Errorf("failed to register runtime metrics: %w", err)
	}

	store, err := kv.Open(cfg.Store, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.Store = store
	a.KV = kv.NewClient(store, cfg.Store.Scope, cfg.Store.Timeout)
	a.Artifacts = artifacts.NewCache(a.KV, a.Logger)

	wsMetrics, err := ws.NewOTelMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("failed to create websocket metrics: %w", err)
	}
	a.WebSocketHub = ws.NewHub(a.Logger, wsMetrics)

	var source analysis.Source = analysis.NewSampleSource()
	if cfg.Analysis.CacheTTL > 0 {
		source = analysis.NewCachedSource(source, a.KV, cfg.Analysis.CacheTTL)
	}
	pipeline := analysis.NewPipeline(cfg.Analysis, source, a.Logger)

	a.Operations, err = operations.NewManager(pipeline, a.Artifacts, a.KV, a.WebSocketHub, operations.Options{
		MaxActive:   cfg.Queue.MaxActive,
		Development: cfg.Logging.Development,
		Logger:      a.Logger,
		Tracer:      providers.Tracer,
		Meter:       providers.Meter,
	})
	if err != nil {
		return fmt.Errorf("failed to create operations manager: %w", err)
	}

	a.Gateway = services.NewGateway(a.Operations, cfg.Security.AdminIPv4, cfg.Queue, a.Logger)
	a.WebSocketHub.OnConnect(a.Gateway.Connect)
	a.WebSocketHub.OnDisconnect(a.Gateway.Disconnect)

	a.HealthService = services.NewHealthService(store, a.Operations, a.Logger)
	a.apiThrottle = services.NewDelayThrottle(cfg.Server.DownloadDelay)
	a.ArtifactService = services.NewArtifactService(a.Artifacts, a.Operations, a.apiThrottle, a.Logger)

	a.errorHandler = apierrors.NewErrorHandler(a.Logger, cfg.Logging.Development)
	a.upgrader = ws.NewUpgrader(cfg.WebSocket, cfg.Security.AllowedOrigins)
	a.wsOptions = ws.ClientOptionsFromConfig(cfg.WebSocket)
	return nil
}

func (a *Application) setupRouter() {
	r := chi.NewRouter()
	r.Use(customMiddleware.RequestID)

	// The websocket sits outside RealIP: admin rights follow the socket
	// peer address, never a forwarded header.
	r.HandleFunc(a.Config.Server.SocketPath, a.handleWebSocket)

	r.Group(func(r chi.Router) {
		// RequestID → RealIP → OTel → Logger → Recoverer
		r.Use(customMiddleware.RealIP)

		otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders.Tracer, a.OTelProviders.Meter, a.Logger)
		if err != nil {
			a.Logger.Error("Failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
		} else {
			r.Use(otelMiddleware.Handler)
		}

		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(a.errorHandler.Recoverer)
		r.Use(customMiddleware.SecurityHeaders)
		r.Use(customMiddleware.CORS(a.getCORSConfig()))

		if a.Config.Security.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger,
			).Handler)
		}

		a.setupAPIRoutes(r)

		notFound := handlers.NewNotFoundHandler(a.apiThrottle.WithBase(a.Config.Server.NotFoundDelay), a.Logger)
		r.NotFound(notFound.ServeHTTP)
		r.MethodNotAllowed(a.errorHandler.MethodNotAllowed)
	})

	r.Handle("/metrics", handlers.NewMetricsHandler(a.OTelProviders.PrometheusHTTP))

	a.Router = r
}

// setupAPIRoutes configures API endpoints
func (a *Application) setupAPIRoutes(r chi.Router) {
	validator := customMiddleware.NewQueryParamValidator(a.Logger, a.errorHandler)

	health := handlers.NewHealthHandler(a.HealthService, a.Logger)
	ops := handlers.NewOperationsHandler(a.Operations, validator, a.errorHandler, a.Logger)
	downloads := handlers.NewArtifactHandler(a.ArtifactService, validator, a.errorHandler, a.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/health", health.HealthCheck)
		r.Get("/health/ready", health.ReadinessCheck)
		r.Get("/health/live", health.LivenessCheck)
		r.Get("/version", health.Version)
		r.Get("/stats", health.Stats)
		r.Get("/status", ops.Status)

		r.Mount("/operations", ops.Routes())
		r.Mount("/get", downloads.Routes())
	})
}

func (a *Application) getCORSConfig() customMiddleware.CORSConfig {
	cfg := customMiddleware.CORSConfig{
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			customMiddleware.RequestIDHeader,
		},
		ExposedHeaders: []string{
			customMiddleware.RequestIDHeader,
			"Content-Disposition",
		},
		MaxAge: 300,
		Logger: a.Logger,
	}
	if a.Config.Security.EnableCORS {
		cfg.AllowedOrigins = a.Config.Security.AllowedOrigins
	} else {
		cfg.AllowedOrigins = []string{
			fmt.Sprintf("http://localhost:%d", a.Config.Server.Port),
			fmt.Sprintf("http://127.0.0.1:%d", a.Config.Server.Port),
		}
	}
	a.Logger.Debug("CORS configured", slog.Any("allowed_origins", cfg.AllowedOrigins))
	return cfg
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// handleWebSocket handles WebSocket connections
func (a *Application) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	a.Logger.DebugContext(r.Context(), "WebSocket connection request",
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("request_id", customMiddleware.GetReqID(r.Context())))
	ws.ServeWS(a.WebSocketHub, a.upgrader, a.wsOptions, w, r)
}

// Start restores the persisted queue, resumes scheduling and starts
// serving. A listener failure calls cancel.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", AppName),
		slog.String("version", contracts.Version),
		slog.Int("port", a.Config.Server.Port),
		slog.String("level", a.Config.Logging.Level))

	a.WebSocketHub.Start()
	if err := a.Operations.Start(ctx); err != nil {
		return fmt.Errorf("failed to start operations: %w", err)
	}

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "Application started successfully",
		slog.String("address", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)),
		slog.String("socket_path", a.Config.Server.SocketPath))
	return nil
}

// Stop shuts the server down and writes a final snapshot. Analyses still
// running are abandoned; the next start queues them again.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}

	a.WebSocketHub.Stop()

	if err := a.Operations.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("operations shutdown error: %w", err))
	}

	a.closeStore()

	if err := a.systemMetrics.Stop(); err != nil {
		a.Logger.WarnContext(ctx, "Error stopping runtime metrics", slog.String("error", err.Error()))
	}
	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	if err := infrastructure.CloseLogFile(); err != nil {
		errs = append(errs, fmt.Errorf("close log file: %w", err))
	}
	return errors.Join(errs...)
}

func (a *Application) closeStore() {
	if a.Store == nil {
		return
	}
	if err := a.Store.Close(); err != nil {
		a.Logger.Error("Error closing store", slog.String("error", err.Error()))
	}
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	<-sigCtx.Done()
	a.Logger.InfoContext(ctx, "Received shutdown signal")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout+5*time.Second)
	defer stopCancel()
	return a.Stop(stopCtx)
}

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

	"licenselock/internal/authority"
	"licenselock/internal/config"
	apperrors "licenselock/internal/errors"
	"licenselock/internal/infrastructure"
	"licenselock/internal/license"
	custommw "licenselock/internal/middleware"
	"licenselock/internal/services"
	"licenselock/internal/store"
	handlers "licenselock/internal/transport/http"
	"licenselock/pkg/contracts"
)

// AppName is logged at startup.
const AppName = "licenselock license server"

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Store         license.Store
	Engine        *license.Engine
	Services      *ServiceContainer
	ErrorHandler  *apperrors.ErrorHandler
}

// ServiceContainer holds all application services
type ServiceContainer struct {
	License services.LicenseService
	Health  *services.HealthService
}

// Dependencies are the collaborators NewWithDependencies wires together.
// Authority may be nil, in which case only stored records are honoured.
type Dependencies struct {
	Logger    *slog.Logger
	Providers *infrastructure.OTelProviders
	Store     license.Store
	Authority license.Authority
}

// NewApplication builds the logger, telemetry, record store and authority
// described by cfg and wires the HTTP server around them.
func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.InfoContext(ctx, "Application starting",
		slog.String("name", AppName),
		slog.String("version", contracts.GetVersionString()),
		slog.String("store_driver", cfg.Store.Driver),
		slog.String("authority_kind", cfg.Authority.Kind))

	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		_ = providers.Shutdown(ctx)
		return nil, fmt.Errorf("failed to open license store: %w", err)
	}

	auth, err := authority.New(ctx, cfg.Authority, logger)
	if err != nil {
		_ = st.Close()
		_ = providers.Shutdown(ctx)
		return nil, fmt.Errorf("failed to configure license authority: %w", err)
	}

	return NewWithDependencies(cfg, Dependencies{
		Logger:    logger,
		Providers: providers,
		Store:     st,
		Authority: auth,
	})
}

// NewWithDependencies wires services, handlers and the HTTP server from
// already constructed collaborators.
func NewWithDependencies(cfg *config.Config, deps Dependencies) (*Application, error) {
	a := &Application{
		Config:        cfg,
		Logger:        deps.Logger,
		OTelProviders: deps.Providers,
		Store:         deps.Store,
		ErrorHandler:  apperrors.NewErrorHandler(deps.Logger),
	}

	if err := a.initializeServices(deps.Authority); err != nil {
		return nil, err
	}
	if err := a.setupRouter(); err != nil {
		return nil, err
	}
	a.createServer()

	return a, nil
}

func (a *Application) initializeServices(auth license.Authority) error {
	metrics, err := license.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create license metrics: %w", err)
	}

	keys := a.Config.Keys
	a.Engine = license.NewEngine(a.Store, auth,
		license.WithLogger(a.Logger),
		license.WithTracer(a.OTelProviders.Tracer),
		license.WithMetrics(metrics),
		license.WithGenerator(license.NewGenerator(license.KeyFormat{
			Prefix:    keys.Prefix,
			Groups:    keys.Groups,
			GroupSize: keys.GroupSize,
			Separator: keys.Separator,
		})),
	)

	adminAuth := license.NewSecretAuthorizer(a.Config.Security.AdminSecret)
	resetAuth := license.NewSecretAuthorizer(a.Config.Security.EffectiveResetSecret())
	if !adminAuth.Enabled() {
		a.Logger.Warn("No admin secret configured, administrative endpoints reject every request")
	}

	healthCheck := license.NewHealthCheck(a.Engine, a.Config.Authority.Kind, 5*time.Second)

	a.Services = &ServiceContainer{
		License: services.NewLicenseService(a.Engine, adminAuth, resetAuth, a.Logger),
		Health:  services.NewHealthService(healthCheck, a.Logger),
	}
	return nil
}

// setupRouter orders middleware as RequestID → RealIP → OTel → Logger →
// Recoverer → SecurityHeaders → CORS, then mounts the routes.
func (a *Application) setupRouter() error {
	r := chi.NewRouter()

	r.NotFound(a.ErrorHandler.NotFound)
	r.MethodNotAllowed(a.ErrorHandler.MethodNotAllowed)

	r.Use(custommw.RequestID)
	r.Use(custommw.RealIP)

	otelMiddleware, err := custommw.NewOTelMiddleware(a.OTelProviders)
	if err != nil {
		return fmt.Errorf("failed to create OpenTelemetry middleware: %w", err)
	}
	r.Use(otelMiddleware.Handler)

	r.Use(custommw.StructuredLogger(a.Logger))
	r.Use(custommw.Recoverer(a.ErrorHandler))
	r.Use(custommw.SecurityHeaders)
	if a.Config.Security.EnableCORS {
		r.Use(custommw.CORS(a.getCORSConfig()))
	}
	r.Use(custommw.StripSlashes)

	healthHandler := handlers.NewHealthHandler(a.Services.Health, a.Logger)
	r.Get("/healthz", healthHandler.ReadinessCheck)
	r.Get("/livez", healthHandler.LivenessCheck)
	r.Get("/version", healthHandler.Version)
	r.Method(http.MethodGet, "/metrics", handlers.NewMetricsHandler(a.OTelProviders.PrometheusHTTP))

	validator := custommw.NewRequestValidator()
	licenseHandler := handlers.NewLicenseHandler(a.Services.License, validator, a.ErrorHandler, a.Logger)
	adminHandler := handlers.NewAdminHandler(a.Services.License, validator, a.ErrorHandler, a.Logger)

	r.Group(func(r chi.Router) {
		r.Use(custommw.Timeout(a.Config.Server.RequestTimeout, a.Logger))
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(custommw.ContentTypeValidator(a.ErrorHandler, "application/json"))

		r.Post("/verify", licenseHandler.Verify)
		r.Post("/api/license/verify", licenseHandler.Verify)
		r.Mount("/admin", adminHandler.Routes())
	})

	a.Router = r
	return nil
}

func (a *Application) getCORSConfig() custommw.CORSConfig {
	return custommw.CORSConfig{
		AllowedOrigins: a.Config.Security.AllowedOrigins,
		Logger:         a.Logger,
	}
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           a.Config.Server.Address(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start begins serving in the background. A listener failure calls cancel.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", AppName),
		slog.String("address", a.Server.Addr),
		slog.String("level", a.Config.Logging.Level))

	if err := a.performStartupHealthCheck(ctx); err != nil {
		a.Logger.WarnContext(ctx, "Startup health check warnings", slog.String("warnings", err.Error()))
	}

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "Application started successfully",
		slog.String("address", a.Server.Addr))
	return nil
}

// Stop drains in-flight requests, then closes the store and flushes telemetry.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.ErrorContext(ctx, "Error closing license store", slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	if err := infrastructure.CloseLogFile(); err != nil {
		errs = append(errs, fmt.Errorf("log file close: %w", err))
	}
	return errors.Join(errs...)
}

// Run serves until ctx ends or the process receives SIGINT or SIGTERM.
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(sigCtx, cancel); err != nil {
		return err
	}

	<-sigCtx.Done()
	a.Logger.InfoContext(ctx, "Received shutdown signal")

	return a.Stop(context.WithoutCancel(ctx))
}

func (a *Application) performStartupHealthCheck(ctx context.Context) error {
	result := a.Services.Health.ReadinessCheck(ctx)
	if result.OverallStatus == license.HealthStatusUnhealthy {
		return fmt.Errorf("license store not ready: status %s", result.OverallStatus)
	}

	a.Logger.InfoContext(ctx, "Startup health check passed",
		slog.String("status", string(result.OverallStatus)))
	return nil
}

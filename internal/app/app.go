package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"keyledger/internal/config"
	apperrors "keyledger/internal/errors"
	"keyledger/internal/infrastructure"
	"keyledger/internal/license"
	customMiddleware "keyledger/internal/middleware"
	"keyledger/internal/services"
	"keyledger/internal/storage/sqlstore"
	"keyledger/pkg/contracts/domain"
)

const AppName = "keyledger"

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Metrics       *license.Metrics
	Store         *sqlstore.Store
	Query         *license.Query
	Limiter       *license.RedeemLimiter
	License       services.LicenseService
	Health        *services.HealthService
	Router        *chi.Mux
	Server        *http.Server
}

// New creates the application and opens its store
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	logger.InfoContext(ctx, "application starting",
		slog.String("name", AppName),
		slog.String("version", infrastructure.ServiceVersion),
		slog.String("driver", cfg.Storage.Driver))

	providers, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFromOps(cfg.Ops), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	metrics, err := license.NewMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create license metrics: %w", err)
	}

	store, err := sqlstore.Open(ctx, cfg.Storage, logger)
	if err != nil {
		providers.Shutdown(ctx)
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
		Metrics:       metrics,
		Store:         store,
	}
	app.initializeServices()
	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices builds the license components around the store
func (a *Application) initializeServices() {
	a.Query = license.NewQuery(a.Store, a.Config.Query,
		license.WithQueryTimeout(a.Config.Storage.OperationTimeout),
		license.WithQueryLogger(infrastructure.WithComponent(a.Logger, "query")),
		license.WithQueryMetrics(a.Metrics))

	a.Limiter = license.NewRedeemLimiter(a.Config.Redeem.RatePerMinute, a.Config.Redeem.Burst, a.Config.Redeem.LimiterTTL)

	issuer := license.NewIssuer(a.Store, a.Config.Keys,
		license.WithIssuerLogger(infrastructure.WithComponent(a.Logger, "issuer")),
		license.WithIssuerMetrics(a.Metrics))

	redeemer := license.NewRedeemer(a.Store, a.Store,
		license.WithTransactor(a.Store),
		license.WithLimiter(a.Limiter),
		license.WithInvalidator(a.Query),
		license.WithLogger(infrastructure.WithComponent(a.Logger, "redeemer")),
		license.WithMetrics(a.Metrics))

	a.License = services.NewLicenseService(services.Components{
		Keys:         a.Store,
		Entitlements: a.Store,
		Issuer:       issuer,
		Redeemer:     redeemer,
		Query:        a.Query,
	}, a.Logger)

	a.Health = services.NewHealthService(infrastructure.ServiceVersion, a.Store, a.Config.Storage.OperationTimeout, a.Logger)
}

// setupRouter configures the ops endpoints
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.Recoverer(a.Logger))

	otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders)
	if err != nil {
		a.Logger.Error("failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
	} else {
		r.Use(otelMiddleware.Handler)
	}
	r.Use(customMiddleware.StructuredLogger(a.Logger))

	errHandler := apperrors.NewErrorHandler(a.Logger, infrastructure.TraceIDFromContext)
	r.NotFound(errHandler.NotFound)
	r.MethodNotAllowed(errHandler.MethodNotAllowed)

	r.Get("/healthz", a.handleLiveness)
	r.Get("/readyz", a.handleReadiness)

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

func (a *Application) handleLiveness(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, a.Health.LivenessCheck(r.Context()))
}

func (a *Application) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := a.Health.ReadinessCheck(ctx)
	if status.Status == "ready" {
		render.JSON(w, r, status)
		return
	}

	traceID := infrastructure.TraceIDFromContext(ctx)
	problem := apperrors.MapLicenseError(apperrors.ErrStorageUnavailable, traceID, r.URL.Path).
		WithExtension("services", status.Services)
	render.Render(w, r, problem)
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         a.Config.Ops.Addr,
		Handler:      a.Router,
		ReadTimeout:  a.Config.Ops.ReadTimeout,
		WriteTimeout: a.Config.Ops.WriteTimeout,
	}
}

// Serve runs the ops server and the stats sweep until ctx is cancelled
func (a *Application) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfoContext(gctx, "ops server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.Ops.ShutdownTimeout)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	if a.Config.Ops.StatsInterval > 0 {
		g.Go(func() error {
			a.runStatsSweep(gctx, a.Config.Ops.StatsInterval)
			return nil
		})
	}

	return g.Wait()
}

// runStatsSweep refreshes the inventory gauges every interval
func (a *Application) runStatsSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := a.RefreshGauges(ctx); err != nil && ctx.Err() == nil {
			a.Logger.WarnContext(ctx, "stats sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RefreshGauges records available keys per class and active entitlements
func (a *Application) RefreshGauges(ctx context.Context) error {
	stats, err := a.License.Stats(ctx)
	if err != nil {
		return err
	}
	for _, class := range domain.Classes {
		a.Metrics.KeysAvailable.Record(ctx, int64(stats.ByClass[class].Available),
			metric.WithAttributes(attribute.String("class", string(class))))
	}

	active, err := a.Store.CountActive(ctx, time.Now())
	if err != nil {
		return apperrors.NewStorageError("failed to count active entitlements", err)
	}
	a.Metrics.EntitlementsActive.Record(ctx, int64(active))
	return nil
}

// Close releases the store and flushes telemetry
func (a *Application) Close(ctx context.Context) error {
	a.Query.Close()
	a.Limiter.Stop()

	var errs []error
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	if err := a.OTelProviders.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	a.Logger.InfoContext(ctx, "application shutdown complete")
	return errors.Join(errs...)
}

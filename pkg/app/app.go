// Package app assembles the cmsroles components.
//
// New opens the database, builds every store and service, and registers the
// lifecycle handlers on a fresh event registry exactly once. Nothing is
// registered at import time.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platinummonkey/cmsroles/pkg/audit"
	"github.com/platinummonkey/cmsroles/pkg/config"
	"github.com/platinummonkey/cmsroles/pkg/directory"
	"github.com/platinummonkey/cmsroles/pkg/events"
	"github.com/platinummonkey/cmsroles/pkg/observability"
	"github.com/platinummonkey/cmsroles/pkg/roles"
	"github.com/platinummonkey/cmsroles/pkg/siteadmin"
	"github.com/platinummonkey/cmsroles/pkg/sites"
	"github.com/platinummonkey/cmsroles/pkg/storage"
)

// App holds the wired components
type App struct {
	Config    *config.Config
	DB        *storage.DB
	Events    *events.Registry
	Directory *directory.Store
	Sites     *sites.Store
	Roles     *roles.Engine
	Reactor   *roles.Reactor
	SiteAdmin *siteadmin.Service
	Audit     audit.Logger
	Log       *observability.Logger
	Metrics   *observability.Metrics

	registry      *prometheus.Registry
	metricsServer *http.Server
}

// Option customizes the App built by New
type Option func(*options)

type options struct {
	log   *observability.Logger
	audit []audit.Logger
}

// WithLogger overrides the logger derived from the configuration
func WithLogger(log *observability.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithAuditLogger adds an audit sink next to the structured audit log
func WithAuditLogger(l audit.Logger) Option {
	return func(o *options) {
		o.audit = append(o.audit, l)
	}
}

// New opens the configured database and wires the application
func New(cfg *config.Config, opts ...Option) (*App, error) {
	db, err := storage.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	a, err := NewWithDB(cfg, db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// NewWithDB wires the application on an already opened database
func NewWithDB(cfg *config.Config, db *storage.DB, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	log := o.log
	if log == nil {
		log = cfg.Logger()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	sinks := append([]audit.Logger{audit.NewStructuredLogger(log)}, o.audit...)
	var auditLog audit.Logger = sinks[0]
	if len(sinks) > 1 {
		auditLog = audit.NewMultiLogger(sinks...)
	}

	reg := events.NewRegistry()
	dir := directory.NewStore(db, reg)
	siteStore := sites.NewStore(db, reg)
	engine := roles.NewEngine(
		roles.NewStore(db, reg), dir, siteStore,
		roles.WithLogger(log),
		roles.WithMetrics(metrics),
		roles.WithAuditLogger(auditLog),
	)

	reactor := roles.NewReactor(engine)
	reactor.Register(reg)

	svc, err := siteadmin.NewService(dir, siteStore, engine, cfg.SiteAdminService(), log, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create site admin service: %w", err)
	}
	svc.Register(reg)

	return &App{
		Config:    cfg,
		DB:        db,
		Events:    reg,
		Directory: dir,
		Sites:     siteStore,
		Roles:     engine,
		Reactor:   reactor,
		SiteAdmin: svc,
		Audit:     auditLog,
		Log:       log,
		Metrics:   metrics,
		registry:  registry,
	}, nil
}

// Migrate applies pending schema migrations
func (a *App) Migrate(ctx context.Context) error {
	return storage.Migrate(ctx, a.DB, a.Log.WithField("component", "migrate"))
}

// MetricsHandler serves the application's prometheus registry
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry})
}

// Router serves /metrics and the health probes
func (a *App) Router() *mux.Router {
	health := observability.NewHealthChecker(map[string]observability.Pinger{
		"database": a.DB.SQL(),
	})

	router := mux.NewRouter()
	router.Handle("/metrics", a.MetricsHandler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", health.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/readyz", health.Readiness).Methods(http.MethodGet)
	return router
}

// StartMetrics serves Router on the configured address when metrics are enabled
func (a *App) StartMetrics() {
	if !a.Config.Observability.MetricsEnabled || a.metricsServer != nil {
		return
	}

	a.metricsServer = &http.Server{
		Addr:              a.Config.Observability.MetricsAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.Log.Infof("serving metrics on %s", a.metricsServer.Addr)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.WithError(err).Error("metrics server failed")
		}
	}()
}

// Close stops the metrics server and closes the database
func (a *App) Close() error {
	var errs []error
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop metrics server: %w", err))
		}
	}
	if err := a.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}
	return errors.Join(errs...)
}

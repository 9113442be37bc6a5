// Package app wires the Device Registry components together and manages
// their lifecycle.
//
// Add path:
//
//	API / CLI → Orchestrator → Prober (DNS → ICMP → SNMP) →
//	Resolver (duplicate check) → Matcher (OS identity) → Store
//
// Background:
//
//	Scheduler → SNMP recheck → Matcher → Store (os updates only)
//
// The store is PostgreSQL when a DSN is configured, in-memory otherwise.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vpbank/device_registry/eventlog"
	"github.com/vpbank/device_registry/pkg/deviceregistry/api"
	"github.com/vpbank/device_registry/pkg/deviceregistry/config"
	"github.com/vpbank/device_registry/pkg/deviceregistry/fingerprint"
	"github.com/vpbank/device_registry/pkg/deviceregistry/lifecycle"
	"github.com/vpbank/device_registry/pkg/deviceregistry/probe"
	"github.com/vpbank/device_registry/pkg/deviceregistry/registry"
	"github.com/vpbank/device_registry/pkg/deviceregistry/resolver"
	"github.com/vpbank/device_registry/pkg/deviceregistry/scheduler"
	"github.com/vpbank/device_registry/snmp"
)

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config holds the top-level settings for the registry application.
// Zero-value fields fall back to documented defaults.
type Config struct {
	// ConfigPaths are the directories for YAML configuration files.
	// Use config.PathsFromEnv() to populate from environment variables.
	ConfigPaths config.Paths

	// DatabaseDSN selects the PostgreSQL store. Empty runs on the
	// in-memory store, which is suitable for tests and dry runs only.
	DatabaseDSN string

	// ListenAddr is the admin HTTP address. Empty disables the server.
	ListenAddr string

	// PoolSize bounds batch-add concurrency. Default: 4.
	PoolSize int

	// CacheSize bounds the device read cache. Default: 1024.
	CacheSize int

	// RecheckInterval is the periodic OS recheck cadence. Zero disables
	// the scheduler.
	RecheckInterval time.Duration

	// AuditLogPath appends audit events to a JSON-lines file alongside
	// the store. Empty disables the file sink.
	AuditLogPath       string
	AuditLogMaxBytes   int64
	AuditLogMaxBackups int
}

func (c *Config) withDefaults() {
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 1024
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// App
// ─────────────────────────────────────────────────────────────────────────────

// App owns every component of the registry. Create one with New, start it
// with Start, and stop it with Stop (or cancel the context).
type App struct {
	cfg    Config
	logger *slog.Logger

	// Loaded configuration (populated in Start).
	registryCfg *config.Config

	// Components.
	db           *sql.DB
	store        registry.Store
	cache        *registry.DeviceCache
	gate         *snmp.HostGate
	matcher      *fingerprint.Matcher
	prober       *probe.Prober
	res          *resolver.Resolver
	orchestrator *lifecycle.Orchestrator
	sched        *scheduler.Scheduler
	server       *http.Server
	promRegistry *prometheus.Registry
	fileSink     *eventlog.FileSink

	// Lifecycle.
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an App. It does not start anything; call Start for that.
func New(cfg Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	cfg.withDefaults()
	return &App{cfg: cfg, logger: logger}
}

// Start loads configuration, builds every component and launches the
// background goroutines. It returns an error if configuration, the OS rule
// corpus, the database or the listener cannot be set up.
func (a *App) Start(ctx context.Context) error {
	a.logger.Info("app: loading configuration")
	registryCfg, err := config.Load(a.cfg.ConfigPaths, a.logger)
	if err != nil {
		return fmt.Errorf("app: load config: %w", err)
	}
	a.registryCfg = registryCfg
	a.logger.Info("app: configuration loaded",
		"os_definitions", len(registryCfg.OSDefinitions),
		"communities", len(registryCfg.Communities),
		"v3_credentials", len(registryCfg.V3Credentials),
	)

	corpus, err := fingerprint.NewCorpus(registryCfg.OSDefinitions)
	if err != nil {
		return fmt.Errorf("app: build os corpus: %w", err)
	}
	a.matcher = fingerprint.NewMatcher(corpus, a.logger)

	if err := a.buildStore(ctx); err != nil {
		return err
	}
	a.cache = registry.NewDeviceCache(a.store, a.cfg.CacheSize)

	events, err := a.buildEventSink()
	if err != nil {
		return err
	}

	a.gate = snmp.NewHostGate()
	dialer := snmp.DialerWithLogger(a.logger)
	a.prober = probe.New(registryCfg, dialer, a.gate, a.logger)
	comparer := resolver.NewSNMPOIDComparer(dialer, registryCfg.OIDMatchThreshold)
	a.res = resolver.New(a.store, dialer, a.matcher, comparer, a.logger)

	a.promRegistry = prometheus.NewRegistry()
	metrics := lifecycle.NewMetrics(a.promRegistry)

	a.orchestrator = lifecycle.New(registryCfg, a.store, a.prober, a.matcher, a.res, lifecycle.Options{
		Cache:   a.cache,
		Dialer:  dialer,
		Gate:    a.gate,
		Events:  events,
		Metrics: metrics,
		Logger:  a.logger,
	})

	appCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.cfg.RecheckInterval > 0 {
		a.sched = scheduler.New(a.store, a.cache, dialer, a.matcher, events,
			a.cfg.RecheckInterval, a.logger)
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.sched.Start(appCtx)
		}()
		a.logger.Info("app: recheck scheduler started", "interval", a.cfg.RecheckInterval)
	}

	if a.cfg.ListenAddr != "" {
		handler := api.NewHandler(a.orchestrator, a.cfg.PoolSize, a.logger)
		router := api.NewRouter(handler, a.promRegistry, a.logger)
		a.server = &http.Server{
			Addr:         a.cfg.ListenAddr,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.logger.Info("app: admin server listening", "addr", a.cfg.ListenAddr)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("app: admin server failed", "error", err.Error())
			}
		}()
	}

	a.logger.Info("app: running",
		"store", a.storeKind(),
		"listen", a.cfg.ListenAddr,
		"recheck", a.cfg.RecheckInterval.String(),
	)
	return nil
}

// Stop performs a graceful shutdown: stop accepting HTTP requests, stop the
// scheduler, wait for background goroutines, then release the store and
// audit sinks.
func (a *App) Stop() {
	a.logger.Info("app: shutting down")

	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("app: admin server shutdown", "error", err.Error())
		}
		cancel()
	}

	if a.cancel != nil {
		a.cancel()
	}
	if a.sched != nil {
		a.sched.Stop()
	}
	a.wg.Wait()

	if a.fileSink != nil {
		if err := a.fileSink.Close(); err != nil {
			a.logger.Error("app: audit log close", "error", err.Error())
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("app: database close", "error", err.Error())
		}
	}

	a.logger.Info("app: shutdown complete")
}

// Orchestrator exposes the lifecycle component for CLI entry points that
// bypass the HTTP surface.
func (a *App) Orchestrator() *lifecycle.Orchestrator {
	return a.orchestrator
}

// ─────────────────────────────────────────────────────────────────────────────
// Component builders
// ─────────────────────────────────────────────────────────────────────────────

func (a *App) buildStore(ctx context.Context) error {
	if a.cfg.DatabaseDSN == "" {
		a.logger.Warn("app: no database configured, using in-memory store")
		a.store = registry.NewMemoryStore()
		return nil
	}

	db, err := sql.Open("pgx", a.cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("app: open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("app: database unreachable: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	a.db = db
	a.store = registry.NewPostgresStore(db)
	return nil
}

// buildEventSink fans audit events out to the store and, when configured,
// a rotating JSON-lines file.
func (a *App) buildEventSink() (eventlog.Sink, error) {
	storeSink := eventlog.NewStoreSink(a.store)
	if a.cfg.AuditLogPath == "" {
		return storeSink, nil
	}

	fileSink, err := eventlog.NewFileSink(eventlog.FileConfig{
		Path:       a.cfg.AuditLogPath,
		MaxBytes:   a.cfg.AuditLogMaxBytes,
		MaxBackups: a.cfg.AuditLogMaxBackups,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: open audit log: %w", err)
	}
	a.fileSink = fileSink
	return eventlog.MultiSink{storeSink, fileSink}, nil
}

func (a *App) storeKind() string {
	if a.db != nil {
		return "postgres"
	}
	return "memory"
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

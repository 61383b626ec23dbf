// Package refactorgen is the top-level entry point for RefactorGen.
//
// Use the Builder to compose an application:
//
//	app, err := refactorgen.NewBuilder().WithConfig(cfg).Build()
//	app.Start(ctx)
//
// Or replace any component:
//
//	app, err := refactorgen.NewBuilder().
//	    WithConfig(cfg).
//	    WithStore(myStore).
//	    WithOracleClient(myClient).
//	    WithValidator(myValidator).
//	    Build()
package refactorgen

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jxucoder/refactorgen/engine"
	"github.com/jxucoder/refactorgen/eventbus"
	"github.com/jxucoder/refactorgen/httpapi"
	"github.com/jxucoder/refactorgen/internal/config"
	"github.com/jxucoder/refactorgen/metrics"
	"github.com/jxucoder/refactorgen/notify"
	"github.com/jxucoder/refactorgen/oracle"
	"github.com/jxucoder/refactorgen/store"
)

// Config holds top-level configuration for a RefactorGen application.
type Config = config.Config

// Builder constructs a RefactorGen App.
type Builder struct {
	config     Config
	configured bool
	store      store.RunStore
	bus        eventbus.Bus
	acquirer   engine.Acquirer
	discoverer engine.Discoverer
	client     oracle.Client
	validator  oracle.Validator
	notifier   notify.Notifier
	metrics    *metrics.Metrics
}

// NewBuilder creates a new Builder. Components left unset are filled with
// defaults derived from the configuration.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the application configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	b.configured = true
	return b
}

// WithStore sets the run store implementation.
func (b *Builder) WithStore(s store.RunStore) *Builder {
	b.store = s
	return b
}

// WithBus sets the event bus implementation.
func (b *Builder) WithBus(bus eventbus.Bus) *Builder {
	b.bus = bus
	return b
}

// WithAcquirer sets how repositories are materialized.
func (b *Builder) WithAcquirer(a engine.Acquirer) *Builder {
	b.acquirer = a
	return b
}

// WithDiscoverer sets how issues are found.
func (b *Builder) WithDiscoverer(d engine.Discoverer) *Builder {
	b.discoverer = d
	return b
}

// WithOracleClient sets the LLM client behind the oracle gateway.
func (b *Builder) WithOracleClient(c oracle.Client) *Builder {
	b.client = c
	return b
}

// WithValidator sets the project validation procedure.
func (b *Builder) WithValidator(v oracle.Validator) *Builder {
	b.validator = v
	return b
}

// WithNotifier sets the run-completion notifier.
func (b *Builder) WithNotifier(n notify.Notifier) *Builder {
	b.notifier = n
	return b
}

// Build creates the App. Missing components are filled with defaults.
func (b *Builder) Build() (*App, error) {
	if err := applyDefaults(b); err != nil {
		return nil, err
	}

	gateway := oracle.NewGateway(b.client, b.validator, oracle.Options{
		Timeout:       b.config.Oracle.Timeout,
		RatePerMinute: b.config.Oracle.RatePerMinute,
		Burst:         b.config.Oracle.Burst,
		Recorder:      b.metrics,
	})
	if b.discoverer == nil {
		b.discoverer = newScanner(b.config, gateway)
	}

	svc := engine.NewService(
		engine.Config{
			WorkspaceDir:      b.config.WorkspaceDir,
			MaxConcurrentRuns: int64(b.config.MaxConcurrentRuns),
		},
		b.store,
		b.bus,
		b.acquirer,
		b.discoverer,
		gateway,
		gateway,
		b.metrics,
		b.notifier,
	)

	return &App{
		config:  b.config,
		store:   b.store,
		gateway: gateway,
		service: svc,
		coord:   engine.NewCoordinator(b.acquirer, b.discoverer, gateway, b.config.WorkspaceDir, nil),
		handler: httpapi.New(svc, b.metrics.Handler()),
	}, nil
}

// App is a RefactorGen application.
type App struct {
	config  Config
	store   store.RunStore
	gateway *oracle.Gateway
	service *engine.Service
	coord   *engine.Coordinator
	handler *httpapi.Handler
}

// Service returns the background run service.
func (a *App) Service() *engine.Service { return a.service }

// Gateway returns the oracle gateway.
func (a *App) Gateway() *oracle.Gateway { return a.gateway }

// Coordinator returns a coordinator for in-process runs that bypass the
// store.
func (a *App) Coordinator() *engine.Coordinator { return a.coord }

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler { return a.handler.Router() }

// Close releases the store.
func (a *App) Close() error { return a.store.Close() }

// Start serves the HTTP API and runs repairs in the background. Blocks until
// ctx is done or the server fails, then stops all runs and closes the store.
func (a *App) Start(ctx context.Context) error {
	a.service.Start(ctx)

	srv := &http.Server{
		Addr:              a.config.ServerAddr,
		Handler:           a.handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("RefactorGen server listening", "addr", a.config.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.service.Stop()
	return errors.Join(err, a.Close())
}

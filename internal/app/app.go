// Package app wires the gateway's dependencies and owns their lifecycle. The
// directory store handle is created once here and closed at shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/savings_layer/internal/chain"
	"github.com/R3E-Network/savings_layer/internal/config"
	"github.com/R3E-Network/savings_layer/internal/cooldown"
	"github.com/R3E-Network/savings_layer/internal/database/migrations"
	"github.com/R3E-Network/savings_layer/internal/httpapi"
	"github.com/R3E-Network/savings_layer/internal/logging"
	"github.com/R3E-Network/savings_layer/internal/metrics"
	"github.com/R3E-Network/savings_layer/internal/middleware"
	"github.com/R3E-Network/savings_layer/internal/sponsor"
	"github.com/R3E-Network/savings_layer/internal/strategy"
	"github.com/R3E-Network/savings_layer/services/aggregator"
	"github.com/R3E-Network/savings_layer/services/directory"
	"github.com/R3E-Network/savings_layer/services/identity"
	"github.com/R3E-Network/savings_layer/services/recommend"
	"github.com/R3E-Network/savings_layer/services/relay"
	"github.com/R3E-Network/savings_layer/services/yield"
)

// cooldownPrefix namespaces mint cooldown keys in redis.
const cooldownPrefix = "savings:mint:"

// Application holds the wired gateway.
type Application struct {
	cfg     *config.Config
	log     *logging.Logger
	metrics *metrics.Metrics

	store   directory.Store
	redis   *redis.Client
	relay   *relay.Service
	writer  *yield.Writer
	sweeper *yield.Sweeper
	limiter *middleware.RateLimiter

	httpServer  *http.Server
	stopCleanup chan struct{}
}

// New builds the application from cfg. Nothing is started until Run.
func New(ctx context.Context, cfg *config.Config, log *logging.Logger) (*Application, error) {
	if err := cfg.ValidateServe(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.New(httpapi.ServiceName, cfg.Log.Level, cfg.Log.Format)
	}
	a := &Application{cfg: cfg, log: log, metrics: metrics.New(), stopCleanup: make(chan struct{})}

	if err := a.build(ctx); err != nil {
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *Application) build(ctx context.Context) error {
	cfg := a.cfg

	table, err := strategy.Load(cfg.StrategyFile)
	if err != nil {
		return err
	}

	sp, err := sponsor.Parse(cfg.Ledger.SponsorKey)
	if err != nil {
		return fmt.Errorf("sponsor key: %w", err)
	}

	ledger, err := chain.NewClient(chain.Config{
		RPCURL:   cfg.Ledger.RPCURL,
		Timeout:  cfg.Ledger.Timeout,
		PageSize: cfg.Events.PageLimit,
	})
	if err != nil {
		return fmt.Errorf("ledger client: %w", err)
	}

	store, err := OpenStore(ctx, cfg.Database, true)
	if err != nil {
		return err
	}
	a.store = store

	limiter, err := a.buildCooldown(ctx)
	if err != nil {
		return err
	}

	a.writer = yield.NewWriter(yield.WriterConfig{
		Store:     store,
		Logger:    a.log,
		Metrics:   a.metrics,
		QueueSize: cfg.Yield.QueueSize,
	})
	engine := yield.NewEngine(yield.Config{Strategies: table, Writer: a.writer, Logger: a.log})
	a.sweeper = yield.NewSweeper(yield.SweeperConfig{
		Store:    store,
		Vaults:   ledger,
		Engine:   engine,
		Logger:   a.log,
		Schedule: cfg.Yield.SweepSchedule,
	})

	a.relay, err = relay.New(relay.Config{
		Ledger:         ledger,
		Sponsor:        sp,
		Directory:      store,
		Cooldown:       limiter,
		Strategies:     table,
		Logger:         a.log,
		Metrics:        a.metrics,
		PackageID:      cfg.Ledger.PackageID,
		AdminCapID:     cfg.Ledger.AdminCapID,
		TreasuryCapID:  cfg.Ledger.TreasuryCapID,
		GasBudget:      cfg.Ledger.GasBudget,
		MintMaxAmount:  decimal.NewFromFloat(cfg.Relay.MintMaxAmount),
		MintCooldown:   cfg.Relay.MintCooldown,
		AutoStart:      cfg.Relay.AutoStart,
		AutoStartDelay: cfg.Relay.AutoStartDelay,
		DiscoveryDelay: cfg.Relay.DiscoveryDelay,
	})
	if err != nil {
		return err
	}

	agg := aggregator.New(aggregator.Config{
		Ledger:    ledger,
		PackageID: cfg.Ledger.PackageID,
		MaxEvents: cfg.Events.MaxEvents,
		Logger:    a.log,
		Metrics:   a.metrics,
	})

	secret := []byte(cfg.Auth.JWTSecret)
	ident := identity.New(identity.Config{
		Verifier: identity.NewTokenInfoVerifier(identity.TokenInfoConfig{
			Endpoint: cfg.Auth.TokenInfoURL,
			ClientID: cfg.Auth.OAuthClientID,
		}),
		Sessions:    identity.NewSessions(secret, cfg.Auth.SessionTTL),
		AddressSalt: cfg.Auth.AddressSalt,
		Logger:      a.log,
	})

	rec := recommend.New(recommend.Config{
		Strategies: table,
		BaseURL:    cfg.Recommend.BaseURL,
		APIKey:     cfg.Recommend.APIKey,
		Model:      cfg.Recommend.Model,
		Timeout:    cfg.Recommend.Timeout,
		Logger:     a.log,
	})

	a.limiter = middleware.NewRateLimiter(cfg.HTTP.RateLimitRPS, cfg.HTTP.RateLimitBurst, a.log)

	srv, err := httpapi.New(httpapi.Config{
		Relay:       a.relay,
		Aggregator:  agg,
		Directory:   store,
		Yield:       engine,
		Ledger:      ledger,
		Identity:    ident,
		Recommend:   rec,
		Auth:        middleware.NewAuthMiddleware(secret, a.log, nil),
		RateLimiter: a.limiter,
		CORSOrigins: cfg.HTTP.Origins(),
		AdminKey:    cfg.Auth.AdminAPIKey,
		Metrics:     a.metrics,
		Logger:      a.log,
	})
	if err != nil {
		return err
	}

	a.httpServer = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return nil
}

func (a *Application) buildCooldown(ctx context.Context) (cooldown.Limiter, error) {
	if a.cfg.Redis.URL == "" {
		a.log.Warn(ctx, "REDIS_URL not set; mint cooldown is per-process", nil)
		return cooldown.NewMemory(), nil
	}
	limiter, client, err := cooldown.NewRedisFromURL(a.cfg.Redis.URL, cooldownPrefix)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	a.redis = client
	return limiter, nil
}

// OpenStore opens the directory store: postgres when a DSN is configured,
// otherwise an in-memory store. When migrate is set the schema is applied.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, migrate bool) (directory.Store, error) {
	if cfg.DSN == "" {
		return directory.NewMemoryStore(), nil
	}
	db, err := directory.OpenPostgres(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLife > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLife)
	}
	if migrate {
		if err := migrations.Apply(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate directory: %w", err)
		}
	}
	return directory.NewPostgresStore(db), nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// Handler returns the HTTP handler.
func (a *Application) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts background workers and the HTTP server and blocks until ctx is
// cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	a.writer.Start()
	if err := a.sweeper.Start(); err != nil {
		return err
	}
	a.limiter.StartCleanup(time.Minute, a.stopCleanup)

	errCh := make(chan error, 1)
	go func() {
		a.log.Info(ctx, "HTTP server listening", map[string]interface{}{
			"addr":    a.cfg.HTTP.Addr,
			"sponsor": a.relay.SponsorAddress(),
		})
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the server, drains background work and closes the store.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.HTTP.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	close(a.stopCleanup)
	if err := a.sweeper.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := a.relay.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := a.writer.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *Application) closeResources() error {
	var errs []error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error(context.Background(), "error closing directory store", err, nil)
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

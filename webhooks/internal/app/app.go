// Package app wires the webhook service's components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bsm/redislock"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	commondb "github.com/synergy-rentals/srg-stack/common/database"
	"github.com/synergy-rentals/srg-stack/common/logging"
	natsclient "github.com/synergy-rentals/srg-stack/common/messaging/nats"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/config"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/coordinator"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/credentials"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/database"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/dlq"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/eventstore"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/gatekeeper"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/handlers"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/processor"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/queue"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/ratelimit"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/replay"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/repository"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/secrets"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/seed"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/server"
)

// App owns every long-lived component. Build it once with New and release it
// with Close.
type App struct {
	Repo        repository.Repository
	Store       eventstore.Store
	Credentials *credentials.Manager
	Coordinator *coordinator.Coordinator
	Handler     http.Handler

	cfg     *config.Config
	logger  *slog.Logger
	pool    *pgxpool.Pool
	redis   *redis.Client
	nats    *natsclient.JetStreamClient
	limiter ratelimit.RateLimiter
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logging.OrDiscard(logger)}

	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if _, err := seed.SyncAccounts(ctx, a.Repo, cfg.AccountModels()); err != nil {
		a.Close()
		return nil, fmt.Errorf("sync configured accounts: %w", err)
	}

	a.openRedis(ctx)
	sink := a.openFailedSink(ctx)

	credOpts := []credentials.Option{credentials.WithLogger(a.logger)}
	if a.redis != nil {
		credOpts = append(credOpts, credentials.WithLocker(redislock.New(a.redis)))
	}
	a.Credentials = credentials.NewManager(credentials.Config{
		TokenURL:           cfg.Guesty.TokenURL,
		APIBaseURL:         cfg.Guesty.APIBaseURL,
		Scopes:             cfg.Guesty.Scopes,
		CacheBuffer:        cfg.Guesty.CacheBuffer,
		StoredBuffer:       cfg.Guesty.StoredBuffer,
		RetryFallbackDelay: cfg.Guesty.RetryFallbackDelay,
		MaxRetryDelay:      cfg.Guesty.MaxRetryDelay,
		RateLimitRPM:       cfg.Guesty.RateLimitRPM,
		RequestTimeout:     cfg.Guesty.RequestTimeout,
	}, a.Repo, credOpts...)

	guard := replay.NewGuard(a.Store, cfg.Webhook.ReplayWindow)
	gk := gatekeeper.New(gatekeeper.Config{RequireSecret: cfg.Webhook.RequireSecret}, a.Repo, a.Store, guard, a.logger)
	q := queue.New(cfg.Queue.Concurrency, a.logger)
	proc := processor.New(a.Repo, a.logger)
	a.Coordinator = coordinator.New(coordinator.Config{StatsWindow: cfg.Store.StatsWindow}, gk, a.Store, q, proc, sink, a.logger)

	a.Handler = server.NewRouter(server.Handlers{
		Webhook: handlers.NewWebhookHandler(a.Coordinator, a.limiter, handlers.WebhookConfig{
			SignatureHeader:  cfg.Webhook.SignatureHeader,
			EventIDHeader:    cfg.Webhook.EventIDHeader,
			MaxBodyBytes:     cfg.Webhook.MaxBodyBytes,
			DefaultAccountID: cfg.Webhook.DefaultAccountID,
		}, a.logger),
		Admin:       handlers.NewAdminHandler(a.Repo, a.Credentials, a.Coordinator, a.logger),
		Health:      handlers.NewHealthHandler(a.readinessChecks()),
		AdminAPIKey: cfg.Admin.APIKey,
	}, a.logger)

	a.logger.Info("webhook pipeline ready",
		slog.String("database", cfg.Database.Driver),
		slog.Int("concurrency", q.Concurrency()),
		slog.Duration("replay_window", guard.Window()),
		slog.Bool("require_secret", cfg.Webhook.RequireSecret),
	)
	return a, nil
}

func (a *App) openStorage(ctx context.Context) error {
	cfg := a.cfg.Database
	if cfg.Driver != "postgres" {
		a.Repo = repository.NewInMemoryRepository()
		a.Store = eventstore.NewMemoryStore()
		a.logger.Warn("using in-memory storage; data is lost on restart")
		return nil
	}

	if cfg.MigrateOnStart {
		if err := database.MigrateUp(cfg.URL, a.logger); err != nil {
			return err
		}
	}

	sealer, err := secrets.NewSealer(a.cfg.Security.EncryptionKey)
	if err != nil {
		return err
	}
	if sealer == nil {
		a.logger.Warn("security.encryption_key not set; account secrets are stored in plaintext")
	}

	pool, err := commondb.NewPool(ctx, commondb.PoolConfig{
		URL:             cfg.URL,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
		MaxConnIdleTime: cfg.MaxConnIdleTime,
	})
	if err != nil {
		return err
	}
	a.pool = pool
	a.Repo = repository.NewPostgresRepository(pool, sealer)
	a.Store = eventstore.NewPostgresStore(pool)
	return nil
}

// openRedis connects when enabled. Redis only backs optional features, so a
// failed connection is logged and the service continues without it.
func (a *App) openRedis(ctx context.Context) {
	a.limiter = &ratelimit.NoOpRateLimiter{}
	if !a.cfg.Redis.Enabled {
		return
	}

	opt, err := redis.ParseURL(a.cfg.Redis.URL)
	if err != nil {
		a.logger.Warn("invalid redis url, continuing without redis", logging.Error(err))
		return
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		a.logger.Warn("redis unavailable, continuing without rate limiting and refresh locks", logging.Error(err))
		return
	}
	a.redis = client

	if a.cfg.Webhook.RateLimitEnabled {
		a.limiter = ratelimit.NewWithClient(client, a.cfg.Webhook.RateLimitRequests, a.cfg.Webhook.RateLimitWindow)
		a.logger.Info("inbound rate limiting enabled",
			slog.Int("requests", a.cfg.Webhook.RateLimitRequests),
			slog.Duration("window", a.cfg.Webhook.RateLimitWindow))
	}
}

func (a *App) openFailedSink(ctx context.Context) dlq.Writer {
	if !a.cfg.NATS.Enabled {
		return dlq.NoOp{}
	}

	natsCfg := natsclient.DefaultConfig()
	natsCfg.URL = a.cfg.NATS.URL
	if a.cfg.NATS.Name != "" {
		natsCfg.Name = a.cfg.NATS.Name
	}
	js, err := natsclient.NewJetStreamClient(natsCfg)
	if err != nil {
		a.logger.Warn("nats unavailable, failed events will not be published", logging.Error(err))
		return dlq.NoOp{}
	}
	writer, err := dlq.NewJetStreamWriter(ctx, js, a.logger)
	if err != nil {
		_ = js.Close()
		a.logger.Warn("failed-event stream unavailable", logging.Error(err))
		return dlq.NoOp{}
	}
	a.nats = js
	return writer
}

func (a *App) readinessChecks() map[string]handlers.Check {
	checks := make(map[string]handlers.Check)
	if a.pool != nil {
		checks["database"] = a.pool.Ping
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	if a.nats != nil {
		checks["nats"] = func(ctx context.Context) error {
			if !a.nats.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		}
	}
	return checks
}

// Reload applies a changed configuration's accounts. Accounts whose client
// credentials changed lose their cached tokens.
func (a *App) Reload(ctx context.Context, cfg *config.Config) {
	rotated, err := seed.SyncAccounts(ctx, a.Repo, cfg.AccountModels())
	for _, id := range rotated {
		a.Credentials.Invalidate(id)
		a.logger.Info("account credentials rotated", logging.AccountID(id))
	}
	if err != nil {
		a.logger.Error("failed to apply account changes", logging.Error(err))
	}
}

// Run serves HTTP until ctx is cancelled, then drains in-flight work.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      a.Handler,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("webhook service listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	a.logger.Info("shutting down webhook service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server forced to shutdown", logging.Error(err))
	}
	if err := a.Coordinator.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("admission queue did not drain", logging.Error(err))
	}
	return serveErr
}

// Close releases connections. It is safe on a partially built App.
func (a *App) Close() {
	if a.limiter != nil {
		_ = a.limiter.Close()
	}
	if a.nats != nil {
		_ = a.nats.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

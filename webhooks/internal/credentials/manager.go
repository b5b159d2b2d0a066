// Package credentials manages Guesty OAuth2 client-credential tokens per
// account and wraps outbound Guesty API calls.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/synergy-rentals/srg-stack/common/logging"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/metrics"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/repository"
)

// Defaults mirror Guesty's Open API.
const (
	DefaultTokenURL           = "https://open-api.guesty.com/oauth2/token"
	DefaultAPIBaseURL         = "https://open-api.guesty.com"
	DefaultCacheBuffer        = 10 * time.Minute
	DefaultStoredBuffer       = 5 * time.Minute
	DefaultRetryFallbackDelay = time.Second
	DefaultMaxRetryDelay      = 60 * time.Second
	DefaultRateLimitRPM       = 60

	// fallbackTokenLifetime applies when neither expires_in nor a JWT exp
	// claim is available.
	fallbackTokenLifetime = time.Hour
	refreshLockTTL        = 30 * time.Second
	refreshTimeout        = time.Minute
)

var DefaultScopes = []string{"read:listings", "read:reservations", "read:calendar", "write:calendar"}

// Config tunes the Manager. Zero values select the defaults above;
// a negative RateLimitRPM disables outbound pacing.
type Config struct {
	TokenURL           string
	APIBaseURL         string
	Scopes             []string
	CacheBuffer        time.Duration
	StoredBuffer       time.Duration
	RetryFallbackDelay time.Duration
	MaxRetryDelay      time.Duration
	RateLimitRPM       int
	RequestTimeout     time.Duration
}

func (c *Config) applyDefaults() {
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.APIBaseURL == "" {
		c.APIBaseURL = DefaultAPIBaseURL
	}
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	if len(c.Scopes) == 0 {
		c.Scopes = DefaultScopes
	}
	if c.CacheBuffer <= 0 {
		c.CacheBuffer = DefaultCacheBuffer
	}
	if c.StoredBuffer <= 0 {
		c.StoredBuffer = DefaultStoredBuffer
	}
	if c.RetryFallbackDelay <= 0 {
		c.RetryFallbackDelay = DefaultRetryFallbackDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if c.RateLimitRPM == 0 {
		c.RateLimitRPM = DefaultRateLimitRPM
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
}

// Option customizes a Manager.
type Option func(*Manager)

// WithHTTPClient sets the client used for token exchange and API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

// WithLocker serializes refreshes across instances through Redis.
func WithLocker(l *redislock.Client) Option {
	return func(m *Manager) { m.locker = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = logging.OrDiscard(l) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager fetches, caches and refreshes access tokens. The cache belongs to
// the Manager instance.
type Manager struct {
	cfg        Config
	accounts   repository.AccountRepository
	httpClient *http.Client
	locker     *redislock.Client
	logger     *slog.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error

	cache   *tokenCache
	group   singleflight.Group
	limitMu sync.Mutex
	limits  map[string]*rate.Limiter
}

func NewManager(cfg Config, accounts repository.AccountRepository, opts ...Option) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		cfg:      cfg,
		accounts: accounts,
		logger:   logging.Discard().Logger,
		now:      time.Now,
		sleep:    sleepContext,
		cache:    newTokenCache(),
		limits:   make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.httpClient == nil {
		m.httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return m
}

// GetAccessToken returns a bearer token for accountID, exchanging client
// credentials only when neither the cache nor the persisted token is
// comfortably valid.
func (m *Manager) GetAccessToken(ctx context.Context, accountID string) (string, error) {
	if token, ok := m.cache.get(accountID, m.now(), m.cfg.CacheBuffer); ok {
		return token, nil
	}

	// The shared refresh is detached from any one caller so a cancelled
	// caller does not fail the others waiting on it.
	ch := m.group.DoChan(accountID, func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return m.refresh(refreshCtx, accountID)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token for accountID.
func (m *Manager) Invalidate(accountID string) {
	m.cache.delete(accountID)
}

// InvalidateAll drops every cached token.
func (m *Manager) InvalidateAll() {
	m.cache.clear()
}

func (m *Manager) refresh(ctx context.Context, accountID string) (string, error) {
	// Another caller may have refreshed while this one waited on the group.
	if token, ok := m.cache.get(accountID, m.now(), m.cfg.CacheBuffer); ok {
		return token, nil
	}

	acct, err := m.loadAccount(ctx, accountID)
	if err != nil {
		return "", err
	}
	if acct.TokenValidFor(m.now(), m.cfg.StoredBuffer) {
		m.cache.put(accountID, acct.AccessToken, acct.TokenExpiry)
		return acct.AccessToken, nil
	}
	if !acct.HasClientCredentials() {
		return "", fmt.Errorf("%w: account %s has no Guesty client credentials", models.ErrConfiguration, accountID)
	}

	if lock := m.obtainLock(ctx, accountID); lock != nil {
		defer func() { _ = lock.Release(context.Background()) }()

		// The lock holder before us may have persisted a fresh token.
		if acct, err = m.loadAccount(ctx, accountID); err != nil {
			return "", err
		}
		if acct.TokenValidFor(m.now(), m.cfg.StoredBuffer) {
			m.cache.put(accountID, acct.AccessToken, acct.TokenExpiry)
			return acct.AccessToken, nil
		}
	}

	token, expiry, err := m.exchange(ctx, acct)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues("error").Inc()
		return "", err
	}
	metrics.TokenRefreshes.WithLabelValues("success").Inc()

	if err := m.accounts.SaveToken(ctx, accountID, token, expiry); err != nil {
		m.logger.WarnContext(ctx, "failed to persist access token",
			logging.AccountID(accountID), logging.Error(err))
	}
	m.cache.put(accountID, token, expiry)

	m.logger.InfoContext(ctx, "guesty access token refreshed",
		logging.AccountID(accountID), slog.Time("expires_at", expiry))
	return token, nil
}

func (m *Manager) loadAccount(ctx context.Context, accountID string) (*models.Account, error) {
	acct, err := m.accounts.GetAccount(ctx, accountID)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownAccount, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", accountID, err)
	}
	return acct, nil
}

// obtainLock takes the cross-instance refresh lock. It is best effort: when
// the lock cannot be obtained the refresh proceeds without it.
func (m *Manager) obtainLock(ctx context.Context, accountID string) *redislock.Lock {
	if m.locker == nil {
		return nil
	}
	lock, err := m.locker.Obtain(ctx, "webhooks:guesty-token:"+accountID, refreshLockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 30),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		m.logger.WarnContext(ctx, "token refresh lock busy, refreshing without it", logging.AccountID(accountID))
		return nil
	}
	if err != nil {
		m.logger.WarnContext(ctx, "token refresh lock unavailable", logging.AccountID(accountID), logging.Error(err))
		return nil
	}
	return lock
}

func (m *Manager) limiter(accountID string) *rate.Limiter {
	if m.cfg.RateLimitRPM < 0 {
		return nil
	}
	m.limitMu.Lock()
	defer m.limitMu.Unlock()

	l, ok := m.limits[accountID]
	if !ok {
		burst := m.cfg.RateLimitRPM / 10
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(m.cfg.RateLimitRPM)), burst)
		m.limits[accountID] = l
	}
	return l
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package credentials

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/synergy-rentals/srg-stack/common/logging"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/metrics"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
)

const maxErrorBody = 4 << 10

// Do sends req on behalf of accountID with a bearer token. A 429 is retried
// exactly once after the Retry-After delay; a second 429 surfaces as
// ErrUpstreamThrottled. Other non-2xx responses surface as *UpstreamError
// and a 401 also drops the cached token. On success the caller owns the
// response body.
//
// Requests with a body must be replayable (req.GetBody set), which
// http.NewRequest does for in-memory readers.
func (m *Manager) Do(ctx context.Context, accountID string, req *http.Request) (*http.Response, error) {
	resp, err := m.attempt(ctx, accountID, req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		delay := m.retryDelay(resp.Header.Get("Retry-After"))
		drain(resp)

		m.logger.WarnContext(ctx, "guesty rate limited, retrying once",
			logging.AccountID(accountID), logging.Duration(delay))
		if err := m.sleep(ctx, delay); err != nil {
			return nil, err
		}

		resp, err = m.attempt(ctx, accountID, req)
		if err != nil {
			return nil, err
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	drain(resp)

	if resp.StatusCode == http.StatusUnauthorized {
		m.forget(ctx, accountID)
	}
	return nil, &models.UpstreamError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
}

// TestConnection verifies the account's credentials with a minimal listings
// query.
func (m *Manager) TestConnection(ctx context.Context, accountID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.APIBaseURL+"/v1/listings?limit=1", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.Do(ctx, accountID, req)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// forget drops both the cached and the persisted token so the next call
// performs a fresh exchange.
func (m *Manager) forget(ctx context.Context, accountID string) {
	m.Invalidate(accountID)
	if err := m.accounts.SaveToken(ctx, accountID, "", time.Time{}); err != nil {
		m.logger.WarnContext(ctx, "failed to clear rejected access token",
			logging.AccountID(accountID), logging.Error(err))
	}
}

func (m *Manager) attempt(ctx context.Context, accountID string, req *http.Request) (*http.Response, error) {
	if l := m.limiter(accountID); l != nil {
		if err := l.Wait(ctx); err != nil {
			return nil, err
		}
	}

	token, err := m.GetAccessToken(ctx, accountID)
	if err != nil {
		return nil, err
	}

	out := req.Clone(ctx)
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, fmt.Errorf("request body for %s is not replayable", req.URL.Path)
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		out.Body = body
	}
	out.Header.Set("Authorization", "Bearer "+token)

	resp, err := m.httpClient.Do(out)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s %s: %v", models.ErrConnectivity, req.Method, req.URL.Path, err)
	}
	metrics.UpstreamRequests.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}

// retryDelay parses Retry-After as delta seconds or an HTTP date, capped at
// MaxRetryDelay. Missing or unparseable hints use RetryFallbackDelay.
func (m *Manager) retryDelay(header string) time.Duration {
	delay := m.cfg.RetryFallbackDelay
	if header != "" {
		if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
			delay = time.Duration(secs) * time.Second
		} else if at, err := http.ParseTime(header); err == nil {
			delay = at.Sub(m.now())
			if delay < 0 {
				delay = 0
			}
		}
	}
	if delay > m.cfg.MaxRetryDelay {
		delay = m.cfg.MaxRetryDelay
	}
	return delay
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	if err := resp.Body.Close(); err != nil {
		slog.Debug("failed to close response body", logging.Error(err))
	}
}

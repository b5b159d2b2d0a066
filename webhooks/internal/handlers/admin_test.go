package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synergy-rentals/srg-stack/webhooks/internal/coordinator"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/repository"
)

type fakeTester struct{ err error }

func (f fakeTester) TestConnection(ctx context.Context, accountID string) error { return f.err }

type fakeStats struct {
	stats  *coordinator.Stats
	events []*models.EventRecord
	status models.EventStatus
	limit  int
}

func (f *fakeStats) Stats(ctx context.Context) (*coordinator.Stats, error) { return f.stats, nil }

func (f *fakeStats) Events(ctx context.Context, status models.EventStatus, limit int) ([]*models.EventRecord, error) {
	f.status, f.limit = status, limit
	return f.events, nil
}

func newAdmin(t *testing.T, tester ConnectionTester, stats StatsSource) (*AdminHandler, *repository.InMemoryRepository) {
	t.Helper()
	repo := repository.NewInMemoryRepository()
	require.NoError(t, repo.UpsertAccount(context.Background(), &models.Account{ID: "acct-1"}))
	h := NewAdminHandler(repo, tester, stats, nil)
	h.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return h, repo
}

func post(handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	return rr
}

func TestGenerateSecret(t *testing.T) {
	h, repo := newAdmin(t, fakeTester{}, &fakeStats{})

	rr := post(h.GenerateSecret, `{"accountId":"acct-1"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp adminResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Len(t, resp.Secret, 64)
	assert.Equal(t, "2026-03-01T12:00:00Z", resp.Timestamp)

	acct, err := repo.GetAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, resp.Secret, acct.WebhookSecret)
}

func TestGenerateSecret_Errors(t *testing.T) {
	h, _ := newAdmin(t, fakeTester{}, &fakeStats{})

	assert.Equal(t, http.StatusBadRequest, post(h.GenerateSecret, `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(h.GenerateSecret, `not json`).Code)
	assert.Equal(t, http.StatusNotFound, post(h.GenerateSecret, `{"accountId":"ghost"}`).Code)
}

func TestTestConnection(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"unknown account", fmt.Errorf("%w: x", models.ErrUnknownAccount), http.StatusNotFound},
		{"missing credentials", fmt.Errorf("%w: x", models.ErrConfiguration), http.StatusBadRequest},
		{"upstream", &models.UpstreamError{StatusCode: 403}, http.StatusBadGateway},
		{"connectivity", fmt.Errorf("%w: dial", models.ErrConnectivity), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newAdmin(t, fakeTester{err: tt.err}, &fakeStats{})
			rr := post(h.TestConnection, `{"accountId":"acct-1"}`)
			assert.Equal(t, tt.want, rr.Code)

			var resp adminResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.err == nil, resp.Success)
		})
	}
}

func TestStatsAndEvents(t *testing.T) {
	processedAt := time.Date(2026, 3, 1, 12, 0, 1, 0, time.UTC)
	stats := &fakeStats{
		stats: &coordinator.Stats{TotalEvents: 4, VerifiedEvents: 3, VerificationRate: 75, QueueDepth: 1},
		events: []*models.EventRecord{{
			ID: "rec-1", EventID: "evt-1", Status: models.StatusFailed,
			ErrorMessage: "boom", ProcessedAt: &processedAt,
		}},
	}
	h, _ := newAdmin(t, fakeTester{}, stats)

	rr := httptest.NewRecorder()
	h.Stats(rr, httptest.NewRequest(http.MethodGet, "/api/admin/webhook/stats", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.EqualValues(t, 4, got["totalEvents"])
	assert.EqualValues(t, 75, got["verificationRate"])
	assert.EqualValues(t, 1, got["queueDepth"])

	rr = httptest.NewRecorder()
	h.Events(rr, httptest.NewRequest(http.MethodGet, "/api/admin/webhook/events?limit=5", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.StatusFailed, stats.status)
	assert.Equal(t, 5, stats.limit)
	assert.Contains(t, rr.Body.String(), `"errorMessage":"boom"`)
	assert.Contains(t, rr.Body.String(), `"eventId":"evt-1"`)

	rr = httptest.NewRecorder()
	h.Events(rr, httptest.NewRequest(http.MethodGet, "/api/admin/webhook/events?status=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRequireAPIKey(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name   string
		key    string
		header string
		want   int
	}{
		{"open when unset", "", "", http.StatusNoContent},
		{"missing token", "k3y", "", http.StatusUnauthorized},
		{"wrong token", "k3y", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "k3y", "Bearer k3y", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			RequireAPIKey(tt.key)(ok).ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestReady(t *testing.T) {
	h := NewHealthHandler(map[string]Check{
		"database": func(ctx context.Context) error { return nil },
	})
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	h = NewHealthHandler(map[string]Check{
		"redis": func(ctx context.Context) error { return errors.New("connection refused") },
	})
	rr = httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "connection refused")
}

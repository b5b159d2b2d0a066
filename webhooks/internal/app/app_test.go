package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synergy-rentals/srg-stack/common/logging"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/config"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/signature"
)

const testConfig = `
database:
  driver: memory
queue:
  concurrency: 2
admin:
  api_key: admin-key
accounts:
  - id: acct-1
    name: Main
    client_id: client-a
    client_secret: secret-a
    webhook_secret: hook-secret
`

func newTestApp(t *testing.T) *App {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	a, err := New(context.Background(), cfg, logging.Discard().Logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Coordinator.Shutdown(context.Background())
		a.Close()
	})
	return a
}

func TestNew_MemoryStackProcessesDelivery(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	acct, err := a.Repo.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "hook-secret", acct.WebhookSecret)

	body := `{"id":"evt-app-1","type":"listing.updated","data":{"_id":"L-missing","title":"Loft"}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/guesty/acct-1", strings.NewReader(body))
	req.Header.Set("X-Guesty-Signature", signature.Sign([]byte(body), "hook-secret"))
	rr := httptest.NewRecorder()
	a.Handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp struct {
		Accepted bool   `json:"accepted"`
		EventID  string `json:"eventId"`
		RecordID string `json:"recordId"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Accepted)
	assert.Equal(t, "evt-app-1", resp.EventID)

	require.Eventually(t, func() bool {
		rec, err := a.Store.Get(ctx, resp.RecordID)
		return err == nil && rec.Status == models.StatusProcessed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNew_AdminRoutesRequireKey(t *testing.T) {
	a := newTestApp(t)

	rr := httptest.NewRecorder()
	a.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/admin/webhook/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/webhook/stats", nil)
	req.Header.Set("Authorization", "Bearer admin-key")
	rr = httptest.NewRecorder()
	a.Handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestNew_ReadyWithoutExternalDependencies(t *testing.T) {
	a := newTestApp(t)

	rr := httptest.NewRecorder()
	a.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestReload_AppliesAccountChanges(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	cfg := &config.Config{Accounts: []config.AccountConfig{
		{ID: "acct-1", Name: "Main", ClientID: "client-a", ClientSecret: "rotated"},
		{ID: "acct-2", Name: "Second", WebhookSecret: "other"},
	}}
	a.Reload(ctx, cfg)

	acct, err := a.Repo.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "rotated", acct.ClientSecret)
	assert.Equal(t, "hook-secret", acct.WebhookSecret, "empty webhook secret keeps the stored one")

	second, err := a.Repo.GetAccount(ctx, "acct-2")
	require.NoError(t, err)
	assert.Equal(t, "Second", second.Name)
}

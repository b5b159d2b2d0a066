package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/repository"
)

const fixtureYAML = `
accounts:
  - id: main
    name: Main Account
    client_id: cid
    client_secret: csecret
units:
  - id: unit-1
    name: Beach House
    external_ids:
      guesty_id: L1
listings:
  - unit_id: unit-1
    listing_id: L1
    title: Beach House
    min_stay: 2
`

func TestLoadAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixtureYAML), 0o600))

	f, err := Load(path)
	require.NoError(t, err)

	ctx := context.Background()
	repo := repository.NewInMemoryRepository()
	res, err := Apply(ctx, repo, f, nil)
	require.NoError(t, err)
	assert.Equal(t, Result{Accounts: 1, Units: 1, Listings: 1}, res)

	unit, err := repo.FindUnitByGuestyID(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, "unit-1", unit.ID)

	listing, err := repo.FindListingByExternalID(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, models.SourceGuesty, listing.OTA)
	require.NotNil(t, listing.MinStay)
	assert.Equal(t, 2, *listing.MinStay)

	acct, err := repo.GetAccount(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, "csecret", acct.ClientSecret)

	// Applying twice is idempotent.
	_, err = Apply(ctx, repo, f, nil)
	require.NoError(t, err)
}

func TestParse_Validation(t *testing.T) {
	tests := map[string]string{
		"unit without id":  "units:\n  - name: x\n",
		"listing w/o unit": "listings:\n  - listing_id: L1\n",
		"invalid yaml":     "accounts: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestSyncAccounts_KeepsSecretAndReportsRotation(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewInMemoryRepository()
	secret := gofakeit.LetterN(64)

	require.NoError(t, repo.UpsertAccount(ctx, &models.Account{ID: "main", ClientID: "cid", ClientSecret: "old"}))
	require.NoError(t, repo.SetWebhookSecret(ctx, "main", secret))

	rotated, err := SyncAccounts(ctx, repo, []models.Account{
		{ID: "main", ClientID: "cid", ClientSecret: "new"},
		{ID: "second", ClientID: "c2", ClientSecret: "s2"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, rotated)

	acct, err := repo.GetAccount(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, secret, acct.WebhookSecret)
	assert.Equal(t, "new", acct.ClientSecret)

	rotated, err = SyncAccounts(ctx, repo, []models.Account{{ID: "main", ClientID: "cid", ClientSecret: "new"}})
	require.NoError(t, err)
	assert.Empty(t, rotated)

	_, err = SyncAccounts(ctx, repo, []models.Account{{Name: "no id"}})
	assert.Error(t, err)
}

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
)

func seedUnit(t *testing.T, repo *InMemoryRepository, guestyID string) *models.Unit {
	t.Helper()
	unit := &models.Unit{Name: "Unit " + guestyID, ExternalIDs: map[string]string{models.ExternalIDGuesty: guestyID}}
	require.NoError(t, repo.UpsertUnit(context.Background(), unit))
	return unit
}

func TestInMemory_Accounts(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()

	_, err := repo.GetAccount(ctx, "acct")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.ErrorIs(t, repo.SaveToken(ctx, "acct", "t", time.Now()), ErrAccountNotFound)

	require.NoError(t, repo.UpsertAccount(ctx, &models.Account{ID: "acct", ClientID: "cid", ClientSecret: "cs"}))
	expiry := time.Now().Add(time.Hour).UTC()
	require.NoError(t, repo.SaveToken(ctx, "acct", "tok", expiry))

	// Re-upserting credentials keeps the persisted token.
	require.NoError(t, repo.UpsertAccount(ctx, &models.Account{ID: "acct", ClientID: "cid2", ClientSecret: "cs"}))
	got, err := repo.GetAccount(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, "cid2", got.ClientID)
	assert.Equal(t, "tok", got.AccessToken)
	assert.Equal(t, expiry, got.TokenExpiry)

	require.NoError(t, repo.SetWebhookSecret(ctx, "acct", "whsec"))
	got, err = repo.GetAccount(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, "whsec", got.WebhookSecret)

	all, err := repo.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestInMemory_FindUnitByGuestyID(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	unit := seedUnit(t, repo, "L1")

	got, err := repo.FindUnitByGuestyID(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, unit.ID, got.ID)

	_, err = repo.FindUnitByGuestyID(ctx, "L2")
	assert.ErrorIs(t, err, ErrUnitNotFound)
	_, err = repo.FindUnitByGuestyID(ctx, "")
	assert.ErrorIs(t, err, ErrUnitNotFound)
}

func TestInMemory_ReservationUpsertPreservesIdentity(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	unit := seedUnit(t, repo, "L1")

	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	res := &models.Reservation{
		UnitID: unit.ID, ExternalID: "res_1", Source: models.SourceGuesty, Status: "confirmed",
		Nights: 3, TotalPayout: decimal.NewFromInt(300), CreatedAtExt: created,
	}
	isNew, err := repo.UpsertReservation(ctx, res)
	require.NoError(t, err)
	assert.True(t, isNew)
	firstID := res.ID

	update := &models.Reservation{
		UnitID: unit.ID, ExternalID: "res_1", Source: "other", Status: "checked_in",
		Nights: 4, TotalPayout: decimal.NewFromInt(400), CreatedAtExt: created.Add(time.Hour),
	}
	isNew, err = repo.UpsertReservation(ctx, update)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, firstID, update.ID)

	got, err := repo.GetReservation(ctx, unit.ID, "res_1")
	require.NoError(t, err)
	assert.Equal(t, "checked_in", got.Status)
	assert.Equal(t, 4, got.Nights)
	assert.Equal(t, models.SourceGuesty, got.Source)
	assert.Equal(t, created, got.CreatedAtExt)

	_, err = repo.UpsertReservation(ctx, &models.Reservation{UnitID: "nope", ExternalID: "x"})
	assert.ErrorIs(t, err, ErrUnitNotFound)
}

func TestInMemory_CancelReservation(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	unit := seedUnit(t, repo, "L1")

	found, err := repo.CancelReservation(ctx, models.ReservationCancellation{UnitID: unit.ID, ExternalID: "missing"})
	require.NoError(t, err)
	assert.False(t, found)

	_, err = repo.UpsertReservation(ctx, &models.Reservation{UnitID: unit.ID, ExternalID: "res_1", Status: "confirmed"})
	require.NoError(t, err)

	found, err = repo.CancelReservation(ctx, models.ReservationCancellation{UnitID: unit.ID, ExternalID: "res_1", Reason: "no-show"})
	require.NoError(t, err)
	assert.True(t, found)

	got, err := repo.GetReservation(ctx, unit.ID, "res_1")
	require.NoError(t, err)
	assert.Equal(t, "cancelled", got.Status)
	assert.Equal(t, "no-show", got.CancellationReason)

	_, err = repo.UpsertReservation(ctx, &models.Reservation{UnitID: unit.ID, ExternalID: "res_1", Status: models.ReservationCancelled})
	require.NoError(t, err)
	got, err = repo.GetReservation(ctx, unit.ID, "res_1")
	require.NoError(t, err)
	assert.Equal(t, "no-show", got.CancellationReason, "a cancelled update keeps the reason")

	_, err = repo.UpsertReservation(ctx, &models.Reservation{UnitID: unit.ID, ExternalID: "res_1", Status: "confirmed"})
	require.NoError(t, err)
	got, err = repo.GetReservation(ctx, unit.ID, "res_1")
	require.NoError(t, err)
	assert.Equal(t, "confirmed", got.Status)
	assert.Empty(t, got.CancellationReason, "re-confirming clears the reason")
}

func TestInMemory_CalendarAndPricing(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	unit := seedUnit(t, repo, "L1")
	d1 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	days := []models.CalendarDay{
		{UnitID: unit.ID, Date: d1, Available: true},
		{UnitID: unit.ID, Date: d1.AddDate(0, 0, 1), Available: false, BlockedReason: "booked"},
	}
	require.NoError(t, repo.UpsertCalendarDays(ctx, days))
	require.NoError(t, repo.UpsertCalendarDays(ctx, days))

	got, err := repo.ListCalendarDays(ctx, unit.ID, d1, d1.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "booked", got[1].BlockedReason)

	assert.ErrorIs(t, repo.UpsertCalendarDays(ctx, []models.CalendarDay{{UnitID: "nope", Date: d1}}), ErrUnitNotFound)

	base := decimal.RequireFromString("150.00")
	require.NoError(t, repo.UpsertPricingSettings(ctx, &models.PricingSettings{UnitID: unit.ID, Source: models.SourceGuesty, BasePrice: &base}))
	p, err := repo.GetPricingSettings(ctx, unit.ID, models.SourceGuesty)
	require.NoError(t, err)
	assert.True(t, p.BasePrice.Equal(base))

	_, err = repo.GetPricingSettings(ctx, unit.ID, "pricelabs")
	assert.ErrorIs(t, err, ErrPricingNotFound)
}

func TestInMemory_Listings(t *testing.T) {
	ctx := context.Background()
	repo := NewInMemoryRepository()
	unit := seedUnit(t, repo, "L1")

	l := &models.Listing{UnitID: unit.ID, ListingID: "L1", Title: "Seeded"}
	require.NoError(t, repo.UpsertListing(ctx, l))
	require.NotEmpty(t, l.ID)
	assert.ErrorIs(t, repo.UpsertListing(ctx, &models.Listing{UnitID: "nope", ListingID: "L9"}), ErrUnitNotFound)

	found, err := repo.FindListingByExternalID(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, models.SourceGuesty, found.OTA)

	found.Title = "Updated"
	require.NoError(t, repo.UpdateListing(ctx, found))
	again, err := repo.FindListingByExternalID(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, "Updated", again.Title)

	_, err = repo.FindListingByExternalID(ctx, "L2")
	assert.ErrorIs(t, err, ErrListingNotFound)
	assert.ErrorIs(t, repo.UpdateListing(ctx, &models.Listing{ID: "missing"}), ErrListingNotFound)
}

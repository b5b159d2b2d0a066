package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/repository"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Processor, *repository.InMemoryRepository) {
	t.Helper()
	ctx := context.Background()
	repo := repository.NewInMemoryRepository()
	require.NoError(t, repo.UpsertUnit(ctx, &models.Unit{
		ID:          "U",
		Name:        "Beach House",
		ExternalIDs: map[string]string{models.ExternalIDGuesty: "L1"},
	}))
	proc := New(repo, nil).WithClock(func() time.Time { return fixedNow })
	return proc, repo
}

func event(t *testing.T, eventType string, data any) *models.EventRecord {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{"id": "evt-" + eventType, "type": eventType, "data": json.RawMessage(raw)})
	require.NoError(t, err)
	return &models.EventRecord{
		ID:         "rec-1",
		EventID:    "evt-" + eventType,
		EventType:  eventType,
		ReceivedAt: fixedNow,
		Payload:    body,
	}
}

func reservationData(id string, payout float64) map[string]any {
	return map[string]any{
		"_id":                   id,
		"listingId":             "L1",
		"status":                "confirmed",
		"checkInDateLocalized":  "2026-04-10",
		"checkOutDateLocalized": "2026-04-14",
		"guestsCount":           0,
		"createdAt":             "2026-03-01T08:00:00Z",
		"money": map[string]any{
			"hostPayout":     payout,
			"hostServiceFee": 30,
			"tax":            42,
			"cleaningFee":    80,
		},
	}
}

func TestProcess_ReservationCreatedDerivesFields(t *testing.T) {
	proc, repo := setup(t)
	ctx := context.Background()

	outcome, err := proc.Process(ctx, event(t, models.EventReservationCreated, reservationData("res_1", 1000)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)

	res, err := repo.GetReservation(ctx, "U", "res_1")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Nights)
	assert.Equal(t, 1, res.Guests)
	assert.True(t, decimal.NewFromInt(250).Equal(res.ADR), "adr %s", res.ADR)
	assert.True(t, decimal.NewFromInt(1000).Equal(res.TotalPayout))
	assert.Equal(t, 39, res.LeadTimeDays)
	assert.Equal(t, models.SourceGuesty, res.Source)
	assert.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), res.CreatedAtExt)
	assert.Equal(t, fixedNow, res.SourceUpdatedAt)
}

func TestProcess_ReservationIdempotent(t *testing.T) {
	proc, repo := setup(t)
	ctx := context.Background()

	var firstID string
	for i := 0; i < 5; i++ {
		_, err := proc.Process(ctx, event(t, models.EventReservationCreated, reservationData("res_7", 800)))
		require.NoError(t, err)
		res, err := repo.GetReservation(ctx, "U", "res_7")
		require.NoError(t, err)
		if i == 0 {
			firstID = res.ID
		}
		assert.Equal(t, firstID, res.ID)
	}

	_, err := proc.Process(ctx, event(t, models.EventReservationUpdated, reservationData("res_7", 1200)))
	require.NoError(t, err)

	res, err := repo.GetReservation(ctx, "U", "res_7")
	require.NoError(t, err)
	assert.Equal(t, firstID, res.ID)
	assert.True(t, decimal.NewFromInt(1200).Equal(res.TotalPayout))
	assert.True(t, decimal.NewFromInt(300).Equal(res.ADR))
}

func TestProcess_ReservationCancelledKeepsIdentity(t *testing.T) {
	proc, repo := setup(t)
	ctx := context.Background()

	_, err := proc.Process(ctx, event(t, models.EventReservationCreated, reservationData("res_42", 900)))
	require.NoError(t, err)
	before, err := repo.GetReservation(ctx, "U", "res_42")
	require.NoError(t, err)

	outcome, err := proc.Process(ctx, event(t, models.EventReservationCancelled, map[string]any{
		"_id":                "res_42",
		"listingId":          "L1",
		"cancellationReason": "guest request",
	}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, outcome)

	after, err := repo.GetReservation(ctx, "U", "res_42")
	require.NoError(t, err)
	assert.Equal(t, "cancelled", after.Status)
	assert.Equal(t, "guest request", after.CancellationReason)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.ExternalID, after.ExternalID)
	assert.Equal(t, before.Source, after.Source)
	assert.Equal(t, before.CreatedAtExt, after.CreatedAtExt)
	assert.Equal(t, before.CheckIn, after.CheckIn)
}

func TestProcess_CancellationOfUnknownReservationIsNoop(t *testing.T) {
	proc, _ := setup(t)

	outcome, err := proc.Process(context.Background(), event(t, models.EventReservationCancelled, map[string]any{
		"_id": "res_missing", "listingId": "L1",
	}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
}

func TestProcess_CalendarThreeDays(t *testing.T) {
	proc, repo := setup(t)
	ctx := context.Background()

	data := map[string]any{
		"listingId": "L1",
		"days": []map[string]any{
			{"date": "2026-05-01", "status": "available", "price": map[string]any{"base": 150, "minimum": 120}},
			{"date": "2026-05-02", "status": "booked"},
			{"date": "2026-05-03", "status": "blocked"},
		},
	}
	for i := 0; i < 2; i++ {
		_, err := proc.Process(ctx, event(t, models.EventCalendarUpdated, data))
		require.NoError(t, err)
	}

	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	days, err := repo.ListCalendarDays(ctx, "U", from, from.AddDate(0, 0, 10))
	require.NoError(t, err)
	require.Len(t, days, 3)

	assert.True(t, days[0].Available)
	assert.Empty(t, days[0].BlockedReason)
	require.NotNil(t, days[0].BasePrice)
	assert.True(t, decimal.NewFromInt(150).Equal(*days[0].BasePrice))
	assert.False(t, days[1].Available)
	assert.Equal(t, "booked", days[1].BlockedReason)
	assert.Equal(t, "blocked", days[2].BlockedReason)
	assert.Nil(t, days[2].BasePrice)
}

func TestProcess_ListingUpdate(t *testing.T) {
	proc, repo := setup(t)
	ctx := context.Background()

	_, err := proc.Process(ctx, event(t, models.EventListingUpdated, map[string]any{"_id": "L1", "title": "x"}))
	require.NoError(t, err, "missing listing must not fail")

	require.NoError(t, repo.UpsertListing(ctx, &models.Listing{UnitID: "U", ListingID: "L1", Title: "Old"}))

	outcome, err := proc.Process(ctx, event(t, models.EventListingUpdated, map[string]any{
		"_id":               "L1",
		"status":            "active",
		"title":             "Beach House Deluxe",
		"publicDescription": map[string]any{"summary": "Steps from the sand"},
		"amenities":         []string{"wifi", "pool"},
		"terms":             map[string]any{"minNights": 2, "maxNights": 30, "cancellation": "moderate"},
		"prices":            map[string]any{"cleaningFee": 95.5},
	}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)

	listing, err := repo.FindListingByExternalID(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, "Beach House Deluxe", listing.Title)
	assert.Equal(t, "Steps from the sand", listing.Description)
	assert.JSONEq(t, `["wifi","pool"]`, string(listing.Amenities))
	require.NotNil(t, listing.MinStay)
	assert.Equal(t, 2, *listing.MinStay)
	assert.Equal(t, "moderate", listing.CancellationPolicy)
	require.NotNil(t, listing.CleaningFee)
	assert.Equal(t, "95.5", listing.CleaningFee.String())
}

func TestProcess_ListingMissingIsSkipped(t *testing.T) {
	proc, _ := setup(t)
	outcome, err := proc.Process(context.Background(), event(t, models.EventListingUpdated, map[string]any{"_id": "L404"}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
}

func TestProcess_PricingUpsert(t *testing.T) {
	proc, repo := setup(t)
	ctx := context.Background()

	for _, base := range []int{100, 140} {
		_, err := proc.Process(ctx, event(t, models.EventPricingUpdated, map[string]any{
			"listingId": "L1", "basePrice": base, "minPrice": 90,
		}))
		require.NoError(t, err)
	}

	settings, err := repo.GetPricingSettings(ctx, "U", models.SourceGuesty)
	require.NoError(t, err)
	require.NotNil(t, settings.BasePrice)
	assert.True(t, decimal.NewFromInt(140).Equal(*settings.BasePrice))
}

func TestProcess_UnresolvedUnitIsSkipped(t *testing.T) {
	proc, repo := setup(t)
	ctx := context.Background()

	data := reservationData("res_9", 500)
	data["listingId"] = "L-unknown"
	outcome, err := proc.Process(ctx, event(t, models.EventReservationCreated, data))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)

	_, err = repo.GetReservation(ctx, "U", "res_9")
	assert.ErrorIs(t, err, repository.ErrReservationNotFound)
}

func TestProcess_UnknownTypeIgnored(t *testing.T) {
	proc, _ := setup(t)
	outcome, err := proc.Process(context.Background(), event(t, "guest.messaged", map[string]any{"x": 1}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
}

func TestProcess_InvalidPayloadFails(t *testing.T) {
	proc, _ := setup(t)

	tests := []struct {
		name string
		typ  string
		data map[string]any
	}{
		{"reservation without dates", models.EventReservationCreated, map[string]any{"_id": "r", "listingId": "L1"}},
		{"check-out before check-in", models.EventReservationCreated, map[string]any{
			"_id": "r", "listingId": "L1", "checkInDateLocalized": "2026-04-10", "checkOutDateLocalized": "2026-04-01",
		}},
		{"calendar bad date", models.EventCalendarUpdated, map[string]any{
			"listingId": "L1", "days": []map[string]any{{"date": "May 1"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := proc.Process(context.Background(), event(t, tt.typ, tt.data))
			require.Error(t, err)
			assert.ErrorIs(t, err, models.ErrProcessing)
		})
	}
}

func TestLeadTimeDays(t *testing.T) {
	checkIn := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		created time.Time
		want    int
	}{
		{checkIn.Add(-48 * time.Hour), 2},
		{checkIn.Add(-47 * time.Hour), 1},
		{checkIn.Add(6 * time.Hour), -1},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, leadTimeDays(tt.created, checkIn))
		})
	}
}

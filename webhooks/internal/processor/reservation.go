package processor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/synergy-rentals/srg-stack/common/logging"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
)

const day = 24 * time.Hour

func (p *Processor) applyReservation(ctx context.Context, logger *slog.Logger, rec *models.EventRecord, pl *models.ReservationPayload) (Outcome, error) {
	unit, err := p.resolveUnit(ctx, logger, pl.ListingID)
	if err != nil || unit == nil {
		return OutcomeSkipped, err
	}

	res, err := buildReservation(unit.ID, pl, rec.ReceivedAt)
	if err != nil {
		return "", err
	}
	res.SourceUpdatedAt = p.now().UTC()

	created, err := p.repo.UpsertReservation(ctx, res)
	if err != nil {
		return "", fmt.Errorf("upsert reservation %s: %w", pl.ID, err)
	}

	outcome := OutcomeUpdated
	if created {
		outcome = OutcomeCreated
	}
	logger.InfoContext(ctx, "reservation synced",
		logging.UnitID(unit.ID),
		slog.String("reservation_id", pl.ID),
		slog.String("outcome", string(outcome)),
	)
	return outcome, nil
}

// buildReservation derives the stored reservation from a payload. receivedAt
// stands in for the creation time when Guesty omits it.
func buildReservation(unitID string, pl *models.ReservationPayload, receivedAt time.Time) (*models.Reservation, error) {
	checkIn, err := models.ParseDate(pl.CheckInDateLocalized)
	if err != nil {
		return nil, err
	}
	checkOut, err := models.ParseDate(pl.CheckOutDateLocalized)
	if err != nil {
		return nil, err
	}
	if checkOut.Before(checkIn) {
		return nil, fmt.Errorf("%w: check-out %s before check-in %s",
			models.ErrMalformedPayload, pl.CheckOutDateLocalized, pl.CheckInDateLocalized)
	}
	nights := int(checkOut.Sub(checkIn) / day)

	guests := pl.GuestsCount
	if guests <= 0 {
		guests = 1
	}

	var money models.ReservationMoney
	if pl.Money != nil {
		money = *pl.Money
	}
	adr := decimal.Zero
	if nights > 0 {
		adr = money.HostPayout.Div(decimal.NewFromInt(int64(nights))).Round(2)
	}

	createdAt := receivedAt.UTC()
	if pl.CreatedAt != nil {
		createdAt = pl.CreatedAt.UTC()
	}

	return &models.Reservation{
		UnitID:       unitID,
		ExternalID:   pl.ID,
		Source:       models.SourceGuesty,
		Status:       pl.Status,
		CheckIn:      checkIn,
		CheckOut:     checkOut,
		Nights:       nights,
		Guests:       guests,
		ADR:          adr,
		TotalPayout:  money.HostPayout,
		HostFee:      money.HostServiceFee,
		Taxes:        money.Tax,
		CleaningFee:  money.CleaningFee,
		LeadTimeDays: leadTimeDays(createdAt, checkIn),
		CreatedAtExt: createdAt,
		UpdatedAtExt: pl.LastUpdatedAt,
	}, nil
}

// leadTimeDays is the floor of whole days from booking to check-in.
func leadTimeDays(createdAt, checkIn time.Time) int {
	return int(math.Floor(checkIn.Sub(createdAt).Hours() / 24))
}

func (p *Processor) applyCancellation(ctx context.Context, logger *slog.Logger, pl *models.CancellationPayload) (Outcome, error) {
	unit, err := p.resolveUnit(ctx, logger, pl.ListingID)
	if err != nil || unit == nil {
		return OutcomeSkipped, err
	}

	found, err := p.repo.CancelReservation(ctx, models.ReservationCancellation{
		UnitID:          unit.ID,
		ExternalID:      pl.ID,
		Reason:          pl.CancellationReason,
		SourceUpdatedAt: p.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("cancel reservation %s: %w", pl.ID, err)
	}
	if !found {
		logger.WarnContext(ctx, "cancellation for unknown reservation, skipping",
			logging.UnitID(unit.ID), slog.String("reservation_id", pl.ID))
		return OutcomeSkipped, nil
	}

	logger.InfoContext(ctx, "reservation cancelled", logging.UnitID(unit.ID), slog.String("reservation_id", pl.ID))
	return OutcomeCancelled, nil
}

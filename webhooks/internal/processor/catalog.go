package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/synergy-rentals/srg-stack/common/logging"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/repository"
)

const statusAvailable = "available"

// applyListing updates an existing listing in place. Listings are created by
// seeding; an event for an unknown listing is skipped.
func (p *Processor) applyListing(ctx context.Context, logger *slog.Logger, pl *models.ListingPayload) (Outcome, error) {
	listing, err := p.repo.FindListingByExternalID(ctx, pl.ID)
	if errors.Is(err, repository.ErrListingNotFound) {
		logger.WarnContext(ctx, "listing not bootstrapped yet, skipping update", slog.String("listing_id", pl.ID))
		return OutcomeSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("find listing %s: %w", pl.ID, err)
	}

	if pl.Platform != "" {
		listing.OTA = pl.Platform
	}
	listing.Status = pl.Status
	listing.Title = pl.Title
	if pl.PublicDescription != nil {
		listing.Description = pl.PublicDescription.Summary
	}
	if len(pl.Amenities) > 0 {
		listing.Amenities = pl.Amenities
	}
	if len(pl.Pictures) > 0 {
		listing.Photos = pl.Pictures
	}
	if pl.Terms != nil {
		listing.MinStay = pl.Terms.MinNights
		listing.MaxStay = pl.Terms.MaxNights
		listing.CancellationPolicy = pl.Terms.Cancellation
	}
	if pl.Prices != nil {
		listing.CleaningFee = pl.Prices.CleaningFee
	}
	if len(pl.Taxes) > 0 {
		listing.TaxProfile = pl.Taxes
	}
	listing.SourceUpdatedAt = p.now().UTC()

	if err := p.repo.UpdateListing(ctx, listing); err != nil {
		return "", fmt.Errorf("update listing %s: %w", pl.ID, err)
	}
	logger.InfoContext(ctx, "listing updated", logging.UnitID(listing.UnitID), slog.String("listing_id", pl.ID))
	return OutcomeUpdated, nil
}

func (p *Processor) applyCalendar(ctx context.Context, logger *slog.Logger, pl *models.CalendarPayload) (Outcome, error) {
	unit, err := p.resolveUnit(ctx, logger, pl.ListingID)
	if err != nil || unit == nil {
		return OutcomeSkipped, err
	}
	if len(pl.Days) == 0 {
		return OutcomeSkipped, nil
	}

	now := p.now().UTC()
	// Later entries for the same date win, so a payload with repeated dates
	// still writes one row per date.
	byDate := make(map[string]int, len(pl.Days))
	days := make([]models.CalendarDay, 0, len(pl.Days))
	for _, d := range pl.Days {
		date, err := models.ParseDate(d.Date)
		if err != nil {
			return "", err
		}
		row := models.CalendarDay{
			UnitID:          unit.ID,
			Date:            date,
			Available:       d.Status == statusAvailable,
			Source:          models.SourceGuesty,
			SourceUpdatedAt: now,
		}
		if !row.Available {
			row.BlockedReason = d.Status
		}
		if d.Price != nil {
			row.MinPrice = d.Price.Minimum
			row.MaxPrice = d.Price.Maximum
			row.BasePrice = d.Price.Base
		}

		if i, ok := byDate[d.Date]; ok {
			days[i] = row
			continue
		}
		byDate[d.Date] = len(days)
		days = append(days, row)
	}

	if err := p.repo.UpsertCalendarDays(ctx, days); err != nil {
		return "", fmt.Errorf("upsert %d calendar days: %w", len(days), err)
	}
	logger.InfoContext(ctx, "calendar synced", logging.UnitID(unit.ID), slog.Int("days", len(days)))
	return OutcomeUpdated, nil
}

func (p *Processor) applyPricing(ctx context.Context, logger *slog.Logger, pl *models.PricingPayload) (Outcome, error) {
	unit, err := p.resolveUnit(ctx, logger, pl.ListingID)
	if err != nil || unit == nil {
		return OutcomeSkipped, err
	}

	settings := &models.PricingSettings{
		UnitID:          unit.ID,
		Source:          models.SourceGuesty,
		BasePrice:       pl.BasePrice,
		MinPrice:        pl.MinPrice,
		MaxPrice:        pl.MaxPrice,
		Discounts:       pl.Discounts,
		Overrides:       pl.Overrides,
		SourceUpdatedAt: p.now().UTC(),
	}
	if err := p.repo.UpsertPricingSettings(ctx, settings); err != nil {
		return "", fmt.Errorf("upsert pricing settings: %w", err)
	}
	logger.InfoContext(ctx, "pricing settings synced", logging.UnitID(unit.ID))
	return OutcomeUpdated, nil
}

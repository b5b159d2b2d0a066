// Package processor maps admitted Guesty events onto idempotent writes
// against units, listings, reservations, calendar days and pricing.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/synergy-rentals/srg-stack/common/logging"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/metrics"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/repository"
)

// Outcome describes what processing did with an event.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeIgnored   Outcome = "ignored"
)

type Processor struct {
	repo   repository.Repository
	now    func() time.Time
	logger *slog.Logger
}

func New(repo repository.Repository, logger *slog.Logger) *Processor {
	return &Processor{
		repo:   repo,
		now:    time.Now,
		logger: logging.OrDiscard(logger),
	}
}

// WithClock overrides the time stamped as source_updated_at.
func (p *Processor) WithClock(now func() time.Time) *Processor {
	p.now = now
	return p
}

// Process decodes rec's payload and applies it. Every returned error wraps
// models.ErrProcessing.
func (p *Processor) Process(ctx context.Context, rec *models.EventRecord) (Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.ProcessingDuration.WithLabelValues(rec.EventType).Observe(time.Since(start).Seconds())
	}()

	env, err := models.ParseEnvelope(rec.Payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrProcessing, err)
	}
	payload, err := env.DecodePayload()
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrProcessing, err)
	}

	logger := p.logger.With(logging.EventID(rec.EventID), logging.EventType(env.Type), logging.RecordID(rec.ID))

	var outcome Outcome
	switch pl := payload.(type) {
	case *models.ReservationPayload:
		outcome, err = p.applyReservation(ctx, logger, rec, pl)
	case *models.CancellationPayload:
		outcome, err = p.applyCancellation(ctx, logger, pl)
	case *models.ListingPayload:
		outcome, err = p.applyListing(ctx, logger, pl)
	case *models.CalendarPayload:
		outcome, err = p.applyCalendar(ctx, logger, pl)
	case *models.PricingPayload:
		outcome, err = p.applyPricing(ctx, logger, pl)
	default:
		logger.InfoContext(ctx, "ignoring unhandled webhook event type")
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", models.ErrProcessing, env.Type, err)
	}
	return outcome, nil
}

// resolveUnit returns nil without error when no unit is linked to the
// Guesty listing.
func (p *Processor) resolveUnit(ctx context.Context, logger *slog.Logger, listingID string) (*models.Unit, error) {
	unit, err := p.repo.FindUnitByGuestyID(ctx, listingID)
	if errors.Is(err, repository.ErrUnitNotFound) {
		logger.WarnContext(ctx, "no unit linked to guesty listing, skipping", slog.String("listing_id", listingID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve unit for listing %s: %w", listingID, err)
	}
	return unit, nil
}

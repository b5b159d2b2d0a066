// Package eventstore records every inbound webhook delivery. The store is the
// audit log, the substrate for replay detection and the source of statistics.
package eventstore

import (
	"context"
	"errors"
	"time"

	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
)

var (
	ErrNotFound          = errors.New("event record not found")
	ErrRecordExists      = errors.New("event record already exists")
	ErrInvalidTransition = errors.New("invalid event status transition")
)

// Store persists inbound event records. Creation is append-only and status
// only moves forward: received to processed or failed.
type Store interface {
	Create(ctx context.Context, rec *models.EventRecord) error
	UpdateStatus(ctx context.Context, id string, status models.EventStatus, errMsg string) error
	Get(ctx context.Context, id string) (*models.EventRecord, error)

	// FindByEventID returns the most recently received admitted record for
	// eventID. Rejected deliveries are ignored.
	FindByEventID(ctx context.Context, eventID string) (*models.EventRecord, error)

	// Stats aggregates all records; RecentEvents counts those received at or
	// after since.
	Stats(ctx context.Context, since time.Time) (*models.EventStats, error)

	ListByStatus(ctx context.Context, status models.EventStatus, limit int) ([]*models.EventRecord, error)

	// Prune deletes records received before cutoff and returns the count.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

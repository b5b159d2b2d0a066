// Package replay rejects event ids that were already admitted within a
// trailing window.
package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/synergy-rentals/srg-stack/webhooks/internal/eventstore"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
)

// DefaultWindow is the trailing duplicate-detection window.
const DefaultWindow = 5 * time.Minute

// Finder is the subset of eventstore.Store the guard reads.
type Finder interface {
	FindByEventID(ctx context.Context, eventID string) (*models.EventRecord, error)
}

// Guard checks event ids against prior admitted records.
type Guard struct {
	finder Finder
	window time.Duration
	now    func() time.Time
}

// NewGuard returns a Guard with the given window; a non-positive window
// selects DefaultWindow.
func NewGuard(finder Finder, window time.Duration) *Guard {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Guard{finder: finder, window: window, now: time.Now}
}

// WithClock overrides the guard's time source.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Window returns the configured window.
func (g *Guard) Window() time.Duration {
	return g.window
}

// Check returns models.ErrDuplicate when eventID was admitted less than the
// window ago. Ids seen longer ago are fresh. Lookup failures are returned
// unchanged so callers can fail closed.
func (g *Guard) Check(ctx context.Context, eventID string) error {
	prior, err := g.finder.FindByEventID(ctx, eventID)
	if errors.Is(err, eventstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("replay lookup: %w", err)
	}

	age := g.now().Sub(prior.ReceivedAt)
	if age < g.window {
		return fmt.Errorf("%w: %s first received %s ago", models.ErrDuplicate, eventID, age.Truncate(time.Second))
	}
	return nil
}

// Package repository is the persistence contract for accounts and the domain
// entities written by webhook processing.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrUnitNotFound        = errors.New("unit not found")
	ErrListingNotFound     = errors.New("listing not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrPricingNotFound     = errors.New("pricing settings not found")
)

// AccountRepository stores Guesty account credentials.
type AccountRepository interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]*models.Account, error)

	// UpsertAccount writes identity and credential fields. Persisted tokens
	// are left untouched.
	UpsertAccount(ctx context.Context, account *models.Account) error
	SaveToken(ctx context.Context, accountID, token string, expiry time.Time) error
	SetWebhookSecret(ctx context.Context, accountID, secret string) error
}

// Repository is the set of upsert targets owned by the event processor.
// Every write is atomic per key.
type Repository interface {
	AccountRepository

	// Units
	UpsertUnit(ctx context.Context, unit *models.Unit) error
	FindUnitByGuestyID(ctx context.Context, guestyID string) (*models.Unit, error)

	// Listings
	UpsertListing(ctx context.Context, listing *models.Listing) error
	FindListingByExternalID(ctx context.Context, listingID string) (*models.Listing, error)
	UpdateListing(ctx context.Context, listing *models.Listing) error

	// Reservations. UpsertReservation reports whether a new row was created;
	// on update the immutable identity fields are preserved.
	UpsertReservation(ctx context.Context, res *models.Reservation) (bool, error)
	GetReservation(ctx context.Context, unitID, externalID string) (*models.Reservation, error)
	CancelReservation(ctx context.Context, c models.ReservationCancellation) (bool, error)

	// Calendar
	UpsertCalendarDays(ctx context.Context, days []models.CalendarDay) error
	ListCalendarDays(ctx context.Context, unitID string, from, to time.Time) ([]models.CalendarDay, error)

	// Pricing
	UpsertPricingSettings(ctx context.Context, p *models.PricingSettings) error
	GetPricingSettings(ctx context.Context, unitID, source string) (*models.PricingSettings, error)
}

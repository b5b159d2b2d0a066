package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// SourceGuesty tags rows written from Guesty data.
const SourceGuesty = "guesty"

// ExternalIDGuesty is the Unit.ExternalIDs key holding the Guesty listing id.
const ExternalIDGuesty = "guesty_id"

// Unit is a rental unit. Units are bootstrapped outside the webhook path.
type Unit struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	ExternalIDs map[string]string `json:"external_ids" yaml:"external_ids"`
	CreatedAt   time.Time         `json:"created_at" yaml:"-"`
}

// GuestyID returns the Guesty listing id the unit is linked to.
func (u *Unit) GuestyID() string {
	return u.ExternalIDs[ExternalIDGuesty]
}

// Listing is the marketing and policy snapshot of a unit on a platform,
// keyed by (UnitID, ListingID).
type Listing struct {
	ID                 string           `json:"id" yaml:"id"`
	UnitID             string           `json:"unit_id" yaml:"unit_id"`
	OTA                string           `json:"ota" yaml:"ota"`
	ListingID          string           `json:"listing_id" yaml:"listing_id"`
	Status             string           `json:"status,omitempty" yaml:"status"`
	Title              string           `json:"title,omitempty" yaml:"title"`
	Description        string           `json:"description,omitempty" yaml:"description"`
	Amenities          json.RawMessage  `json:"amenities,omitempty" yaml:"-"`
	Photos             json.RawMessage  `json:"photos,omitempty" yaml:"-"`
	MinStay            *int             `json:"min_stay,omitempty" yaml:"min_stay"`
	MaxStay            *int             `json:"max_stay,omitempty" yaml:"max_stay"`
	CleaningFee        *decimal.Decimal `json:"cleaning_fee,omitempty" yaml:"-"`
	TaxProfile         json.RawMessage  `json:"tax_profile,omitempty" yaml:"-"`
	CancellationPolicy string           `json:"cancellation_policy,omitempty" yaml:"cancellation_policy"`
	SourceUpdatedAt    time.Time        `json:"source_updated_at" yaml:"-"`
}

// ReservationCancelled is the status set by a cancellation. A reservation in
// any other status carries no cancellation reason.
const ReservationCancelled = "cancelled"

// Reservation is keyed by (UnitID, ExternalID). ExternalID, Source and
// CreatedAtExt are set once on creation.
type Reservation struct {
	ID                 string          `json:"id"`
	UnitID             string          `json:"unit_id"`
	ExternalID         string          `json:"external_id"`
	Source             string          `json:"source"`
	Status             string          `json:"status"`
	CheckIn            time.Time       `json:"check_in"`
	CheckOut           time.Time       `json:"check_out"`
	Nights             int             `json:"nights"`
	Guests             int             `json:"guests"`
	ADR                decimal.Decimal `json:"adr"`
	TotalPayout        decimal.Decimal `json:"total_payout"`
	HostFee            decimal.Decimal `json:"host_fee"`
	Taxes              decimal.Decimal `json:"taxes"`
	CleaningFee        decimal.Decimal `json:"cleaning_fee"`
	LeadTimeDays       int             `json:"lead_time_days"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	CreatedAtExt       time.Time       `json:"created_at_ext"`
	UpdatedAtExt       *time.Time      `json:"updated_at_ext,omitempty"`
	SourceUpdatedAt    time.Time       `json:"source_updated_at"`
}

// ReservationCancellation is the partial update applied by a cancellation.
type ReservationCancellation struct {
	UnitID          string
	ExternalID      string
	Reason          string
	SourceUpdatedAt time.Time
}

// CalendarDay is one day of availability for a unit, keyed by (UnitID, Date).
type CalendarDay struct {
	UnitID          string           `json:"unit_id"`
	Date            time.Time        `json:"date"`
	Available       bool             `json:"available"`
	MinPrice        *decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice        *decimal.Decimal `json:"max_price,omitempty"`
	BasePrice       *decimal.Decimal `json:"base_price,omitempty"`
	BlockedReason   string           `json:"blocked_reason,omitempty"`
	Source          string           `json:"source"`
	SourceUpdatedAt time.Time        `json:"source_updated_at"`
}

// PricingSettings is the latest pricing snapshot per (UnitID, Source).
type PricingSettings struct {
	UnitID          string           `json:"unit_id"`
	Source          string           `json:"source"`
	BasePrice       *decimal.Decimal `json:"base_price,omitempty"`
	MinPrice        *decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice        *decimal.Decimal `json:"max_price,omitempty"`
	Discounts       json.RawMessage  `json:"discounts,omitempty"`
	Overrides       json.RawMessage  `json:"overrides,omitempty"`
	SourceUpdatedAt time.Time        `json:"source_updated_at"`
}

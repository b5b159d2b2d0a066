package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Guesty webhook event types.
const (
	EventReservationCreated   = "reservation.created"
	EventReservationUpdated   = "reservation.updated"
	EventReservationCancelled = "reservation.cancelled"
	EventListingUpdated       = "listing.updated"
	EventCalendarUpdated      = "calendar.updated"
	EventPricingUpdated       = "pricing.updated"
)

// DateLayout is the layout of Guesty's localized dates.
const DateLayout = "2006-01-02"

var validate = validator.New()

// Envelope is the outer shape of every Guesty delivery.
type Envelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ParseEnvelope decodes the outer envelope. The body must be a JSON object.
func ParseEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &env, nil
}

// Payload is the tagged union of typed event payloads.
type Payload interface {
	EventType() string
}

// ReservationPayload is carried by reservation.created and reservation.updated.
type ReservationPayload struct {
	Type                  string            `json:"-"`
	ID                    string            `json:"_id" validate:"required"`
	ListingID             string            `json:"listingId" validate:"required"`
	Status                string            `json:"status"`
	CheckInDateLocalized  string            `json:"checkInDateLocalized" validate:"required,datetime=2006-01-02"`
	CheckOutDateLocalized string            `json:"checkOutDateLocalized" validate:"required,datetime=2006-01-02"`
	NightsCount           int               `json:"nightsCount" validate:"gte=0"`
	GuestsCount           int               `json:"guestsCount" validate:"gte=0"`
	Money                 *ReservationMoney `json:"money"`
	CreatedAt             *time.Time        `json:"createdAt"`
	LastUpdatedAt         *time.Time        `json:"lastUpdatedAt"`
}

func (p *ReservationPayload) EventType() string { return p.Type }

// ReservationMoney holds the financial breakdown. Absent values are zero.
type ReservationMoney struct {
	HostPayout     decimal.Decimal `json:"hostPayout"`
	HostServiceFee decimal.Decimal `json:"hostServiceFee"`
	Tax            decimal.Decimal `json:"tax"`
	CleaningFee    decimal.Decimal `json:"cleaningFee"`
}

// CancellationPayload is carried by reservation.cancelled.
type CancellationPayload struct {
	ID                 string `json:"_id" validate:"required"`
	ListingID          string `json:"listingId" validate:"required"`
	CancellationReason string `json:"cancellationReason"`
}

func (p *CancellationPayload) EventType() string { return EventReservationCancelled }

// ListingPayload is carried by listing.updated.
type ListingPayload struct {
	ID                string          `json:"_id" validate:"required"`
	Platform          string          `json:"platform"`
	Status            string          `json:"status"`
	Title             string          `json:"title"`
	PublicDescription *struct {
		Summary string `json:"summary"`
	} `json:"publicDescription"`
	Amenities json.RawMessage `json:"amenities"`
	Pictures  json.RawMessage `json:"pictures"`
	Terms     *struct {
		MinNights    *int   `json:"minNights" validate:"omitempty,gte=0"`
		MaxNights    *int   `json:"maxNights" validate:"omitempty,gte=0"`
		Cancellation string `json:"cancellation"`
	} `json:"terms"`
	Prices *struct {
		CleaningFee *decimal.Decimal `json:"cleaningFee"`
	} `json:"prices"`
	Taxes json.RawMessage `json:"taxes"`
}

func (p *ListingPayload) EventType() string { return EventListingUpdated }

// CalendarPayload is carried by calendar.updated.
type CalendarPayload struct {
	ListingID string               `json:"listingId" validate:"required"`
	Days      []CalendarDayPayload `json:"days" validate:"dive"`
}

func (p *CalendarPayload) EventType() string { return EventCalendarUpdated }

// CalendarDayPayload is one entry of CalendarPayload.Days.
type CalendarDayPayload struct {
	Date   string `json:"date" validate:"required,datetime=2006-01-02"`
	Status string `json:"status"`
	Price  *struct {
		Minimum *decimal.Decimal `json:"minimum"`
		Maximum *decimal.Decimal `json:"maximum"`
		Base    *decimal.Decimal `json:"base"`
	} `json:"price"`
}

// PricingPayload is carried by pricing.updated.
type PricingPayload struct {
	ListingID string           `json:"listingId" validate:"required"`
	BasePrice *decimal.Decimal `json:"basePrice"`
	MinPrice  *decimal.Decimal `json:"minPrice"`
	MaxPrice  *decimal.Decimal `json:"maxPrice"`
	Discounts json.RawMessage  `json:"discounts"`
	Overrides json.RawMessage  `json:"overrides"`
}

func (p *PricingPayload) EventType() string { return EventPricingUpdated }

// UnknownPayload is returned for event types the processor does not model.
type UnknownPayload struct {
	Type string
}

func (p *UnknownPayload) EventType() string { return p.Type }

// DecodePayload decodes and validates the envelope's data for its type.
func (e *Envelope) DecodePayload() (Payload, error) {
	var p Payload
	switch e.Type {
	case EventReservationCreated, EventReservationUpdated:
		p = &ReservationPayload{Type: e.Type}
	case EventReservationCancelled:
		p = &CancellationPayload{}
	case EventListingUpdated:
		p = &ListingPayload{}
	case EventCalendarUpdated:
		p = &CalendarPayload{}
	case EventPricingUpdated:
		p = &PricingPayload{}
	default:
		return &UnknownPayload{Type: e.Type}, nil
	}

	if len(e.Data) == 0 || string(e.Data) == "null" {
		return nil, fmt.Errorf("%w: %s event has no data", ErrMalformedPayload, e.Type)
	}
	if err := json.Unmarshal(e.Data, p); err != nil {
		return nil, fmt.Errorf("%w: decode %s data: %v", ErrMalformedPayload, e.Type, err)
	}
	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("%w: %s data: %v", ErrMalformedPayload, e.Type, err)
	}
	return p, nil
}

// ParseDate parses a Guesty localized date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

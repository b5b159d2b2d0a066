package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
)

type reservationKey struct{ unitID, externalID string }

type calendarKey struct {
	unitID string
	date   string
}

type pricingKey struct{ unitID, source string }

// InMemoryRepository implements Repository with maps guarded by one mutex.
type InMemoryRepository struct {
	mu           sync.RWMutex
	accounts     map[string]*models.Account
	units        map[string]*models.Unit
	listings     map[string]*models.Listing
	reservations map[reservationKey]*models.Reservation
	calendar     map[calendarKey]models.CalendarDay
	pricing      map[pricingKey]*models.PricingSettings
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		accounts:     make(map[string]*models.Account),
		units:        make(map[string]*models.Unit),
		listings:     make(map[string]*models.Listing),
		reservations: make(map[reservationKey]*models.Reservation),
		calendar:     make(map[calendarKey]models.CalendarDay),
		pricing:      make(map[pricingKey]*models.PricingSettings),
	}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (r *InMemoryRepository) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	acct, ok := r.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

func (r *InMemoryRepository) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Account, 0, len(r.accounts))
	for _, acct := range r.accounts {
		cp := *acct
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *InMemoryRepository) UpsertAccount(ctx context.Context, account *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	next := *account
	if existing, ok := r.accounts[account.ID]; ok {
		next.AccessToken = existing.AccessToken
		next.TokenExpiry = existing.TokenExpiry
		next.CreatedAt = existing.CreatedAt
	} else {
		next.AccessToken = ""
		next.TokenExpiry = time.Time{}
		next.CreatedAt = now
	}
	next.UpdatedAt = now
	r.accounts[account.ID] = &next
	return nil
}

func (r *InMemoryRepository) SaveToken(ctx context.Context, accountID, token string, expiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	acct, ok := r.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	next := *acct
	next.AccessToken = token
	next.TokenExpiry = expiry
	next.UpdatedAt = time.Now().UTC()
	r.accounts[accountID] = &next
	return nil
}

func (r *InMemoryRepository) SetWebhookSecret(ctx context.Context, accountID, secret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	acct, ok := r.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	next := *acct
	next.WebhookSecret = secret
	next.UpdatedAt = time.Now().UTC()
	r.accounts[accountID] = &next
	return nil
}

// =============================================================================
// UNITS & LISTINGS
// =============================================================================

func (r *InMemoryRepository) UpsertUnit(ctx context.Context, unit *models.Unit) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := *unit
	if next.ID == "" {
		next.ID = uuid.NewString()
		unit.ID = next.ID
	}
	if existing, ok := r.units[next.ID]; ok {
		next.CreatedAt = existing.CreatedAt
	} else if next.CreatedAt.IsZero() {
		next.CreatedAt = time.Now().UTC()
	}
	next.ExternalIDs = copyMap(unit.ExternalIDs)
	r.units[next.ID] = &next
	return nil
}

func (r *InMemoryRepository) FindUnitByGuestyID(ctx context.Context, guestyID string) (*models.Unit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, unit := range r.units {
		if guestyID != "" && unit.GuestyID() == guestyID {
			cp := *unit
			cp.ExternalIDs = copyMap(unit.ExternalIDs)
			return &cp, nil
		}
	}
	return nil, ErrUnitNotFound
}

func (r *InMemoryRepository) UpsertListing(ctx context.Context, listing *models.Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.units[listing.UnitID]; !ok {
		return ErrUnitNotFound
	}
	for id, existing := range r.listings {
		if existing.UnitID == listing.UnitID && existing.ListingID == listing.ListingID {
			next := *listing
			next.ID = id
			listing.ID = id
			r.listings[id] = &next
			return nil
		}
	}
	next := *listing
	if next.ID == "" {
		next.ID = uuid.NewString()
		listing.ID = next.ID
	}
	if next.OTA == "" {
		next.OTA = models.SourceGuesty
	}
	r.listings[next.ID] = &next
	return nil
}

func (r *InMemoryRepository) FindListingByExternalID(ctx context.Context, listingID string) (*models.Listing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, l := range r.listings {
		if l.ListingID == listingID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, ErrListingNotFound
}

func (r *InMemoryRepository) UpdateListing(ctx context.Context, listing *models.Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.listings[listing.ID]; !ok {
		return ErrListingNotFound
	}
	next := *listing
	r.listings[listing.ID] = &next
	return nil
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func (r *InMemoryRepository) UpsertReservation(ctx context.Context, res *models.Reservation) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.units[res.UnitID]; !ok {
		return false, ErrUnitNotFound
	}

	key := reservationKey{res.UnitID, res.ExternalID}
	next := *res
	existing, ok := r.reservations[key]
	if ok {
		next.ID = existing.ID
		next.ExternalID = existing.ExternalID
		next.Source = existing.Source
		next.CreatedAtExt = existing.CreatedAtExt
		if next.CancellationReason == "" {
			next.CancellationReason = existing.CancellationReason
		}
	} else if next.ID == "" {
		next.ID = uuid.NewString()
	}
	if next.Status != models.ReservationCancelled {
		next.CancellationReason = ""
	}
	res.ID = next.ID
	r.reservations[key] = &next
	return !ok, nil
}

func (r *InMemoryRepository) GetReservation(ctx context.Context, unitID, externalID string) (*models.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.reservations[reservationKey{unitID, externalID}]
	if !ok {
		return nil, ErrReservationNotFound
	}
	cp := *res
	return &cp, nil
}

func (r *InMemoryRepository) CancelReservation(ctx context.Context, c models.ReservationCancellation) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := reservationKey{c.UnitID, c.ExternalID}
	res, ok := r.reservations[key]
	if !ok {
		return false, nil
	}
	next := *res
	next.Status = models.ReservationCancelled
	next.CancellationReason = c.Reason
	next.SourceUpdatedAt = c.SourceUpdatedAt
	r.reservations[key] = &next
	return true, nil
}

// =============================================================================
// CALENDAR & PRICING
// =============================================================================

func (r *InMemoryRepository) UpsertCalendarDays(ctx context.Context, days []models.CalendarDay) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, day := range days {
		if _, ok := r.units[day.UnitID]; !ok {
			return ErrUnitNotFound
		}
	}
	for _, day := range days {
		r.calendar[calendarKey{day.UnitID, day.Date.Format(models.DateLayout)}] = day
	}
	return nil
}

func (r *InMemoryRepository) ListCalendarDays(ctx context.Context, unitID string, from, to time.Time) ([]models.CalendarDay, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.CalendarDay
	for key, day := range r.calendar {
		if key.unitID != unitID || day.Date.Before(from) || day.Date.After(to) {
			continue
		}
		out = append(out, day)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (r *InMemoryRepository) UpsertPricingSettings(ctx context.Context, p *models.PricingSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.units[p.UnitID]; !ok {
		return ErrUnitNotFound
	}
	next := *p
	r.pricing[pricingKey{p.UnitID, p.Source}] = &next
	return nil
}

func (r *InMemoryRepository) GetPricingSettings(ctx context.Context, unitID, source string) (*models.PricingSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pricing[pricingKey{unitID, source}]
	if !ok {
		return nil, ErrPricingNotFound
	}
	cp := *p
	return &cp, nil
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

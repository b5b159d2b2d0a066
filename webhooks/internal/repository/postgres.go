package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/synergy-rentals/srg-stack/common/database"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/secrets"
)

// PostgresRepository implements Repository on PostgreSQL. Account secrets
// and tokens are sealed with the configured Sealer.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	sealer *secrets.Sealer
}

func NewPostgresRepository(pool *pgxpool.Pool, sealer *secrets.Sealer) *PostgresRepository {
	return &PostgresRepository{pool: pool, sealer: sealer}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

const accountColumns = `id, name, client_id, client_secret, webhook_secret, access_token, token_expiry, created_at, updated_at`

func (r *PostgresRepository) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return r.scanAccount(row)
}

func (r *PostgresRepository) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []*models.Account
	for rows.Next() {
		acct, err := r.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) UpsertAccount(ctx context.Context, account *models.Account) error {
	clientSecret, err := r.sealer.Seal(account.ClientSecret)
	if err != nil {
		return err
	}
	webhookSecret, err := r.sealer.Seal(account.WebhookSecret)
	if err != nil {
		return err
	}

	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	_, err = r.pool.Exec(ctx, `
		INSERT INTO accounts (id, name, client_id, client_secret, webhook_secret)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			client_id = EXCLUDED.client_id,
			client_secret = EXCLUDED.client_secret,
			webhook_secret = EXCLUDED.webhook_secret,
			updated_at = NOW()`,
		account.ID, account.Name, account.ClientID, clientSecret, webhookSecret,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SaveToken(ctx context.Context, accountID, token string, expiry time.Time) error {
	sealed, err := r.sealer.Seal(token)
	if err != nil {
		return err
	}

	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts SET access_token = $2, token_expiry = $3, updated_at = NOW()
		WHERE id = $1`, accountID, sealed, expiry)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *PostgresRepository) SetWebhookSecret(ctx context.Context, accountID, secret string) error {
	sealed, err := r.sealer.Seal(secret)
	if err != nil {
		return err
	}

	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts SET webhook_secret = $2, updated_at = NOW()
		WHERE id = $1`, accountID, sealed)
	if err != nil {
		return fmt.Errorf("failed to set webhook secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *PostgresRepository) scanAccount(row pgx.Row) (*models.Account, error) {
	var acct models.Account
	var expiry *time.Time
	err := row.Scan(&acct.ID, &acct.Name, &acct.ClientID, &acct.ClientSecret, &acct.WebhookSecret,
		&acct.AccessToken, &expiry, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	if expiry != nil {
		acct.TokenExpiry = *expiry
	}

	for _, field := range []*string{&acct.ClientSecret, &acct.WebhookSecret, &acct.AccessToken} {
		opened, err := r.sealer.Open(*field)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", acct.ID, err)
		}
		*field = opened
	}
	return &acct, nil
}

// =============================================================================
// UNITS & LISTINGS
// =============================================================================

func (r *PostgresRepository) UpsertUnit(ctx context.Context, unit *models.Unit) error {
	if unit.ID == "" {
		unit.ID = uuid.NewString()
	}
	externalIDs := unit.ExternalIDs
	if externalIDs == nil {
		externalIDs = map[string]string{}
	}

	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO units (id, name, external_ids)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, external_ids = EXCLUDED.external_ids`,
		unit.ID, unit.Name, externalIDs,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert unit: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindUnitByGuestyID(ctx context.Context, guestyID string) (*models.Unit, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	var unit models.Unit
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, external_ids, created_at
		FROM units
		WHERE external_ids->>'guesty_id' = $1
		ORDER BY created_at
		LIMIT 1`, guestyID,
	).Scan(&unit.ID, &unit.Name, &unit.ExternalIDs, &unit.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnitNotFound
		}
		return nil, fmt.Errorf("failed to find unit: %w", err)
	}
	return &unit, nil
}

const listingColumns = `id, unit_id, ota, listing_id, status, title, description, amenities, photos,
	min_stay, max_stay, cleaning_fee, tax_profile, cancellation_policy, source_updated_at`

func (r *PostgresRepository) UpsertListing(ctx context.Context, l *models.Listing) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.OTA == "" {
		l.OTA = models.SourceGuesty
	}
	if l.SourceUpdatedAt.IsZero() {
		l.SourceUpdatedAt = time.Now().UTC()
	}

	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	err := r.pool.QueryRow(ctx, `
		INSERT INTO listings (`+listingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (unit_id, listing_id) DO UPDATE SET
			ota = EXCLUDED.ota,
			status = EXCLUDED.status,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			amenities = EXCLUDED.amenities,
			photos = EXCLUDED.photos,
			min_stay = EXCLUDED.min_stay,
			max_stay = EXCLUDED.max_stay,
			cleaning_fee = EXCLUDED.cleaning_fee,
			tax_profile = EXCLUDED.tax_profile,
			cancellation_policy = EXCLUDED.cancellation_policy,
			source_updated_at = EXCLUDED.source_updated_at
		RETURNING id`,
		l.ID, l.UnitID, l.OTA, l.ListingID, l.Status, l.Title, l.Description,
		jsonOrEmpty(l.Amenities), jsonOrEmpty(l.Photos), l.MinStay, l.MaxStay, nullDecimal(l.CleaningFee),
		jsonOrEmpty(l.TaxProfile), l.CancellationPolicy, l.SourceUpdatedAt,
	).Scan(&l.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrUnitNotFound
		}
		return fmt.Errorf("failed to upsert listing: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindListingByExternalID(ctx context.Context, listingID string) (*models.Listing, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	var l models.Listing
	var amenities, photos, taxes []byte
	var cleaning decimal.NullDecimal
	err := r.pool.QueryRow(ctx, `
		SELECT `+listingColumns+`
		FROM listings
		WHERE listing_id = $1
		ORDER BY source_updated_at DESC
		LIMIT 1`, listingID,
	).Scan(&l.ID, &l.UnitID, &l.OTA, &l.ListingID, &l.Status, &l.Title, &l.Description,
		&amenities, &photos, &l.MinStay, &l.MaxStay, &cleaning, &taxes, &l.CancellationPolicy, &l.SourceUpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("failed to find listing: %w", err)
	}
	l.Amenities, l.Photos, l.TaxProfile = amenities, photos, taxes
	l.CleaningFee = decimalPtr(cleaning)
	return &l, nil
}

func (r *PostgresRepository) UpdateListing(ctx context.Context, l *models.Listing) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE listings SET
			ota = $2, status = $3, title = $4, description = $5, amenities = $6, photos = $7,
			min_stay = $8, max_stay = $9, cleaning_fee = $10, tax_profile = $11,
			cancellation_policy = $12, source_updated_at = $13
		WHERE id = $1`,
		l.ID, l.OTA, l.Status, l.Title, l.Description, jsonOrEmpty(l.Amenities), jsonOrEmpty(l.Photos),
		l.MinStay, l.MaxStay, nullDecimal(l.CleaningFee), jsonOrEmpty(l.TaxProfile),
		l.CancellationPolicy, l.SourceUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update listing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrListingNotFound
	}
	return nil
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func (r *PostgresRepository) UpsertReservation(ctx context.Context, res *models.Reservation) (bool, error) {
	if res.ID == "" {
		res.ID = uuid.NewString()
	}

	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	var inserted bool
	err := r.pool.QueryRow(ctx, `
		INSERT INTO reservations (
			id, unit_id, external_id, source, status, check_in, check_out, nights, guests,
			adr, total_payout, host_fee, taxes, cleaning_fee, lead_time_days,
			created_at_ext, updated_at_ext, source_updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (unit_id, external_id) DO UPDATE SET
			status = EXCLUDED.status,
			check_in = EXCLUDED.check_in,
			check_out = EXCLUDED.check_out,
			nights = EXCLUDED.nights,
			guests = EXCLUDED.guests,
			adr = EXCLUDED.adr,
			total_payout = EXCLUDED.total_payout,
			host_fee = EXCLUDED.host_fee,
			taxes = EXCLUDED.taxes,
			cleaning_fee = EXCLUDED.cleaning_fee,
			lead_time_days = EXCLUDED.lead_time_days,
			updated_at_ext = EXCLUDED.updated_at_ext,
			source_updated_at = EXCLUDED.source_updated_at,
			cancellation_reason = CASE WHEN EXCLUDED.status = 'cancelled'
				THEN reservations.cancellation_reason ELSE '' END
		RETURNING id, (xmax = 0)`,
		res.ID, res.UnitID, res.ExternalID, res.Source, res.Status, res.CheckIn, res.CheckOut,
		res.Nights, res.Guests, res.ADR, res.TotalPayout, res.HostFee, res.Taxes, res.CleaningFee,
		res.LeadTimeDays, res.CreatedAtExt, res.UpdatedAtExt, res.SourceUpdatedAt,
	).Scan(&res.ID, &inserted)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return false, ErrUnitNotFound
		}
		return false, fmt.Errorf("failed to upsert reservation: %w", err)
	}
	return inserted, nil
}

func (r *PostgresRepository) GetReservation(ctx context.Context, unitID, externalID string) (*models.Reservation, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	var res models.Reservation
	err := r.pool.QueryRow(ctx, `
		SELECT id, unit_id, external_id, source, status, check_in, check_out, nights, guests,
		       adr, total_payout, host_fee, taxes, cleaning_fee, lead_time_days, cancellation_reason,
		       created_at_ext, updated_at_ext, source_updated_at
		FROM reservations
		WHERE unit_id = $1 AND external_id = $2`, unitID, externalID,
	).Scan(&res.ID, &res.UnitID, &res.ExternalID, &res.Source, &res.Status, &res.CheckIn, &res.CheckOut,
		&res.Nights, &res.Guests, &res.ADR, &res.TotalPayout, &res.HostFee, &res.Taxes, &res.CleaningFee,
		&res.LeadTimeDays, &res.CancellationReason, &res.CreatedAtExt, &res.UpdatedAtExt, &res.SourceUpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return &res, nil
}

func (r *PostgresRepository) CancelReservation(ctx context.Context, c models.ReservationCancellation) (bool, error) {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE reservations
		SET status = 'cancelled', cancellation_reason = $3, source_updated_at = $4
		WHERE unit_id = $1 AND external_id = $2`,
		c.UnitID, c.ExternalID, c.Reason, c.SourceUpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to cancel reservation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// =============================================================================
// CALENDAR & PRICING
// =============================================================================

func (r *PostgresRepository) UpsertCalendarDays(ctx context.Context, days []models.CalendarDay) error {
	if len(days) == 0 {
		return nil
	}

	ctx, cancel := database.BulkContext(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, d := range days {
		batch.Queue(`
			INSERT INTO calendar_days (unit_id, date, available, min_price, max_price, base_price,
			                           blocked_reason, source, source_updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (unit_id, date) DO UPDATE SET
				available = EXCLUDED.available,
				min_price = EXCLUDED.min_price,
				max_price = EXCLUDED.max_price,
				base_price = EXCLUDED.base_price,
				blocked_reason = EXCLUDED.blocked_reason,
				source = EXCLUDED.source,
				source_updated_at = EXCLUDED.source_updated_at`,
			d.UnitID, d.Date, d.Available, nullDecimal(d.MinPrice), nullDecimal(d.MaxPrice),
			nullDecimal(d.BasePrice), d.BlockedReason, d.Source, d.SourceUpdatedAt,
		)
	}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrUnitNotFound
		}
		return fmt.Errorf("failed to upsert calendar days: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListCalendarDays(ctx context.Context, unitID string, from, to time.Time) ([]models.CalendarDay, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT unit_id, date, available, min_price, max_price, base_price, blocked_reason, source, source_updated_at
		FROM calendar_days
		WHERE unit_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date`, unitID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list calendar days: %w", err)
	}
	defer rows.Close()

	var out []models.CalendarDay
	for rows.Next() {
		var d models.CalendarDay
		var minP, maxP, baseP decimal.NullDecimal
		if err := rows.Scan(&d.UnitID, &d.Date, &d.Available, &minP, &maxP, &baseP,
			&d.BlockedReason, &d.Source, &d.SourceUpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan calendar day: %w", err)
		}
		d.MinPrice, d.MaxPrice, d.BasePrice = decimalPtr(minP), decimalPtr(maxP), decimalPtr(baseP)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) UpsertPricingSettings(ctx context.Context, p *models.PricingSettings) error {
	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO pricing_settings (unit_id, source, base_price, min_price, max_price, discounts, overrides, source_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (unit_id, source) DO UPDATE SET
			base_price = EXCLUDED.base_price,
			min_price = EXCLUDED.min_price,
			max_price = EXCLUDED.max_price,
			discounts = EXCLUDED.discounts,
			overrides = EXCLUDED.overrides,
			source_updated_at = EXCLUDED.source_updated_at`,
		p.UnitID, p.Source, nullDecimal(p.BasePrice), nullDecimal(p.MinPrice), nullDecimal(p.MaxPrice),
		jsonOrEmpty(p.Discounts), jsonOrEmpty(p.Overrides), p.SourceUpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrUnitNotFound
		}
		return fmt.Errorf("failed to upsert pricing settings: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetPricingSettings(ctx context.Context, unitID, source string) (*models.PricingSettings, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	var p models.PricingSettings
	var base, minP, maxP decimal.NullDecimal
	var discounts, overrides []byte
	err := r.pool.QueryRow(ctx, `
		SELECT unit_id, source, base_price, min_price, max_price, discounts, overrides, source_updated_at
		FROM pricing_settings
		WHERE unit_id = $1 AND source = $2`, unitID, source,
	).Scan(&p.UnitID, &p.Source, &base, &minP, &maxP, &discounts, &overrides, &p.SourceUpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPricingNotFound
		}
		return nil, fmt.Errorf("failed to get pricing settings: %w", err)
	}
	p.BasePrice, p.MinPrice, p.MaxPrice = decimalPtr(base), decimalPtr(minP), decimalPtr(maxP)
	p.Discounts, p.Overrides = discounts, overrides
	return &p, nil
}

func jsonOrEmpty(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "{}"
	}
	return string(raw)
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

package eventstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/synergy-rentals/srg-stack/common/database"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
)

// PostgresStore is a Store backed by the webhook_events table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const recordColumns = `id, event_id, event_type, account_id, source, received_at, payload,
	signature, verified, verify_error, reject_reason, status, processed_at, error`

func (s *PostgresStore) Create(ctx context.Context, rec *models.EventRecord) error {
	prepare(rec, time.Now)

	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_events (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		rec.ID, rec.EventID, rec.EventType, rec.AccountID, rec.Source, rec.ReceivedAt, []byte(rec.Payload),
		rec.Signature, rec.Verified, rec.VerifyError, rec.RejectReason, string(rec.Status), rec.ProcessedAt, rec.ErrorMessage,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrRecordExists
		}
		return fmt.Errorf("failed to create event record: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status models.EventStatus, errMsg string) error {
	if !models.StatusReceived.CanTransition(status) {
		return fmt.Errorf("%w: -> %s", ErrInvalidTransition, status)
	}

	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_events
		SET status = $2, error = $3, processed_at = NOW()
		WHERE id = $1 AND status = 'received'`,
		id, string(status), errMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to update event status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM webhook_events WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read event status: %w", err)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.EventRecord, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM webhook_events WHERE id = $1`, id)
	return scanRecord(row)
}

func (s *PostgresStore) FindByEventID(ctx context.Context, eventID string) (*models.EventRecord, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM webhook_events
		WHERE event_id = $1 AND status <> 'rejected'
		ORDER BY received_at DESC
		LIMIT 1`, eventID)
	return scanRecord(row)
}

func (s *PostgresStore) Stats(ctx context.Context, since time.Time) (*models.EventStats, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	stats := &models.EventStats{}
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE verified),
		       COUNT(*) FILTER (WHERE received_at >= $1)
		FROM webhook_events`, since,
	).Scan(&stats.TotalEvents, &stats.VerifiedEvents, &stats.RecentEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate events: %w", err)
	}

	var last models.EventSummary
	var status string
	err = s.pool.QueryRow(ctx, `
		SELECT id, event_id, event_type, status, verified, received_at
		FROM webhook_events
		ORDER BY received_at DESC
		LIMIT 1`,
	).Scan(&last.ID, &last.EventID, &last.EventType, &status, &last.Verified, &last.ReceivedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to read last event: %w", err)
	default:
		last.Status = models.EventStatus(status)
		stats.LastEvent = &last
	}

	return stats, nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status models.EventStatus, limit int) ([]*models.EventRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM webhook_events
		WHERE status = $1
		ORDER BY received_at DESC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var out []*models.EventRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := database.BulkContext(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM webhook_events WHERE received_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRecord(row pgx.Row) (*models.EventRecord, error) {
	var rec models.EventRecord
	var payload []byte
	var status string
	err := row.Scan(
		&rec.ID, &rec.EventID, &rec.EventType, &rec.AccountID, &rec.Source, &rec.ReceivedAt, &payload,
		&rec.Signature, &rec.Verified, &rec.VerifyError, &rec.RejectReason, &status, &rec.ProcessedAt, &rec.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan event record: %w", err)
	}
	rec.Payload = payload
	rec.Status = models.EventStatus(status)
	return &rec, nil
}

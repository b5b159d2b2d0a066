// Package gatekeeper decides whether an inbound delivery is admitted. It runs
// signature verification before replay detection and records every outcome
// in the event store.
package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/synergy-rentals/srg-stack/common/logging"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/eventstore"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/metrics"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/replay"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/repository"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/signature"
)

// Rejection reasons recorded on the event record and used as metric labels.
// Signature failures use the codes from signature.Reason.
const (
	OutcomeAccepted = "accepted"

	ReasonUnknownAccount      = "unknown_account"
	ReasonAccountLookupFailed = "account_lookup_failed"
	ReasonDuplicate           = "duplicate"
	ReasonReplayLookupFailed  = "replay_lookup_failed"
)

const lockStripes = 64

// AccountSource resolves the account a delivery is addressed to.
type AccountSource interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
}

type AdmitRequest struct {
	Body      []byte
	Signature string
	EventID   string
	EventType string
	AccountID string
}

// Admission is the outcome of Admit. Reason and Err are set when the
// delivery was rejected; Reason is also set to not_configured when an
// unsigned delivery was admitted under the permissive posture.
type Admission struct {
	Accepted   bool
	RecordID   string
	ReceivedAt time.Time
	Verified   bool
	Reason     string
	Err        error
}

type Config struct {
	// RequireSecret rejects deliveries for accounts without a webhook
	// secret. When false they are admitted unverified.
	RequireSecret bool
}

type Gatekeeper struct {
	accounts      AccountSource
	store         eventstore.Store
	guard         *replay.Guard
	requireSecret bool

	locks  [lockStripes]sync.Mutex
	now    func() time.Time
	logger *slog.Logger
}

func New(cfg Config, accounts AccountSource, store eventstore.Store, guard *replay.Guard, logger *slog.Logger) *Gatekeeper {
	return &Gatekeeper{
		accounts:      accounts,
		store:         store,
		guard:         guard,
		requireSecret: cfg.RequireSecret,
		now:           time.Now,
		logger:        logging.OrDiscard(logger),
	}
}

// WithClock overrides the time stamped on created records.
func (g *Gatekeeper) WithClock(now func() time.Time) *Gatekeeper {
	g.now = now
	return g
}

// Admit verifies and deduplicates one delivery. The returned Admission
// describes the decision; a non-nil error means the record itself could not
// be persisted and the decision must be treated as a rejection.
func (g *Gatekeeper) Admit(ctx context.Context, req AdmitRequest) (*Admission, error) {
	// The replay lookup and the create below must not interleave with
	// another delivery of the same event id.
	mu := g.lockFor(req.EventID)
	mu.Lock()
	defer mu.Unlock()

	rec := &models.EventRecord{
		EventID:    req.EventID,
		EventType:  req.EventType,
		AccountID:  req.AccountID,
		Source:     models.SourceGuesty,
		ReceivedAt: g.now().UTC(),
		Payload:    req.Body,
		Signature:  req.Signature,
	}
	metrics.DeliveryBytesTotal.Add(float64(len(req.Body)))

	acct, err := g.accounts.GetAccount(ctx, req.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return g.reject(ctx, rec, ReasonUnknownAccount,
				fmt.Errorf("%w: %s", models.ErrUnknownAccount, req.AccountID))
		}
		return g.reject(ctx, rec, ReasonAccountLookupFailed, fmt.Errorf("account lookup: %w", err))
	}

	verr := signature.Verify(req.Body, req.Signature, acct.WebhookSecret)
	switch {
	case verr == nil:
		rec.Verified = true
	case errors.Is(verr, signature.ErrNotConfigured) && !g.requireSecret:
		rec.VerifyError = signature.Reason(verr)
		g.logger.WarnContext(ctx, "admitting unsigned webhook, no secret configured",
			logging.AccountID(req.AccountID), logging.EventID(req.EventID))
	case errors.Is(verr, signature.ErrNotConfigured):
		rec.VerifyError = signature.Reason(verr)
		return g.reject(ctx, rec, signature.Reason(verr),
			fmt.Errorf("%w: webhook secret not configured for account %s", models.ErrConfiguration, req.AccountID))
	default:
		rec.VerifyError = signature.Reason(verr)
		return g.reject(ctx, rec, signature.Reason(verr), fmt.Errorf("%w: %v", models.ErrAuthentication, verr))
	}

	if err := g.guard.Check(ctx, req.EventID); err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			return g.reject(ctx, rec, ReasonDuplicate, err)
		}
		return g.reject(ctx, rec, ReasonReplayLookupFailed, err)
	}

	rec.Status = models.StatusReceived
	if err := g.store.Create(ctx, rec); err != nil {
		metrics.DeliveriesTotal.WithLabelValues(req.EventType, "store_failed").Inc()
		return nil, fmt.Errorf("record accepted event: %w", err)
	}

	metrics.DeliveriesTotal.WithLabelValues(req.EventType, OutcomeAccepted).Inc()
	g.logger.DebugContext(ctx, "webhook admitted",
		logging.EventID(req.EventID), logging.EventType(req.EventType), logging.RecordID(rec.ID))

	return &Admission{
		Accepted:   true,
		RecordID:   rec.ID,
		ReceivedAt: rec.ReceivedAt,
		Verified:   rec.Verified,
		Reason:     rec.VerifyError,
	}, nil
}

func (g *Gatekeeper) reject(ctx context.Context, rec *models.EventRecord, reason string, cause error) (*Admission, error) {
	rec.Status = models.StatusRejected
	rec.RejectReason = reason
	rec.ErrorMessage = cause.Error()

	metrics.DeliveriesTotal.WithLabelValues(rec.EventType, reason).Inc()
	g.logger.WarnContext(ctx, "webhook rejected",
		slog.String("reason", reason),
		logging.AccountID(rec.AccountID),
		logging.EventID(rec.EventID),
		logging.EventType(rec.EventType),
		logging.Error(cause),
	)

	if err := g.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("record rejected event: %w", err)
	}
	return &Admission{RecordID: rec.ID, ReceivedAt: rec.ReceivedAt, Reason: reason, Err: cause}, nil
}

func (g *Gatekeeper) lockFor(eventID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(eventID))
	return &g.locks[h.Sum32()%lockStripes]
}

// Package coordinator is the webhook pipeline: admission, queueing,
// processing and terminal status recording.
package coordinator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/synergy-rentals/srg-stack/common/logging"
	"github.com/synergy-rentals/srg-stack/common/middleware"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/dlq"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/eventstore"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/gatekeeper"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/metrics"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/processor"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/queue"
)

// DefaultStatsWindow bounds RecentEvents in Stats.
const DefaultStatsWindow = 24 * time.Hour

// finishTimeout bounds the terminal status write, which runs even after the
// task's context is cancelled.
const finishTimeout = 10 * time.Second

// ErrShuttingDown is returned when an admitted event could not be queued.
var ErrShuttingDown = errors.New("webhook pipeline shutting down")

// Delivery is one inbound HTTP webhook.
type Delivery struct {
	AccountID     string
	Body          []byte
	Signature     string
	EventIDHeader string
}

// Receipt reports the admission decision. Done is set for accepted
// deliveries and resolves when processing finishes.
type Receipt struct {
	Accepted  bool
	EventID   string
	EventType string
	RecordID  string
	Verified  bool
	Reason    string
	Done      *queue.Future
}

// Stats is the aggregate read exposed to the dashboard.
type Stats struct {
	TotalEvents      int64                `json:"totalEvents"`
	VerifiedEvents   int64                `json:"verifiedEvents"`
	RecentEvents     int64                `json:"recentEvents"`
	RecentWindow     string               `json:"recentWindow"`
	LastEvent        *models.EventSummary `json:"lastEvent"`
	VerificationRate float64              `json:"verificationRate"`
	QueueDepth       int                  `json:"queueDepth"`
	ActiveWorkers    int                  `json:"activeWorkers"`
	Concurrency      int                  `json:"concurrency"`
	FailedSink       dlq.Stats            `json:"failedSink"`
}

type Config struct {
	StatsWindow time.Duration
}

type Coordinator struct {
	gatekeeper  *gatekeeper.Gatekeeper
	store       eventstore.Store
	queue       *queue.Queue
	processor   *processor.Processor
	sink        dlq.Writer
	statsWindow time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

func New(cfg Config, gk *gatekeeper.Gatekeeper, store eventstore.Store, q *queue.Queue, proc *processor.Processor, sink dlq.Writer, logger *slog.Logger) *Coordinator {
	if cfg.StatsWindow <= 0 {
		cfg.StatsWindow = DefaultStatsWindow
	}
	if sink == nil {
		sink = dlq.NoOp{}
	}
	return &Coordinator{
		gatekeeper:  gk,
		store:       store,
		queue:       q,
		processor:   proc,
		sink:        sink,
		statsWindow: cfg.StatsWindow,
		now:         time.Now,
		logger:      logging.OrDiscard(logger),
	}
}

// Receive admits d and, when accepted, queues it for processing. A rejected
// delivery returns its Receipt together with the admission error. A nil
// Receipt means the delivery could not be recorded at all.
func (c *Coordinator) Receive(ctx context.Context, d Delivery) (*Receipt, error) {
	env, err := models.ParseEnvelope(d.Body)
	if err != nil {
		metrics.DeliveriesTotal.WithLabelValues("", "malformed").Inc()
		return nil, err
	}
	eventID := ResolveEventID(env, d.EventIDHeader, d.Body)

	adm, err := c.gatekeeper.Admit(ctx, gatekeeper.AdmitRequest{
		Body:      d.Body,
		Signature: d.Signature,
		EventID:   eventID,
		EventType: env.Type,
		AccountID: d.AccountID,
	})
	if err != nil {
		return nil, err
	}

	receipt := &Receipt{
		Accepted:  adm.Accepted,
		EventID:   eventID,
		EventType: env.Type,
		RecordID:  adm.RecordID,
		Verified:  adm.Verified,
		Reason:    adm.Reason,
	}
	if !adm.Accepted {
		return receipt, adm.Err
	}

	rec := &models.EventRecord{
		ID:         adm.RecordID,
		EventID:    eventID,
		EventType:  env.Type,
		AccountID:  d.AccountID,
		Source:     models.SourceGuesty,
		ReceivedAt: adm.ReceivedAt,
		Payload:    d.Body,
		Verified:   adm.Verified,
		Status:     models.StatusReceived,
	}
	requestID := middleware.GetRequestID(ctx)

	future, err := c.queue.Submit(func(taskCtx context.Context) error {
		if requestID != "" {
			taskCtx = middleware.WithRequestID(taskCtx, requestID)
		}
		return c.process(taskCtx, rec)
	})
	if err != nil {
		c.finish(ctx, rec, fmt.Errorf("%w: %v", ErrShuttingDown, err))
		return nil, fmt.Errorf("%w: %v", ErrShuttingDown, err)
	}

	receipt.Done = future
	return receipt, nil
}

func (c *Coordinator) process(ctx context.Context, rec *models.EventRecord) error {
	defer func() {
		if rv := recover(); rv != nil {
			c.finish(ctx, rec, fmt.Errorf("%w: panic: %v", models.ErrProcessing, rv))
			panic(rv)
		}
	}()

	outcome, err := c.processor.Process(ctx, rec)
	c.finish(ctx, rec, err)
	if err == nil {
		c.logger.DebugContext(ctx, "webhook processed",
			logging.RecordID(rec.ID), logging.EventType(rec.EventType), slog.String("outcome", string(outcome)))
	}
	return err
}

// finish records the terminal status. It runs detached from ctx's
// cancellation so a record never stays received.
func (c *Coordinator) finish(ctx context.Context, rec *models.EventRecord, procErr error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	status, msg := models.StatusProcessed, ""
	if procErr != nil {
		status, msg = models.StatusFailed, procErr.Error()
	}
	metrics.ProcessedTotal.WithLabelValues(rec.EventType, string(status)).Inc()

	if err := c.store.UpdateStatus(ctx, rec.ID, status, msg); err != nil {
		c.logger.ErrorContext(ctx, "failed to record event status",
			logging.RecordID(rec.ID), slog.String("status", string(status)), logging.Error(err))
	}
	if procErr == nil {
		return
	}

	c.logger.WarnContext(ctx, "webhook processing failed",
		logging.RecordID(rec.ID),
		logging.EventID(rec.EventID),
		logging.EventType(rec.EventType),
		logging.Error(procErr),
	)
	if err := c.sink.Write(ctx, rec, procErr); err != nil {
		c.logger.WarnContext(ctx, "failed to publish failed-event notice", logging.RecordID(rec.ID), logging.Error(err))
	}
}

// Stats aggregates the event store and the queue's live counters.
func (c *Coordinator) Stats(ctx context.Context) (*Stats, error) {
	es, err := c.store.Stats(ctx, c.now().Add(-c.statsWindow))
	if err != nil {
		return nil, fmt.Errorf("event stats: %w", err)
	}
	return &Stats{
		TotalEvents:      es.TotalEvents,
		VerifiedEvents:   es.VerifiedEvents,
		RecentEvents:     es.RecentEvents,
		RecentWindow:     c.statsWindow.String(),
		LastEvent:        es.LastEvent,
		VerificationRate: es.VerificationRate(),
		QueueDepth:       c.queue.Depth(),
		ActiveWorkers:    c.queue.Active(),
		Concurrency:      c.queue.Concurrency(),
		FailedSink:       c.sink.Stats(ctx),
	}, nil
}

// Events lists records in status, newest first.
func (c *Coordinator) Events(ctx context.Context, status models.EventStatus, limit int) ([]*models.EventRecord, error) {
	return c.store.ListByStatus(ctx, status, limit)
}

// Prune deletes records received more than retention ago.
func (c *Coordinator) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	return c.store.Prune(ctx, c.now().Add(-retention))
}

// Shutdown stops intake and drains queued events.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	return c.queue.Shutdown(ctx)
}

// ResolveEventID picks the dedup key: the envelope id, else the event id
// header, else the SHA-256 of the body.
func ResolveEventID(env *models.Envelope, header string, body []byte) string {
	if env != nil && env.ID != "" {
		return env.ID
	}
	if header != "" {
		return header
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Package dlq publishes notices for events whose processing failed, so
// operators can reconcile them outside the webhook path.
package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/synergy-rentals/srg-stack/common/logging"
	"github.com/synergy-rentals/srg-stack/common/messaging"
	"github.com/synergy-rentals/srg-stack/common/messaging/nats"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/metrics"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
)

// SubjectPrefix prefixes every failed-event subject.
const SubjectPrefix = "webhooks.failed."

// FailedEvent is the published notice.
type FailedEvent struct {
	Timestamp  time.Time       `json:"timestamp"`
	RecordID   string          `json:"record_id"`
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	AccountID  string          `json:"account_id,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
	Error      string          `json:"error"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Stats summarises the sink for the admin surface.
type Stats struct {
	Enabled  bool   `json:"enabled"`
	Backend  string `json:"backend"`
	Written  uint64 `json:"written"`
	Failed   uint64 `json:"failed"`
	Messages uint64 `json:"messages,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Writer records failed processing outcomes.
type Writer interface {
	Write(ctx context.Context, rec *models.EventRecord, cause error) error
	Stats(ctx context.Context) Stats
}

// Subject returns the subject a failure for eventType is published on.
func Subject(eventType string) string {
	if eventType == "" {
		return SubjectPrefix + "unknown"
	}
	return SubjectPrefix + strings.NewReplacer(" ", "_", "*", "_", ">", "_").Replace(eventType)
}

// PublisherWriter publishes FailedEvents through a messaging.Publisher.
type PublisherWriter struct {
	pub     messaging.Publisher
	backend string
	stream  jetstream.Stream
	written atomic.Uint64
	failed  atomic.Uint64
	now     func() time.Time
	logger  *slog.Logger
}

func NewPublisherWriter(pub messaging.Publisher, logger *slog.Logger) *PublisherWriter {
	return &PublisherWriter{
		pub:     pub,
		backend: "publisher",
		now:     time.Now,
		logger:  logging.OrDiscard(logger),
	}
}

// NewJetStreamWriter ensures the WEBHOOKS_FAILED stream exists and publishes
// into it with acknowledgement.
func NewJetStreamWriter(ctx context.Context, js *nats.JetStreamClient, logger *slog.Logger) (*PublisherWriter, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}
	stream, err := js.CreateOrUpdateStream(ctx, nats.WebhooksFailedStream)
	if err != nil {
		return nil, fmt.Errorf("create failed-events stream: %w", err)
	}

	w := NewPublisherWriter(js, logger)
	w.backend = "jetstream"
	w.stream = stream
	w.logger.Info("failed-event stream ready", slog.String("stream", nats.WebhooksFailedStream.Name))
	return w, nil
}

func (w *PublisherWriter) Write(ctx context.Context, rec *models.EventRecord, cause error) error {
	failed := FailedEvent{
		Timestamp:  w.now().UTC(),
		RecordID:   rec.ID,
		EventID:    rec.EventID,
		EventType:  rec.EventType,
		AccountID:  rec.AccountID,
		ReceivedAt: rec.ReceivedAt,
		Payload:    payloadJSON(rec.Payload),
	}
	if cause != nil {
		failed.Error = cause.Error()
	}

	data, err := json.Marshal(failed)
	if err != nil {
		w.failed.Add(1)
		metrics.FailedEventsPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("marshal failed event: %w", err)
	}

	if err := w.pub.Publish(ctx, Subject(rec.EventType), data); err != nil {
		w.failed.Add(1)
		metrics.FailedEventsPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("publish failed event: %w", err)
	}

	w.written.Add(1)
	metrics.FailedEventsPublished.WithLabelValues("ok").Inc()
	w.logger.DebugContext(ctx, "published failed event",
		logging.RecordID(rec.ID), logging.EventType(rec.EventType))
	return nil
}

func (w *PublisherWriter) Stats(ctx context.Context) Stats {
	s := Stats{
		Enabled: true,
		Backend: w.backend,
		Written: w.written.Load(),
		Failed:  w.failed.Load(),
	}
	if w.stream == nil {
		return s
	}
	info, err := w.stream.Info(ctx)
	if err != nil {
		s.Error = err.Error()
		return s
	}
	s.Messages = info.State.Msgs
	return s
}

func payloadJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	if json.Valid(raw) {
		return json.RawMessage(raw)
	}
	quoted, _ := json.Marshal(string(raw))
	return quoted
}

// NoOp drops every notice.
type NoOp struct{}

func (NoOp) Write(ctx context.Context, rec *models.EventRecord, cause error) error { return nil }

func (NoOp) Stats(ctx context.Context) Stats { return Stats{Backend: "none"} }

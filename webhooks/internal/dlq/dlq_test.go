package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(ctx context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject: subject, data: data})
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func TestSubject(t *testing.T) {
	tests := map[string]string{
		"reservation.created": "webhooks.failed.reservation.created",
		"":                    "webhooks.failed.unknown",
		"bad type>":           "webhooks.failed.bad_type_",
	}
	for in, want := range tests {
		assert.Equal(t, want, Subject(in), "Subject(%q)", in)
	}
}

func TestPublisherWriter_Write(t *testing.T) {
	pub := &fakePublisher{}
	w := NewPublisherWriter(pub, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	rec := &models.EventRecord{
		ID:         "rec-1",
		EventID:    "evt-1",
		EventType:  models.EventCalendarUpdated,
		AccountID:  "acct-1",
		ReceivedAt: now.Add(-time.Minute),
		Payload:    []byte(`{"id":"evt-1"}`),
	}
	require.NoError(t, w.Write(context.Background(), rec, errors.New("unit not found")))

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "webhooks.failed.calendar.updated", pub.msgs[0].subject)

	var got FailedEvent
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &got))
	assert.Equal(t, "rec-1", got.RecordID)
	assert.Equal(t, "unit not found", got.Error)
	assert.Equal(t, now, got.Timestamp)
	assert.JSONEq(t, `{"id":"evt-1"}`, string(got.Payload))

	stats := w.Stats(context.Background())
	assert.True(t, stats.Enabled)
	assert.EqualValues(t, 1, stats.Written)
	assert.Zero(t, stats.Failed)
}

func TestPublisherWriter_NonJSONPayloadIsQuoted(t *testing.T) {
	pub := &fakePublisher{}
	w := NewPublisherWriter(pub, nil)

	require.NoError(t, w.Write(context.Background(), &models.EventRecord{ID: "r", Payload: []byte("not json")}, nil))

	var got FailedEvent
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &got))
	assert.Equal(t, `"not json"`, string(got.Payload))
	assert.Empty(t, got.Error)
}

func TestPublisherWriter_PublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: no responders")}
	w := NewPublisherWriter(pub, nil)

	err := w.Write(context.Background(), &models.EventRecord{ID: "r"}, errors.New("boom"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no responders")
	assert.EqualValues(t, 1, w.Stats(context.Background()).Failed)
}

func TestNewJetStreamWriter_NilClient(t *testing.T) {
	_, err := NewJetStreamWriter(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestNoOp(t *testing.T) {
	var w Writer = NoOp{}
	assert.NoError(t, w.Write(context.Background(), &models.EventRecord{}, errors.New("x")))
	assert.False(t, w.Stats(context.Background()).Enabled)
}

package models

import (
	"encoding/json"
	"time"
)

// EventStatus is the processing state of an inbound event record.
type EventStatus string

const (
	StatusReceived  EventStatus = "received"
	StatusProcessed EventStatus = "processed"
	StatusFailed    EventStatus = "failed"
	// StatusRejected is assigned at creation to deliveries refused at
	// admission. It is terminal.
	StatusRejected EventStatus = "rejected"
)

// Terminal reports whether no further transition is allowed.
func (s EventStatus) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed || s == StatusRejected
}

// CanTransition reports whether s may move to next. Only received records
// move, and only forward.
func (s EventStatus) CanTransition(next EventStatus) bool {
	return s == StatusReceived && (next == StatusProcessed || next == StatusFailed)
}

// Valid reports whether s is a known status.
func (s EventStatus) Valid() bool {
	switch s {
	case StatusReceived, StatusProcessed, StatusFailed, StatusRejected:
		return true
	}
	return false
}

// EventRecord is the audit entry written for every inbound delivery.
type EventRecord struct {
	ID           string          `json:"id"`
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	AccountID    string          `json:"account_id,omitempty"`
	Source       string          `json:"source"`
	ReceivedAt   time.Time       `json:"received_at"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Signature    string          `json:"signature,omitempty"`
	Verified     bool            `json:"verified"`
	VerifyError  string          `json:"verify_error,omitempty"`
	RejectReason string          `json:"reject_reason,omitempty"`
	Status       EventStatus     `json:"status"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
	ErrorMessage string          `json:"error,omitempty"`
}

// Admitted reports whether the record was accepted by the gatekeeper.
func (r *EventRecord) Admitted() bool {
	return r.Status != StatusRejected
}

// EventSummary is the "last event" view exposed by statistics.
type EventSummary struct {
	ID         string      `json:"id"`
	EventID    string      `json:"eventId"`
	EventType  string      `json:"eventType"`
	Status     EventStatus `json:"status"`
	Verified   bool        `json:"verified"`
	ReceivedAt time.Time   `json:"receivedAt"`
}

// Summary returns the statistics view of r.
func (r *EventRecord) Summary() *EventSummary {
	return &EventSummary{
		ID:         r.ID,
		EventID:    r.EventID,
		EventType:  r.EventType,
		Status:     r.Status,
		Verified:   r.Verified,
		ReceivedAt: r.ReceivedAt,
	}
}

// EventStats aggregates the event store for observability surfaces.
type EventStats struct {
	TotalEvents    int64         `json:"totalEvents"`
	VerifiedEvents int64         `json:"verifiedEvents"`
	RecentEvents   int64         `json:"recentEvents"`
	LastEvent      *EventSummary `json:"lastEvent"`
}

// VerificationRate is verified/total as a percentage, 0 when empty.
func (s EventStats) VerificationRate() float64 {
	if s.TotalEvents == 0 {
		return 0
	}
	return float64(s.VerifiedEvents) / float64(s.TotalEvents) * 100
}

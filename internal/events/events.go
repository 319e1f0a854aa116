// Package events publishes broker domain events to NATS.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// NATS subjects for broker events
const (
	SubjectReferenceCreated = "payments.reference.created"
	SubjectOrderCreated     = "orders.created"
	SubjectWebhookUnmatched = "webhooks.unmatched"
)

// Envelope wraps all events with common metadata.
type Envelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data"`
}

// NewEnvelope creates a new event envelope.
func NewEnvelope(eventType, correlationID string, data any) (*Envelope, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		ID:            ulid.Make().String(),
		Type:          eventType,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		Data:          jsonData,
	}, nil
}

// Publisher publishes events to a message broker. Publishing is best-effort
// for every caller in this module: failures are logged, never propagated.
type Publisher interface {
	Publish(ctx context.Context, subject string, env *Envelope) error
}

// ReferenceCreatedEvent is published when a payment reference is created for
// a checkout session.
type ReferenceCreatedEvent struct {
	SessionID    string `json:"session_id"`
	ReferenceID  string `json:"reference_id"`
	AccountLabel string `json:"account_label"`
	AmountMinor  int64  `json:"amount_minor"`
	Currency     string `json:"currency"`
}

// OrderCreatedEvent is published after a confirmation has been reconciled
// into a downstream order.
type OrderCreatedEvent struct {
	SessionID    string `json:"session_id"`
	OrderID      string `json:"order_id"`
	OrderNumber  string `json:"order_number"`
	AccountLabel string `json:"account_label"`
}

// WebhookUnmatchedEvent signals a webhook payload no configured account
// could authenticate; operators monitor this subject.
type WebhookUnmatchedEvent struct {
	AccountsScanned int `json:"accounts_scanned"`
	PayloadBytes    int `json:"payload_bytes"`
}

// NopPublisher discards all events.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, string, *Envelope) error { return nil }

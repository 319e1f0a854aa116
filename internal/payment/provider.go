// Package payment creates and refreshes provider payment references for
// checkout sessions, one reference per session.
package payment

import (
	"context"

	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/accounts"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/common/money"
)

// EventPaymentSucceeded is the only order-affecting confirmation type.
const EventPaymentSucceeded = "payment_intent.succeeded"

// Reference is the provider-side handle for a pending charge.
type Reference struct {
	ID           string
	ClientSecret string
}

// ReferenceRequest carries the data a provider needs to create or refresh a
// payment reference.
type ReferenceRequest struct {
	SessionID     string
	Amount        money.Money
	CustomerEmail string
	Description   string
}

// Event is a provider confirmation event normalized across accounts.
type Event struct {
	// Type is the provider event type, e.g. "payment_intent.succeeded".
	Type string
	// ReferenceID is the provider payment reference the event concerns.
	ReferenceID string
	// SessionID is the checkout session carried in the reference metadata;
	// empty when the provider event carries none.
	SessionID string
}

// Provider is the uniform per-account payment capability. Each account gets
// its own Provider bound to that account's credentials; the reconciler
// treats every account's verification identically.
type Provider interface {
	CreateReference(ctx context.Context, req ReferenceRequest) (Reference, error)
	UpdateReference(ctx context.Context, referenceID string, req ReferenceRequest) (Reference, error)
	// VerifyWebhook authenticates a raw payload against this account's
	// webhook secret and returns the normalized event on success.
	VerifyWebhook(payload []byte, signatureHeader string) (Event, error)
}

// Factory builds a Provider bound to one account's credentials.
type Factory func(accounts.Account) Provider

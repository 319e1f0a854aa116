package payment

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/stripe/stripe-go/v80"
	stripeclient "github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"

	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/accounts"
)

// MetadataSessionKey is the payment-reference metadata key carrying the
// checkout session id; the reconciler reads it back from webhook events.
const MetadataSessionKey = "checkout_session_id"

// StripeProvider implements Provider against one account's Stripe
// credentials. Each account gets its own client instance; the global
// stripe.Key is never set because several accounts coexist in one process.
type StripeProvider struct {
	account       string
	webhookSecret string
	api           *stripeclient.API
}

// NewStripeProvider creates a provider bound to an account's credentials.
func NewStripeProvider(a accounts.Account) Provider {
	return &StripeProvider{
		account:       a.Label,
		webhookSecret: a.WebhookSecret,
		api:           stripeclient.New(a.Secret, nil),
	}
}

// CreateReference creates a new payment intent for a checkout session.
func (p *StripeProvider) CreateReference(ctx context.Context, req ReferenceRequest) (Reference, error) {
	params := p.referenceParams(ctx, req)
	// Session id doubles as the provider-side idempotency key: a retried
	// create for the same session returns the same intent.
	params.IdempotencyKey = stripe.String(req.SessionID)

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return Reference{}, err
	}
	return Reference{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// UpdateReference refreshes the amount and metadata of an existing payment
// intent instead of creating a second one.
func (p *StripeProvider) UpdateReference(ctx context.Context, referenceID string, req ReferenceRequest) (Reference, error) {
	pi, err := p.api.PaymentIntents.Update(referenceID, p.referenceParams(ctx, req))
	if err != nil {
		return Reference{}, err
	}
	return Reference{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// VerifyWebhook checks the payload signature against this account's webhook
// secret and normalizes the event.
func (p *StripeProvider) VerifyWebhook(payload []byte, signatureHeader string) (Event, error) {
	ev, err := webhook.ConstructEvent(payload, signatureHeader, p.webhookSecret)
	if err != nil {
		return Event{}, err
	}

	out := Event{Type: string(ev.Type)}

	var pi stripe.PaymentIntent
	if len(ev.Data.Raw) > 0 {
		if err := json.Unmarshal(ev.Data.Raw, &pi); err == nil {
			out.ReferenceID = pi.ID
			out.SessionID = pi.Metadata[MetadataSessionKey]
		}
	}

	return out, nil
}

func (p *StripeProvider) referenceParams(ctx context.Context, req ReferenceRequest) *stripe.PaymentIntentParams {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount.AmountMinor),
		Currency: stripe.String(strings.ToLower(string(req.Amount.Currency))),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataSessionKey, req.SessionID)

	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.CustomerEmail != "" {
		params.ReceiptEmail = stripe.String(req.CustomerEmail)
	}

	return params
}

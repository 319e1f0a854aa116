package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/accounts"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/checkout"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/common/errs"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/events"
)

// MinChargeMinor is the smallest total the provider will accept, in minor
// units.
const MinChargeMinor = 50

// PaymentRequest is what the checkout frontend needs to confirm a payment.
type PaymentRequest struct {
	ClientSecret string `json:"client_secret"`
	PublicKey    string `json:"public_key"`
}

// Manager creates or refreshes the single payment reference of a checkout
// session, idempotent per session.
type Manager struct {
	store     checkout.Store
	registry  accounts.Registry
	selector  *accounts.Selector
	providers Factory
	publisher events.Publisher
	logger    *slog.Logger
}

// NewManager creates a payment intent manager.
func NewManager(store checkout.Store, registry accounts.Registry, selector *accounts.Selector, providers Factory, publisher events.Publisher, logger *slog.Logger) *Manager {
	return &Manager{
		store:     store,
		registry:  registry,
		selector:  selector,
		providers: providers,
		publisher: publisher,
		logger:    logger,
	}
}

// EnsurePaymentRequest creates a payment reference for the session, or
// refreshes the existing one. The total is always recomputed from the
// supplied subtotal, shipping and discount, never taken as a raw
// client-supplied figure. Two near-simultaneous calls for the same session
// end up sharing one stored reference: the store's create-if-absent write
// decides the winner and the loser updates the winner's reference.
func (m *Manager) EnsurePaymentRequest(ctx context.Context, sessionID string, totals checkout.Totals, customer checkout.CustomerInfo) (*PaymentRequest, error) {
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	total, err := totals.Total()
	if err != nil {
		return nil, &errs.ValidationError{Field: "amount", Msg: err.Error()}
	}
	if total.AmountMinor < MinChargeMinor {
		return nil, &errs.ValidationError{
			Field: "amount",
			Msg:   fmt.Sprintf("total %d below minimum charge of %d", total.AmountMinor, MinChargeMinor),
		}
	}

	req := ReferenceRequest{
		SessionID:     sessionID,
		Amount:        total,
		CustomerEmail: customer.Email,
		Description:   fmt.Sprintf("Checkout %s", sessionID),
	}

	if err := m.store.UpdateCustomer(ctx, sessionID, customer); err != nil {
		return nil, fmt.Errorf("persisting customer info: %w", err)
	}

	if sess.HasPaymentReference() {
		return m.refreshReference(ctx, sess, req)
	}

	acct, err := m.selector.SelectAccount(ctx)
	if err != nil {
		return nil, err
	}

	ref, err := m.providers(acct).CreateReference(ctx, req)
	if err != nil {
		return nil, &errs.PaymentProviderError{Account: acct.Label, Err: err}
	}

	created, current, err := m.store.CreatePaymentReferenceIfAbsent(ctx, sessionID, ref.ID, ref.ClientSecret, acct.Label)
	if err != nil {
		return nil, fmt.Errorf("persisting payment reference: %w", err)
	}

	if !created {
		// A concurrent call won the create race; its reference is the one
		// of record. Refresh that one so the amount is current.
		m.logger.Warn("lost payment reference race, reusing stored reference",
			"session_id", sessionID,
			"stored_reference", current.PaymentReferenceID,
			"discarded_reference", ref.ID,
		)
		return m.refreshReference(ctx, current, req)
	}

	m.logger.Info("payment reference created",
		"session_id", sessionID,
		"reference_id", ref.ID,
		"account", acct.Label,
		"amount", total.AmountMinor,
		"currency", total.Currency,
	)

	if env, err := events.NewEnvelope(events.SubjectReferenceCreated, sessionID, &events.ReferenceCreatedEvent{
		SessionID:    sessionID,
		ReferenceID:  ref.ID,
		AccountLabel: acct.Label,
		AmountMinor:  total.AmountMinor,
		Currency:     string(total.Currency),
	}); err == nil {
		if pubErr := m.publisher.Publish(ctx, events.SubjectReferenceCreated, env); pubErr != nil {
			m.logger.Warn("failed to publish reference created event", "error", pubErr)
		}
	}

	return &PaymentRequest{ClientSecret: ref.ClientSecret, PublicKey: acct.PublicKey}, nil
}

// refreshReference issues an update to the session's existing payment
// reference through the account that created it.
func (m *Manager) refreshReference(ctx context.Context, sess *checkout.Session, req ReferenceRequest) (*PaymentRequest, error) {
	acct, err := m.accountByLabel(ctx, sess.AccountLabel)
	if err != nil {
		return nil, err
	}

	ref, err := m.providers(acct).UpdateReference(ctx, sess.PaymentReferenceID, req)
	if err != nil {
		return nil, &errs.PaymentProviderError{Account: acct.Label, Err: err}
	}

	m.logger.Info("payment reference refreshed",
		"session_id", sess.ID,
		"reference_id", sess.PaymentReferenceID,
		"account", acct.Label,
		"amount", req.Amount.AmountMinor,
	)

	secret := ref.ClientSecret
	if secret == "" {
		secret = sess.PaymentReferenceSecret
	}

	return &PaymentRequest{ClientSecret: secret, PublicKey: acct.PublicKey}, nil
}

// accountByLabel resolves the account a session's reference was created
// against. A session pointing at a label the registry no longer holds is a
// configuration problem, not a caller mistake.
func (m *Manager) accountByLabel(ctx context.Context, label string) (accounts.Account, error) {
	all, err := m.registry.List(ctx)
	if err != nil {
		return accounts.Account{}, fmt.Errorf("loading account registry: %w", err)
	}
	for _, a := range all {
		if a.Label == label {
			return a, nil
		}
	}
	return accounts.Account{}, &errs.ConfigurationError{
		Msg: fmt.Sprintf("account %q referenced by session is no longer configured", label),
	}
}

// Package webhook authenticates asynchronous payment confirmations against
// the account registry and converts them into exactly-once order creation.
package webhook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/accounts"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/checkout"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/common/clock"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/common/errs"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/events"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/orders"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/payment"
)

// Status classifies the outcome of a reconciliation.
type Status string

const (
	// StatusProcessed means the order was created by this invocation.
	StatusProcessed Status = "processed"
	// StatusAlreadyProcessed means the session already had an order; the
	// delivery was a duplicate.
	StatusAlreadyProcessed Status = "already_processed"
	// StatusIgnored means the event was authenticated but not
	// order-affecting, or carried no usable session reference.
	StatusIgnored Status = "ignored"
	// StatusAcceptedPendingOrder means the confirmation was authenticated
	// but order creation failed; the session awaits an out-of-band retry.
	StatusAcceptedPendingOrder Status = "accepted_pending_order"
)

// Outcome is the result of reconciling one webhook delivery.
type Outcome struct {
	Status      Status `json:"status"`
	OrderID     string `json:"order_id,omitempty"`
	OrderNumber string `json:"order_number,omitempty"`
}

// Reconciler authenticates inbound confirmations and triggers order
// creation exactly once per session.
type Reconciler struct {
	registry  accounts.Registry
	store     checkout.Store
	providers payment.Factory
	orders    orders.Creator
	publisher events.Publisher
	clock     clock.Clock
	logger    *slog.Logger
}

// NewReconciler creates a webhook reconciler.
func NewReconciler(registry accounts.Registry, store checkout.Store, providers payment.Factory, creator orders.Creator, publisher events.Publisher, clk clock.Clock, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		registry:  registry,
		store:     store,
		providers: providers,
		orders:    creator,
		publisher: publisher,
		clock:     clk,
		logger:    logger,
	}
}

// Reconcile authenticates rawPayload against the configured accounts and,
// for an order-affecting confirmation, creates the downstream order exactly
// once. The already-processed check runs before any external order call and
// the final persist is a single conditional write, so concurrent duplicate
// deliveries collapse to one order.
func (r *Reconciler) Reconcile(ctx context.Context, rawPayload []byte, signatureHeader string) (Outcome, error) {
	event, account, err := r.authenticate(ctx, rawPayload, signatureHeader)
	if err != nil {
		return Outcome{}, err
	}

	if event.Type != payment.EventPaymentSucceeded {
		r.logger.Debug("ignoring non-order event",
			"type", event.Type,
			"account", account.Label,
		)
		return Outcome{Status: StatusIgnored}, nil
	}

	if event.SessionID == "" {
		// Authenticated but malformed: acknowledge rather than trigger
		// provider retries that can never succeed.
		r.logger.Warn("confirmation event carries no session reference",
			"account", account.Label,
			"reference_id", event.ReferenceID,
		)
		return Outcome{Status: StatusIgnored}, nil
	}

	sess, err := r.store.Get(ctx, event.SessionID)
	if err != nil {
		if errs.IsNotFound(err) {
			r.logger.Warn("confirmation references unknown session",
				"session_id", event.SessionID,
				"account", account.Label,
			)
			return Outcome{Status: StatusIgnored}, nil
		}
		return Outcome{}, fmt.Errorf("loading session %s: %w", event.SessionID, err)
	}

	if sess.Processed() {
		r.logger.Info("duplicate confirmation for processed session",
			"session_id", sess.ID,
			"order_id", sess.OrderID,
		)
		return Outcome{
			Status:      StatusAlreadyProcessed,
			OrderID:     sess.OrderID,
			OrderNumber: sess.OrderNumber,
		}, nil
	}

	total, err := sess.Totals.Total()
	if err != nil {
		return Outcome{}, fmt.Errorf("session %s totals: %w", sess.ID, err)
	}

	created, err := r.orders.CreateOrder(ctx, orders.Draft{
		SessionID:        sess.ID,
		Cart:             sess.Cart,
		Customer:         sess.Customer,
		PaymentReference: sess.PaymentReferenceID,
		AccountLabel:     sess.AccountLabel,
		TotalMinor:       total.AmountMinor,
		Currency:         string(total.Currency),
	})
	if err != nil {
		// Payment is confirmed but the order is not created: leave the
		// session unprocessed so an out-of-band pass can retry.
		return Outcome{}, &errs.OrderCreationError{SessionID: sess.ID, Err: err}
	}

	applied, current, err := r.store.MarkProcessedIfAbsent(ctx, sess.ID, created.OrderID, created.OrderNumber, r.clock.Now())
	if err != nil {
		return Outcome{}, fmt.Errorf("marking session %s processed: %w", sess.ID, err)
	}

	if !applied {
		// A concurrent delivery won the mark race after we created an
		// order. The stored order is the one of record; ours needs manual
		// review, which is why the conflict is logged loudly.
		r.logger.Error("concurrent reconciliation created a competing order",
			"session_id", sess.ID,
			"stored_order_id", current.OrderID,
			"competing_order_id", created.OrderID,
		)
		return Outcome{
			Status:      StatusAlreadyProcessed,
			OrderID:     current.OrderID,
			OrderNumber: current.OrderNumber,
		}, nil
	}

	r.logger.Info("order created from payment confirmation",
		"session_id", sess.ID,
		"order_id", created.OrderID,
		"order_number", created.OrderNumber,
		"account", account.Label,
	)

	if env, envErr := events.NewEnvelope(events.SubjectOrderCreated, sess.ID, &events.OrderCreatedEvent{
		SessionID:    sess.ID,
		OrderID:      created.OrderID,
		OrderNumber:  created.OrderNumber,
		AccountLabel: account.Label,
	}); envErr == nil {
		if pubErr := r.publisher.Publish(ctx, events.SubjectOrderCreated, env); pubErr != nil {
			r.logger.Warn("failed to publish order created event", "error", pubErr)
		}
	}

	return Outcome{
		Status:      StatusProcessed,
		OrderID:     created.OrderID,
		OrderNumber: created.OrderNumber,
	}, nil
}

// authenticate scans eligible accounts in rotation order and returns the
// first whose webhook secret verifies the payload. The scan is sequential on
// purpose: list order is the documented tie-break if a misconfiguration lets
// several secrets validate the same payload.
func (r *Reconciler) authenticate(ctx context.Context, rawPayload []byte, signatureHeader string) (payment.Event, accounts.Account, error) {
	all, err := r.registry.List(ctx)
	if err != nil {
		return payment.Event{}, accounts.Account{}, fmt.Errorf("loading account registry: %w", err)
	}

	eligible := accounts.EligibleSorted(all)
	for _, acct := range eligible {
		if acct.WebhookSecret == "" {
			continue
		}
		event, verr := r.providers(acct).VerifyWebhook(rawPayload, signatureHeader)
		if verr == nil {
			return event, acct, nil
		}
	}

	// Which accounts were tried stays internal; the caller only learns that
	// authentication failed.
	r.logger.Warn("webhook matched no configured account",
		"accounts_scanned", len(eligible),
		"payload_bytes", len(rawPayload),
	)

	if env, envErr := events.NewEnvelope(events.SubjectWebhookUnmatched, "", &events.WebhookUnmatchedEvent{
		AccountsScanned: len(eligible),
		PayloadBytes:    len(rawPayload),
	}); envErr == nil {
		if pubErr := r.publisher.Publish(ctx, events.SubjectWebhookUnmatched, env); pubErr != nil {
			r.logger.Warn("failed to publish unmatched webhook event", "error", pubErr)
		}
	}

	return payment.Event{}, accounts.Account{}, &errs.SignatureError{Msg: "webhook signature verification failed"}
}

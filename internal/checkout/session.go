// Package checkout holds the durable per-checkout session record and its
// store contract. The session is the coordination point for payment
// idempotency: the payment reference is created at most once and the order
// fields are write-once.
package checkout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/common/money"
)

// Totals are the session amounts in minor units.
type Totals struct {
	Subtotal money.Money `json:"subtotal"`
	Shipping money.Money `json:"shipping"`
	Discount money.Money `json:"discount"`
}

// Total returns subtotal + shipping - discount.
func (t Totals) Total() (money.Money, error) {
	sum, err := t.Subtotal.Add(t.Shipping)
	if err != nil {
		return money.Money{}, err
	}
	return sum.Sub(t.Discount)
}

// CustomerInfo is the contact and shipping data captured during checkout.
type CustomerInfo struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone,omitempty"`
	Address1  string `json:"address1"`
	Address2  string `json:"address2,omitempty"`
	City      string `json:"city"`
	Zip       string `json:"zip"`
	Province  string `json:"province,omitempty"`
	Country   string `json:"country"`
}

// Session is the durable per-checkout record. The ID is created once by the
// cart-capture flow and never changes. OrderID and OrderNumber are
// write-once: once set they are never cleared or overwritten.
type Session struct {
	ID       string          `json:"id"`
	Cart     json.RawMessage `json:"cart"`
	Totals   Totals          `json:"totals"`
	Customer *CustomerInfo   `json:"customer,omitempty"`

	PaymentReferenceID     string `json:"payment_reference_id,omitempty"`
	PaymentReferenceSecret string `json:"-"`
	AccountLabel           string `json:"account_label,omitempty"`

	OrderID     string     `json:"order_id,omitempty"`
	OrderNumber string     `json:"order_number,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Processed reports whether an order has already been created for the
// session.
func (s *Session) Processed() bool {
	return s.OrderID != ""
}

// HasPaymentReference reports whether a provider payment reference exists.
func (s *Session) HasPaymentReference() bool {
	return s.PaymentReferenceID != ""
}

// Store persists checkout sessions. The two conditional operations are
// single atomic writes: a plain read followed by a write would reintroduce
// the duplicate-reference and duplicate-order races this store exists to
// close.
type Store interface {
	Get(ctx context.Context, sessionID string) (*Session, error)

	// CreatePaymentReferenceIfAbsent sets the payment reference fields only
	// if no reference is stored yet. It reports whether the write applied
	// and returns the current row either way.
	CreatePaymentReferenceIfAbsent(ctx context.Context, sessionID, referenceID, referenceSecret, accountLabel string) (bool, *Session, error)

	// MarkProcessedIfAbsent sets the order fields only if order_id is still
	// absent. It reports whether the write applied and returns the current
	// row either way.
	MarkProcessedIfAbsent(ctx context.Context, sessionID, orderID, orderNumber string, processedAt time.Time) (bool, *Session, error)

	// UpdateCustomer replaces the customer contact data on the session.
	UpdateCustomer(ctx context.Context, sessionID string, customer CustomerInfo) error
}

package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/common/database"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/common/errs"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/common/money"
)

const sessionColumns = `
	id, cart, subtotal_minor, shipping_minor, discount_minor, currency,
	customer, payment_reference_id, payment_reference_secret, account_label,
	order_id, order_number, processed_at, created_at, updated_at
`

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL session store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get retrieves a checkout session by ID.
func (s *PostgresStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM checkout_sessions WHERE id = $1`

	sess, err := scanSession(s.db.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &errs.NotFoundError{Kind: "checkout session", ID: sessionID}
		}
		return nil, err
	}
	return sess, nil
}

// CreatePaymentReferenceIfAbsent atomically stores the payment reference,
// applying only when no reference exists yet. The conditional update and the
// re-read of the current row run in one transaction so a concurrent creator
// cannot slip in between.
func (s *PostgresStore) CreatePaymentReferenceIfAbsent(ctx context.Context, sessionID, referenceID, referenceSecret, accountLabel string) (bool, *Session, error) {
	update := `
		UPDATE checkout_sessions
		SET payment_reference_id = $2,
		    payment_reference_secret = $3,
		    account_label = $4,
		    updated_at = now()
		WHERE id = $1 AND payment_reference_id IS NULL
	`

	var created bool
	var current *Session
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, update, sessionID, referenceID, referenceSecret, accountLabel)
		if err != nil {
			return err
		}
		created = tag.RowsAffected() == 1

		row := tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM checkout_sessions WHERE id = $1`, sessionID)
		current, err = scanSession(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return &errs.NotFoundError{Kind: "checkout session", ID: sessionID}
		}
		return err
	})
	if err != nil {
		return false, nil, err
	}
	return created, current, nil
}

// MarkProcessedIfAbsent atomically records the created order, applying only
// while order_id is still unset. The loser of a duplicate-delivery race gets
// applied=false plus the winner's row.
func (s *PostgresStore) MarkProcessedIfAbsent(ctx context.Context, sessionID, orderID, orderNumber string, processedAt time.Time) (bool, *Session, error) {
	update := `
		UPDATE checkout_sessions
		SET order_id = $2,
		    order_number = $3,
		    processed_at = $4,
		    updated_at = now()
		WHERE id = $1 AND order_id IS NULL
	`

	var applied bool
	var current *Session
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, update, sessionID, orderID, orderNumber, processedAt)
		if err != nil {
			return err
		}
		applied = tag.RowsAffected() == 1

		row := tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM checkout_sessions WHERE id = $1`, sessionID)
		current, err = scanSession(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return &errs.NotFoundError{Kind: "checkout session", ID: sessionID}
		}
		return err
	})
	if err != nil {
		return false, nil, err
	}
	return applied, current, nil
}

// UpdateCustomer replaces the customer contact data on the session.
func (s *PostgresStore) UpdateCustomer(ctx context.Context, sessionID string, customer CustomerInfo) error {
	data, err := json.Marshal(customer)
	if err != nil {
		return err
	}

	query := `
		UPDATE checkout_sessions
		SET customer = $2, updated_at = now()
		WHERE id = $1
	`

	tag, err := s.db.Exec(ctx, query, sessionID, data)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &errs.NotFoundError{Kind: "checkout session", ID: sessionID}
	}
	return nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var sess Session
	var customer []byte
	var currency string
	var refID, refSecret, accountLabel, orderID, orderNumber *string

	err := row.Scan(
		&sess.ID, &sess.Cart,
		&sess.Totals.Subtotal.AmountMinor, &sess.Totals.Shipping.AmountMinor,
		&sess.Totals.Discount.AmountMinor, &currency,
		&customer, &refID, &refSecret, &accountLabel,
		&orderID, &orderNumber, &sess.ProcessedAt,
		&sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.Totals.Subtotal.Currency = money.Currency(currency)
	sess.Totals.Shipping.Currency = money.Currency(currency)
	sess.Totals.Discount.Currency = money.Currency(currency)

	if refID != nil {
		sess.PaymentReferenceID = *refID
	}
	if refSecret != nil {
		sess.PaymentReferenceSecret = *refSecret
	}
	if accountLabel != nil {
		sess.AccountLabel = *accountLabel
	}
	if orderID != nil {
		sess.OrderID = *orderID
	}
	if orderNumber != nil {
		sess.OrderNumber = *orderNumber
	}
	if len(customer) > 0 {
		var c CustomerInfo
		if err := json.Unmarshal(customer, &c); err == nil {
			sess.Customer = &c
		}
	}

	return &sess, nil
}

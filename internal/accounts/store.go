package accounts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/common/database"
)

// PostgresRegistry implements Registry using PostgreSQL.
type PostgresRegistry struct {
	db *database.DB
}

// NewPostgresRegistry creates a new PostgreSQL registry.
func NewPostgresRegistry(db *database.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

// List returns all configured payment accounts.
func (r *PostgresRegistry) List(ctx context.Context) ([]Account, error) {
	query := `
		SELECT label, secret_key, public_key, webhook_secret,
		       active, sort_order, merchant_site, display_titles, last_used_at
		FROM payment_accounts
		ORDER BY sort_order ASC, label ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		var titles []byte
		var lastUsed *time.Time

		err := rows.Scan(
			&a.Label, &a.Secret, &a.PublicKey, &a.WebhookSecret,
			&a.Active, &a.Order, &a.MerchantSite, &titles, &lastUsed,
		)
		if err != nil {
			return nil, err
		}

		a.LastUsedAt = lastUsed
		_ = json.Unmarshal(titles, &a.DisplayTitles)
		if len(a.DisplayTitles) > MaxDisplayTitles {
			a.DisplayTitles = a.DisplayTitles[:MaxDisplayTitles]
		}

		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// SetLastUsed records the audit timestamp for an account.
func (r *PostgresRegistry) SetLastUsed(ctx context.Context, label string, t time.Time) error {
	query := `
		UPDATE payment_accounts
		SET last_used_at = $2, updated_at = now()
		WHERE label = $1
	`

	tag, err := r.db.Exec(ctx, query, label, t)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

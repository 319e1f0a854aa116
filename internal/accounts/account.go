// Package accounts manages the catalog of payment-account credential sets
// and the time-sliced rotation that picks the account of record for a
// checkout.
package accounts

import (
	"context"
	"sort"
	"time"
)

// MaxDisplayTitles bounds the ordered list of storefront display titles an
// account may carry.
const MaxDisplayTitles = 10

// Account is one independently-credentialed payment account.
type Account struct {
	Label         string     `json:"label"`
	Secret        string     `json:"-"`
	PublicKey     string     `json:"public_key"`
	WebhookSecret string     `json:"-"`
	Active        bool       `json:"active"`
	Order         int        `json:"order"`
	MerchantSite  string     `json:"merchant_site,omitempty"`
	DisplayTitles []string   `json:"display_titles,omitempty"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
}

// Eligible reports whether the account may serve checkouts: it must be
// active and carry both charge and publishable credentials.
func (a Account) Eligible() bool {
	return a.Active && a.Secret != "" && a.PublicKey != ""
}

// Registry is the durable catalog of payment accounts.
type Registry interface {
	List(ctx context.Context) ([]Account, error)
	// SetLastUsed records an audit timestamp on an account. The value is
	// informational only and never feeds back into selection.
	SetLastUsed(ctx context.Context, label string, t time.Time) error
}

// EligibleSorted filters to eligible accounts and orders them by rank,
// breaking ties by label so the ordering is deterministic.
func EligibleSorted(accounts []Account) []Account {
	eligible := make([]Account, 0, len(accounts))
	for _, a := range accounts {
		if a.Eligible() {
			eligible = append(eligible, a)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Order != eligible[j].Order {
			return eligible[i].Order < eligible[j].Order
		}
		return eligible[i].Label < eligible[j].Label
	})
	return eligible
}

package accounts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/common/clock"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/common/errs"
)

const (
	// WindowDuration is the fixed rotation slice. Every checkout started
	// within the same window lands on the same account.
	WindowDuration = 6 * time.Hour

	// lastUsedThrottle bounds audit-write volume to the registry.
	lastUsedThrottle = 15 * time.Minute
)

// WindowIndex returns the rotation window a given instant falls into.
func WindowIndex(now time.Time) int64 {
	return now.Unix() / int64(WindowDuration/time.Second)
}

// Select picks the account of record for the given instant. It is a pure
// function: identical inputs always yield the identical account.
func Select(accounts []Account, now time.Time) (Account, error) {
	eligible := EligibleSorted(accounts)
	if len(eligible) == 0 {
		return Account{}, &errs.ConfigurationError{Msg: "no eligible payment account configured"}
	}
	slot := WindowIndex(now) % int64(len(eligible))
	return eligible[slot], nil
}

// Selector loads the registry and applies Select, recording a throttled
// lastUsedAt audit timestamp on the chosen account.
type Selector struct {
	registry Registry
	clock    clock.Clock
	logger   *slog.Logger
}

// NewSelector creates a rotation selector.
func NewSelector(registry Registry, clk clock.Clock, logger *slog.Logger) *Selector {
	return &Selector{
		registry: registry,
		clock:    clk,
		logger:   logger,
	}
}

// SelectAccount returns the account of record for the current rotation
// window.
func (s *Selector) SelectAccount(ctx context.Context) (Account, error) {
	all, err := s.registry.List(ctx)
	if err != nil {
		return Account{}, fmt.Errorf("loading account registry: %w", err)
	}

	now := s.clock.Now()
	chosen, err := Select(all, now)
	if err != nil {
		return Account{}, err
	}

	s.recordLastUsed(ctx, chosen, now)

	s.logger.Debug("account selected",
		"label", chosen.Label,
		"window", WindowIndex(now),
	)

	return chosen, nil
}

// recordLastUsed is best-effort audit only. Failures are logged and never
// surfaced; the timestamp must not influence selection.
func (s *Selector) recordLastUsed(ctx context.Context, a Account, now time.Time) {
	if a.LastUsedAt != nil && now.Sub(*a.LastUsedAt) < lastUsedThrottle {
		return
	}
	if err := s.registry.SetLastUsed(ctx, a.Label, now); err != nil {
		s.logger.Warn("failed to record account last_used_at",
			"label", a.Label,
			"error", err,
		)
	}
}

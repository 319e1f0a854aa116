package accounts_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/accounts"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/common/clock"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/common/errs"
)

func windowStart(index int64) time.Time {
	return time.Unix(index*int64(accounts.WindowDuration/time.Second), 0).UTC()
}

func eligibleAccount(label string, order int) accounts.Account {
	return accounts.Account{
		Label:     label,
		Secret:    "sk_" + label,
		PublicKey: "pk_" + label,
		Active:    true,
		Order:     order,
	}
}

type fakeRegistry struct {
	accounts  []accounts.Account
	lastUsed  map[string]time.Time
	listErr   error
	setCalled int
}

func (f *fakeRegistry) List(context.Context) ([]accounts.Account, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.accounts, nil
}

func (f *fakeRegistry) SetLastUsed(_ context.Context, label string, t time.Time) error {
	if f.lastUsed == nil {
		f.lastUsed = make(map[string]time.Time)
	}
	f.lastUsed[label] = t
	f.setCalled++
	return nil
}

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSelect_IsDeterministicWithinWindow(t *testing.T) {
	accts := []accounts.Account{
		eligibleAccount("alpha", 1),
		eligibleAccount("beta", 2),
		eligibleAccount("gamma", 3),
	}
	now := windowStart(5000).Add(37 * time.Minute)

	first, err := accounts.Select(accts, now)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := accounts.Select(accts, now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		require.Equal(t, first.Label, again.Label)
	}
}

func TestSelect_CyclesThroughAccountsInOrder(t *testing.T) {
	accts := []accounts.Account{
		eligibleAccount("c-account", 3),
		eligibleAccount("a-account", 1),
		eligibleAccount("b-account", 2),
	}

	// Pick a window index divisible by len so the cycle starts at rank 0.
	base := int64(3 * 1000)
	var picked []string
	for i := int64(0); i < 6; i++ {
		a, err := accounts.Select(accts, windowStart(base+i))
		require.NoError(t, err)
		picked = append(picked, a.Label)
	}

	require.Equal(t, []string{
		"a-account", "b-account", "c-account",
		"a-account", "b-account", "c-account",
	}, picked)
}

func TestSelect_TwoAccountsAlternateAcrossWindows(t *testing.T) {
	x := eligibleAccount("x", 1)
	y := eligibleAccount("y", 2)
	accts := []accounts.Account{x, y}

	a100, err := accounts.Select(accts, windowStart(100))
	require.NoError(t, err)
	require.Equal(t, "x", a100.Label)

	a101, err := accounts.Select(accts, windowStart(101))
	require.NoError(t, err)
	require.Equal(t, "y", a101.Label)

	a102, err := accounts.Select(accts, windowStart(102))
	require.NoError(t, err)
	require.Equal(t, "x", a102.Label)
}

func TestSelect_SkipsIneligibleAccounts(t *testing.T) {
	inactive := eligibleAccount("inactive", 0)
	inactive.Active = false
	noSecret := eligibleAccount("no-secret", 1)
	noSecret.Secret = ""
	noPublic := eligibleAccount("no-public", 2)
	noPublic.PublicKey = ""
	only := eligibleAccount("only", 3)

	accts := []accounts.Account{inactive, noSecret, noPublic, only}

	for i := int64(0); i < 4; i++ {
		a, err := accounts.Select(accts, windowStart(200+i))
		require.NoError(t, err)
		require.Equal(t, "only", a.Label)
	}
}

func TestSelect_NoEligibleAccountIsConfigurationError(t *testing.T) {
	inactive := eligibleAccount("inactive", 0)
	inactive.Active = false

	_, err := accounts.Select([]accounts.Account{inactive}, windowStart(1))
	require.Error(t, err)
	require.True(t, errs.IsConfiguration(err))

	_, err = accounts.Select(nil, windowStart(1))
	require.True(t, errs.IsConfiguration(err))
}

func TestSelect_EqualRankTieBrokenByLabel(t *testing.T) {
	accts := []accounts.Account{
		eligibleAccount("zeta", 1),
		eligibleAccount("alpha", 1),
	}

	base := int64(2 * 777)
	first, err := accounts.Select(accts, windowStart(base))
	require.NoError(t, err)
	require.Equal(t, "alpha", first.Label)

	second, err := accounts.Select(accts, windowStart(base+1))
	require.NoError(t, err)
	require.Equal(t, "zeta", second.Label)
}

func TestSelector_RecordsLastUsed(t *testing.T) {
	reg := &fakeRegistry{accounts: []accounts.Account{eligibleAccount("solo", 1)}}
	now := windowStart(400)
	sel := accounts.NewSelector(reg, clock.Fixed{T: now}, noopLogger())

	chosen, err := sel.SelectAccount(context.Background())
	require.NoError(t, err)
	require.Equal(t, "solo", chosen.Label)
	require.Equal(t, now, reg.lastUsed["solo"])
}

func TestSelector_ThrottlesLastUsedWrites(t *testing.T) {
	now := windowStart(400)
	recent := now.Add(-time.Minute)
	acct := eligibleAccount("solo", 1)
	acct.LastUsedAt = &recent

	reg := &fakeRegistry{accounts: []accounts.Account{acct}}
	sel := accounts.NewSelector(reg, clock.Fixed{T: now}, noopLogger())

	_, err := sel.SelectAccount(context.Background())
	require.NoError(t, err)
	require.Zero(t, reg.setCalled)

	// A stale timestamp gets refreshed.
	stale := now.Add(-time.Hour)
	reg.accounts[0].LastUsedAt = &stale
	_, err = sel.SelectAccount(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, reg.setCalled)
}

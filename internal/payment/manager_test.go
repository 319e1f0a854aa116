package payment_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/accounts"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/checkout"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/common/clock"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/common/database"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/common/errs"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/common/money"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/events"
	"github.com/mirkogalizia/checkout-obliqpay-sub000/internal/payment"
)

type memStore struct {
	sessions map[string]*checkout.Session

	// preCreate runs just before CreatePaymentReferenceIfAbsent applies,
	// letting tests interleave a competing write.
	preCreate func()
}

func newMemStore(sessions ...*checkout.Session) *memStore {
	s := &memStore{sessions: make(map[string]*checkout.Session)}
	for _, sess := range sessions {
		s.sessions[sess.ID] = sess
	}
	return s
}

func (s *memStore) Get(_ context.Context, sessionID string) (*checkout.Session, error) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, &errs.NotFoundError{Kind: "checkout session", ID: sessionID}
	}
	cp := *sess
	return &cp, nil
}

func (s *memStore) CreatePaymentReferenceIfAbsent(ctx context.Context, sessionID, referenceID, referenceSecret, accountLabel string) (bool, *checkout.Session, error) {
	if s.preCreate != nil {
		s.preCreate()
		s.preCreate = nil
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		return false, nil, database.ErrNotFound
	}
	if sess.PaymentReferenceID != "" {
		cur, _ := s.Get(ctx, sessionID)
		return false, cur, nil
	}
	sess.PaymentReferenceID = referenceID
	sess.PaymentReferenceSecret = referenceSecret
	sess.AccountLabel = accountLabel
	cur, _ := s.Get(ctx, sessionID)
	return true, cur, nil
}

func (s *memStore) MarkProcessedIfAbsent(ctx context.Context, sessionID, orderID, orderNumber string, processedAt time.Time) (bool, *checkout.Session, error) {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return false, nil, database.ErrNotFound
	}
	if sess.OrderID != "" {
		cur, _ := s.Get(ctx, sessionID)
		return false, cur, nil
	}
	sess.OrderID = orderID
	sess.OrderNumber = orderNumber
	sess.ProcessedAt = &processedAt
	cur, _ := s.Get(ctx, sessionID)
	return true, cur, nil
}

func (s *memStore) UpdateCustomer(_ context.Context, sessionID string, customer checkout.CustomerInfo) error {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return database.ErrNotFound
	}
	sess.Customer = &customer
	return nil
}

type fakeProvider struct {
	account accounts.Account

	createCalls int
	updateCalls int
	lastUpdated string

	createErr error
	updateErr error

	// emptySecretOnUpdate mimics providers that omit the client secret from
	// update responses.
	emptySecretOnUpdate bool
}

func (p *fakeProvider) CreateReference(_ context.Context, req payment.ReferenceRequest) (payment.Reference, error) {
	p.createCalls++
	if p.createErr != nil {
		return payment.Reference{}, p.createErr
	}
	return payment.Reference{
		ID:           "pi_" + p.account.Label + "_" + req.SessionID,
		ClientSecret: "cs_" + p.account.Label,
	}, nil
}

func (p *fakeProvider) UpdateReference(_ context.Context, referenceID string, _ payment.ReferenceRequest) (payment.Reference, error) {
	p.updateCalls++
	p.lastUpdated = referenceID
	if p.updateErr != nil {
		return payment.Reference{}, p.updateErr
	}
	if p.emptySecretOnUpdate {
		return payment.Reference{ID: referenceID}, nil
	}
	return payment.Reference{ID: referenceID, ClientSecret: "cs_refreshed_" + p.account.Label}, nil
}

func (p *fakeProvider) VerifyWebhook([]byte, string) (payment.Event, error) {
	return payment.Event{}, errors.New("not implemented")
}

// providerSet hands out one fakeProvider per account label so tests can
// inspect calls per account.
type providerSet struct {
	byLabel map[string]*fakeProvider
}

func newProviderSet() *providerSet {
	return &providerSet{byLabel: make(map[string]*fakeProvider)}
}

func (ps *providerSet) factory(a accounts.Account) payment.Provider {
	if p, ok := ps.byLabel[a.Label]; ok {
		return p
	}
	p := &fakeProvider{account: a}
	ps.byLabel[a.Label] = p
	return p
}

type listRegistry struct {
	accounts []accounts.Account
}

func (r *listRegistry) List(context.Context) ([]accounts.Account, error) {
	return r.accounts, nil
}

func (r *listRegistry) SetLastUsed(context.Context, string, time.Time) error {
	return nil
}

func testAccount(label string, order int) accounts.Account {
	return accounts.Account{
		Label:     label,
		Secret:    "sk_" + label,
		PublicKey: "pk_" + label,
		Active:    true,
		Order:     order,
	}
}

func eur(amount int64) money.Money {
	return money.New(amount, "eur")
}

func testTotals(subtotal int64) checkout.Totals {
	return checkout.Totals{
		Subtotal: eur(subtotal),
		Shipping: eur(0),
		Discount: eur(0),
	}
}

func testCustomer() checkout.CustomerInfo {
	return checkout.CustomerInfo{
		Email:     "buyer@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Address1:  "1 Analytical Way",
		City:      "London",
		Zip:       "EC1A",
		Country:   "GB",
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newManager(store checkout.Store, reg accounts.Registry, ps *providerSet) *payment.Manager {
	sel := accounts.NewSelector(reg, clock.Fixed{T: time.Unix(0, 0).UTC()}, testLogger())
	return payment.NewManager(store, reg, sel, ps.factory, events.NopPublisher{}, testLogger())
}

func TestEnsurePaymentRequest_CreatesReferenceOnce(t *testing.T) {
	store := newMemStore(&checkout.Session{ID: "sess-1", Totals: testTotals(2500)})
	reg := &listRegistry{accounts: []accounts.Account{testAccount("primary", 1)}}
	ps := newProviderSet()
	mgr := newManager(store, reg, ps)

	res, err := mgr.EnsurePaymentRequest(context.Background(), "sess-1", testTotals(2500), testCustomer())
	require.NoError(t, err)
	require.Equal(t, "pk_primary", res.PublicKey)
	require.Equal(t, "cs_primary", res.ClientSecret)

	sess, err := store.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, "pi_primary_sess-1", sess.PaymentReferenceID)
	require.Equal(t, "primary", sess.AccountLabel)
	require.NotNil(t, sess.Customer)
	require.Equal(t, "buyer@example.com", sess.Customer.Email)
	require.Equal(t, 1, ps.byLabel["primary"].createCalls)
}

func TestEnsurePaymentRequest_SecondCallRefreshesNotReplaces(t *testing.T) {
	store := newMemStore(&checkout.Session{ID: "sess-1", Totals: testTotals(2500)})
	reg := &listRegistry{accounts: []accounts.Account{testAccount("primary", 1)}}
	ps := newProviderSet()
	mgr := newManager(store, reg, ps)

	_, err := mgr.EnsurePaymentRequest(context.Background(), "sess-1", testTotals(2500), testCustomer())
	require.NoError(t, err)

	res, err := mgr.EnsurePaymentRequest(context.Background(), "sess-1", testTotals(3100), testCustomer())
	require.NoError(t, err)
	require.Equal(t, "cs_refreshed_primary", res.ClientSecret)

	p := ps.byLabel["primary"]
	require.Equal(t, 1, p.createCalls)
	require.Equal(t, 1, p.updateCalls)
	require.Equal(t, "pi_primary_sess-1", p.lastUpdated)

	sess, err := store.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, "pi_primary_sess-1", sess.PaymentReferenceID)
}

func TestEnsurePaymentRequest_BelowMinimumIsValidationError(t *testing.T) {
	store := newMemStore(&checkout.Session{ID: "sess-1", Totals: testTotals(49)})
	reg := &listRegistry{accounts: []accounts.Account{testAccount("primary", 1)}}
	ps := newProviderSet()
	mgr := newManager(store, reg, ps)

	_, err := mgr.EnsurePaymentRequest(context.Background(), "sess-1", testTotals(49), testCustomer())
	require.Error(t, err)
	require.True(t, errs.IsValidation(err))
	require.Empty(t, ps.byLabel)
}

func TestEnsurePaymentRequest_CurrencyMismatchIsValidationError(t *testing.T) {
	totals := checkout.Totals{
		Subtotal: money.New(2500, "eur"),
		Shipping: money.New(500, "usd"),
		Discount: eur(0),
	}
	store := newMemStore(&checkout.Session{ID: "sess-1", Totals: totals})
	reg := &listRegistry{accounts: []accounts.Account{testAccount("primary", 1)}}
	mgr := newManager(store, reg, newProviderSet())

	_, err := mgr.EnsurePaymentRequest(context.Background(), "sess-1", totals, testCustomer())
	require.True(t, errs.IsValidation(err))
}

func TestEnsurePaymentRequest_UnknownSessionIsNotFound(t *testing.T) {
	store := newMemStore()
	reg := &listRegistry{accounts: []accounts.Account{testAccount("primary", 1)}}
	mgr := newManager(store, reg, newProviderSet())

	_, err := mgr.EnsurePaymentRequest(context.Background(), "missing", testTotals(2500), testCustomer())
	require.True(t, errs.IsNotFound(err))
}

func TestEnsurePaymentRequest_ProviderFailureIsPaymentProviderError(t *testing.T) {
	store := newMemStore(&checkout.Session{ID: "sess-1", Totals: testTotals(2500)})
	acct := testAccount("primary", 1)
	reg := &listRegistry{accounts: []accounts.Account{acct}}
	ps := newProviderSet()
	ps.byLabel["primary"] = &fakeProvider{account: acct, createErr: errors.New("rate limited")}
	mgr := newManager(store, reg, ps)

	_, err := mgr.EnsurePaymentRequest(context.Background(), "sess-1", testTotals(2500), testCustomer())
	require.True(t, errs.IsPaymentProvider(err))

	sess, getErr := store.Get(context.Background(), "sess-1")
	require.NoError(t, getErr)
	require.Empty(t, sess.PaymentReferenceID)
}

func TestEnsurePaymentRequest_NoEligibleAccountIsConfigurationError(t *testing.T) {
	store := newMemStore(&checkout.Session{ID: "sess-1", Totals: testTotals(2500)})
	reg := &listRegistry{}
	mgr := newManager(store, reg, newProviderSet())

	_, err := mgr.EnsurePaymentRequest(context.Background(), "sess-1", testTotals(2500), testCustomer())
	require.True(t, errs.IsConfiguration(err))
}

func TestEnsurePaymentRequest_LostRaceReusesWinnersReference(t *testing.T) {
	store := newMemStore(&checkout.Session{ID: "sess-1", Totals: testTotals(2500)})
	reg := &listRegistry{accounts: []accounts.Account{testAccount("primary", 1)}}
	ps := newProviderSet()
	mgr := newManager(store, reg, ps)

	// A competing call persists its reference between this call's provider
	// create and its conditional write.
	store.preCreate = func() {
		sess := store.sessions["sess-1"]
		sess.PaymentReferenceID = "pi_winner"
		sess.PaymentReferenceSecret = "cs_winner"
		sess.AccountLabel = "primary"
	}

	res, err := mgr.EnsurePaymentRequest(context.Background(), "sess-1", testTotals(2500), testCustomer())
	require.NoError(t, err)

	// The loser refreshed the winner's reference instead of replacing it.
	p := ps.byLabel["primary"]
	require.Equal(t, 1, p.createCalls)
	require.Equal(t, 1, p.updateCalls)
	require.Equal(t, "pi_winner", p.lastUpdated)
	require.Equal(t, "cs_refreshed_primary", res.ClientSecret)

	sess, err := store.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Equal(t, "pi_winner", sess.PaymentReferenceID)
}

func TestEnsurePaymentRequest_MissingAccountForStoredLabelIsConfigurationError(t *testing.T) {
	store := newMemStore(&checkout.Session{
		ID:                 "sess-1",
		Totals:             testTotals(2500),
		PaymentReferenceID: "pi_old",
		AccountLabel:       "retired",
	})
	reg := &listRegistry{accounts: []accounts.Account{testAccount("primary", 1)}}
	mgr := newManager(store, reg, newProviderSet())

	_, err := mgr.EnsurePaymentRequest(context.Background(), "sess-1", testTotals(2500), testCustomer())
	require.True(t, errs.IsConfiguration(err))
}

func TestEnsurePaymentRequest_EmptyRefreshSecretFallsBackToStored(t *testing.T) {
	acct := testAccount("primary", 1)
	store := newMemStore(&checkout.Session{
		ID:                     "sess-1",
		Totals:                 testTotals(2500),
		PaymentReferenceID:     "pi_old",
		PaymentReferenceSecret: "cs_stored",
		AccountLabel:           "primary",
	})
	reg := &listRegistry{accounts: []accounts.Account{acct}}
	ps := newProviderSet()
	p := &fakeProvider{account: acct, emptySecretOnUpdate: true}
	ps.byLabel["primary"] = p
	mgr := newManager(store, reg, ps)

	res, err := mgr.EnsurePaymentRequest(context.Background(), "sess-1", testTotals(2500), testCustomer())
	require.NoError(t, err)
	require.Equal(t, "cs_stored", res.ClientSecret)
	require.Equal(t, "pi_old", p.lastUpdated)
	require.Equal(t, "pk_primary", res.PublicKey)
}

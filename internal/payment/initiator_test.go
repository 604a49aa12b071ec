package payment

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/venue-bookings/internal/config"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var codeRe = regexp.MustCompile(`^GP-[0-9A-Z]+-[0-9A-Z]{4}$`)

func testConfig(mode string) *config.Config {
	return &config.Config{
		PaymentMode:   mode,
		PublicBaseURL: "https://venue.example",
		Providers: map[string]config.ProviderCredentials{
			"dahabia": {},
			"cib":     {APIKey: "key", SecretKey: "secret", BaseURL: "https://cib.example"},
		},
		StoreTimeout:     time.Second,
		TableSyncRetries: 3,
		TableSyncBackoff: time.Millisecond,
	}
}

func gardenReservation(store *memStore) domain.Reservation {
	date, _ := domain.ParseDate("2026-06-12")
	res := domain.NewGardenReservation(domain.Customer{Name: "Amina", Phone: "+213555000111"}, date, "family", 4, 4500, "")
	store.reservations[res.ID] = res
	return res
}

func initiation(res domain.Reservation, method string) InitiationRequest {
	return InitiationRequest{
		ReservationID:   res.ID.String(),
		ReservationType: string(res.Kind),
		Amount:          res.AmountDue,
		PaymentMethod:   method,
		CustomerName:    res.Customer.Name,
		CustomerPhone:   res.Customer.Phone,
	}
}

func TestInitiateProviderNotConfigured(t *testing.T) {
	store := newMemStore()
	res := gardenReservation(store)
	gw := &fakeGateway{}
	in := NewInitiator(testConfig(config.PaymentModeLive), store, gw, observability.NewNopLogger())

	_, err := in.Initiate(context.Background(), initiation(res, "dahabia"))

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrProviderNotConfigured))
	assert.Empty(t, store.intents)
	assert.Zero(t, gw.calls)
	assert.Equal(t, domain.StatusPending, store.reservation(res.ID).Status)
}

func TestInitiateStubMode(t *testing.T) {
	store := newMemStore()
	res := gardenReservation(store)
	gw := &fakeGateway{}
	in := NewInitiator(testConfig(config.PaymentModeStub), store, gw, observability.NewNopLogger())

	out, err := in.Initiate(context.Background(), initiation(res, "cib"))

	require.NoError(t, err)
	assert.Nil(t, out.PaymentURL)
	assert.Equal(t, domain.IntentPending, out.Status)
	assert.Regexp(t, codeRe, out.ConfirmationCode)
	assert.Zero(t, gw.calls)
	require.Contains(t, store.intents, out.PaymentID)
	assert.Equal(t, res.ID, store.intents[out.PaymentID].ReservationID)
	assert.Equal(t, domain.StatusPending, store.reservation(res.ID).Status)
}

func TestInitiateLiveMode(t *testing.T) {
	store := newMemStore()
	res := gardenReservation(store)
	gw := &fakeGateway{checkout: &Checkout{ProviderRef: "co_9", RedirectURL: "https://pay.example/co_9"}}
	in := NewInitiator(testConfig(config.PaymentModeLive), store, gw, observability.NewNopLogger())

	out, err := in.Initiate(context.Background(), initiation(res, "cib"))

	require.NoError(t, err)
	require.NotNil(t, out.PaymentURL)
	assert.Equal(t, "https://pay.example/co_9", *out.PaymentURL)
	assert.Equal(t, "co_9", store.intents[out.PaymentID].ProviderRef)
}

func TestLiveCheckoutToWebhookConfirmation(t *testing.T) {
	f := newWebhookFixture(true)
	res := f.restoReservation(4, domain.TableFree)
	gw := &fakeGateway{checkout: &Checkout{ProviderRef: "co_9", RedirectURL: "https://pay.example/co_9"}}
	in := NewInitiator(testConfig(config.PaymentModeLive), f.store, gw, observability.NewNopLogger())

	out, err := in.Initiate(context.Background(), initiation(res, "cib"))
	require.NoError(t, err)
	assert.Equal(t, out.PaymentID, gw.last.PaymentID)
	assert.Equal(t, res.ID, gw.last.ReservationID)
	assert.Equal(t, domain.KindResto, gw.last.ReservationKind)

	// the provider only knows what it was given at checkout
	result, err := f.proc.Process(context.Background(), WebhookEvent{
		PaymentID:       gw.last.PaymentID.String(),
		ReservationID:   gw.last.ReservationID.String(),
		ReservationType: string(gw.last.ReservationKind),
		Status:          "completed",
		TransactionID:   "co_9-tx",
		PaymentMethod:   string(gw.last.Method),
	})

	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result)
	assert.Equal(t, domain.StatusConfirmed, f.store.reservation(res.ID).Status)
	assert.Equal(t, res.ID, *f.store.table(4).HeldBy)
	assert.Equal(t, domain.IntentSucceeded, f.store.intents[out.PaymentID].Status)
}

func TestInitiateGatewayFailures(t *testing.T) {
	for _, want := range []error{domain.ErrPaymentDeclined, domain.ErrProviderUnavailable} {
		t.Run(want.Error(), func(t *testing.T) {
			store := newMemStore()
			res := gardenReservation(store)
			gw := &fakeGateway{err: errors.Wrap(want, "cib checkout")}
			in := NewInitiator(testConfig(config.PaymentModeLive), store, gw, observability.NewNopLogger())

			_, err := in.Initiate(context.Background(), initiation(res, "cib"))

			assert.True(t, errors.Is(err, want))
			assert.Empty(t, store.intents)
		})
	}
}

func TestInitiateRejectsBadRequests(t *testing.T) {
	store := newMemStore()
	res := gardenReservation(store)
	cancelled := gardenReservation(store)
	cancelled.Status = domain.StatusCancelled
	store.reservations[cancelled.ID] = cancelled

	tests := []struct {
		name string
		mut  func(r *InitiationRequest)
		want error
	}{
		{"bad phone", func(r *InitiationRequest) { r.CustomerPhone = "abc" }, domain.ErrValidation},
		{"zero amount", func(r *InitiationRequest) { r.Amount = 0 }, domain.ErrValidation},
		{"unknown method", func(r *InitiationRequest) { r.PaymentMethod = "paypal" }, domain.ErrValidation},
		{"bad email", func(r *InitiationRequest) { r.CustomerEmail = "nope" }, domain.ErrValidation},
		{"amount mismatch", func(r *InitiationRequest) { r.Amount = 10 }, domain.ErrValidation},
		{"wrong kind", func(r *InitiationRequest) { r.ReservationType = "resto" }, domain.ErrNotFound},
		{"cancelled reservation", func(r *InitiationRequest) { r.ReservationID = cancelled.ID.String() }, domain.ErrValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := initiation(res, "cib")
			tc.mut(&req)
			in := NewInitiator(testConfig(config.PaymentModeStub), store, &fakeGateway{}, observability.NewNopLogger())

			_, err := in.Initiate(context.Background(), req)

			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			assert.Empty(t, store.intents)
		})
	}
}

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/venue-bookings/internal/config"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	return NewClient(map[string]config.ProviderCredentials{
		"cib": {APIKey: "key", SecretKey: "secret", BaseURL: url},
	}, 2*time.Second)
}

func checkoutReq(method domain.PaymentMethod) payment.CheckoutRequest {
	return payment.CheckoutRequest{
		PaymentID:        uuid.New(),
		ReservationKind:  domain.KindResto,
		Method:           method,
		Amount:           4500,
		ConfirmationCode: "GP-ABC-1234",
		ReservationID:    uuid.New(),
		Customer:         domain.Customer{Name: "Amina", Phone: "+213555000111"},
		ReturnURL:        "https://venue.example/reservation/confirmation",
	}
}

func TestCreateCheckout(t *testing.T) {
	req := checkoutReq(domain.MethodCIB)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/checkouts", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var body checkoutBody
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "GP-ABC-1234", body.OrderNumber)
		assert.EqualValues(t, 4500, body.Amount)
		assert.Equal(t, req.PaymentID.String(), body.Metadata.PaymentID)
		assert.Equal(t, req.ReservationID.String(), body.Metadata.ReservationID)
		assert.Equal(t, "resto", body.Metadata.ReservationType)

		raw, _ := json.Marshal(body)
		ts, _ := strconv.ParseInt(r.Header.Get(payment.TimestampHeader), 10, 64)
		assert.Equal(t, payment.Sign("secret", ts, raw), r.Header.Get(payment.SignatureHeader))

		json.NewEncoder(w).Encode(map[string]string{"checkout_id": "co_1", "form_url": "https://pay.example/co_1"})
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL).CreateCheckout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "co_1", out.ProviderRef)
	assert.Equal(t, "https://pay.example/co_1", out.RedirectURL)
}

func TestCreateCheckoutErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"declined", http.StatusPaymentRequired, domain.ErrPaymentDeclined},
		{"bad request", http.StatusUnprocessableEntity, domain.ErrPaymentDeclined},
		{"provider down", http.StatusBadGateway, domain.ErrProviderUnavailable},
		{"throttled", http.StatusTooManyRequests, domain.ErrProviderUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).CreateCheckout(context.Background(), checkoutReq(domain.MethodCIB))
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestCreateCheckoutNonJSONResponses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
		reason string
	}{
		{"declined with html body", http.StatusBadRequest, domain.ErrPaymentDeclined, "<html>card refused</html>"},
		{"success with html body", http.StatusOK, domain.ErrProviderUnavailable, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte("<html>card refused</html>"))
			}))
			defer srv.Close()

			_, err := newTestClient(srv.URL).CreateCheckout(context.Background(), checkoutReq(domain.MethodCIB))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			if tc.reason != "" {
				assert.Contains(t, err.Error(), tc.reason)
			}
		})
	}
}

func TestCreateCheckoutUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).CreateCheckout(context.Background(), checkoutReq(domain.MethodCIB))
	assert.True(t, errors.Is(err, domain.ErrProviderUnavailable), "got %v", err)
}

func TestCreateCheckoutNotConfigured(t *testing.T) {
	_, err := newTestClient("http://unused").CreateCheckout(context.Background(), checkoutReq(domain.MethodDahabia))
	assert.True(t, errors.Is(err, domain.ErrProviderNotConfigured))
}

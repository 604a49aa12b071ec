// Package gateway talks to the hosted checkout API of the payment providers.
// Both providers expose the same minimal contract: create a checkout for an
// order number and redirect the customer to the returned form URL.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/venue-bookings/internal/config"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/payment"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxReasonLen = 200

type Client struct {
	http      *http.Client
	providers map[string]config.ProviderCredentials
}

func NewClient(providers map[string]config.ProviderCredentials, timeout time.Duration) *Client {
	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		providers: providers,
	}
}

// checkoutMetadata is echoed back verbatim in the provider's webhook.
type checkoutMetadata struct {
	PaymentID       string `json:"payment_id"`
	ReservationID   string `json:"reservation_id"`
	ReservationType string `json:"reservation_type"`
}

type checkoutBody struct {
	OrderNumber string           `json:"order_number"`
	Metadata    checkoutMetadata `json:"metadata"`
	Amount      int64            `json:"amount"`
	Currency    string           `json:"currency"`
	ReturnURL   string           `json:"return_url"`
	Description string           `json:"description"`
	Customer    struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
		Email string `json:"email,omitempty"`
	} `json:"customer"`
}

type checkoutResponse struct {
	CheckoutID string `json:"checkout_id"`
	FormURL    string `json:"form_url"`
	Error      string `json:"error"`
}

func (c *Client) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.Checkout, error) {
	creds, ok := c.providers[string(req.Method)]
	if !ok || !creds.Configured() {
		return nil, errors.Wrapf(domain.ErrProviderNotConfigured, "method %s", req.Method)
	}

	var body checkoutBody
	body.OrderNumber = req.ConfirmationCode
	body.Metadata = checkoutMetadata{
		PaymentID:       req.PaymentID.String(),
		ReservationID:   req.ReservationID.String(),
		ReservationType: string(req.ReservationKind),
	}
	body.Amount = req.Amount
	body.Currency = "DZD"
	body.ReturnURL = req.ReturnURL
	body.Description = "Reservation " + req.ReservationID.String()
	body.Customer.Name = req.Customer.Name
	body.Customer.Phone = req.Customer.Phone
	body.Customer.Email = req.Customer.Email
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, creds.BaseURL+"/checkouts", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	ts := time.Now().Unix()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+creds.APIKey)
	httpReq.Header.Set(payment.TimestampHeader, strconv.FormatInt(ts, 10))
	httpReq.Header.Set(payment.SignatureHeader, payment.Sign(creds.SecretKey, ts, payload))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "%s checkout", req.Method), domain.ErrProviderUnavailable)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "read checkout response"), domain.ErrProviderUnavailable)
	}
	var out checkoutResponse
	decodeErr := json.Unmarshal(raw, &out)

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.Wrapf(domain.ErrProviderUnavailable, "%s checkout returned %d", req.Method, resp.StatusCode)
	case resp.StatusCode >= 400:
		reason := out.Error
		if decodeErr != nil || reason == "" {
			reason = truncate(string(raw), maxReasonLen)
		}
		return nil, errors.Wrapf(domain.ErrPaymentDeclined, "%s checkout returned %d: %s", req.Method, resp.StatusCode, reason)
	}
	if decodeErr != nil {
		return nil, errors.Mark(errors.Wrapf(decodeErr, "%s checkout response", req.Method), domain.ErrProviderUnavailable)
	}
	if out.FormURL == "" {
		return nil, errors.Wrapf(domain.ErrProviderUnavailable, "%s checkout response without form_url", req.Method)
	}
	return &payment.Checkout{ProviderRef: out.CheckoutID, RedirectURL: out.FormURL}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

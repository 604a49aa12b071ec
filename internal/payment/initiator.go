package payment

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/venue-bookings/internal/config"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/observability"
	"github.com/robertarktes/venue-bookings/internal/validation"
)

type InitiationRequest struct {
	ReservationID   string `json:"reservation_id" validate:"required,uuid"`
	ReservationType string `json:"reservation_type" validate:"required,oneof=garden resto"`
	Amount          int64  `json:"amount" validate:"gt=0"`
	PaymentMethod   string `json:"payment_method" validate:"required,oneof=dahabia cib"`
	CustomerName    string `json:"customer_name" validate:"required,max=120"`
	CustomerPhone   string `json:"customer_phone" validate:"required,phone"`
	CustomerEmail   string `json:"customer_email,omitempty" validate:"omitempty,email"`
}

type InitiationResult struct {
	PaymentID        uuid.UUID
	ConfirmationCode string
	Method           domain.PaymentMethod
	Amount           int64
	Status           domain.IntentStatus
	PaymentURL       *string
}

type Initiator struct {
	store        Store
	gateway      Gateway
	providers    map[string]config.ProviderCredentials
	mode         string
	returnURL    string
	storeTimeout time.Duration
	validate     *validation.Validator
	logger       observability.Logger
	now          func() time.Time
}

func NewInitiator(cfg *config.Config, store Store, gateway Gateway, logger observability.Logger) *Initiator {
	return &Initiator{
		store:        store,
		gateway:      gateway,
		providers:    cfg.Providers,
		mode:         cfg.PaymentMode,
		returnURL:    cfg.PublicBaseURL + "/reservation/confirmation",
		storeTimeout: cfg.StoreTimeout,
		validate:     validation.New(),
		logger:       logger,
		now:          time.Now,
	}
}

// Initiate creates a pending payment intent for an existing reservation. The
// reservation itself is not modified.
func (i *Initiator) Initiate(ctx context.Context, req InitiationRequest) (*InitiationResult, error) {
	res, err := i.initiate(ctx, req)
	observability.PaymentInitiations.WithLabelValues(req.PaymentMethod, resultLabel(err)).Inc()
	return res, err
}

func (i *Initiator) initiate(ctx context.Context, req InitiationRequest) (*InitiationResult, error) {
	if err := i.validate.Struct(req); err != nil {
		return nil, err
	}
	method := domain.PaymentMethod(req.PaymentMethod)
	if creds, ok := i.providers[req.PaymentMethod]; !ok || !creds.Configured() {
		return nil, errors.Wrapf(domain.ErrProviderNotConfigured, "method %s", method)
	}

	reservationID := uuid.MustParse(req.ReservationID)
	kind := domain.Kind(req.ReservationType)
	log := i.logger.WithFields(map[string]interface{}{"reservation_id": reservationID, "payment_method": method})

	ctx, cancel := context.WithTimeout(ctx, i.storeTimeout)
	defer cancel()

	reservation, err := i.store.GetReservation(ctx, kind, reservationID)
	if err != nil {
		return nil, storeErr(ctx, err)
	}
	if reservation.Status != domain.StatusPending && reservation.Status != domain.StatusAwaitingPayment {
		return nil, domain.Validationf("reservation is %s and cannot be paid", reservation.Status)
	}
	if reservation.AmountDue > 0 && req.Amount != reservation.AmountDue {
		return nil, domain.Validationf("amount %d does not match amount due %d", req.Amount, reservation.AmountDue)
	}

	code, err := domain.NewConfirmationCode(i.now())
	if err != nil {
		return nil, errors.Wrap(err, "generate confirmation code")
	}
	customer := domain.Customer{Name: req.CustomerName, Phone: req.CustomerPhone, Email: req.CustomerEmail}
	intent := domain.NewPaymentIntent(*reservation, method, req.Amount, customer, code)

	if i.mode == config.PaymentModeLive {
		checkout, err := i.gateway.CreateCheckout(ctx, CheckoutRequest{
			PaymentID:        intent.ID,
			ReservationKind:  kind,
			Method:           method,
			Amount:           req.Amount,
			ConfirmationCode: code,
			ReservationID:    reservationID,
			Customer:         customer,
			ReturnURL:        i.returnURL,
		})
		if err != nil {
			log.WithError(err).Warn("checkout creation failed")
			return nil, err
		}
		intent.ProviderRef = checkout.ProviderRef
		intent.PaymentURL = &checkout.RedirectURL
	}

	if err := i.store.CreatePaymentIntent(ctx, intent); err != nil {
		return nil, storeErr(ctx, err)
	}
	log.WithField("payment_id", intent.ID).Info("payment intent created")

	return &InitiationResult{
		PaymentID:        intent.ID,
		ConfirmationCode: intent.ConfirmationCode,
		Method:           intent.Method,
		Amount:           intent.Amount,
		Status:           intent.Status,
		PaymentURL:       intent.PaymentURL,
	}, nil
}

// storeErr marks errors caused by an expired store deadline as retryable.
func storeErr(ctx context.Context, err error) error {
	if ctx.Err() != nil && !errors.Is(err, domain.ErrStoreUnavailable) {
		return errors.Mark(err, domain.ErrStoreUnavailable)
	}
	return err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrProviderNotConfigured):
		return "not_configured"
	case errors.Is(err, domain.ErrPaymentDeclined):
		return "declined"
	case errors.Is(err, domain.ErrProviderUnavailable):
		return "provider_unavailable"
	}
	return "error"
}

package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/venue-bookings/internal/domain"
)

type Store interface {
	GetReservation(ctx context.Context, kind domain.Kind, id uuid.UUID) (*domain.Reservation, error)
	GetPaymentIntent(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error)
	CreatePaymentIntent(ctx context.Context, intent domain.PaymentIntent) error
	ApplyTransition(ctx context.Context, tr domain.Transition) error
	SettleIntent(ctx context.Context, id uuid.UUID, status domain.IntentStatus) error
}

// CheckoutRequest carries the identifiers the provider must echo back in its
// webhook: PaymentID, ReservationID and ReservationKind.
type CheckoutRequest struct {
	PaymentID        uuid.UUID
	ReservationKind  domain.Kind
	Method           domain.PaymentMethod
	Amount           int64
	ConfirmationCode string
	ReservationID    uuid.UUID
	Customer         domain.Customer
	ReturnURL        string
}

type Checkout struct {
	ProviderRef string
	RedirectURL string
}

// Gateway creates provider-hosted checkouts. Implementations return errors
// marked domain.ErrProviderUnavailable or domain.ErrPaymentDeclined.
type Gateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
}

type Auditor interface {
	LogEvent(ctx context.Context, action, actor string, data map[string]interface{}) error
}

// DeliveryCache remembers webhook deliveries that were fully processed.
type DeliveryCache interface {
	Seen(ctx context.Context, key string) (bool, error)
	Remember(ctx context.Context, key string, ttl time.Duration) error
}

type TableSyncer interface {
	Apply(ctx context.Context, sync domain.TableSync) error
}

package booking

import (
	"context"

	"github.com/google/uuid"
	"github.com/robertarktes/venue-bookings/internal/domain"
)

type Store interface {
	CreateReservation(ctx context.Context, res domain.Reservation) error
	GetReservation(ctx context.Context, kind domain.Kind, id uuid.UUID) (*domain.Reservation, error)
	ListReservations(ctx context.Context, kind domain.Kind, status domain.ReservationStatus, limit int) ([]domain.Reservation, error)
	ApplyTransition(ctx context.Context, tr domain.Transition) error
	DeleteReservation(ctx context.Context, kind domain.Kind, id uuid.UUID) (*domain.Reservation, error)
	GetTable(ctx context.Context, id int64) (*domain.Table, error)
	ListTables(ctx context.Context, kind domain.Kind) ([]domain.Table, error)
	SetTableStatus(ctx context.Context, id int64, from, to domain.TableStatus, heldBy *uuid.UUID) error
}

type Catalog interface {
	GetFormula(ctx context.Context, id string) (*domain.Formula, error)
	ListFormulas(ctx context.Context) ([]domain.Formula, error)
	GetMenu(ctx context.Context, id string) (*domain.Menu, error)
}

type Auditor interface {
	LogEvent(ctx context.Context, action, actor string, data map[string]interface{}) error
}

type TableSyncer interface {
	Apply(ctx context.Context, sync domain.TableSync) error
}

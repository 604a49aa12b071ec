package domain

import (
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindGarden Kind = "garden"
	KindResto  Kind = "resto"
)

func (k Kind) Valid() bool {
	return k == KindGarden || k == KindResto
}

type ReservationStatus string

const (
	StatusPending         ReservationStatus = "en_attente"
	StatusAwaitingPayment ReservationStatus = "en_attente_paiement"
	StatusConfirmed       ReservationStatus = "confirmee"
	StatusCancelled       ReservationStatus = "annulee"
	StatusCompleted       ReservationStatus = "terminee"
)

type TableStatus string

const (
	TableFree         TableStatus = "libre"
	TableReserved     TableStatus = "reservee"
	TableOccupied     TableStatus = "occupee"
	TableOutOfService TableStatus = "hors_service"
)

type PaymentMethod string

const (
	MethodDahabia PaymentMethod = "dahabia"
	MethodCIB     PaymentMethod = "cib"
)

type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentSucceeded IntentStatus = "succeeded"
	IntentFailed    IntentStatus = "failed"
)

type Customer struct {
	Name  string
	Phone string
	Email string
}

// PaymentMetadata is stored in dedicated columns, never in the customer note.
type PaymentMetadata struct {
	PaymentID     uuid.UUID
	TransactionID string
	Method        PaymentMethod
	ConfirmedAt   time.Time
}

type Reservation struct {
	ID        uuid.UUID
	Kind      Kind
	Customer  Customer
	Date      time.Time
	TimeSlot  string // resto only, HH:MM
	FormulaID string // garden only
	MenuID    string // resto only, optional
	PartySize int
	AmountDue int64
	Status    ReservationStatus
	TableID   *int64 // resto only
	Note      string
	Payment   *PaymentMetadata
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Table struct {
	ID        int64
	Name      string
	Kind      Kind
	Capacity  int
	FormulaID string
	Status    TableStatus
	HeldBy    *uuid.UUID
	UpdatedAt time.Time
}

type PaymentIntent struct {
	ID               uuid.UUID
	ReservationID    uuid.UUID
	ReservationKind  Kind
	ConfirmationCode string
	Method           PaymentMethod
	Amount           int64
	Status           IntentStatus
	PaymentURL       *string
	ProviderRef      string
	Customer         Customer
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type TableAction string

const (
	TableActionReserve TableAction = "reserve"
	TableActionRelease TableAction = "release"
)

// TableSync is a pending table side effect of a reservation transition. It is
// written in the same transaction as the reservation update. A reserve is
// applied inside that transaction and recorded DONE; a release is applied
// afterwards and retried by the worker until it is marked done.
type TableSync struct {
	ID            uuid.UUID
	ReservationID uuid.UUID
	TableID       int64
	Action        TableAction
	Attempts      int
	Status        string // NEW, DONE, FAILED
	CreatedAt     time.Time
}

// Transition is one reservation status change together with everything that
// must be persisted atomically with it.
type Transition struct {
	ReservationID uuid.UUID
	Kind          Kind
	From          ReservationStatus
	To            ReservationStatus
	Payment       *PaymentMetadata
	IntentID      *uuid.UUID
	IntentStatus  IntentStatus
	TableSync     *TableSync
	Actor         string // webhook, admin:<sub>, worker
	// UnpaidOnly makes the update a no-op once any intent of the
	// reservation has succeeded.
	UnpaidOnly bool
}

// Formula is a priced garden-table package.
type Formula struct {
	ID        string
	Name      string
	Price     int64
	Capacity  int
	Amenities []string
}

type Menu struct {
	ID    string
	Name  string
	Price int64
}

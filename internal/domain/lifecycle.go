package domain

import (
	"strings"

	"github.com/cockroachdb/errors"
)

type PaymentOutcome int

const (
	OutcomeUnknown PaymentOutcome = iota
	OutcomeSucceeded
	OutcomeFailed
	OutcomeInProgress
)

func (o PaymentOutcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeInProgress:
		return "in_progress"
	}
	return "unknown"
}

// ParseOutcome maps a provider status string to a payment outcome.
func ParseOutcome(status string) (PaymentOutcome, error) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed", "success", "succeeded", "paid":
		return OutcomeSucceeded, nil
	case "failed", "cancelled", "canceled", "declined", "expired":
		return OutcomeFailed, nil
	case "pending", "processing":
		return OutcomeInProgress, nil
	}
	return OutcomeUnknown, Validationf("unsupported payment status %q", status)
}

func (s ReservationStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

func (s ReservationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAwaitingPayment, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// DecidePayment returns the status a reservation moves to when the provider
// reports outcome. ErrAlreadyTerminal means the outcome was already applied;
// ErrInvalidTransition means it contradicts the current state.
func DecidePayment(kind Kind, current ReservationStatus, outcome PaymentOutcome) (ReservationStatus, error) {
	var target ReservationStatus
	switch outcome {
	case OutcomeSucceeded:
		target = StatusConfirmed
	case OutcomeFailed:
		target = StatusCancelled
	default:
		return current, errors.Wrapf(ErrInvalidTransition, "outcome %s does not move a reservation", outcome)
	}

	switch current {
	case StatusPending, StatusAwaitingPayment:
		return target, nil
	case StatusConfirmed:
		if target == StatusConfirmed {
			return current, ErrAlreadyTerminal
		}
	case StatusCancelled:
		if target == StatusCancelled {
			return current, ErrAlreadyTerminal
		}
	case StatusCompleted:
		// confirmation already happened before turnover
		if kind == KindResto && target == StatusConfirmed {
			return current, ErrAlreadyTerminal
		}
	}
	return current, errors.Wrapf(ErrInvalidTransition, "%s -> %s", current, target)
}

var adminTransitions = map[ReservationStatus][]ReservationStatus{
	StatusPending:         {StatusAwaitingPayment, StatusConfirmed, StatusCancelled},
	StatusAwaitingPayment: {StatusConfirmed, StatusCancelled},
	StatusConfirmed:       {StatusCancelled, StatusCompleted},
}

// CanTransition reports whether staff may move a reservation from one status
// to another. Completion is a restaurant-only turnover step.
func CanTransition(kind Kind, from, to ReservationStatus) bool {
	if to == StatusCompleted && kind != KindResto {
		return false
	}
	for _, s := range adminTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TableEffect is the table action implied by a resto reservation moving to status.
func TableEffect(kind Kind, to ReservationStatus) (TableAction, bool) {
	if kind != KindResto {
		return "", false
	}
	switch to {
	case StatusConfirmed:
		return TableActionReserve, true
	case StatusCancelled, StatusCompleted:
		return TableActionRelease, true
	}
	return "", false
}

var tableTransitions = map[TableStatus][]TableStatus{
	TableFree:         {TableReserved, TableOccupied, TableOutOfService},
	TableReserved:     {TableFree, TableOccupied},
	TableOccupied:     {TableFree, TableReserved},
	TableOutOfService: {TableFree},
}

func (s TableStatus) Valid() bool {
	_, ok := tableTransitions[s]
	return ok
}

func CanTransitionTable(from, to TableStatus) bool {
	for _, s := range tableTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// HoldConflict returns why table cannot be held by res, or "" when it can.
func HoldConflict(res Reservation, table *Table) string {
	if res.TableID == nil || table == nil {
		return "missing_table"
	}
	if table.Status == TableOutOfService {
		return "table_out_of_service"
	}
	if table.Status != TableFree && (table.HeldBy == nil || *table.HeldBy != res.ID) {
		return "table_held_by_other"
	}
	return ""
}

// AuditData is the audit trail payload of the transition.
func (t Transition) AuditData() map[string]interface{} {
	data := map[string]interface{}{
		"reservation_id":   t.ReservationID.String(),
		"reservation_type": string(t.Kind),
		"from":             string(t.From),
		"to":               string(t.To),
	}
	if t.Payment != nil {
		data["payment_id"] = t.Payment.PaymentID.String()
		data["transaction_id"] = t.Payment.TransactionID
		data["payment_method"] = string(t.Payment.Method)
	}
	if t.TableSync != nil {
		data["table_id"] = t.TableSync.TableID
		data["table_action"] = string(t.TableSync.Action)
	}
	return data
}

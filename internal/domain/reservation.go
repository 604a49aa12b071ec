package domain

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DateLayout = "2006-01-02"

var timeSlotRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

func NewGardenReservation(customer Customer, date time.Time, formulaID string, partySize int, price int64, note string) Reservation {
	now := time.Now().UTC()
	return Reservation{
		ID:        uuid.New(),
		Kind:      KindGarden,
		Customer:  customer,
		Date:      date,
		FormulaID: formulaID,
		PartySize: partySize,
		AmountDue: price,
		Status:    StatusPending,
		Note:      note,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewRestoReservation starts in awaiting-payment: the table has already been chosen.
func NewRestoReservation(customer Customer, date time.Time, slot string, tableID int64, menuID string, partySize int, amount int64, note string) Reservation {
	now := time.Now().UTC()
	return Reservation{
		ID:        uuid.New(),
		Kind:      KindResto,
		Customer:  customer,
		Date:      date,
		TimeSlot:  slot,
		MenuID:    menuID,
		PartySize: partySize,
		AmountDue: amount,
		Status:    StatusAwaitingPayment,
		TableID:   &tableID,
		Note:      note,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, Validationf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return d, nil
}

func ValidTimeSlot(s string) bool {
	return timeSlotRe.MatchString(s)
}

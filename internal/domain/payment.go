package domain

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	confirmationPrefix = "GP"
	base36Alphabet     = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// NewConfirmationCode returns GP-<base36 millis>-<4 random base36 chars>.
func NewConfirmationCode(now time.Time) (string, error) {
	suffix := make([]byte, 4)
	max := big.NewInt(int64(len(base36Alphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		suffix[i] = base36Alphabet[n.Int64()]
	}
	ts := strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36))
	return confirmationPrefix + "-" + ts + "-" + string(suffix), nil
}

func NewPaymentIntent(res Reservation, method PaymentMethod, amount int64, customer Customer, code string) PaymentIntent {
	now := time.Now().UTC()
	return PaymentIntent{
		ID:               uuid.New(),
		ReservationID:    res.ID,
		ReservationKind:  res.Kind,
		ConfirmationCode: code,
		Method:           method,
		Amount:           amount,
		Status:           IntentPending,
		Customer:         customer,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (m PaymentMethod) Valid() bool {
	return m == MethodDahabia || m == MethodCIB
}

// IntentStatusFor maps a final payment outcome to the intent status.
func IntentStatusFor(o PaymentOutcome) IntentStatus {
	if o == OutcomeSucceeded {
		return IntentSucceeded
	}
	return IntentFailed
}

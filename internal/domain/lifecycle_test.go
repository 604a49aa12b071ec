package domain_test

import (
	"regexp"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutcome(t *testing.T) {
	cases := map[string]domain.PaymentOutcome{
		"completed":  domain.OutcomeSucceeded,
		"SUCCESS":    domain.OutcomeSucceeded,
		"paid":       domain.OutcomeSucceeded,
		"failed":     domain.OutcomeFailed,
		"cancelled":  domain.OutcomeFailed,
		"canceled":   domain.OutcomeFailed,
		"expired":    domain.OutcomeFailed,
		"processing": domain.OutcomeInProgress,
	}
	for in, want := range cases {
		got, err := domain.ParseOutcome(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := domain.ParseOutcome("refunded")
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestDecidePayment(t *testing.T) {
	tests := []struct {
		name    string
		kind    domain.Kind
		current domain.ReservationStatus
		outcome domain.PaymentOutcome
		want    domain.ReservationStatus
		wantErr error
	}{
		{"garden pending succeeds", domain.KindGarden, domain.StatusPending, domain.OutcomeSucceeded, domain.StatusConfirmed, nil},
		{"resto awaiting succeeds", domain.KindResto, domain.StatusAwaitingPayment, domain.OutcomeSucceeded, domain.StatusConfirmed, nil},
		{"resto awaiting fails", domain.KindResto, domain.StatusAwaitingPayment, domain.OutcomeFailed, domain.StatusCancelled, nil},
		{"confirmed replay", domain.KindResto, domain.StatusConfirmed, domain.OutcomeSucceeded, domain.StatusConfirmed, domain.ErrAlreadyTerminal},
		{"cancelled replay", domain.KindGarden, domain.StatusCancelled, domain.OutcomeFailed, domain.StatusCancelled, domain.ErrAlreadyTerminal},
		{"completed after cancel", domain.KindGarden, domain.StatusCancelled, domain.OutcomeSucceeded, domain.StatusCancelled, domain.ErrInvalidTransition},
		{"failure after confirm", domain.KindResto, domain.StatusConfirmed, domain.OutcomeFailed, domain.StatusConfirmed, domain.ErrInvalidTransition},
		{"success after turnover", domain.KindResto, domain.StatusCompleted, domain.OutcomeSucceeded, domain.StatusCompleted, domain.ErrAlreadyTerminal},
		{"failure after turnover", domain.KindResto, domain.StatusCompleted, domain.OutcomeFailed, domain.StatusCompleted, domain.ErrInvalidTransition},
		{"in progress", domain.KindGarden, domain.StatusPending, domain.OutcomeInProgress, domain.StatusPending, domain.ErrInvalidTransition},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := domain.DecidePayment(tc.kind, tc.current, tc.outcome)
			assert.Equal(t, tc.want, got)
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, domain.CanTransition(domain.KindResto, domain.StatusConfirmed, domain.StatusCompleted))
	assert.False(t, domain.CanTransition(domain.KindGarden, domain.StatusConfirmed, domain.StatusCompleted))
	assert.False(t, domain.CanTransition(domain.KindResto, domain.StatusCancelled, domain.StatusConfirmed))
	assert.False(t, domain.CanTransition(domain.KindResto, domain.StatusAwaitingPayment, domain.StatusPending))
	assert.True(t, domain.CanTransition(domain.KindGarden, domain.StatusAwaitingPayment, domain.StatusCancelled))
}

func TestCanTransitionTable(t *testing.T) {
	assert.True(t, domain.CanTransitionTable(domain.TableFree, domain.TableOutOfService))
	assert.True(t, domain.CanTransitionTable(domain.TableOutOfService, domain.TableFree))
	assert.False(t, domain.CanTransitionTable(domain.TableReserved, domain.TableOutOfService))
	assert.False(t, domain.CanTransitionTable(domain.TableOutOfService, domain.TableReserved))
	assert.True(t, domain.CanTransitionTable(domain.TableReserved, domain.TableOccupied))
	assert.True(t, domain.CanTransitionTable(domain.TableOccupied, domain.TableFree))
}

func TestTableEffect(t *testing.T) {
	a, ok := domain.TableEffect(domain.KindResto, domain.StatusConfirmed)
	assert.True(t, ok)
	assert.Equal(t, domain.TableActionReserve, a)

	a, ok = domain.TableEffect(domain.KindResto, domain.StatusCancelled)
	assert.True(t, ok)
	assert.Equal(t, domain.TableActionRelease, a)

	_, ok = domain.TableEffect(domain.KindGarden, domain.StatusConfirmed)
	assert.False(t, ok)
}

func TestNewConfirmationCode(t *testing.T) {
	re := regexp.MustCompile(`^GP-[0-9A-Z]+-[0-9A-Z]{4}$`)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := domain.NewConfirmationCode(now)
		require.NoError(t, err)
		assert.Regexp(t, re, code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestTimeSlotAndDate(t *testing.T) {
	assert.True(t, domain.ValidTimeSlot("19:30"))
	assert.False(t, domain.ValidTimeSlot("24:00"))
	assert.False(t, domain.ValidTimeSlot("7:30"))

	_, err := domain.ParseDate("2026-13-01")
	assert.True(t, errors.Is(err, domain.ErrValidation))
	d, err := domain.ParseDate("2026-06-14")
	require.NoError(t, err)
	assert.Equal(t, 14, d.Day())
}

package tablesync

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	action  domain.TableAction
	tableID int64
}

type mark struct {
	status   string
	attempts int
}

type fakeStore struct {
	errs  []error
	calls []call
	marks []mark
}

func (f *fakeStore) next(c call) error {
	f.calls = append(f.calls, c)
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeStore) ReserveTable(ctx context.Context, tableID int64, reservationID uuid.UUID) error {
	return f.next(call{domain.TableActionReserve, tableID})
}

func (f *fakeStore) ReleaseTable(ctx context.Context, tableID int64, reservationID uuid.UUID) error {
	return f.next(call{domain.TableActionRelease, tableID})
}

func (f *fakeStore) MarkTableSync(ctx context.Context, id uuid.UUID, status string, attempts int, lastErr string) error {
	f.marks = append(f.marks, mark{status, attempts})
	return nil
}

func newApplier(store Store) *Applier {
	return NewApplier(store, observability.NewNopLogger(), 3, time.Millisecond)
}

func TestApply(t *testing.T) {
	transient := errors.New("conn reset")
	tests := []struct {
		name     string
		action   domain.TableAction
		errs     []error
		wantErr  error
		wantMark mark
		calls    int
	}{
		{"reserve first try", domain.TableActionReserve, nil, nil, mark{StatusDone, 1}, 1},
		{"release first try", domain.TableActionRelease, nil, nil, mark{StatusDone, 1}, 1},
		{"reserve after retries", domain.TableActionReserve, []error{transient, transient}, nil, mark{StatusDone, 3}, 3},
		{"retries exhausted", domain.TableActionReserve, []error{transient, transient, transient}, transient, mark{"NEW", 3}, 3},
		{"table unavailable", domain.TableActionReserve, []error{domain.ErrTableUnavailable}, domain.ErrTableUnavailable, mark{StatusFailed, 1}, 1},
		{"table missing", domain.TableActionRelease, []error{domain.ErrNotFound}, domain.ErrNotFound, mark{StatusFailed, 1}, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeStore{errs: tc.errs}
			sync := NewSync(uuid.New(), 4, tc.action)

			err := newApplier(store).Apply(context.Background(), *sync)

			if tc.wantErr == nil {
				require.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
			}
			assert.Len(t, store.calls, tc.calls)
			assert.Equal(t, tc.action, store.calls[0].action)
			assert.Equal(t, []mark{tc.wantMark}, store.marks)
		})
	}
}

func TestApplyStopsOnCancelledContext(t *testing.T) {
	store := &fakeStore{errs: []error{errors.New("conn reset"), errors.New("conn reset"), errors.New("conn reset")}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewApplier(store, observability.NewNopLogger(), 3, time.Second).Apply(ctx, *NewSync(uuid.New(), 4, domain.TableActionReserve))

	require.Error(t, err)
	assert.Len(t, store.calls, 1)
}

package worker

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

type fakeStore struct {
	pending      []domain.TableSync
	stale        []domain.Reservation
	staleOnApply map[uuid.UUID]bool
	paid         map[uuid.UUID]bool
	applied      []domain.Transition
	syncCutoff   time.Time
	expiryCutoff time.Time
}

func (f *fakeStore) PendingTableSyncs(ctx context.Context, createdBefore time.Time, limit int) ([]domain.TableSync, error) {
	f.syncCutoff = createdBefore
	return f.pending, nil
}

func (f *fakeStore) StaleAwaitingPayment(ctx context.Context, cutoff time.Time, limit int) ([]domain.Reservation, error) {
	f.expiryCutoff = cutoff
	return f.stale, nil
}

func (f *fakeStore) ApplyTransition(ctx context.Context, tr domain.Transition) error {
	if f.staleOnApply[tr.ReservationID] {
		return domain.ErrStaleStatus
	}
	if tr.UnpaidOnly && f.paid[tr.ReservationID] {
		return domain.ErrStaleStatus
	}
	f.applied = append(f.applied, tr)
	return nil
}

type fakeSyncer struct {
	fail    map[uuid.UUID]bool
	applied []domain.TableSync
}

func (f *fakeSyncer) Apply(ctx context.Context, sync domain.TableSync) error {
	if f.fail[sync.ID] {
		return errors.New("conn reset")
	}
	f.applied = append(f.applied, sync)
	return nil
}

type fakeAudit struct{ actions []string }

func (f *fakeAudit) LogEvent(ctx context.Context, action, actor string, data map[string]interface{}) error {
	f.actions = append(f.actions, action)
	return nil
}

var now = time.Date(2026, 6, 12, 18, 0, 0, 0, time.UTC)

func newJobs(store Store, syncer TableSyncer, audit Auditor) *Jobs {
	j := NewJobs(store, syncer, audit, 30*time.Second, 2*time.Hour, observability.NewNopLogger())
	j.now = func() time.Time { return now }
	return j
}

func TestSyncTables(t *testing.T) {
	ok := domain.TableSync{ID: uuid.New(), TableID: 4, Action: domain.TableActionReserve}
	failing := domain.TableSync{ID: uuid.New(), TableID: 5, Action: domain.TableActionRelease}
	store := &fakeStore{pending: []domain.TableSync{ok, failing}}
	syncer := &fakeSyncer{fail: map[uuid.UUID]bool{failing.ID: true}}

	done, err := newJobs(store, syncer, &fakeAudit{}).SyncTables(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, done)
	assert.Equal(t, now.Add(-30*time.Second), store.syncCutoff)
	assert.Equal(t, []domain.TableSync{ok}, syncer.applied)
}

func TestExpireAwaitingPayment(t *testing.T) {
	table := int64(4)
	expired := domain.Reservation{ID: uuid.New(), Kind: domain.KindResto, Status: domain.StatusAwaitingPayment, TableID: &table}
	raced := domain.Reservation{ID: uuid.New(), Kind: domain.KindResto, Status: domain.StatusAwaitingPayment, TableID: &table}
	store := &fakeStore{stale: []domain.Reservation{expired, raced}, staleOnApply: map[uuid.UUID]bool{raced.ID: true}}
	syncer := &fakeSyncer{}
	audit := &fakeAudit{}

	n, err := newJobs(store, syncer, audit).ExpireAwaitingPayment(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, now.Add(-2*time.Hour), store.expiryCutoff)
	require.Len(t, store.applied, 1)
	tr := store.applied[0]
	assert.Equal(t, expired.ID, tr.ReservationID)
	assert.Equal(t, domain.StatusCancelled, tr.To)
	assert.True(t, tr.UnpaidOnly)
	require.NotNil(t, tr.TableSync)
	assert.Equal(t, domain.TableActionRelease, tr.TableSync.Action)
	require.Len(t, syncer.applied, 1)
	assert.Equal(t, tr.TableSync.ID, syncer.applied[0].ID)
	assert.Equal(t, []string{"reservation.expired"}, audit.actions)
}

func TestExpireSkipsPaidReservation(t *testing.T) {
	table := int64(4)
	// paid after the stale list was read, e.g. a confirmed payment whose table was taken
	paid := domain.Reservation{ID: uuid.New(), Kind: domain.KindResto, Status: domain.StatusAwaitingPayment, TableID: &table}
	store := &fakeStore{stale: []domain.Reservation{paid}, paid: map[uuid.UUID]bool{paid.ID: true}}
	syncer := &fakeSyncer{}
	audit := &fakeAudit{}

	n, err := newJobs(store, syncer, audit).ExpireAwaitingPayment(context.Background())

	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, store.applied)
	assert.Empty(t, syncer.applied)
	assert.Empty(t, audit.actions)
}

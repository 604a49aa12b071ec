package payment

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/venue-bookings/internal/domain"
)

// memStore keeps reservations, tables, intents and table syncs in memory with
// the same compare-and-set semantics as the Postgres repository.
type memStore struct {
	mu           sync.Mutex
	reservations map[uuid.UUID]domain.Reservation
	tables       map[int64]domain.Table
	intents      map[uuid.UUID]domain.PaymentIntent
	syncs        map[uuid.UUID]domain.TableSync

	tableWrites  int
	transitions  int
	failReleases int
	block        bool
	beforeApply  func(s *memStore)
}

func newMemStore() *memStore {
	return &memStore{
		reservations: map[uuid.UUID]domain.Reservation{},
		tables:       map[int64]domain.Table{},
		intents:      map[uuid.UUID]domain.PaymentIntent{},
		syncs:        map[uuid.UUID]domain.TableSync{},
	}
}

func (s *memStore) wait(ctx context.Context) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (s *memStore) GetReservation(ctx context.Context, kind domain.Kind, id uuid.UUID) (*domain.Reservation, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.reservations[id]
	if !ok || res.Kind != kind {
		return nil, domain.ErrNotFound
	}
	return &res, nil
}

func (s *memStore) GetPaymentIntent(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &in, nil
}

func (s *memStore) CreatePaymentIntent(ctx context.Context, intent domain.PaymentIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[intent.ID] = intent
	return nil
}

func (s *memStore) ApplyTransition(ctx context.Context, tr domain.Transition) error {
	if s.beforeApply != nil {
		hook := s.beforeApply
		s.beforeApply = nil
		hook(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.reservations[tr.ReservationID]
	if !ok || res.Status != tr.From {
		return domain.ErrStaleStatus
	}
	if tr.UnpaidOnly && s.paid(res.ID) {
		return domain.ErrStaleStatus
	}
	if tr.TableSync != nil && tr.TableSync.Action == domain.TableActionReserve {
		if err := s.holdLocked(tr.TableSync.TableID, res.ID); err != nil {
			return err
		}
		tr.TableSync.Status = "DONE"
		tr.TableSync.Attempts = 1
	}
	res.Status = tr.To
	if tr.Payment != nil {
		p := *tr.Payment
		res.Payment = &p
	}
	s.reservations[res.ID] = res
	if tr.IntentID != nil {
		in := s.intents[*tr.IntentID]
		if in.Status == domain.IntentPending {
			in.Status = tr.IntentStatus
			s.intents[in.ID] = in
		}
	}
	if tr.TableSync != nil {
		s.syncs[tr.TableSync.ID] = *tr.TableSync
	}
	s.transitions++
	return nil
}

func (s *memStore) paid(reservationID uuid.UUID) bool {
	for _, in := range s.intents {
		if in.ReservationID == reservationID && in.Status == domain.IntentSucceeded {
			return true
		}
	}
	return false
}

func (s *memStore) holdLocked(tableID int64, reservationID uuid.UUID) error {
	t, ok := s.tables[tableID]
	if !ok {
		return domain.TableHeld("missing_table")
	}
	if reason := domain.HoldConflict(domain.Reservation{ID: reservationID, TableID: &tableID}, &t); reason != "" {
		return domain.TableHeld(reason)
	}
	if t.Status == domain.TableFree {
		t.Status = domain.TableReserved
		t.HeldBy = &reservationID
		s.tables[tableID] = t
		s.tableWrites++
	}
	return nil
}

func (s *memStore) SettleIntent(ctx context.Context, id uuid.UUID, status domain.IntentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[id]
	if ok && in.Status == domain.IntentPending {
		in.Status = status
		s.intents[id] = in
	}
	return nil
}

func (s *memStore) ReserveTable(ctx context.Context, tableID int64, reservationID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[tableID]
	if !ok {
		return domain.ErrNotFound
	}
	if t.HeldBy != nil && *t.HeldBy == reservationID && (t.Status == domain.TableReserved || t.Status == domain.TableOccupied) {
		return nil
	}
	if t.Status != domain.TableFree {
		return domain.ErrTableUnavailable
	}
	t.Status = domain.TableReserved
	t.HeldBy = &reservationID
	s.tables[tableID] = t
	s.tableWrites++
	return nil
}

func (s *memStore) ReleaseTable(ctx context.Context, tableID int64, reservationID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReleases > 0 {
		s.failReleases--
		return errors.New("connection reset by peer")
	}
	t, ok := s.tables[tableID]
	if !ok {
		return domain.ErrNotFound
	}
	if t.HeldBy == nil || *t.HeldBy != reservationID {
		return nil
	}
	if t.Status != domain.TableReserved && t.Status != domain.TableOccupied {
		return nil
	}
	t.Status = domain.TableFree
	t.HeldBy = nil
	s.tables[tableID] = t
	s.tableWrites++
	return nil
}

func (s *memStore) MarkTableSync(ctx context.Context, id uuid.UUID, status string, attempts int, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sync, ok := s.syncs[id]
	if !ok || sync.Status != "NEW" {
		return nil
	}
	sync.Status = status
	sync.Attempts += attempts
	s.syncs[id] = sync
	return nil
}

func (s *memStore) reservation(id uuid.UUID) domain.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reservations[id]
}

func (s *memStore) table(id int64) domain.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tables[id]
}

func (s *memStore) onlySync() domain.TableSync {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sync := range s.syncs {
		return sync
	}
	return domain.TableSync{}
}

type auditEntry struct {
	action string
	actor  string
	data   map[string]interface{}
}

type memAudit struct {
	mu      sync.Mutex
	entries []auditEntry
}

func (a *memAudit) LogEvent(ctx context.Context, action, actor string, data map[string]interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, auditEntry{action: action, actor: actor, data: data})
	return nil
}

func (a *memAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.action
	}
	return out
}

type memDeliveries struct {
	mu   sync.Mutex
	keys map[string]time.Duration
}

func (d *memDeliveries) Seen(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.keys[key]
	return ok, nil
}

func (d *memDeliveries) Remember(ctx context.Context, key string, ttl time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.keys == nil {
		d.keys = map[string]time.Duration{}
	}
	d.keys[key] = ttl
	return nil
}

type fakeGateway struct {
	calls    int
	last     CheckoutRequest
	checkout *Checkout
	err      error
}

func (g *fakeGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	g.calls++
	g.last = req
	if g.err != nil {
		return nil, g.err
	}
	return g.checkout, nil
}

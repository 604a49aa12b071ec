// Package booking holds the public booking flow and the back-office actions
// on reservations and tables.
package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/venue-bookings/internal/config"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/observability"
	"github.com/robertarktes/venue-bookings/internal/tablesync"
	"github.com/robertarktes/venue-bookings/internal/validation"
)

const (
	maxStaleRetries = 3
	maxListLimit    = 200
)

type Service struct {
	store        Store
	catalog      Catalog
	tables       TableSyncer
	audit        Auditor
	restoDeposit int64
	storeTimeout time.Duration
	validate     *validation.Validator
	logger       observability.Logger
	now          func() time.Time
}

func NewService(cfg *config.Config, store Store, catalog Catalog, tables TableSyncer, audit Auditor, logger observability.Logger) *Service {
	return &Service{
		store:        store,
		catalog:      catalog,
		tables:       tables,
		audit:        audit,
		restoDeposit: cfg.RestoDeposit,
		storeTimeout: cfg.StoreTimeout,
		validate:     validation.New(),
		logger:       logger,
		now:          time.Now,
	}
}

type GardenRequest struct {
	FormulaID     string `json:"formula_id" validate:"required,max=64"`
	Date          string `json:"date" validate:"required"`
	PartySize     int    `json:"party_size" validate:"gt=0,lte=50"`
	CustomerName  string `json:"customer_name" validate:"required,max=120"`
	CustomerPhone string `json:"customer_phone" validate:"required,phone"`
	CustomerEmail string `json:"customer_email,omitempty" validate:"omitempty,email"`
	Note          string `json:"note,omitempty" validate:"max=500"`
}

type RestoRequest struct {
	TableID       int64  `json:"table_id" validate:"gt=0"`
	Date          string `json:"date" validate:"required"`
	TimeSlot      string `json:"time_slot" validate:"required,timeslot"`
	MenuID        string `json:"menu_id,omitempty" validate:"max=64"`
	PartySize     int    `json:"party_size" validate:"gt=0,lte=50"`
	CustomerName  string `json:"customer_name" validate:"required,max=120"`
	CustomerPhone string `json:"customer_phone" validate:"required,phone"`
	CustomerEmail string `json:"customer_email,omitempty" validate:"omitempty,email"`
	Note          string `json:"note,omitempty" validate:"max=500"`
}

func (s *Service) bookingDate(raw string) (time.Time, error) {
	date, err := domain.ParseDate(raw)
	if err != nil {
		return time.Time{}, err
	}
	today := s.now().UTC().Truncate(24 * time.Hour)
	if date.Before(today) {
		return time.Time{}, domain.Validationf("date %s is in the past", raw)
	}
	return date, nil
}

// CreateGarden books a garden table under a formula. The reservation starts
// pending and its amount due is the formula price.
func (s *Service) CreateGarden(ctx context.Context, req GardenRequest) (*domain.Reservation, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	date, err := s.bookingDate(req.Date)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	formula, err := s.catalog.GetFormula(ctx, req.FormulaID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Validationf("formula %q does not exist", req.FormulaID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "get formula")
	}
	if formula.Capacity > 0 && req.PartySize > formula.Capacity {
		return nil, domain.Validationf("formula %s seats at most %d guests", formula.ID, formula.Capacity)
	}

	customer := domain.Customer{Name: req.CustomerName, Phone: req.CustomerPhone, Email: req.CustomerEmail}
	res := domain.NewGardenReservation(customer, date, formula.ID, req.PartySize, formula.Price, req.Note)
	if err := s.store.CreateReservation(ctx, res); err != nil {
		return nil, err
	}
	s.logger.WithFields(map[string]interface{}{"reservation_id": res.ID, "formula_id": formula.ID}).Info("garden reservation created")
	return &res, nil
}

// CreateResto books a restaurant table for a date and time slot. The table
// must fit the party and the slot must not already be taken.
func (s *Service) CreateResto(ctx context.Context, req RestoRequest) (*domain.Reservation, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, err
	}
	date, err := s.bookingDate(req.Date)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	table, err := s.store.GetTable(ctx, req.TableID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Validationf("table %d does not exist", req.TableID)
	}
	if err != nil {
		return nil, err
	}
	if table.Kind != domain.KindResto {
		return nil, domain.Validationf("table %d is not a restaurant table", table.ID)
	}
	if table.Status == domain.TableOutOfService {
		return nil, errors.Wrapf(domain.ErrTableUnavailable, "table %d is out of service", table.ID)
	}
	if req.PartySize > table.Capacity {
		return nil, domain.Validationf("table %d seats at most %d guests", table.ID, table.Capacity)
	}

	amount := s.restoDeposit
	if req.MenuID != "" {
		menu, err := s.catalog.GetMenu(ctx, req.MenuID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Validationf("menu %q does not exist", req.MenuID)
		}
		if err != nil {
			return nil, errors.Wrap(err, "get menu")
		}
		amount = menu.Price * int64(req.PartySize)
	}

	customer := domain.Customer{Name: req.CustomerName, Phone: req.CustomerPhone, Email: req.CustomerEmail}
	res := domain.NewRestoReservation(customer, date, req.TimeSlot, table.ID, req.MenuID, req.PartySize, amount, req.Note)
	err = s.store.CreateReservation(ctx, res)
	if errors.Is(err, domain.ErrConflict) {
		return nil, errors.Mark(errors.Newf("table %d is already booked on %s at %s", table.ID, req.Date, req.TimeSlot), domain.ErrConflict)
	}
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(map[string]interface{}{"reservation_id": res.ID, "table_id": table.ID}).Info("resto reservation created")
	return &res, nil
}

func (s *Service) Get(ctx context.Context, kind domain.Kind, id uuid.UUID) (*domain.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.GetReservation(ctx, kind, id)
}

func (s *Service) List(ctx context.Context, kind domain.Kind, status domain.ReservationStatus, limit int) ([]domain.Reservation, error) {
	if status != "" && !status.Valid() {
		return nil, domain.Validationf("unknown status %q", status)
	}
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.ListReservations(ctx, kind, status, limit)
}

func (s *Service) ListTables(ctx context.Context, kind domain.Kind) ([]domain.Table, error) {
	if kind != "" && !kind.Valid() {
		return nil, domain.Validationf("unknown kind %q", kind)
	}
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.ListTables(ctx, kind)
}

func (s *Service) ListFormulas(ctx context.Context) ([]domain.Formula, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.catalog.ListFormulas(ctx)
}

// Transition applies a staff status change. Moving a reservation to the
// status it already has is a no-op.
func (s *Service) Transition(ctx context.Context, kind domain.Kind, id uuid.UUID, to domain.ReservationStatus, actor string) (*domain.Reservation, error) {
	if !to.Valid() {
		return nil, domain.Validationf("unknown status %q", to)
	}
	log := s.logger.WithFields(map[string]interface{}{"reservation_id": id, "to": to, "actor": actor})

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	var tr domain.Transition
	for attempt := 0; ; attempt++ {
		res, err := s.store.GetReservation(ctx, kind, id)
		if err != nil {
			return nil, err
		}
		if res.Status == to {
			return res, nil
		}
		if !domain.CanTransition(kind, res.Status, to) {
			s.reject(ctx, log, actor, res, to, "invalid_transition")
			return nil, errors.Wrapf(domain.ErrInvalidTransition, "%s -> %s", res.Status, to)
		}
		if kind == domain.KindResto && to == domain.StatusConfirmed && res.TableID == nil {
			s.reject(ctx, log, actor, res, to, "missing_table")
			return nil, domain.TableHeld("missing_table")
		}

		tr = domain.Transition{ReservationID: res.ID, Kind: kind, From: res.Status, To: to, Actor: actor}
		if action, ok := domain.TableEffect(kind, to); ok && res.TableID != nil {
			tr.TableSync = tablesync.NewSync(res.ID, *res.TableID, action)
		}
		err = s.store.ApplyTransition(ctx, tr)
		if errors.Is(err, domain.ErrTableUnavailable) {
			s.reject(ctx, log, actor, res, to, domain.HoldReason(err))
			return nil, err
		}
		if (errors.Is(err, domain.ErrStaleStatus) || errors.Is(err, domain.ErrSerializationFailure)) && attempt+1 < maxStaleRetries {
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}

	log.WithField("from", tr.From).Info("reservation transitioned by staff")
	if err := s.audit.LogEvent(ctx, "reservation.transition", actor, tr.AuditData()); err != nil {
		log.WithError(err).Warn("audit write failed")
	}
	if tr.TableSync != nil && tr.TableSync.Action == domain.TableActionRelease {
		if err := s.tables.Apply(ctx, *tr.TableSync); err != nil {
			log.WithError(err).Warn("table release deferred to worker")
		}
	}
	return s.store.GetReservation(ctx, kind, id)
}

func (s *Service) reject(ctx context.Context, log observability.Logger, actor string, res *domain.Reservation, to domain.ReservationStatus, reason string) {
	log.WithFields(map[string]interface{}{"from": res.Status, "reason": reason}).Warn("staff transition rejected")
	observability.TransitionAnomalies.WithLabelValues("admin", reason).Inc()
	if err := s.audit.LogEvent(ctx, "reservation.rejected", actor, map[string]interface{}{
		"reservation_id":   res.ID.String(),
		"reservation_type": string(res.Kind),
		"from":             string(res.Status),
		"to":               string(to),
		"reason":           reason,
	}); err != nil {
		log.WithError(err).Warn("audit write failed")
	}
}

// Delete hard-deletes a reservation. The deleted row is kept in the audit trail.
func (s *Service) Delete(ctx context.Context, kind domain.Kind, id uuid.UUID, actor string) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	res, err := s.store.DeleteReservation(ctx, kind, id)
	if err != nil {
		return err
	}
	data := map[string]interface{}{
		"reservation_id":   res.ID.String(),
		"reservation_type": string(res.Kind),
		"status":           string(res.Status),
		"customer_name":    res.Customer.Name,
		"customer_phone":   res.Customer.Phone,
		"date":             res.Date.Format(domain.DateLayout),
		"amount_due":       res.AmountDue,
	}
	if res.TableID != nil {
		data["table_id"] = *res.TableID
	}
	if res.Payment != nil {
		data["payment_id"] = res.Payment.PaymentID.String()
		data["transaction_id"] = res.Payment.TransactionID
	}
	if err := s.audit.LogEvent(ctx, "reservation.deleted", actor, data); err != nil {
		s.logger.WithError(err).WithField("reservation_id", id).Error("reservation deleted but audit write failed")
	}
	s.logger.WithFields(map[string]interface{}{"reservation_id": id, "actor": actor}).Info("reservation deleted")
	return nil
}

// SetTableStatus applies a staff change on a table. heldBy names the resto
// reservation a reservee or occupee table is held for.
func (s *Service) SetTableStatus(ctx context.Context, id int64, to domain.TableStatus, heldBy *uuid.UUID, actor string) (*domain.Table, error) {
	if !to.Valid() {
		return nil, domain.Validationf("unknown table status %q", to)
	}
	if heldBy != nil && to != domain.TableReserved && to != domain.TableOccupied {
		return nil, domain.Validationf("held_by only applies to %s or %s", domain.TableReserved, domain.TableOccupied)
	}

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	table, err := s.store.GetTable(ctx, id)
	if err != nil {
		return nil, err
	}
	if table.Status == to {
		return table, nil
	}
	if !domain.CanTransitionTable(table.Status, to) {
		observability.TransitionAnomalies.WithLabelValues("admin", "invalid_table_transition").Inc()
		return nil, errors.Wrapf(domain.ErrInvalidTransition, "table %s -> %s", table.Status, to)
	}
	if heldBy != nil {
		res, err := s.store.GetReservation(ctx, domain.KindResto, *heldBy)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Validationf("reservation %s does not exist", heldBy)
		}
		if err != nil {
			return nil, err
		}
		if res.TableID == nil || *res.TableID != id {
			return nil, domain.Validationf("reservation %s is not for table %d", heldBy, id)
		}
		if res.Status.Terminal() {
			return nil, domain.Validationf("reservation %s is %s", heldBy, res.Status)
		}
	}

	if err := s.store.SetTableStatus(ctx, id, table.Status, to, heldBy); err != nil {
		if errors.Is(err, domain.ErrStaleStatus) {
			return nil, errors.Mark(errors.Newf("table %d changed concurrently", id), domain.ErrConflict)
		}
		return nil, err
	}
	data := map[string]interface{}{"table_id": id, "from": string(table.Status), "to": string(to)}
	if heldBy != nil {
		data["reservation_id"] = heldBy.String()
	}
	if err := s.audit.LogEvent(ctx, "table.status_changed", actor, data); err != nil {
		s.logger.WithError(err).Warn("audit write failed")
	}
	return s.store.GetTable(ctx, id)
}

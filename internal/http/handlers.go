package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mongoadapter "github.com/robertarktes/venue-bookings/internal/adapters/mongo"
	"github.com/robertarktes/venue-bookings/internal/adapters/rabbit"
	"github.com/robertarktes/venue-bookings/internal/booking"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/observability"
	"github.com/robertarktes/venue-bookings/internal/payment"
	"golang.org/x/sync/errgroup"
)

const maxBodyBytes = 64 << 10

type PaymentInitiator interface {
	Initiate(ctx context.Context, req payment.InitiationRequest) (*payment.InitiationResult, error)
}

type WebhookProcessor interface {
	Process(ctx context.Context, ev payment.WebhookEvent) (payment.WebhookResult, error)
}

type SignatureVerifier interface {
	Verify(body []byte, timestamp, signature string) error
}

type Bookings interface {
	CreateGarden(ctx context.Context, req booking.GardenRequest) (*domain.Reservation, error)
	CreateResto(ctx context.Context, req booking.RestoRequest) (*domain.Reservation, error)
	Get(ctx context.Context, kind domain.Kind, id uuid.UUID) (*domain.Reservation, error)
	List(ctx context.Context, kind domain.Kind, status domain.ReservationStatus, limit int) ([]domain.Reservation, error)
	ListTables(ctx context.Context, kind domain.Kind) ([]domain.Table, error)
	ListFormulas(ctx context.Context) ([]domain.Formula, error)
	Transition(ctx context.Context, kind domain.Kind, id uuid.UUID, to domain.ReservationStatus, actor string) (*domain.Reservation, error)
	Delete(ctx context.Context, kind domain.Kind, id uuid.UUID, actor string) error
	SetTableStatus(ctx context.Context, id int64, to domain.TableStatus, heldBy *uuid.UUID, actor string) (*domain.Table, error)
}

type AuditTrail interface {
	ForReservation(ctx context.Context, reservationID string, limit int64) ([]mongoadapter.AuditLog, error)
}

type EventFeed interface {
	Subscribe(ctx context.Context) (<-chan rabbit.Event, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Payments PaymentInitiator
	Webhooks WebhookProcessor
	Verifier SignatureVerifier
	Bookings Bookings
	Audit    AuditTrail
	Feed     EventFeed
	// Checks are pinged by the readiness check, keyed by dependency name.
	Checks map[string]Pinger
	Logger observability.Logger
}

type Handlers struct {
	payments PaymentInitiator
	webhooks WebhookProcessor
	verifier SignatureVerifier
	bookings Bookings
	audit    AuditTrail
	feed     EventFeed
	checks   map[string]Pinger
	logger   observability.Logger
}

func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		payments: d.Payments,
		webhooks: d.Webhooks,
		verifier: d.Verifier,
		bookings: d.Bookings,
		audit:    d.Audit,
		feed:     d.Feed,
		checks:   d.Checks,
		logger:   d.Logger,
	}
}

// decode reads a JSON body strictly: unknown fields and trailing data are
// rejected as validation errors.
func decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.Validationf("malformed JSON body: %s", err.Error())
	}
	if dec.More() {
		return domain.Validationf("malformed JSON body: trailing data")
	}
	return nil
}

func kindParam(r *http.Request) (domain.Kind, error) {
	kind := domain.Kind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		return "", domain.Validationf("unknown reservation type %q", kind)
	}
	return kind, nil
}

func idParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, domain.Validationf("reservation id must be a UUID")
	}
	return id, nil
}

type paymentResponse struct {
	Success          bool                 `json:"success"`
	PaymentID        uuid.UUID            `json:"payment_id"`
	ConfirmationCode string               `json:"confirmation_code"`
	PaymentMethod    domain.PaymentMethod `json:"payment_method"`
	Amount           int64                `json:"amount"`
	Status           domain.IntentStatus  `json:"status"`
	PaymentURL       *string              `json:"payment_url"`
}

func (h *Handlers) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req payment.InitiationRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.payments.Initiate(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentResponse{
		Success:          true,
		PaymentID:        res.PaymentID,
		ConfirmationCode: res.ConfirmationCode,
		PaymentMethod:    res.Method,
		Amount:           res.Amount,
		Status:           res.Status,
		PaymentURL:       res.PaymentURL,
	})
}

// PaymentWebhook acknowledges every verified delivery it could process,
// including duplicates and rejected transitions, so the provider stops
// retrying. Only store failures answer 500.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	log := observability.FromContext(r.Context(), h.logger)
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"received": false})
		return
	}
	err = h.verifier.Verify(body, r.Header.Get(payment.TimestampHeader), r.Header.Get(payment.SignatureHeader))
	if err != nil {
		log.WithError(err).WithField("remote_addr", r.RemoteAddr).Warn("payment webhook signature rejected")
		observability.WebhookDeliveries.WithLabelValues("unauthorized").Inc()
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"received": false, "error": "invalid signature"})
		return
	}

	var ev payment.WebhookEvent
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		observability.WebhookDeliveries.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"received": false, "error": "malformed payload"})
		return
	}

	result, err := h.webhooks.Process(r.Context(), ev)
	if errors.Is(err, domain.ErrValidation) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"received": false, "error": err.Error()})
		return
	}
	if err != nil {
		log.WithError(err).WithField("payment_id", ev.PaymentID).Error("payment webhook failed")
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"received": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"received": true, "result": result})
}

type paymentInfo struct {
	PaymentID     uuid.UUID            `json:"payment_id"`
	TransactionID string               `json:"transaction_id,omitempty"`
	Method        domain.PaymentMethod `json:"payment_method"`
	ConfirmedAt   *time.Time           `json:"confirmed_at,omitempty"`
}

type reservationResponse struct {
	ID            uuid.UUID                `json:"id"`
	Type          domain.Kind              `json:"reservation_type"`
	Status        domain.ReservationStatus `json:"statut"`
	CustomerName  string                   `json:"customer_name"`
	CustomerPhone string                   `json:"customer_phone"`
	CustomerEmail string                   `json:"customer_email,omitempty"`
	Date          string                   `json:"date"`
	TimeSlot      string                   `json:"time_slot,omitempty"`
	FormulaID     string                   `json:"formula_id,omitempty"`
	MenuID        string                   `json:"menu_id,omitempty"`
	PartySize     int                      `json:"party_size"`
	AmountDue     int64                    `json:"amount_due"`
	TableID       *int64                   `json:"table_id,omitempty"`
	Note          string                   `json:"note,omitempty"`
	Payment       *paymentInfo             `json:"payment,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
	UpdatedAt     time.Time                `json:"updated_at"`
}

func toReservationResponse(res *domain.Reservation) reservationResponse {
	out := reservationResponse{
		ID:            res.ID,
		Type:          res.Kind,
		Status:        res.Status,
		CustomerName:  res.Customer.Name,
		CustomerPhone: res.Customer.Phone,
		CustomerEmail: res.Customer.Email,
		Date:          res.Date.Format(domain.DateLayout),
		TimeSlot:      res.TimeSlot,
		FormulaID:     res.FormulaID,
		MenuID:        res.MenuID,
		PartySize:     res.PartySize,
		AmountDue:     res.AmountDue,
		TableID:       res.TableID,
		Note:          res.Note,
		CreatedAt:     res.CreatedAt,
		UpdatedAt:     res.UpdatedAt,
	}
	if res.Payment != nil {
		out.Payment = &paymentInfo{
			PaymentID:     res.Payment.PaymentID,
			TransactionID: res.Payment.TransactionID,
			Method:        res.Payment.Method,
		}
		if !res.Payment.ConfirmedAt.IsZero() {
			confirmedAt := res.Payment.ConfirmedAt
			out.Payment.ConfirmedAt = &confirmedAt
		}
	}
	return out
}

// statusResponse is what the public success screen polls; it carries no
// customer contact details.
type statusResponse struct {
	ID        uuid.UUID                `json:"id"`
	Type      domain.Kind              `json:"reservation_type"`
	Status    domain.ReservationStatus `json:"statut"`
	Date      string                   `json:"date"`
	TimeSlot  string                   `json:"time_slot,omitempty"`
	AmountDue int64                    `json:"amount_due"`
	Paid      bool                     `json:"paid"`
}

func (h *Handlers) CreateGardenReservation(w http.ResponseWriter, r *http.Request) {
	var req booking.GardenRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.bookings.CreateGarden(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservationResponse(res))
}

func (h *Handlers) CreateRestoReservation(w http.ResponseWriter, r *http.Request) {
	var req booking.RestoRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.bookings.CreateResto(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservationResponse(res))
}

func (h *Handlers) GetReservation(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.bookings.Get(r.Context(), kind, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		ID:        res.ID,
		Type:      res.Kind,
		Status:    res.Status,
		Date:      res.Date.Format(domain.DateLayout),
		TimeSlot:  res.TimeSlot,
		AmountDue: res.AmountDue,
		Paid:      res.Payment != nil && !res.Payment.ConfirmedAt.IsZero(),
	})
}

type tableResponse struct {
	ID        int64              `json:"id"`
	Name      string             `json:"name"`
	Kind      domain.Kind        `json:"kind"`
	Capacity  int                `json:"capacity"`
	FormulaID string             `json:"formula_id,omitempty"`
	Status    domain.TableStatus `json:"statut"`
	HeldBy    *uuid.UUID         `json:"held_by,omitempty"`
}

func toTableResponse(t domain.Table, admin bool) tableResponse {
	out := tableResponse{ID: t.ID, Name: t.Name, Kind: t.Kind, Capacity: t.Capacity, FormulaID: t.FormulaID, Status: t.Status}
	if admin {
		out.HeldBy = t.HeldBy
	}
	return out
}

func (h *Handlers) ListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.bookings.ListTables(r.Context(), domain.Kind(r.URL.Query().Get("kind")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]tableResponse, len(tables))
	for i, t := range tables {
		out[i] = toTableResponse(t, false)
	}
	writeJSON(w, http.StatusOK, out)
}

type formulaResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Price     int64    `json:"price"`
	Capacity  int      `json:"capacity"`
	Amenities []string `json:"amenities"`
}

func (h *Handlers) ListFormulas(w http.ResponseWriter, r *http.Request) {
	formulas, err := h.bookings.ListFormulas(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]formulaResponse, len(formulas))
	for i, f := range formulas {
		out[i] = formulaResponse{ID: f.ID, Name: f.Name, Price: f.Price, Capacity: f.Capacity, Amenities: f.Amenities}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) AdminListReservations(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.bookings.List(r.Context(), kind, domain.ReservationStatus(r.URL.Query().Get("status")), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]reservationResponse, len(list))
	for i := range list {
		out[i] = toReservationResponse(&list[i])
	}
	writeJSON(w, http.StatusOK, out)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handlers) AdminTransition(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req statusRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.bookings.Transition(r.Context(), kind, id, domain.ReservationStatus(req.Status), ActorFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(res))
}

func (h *Handlers) AdminDeleteReservation(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.bookings.Delete(r.Context(), kind, id, ActorFromContext(r.Context())); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) AdminAuditTrail(w http.ResponseWriter, r *http.Request) {
	if _, err := kindParam(r); err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entries, err := h.audit.ForReservation(r.Context(), id.String(), 100)
	if err != nil {
		h.writeError(w, r, errors.Mark(err, domain.ErrStoreUnavailable))
		return
	}
	if entries == nil {
		entries = []mongoadapter.AuditLog{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type tableStatusRequest struct {
	Status string     `json:"status"`
	HeldBy *uuid.UUID `json:"held_by,omitempty"`
}

func (h *Handlers) AdminSetTableStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeError(w, r, domain.Validationf("table id must be an integer"))
		return
	}
	var req tableStatusRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	table, err := h.bookings.SetTableStatus(r.Context(), id, domain.TableStatus(req.Status), req.HeldBy, ActorFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTableResponse(*table, true))
}

// AdminEvents streams reservation and table changes as Server-Sent Events.
func (h *Handlers) AdminEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, r, errors.New("streaming unsupported"))
		return
	}
	log := observability.FromContext(r.Context(), h.logger)
	events, err := h.feed.Subscribe(r.Context())
	if err != nil {
		log.WithError(err).Error("event subscription failed")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "event stream unavailable", Code: "STREAM_UNAVAILABLE"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	keepAlive := time.NewTicker(25 * time.Second)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.ID != "" {
				fmt.Fprintf(w, "id: %s\n", ev.ID)
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, ev.Data)
			flusher.Flush()
		}
	}
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz pings every dependency in parallel and reports each result.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	errs := make([]error, 0, len(h.checks))
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	outcomes := make([]error, len(names))

	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			outcomes[i] = h.checks[name].Ping(ctx)
			return nil
		})
	}
	g.Wait()

	for i, name := range names {
		if outcomes[i] != nil {
			results[name] = outcomes[i].Error()
			errs = append(errs, outcomes[i])
			continue
		}
		results[name] = "ok"
	}
	status := http.StatusOK
	if len(errs) > 0 {
		status = http.StatusServiceUnavailable
		observability.FromContext(r.Context(), h.logger).WithField("checks", results).Warn("not ready")
	}
	writeJSON(w, status, map[string]interface{}{"ready": len(errs) == 0, "checks": results})
}

package payment

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
	deliveryTTL     = 72 * time.Hour
	webhookActor    = "webhook"
)

type WebhookEvent struct {
	PaymentID       string `json:"payment_id" validate:"required,uuid"`
	ReservationID   string `json:"reservation_id" validate:"required,uuid"`
	ReservationType string `json:"reservation_type" validate:"required,oneof=garden resto"`
	Status          string `json:"status" validate:"required,max=32"`
	TransactionID   string `json:"transaction_id" validate:"max=128"`
	PaymentMethod   string `json:"payment_method" validate:"required,oneof=dahabia cib"`
}

type WebhookResult string

const (
	ResultApplied   WebhookResult = "applied"
	ResultDuplicate WebhookResult = "duplicate"
	ResultAnomaly   WebhookResult = "anomaly"
	ResultIgnored   WebhookResult = "ignored"
)

type WebhookProcessor struct {
	store        Store
	tables       TableSyncer
	audit        Auditor
	deliveries   DeliveryCache
	storeTimeout time.Duration
	validate     *validation.Validator
	logger       observability.Logger
	now          func() time.Time
}

func NewWebhookProcessor(cfg *config.Config, store Store, tables TableSyncer, audit Auditor, deliveries DeliveryCache, logger observability.Logger) *WebhookProcessor {
	return &WebhookProcessor{
		store:        store,
		tables:       tables,
		audit:        audit,
		deliveries:   deliveries,
		storeTimeout: cfg.StoreTimeout,
		validate:     validation.New(),
		logger:       logger,
		now:          time.Now,
	}
}

// Process applies one provider notification. Deliveries are at-least-once and
// may arrive out of order: replays of an applied outcome are acknowledged
// without side effects, contradicting outcomes are acknowledged as anomalies
// and leave the reservation untouched. Only store failures are returned as
// errors the provider should retry on.
func (p *WebhookProcessor) Process(ctx context.Context, ev WebhookEvent) (WebhookResult, error) {
	result, err := p.process(ctx, ev)
	label := string(result)
	if err != nil {
		label = "error"
		if errors.Is(err, domain.ErrValidation) {
			label = "invalid"
		}
	}
	observability.WebhookDeliveries.WithLabelValues(label).Inc()
	return result, err
}

func (p *WebhookProcessor) process(ctx context.Context, ev WebhookEvent) (WebhookResult, error) {
	if err := p.validate.Struct(ev); err != nil {
		return "", err
	}
	outcome, err := domain.ParseOutcome(ev.Status)
	if err != nil {
		return "", err
	}
	if outcome == domain.OutcomeSucceeded && ev.TransactionID == "" {
		return "", domain.Validationf("transaction_id is required for a completed payment")
	}

	paymentID := uuid.MustParse(ev.PaymentID)
	reservationID := uuid.MustParse(ev.ReservationID)
	kind := domain.Kind(ev.ReservationType)
	log := p.logger.WithFields(map[string]interface{}{
		"payment_id":     paymentID,
		"reservation_id": reservationID,
		"outcome":        outcome.String(),
	})

	if outcome == domain.OutcomeInProgress {
		log.Debug("intermediate payment status acknowledged")
		return ResultIgnored, nil
	}

	deliveryKey := "webhook:" + paymentID.String() + ":" + outcome.String()
	if p.deliveries != nil {
		if seen, err := p.deliveries.Seen(ctx, deliveryKey); err == nil && seen {
			log.Info("webhook replay acknowledged from delivery cache")
			return ResultDuplicate, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.storeTimeout)
	defer cancel()

	intent, err := p.store.GetPaymentIntent(ctx, paymentID)
	if errors.Is(err, domain.ErrNotFound) {
		return p.anomaly(ctx, log, ev, "unknown_payment", nil)
	}
	if err != nil {
		return "", storeErr(ctx, err)
	}
	if intent.ReservationID != reservationID || intent.ReservationKind != kind || string(intent.Method) != ev.PaymentMethod {
		return p.anomaly(ctx, log, ev, "payment_mismatch", nil)
	}

	var (
		tr          domain.Transition
		reservation *domain.Reservation
	)
	for attempt := 0; ; attempt++ {
		reservation, err = p.store.GetReservation(ctx, kind, reservationID)
		if errors.Is(err, domain.ErrNotFound) {
			return p.anomaly(ctx, log, ev, "unknown_reservation", nil)
		}
		if err != nil {
			return "", storeErr(ctx, err)
		}

		next, derr := domain.DecidePayment(kind, reservation.Status, outcome)
		if errors.Is(derr, domain.ErrAlreadyTerminal) {
			log.WithField("status", reservation.Status).Info("payment outcome already applied")
			p.remember(ctx, log, deliveryKey)
			return ResultDuplicate, nil
		}
		if derr != nil {
			return p.anomaly(ctx, log, ev, "invalid_transition", derr)
		}

		if kind == domain.KindResto && next == domain.StatusConfirmed && reservation.TableID == nil {
			return p.paidAnomaly(ctx, log, ev, intent, domain.TableHeld("missing_table"))
		}

		tr = p.transition(reservation, next, intent, outcome, ev)
		err = p.store.ApplyTransition(ctx, tr)
		if errors.Is(err, domain.ErrTableUnavailable) {
			return p.paidAnomaly(ctx, log, ev, intent, err)
		}
		if errors.Is(err, domain.ErrStaleStatus) || errors.Is(err, domain.ErrSerializationFailure) {
			if attempt+1 < maxStaleRetries {
				log.Debug("reservation changed concurrently, re-reading")
				continue
			}
		}
		if err != nil {
			return "", storeErr(ctx, err)
		}
		break
	}

	log.WithFields(map[string]interface{}{"from": tr.From, "to": tr.To}).Info("reservation transitioned by payment webhook")
	p.auditTransition(ctx, log, tr)

	if tr.TableSync != nil && tr.TableSync.Action == domain.TableActionRelease {
		// the reservation stays committed; the worker finishes the table on failure
		if err := p.tables.Apply(ctx, *tr.TableSync); err != nil {
			log.WithError(err).Warn("table release deferred to worker")
		}
	}
	p.remember(ctx, log, deliveryKey)
	return ResultApplied, nil
}

func (p *WebhookProcessor) transition(res *domain.Reservation, next domain.ReservationStatus, intent *domain.PaymentIntent, outcome domain.PaymentOutcome, ev WebhookEvent) domain.Transition {
	meta := &domain.PaymentMetadata{
		PaymentID:     intent.ID,
		TransactionID: ev.TransactionID,
		Method:        domain.PaymentMethod(ev.PaymentMethod),
	}
	if outcome == domain.OutcomeSucceeded {
		meta.ConfirmedAt = p.now().UTC()
	}
	intentID := intent.ID
	tr := domain.Transition{
		ReservationID: res.ID,
		Kind:          res.Kind,
		From:          res.Status,
		To:            next,
		Payment:       meta,
		IntentID:      &intentID,
		IntentStatus:  domain.IntentStatusFor(outcome),
		Actor:         webhookActor,
	}
	if action, ok := domain.TableEffect(res.Kind, next); ok && res.TableID != nil {
		tr.TableSync = tablesync.NewSync(res.ID, *res.TableID, action)
	}
	return tr
}

// paidAnomaly records a succeeded payment whose table cannot be held. The
// reservation is left for staff, but the intent is settled so the expiry job
// never cancels a booking the customer has paid for.
func (p *WebhookProcessor) paidAnomaly(ctx context.Context, log observability.Logger, ev WebhookEvent, intent *domain.PaymentIntent, cause error) (WebhookResult, error) {
	if err := p.store.SettleIntent(ctx, intent.ID, domain.IntentSucceeded); err != nil {
		return "", storeErr(ctx, err)
	}
	reason := domain.HoldReason(cause)
	if reason == "" {
		reason = "table_unavailable"
	}
	return p.anomaly(ctx, log, ev, reason, cause)
}

func (p *WebhookProcessor) anomaly(ctx context.Context, log observability.Logger, ev WebhookEvent, reason string, cause error) (WebhookResult, error) {
	entry := log.WithFields(map[string]interface{}{"reason": reason, "status": ev.Status, "transaction_id": ev.TransactionID})
	if cause != nil {
		entry = entry.WithError(cause)
	}
	entry.Warn("payment webhook rejected, reservation left untouched")
	observability.TransitionAnomalies.WithLabelValues(webhookActor, reason).Inc()
	if p.audit != nil {
		if err := p.audit.LogEvent(ctx, "payment.anomaly", webhookActor, map[string]interface{}{
			"reason":           reason,
			"payment_id":       ev.PaymentID,
			"reservation_id":   ev.ReservationID,
			"reservation_type": ev.ReservationType,
			"status":           ev.Status,
			"transaction_id":   ev.TransactionID,
		}); err != nil {
			log.WithError(err).Warn("audit write failed")
		}
	}
	return ResultAnomaly, nil
}

func (p *WebhookProcessor) auditTransition(ctx context.Context, log observability.Logger, tr domain.Transition) {
	if p.audit == nil {
		return
	}
	if err := p.audit.LogEvent(ctx, "reservation.transition", tr.Actor, tr.AuditData()); err != nil {
		log.WithError(err).Warn("audit write failed")
	}
}

func (p *WebhookProcessor) remember(ctx context.Context, log observability.Logger, key string) {
	if p.deliveries == nil {
		return
	}
	if err := p.deliveries.Remember(ctx, key, deliveryTTL); err != nil {
		log.WithError(err).Debug("delivery cache write failed")
	}
}

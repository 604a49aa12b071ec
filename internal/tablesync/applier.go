// Package tablesync applies the table side effects of reservation
// transitions. The reservation row is the source of truth: a failed table
// update is retried, never compensated by rolling the reservation back.
package tablesync

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/observability"
)

const (
	StatusDone   = "DONE"
	StatusFailed = "FAILED"
)

type Store interface {
	ReserveTable(ctx context.Context, tableID int64, reservationID uuid.UUID) error
	ReleaseTable(ctx context.Context, tableID int64, reservationID uuid.UUID) error
	MarkTableSync(ctx context.Context, id uuid.UUID, status string, attempts int, lastErr string) error
}

type Applier struct {
	store      Store
	logger     observability.Logger
	maxRetries int
	baseDelay  time.Duration
}

func NewApplier(store Store, logger observability.Logger, maxRetries int, baseDelay time.Duration) *Applier {
	return &Applier{store: store, logger: logger, maxRetries: maxRetries, baseDelay: baseDelay}
}

// Apply runs the table update with exponential backoff. On success the sync
// row is marked DONE. Permanent failures (table out of service or held by
// another reservation) mark it FAILED. When retries are exhausted the row is
// left NEW for the worker and the last error is returned.
func (a *Applier) Apply(ctx context.Context, sync domain.TableSync) error {
	log := a.logger.WithFields(map[string]interface{}{
		"table_sync_id":  sync.ID,
		"reservation_id": sync.ReservationID,
		"table_id":       sync.TableID,
		"action":         sync.Action,
	})

	attempts := 0
	op := func() error {
		attempts++
		if attempts > 1 {
			observability.TableSyncRetries.Inc()
		}
		err := a.apply(ctx, sync)
		if errors.Is(err, domain.ErrTableUnavailable) || errors.Is(err, domain.ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.baseDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(a.maxRetries-1)), ctx)

	err := backoff.Retry(op, policy)
	switch {
	case err == nil:
		if merr := a.store.MarkTableSync(ctx, sync.ID, StatusDone, attempts, ""); merr != nil {
			log.WithError(merr).Warn("table updated but sync row not marked done")
		}
		return nil
	case errors.Is(err, domain.ErrTableUnavailable) || errors.Is(err, domain.ErrNotFound):
		log.WithError(err).Error("table sync rejected, manual review required")
		observability.TransitionAnomalies.WithLabelValues("table_sync", "table_unavailable").Inc()
		if merr := a.store.MarkTableSync(ctx, sync.ID, StatusFailed, attempts, err.Error()); merr != nil {
			log.WithError(merr).Warn("failed to mark table sync failed")
		}
		return err
	default:
		log.WithError(err).Warn("table sync not applied, left for worker")
		// the worker picks the row up again; only the attempt counter moves
		if merr := a.store.MarkTableSync(ctx, sync.ID, "NEW", attempts, err.Error()); merr != nil {
			log.WithError(merr).Warn("failed to record table sync attempts")
		}
		return err
	}
}

func (a *Applier) apply(ctx context.Context, sync domain.TableSync) error {
	switch sync.Action {
	case domain.TableActionReserve:
		return a.store.ReserveTable(ctx, sync.TableID, sync.ReservationID)
	case domain.TableActionRelease:
		return a.store.ReleaseTable(ctx, sync.TableID, sync.ReservationID)
	}
	return backoff.Permanent(errors.Newf("unknown table action %q", sync.Action))
}

func NewSync(reservationID uuid.UUID, tableID int64, action domain.TableAction) *domain.TableSync {
	return &domain.TableSync{
		ID:            uuid.New(),
		ReservationID: reservationID,
		TableID:       tableID,
		Action:        action,
		Status:        "NEW",
		CreatedAt:     time.Now().UTC(),
	}
}

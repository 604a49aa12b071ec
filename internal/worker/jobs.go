// Package worker holds the background jobs that repair table state and
// expire reservations whose payment never arrived.
package worker

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/observability"
	"github.com/robertarktes/venue-bookings/internal/tablesync"
)

const (
	batchSize   = 100
	workerActor = "worker"
)

type Store interface {
	PendingTableSyncs(ctx context.Context, createdBefore time.Time, limit int) ([]domain.TableSync, error)
	StaleAwaitingPayment(ctx context.Context, cutoff time.Time, limit int) ([]domain.Reservation, error)
	ApplyTransition(ctx context.Context, tr domain.Transition) error
}

type TableSyncer interface {
	Apply(ctx context.Context, sync domain.TableSync) error
}

type Auditor interface {
	LogEvent(ctx context.Context, action, actor string, data map[string]interface{}) error
}

type Jobs struct {
	store      Store
	tables     TableSyncer
	audit      Auditor
	grace      time.Duration
	paymentTTL time.Duration
	logger     observability.Logger
	now        func() time.Time
}

func NewJobs(store Store, tables TableSyncer, audit Auditor, grace, paymentTTL time.Duration, logger observability.Logger) *Jobs {
	return &Jobs{
		store:      store,
		tables:     tables,
		audit:      audit,
		grace:      grace,
		paymentTTL: paymentTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// SyncTables finishes table updates the request path could not apply. Rows
// younger than the grace period are left to the request that created them.
func (j *Jobs) SyncTables(ctx context.Context) (int, error) {
	pending, err := j.store.PendingTableSyncs(ctx, j.now().Add(-j.grace), batchSize)
	if err != nil {
		return 0, errors.Wrap(err, "list pending table syncs")
	}
	done := 0
	for _, sync := range pending {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if err := j.tables.Apply(ctx, sync); err != nil {
			continue
		}
		done++
	}
	if len(pending) > 0 {
		j.logger.WithFields(map[string]interface{}{"pending": len(pending), "applied": done}).Info("table sync pass finished")
	}
	return done, nil
}

// ExpireAwaitingPayment cancels resto reservations that have waited for
// payment longer than the payment TTL and releases their table.
func (j *Jobs) ExpireAwaitingPayment(ctx context.Context) (int, error) {
	stale, err := j.store.StaleAwaitingPayment(ctx, j.now().Add(-j.paymentTTL), batchSize)
	if err != nil {
		return 0, errors.Wrap(err, "list stale reservations")
	}
	expired := 0
	for _, res := range stale {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		log := j.logger.WithField("reservation_id", res.ID)
		tr := domain.Transition{
			ReservationID: res.ID,
			Kind:          res.Kind,
			From:          res.Status,
			To:            domain.StatusCancelled,
			Actor:         workerActor,
			UnpaidOnly:    true,
		}
		if res.TableID != nil {
			tr.TableSync = tablesync.NewSync(res.ID, *res.TableID, domain.TableActionRelease)
		}
		err := j.store.ApplyTransition(ctx, tr)
		if errors.Is(err, domain.ErrStaleStatus) {
			// a webhook or staff action got there first, or the payment succeeded
			continue
		}
		if err != nil {
			log.WithError(err).Error("failed to expire reservation")
			continue
		}
		expired++
		log.Info("reservation expired without payment")
		if err := j.audit.LogEvent(ctx, "reservation.expired", workerActor, tr.AuditData()); err != nil {
			log.WithError(err).Warn("audit write failed")
		}
		if tr.TableSync != nil {
			if err := j.tables.Apply(ctx, *tr.TableSync); err != nil {
				log.WithError(err).Warn("table release deferred")
			}
		}
	}
	return expired, nil
}

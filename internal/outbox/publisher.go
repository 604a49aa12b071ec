// Package outbox relays committed outbox records to the events exchange.
package outbox

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/venue-bookings/internal/adapters/postgres"
	"github.com/robertarktes/venue-bookings/internal/observability"
)

type Store interface {
	ClaimUnpublishedOutbox(ctx context.Context, limit int, fn func(records []postgres.OutboxRecord) ([]uuid.UUID, error)) error
}

type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// Publisher holds the claimed rows locked while it sends, so both a single
// send and the whole batch are bounded in time.
type Publisher struct {
	store          Store
	broker         Broker
	logger         observability.Logger
	batchSize      int
	retries        uint64
	publishTimeout time.Duration
	claimBudget    time.Duration
	now            func() time.Time
}

func NewPublisher(store Store, broker Broker, logger observability.Logger) *Publisher {
	return &Publisher{
		store:          store,
		broker:         broker,
		logger:         logger,
		batchSize:      50,
		retries:        3,
		publishTimeout: 2 * time.Second,
		claimBudget:    5 * time.Second,
		now:            time.Now,
	}
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	p.logger.WithField("interval", interval.String()).Info("outbox publisher started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				n, err := p.PublishBatch(ctx)
				if err != nil {
					p.logger.WithError(err).Error("outbox batch failed")
					break
				}
				if n < p.batchSize {
					break
				}
			}
		}
	}
}

// PublishBatch sends one batch of NEW records and returns how many were
// published. A record that cannot be sent stops the batch so events of one
// aggregate keep their order; it is picked up again on the next tick.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	var published []uuid.UUID
	err := p.store.ClaimUnpublishedOutbox(ctx, p.batchSize, func(records []postgres.OutboxRecord) ([]uuid.UUID, error) {
		start := time.Now()
		for _, rec := range records {
			if time.Since(start) > p.claimBudget {
				// release the locks; the rest goes out on the next tick
				break
			}
			if err := p.publish(ctx, rec); err != nil {
				p.logger.WithError(err).WithFields(map[string]interface{}{
					"outbox_id":  rec.ID,
					"event_type": rec.EventType,
				}).Warn("outbox record not published")
				break
			}
			published = append(published, rec.ID)
			observability.OutboxLag.Set(p.now().Sub(rec.CreatedAt).Seconds())
		}
		return published, nil
	})
	if err != nil {
		return 0, err
	}
	return len(published), nil
}

func (p *Publisher) publish(ctx context.Context, rec postgres.OutboxRecord) error {
	msg := amqp.Publishing{
		MessageId:   rec.DedupeKey,
		ContentType: "application/json",
		Timestamp:   rec.CreatedAt,
		Type:        rec.EventType,
		Body:        rec.Payload,
		Headers:     amqp.Table{"aggregate_type": rec.AggregateType, "aggregate_id": rec.AggregateID},
	}
	ctx, cancel := context.WithTimeout(ctx, p.publishTimeout)
	defer cancel()

	attempt := 0
	op := func() error {
		if attempt > 0 {
			observability.RabbitPublishRetries.Inc()
		}
		attempt++
		return p.broker.Publish(ctx, rec.EventType, msg)
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 50 * time.Millisecond
	eb.MaxInterval = 500 * time.Millisecond
	eb.MaxElapsedTime = p.publishTimeout
	b := backoff.WithContext(backoff.WithMaxRetries(eb, p.retries), ctx)
	return backoff.Retry(op, b)
}

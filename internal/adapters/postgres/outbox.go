package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/venue-bookings/internal/domain"
)

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED, FAILED
	DedupeKey     string
}

func newOutboxRecord(aggregateType, aggregateID, eventType string, data map[string]interface{}) OutboxRecord {
	id := uuid.New()
	data["event_type"] = eventType
	data["occurred_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	payload, _ := json.Marshal(data)
	return OutboxRecord{
		ID:            id,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		DedupeKey:     id.String(),
	}
}

func reservationEvent(eventType string, kind domain.Kind, id uuid.UUID, data map[string]interface{}) OutboxRecord {
	data["reservation_id"] = id
	data["reservation_type"] = kind
	return newOutboxRecord("reservation", id.String(), eventType, data)
}

func eventTypeFor(status domain.ReservationStatus) string {
	switch status {
	case domain.StatusConfirmed:
		return "reservation.confirmed"
	case domain.StatusCancelled:
		return "reservation.cancelled"
	case domain.StatusCompleted:
		return "reservation.completed"
	}
	return "reservation.updated"
}

func (r *Repository) InsertOutbox(ctx context.Context, tx pgx.Tx, record OutboxRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, 'NEW', $6)
	`, record.ID, record.AggregateType, record.AggregateID, record.EventType, record.Payload, record.DedupeKey)
	return err
}

// ClaimUnpublishedOutbox locks a batch of NEW records for the duration of fn so
// concurrent publishers never send the same record twice.
// Records fn reports as published are marked even when fn also returns an
// error, so a partial batch is not resent.
func (r *Repository) ClaimUnpublishedOutbox(ctx context.Context, limit int, fn func(records []OutboxRecord) ([]uuid.UUID, error)) error {
	var fnErr error
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, aggregate_type, aggregate_id, event_type, payload_json, created_at, published_at, status, dedupe_key
			FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
		`, limit)
		if err != nil {
			return err
		}
		var records []OutboxRecord
		for rows.Next() {
			var rec OutboxRecord
			err := rows.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload, &rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.DedupeKey)
			if err != nil {
				rows.Close()
				return err
			}
			records = append(records, rec)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		var published []uuid.UUID
		published, fnErr = fn(records)
		if len(published) > 0 {
			ids := make([]string, len(published))
			for i, id := range published {
				ids[i] = id.String()
			}
			if _, uerr := tx.Exec(ctx, `
				UPDATE outbox SET status = 'PUBLISHED', published_at = now() WHERE id = ANY($1::uuid[])
			`, ids); uerr != nil {
				return uerr
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return fnErr
}

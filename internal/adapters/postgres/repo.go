package postgres

import (
	"context"
	_ "embed"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/venue-bookings/internal/domain"
	"github.com/robertarktes/venue-bookings/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"
)

//go:embed schema.sql
var schema string

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Migrate applies the schema. Every statement is idempotent.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return errors.Wrap(err, "apply schema")
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return mapErr(err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return mapErr(err)
	}
	return mapErr(tx.Commit(ctx))
}

// mapErr translates driver errors into domain errors so callers never
// inspect pgx types.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case SerializationFailureCode:
			return errors.Mark(err, domain.ErrSerializationFailure)
		case UniqueViolationCode:
			return errors.Mark(err, domain.ErrConflict)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return errors.Mark(err, domain.ErrStoreUnavailable)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return errors.Mark(err, domain.ErrStoreUnavailable)
	}
	return err
}

func reservationTable(kind domain.Kind) string {
	if kind == domain.KindResto {
		return "resto_reservations"
	}
	return "garden_reservations"
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *Repository) CreateReservation(ctx context.Context, res domain.Reservation) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		if res.Kind == domain.KindResto {
			_, err = tx.Exec(ctx, `
				INSERT INTO resto_reservations (id, customer_name, customer_phone, customer_email, reservation_date,
					time_slot, menu_id, party_size, amount_due, statut, table_id, note, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
			`, res.ID, res.Customer.Name, res.Customer.Phone, nullString(res.Customer.Email), res.Date,
				res.TimeSlot, nullString(res.MenuID), res.PartySize, res.AmountDue, res.Status, res.TableID, res.Note, res.CreatedAt)
		} else {
			_, err = tx.Exec(ctx, `
				INSERT INTO garden_reservations (id, customer_name, customer_phone, customer_email, reservation_date,
					formula_id, party_size, amount_due, statut, note, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
			`, res.ID, res.Customer.Name, res.Customer.Phone, nullString(res.Customer.Email), res.Date,
				res.FormulaID, res.PartySize, res.AmountDue, res.Status, res.Note, res.CreatedAt)
		}
		if err != nil {
			return err
		}
		return r.InsertOutbox(ctx, tx, reservationEvent("reservation.created", res.Kind, res.ID, map[string]interface{}{
			"status": res.Status,
			"date":   res.Date.Format(domain.DateLayout),
		}))
	})
}

const reservationColumns = `id, customer_name, customer_phone, customer_email, reservation_date, party_size, amount_due,
	statut, note, payment_id, payment_transaction_id, payment_method, payment_confirmed_at, created_at, updated_at`

func scanReservation(kind domain.Kind, row pgx.Row) (*domain.Reservation, error) {
	res := domain.Reservation{Kind: kind}
	var (
		email, txID, method, slot, menuOrFormula *string
		paymentID                                *uuid.UUID
		confirmedAt                              *time.Time
		tableID                                  *int64
	)
	dest := []interface{}{&res.ID, &res.Customer.Name, &res.Customer.Phone, &email, &res.Date, &res.PartySize,
		&res.AmountDue, &res.Status, &res.Note, &paymentID, &txID, &method, &confirmedAt, &res.CreatedAt, &res.UpdatedAt}
	if kind == domain.KindResto {
		dest = append(dest, &slot, &menuOrFormula, &tableID)
	} else {
		dest = append(dest, &menuOrFormula)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, mapErr(err)
	}
	res.Customer.Email = derefString(email)
	if kind == domain.KindResto {
		res.TimeSlot = derefString(slot)
		res.MenuID = derefString(menuOrFormula)
		res.TableID = tableID
	} else {
		res.FormulaID = derefString(menuOrFormula)
	}
	if paymentID != nil {
		res.Payment = &domain.PaymentMetadata{
			PaymentID:     *paymentID,
			TransactionID: derefString(txID),
			Method:        domain.PaymentMethod(derefString(method)),
		}
		if confirmedAt != nil {
			res.Payment.ConfirmedAt = *confirmedAt
		}
	}
	return &res, nil
}

func selectReservation(kind domain.Kind) string {
	if kind == domain.KindResto {
		return `SELECT ` + reservationColumns + `, time_slot, menu_id, table_id FROM resto_reservations`
	}
	return `SELECT ` + reservationColumns + `, formula_id FROM garden_reservations`
}

func (r *Repository) GetReservation(ctx context.Context, kind domain.Kind, id uuid.UUID) (*domain.Reservation, error) {
	return scanReservation(kind, r.pool.QueryRow(ctx, selectReservation(kind)+` WHERE id = $1`, id))
}

func (r *Repository) ListReservations(ctx context.Context, kind domain.Kind, status domain.ReservationStatus, limit int) ([]domain.Reservation, error) {
	query := selectReservation(kind) + ` WHERE ($1 = '' OR statut = $1) ORDER BY reservation_date DESC, created_at DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		res, err := scanReservation(kind, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, mapErr(rows.Err())
}

// ApplyTransition moves a reservation from tr.From to tr.To with a conditional
// update. Zero rows affected means another writer got there first and
// ErrStaleStatus is returned. The intent status, the table sync job and the
// outbox event are written in the same transaction. A reserve side effect is
// applied here too, under a row lock on the table: when the table cannot be
// held the whole transition is rolled back with a TableHeld error.
func (r *Repository) ApplyTransition(ctx context.Context, tr domain.Transition) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		var (
			paymentID   *uuid.UUID
			txID        *string
			method      *string
			confirmedAt *time.Time
		)
		if tr.Payment != nil {
			paymentID = &tr.Payment.PaymentID
			txID = nullString(tr.Payment.TransactionID)
			method = nullString(string(tr.Payment.Method))
			if !tr.Payment.ConfirmedAt.IsZero() {
				confirmedAt = &tr.Payment.ConfirmedAt
			}
		}
		tag, err := tx.Exec(ctx, `
			UPDATE `+reservationTable(tr.Kind)+`
			SET statut = $3,
				payment_id = COALESCE($4, payment_id),
				payment_transaction_id = COALESCE($5, payment_transaction_id),
				payment_method = COALESCE($6, payment_method),
				payment_confirmed_at = COALESCE($7, payment_confirmed_at),
				updated_at = now()
			WHERE id = $1 AND statut = $2`+unpaidClause(tr)+`
		`, tr.ReservationID, tr.From, tr.To, paymentID, txID, method, confirmedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrStaleStatus
		}

		if tr.IntentID != nil {
			if _, err := tx.Exec(ctx, `
				UPDATE payment_intents SET status = $2, updated_at = now()
				WHERE id = $1 AND status = 'pending'
			`, *tr.IntentID, tr.IntentStatus); err != nil {
				return err
			}
		}

		if tr.TableSync != nil {
			status, attempts := "NEW", 0
			if tr.TableSync.Action == domain.TableActionReserve {
				if err := r.holdTable(ctx, tx, tr.TableSync.TableID, tr.ReservationID); err != nil {
					return err
				}
				status, attempts = "DONE", 1
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO table_syncs (id, reservation_id, table_id, action, status, attempts)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, tr.TableSync.ID, tr.TableSync.ReservationID, tr.TableSync.TableID, tr.TableSync.Action, status, attempts); err != nil {
				return err
			}
			tr.TableSync.Status = status
			tr.TableSync.Attempts = attempts
		}

		data := map[string]interface{}{"from": tr.From, "status": tr.To, "actor": tr.Actor}
		if tr.Payment != nil {
			data["payment_id"] = tr.Payment.PaymentID
			data["transaction_id"] = tr.Payment.TransactionID
		}
		return r.InsertOutbox(ctx, tx, reservationEvent(eventTypeFor(tr.To), tr.Kind, tr.ReservationID, data))
	})
}

func unpaidClause(tr domain.Transition) string {
	if !tr.UnpaidOnly {
		return ""
	}
	return ` AND NOT EXISTS (
				SELECT 1 FROM payment_intents p WHERE p.reservation_id = $1 AND p.status = 'succeeded')`
}

// holdTable locks the table row and marks it reservee for reservationID.
func (r *Repository) holdTable(ctx context.Context, tx pgx.Tx, tableID int64, reservationID uuid.UUID) error {
	t, err := scanTable(tx.QueryRow(ctx, `SELECT `+tableColumns+` FROM tables WHERE id = $1 FOR UPDATE`, tableID))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.TableHeld("missing_table")
	}
	if err != nil {
		return err
	}
	if reason := domain.HoldConflict(domain.Reservation{ID: reservationID, TableID: &tableID}, t); reason != "" {
		return domain.TableHeld(reason)
	}
	if t.Status == domain.TableReserved || t.Status == domain.TableOccupied {
		return nil
	}
	if _, err := tx.Exec(ctx, `
		UPDATE tables SET statut = 'reservee', held_by = $2, updated_at = now() WHERE id = $1
	`, tableID, reservationID); err != nil {
		return err
	}
	return r.InsertOutbox(ctx, tx, tableEvent(tableID, t.Status, domain.TableReserved, &reservationID))
}

// DeleteReservation removes the row and releases the table it holds, if any.
func (r *Repository) DeleteReservation(ctx context.Context, kind domain.Kind, id uuid.UUID) (*domain.Reservation, error) {
	var deleted *domain.Reservation
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		res, err := scanReservation(kind, tx.QueryRow(ctx, selectReservation(kind)+` WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM `+reservationTable(kind)+` WHERE id = $1`, id); err != nil {
			return err
		}
		if res.TableID != nil {
			if _, err := tx.Exec(ctx, `
				UPDATE tables SET statut = 'libre', held_by = NULL, updated_at = now()
				WHERE id = $1 AND held_by = $2
			`, *res.TableID, id); err != nil {
				return err
			}
		}
		deleted = res
		return r.InsertOutbox(ctx, tx, reservationEvent("reservation.deleted", kind, id, map[string]interface{}{"status": res.Status}))
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// StaleAwaitingPayment returns resto reservations still waiting for payment
// since before cutoff and without a succeeded intent.
func (r *Repository) StaleAwaitingPayment(ctx context.Context, cutoff time.Time, limit int) ([]domain.Reservation, error) {
	rows, err := r.pool.Query(ctx, selectReservation(domain.KindResto)+`
		WHERE statut = 'en_attente_paiement' AND created_at < $1
		AND NOT EXISTS (
			SELECT 1 FROM payment_intents p WHERE p.reservation_id = resto_reservations.id AND p.status = 'succeeded'
		)
		ORDER BY created_at ASC LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		res, err := scanReservation(domain.KindResto, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, mapErr(rows.Err())
}

func (r *Repository) CreatePaymentIntent(ctx context.Context, intent domain.PaymentIntent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payment_intents (id, reservation_id, reservation_kind, confirmation_code, method, amount, status,
			payment_url, provider_ref, customer_name, customer_phone, customer_email, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
	`, intent.ID, intent.ReservationID, intent.ReservationKind, intent.ConfirmationCode, intent.Method, intent.Amount,
		intent.Status, intent.PaymentURL, intent.ProviderRef, intent.Customer.Name, intent.Customer.Phone,
		nullString(intent.Customer.Email), intent.CreatedAt)
	return mapErr(err)
}

func (r *Repository) GetPaymentIntent(ctx context.Context, id uuid.UUID) (*domain.PaymentIntent, error) {
	var (
		in    domain.PaymentIntent
		email *string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, reservation_id, reservation_kind, confirmation_code, method, amount, status, payment_url,
			provider_ref, customer_name, customer_phone, customer_email, created_at, updated_at
		FROM payment_intents WHERE id = $1
	`, id).Scan(&in.ID, &in.ReservationID, &in.ReservationKind, &in.ConfirmationCode, &in.Method, &in.Amount,
		&in.Status, &in.PaymentURL, &in.ProviderRef, &in.Customer.Name, &in.Customer.Phone, &email,
		&in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	in.Customer.Email = derefString(email)
	return &in, nil
}

// SettleIntent moves a pending intent to status without touching its
// reservation.
func (r *Repository) SettleIntent(ctx context.Context, id uuid.UUID, status domain.IntentStatus) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE payment_intents SET status = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id, status)
	return mapErr(err)
}

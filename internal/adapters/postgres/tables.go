package postgres

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/venue-bookings/internal/domain"
)

const tableColumns = `id, name, kind, capacity, formula_id, statut, held_by, updated_at`

func scanTable(row pgx.Row) (*domain.Table, error) {
	var (
		t         domain.Table
		formulaID *string
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Kind, &t.Capacity, &formulaID, &t.Status, &t.HeldBy, &t.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	t.FormulaID = derefString(formulaID)
	return &t, nil
}

func (r *Repository) UpsertTable(ctx context.Context, t domain.Table) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tables (id, name, kind, capacity, formula_id, statut)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, kind = EXCLUDED.kind,
			capacity = EXCLUDED.capacity, formula_id = EXCLUDED.formula_id, updated_at = now()
	`, t.ID, t.Name, t.Kind, t.Capacity, nullString(t.FormulaID), t.Status)
	return mapErr(err)
}

func (r *Repository) GetTable(ctx context.Context, id int64) (*domain.Table, error) {
	return scanTable(r.pool.QueryRow(ctx, `SELECT `+tableColumns+` FROM tables WHERE id = $1`, id))
}

func (r *Repository) ListTables(ctx context.Context, kind domain.Kind) ([]domain.Table, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+tableColumns+` FROM tables WHERE ($1 = '' OR kind = $1) ORDER BY id`, string(kind))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []domain.Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, mapErr(rows.Err())
}

// SetTableStatus is the administrative compare-and-set on a table. Moving a
// table back to libre or hors_service clears its holder; heldBy, when set,
// records the reservation the table is being held for.
func (r *Repository) SetTableStatus(ctx context.Context, id int64, from, to domain.TableStatus, heldBy *uuid.UUID) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE tables
			SET statut = $3,
				held_by = CASE WHEN $3 IN ('libre', 'hors_service') THEN NULL ELSE COALESCE($4, held_by) END,
				updated_at = now()
			WHERE id = $1 AND statut = $2
		`, id, from, to, heldBy)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrStaleStatus
		}
		return r.InsertOutbox(ctx, tx, tableEvent(id, from, to, heldBy))
	})
}

// ReserveTable marks a free table as held by reservationID. A table already
// held by the same reservation is left untouched.
func (r *Repository) ReserveTable(ctx context.Context, tableID int64, reservationID uuid.UUID) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		t, err := scanTable(tx.QueryRow(ctx, `SELECT `+tableColumns+` FROM tables WHERE id = $1 FOR UPDATE`, tableID))
		if err != nil {
			return err
		}
		if t.HeldBy != nil && *t.HeldBy == reservationID && (t.Status == domain.TableReserved || t.Status == domain.TableOccupied) {
			return nil
		}
		if t.Status != domain.TableFree {
			return domain.ErrTableUnavailable
		}
		if _, err := tx.Exec(ctx, `
			UPDATE tables SET statut = 'reservee', held_by = $2, updated_at = now() WHERE id = $1
		`, tableID, reservationID); err != nil {
			return err
		}
		return r.InsertOutbox(ctx, tx, tableEvent(tableID, t.Status, domain.TableReserved, &reservationID))
	})
}

// ReleaseTable frees a table only if reservationID is the one holding it.
func (r *Repository) ReleaseTable(ctx context.Context, tableID int64, reservationID uuid.UUID) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		t, err := scanTable(tx.QueryRow(ctx, `SELECT `+tableColumns+` FROM tables WHERE id = $1 FOR UPDATE`, tableID))
		if err != nil {
			return err
		}
		if t.HeldBy == nil || *t.HeldBy != reservationID {
			return nil
		}
		if t.Status != domain.TableReserved && t.Status != domain.TableOccupied {
			return nil
		}
		if _, err := tx.Exec(ctx, `
			UPDATE tables SET statut = 'libre', held_by = NULL, updated_at = now() WHERE id = $1
		`, tableID); err != nil {
			return err
		}
		return r.InsertOutbox(ctx, tx, tableEvent(tableID, t.Status, domain.TableFree, &reservationID))
	})
}

func (r *Repository) PendingTableSyncs(ctx context.Context, createdBefore time.Time, limit int) ([]domain.TableSync, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, reservation_id, table_id, action, attempts, status, created_at
		FROM table_syncs WHERE status = 'NEW' AND created_at <= $1
		ORDER BY created_at ASC LIMIT $2
	`, createdBefore, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []domain.TableSync
	for rows.Next() {
		var s domain.TableSync
		if err := rows.Scan(&s.ID, &s.ReservationID, &s.TableID, &s.Action, &s.Attempts, &s.Status, &s.CreatedAt); err != nil {
			return nil, mapErr(err)
		}
		out = append(out, s)
	}
	return out, mapErr(rows.Err())
}

func (r *Repository) MarkTableSync(ctx context.Context, id uuid.UUID, status string, attempts int, lastErr string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE table_syncs SET status = $2, attempts = attempts + $3, last_error = $4, updated_at = now()
		WHERE id = $1 AND status = 'NEW'
	`, id, status, attempts, nullString(lastErr))
	return mapErr(err)
}

func tableEvent(id int64, from, to domain.TableStatus, heldBy *uuid.UUID) OutboxRecord {
	data := map[string]interface{}{"table_id": id, "from": from, "status": to}
	if heldBy != nil {
		data["reservation_id"] = *heldBy
	}
	return newOutboxRecord("table", strconv.FormatInt(id, 10), "table.status_changed", data)
}

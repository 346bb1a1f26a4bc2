package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fatura/internal/core"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Queries implements Tx over a single connection or transaction.
type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

const cardColumns = `id, name, last_digits, kind, color, credit_limit_cents, due_day,
	closing_offset_days, available_limit_cents, version, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCard(row rowScanner) (core.Card, error) {
	var (
		c         core.Card
		kind      string
		createdAt string
	)
	err := row.Scan(&c.ID, &c.Name, &c.LastDigits, &kind, &c.Color, &c.CreditLimit.Cents,
		&c.DueDay, &c.ClosingOffsetDays, &c.AvailableLimit.Cents, &c.Version, &createdAt)
	if err != nil {
		return core.Card{}, err
	}
	c.Kind = core.CardKind(kind)
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Card{}, fmt.Errorf("parse card created_at: %w", err)
	}
	return c, nil
}

func (q *Queries) GetCard(ctx context.Context, id int64) (core.Card, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ?`, id)
	c, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Card{}, core.ErrCardNotFound
	}
	if err != nil {
		return core.Card{}, fmt.Errorf("get card %d: %w", id, err)
	}
	return c, nil
}

func (q *Queries) ListCards(ctx context.Context) ([]core.Card, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+cardColumns+` FROM cards ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var cards []core.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

func (q *Queries) InsertCard(ctx context.Context, c core.Card) (core.Card, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	now := formatTime(c.CreatedAt)
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO cards (name, last_digits, kind, color, credit_limit_cents, due_day,
			closing_offset_days, available_limit_cents, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		c.Name, c.LastDigits, string(c.Kind), c.Color, c.CreditLimit.Cents, c.DueDay,
		c.ClosingOffsetDays, c.AvailableLimit.Cents, now, now)
	if err != nil {
		return core.Card{}, fmt.Errorf("insert card: %w", err)
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return core.Card{}, fmt.Errorf("card id: %w", err)
	}
	c.Version = 1
	return c, nil
}

// updateVersioned runs an UPDATE guarded by the card version and maps a
// zero-row result to ErrVersionConflict or ErrCardNotFound.
func (q *Queries) updateVersioned(ctx context.Context, c core.Card, query string, args ...interface{}) (core.Card, error) {
	args = append(args, formatTime(time.Now()), c.ID, c.Version)
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return core.Card{}, fmt.Errorf("update card %d: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Card{}, fmt.Errorf("update card %d: %w", c.ID, err)
	}
	if n == 0 {
		if _, err := q.GetCard(ctx, c.ID); err != nil {
			return core.Card{}, err
		}
		return core.Card{}, fmt.Errorf("card %d at version %d: %w", c.ID, c.Version, core.ErrVersionConflict)
	}
	c.Version++
	return c, nil
}

func (q *Queries) UpdateCardLimits(ctx context.Context, c core.Card) (core.Card, error) {
	return q.updateVersioned(ctx, c, `
		UPDATE cards SET credit_limit_cents = ?, available_limit_cents = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		c.CreditLimit.Cents, c.AvailableLimit.Cents)
}

func (q *Queries) UpdateCardDetails(ctx context.Context, c core.Card) (core.Card, error) {
	return q.updateVersioned(ctx, c, `
		UPDATE cards SET name = ?, last_digits = ?, kind = ?, color = ?, credit_limit_cents = ?,
			due_day = ?, closing_offset_days = ?, available_limit_cents = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		c.Name, c.LastDigits, string(c.Kind), c.Color, c.CreditLimit.Cents,
		c.DueDay, c.ClosingOffsetDays, c.AvailableLimit.Cents)
}

func (q *Queries) DeleteCard(ctx context.Context, id int64) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM cards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete card %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrCardNotFound
	}
	return nil
}

const chargeColumns = `id, installment_group_id, card_id, method, amount_cents, purchase_date,
	installment_count, installment_index, competency_month, competency_year, category_id,
	description, is_fixed, created_at`

func scanCharge(row rowScanner) (core.Charge, error) {
	var (
		ch        core.Charge
		cardID    sql.NullInt64
		method    string
		purchase  string
		isFixed   int64
		createdAt string
	)
	err := row.Scan(&ch.ID, &ch.GroupID, &cardID, &method, &ch.Amount.Cents, &purchase,
		&ch.InstallmentCount, &ch.InstallmentIndex, &ch.Competency.Month, &ch.Competency.Year,
		&ch.CategoryID, &ch.Description, &isFixed, &createdAt)
	if err != nil {
		return core.Charge{}, err
	}
	if cardID.Valid {
		id := cardID.Int64
		ch.CardID = &id
	}
	if ch.Method, err = core.ParseMethod(method, cardID.Int64); err != nil {
		return core.Charge{}, fmt.Errorf("charge %d method: %w", ch.ID, err)
	}
	if ch.PurchaseDate, err = core.ParseDate(purchase); err != nil {
		return core.Charge{}, fmt.Errorf("charge %d purchase date: %w", ch.ID, err)
	}
	if ch.CreatedAt, err = parseTime(createdAt); err != nil {
		return core.Charge{}, fmt.Errorf("charge %d created_at: %w", ch.ID, err)
	}
	ch.IsFixed = isFixed != 0
	return ch, nil
}

func (q *Queries) queryCharges(ctx context.Context, query string, args ...interface{}) ([]core.Charge, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var charges []core.Charge
	for rows.Next() {
		ch, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		charges = append(charges, ch)
	}
	return charges, rows.Err()
}

func (q *Queries) InsertCharges(ctx context.Context, charges []core.Charge) ([]core.Charge, error) {
	out := make([]core.Charge, len(charges))
	now := time.Now().UTC()
	for i, ch := range charges {
		if ch.CreatedAt.IsZero() {
			ch.CreatedAt = now
		}
		var cardID sql.NullInt64
		if ch.CardID != nil {
			cardID = sql.NullInt64{Int64: *ch.CardID, Valid: true}
		}
		var isFixed int64
		if ch.IsFixed {
			isFixed = 1
		}
		res, err := q.db.ExecContext(ctx, `
			INSERT INTO charges (installment_group_id, card_id, method, amount_cents, purchase_date,
				installment_count, installment_index, competency_month, competency_year,
				category_id, description, is_fixed, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ch.GroupID, cardID, string(ch.Method.Kind()), ch.Amount.Cents, ch.PurchaseDate.String(),
			ch.InstallmentCount, ch.InstallmentIndex, ch.Competency.Month, ch.Competency.Year,
			ch.CategoryID, ch.Description, isFixed, formatTime(ch.CreatedAt))
		if err != nil {
			return nil, fmt.Errorf("insert charge %d/%d: %w", ch.InstallmentIndex, ch.InstallmentCount, err)
		}
		if ch.ID, err = res.LastInsertId(); err != nil {
			return nil, fmt.Errorf("charge id: %w", err)
		}
		out[i] = ch
	}
	return out, nil
}

func (q *Queries) GetCharge(ctx context.Context, id int64) (core.Charge, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+chargeColumns+` FROM charges WHERE id = ?`, id)
	ch, err := scanCharge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Charge{}, core.ErrChargeNotFound
	}
	if err != nil {
		return core.Charge{}, fmt.Errorf("get charge %d: %w", id, err)
	}
	return ch, nil
}

func (q *Queries) ChargesByGroup(ctx context.Context, groupID string) ([]core.Charge, error) {
	charges, err := q.queryCharges(ctx,
		`SELECT `+chargeColumns+` FROM charges WHERE installment_group_id = ? ORDER BY installment_index`,
		groupID)
	if err != nil {
		return nil, fmt.Errorf("charges of group %s: %w", groupID, err)
	}
	return charges, nil
}

func (q *Queries) DeleteGroup(ctx context.Context, groupID string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM charges WHERE installment_group_id = ?`, groupID)
	if err != nil {
		return 0, fmt.Errorf("delete group %s: %w", groupID, err)
	}
	return res.RowsAffected()
}

func (q *Queries) ChargesByCompetency(ctx context.Context, cardID int64, c core.Competency) ([]core.Charge, error) {
	charges, err := q.queryCharges(ctx, `
		SELECT `+chargeColumns+` FROM charges
		WHERE card_id = ? AND method = 'credit' AND competency_year = ? AND competency_month = ?
		ORDER BY purchase_date, id`,
		cardID, c.Year, c.Month)
	if err != nil {
		return nil, fmt.Errorf("charges of card %d in %s: %w", cardID, c, err)
	}
	return charges, nil
}

func (q *Queries) SumCompetency(ctx context.Context, cardID int64, c core.Competency) (core.Money, error) {
	var total int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM charges
		WHERE card_id = ? AND method = 'credit' AND competency_year = ? AND competency_month = ?`,
		cardID, c.Year, c.Month).Scan(&total)
	if err != nil {
		return core.Money{}, fmt.Errorf("sum card %d in %s: %w", cardID, c, err)
	}
	return core.Money{Cents: total}, nil
}

func (q *Queries) SumUnpaid(ctx context.Context, cardID int64) (core.Money, error) {
	var total int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(ch.amount_cents), 0) FROM charges ch
		LEFT JOIN invoice_payments p
			ON p.card_id = ch.card_id
			AND p.competency_year = ch.competency_year
			AND p.competency_month = ch.competency_month
		WHERE ch.card_id = ? AND ch.method = 'credit' AND p.card_id IS NULL`,
		cardID).Scan(&total)
	if err != nil {
		return core.Money{}, fmt.Errorf("sum unpaid of card %d: %w", cardID, err)
	}
	return core.Money{Cents: total}, nil
}

func (q *Queries) CountChargesFrom(ctx context.Context, cardID int64, c core.Competency) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM charges
		WHERE card_id = ? AND (competency_year * 12 + competency_month) >= ?`,
		cardID, c.Year*12+c.Month).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count charges of card %d from %s: %w", cardID, c, err)
	}
	return n, nil
}

func (q *Queries) CompetenciesWithActivity(ctx context.Context, cardID int64) ([]core.Competency, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT competency_year, competency_month FROM charges WHERE card_id = ? AND method = 'credit'
		UNION
		SELECT competency_year, competency_month FROM invoice_payments WHERE card_id = ?
		ORDER BY 1 DESC, 2 DESC`,
		cardID, cardID)
	if err != nil {
		return nil, fmt.Errorf("competencies of card %d: %w", cardID, err)
	}
	defer rows.Close()

	var out []core.Competency
	for rows.Next() {
		var c core.Competency
		if err := rows.Scan(&c.Year, &c.Month); err != nil {
			return nil, fmt.Errorf("scan competency: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (q *Queries) IsPaid(ctx context.Context, cardID int64, c core.Competency) (bool, error) {
	_, ok, err := q.GetPayment(ctx, cardID, c)
	return ok, err
}

func (q *Queries) GetPayment(ctx context.Context, cardID int64, c core.Competency) (core.InvoicePayment, bool, error) {
	p := core.InvoicePayment{CardID: cardID, Competency: c}
	var paidAt string
	err := q.db.QueryRowContext(ctx, `
		SELECT amount_refunded_cents, paid_at FROM invoice_payments
		WHERE card_id = ? AND competency_year = ? AND competency_month = ?`,
		cardID, c.Year, c.Month).Scan(&p.AmountRefunded.Cents, &paidAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.InvoicePayment{}, false, nil
	}
	if err != nil {
		return core.InvoicePayment{}, false, fmt.Errorf("payment of card %d in %s: %w", cardID, c, err)
	}
	if p.PaidAt, err = parseTime(paidAt); err != nil {
		return core.InvoicePayment{}, false, fmt.Errorf("payment paid_at: %w", err)
	}
	return p, true, nil
}

func (q *Queries) InsertPayment(ctx context.Context, p core.InvoicePayment) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO invoice_payments (card_id, competency_month, competency_year, amount_refunded_cents, paid_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.CardID, p.Competency.Month, p.Competency.Year, p.AmountRefunded.Cents, formatTime(p.PaidAt))
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrAlreadyPaid
		}
		return fmt.Errorf("insert payment of card %d in %s: %w", p.CardID, p.Competency, err)
	}
	return nil
}

// AppendEvent stores an audit event. Redelivered events are ignored and
// reported as not inserted.
func (q *Queries) AppendEvent(ctx context.Context, e core.LedgerEvent) (bool, error) {
	var month, year sql.NullInt64
	if e.Competency != nil {
		month = sql.NullInt64{Int64: int64(e.Competency.Month), Valid: true}
		year = sql.NullInt64{Int64: int64(e.Competency.Year), Valid: true}
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO ledger_events (event_id, type, card_id, group_id, competency_month,
			competency_year, amount_cents, available_cents, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`,
		e.ID, string(e.Type), e.CardID, e.GroupID, month, year, e.Amount.Cents,
		e.Available.Cents, formatTime(e.OccurredAt))
	if err != nil {
		return false, fmt.Errorf("append event %s: %w", e.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append event %s: %w", e.ID, err)
	}
	return n == 1, nil
}

// ListEvents returns the newest events of a card first.
func (q *Queries) ListEvents(ctx context.Context, cardID int64, limit int) ([]core.LedgerEvent, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT event_id, type, card_id, group_id, competency_month, competency_year,
			amount_cents, available_cents, occurred_at
		FROM ledger_events WHERE card_id = ? ORDER BY id DESC LIMIT ?`,
		cardID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events of card %d: %w", cardID, err)
	}
	defer rows.Close()

	var events []core.LedgerEvent
	for rows.Next() {
		var (
			e           core.LedgerEvent
			typ         string
			month, year sql.NullInt64
			occurredAt  string
		)
		if err := rows.Scan(&e.ID, &typ, &e.CardID, &e.GroupID, &month, &year,
			&e.Amount.Cents, &e.Available.Cents, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Type = core.EventType(typ)
		if month.Valid && year.Valid {
			c := core.NewCompetency(int(year.Int64), int(month.Int64))
			e.Competency = &c
		}
		if e.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, fmt.Errorf("event occurred_at: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/feeledger/core"
	"github.com/trezcool/feeledger/core/ledger"
)

const (
	ledgerColumns = `id, student_ref, class_ref, period_ref, definition_id, plan_name, currency, components,
	installments, discounts, total_fee_amount, total_discount, concession_amount, total_late_fee, total_paid,
	balance, status, next_due_date, next_due_amount, late_fees_as_of, closed_reason, closed_by_id,
	closed_by_name, closed_at, version, created_at, updated_at`

	paymentColumns = `id, ledger_id, amount, paid_at, mode, collector_id, collector_name, reference, note,
	allocations, created_at, refunded_at, refunded_by_id, refunded_by_name, refund_reason`

	ledgerOpenIndex       = "student_ledger_open_idx"
	paymentReferenceIndex = "payment_reference_idx"
)

// sortable ledger columns
var ledgerOrderings = map[string]bool{
	"student_ref": true, "balance": true, "next_due_date": true, "created_at": true, "updated_at": true,
}

type ledgerRow struct {
	ID               uuid.UUID       `db:"id"`
	StudentRef       string          `db:"student_ref"`
	ClassRef         string          `db:"class_ref"`
	PeriodRef        string          `db:"period_ref"`
	DefinitionID     uuid.UUID       `db:"definition_id"`
	PlanName         string          `db:"plan_name"`
	Currency         string          `db:"currency"`
	Components       string          `db:"components"`
	Installments     string          `db:"installments"`
	Discounts        string          `db:"discounts"`
	TotalFeeAmount   decimal.Decimal `db:"total_fee_amount"`
	TotalDiscount    decimal.Decimal `db:"total_discount"`
	ConcessionAmount decimal.Decimal `db:"concession_amount"`
	TotalLateFee     decimal.Decimal `db:"total_late_fee"`
	TotalPaid        decimal.Decimal `db:"total_paid"`
	Balance          decimal.Decimal `db:"balance"`
	Status           string          `db:"status"`
	NextDueDate      null.Time       `db:"next_due_date"`
	NextDueAmount    decimal.Decimal `db:"next_due_amount"`
	LateFeesAsOf     null.Time       `db:"late_fees_as_of"`
	ClosedReason     null.String     `db:"closed_reason"`
	ClosedByID       null.String     `db:"closed_by_id"`
	ClosedByName     null.String     `db:"closed_by_name"`
	ClosedAt         null.Time       `db:"closed_at"`
	Version          int             `db:"version"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

type paymentRow struct {
	ID             uuid.UUID       `db:"id"`
	LedgerID       uuid.UUID       `db:"ledger_id"`
	Amount         decimal.Decimal `db:"amount"`
	PaidAt         time.Time       `db:"paid_at"`
	Mode           string          `db:"mode"`
	CollectorID    string          `db:"collector_id"`
	CollectorName  string          `db:"collector_name"`
	Reference      null.String     `db:"reference"`
	Note           string          `db:"note"`
	Allocations    string          `db:"allocations"`
	CreatedAt      time.Time       `db:"created_at"`
	RefundedAt     null.Time       `db:"refunded_at"`
	RefundedByID   null.String     `db:"refunded_by_id"`
	RefundedByName null.String     `db:"refunded_by_name"`
	RefundReason   null.String     `db:"refund_reason"`
}

type ledgerRepository struct {
	db *sqlx.DB
}

var _ ledger.Repository = (*ledgerRepository)(nil) // interface compliance check

func NewLedgerRepository(db *sqlx.DB) ledger.Repository {
	return &ledgerRepository{db: db}
}

func nullTime(t time.Time) null.Time {
	return null.NewTime(t.UTC(), !t.IsZero())
}

func nullString(s string) null.String {
	return null.NewString(s, s != "")
}

func (repo ledgerRepository) toRow(l ledger.Ledger) (ledgerRow, error) {
	row := ledgerRow{
		ID:               l.ID,
		StudentRef:       l.StudentRef,
		ClassRef:         l.ClassRef,
		PeriodRef:        l.PeriodRef,
		DefinitionID:     l.DefinitionID,
		PlanName:         l.PlanName,
		Currency:         l.Currency,
		TotalFeeAmount:   l.TotalFeeAmount,
		TotalDiscount:    l.TotalDiscount,
		ConcessionAmount: l.ConcessionAmount,
		TotalLateFee:     l.TotalLateFee,
		TotalPaid:        l.TotalPaid,
		Balance:          l.Balance,
		Status:           string(l.Status),
		NextDueDate:      nullTime(l.NextDueDate),
		NextDueAmount:    l.NextDueAmount,
		LateFeesAsOf:     nullTime(l.LateFeesAsOf),
		ClosedReason:     nullString(l.ClosedReason),
		ClosedByID:       nullString(l.ClosedBy.ID),
		ClosedByName:     nullString(l.ClosedBy.Name),
		ClosedAt:         nullTime(l.ClosedAt),
		Version:          l.Version,
		CreatedAt:        l.CreatedAt.UTC(),
		UpdatedAt:        l.UpdatedAt.UTC(),
	}
	if l.Discounts == nil {
		l.Discounts = []ledger.AppliedDiscount{}
	}
	var err error
	if row.Components, err = encode(l.Components); err != nil {
		return row, err
	}
	if row.Installments, err = encode(l.Installments); err != nil {
		return row, err
	}
	row.Discounts, err = encode(l.Discounts)
	return row, err
}

func (repo ledgerRepository) fromRow(row ledgerRow, payments []ledger.Payment) (ledger.Ledger, error) {
	l := ledger.Ledger{
		ID:               row.ID,
		StudentRef:       row.StudentRef,
		ClassRef:         row.ClassRef,
		PeriodRef:        row.PeriodRef,
		DefinitionID:     row.DefinitionID,
		PlanName:         row.PlanName,
		Currency:         row.Currency,
		TotalFeeAmount:   row.TotalFeeAmount,
		TotalDiscount:    row.TotalDiscount,
		ConcessionAmount: row.ConcessionAmount,
		TotalLateFee:     row.TotalLateFee,
		TotalPaid:        row.TotalPaid,
		Balance:          row.Balance,
		Status:           ledger.Status(row.Status),
		NextDueAmount:    row.NextDueAmount,
		ClosedReason:     row.ClosedReason.String,
		ClosedBy:         actorFrom(row.ClosedByID, row.ClosedByName),
		Payments:         payments,
		Version:          row.Version,
		CreatedAt:        row.CreatedAt.UTC(),
		UpdatedAt:        row.UpdatedAt.UTC(),
	}
	if row.NextDueDate.Valid {
		l.NextDueDate = core.Date(row.NextDueDate.Time)
	}
	if row.LateFeesAsOf.Valid {
		l.LateFeesAsOf = core.Date(row.LateFeesAsOf.Time)
	}
	if row.ClosedAt.Valid {
		l.ClosedAt = row.ClosedAt.Time.UTC()
	}
	if err := decode(row.Components, &l.Components); err != nil {
		return ledger.Ledger{}, err
	}
	if err := decode(row.Installments, &l.Installments); err != nil {
		return ledger.Ledger{}, err
	}
	if err := decode(row.Discounts, &l.Discounts); err != nil {
		return ledger.Ledger{}, err
	}
	return l, nil
}

func (repo ledgerRepository) paymentToRow(p ledger.Payment) (paymentRow, error) {
	row := paymentRow{
		ID:             p.ID,
		LedgerID:       p.LedgerID,
		Amount:         p.Amount,
		PaidAt:         p.PaidAt.UTC(),
		Mode:           string(p.Mode),
		CollectorID:    p.Collector.ID,
		CollectorName:  p.Collector.Name,
		Reference:      nullString(p.Reference),
		Note:           p.Note,
		CreatedAt:      p.CreatedAt.UTC(),
		RefundedAt:     nullTime(p.RefundedAt),
		RefundedByID:   nullString(p.RefundedBy.ID),
		RefundedByName: nullString(p.RefundedBy.Name),
		RefundReason:   nullString(p.RefundReason),
	}
	var err error
	row.Allocations, err = encode(p.Allocations)
	return row, err
}

func (repo ledgerRepository) paymentFromRow(row paymentRow) (ledger.Payment, error) {
	p := ledger.Payment{
		ID:           row.ID,
		LedgerID:     row.LedgerID,
		Amount:       row.Amount,
		PaidAt:       row.PaidAt.UTC(),
		Mode:         ledger.PaymentMode(row.Mode),
		Collector:    core.Actor{ID: row.CollectorID, Name: row.CollectorName},
		Reference:    row.Reference.String,
		Note:         row.Note,
		CreatedAt:    row.CreatedAt.UTC(),
		RefundedBy:   actorFrom(row.RefundedByID, row.RefundedByName),
		RefundReason: row.RefundReason.String,
	}
	if row.RefundedAt.Valid {
		p.RefundedAt = row.RefundedAt.Time.UTC()
	}
	if err := decode(row.Allocations, &p.Allocations); err != nil {
		return ledger.Payment{}, err
	}
	return p, nil
}

// trapNoRowsErr maps psql "no rows" err to ledger.ErrLedgerNotFound
func (repo ledgerRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return ledger.ErrLedgerNotFound
	}
	return errors.Wrap(err, msg)
}

// trapUniqueErr maps unique index violations to the matching domain errors.
func (repo ledgerRepository) trapUniqueErr(err error, msg string) error {
	if constraint, ok := constraintViolated(err); ok {
		switch constraint {
		case ledgerOpenIndex:
			return ledger.ErrDuplicateLedger
		case paymentReferenceIndex:
			return ledger.ErrDuplicatePaymentReference
		}
	}
	return errors.Wrap(err, msg)
}

func (repo ledgerRepository) insert(ctx context.Context, tx *sqlx.Tx, l ledger.Ledger) error {
	row, err := repo.toRow(l)
	if err != nil {
		return err
	}
	q := `INSERT INTO student_ledger (` + ledgerColumns + `) VALUES (
		:id, :student_ref, :class_ref, :period_ref, :definition_id, :plan_name, :currency, :components,
		:installments, :discounts, :total_fee_amount, :total_discount, :concession_amount, :total_late_fee,
		:total_paid, :balance, :status, :next_due_date, :next_due_amount, :late_fees_as_of, :closed_reason,
		:closed_by_id, :closed_by_name, :closed_at, :version, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, q, row); err != nil {
		return repo.trapUniqueErr(err, "inserting ledger")
	}
	return repo.upsertPayments(ctx, tx, l.Payments)
}

// update saves l if its stored version still equals l.Version, bumping the version.
func (repo ledgerRepository) update(ctx context.Context, tx *sqlx.Tx, l ledger.Ledger) error {
	row, err := repo.toRow(l)
	if err != nil {
		return err
	}
	q := `UPDATE student_ledger SET plan_name = :plan_name, components = :components,
		installments = :installments, discounts = :discounts, total_fee_amount = :total_fee_amount,
		total_discount = :total_discount, concession_amount = :concession_amount,
		total_late_fee = :total_late_fee, total_paid = :total_paid, balance = :balance, status = :status,
		next_due_date = :next_due_date, next_due_amount = :next_due_amount,
		late_fees_as_of = :late_fees_as_of, closed_reason = :closed_reason, closed_by_id = :closed_by_id,
		closed_by_name = :closed_by_name, closed_at = :closed_at, version = version + 1,
		updated_at = :updated_at
		WHERE id = :id AND version = :version`
	res, err := tx.NamedExecContext(ctx, q, row)
	if err != nil {
		return repo.trapUniqueErr(err, "updating ledger")
	}
	if err = checkAffected(res, ledger.ErrConcurrentUpdate); err != nil {
		var found bool
		if exErr := tx.GetContext(ctx, &found, `SELECT true FROM student_ledger WHERE id = $1`, l.ID); exErr == sql.ErrNoRows {
			return ledger.ErrLedgerNotFound
		}
		return err
	}
	return repo.upsertPayments(ctx, tx, l.Payments)
}

// upsertPayments inserts new payments; payments already stored only get their refund fields updated.
func (repo ledgerRepository) upsertPayments(ctx context.Context, tx *sqlx.Tx, payments []ledger.Payment) error {
	q := `INSERT INTO payment (` + paymentColumns + `) VALUES (
		:id, :ledger_id, :amount, :paid_at, :mode, :collector_id, :collector_name, :reference, :note,
		:allocations, :created_at, :refunded_at, :refunded_by_id, :refunded_by_name, :refund_reason)
		ON CONFLICT (id) DO UPDATE SET refunded_at = EXCLUDED.refunded_at,
		refunded_by_id = EXCLUDED.refunded_by_id, refunded_by_name = EXCLUDED.refunded_by_name,
		refund_reason = EXCLUDED.refund_reason`
	for _, p := range payments {
		row, err := repo.paymentToRow(p)
		if err != nil {
			return err
		}
		if _, err = tx.NamedExecContext(ctx, q, row); err != nil {
			return repo.trapUniqueErr(err, "saving payment")
		}
	}
	return nil
}

func (repo ledgerRepository) CreateLedger(ctx context.Context, l ledger.Ledger) (ledger.Ledger, error) {
	l.Version = 1
	if err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error { return repo.insert(ctx, tx, l) }); err != nil {
		return ledger.Ledger{}, err
	}
	return l, nil
}

func (repo ledgerRepository) ReplaceLedger(ctx context.Context, old, l ledger.Ledger) (ledger.Ledger, error) {
	l.Version = 1
	err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		if err := repo.update(ctx, tx, old); err != nil {
			return err
		}
		return repo.insert(ctx, tx, l)
	})
	if err != nil {
		return ledger.Ledger{}, err
	}
	return l, nil
}

func (repo ledgerRepository) UpdateLedger(ctx context.Context, l ledger.Ledger) (ledger.Ledger, error) {
	if err := inTx(ctx, repo.db, func(tx *sqlx.Tx) error { return repo.update(ctx, tx, l) }); err != nil {
		return ledger.Ledger{}, err
	}
	l.Version++
	return l, nil
}

func (repo ledgerRepository) payments(ctx context.Context, ledgerIDs ...uuid.UUID) (map[uuid.UUID][]ledger.Payment, error) {
	byLedger := make(map[uuid.UUID][]ledger.Payment, len(ledgerIDs))
	if len(ledgerIDs) == 0 {
		return byLedger, nil
	}
	q, args, err := sqlx.In(`SELECT `+paymentColumns+` FROM payment WHERE ledger_id IN (?) ORDER BY created_at`, ledgerIDs)
	if err != nil {
		return nil, errors.Wrap(err, "building payment query")
	}
	var rows []paymentRow
	if err = repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying payments")
	}
	for _, row := range rows {
		p, err := repo.paymentFromRow(row)
		if err != nil {
			return nil, err
		}
		byLedger[p.LedgerID] = append(byLedger[p.LedgerID], p)
	}
	return byLedger, nil
}

func (repo ledgerRepository) get(ctx context.Context, msg, where string, args ...interface{}) (ledger.Ledger, error) {
	var row ledgerRow
	q := `SELECT ` + ledgerColumns + ` FROM student_ledger WHERE ` + where
	if err := repo.db.GetContext(ctx, &row, q, args...); err != nil {
		return ledger.Ledger{}, repo.trapNoRowsErr(err, msg)
	}
	payments, err := repo.payments(ctx, row.ID)
	if err != nil {
		return ledger.Ledger{}, err
	}
	return repo.fromRow(row, payments[row.ID])
}

func (repo ledgerRepository) GetLedger(ctx context.Context, id uuid.UUID) (ledger.Ledger, error) {
	return repo.get(ctx, "getting ledger", "id = $1", id)
}

func (repo ledgerRepository) GetLedgerFor(ctx context.Context, studentRef, periodRef string) (ledger.Ledger, error) {
	return repo.get(ctx, "getting student ledger",
		"student_ref = $1 AND period_ref = $2 AND status <> 'cancelled'", studentRef, periodRef)
}

func (repo ledgerRepository) QueryLedgers(ctx context.Context, filter ledger.QueryFilter) ([]ledger.Ledger, error) {
	var (
		conds []string
		args  []interface{}
	)
	for col, val := range map[string]string{
		"student_ref": filter.StudentRef,
		"class_ref":   filter.ClassRef,
		"period_ref":  filter.PeriodRef,
	} {
		if val != "" {
			conds = append(conds, col+" = ?")
			args = append(args, val)
		}
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		conds = append(conds, "status IN (?)")
		args = append(args, statuses)
	}

	q := `SELECT ` + ledgerColumns + ` FROM student_ledger`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	orderBy := make([]string, 0, len(filter.Ordering)+1)
	for _, ord := range filter.Ordering {
		if !ledgerOrderings[ord.Field] {
			return nil, fmt.Errorf("cannot order ledgers by %q", ord.Field)
		}
		orderBy = append(orderBy, ord.String())
	}
	orderBy = append(orderBy, core.DBOrdering{Field: "created_at", Ascending: true}.String())
	q += ` ORDER BY ` + strings.Join(orderBy, ", ")

	q, args, err := sqlx.In(q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "building ledger query")
	}
	var rows []ledgerRow
	if err = repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "querying ledgers")
	}

	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	payments, err := repo.payments(ctx, ids...)
	if err != nil {
		return nil, err
	}
	ledgers := make([]ledger.Ledger, 0, len(rows))
	for _, row := range rows {
		l, err := repo.fromRow(row, payments[row.ID])
		if err != nil {
			return nil, err
		}
		ledgers = append(ledgers, l)
	}
	return ledgers, nil
}

func (repo ledgerRepository) GetPaymentByReference(ctx context.Context, reference string) (ledger.Payment, error) {
	var row paymentRow
	q := `SELECT ` + paymentColumns + ` FROM payment WHERE reference = $1`
	if err := repo.db.GetContext(ctx, &row, q, reference); err != nil {
		if err == sql.ErrNoRows {
			return ledger.Payment{}, ledger.ErrPaymentNotFound
		}
		return ledger.Payment{}, errors.Wrap(err, "getting payment by reference")
	}
	return repo.paymentFromRow(row)
}

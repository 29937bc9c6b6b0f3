package ledger

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/feeledger/core"
)

// DeriveStatus applies the status precedence: Paid, then PartiallyPaid, then Overdue, then NotStarted.
// A partially paid ledger stays PartiallyPaid even past a due date; see Ledger.IsOverdue.
func DeriveStatus(balance, totalPaid decimal.Decimal, nextDueDate, asOf time.Time) Status {
	switch {
	case !balance.IsPositive():
		return StatusPaid
	case totalPaid.IsPositive():
		return StatusPartiallyPaid
	case !nextDueDate.IsZero() && core.Date(asOf).After(nextDueDate):
		return StatusOverdue
	default:
		return StatusNotStarted
	}
}

func installmentStatus(inst Installment, asOf time.Time) InstallmentStatus {
	paid := inst.PaidAmount.Add(inst.LateFeePaid)
	switch {
	case !inst.Outstanding().IsPositive():
		if paid.IsZero() && inst.Credit.IsPositive() {
			return InstallmentWaived
		}
		return InstallmentPaid
	case paid.IsPositive():
		return InstallmentPartiallyPaid
	case asOf.After(inst.DueDate):
		return InstallmentOverdue
	default:
		return InstallmentPending
	}
}

// Recalculate re-derives installment statuses, totals, balance, next due and the ledger status.
// Every mutation of a ledger ends with it. Waived and Cancelled ledgers keep their status.
func Recalculate(l *Ledger, asOf time.Time) {
	asOf = core.Date(asOf)

	totalLateFee, totalPaid := decimal.Zero, decimal.Zero
	for i := range l.Installments {
		inst := &l.Installments[i]
		inst.Status = installmentStatus(*inst, asOf)
		totalLateFee = totalLateFee.Add(inst.LateFee)
		totalPaid = totalPaid.Add(inst.PaidAmount).Add(inst.LateFeePaid)
	}

	discount, concession := decimal.Zero, decimal.Zero
	for _, d := range l.Discounts {
		if d.Kind == KindConcession {
			concession = concession.Add(d.Amount)
		} else {
			discount = discount.Add(d.Amount)
		}
	}

	l.TotalLateFee = totalLateFee
	l.TotalPaid = totalPaid
	l.TotalDiscount = discount
	l.ConcessionAmount = concession
	l.Balance = l.TotalFeeAmount.Sub(discount).Sub(concession).Add(totalLateFee).Sub(totalPaid)

	l.NextDueDate, l.NextDueAmount = time.Time{}, decimal.Zero
	if next := l.nextDue(); next != nil {
		l.NextDueDate = next.DueDate
		l.NextDueAmount = next.Outstanding()
	}

	if !l.Status.isAdministrative() {
		l.Status = DeriveStatus(l.Balance, l.TotalPaid, l.NextDueDate, asOf)
	}
}

// nextDue is the earliest open installment with something left to pay.
func (l *Ledger) nextDue() *Installment {
	idxs := l.openInstallments()
	if len(idxs) == 0 {
		return nil
	}
	return &l.Installments[idxs[0]]
}

// openInstallments returns the indexes of unsettled installments, oldest due first (ties by number).
func (l *Ledger) openInstallments() []int {
	idxs := make([]int, 0, len(l.Installments))
	for i, inst := range l.Installments {
		if inst.Outstanding().IsPositive() {
			idxs = append(idxs, i)
		}
	}
	sort.SliceStable(idxs, func(a, b int) bool {
		ia, ib := l.Installments[idxs[a]], l.Installments[idxs[b]]
		if !ia.DueDate.Equal(ib.DueDate) {
			return ia.DueDate.Before(ib.DueDate)
		}
		return ia.Number < ib.Number
	})
	return idxs
}

// CheckInvariants verifies that the stored totals agree with the installments, discounts and payments.
func CheckInvariants(l Ledger) error {
	feeSum, credit, paid, lateFee := decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	for _, inst := range l.Installments {
		if inst.PaidAmount.IsNegative() || inst.Credit.IsNegative() || inst.LateFeePaid.IsNegative() {
			return errors.Wrapf(ErrInvariantViolated, "installment %d has a negative amount", inst.Number)
		}
		if inst.PaidAmount.Add(inst.Credit).GreaterThan(inst.Amount) {
			return errors.Wrapf(ErrInvariantViolated, "installment %d is overpaid", inst.Number)
		}
		if inst.LateFeePaid.GreaterThan(inst.LateFee) {
			return errors.Wrapf(ErrInvariantViolated, "installment %d late fee is overpaid", inst.Number)
		}
		feeSum = feeSum.Add(inst.Amount)
		credit = credit.Add(inst.Credit)
		paid = paid.Add(inst.PaidAmount).Add(inst.LateFeePaid)
		lateFee = lateFee.Add(inst.LateFee)
	}

	switch {
	case !feeSum.Equal(l.TotalFeeAmount):
		return errors.Wrapf(ErrInvariantViolated, "installments sum to %s, total fee is %s", feeSum, l.TotalFeeAmount)
	case !paid.Equal(l.TotalPaid):
		return errors.Wrapf(ErrInvariantViolated, "installments paid %s, total paid is %s", paid, l.TotalPaid)
	case !lateFee.Equal(l.TotalLateFee):
		return errors.Wrapf(ErrInvariantViolated, "installments late fee %s, total late fee is %s", lateFee, l.TotalLateFee)
	case !credit.Equal(l.TotalDiscount.Add(l.ConcessionAmount)):
		return errors.Wrapf(ErrInvariantViolated, "installments credited %s, discounts total %s", credit, l.TotalDiscount.Add(l.ConcessionAmount))
	}

	balance := l.TotalFeeAmount.Sub(l.TotalDiscount).Sub(l.ConcessionAmount).Add(l.TotalLateFee).Sub(l.TotalPaid)
	if !balance.Equal(l.Balance) {
		return errors.Wrapf(ErrInvariantViolated, "balance is %s, expected %s", l.Balance, balance)
	}

	received := decimal.Zero
	for _, p := range l.Payments {
		if !p.IsRefunded() {
			received = received.Add(p.Amount)
		}
	}
	if !received.Equal(l.TotalPaid) {
		return errors.Wrapf(ErrInvariantViolated, "payments total %s, total paid is %s", received, l.TotalPaid)
	}
	return nil
}

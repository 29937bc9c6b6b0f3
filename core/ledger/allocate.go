package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/feeledger/core"
)

type AllocationResult struct {
	Allocations      []Allocation
	PrincipalApplied decimal.Decimal
	LateFeeApplied   decimal.Decimal
}

// Allocate spreads amount over the open installments, oldest due date first (ties by number).
// Each installment takes its outstanding late fee before its principal and must be fully
// settled before the next one receives anything. The ledger is left untouched on error.
func Allocate(l *Ledger, amount decimal.Decimal) (AllocationResult, error) {
	switch {
	case !amount.IsPositive():
		return AllocationResult{}, errors.Wrapf(ErrInvalidAmount, "got %s", amount)
	case l.Status.IsTerminal():
		return AllocationResult{}, errors.Wrapf(ErrLedgerTerminal, "ledger is %s", l.Status)
	case amount.GreaterThan(l.Balance):
		return AllocationResult{}, errors.Wrapf(ErrBalanceExceeded, "payment of %s, balance is %s", amount, l.Balance)
	}

	res := AllocationResult{PrincipalApplied: decimal.Zero, LateFeeApplied: decimal.Zero}
	remaining := amount
	for _, idx := range l.openInstallments() {
		if !remaining.IsPositive() {
			break
		}
		inst := l.Installments[idx]

		lateFee := decimal.Min(remaining, inst.OutstandingLateFee())
		remaining = remaining.Sub(lateFee)
		principal := decimal.Min(remaining, inst.OutstandingPrincipal())
		remaining = remaining.Sub(principal)

		if lateFee.IsZero() && principal.IsZero() {
			continue
		}
		res.Allocations = append(res.Allocations, Allocation{
			InstallmentNumber: inst.Number,
			PrincipalApplied:  principal,
			LateFeeApplied:    lateFee,
		})
		res.PrincipalApplied = res.PrincipalApplied.Add(principal)
		res.LateFeeApplied = res.LateFeeApplied.Add(lateFee)
	}
	if remaining.IsPositive() {
		return AllocationResult{}, errors.Wrapf(ErrInvariantViolated, "%s left unallocated out of %s", remaining, amount)
	}

	for _, a := range res.Allocations {
		inst := l.installment(a.InstallmentNumber)
		inst.LateFeePaid = inst.LateFeePaid.Add(a.LateFeeApplied)
		inst.PaidAmount = inst.PaidAmount.Add(a.PrincipalApplied)
	}
	return res, nil
}

// ApplyPayment allocates in.Amount, records the resulting Payment and re-derives the ledger.
func ApplyPayment(l *Ledger, in PaymentInput, at time.Time) (Payment, error) {
	res, err := Allocate(l, in.Amount)
	if err != nil {
		return Payment{}, err
	}

	paidAt := in.PaidAt
	if paidAt.IsZero() {
		paidAt = at
	}
	pmt := Payment{
		ID:          uuid.New(),
		LedgerID:    l.ID,
		Amount:      in.Amount,
		PaidAt:      paidAt.UTC(),
		Mode:        in.Mode,
		Collector:   in.Collector,
		Reference:   in.Reference,
		Note:        in.Note,
		Allocations: res.Allocations,
		CreatedAt:   at.UTC(),
	}
	l.Payments = append(l.Payments, pmt)
	Recalculate(l, at)
	return pmt, nil
}

// RefundPayment reverses the allocations of a payment. The payment stays in the history, flagged as refunded.
func RefundPayment(l *Ledger, paymentID uuid.UUID, reason string, by core.Actor, at time.Time) (Payment, error) {
	if l.Status.isAdministrative() {
		return Payment{}, errors.Wrapf(ErrLedgerTerminal, "ledger is %s", l.Status)
	}
	idx := -1
	for i, p := range l.Payments {
		if p.ID == paymentID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Payment{}, errors.Wrapf(ErrPaymentNotFound, "%s", paymentID)
	}
	pmt := &l.Payments[idx]
	if pmt.IsRefunded() {
		return Payment{}, errors.Wrapf(ErrPaymentRefunded, "%s", paymentID)
	}

	for _, a := range pmt.Allocations {
		inst := l.installment(a.InstallmentNumber)
		if inst == nil {
			return Payment{}, errors.Wrapf(ErrInvariantViolated, "payment %s allocated to unknown installment %d", paymentID, a.InstallmentNumber)
		}
		inst.PaidAmount = inst.PaidAmount.Sub(a.PrincipalApplied)
		inst.LateFeePaid = inst.LateFeePaid.Sub(a.LateFeeApplied)
	}
	pmt.RefundedAt = at.UTC()
	pmt.RefundedBy = by
	pmt.RefundReason = reason

	Recalculate(l, at)
	return *pmt, nil
}

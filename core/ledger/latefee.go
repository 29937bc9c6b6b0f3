package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/feeledger/core"
	"github.com/trezcool/feeledger/core/fee"
	"github.com/trezcool/feeledger/core/money"
)

// LateFee computes the late fee accrued by inst as of asOf, rounded and capped.
func LateFee(inst Installment, policy fee.LateFeePolicy, asOf time.Time) decimal.Decimal {
	if !policy.Enabled() {
		return decimal.Zero
	}
	start := core.Date(policy.StartDate(inst.DueDate))
	asOf = core.Date(asOf)
	if !asOf.After(start) {
		return decimal.Zero
	}

	var amount decimal.Decimal
	switch policy.Type {
	case fee.LateFeePerDay:
		amount = policy.PerDayAmount.Mul(decimal.NewFromInt(int64(daysBetween(start, asOf))))
	case fee.LateFeeFlat:
		amount = policy.FlatAmount
	case fee.LateFeePercentage:
		amount = money.Percent(inst.OutstandingPrincipal(), policy.Percentage)
	default:
		return decimal.Zero
	}
	amount = money.RoundToUnit(amount, policy.RoundingUnit)
	return money.Clamp(amount, decimal.Zero, policy.MaxFeeCap)
}

// RecomputeLateFees replaces the accrued late fee of every open installment with its value
// as of asOf, then re-derives totals. Running it twice for the same date changes nothing.
// A late fee never drops below what was already paid towards it, and installments whose
// principal is settled keep their fee as is.
func RecomputeLateFees(l *Ledger, policy fee.LateFeePolicy, asOf time.Time) {
	if l.Status.IsTerminal() {
		return
	}
	for i := range l.Installments {
		inst := &l.Installments[i]
		if !inst.IsOpen() || !inst.OutstandingPrincipal().IsPositive() {
			continue
		}
		amount := LateFee(*inst, policy, asOf)
		if amount.LessThan(inst.LateFeePaid) {
			amount = inst.LateFeePaid
		}
		inst.LateFee = amount
	}
	l.LateFeesAsOf = core.Date(asOf)
	Recalculate(l, asOf)
}

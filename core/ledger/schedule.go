package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/feeledger/core"
	"github.com/trezcool/feeledger/core/fee"
	"github.com/trezcool/feeledger/core/money"
)

// DefaultFallbackDueDays is used by a Scheduler with no FallbackDueDays set.
const DefaultFallbackDueDays = 30

// Scheduler turns a fee total and an installment plan into dated installments.
type Scheduler struct {
	// FallbackDueDays is the delay, after the reference date, of the single installment
	// generated when no plan is available.
	FallbackDueDays int
}

// Generate splits total according to plan. Amounts are rounded per installment and the
// rounding drift is absorbed by the last installment, so the amounts always sum to total.
// A nil plan yields one installment for the full amount.
func (s Scheduler) Generate(total decimal.Decimal, plan *fee.Plan, referenceDate time.Time) []Installment {
	ref := core.Date(referenceDate)
	if plan == nil || len(plan.Entries) == 0 {
		days := s.FallbackDueDays
		if days <= 0 {
			days = DefaultFallbackDueDays
		}
		return []Installment{newInstallment(1, "Full payment", ref.AddDate(0, 0, days), total)}
	}

	entries := append([]fee.PlanEntry(nil), plan.Entries...)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Number < entries[j].Number })

	insts := make([]Installment, 0, len(entries))
	allocated := decimal.Zero
	for _, e := range entries {
		amount := money.Round(money.Percent(total, e.Percentage))
		insts = append(insts, newInstallment(e.Number, e.Name, dueDate(e.Month, e.Day, ref), amount))
		allocated = allocated.Add(amount)
	}
	last := &insts[len(insts)-1]
	last.Amount = last.Amount.Add(total.Sub(allocated))

	// tiny totals can round every early installment up past what the last one holds
	if last.Amount.IsNegative() {
		splitCumulative(insts, entries, total)
	}
	return insts
}

// splitCumulative rounds the running total instead of each share; every amount is then non-negative.
func splitCumulative(insts []Installment, entries []fee.PlanEntry, total decimal.Decimal) {
	cumPct, prev := decimal.Zero, decimal.Zero
	for i, e := range entries {
		cumPct = cumPct.Add(e.Percentage)
		cum := money.Round(money.Percent(total, cumPct))
		if i == len(entries)-1 {
			cum = total
		}
		insts[i].Amount = cum.Sub(prev)
		prev = cum
	}
}

func newInstallment(number int, name string, due time.Time, amount decimal.Decimal) Installment {
	return Installment{
		Number:      number,
		Name:        name,
		DueDate:     due,
		Amount:      amount,
		PaidAmount:  decimal.Zero,
		Credit:      decimal.Zero,
		LateFee:     decimal.Zero,
		LateFeePaid: decimal.Zero,
		Status:      InstallmentPending,
	}
}

// dueDate places (month, day) in ref's year, or the next one if that date is already past.
func dueDate(month time.Month, day int, ref time.Time) time.Time {
	due := civilDate(ref.Year(), month, day)
	if due.Before(ref) {
		due = civilDate(ref.Year()+1, month, day)
	}
	return due
}

// civilDate clamps day to the length of the month (31 Feb -> 28/29 Feb).
func civilDate(year int, month time.Month, day int) time.Time {
	if last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day(); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// daysBetween counts calendar days from a to b.
func daysBetween(a, b time.Time) int {
	return int(core.Date(b).Sub(core.Date(a)).Hours() / 24)
}

package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/trezcool/feeledger/core"
	"github.com/trezcool/feeledger/core/fee"
	"github.com/trezcool/feeledger/core/money"
)

// ApplyDiscount applies a discount rule once. The amount is capped by the rule and by the
// outstanding principal, so a discount never turns into a refund.
func ApplyDiscount(l *Ledger, rule fee.DiscountRule, by core.Actor, at time.Time) (AppliedDiscount, error) {
	if l.Status.IsTerminal() {
		return AppliedDiscount{}, errors.Wrapf(ErrLedgerTerminal, "ledger is %s", l.Status)
	}
	if !rule.ValidOn(core.Date(at)) {
		return AppliedDiscount{}, errors.Wrapf(ErrDiscountNotApplicable, "%q", rule.Name)
	}
	if lo.ContainsBy(l.Discounts, func(d AppliedDiscount) bool { return d.Kind == KindRule && d.RuleName == rule.Name }) {
		return AppliedDiscount{}, errors.Wrapf(ErrDiscountAlreadyApplied, "%q", rule.Name)
	}

	var raw decimal.Decimal
	switch rule.Type {
	case fee.DiscountPercentage:
		raw = money.Round(money.Percent(discountBase(*l, rule), rule.Value))
	case fee.DiscountFixed:
		raw = rule.Value
	default:
		return AppliedDiscount{}, errors.Errorf("unknown discount type %q", rule.Type)
	}
	raw = money.Clamp(raw, decimal.Zero, rule.MaxAmount)

	amount := decimal.Min(raw, l.OutstandingPrincipal())
	if !amount.IsPositive() {
		return AppliedDiscount{}, errors.Wrapf(ErrBalanceExceeded, "nothing left to discount with %q", rule.Name)
	}

	credit(l, amount)
	entry := AppliedDiscount{
		ID:        uuid.New(),
		Kind:      KindRule,
		RuleName:  rule.Name,
		Amount:    amount,
		AppliedBy: by,
		AppliedAt: at.UTC(),
	}
	l.Discounts = append(l.Discounts, entry)
	Recalculate(l, at)
	return entry, nil
}

// WaiveBalance records a manual concession approved by staff.
func WaiveBalance(l *Ledger, amount decimal.Decimal, reason string, approver core.Actor, at time.Time) (AppliedDiscount, error) {
	if l.Status.IsTerminal() {
		return AppliedDiscount{}, errors.Wrapf(ErrLedgerTerminal, "ledger is %s", l.Status)
	}
	if !amount.IsPositive() {
		return AppliedDiscount{}, errors.Wrapf(ErrInvalidAmount, "got %s", amount)
	}
	if outstanding := l.OutstandingPrincipal(); amount.GreaterThan(outstanding) {
		return AppliedDiscount{}, errors.Wrapf(ErrBalanceExceeded, "concession of %s, outstanding principal is %s", amount, outstanding)
	}

	credit(l, amount)
	entry := AppliedDiscount{
		ID:        uuid.New(),
		Kind:      KindConcession,
		Amount:    amount,
		Reason:    reason,
		AppliedBy: approver,
		AppliedAt: at.UTC(),
	}
	l.Discounts = append(l.Discounts, entry)
	Recalculate(l, at)
	return entry, nil
}

// discountBase is the part of the fee a rule applies to.
func discountBase(l Ledger, rule fee.DiscountRule) decimal.Decimal {
	if len(rule.Components) == 0 {
		return l.TotalFeeAmount
	}
	base := decimal.Zero
	for _, c := range l.Components {
		if lo.Contains(rule.Components, c.Name) {
			base = base.Add(c.Amount)
		}
	}
	return base
}

// credit forgives amount of principal, latest due installment first.
func credit(l *Ledger, amount decimal.Decimal) {
	idxs := l.openInstallments()
	remaining := amount
	for i := len(idxs) - 1; i >= 0 && remaining.IsPositive(); i-- {
		inst := &l.Installments[idxs[i]]
		c := decimal.Min(remaining, inst.OutstandingPrincipal())
		inst.Credit = inst.Credit.Add(c)
		remaining = remaining.Sub(c)
	}
}

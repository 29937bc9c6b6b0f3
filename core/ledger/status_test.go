package ledger

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/feeledger/testutil"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name      string
		balance   string
		totalPaid string
		nextDue   time.Time
		asOf      time.Time
		want      Status
	}{
		{name: "settled", balance: "0", totalPaid: "12000", want: StatusPaid},
		{name: "settled by discounts", balance: "0", totalPaid: "0", want: StatusPaid},
		{name: "partially paid before due", balance: "100", totalPaid: "50", nextDue: jan5, asOf: jan1, want: StatusPartiallyPaid},
		{name: "partially paid wins over overdue", balance: "100", totalPaid: "50", nextDue: jan5, asOf: jan20, want: StatusPartiallyPaid},
		{name: "overdue", balance: "100", totalPaid: "0", nextDue: jan5, asOf: jan20, want: StatusOverdue},
		{name: "due today", balance: "100", totalPaid: "0", nextDue: jan5, asOf: jan5.Add(20 * time.Hour), want: StatusNotStarted},
		{name: "not started", balance: "100", totalPaid: "0", nextDue: jan5, asOf: jan1, want: StatusNotStarted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveStatus(dec(tt.balance), dec(tt.totalPaid), tt.nextDue, tt.asOf)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecalculate_administrativeStatusesStick(t *testing.T) {
	for _, status := range []Status{StatusWaived, StatusCancelled} {
		l := quarterly()
		l.Status = status
		Recalculate(&l, jan20)
		assert.Equal(t, status, l.Status)
		assert.False(t, l.IsOverdue(jan20))
		assert.True(t, l.Status.IsTerminal())
	}
}

func TestLedger_IsOverdue(t *testing.T) {
	l := quarterly()
	assert.False(t, l.IsOverdue(jan5))
	assert.True(t, l.IsOverdue(jan20))

	pay(t, &l, "1000", jan20)
	assert.Equal(t, StatusPartiallyPaid, l.Status)
	assert.True(t, l.IsOverdue(jan20))

	pay(t, &l, "2000", jan20)
	assert.False(t, l.IsOverdue(jan20))
	assert.True(t, l.IsOverdue(testutil.Date(2024, time.April, 6)))
}

func TestCheckInvariants(t *testing.T) {
	tests := []struct {
		name   string
		tamper func(l *Ledger)
	}{
		{name: "balance", tamper: func(l *Ledger) { l.Balance = l.Balance.Add(dec("1")) }},
		{name: "total fee", tamper: func(l *Ledger) { l.TotalFeeAmount = dec("11999") }},
		{name: "total paid", tamper: func(l *Ledger) { l.TotalPaid = dec("0") }},
		{name: "late fee", tamper: func(l *Ledger) { l.Installments[1].LateFee = dec("10") }},
		{name: "credit", tamper: func(l *Ledger) { l.Installments[3].Credit = dec("10") }},
		{name: "overpaid installment", tamper: func(l *Ledger) { l.Installments[0].PaidAmount = dec("3001") }},
		{name: "overpaid late fee", tamper: func(l *Ledger) { l.Installments[0].LateFeePaid = dec("1") }},
		{name: "negative amount", tamper: func(l *Ledger) { l.Installments[2].PaidAmount = dec("-1") }},
		{name: "payments", tamper: func(l *Ledger) { l.Payments[0].Amount = dec("999") }},
	}

	base := quarterly()
	pay(t, &base, "1000", jan1)
	require.NoError(t, CheckInvariants(base))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := base.Clone()
			tt.tamper(&l)
			assert.ErrorIs(t, CheckInvariants(l), ErrInvariantViolated)
		})
	}
}

// Whatever the sequence of operations, the totals stay consistent and the balance
// equals what the installments still owe.
func TestLedger_balanceProperty(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))

	for run := 0; run < 50; run++ {
		l := quarterly()
		asOf := jan1

		for step := 0; step < 40; step++ {
			switch rnd.Intn(5) {
			case 0, 1: // pay
				if l.Status.IsTerminal() || !l.Balance.IsPositive() {
					continue
				}
				amount := decimal.NewFromInt(1 + rnd.Int63n(l.Balance.IntPart()))
				_, err := ApplyPayment(&l, PaymentInput{Amount: amount, Mode: ModeCash, Collector: staff}, asOf)
				require.NoError(t, err, "run %d step %d: paying %s", run, step, amount)
			case 2: // concession
				outstanding := l.OutstandingPrincipal()
				if l.Status.IsTerminal() || !outstanding.IsPositive() {
					continue
				}
				amount := decimal.NewFromInt(1 + rnd.Int63n(outstanding.IntPart()))
				_, err := WaiveBalance(&l, amount, "hardship", staff, asOf)
				require.NoError(t, err, "run %d step %d: waiving %s", run, step, amount)
			case 3: // time goes by
				asOf = asOf.AddDate(0, 0, rnd.Intn(30))
				RecomputeLateFees(&l, perDay, asOf)
			case 4: // refund
				open := make([]Payment, 0, len(l.Payments))
				for _, p := range l.Payments {
					if !p.IsRefunded() {
						open = append(open, p)
					}
				}
				if len(open) == 0 {
					continue
				}
				p := open[rnd.Intn(len(open))]
				_, err := RefundPayment(&l, p.ID, "reversal", staff, asOf)
				require.NoError(t, err, "run %d step %d: refunding %s", run, step, p.ID)
			}
			requireConsistent(t, l)
		}
	}
}

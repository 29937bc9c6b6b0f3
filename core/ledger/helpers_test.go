package ledger

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/feeledger/testutil"
)

var (
	jan1  = testutil.Date(2024, time.January, 1)
	jan5  = testutil.Date(2024, time.January, 5)
	jan20 = testutil.Date(2024, time.January, 20)

	staff = testutil.Staff
)

func dec(s string) decimal.Decimal {
	return testutil.Dec(s)
}

func inst(number int, due time.Time, amount string) Installment {
	return newInstallment(number, fmt.Sprintf("Installment %d", number), due, dec(amount))
}

// newLedger builds an untouched ledger over insts, derived as of Jan 1st 2024.
func newLedger(insts ...Installment) Ledger {
	l := Ledger{
		ID:               uuid.New(),
		StudentRef:       "student-1",
		ClassRef:         "grade-1",
		PeriodRef:        "2024",
		Currency:         "KES",
		Installments:     insts,
		TotalFeeAmount:   decimal.Zero,
		TotalDiscount:    decimal.Zero,
		ConcessionAmount: decimal.Zero,
		Status:           StatusNotStarted,
		CreatedAt:        jan1,
		UpdatedAt:        jan1,
	}
	for _, i := range insts {
		l.TotalFeeAmount = l.TotalFeeAmount.Add(i.Amount)
	}
	Recalculate(&l, jan1)
	return l
}

// quarterly is the 12000 ledger split in four installments of 3000.
func quarterly() Ledger {
	l := newLedger(
		inst(1, testutil.Date(2024, time.January, 5), "3000"),
		inst(2, testutil.Date(2024, time.April, 5), "3000"),
		inst(3, testutil.Date(2024, time.July, 5), "3000"),
		inst(4, testutil.Date(2024, time.October, 5), "3000"),
	)
	l.Components = []ComponentCharge{
		{Name: "Tuition", Amount: dec("10000")},
		{Name: "Activities", Amount: dec("2000")},
	}
	return l
}

func pay(t *testing.T, l *Ledger, amount string, at time.Time) Payment {
	t.Helper()
	pmt, err := ApplyPayment(l, PaymentInput{Amount: dec(amount), Mode: ModeCash, Collector: staff}, at)
	require.NoError(t, err)
	requireConsistent(t, *l)
	return pmt
}

// requireConsistent checks the stored totals and that the balance equals what the installments still owe.
func requireConsistent(t *testing.T, l Ledger) {
	t.Helper()
	require.NoError(t, CheckInvariants(l))
	outstanding := decimal.Zero
	for _, i := range l.Installments {
		outstanding = outstanding.Add(i.Outstanding())
	}
	require.True(t, outstanding.Equal(l.Balance), "balance %s, installments owe %s", l.Balance, outstanding)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Errorf("got %s, want %s %v", got, want, msgAndArgs)
	}
}

package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/feeledger/core/fee"
	"github.com/trezcool/feeledger/testutil"
)

var perDay = fee.LateFeePolicy{
	Type:         fee.LateFeePerDay,
	GraceDays:    3,
	StartMode:    fee.StartAfterGrace,
	PerDayAmount: dec("10"),
}

func TestLateFee(t *testing.T) {
	due := inst(1, jan5, "3000")
	partlyPaid := due
	partlyPaid.PaidAmount = dec("1000")

	tests := []struct {
		name   string
		inst   Installment
		policy fee.LateFeePolicy
		asOf   time.Time
		want   string
	}{
		{name: "per day", inst: due, policy: perDay, asOf: jan20, want: "120"},
		{name: "within grace", inst: due, policy: perDay, asOf: testutil.Date(2024, time.January, 7), want: "0"},
		{name: "on accrual start", inst: due, policy: perDay, asOf: testutil.Date(2024, time.January, 8), want: "0"},
		{name: "first day", inst: due, policy: perDay, asOf: testutil.Date(2024, time.January, 9), want: "10"},
		{name: "time of day ignored", inst: due, policy: perDay, asOf: jan20.Add(23 * time.Hour), want: "120"},
		{name: "disabled", inst: due, policy: fee.LateFeePolicy{}, asOf: jan20, want: "0"},
		{
			name:   "flat",
			inst:   due,
			policy: fee.LateFeePolicy{Type: fee.LateFeeFlat, GraceDays: 3, FlatAmount: dec("500")},
			asOf:   jan20,
			want:   "500",
		},
		{
			name:   "percentage of the outstanding principal",
			inst:   partlyPaid,
			policy: fee.LateFeePolicy{Type: fee.LateFeePercentage, Percentage: dec("2")},
			asOf:   jan20,
			want:   "40",
		},
		{
			name:   "capped",
			inst:   due,
			policy: fee.LateFeePolicy{Type: fee.LateFeePerDay, GraceDays: 3, PerDayAmount: dec("10"), MaxFeeCap: dec("100")},
			asOf:   jan20,
			want:   "100",
		},
		{
			name:   "rounded to unit",
			inst:   due,
			policy: fee.LateFeePolicy{Type: fee.LateFeePerDay, GraceDays: 3, PerDayAmount: dec("7"), RoundingUnit: dec("50")},
			asOf:   jan20,
			want:   "100",
		},
		{
			name: "fixed start date",
			inst: due,
			policy: fee.LateFeePolicy{
				Type:         fee.LateFeePerDay,
				StartMode:    fee.StartFixedDate,
				FixedDate:    testutil.Date(2024, time.February, 1),
				PerDayAmount: dec("10"),
			},
			asOf: testutil.Date(2024, time.February, 11),
			want: "100",
		},
		{
			name: "fixed start date before the due date",
			inst: inst(2, testutil.Date(2024, time.April, 5), "3000"),
			policy: fee.LateFeePolicy{
				Type:         fee.LateFeePerDay,
				StartMode:    fee.StartFixedDate,
				FixedDate:    testutil.Date(2024, time.February, 1),
				PerDayAmount: dec("10"),
			},
			asOf: testutil.Date(2024, time.April, 10),
			want: "50",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertDec(t, tt.want, LateFee(tt.inst, tt.policy, tt.asOf))
		})
	}
}

func TestRecomputeLateFees(t *testing.T) {
	t.Run("idempotent", func(t *testing.T) {
		l := quarterly()
		RecomputeLateFees(&l, perDay, jan20)
		requireConsistent(t, l)
		once := l.Clone()

		RecomputeLateFees(&l, perDay, jan20)
		assert.Equal(t, once, l)
		assertDec(t, "120", l.TotalLateFee)
		assertDec(t, "12120", l.Balance)
		assert.Equal(t, StatusOverdue, l.Status)
		assert.Equal(t, jan20, l.LateFeesAsOf)
	})

	t.Run("replaces the accrued value", func(t *testing.T) {
		l := quarterly()
		RecomputeLateFees(&l, perDay, jan20)
		RecomputeLateFees(&l, perDay, testutil.Date(2024, time.January, 25))
		assertDec(t, "170", l.Installments[0].LateFee)
		requireConsistent(t, l)
	})

	t.Run("never below what was paid", func(t *testing.T) {
		l := quarterly()
		RecomputeLateFees(&l, perDay, jan20)
		pay(t, &l, "120", jan20)
		assertDec(t, "120", l.Installments[0].LateFeePaid)

		RecomputeLateFees(&l, perDay, testutil.Date(2024, time.January, 10))
		assertDec(t, "120", l.Installments[0].LateFee)
		requireConsistent(t, l)
	})

	t.Run("settled principal keeps its fee", func(t *testing.T) {
		l := quarterly()
		RecomputeLateFees(&l, perDay, jan20)
		pay(t, &l, "3000", jan20) // 120 late fee + 2880 principal
		assertDec(t, "120", l.Installments[0].OutstandingPrincipal())

		RecomputeLateFees(&l, perDay, testutil.Date(2024, time.January, 22))
		assertDec(t, "140", l.Installments[0].LateFee)

		pay(t, &l, "140", testutil.Date(2024, time.January, 22)) // 20 late fee + 120 principal
		assert.Equal(t, InstallmentPaid, l.Installments[0].Status)
		RecomputeLateFees(&l, perDay, testutil.Date(2024, time.February, 20))
		assertDec(t, "140", l.Installments[0].LateFee)
		requireConsistent(t, l)
	})

	t.Run("terminal ledgers are left alone", func(t *testing.T) {
		l := quarterly()
		l.Status = StatusWaived
		Recalculate(&l, jan1)
		before := l.Clone()
		RecomputeLateFees(&l, perDay, jan20)
		assert.Equal(t, before, l)
	})
}

package ledger

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/feeledger/core/fee"
	"github.com/trezcool/feeledger/testutil"
)

func plan(pcts ...string) *fee.Plan {
	p := &fee.Plan{Name: "Plan"}
	for i, pct := range pcts {
		p.Entries = append(p.Entries, fee.PlanEntry{
			Number:     i + 1,
			Month:      time.Month(i%12 + 1),
			Day:        5,
			Percentage: dec(pct),
		})
	}
	return p
}

func amounts(insts []Installment) []string {
	out := make([]string, 0, len(insts))
	for _, i := range insts {
		out = append(out, i.Amount.String())
	}
	return out
}

func TestScheduler_Generate(t *testing.T) {
	tests := []struct {
		name      string
		total     string
		plan      *fee.Plan
		ref       time.Time
		want      []string
		wantDates []time.Time
	}{
		{
			name:  "quarterly",
			total: "12000",
			plan: &fee.Plan{Name: "Quarterly", Entries: []fee.PlanEntry{
				{Number: 1, Month: time.January, Day: 5, Percentage: dec("25")},
				{Number: 2, Month: time.April, Day: 5, Percentage: dec("25")},
				{Number: 3, Month: time.July, Day: 5, Percentage: dec("25")},
				{Number: 4, Month: time.October, Day: 5, Percentage: dec("25")},
			}},
			ref:  jan1,
			want: []string{"3000", "3000", "3000", "3000"},
			wantDates: []time.Time{
				testutil.Date(2024, time.January, 5),
				testutil.Date(2024, time.April, 5),
				testutil.Date(2024, time.July, 5),
				testutil.Date(2024, time.October, 5),
			},
		},
		{
			name:  "drift goes to the last installment",
			total: "100",
			plan:  plan("33.33", "33.33", "33.34"),
			ref:   jan1,
			want:  []string{"33", "33", "34"},
		},
		{
			name:  "tiny total never goes negative",
			total: "5",
			plan:  plan("30", "30", "30", "10"),
			ref:   jan1,
			want:  []string{"2", "1", "2", "0"},
		},
		{
			name:  "past dates roll to the next year",
			total: "1000",
			plan:  plan("50", "50"),
			ref:   testutil.Date(2024, time.February, 1),
			want:  []string{"500", "500"},
			wantDates: []time.Time{
				testutil.Date(2025, time.January, 5),
				testutil.Date(2024, time.February, 5),
			},
		},
		{
			name:      "no plan",
			total:     "12000",
			ref:       jan1,
			want:      []string{"12000"},
			wantDates: []time.Time{testutil.Date(2024, time.January, 31)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Scheduler{}.Generate(dec(tt.total), tt.plan, tt.ref)
			assert.Equal(t, tt.want, amounts(got))
			for i, want := range tt.wantDates {
				assert.Equal(t, want, got[i].DueDate, "installment %d", got[i].Number)
			}
			for _, i := range got {
				assert.Equal(t, InstallmentPending, i.Status)
				assert.True(t, i.PaidAmount.IsZero())
			}
		})
	}
}

func TestScheduler_Generate_fallback(t *testing.T) {
	got := Scheduler{FallbackDueDays: 10}.Generate(dec("500"), &fee.Plan{Name: "Empty"}, jan1)
	require.Len(t, got, 1)
	assert.Equal(t, "Full payment", got[0].Name)
	assert.Equal(t, testutil.Date(2024, time.January, 11), got[0].DueDate)
}

func TestScheduler_Generate_sortsByNumber(t *testing.T) {
	p := &fee.Plan{Name: "Reversed", Entries: []fee.PlanEntry{
		{Number: 2, Name: "Second", Month: time.June, Day: 1, Percentage: dec("40")},
		{Number: 1, Name: "First", Month: time.March, Day: 1, Percentage: dec("60")},
	}}
	got := Scheduler{}.Generate(dec("1000"), p, jan1)
	require.Len(t, got, 2)
	assert.Equal(t, "First", got[0].Name)
	assert.Equal(t, []string{"600", "400"}, amounts(got))
}

// The installment amounts always add up to the total, whatever the plan.
func TestScheduler_Generate_sumProperty(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))

	for n := 0; n < 500; n++ {
		total := decimal.NewFromInt(rnd.Int63n(1_000_000))
		entries := 1 + rnd.Intn(12)

		weights, sum := make([]int64, entries), int64(0)
		for i := range weights {
			weights[i] = 1 + rnd.Int63n(100)
			sum += weights[i]
		}
		pcts, allotted := make([]string, entries), int64(0)
		for i, w := range weights {
			bp := w * 10000 / sum
			if i == entries-1 {
				bp = 10000 - allotted
			}
			allotted += bp
			pcts[i] = decimal.New(bp, -2).String()
		}

		got := Scheduler{}.Generate(total, plan(pcts...), jan1)
		require.Len(t, got, entries)

		sumAmounts := decimal.Zero
		for _, i := range got {
			require.False(t, i.Amount.IsNegative(), "total %s, plan %v: negative installment", total, pcts)
			sumAmounts = sumAmounts.Add(i.Amount)
		}
		require.True(t, sumAmounts.Equal(total), "total %s, plan %v: installments sum to %s", total, pcts, sumAmounts)
	}
}

func TestCivilDate(t *testing.T) {
	assert.Equal(t, testutil.Date(2024, time.February, 29), civilDate(2024, time.February, 31))
	assert.Equal(t, testutil.Date(2025, time.February, 28), civilDate(2025, time.February, 31))
	assert.Equal(t, testutil.Date(2024, time.April, 30), civilDate(2024, time.April, 31))
	assert.Equal(t, testutil.Date(2024, time.May, 31), civilDate(2024, time.May, 31))
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 12, daysBetween(testutil.Date(2024, time.January, 8), jan20))
	assert.Equal(t, 0, daysBetween(jan20, jan20.Add(23*time.Hour)))
	assert.Equal(t, 29, daysBetween(testutil.Date(2024, time.February, 1), testutil.Date(2024, time.March, 1)))
}

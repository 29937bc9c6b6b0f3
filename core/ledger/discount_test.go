package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/feeledger/core/fee"
	"github.com/trezcool/feeledger/testutil"
)

func TestApplyDiscount(t *testing.T) {
	sibling := fee.DiscountRule{Name: "Sibling", Type: fee.DiscountPercentage, Value: dec("10"), Components: []string{"Tuition"}}

	tests := []struct {
		name       string
		ledger     func(t *testing.T) Ledger
		rule       fee.DiscountRule
		at         time.Time
		want       string
		wantCredit []string
		wantErr    error
	}{
		{
			name:       "percentage of a component",
			ledger:     func(*testing.T) Ledger { return quarterly() },
			rule:       sibling,
			want:       "1000",
			wantCredit: []string{"0", "0", "0", "1000"},
		},
		{
			name:   "percentage of the whole fee",
			ledger: func(*testing.T) Ledger { return quarterly() },
			rule:   fee.DiscountRule{Name: "Staff", Type: fee.DiscountPercentage, Value: dec("12.5")},
			want:   "1500",
		},
		{
			name:   "capped by the rule",
			ledger: func(*testing.T) Ledger { return quarterly() },
			rule:   fee.DiscountRule{Name: "Capped", Type: fee.DiscountPercentage, Value: dec("50"), MaxAmount: dec("2000")},
			want:   "2000",
		},
		{
			name:       "fixed, spilling over the latest installments",
			ledger:     func(*testing.T) Ledger { return quarterly() },
			rule:       fee.DiscountRule{Name: "Bursary", Type: fee.DiscountFixed, Value: dec("4000")},
			want:       "4000",
			wantCredit: []string{"0", "0", "1000", "3000"},
		},
		{
			name: "capped by the outstanding principal",
			ledger: func(t *testing.T) Ledger {
				l := quarterly()
				pay(t, &l, "11500", jan1)
				return l
			},
			rule:       fee.DiscountRule{Name: "Bursary", Type: fee.DiscountFixed, Value: dec("2000")},
			want:       "500",
			wantCredit: []string{"0", "0", "0", "500"},
		},
		{
			name:    "outside its validity window",
			ledger:  func(*testing.T) Ledger { return quarterly() },
			rule:    fee.DiscountRule{Name: "EarlyBird", Type: fee.DiscountFixed, Value: dec("500"), ValidTo: jan1},
			at:      testutil.Date(2024, time.February, 1),
			wantErr: ErrDiscountNotApplicable,
		},
		{
			name: "already applied",
			ledger: func(t *testing.T) Ledger {
				l := quarterly()
				_, err := ApplyDiscount(&l, sibling, staff, jan1)
				require.NoError(t, err)
				return l
			},
			rule:    sibling,
			wantErr: ErrDiscountAlreadyApplied,
		},
		{
			name: "only late fees left",
			ledger: func(*testing.T) Ledger {
				l := newLedger(inst(1, jan5, "1000"))
				l.Installments[0].PaidAmount = dec("1000")
				l.Installments[0].LateFee = dec("50")
				Recalculate(&l, jan20)
				return l
			},
			rule:    fee.DiscountRule{Name: "Bursary", Type: fee.DiscountFixed, Value: dec("100")},
			wantErr: ErrBalanceExceeded,
		},
		{
			name: "closed ledger",
			ledger: func(*testing.T) Ledger {
				l := quarterly()
				l.Status = StatusCancelled
				return l
			},
			rule:    sibling,
			wantErr: ErrLedgerTerminal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := tt.ledger(t)
			at := tt.at
			if at.IsZero() {
				at = jan1
			}

			entry, err := ApplyDiscount(&l, tt.rule, staff, at)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			requireConsistent(t, l)
			assertDec(t, tt.want, entry.Amount)
			assert.Equal(t, KindRule, entry.Kind)
			assert.Equal(t, tt.rule.Name, entry.RuleName)
			assert.Equal(t, staff, entry.AppliedBy)
			for i, want := range tt.wantCredit {
				assertDec(t, want, l.Installments[i].Credit, "installment", i+1)
			}
		})
	}
}

func TestApplyDiscount_settlesLedger(t *testing.T) {
	l := quarterly()
	pay(t, &l, "11500", jan1)
	_, err := ApplyDiscount(&l, fee.DiscountRule{Name: "Bursary", Type: fee.DiscountFixed, Value: dec("2000")}, staff, jan1)
	require.NoError(t, err)
	assertDec(t, "0", l.Balance)
	assert.Equal(t, StatusPaid, l.Status)
}

func TestWaiveBalance(t *testing.T) {
	tests := []struct {
		name       string
		amount     string
		wantErr    error
		wantCredit []string
		wantStatus []InstallmentStatus
	}{
		{name: "zero", amount: "0", wantErr: ErrInvalidAmount},
		{name: "above outstanding principal", amount: "12001", wantErr: ErrBalanceExceeded},
		{
			name:       "partial",
			amount:     "4000",
			wantCredit: []string{"0", "0", "1000", "3000"},
			wantStatus: []InstallmentStatus{InstallmentPending, InstallmentPending, InstallmentPending, InstallmentWaived},
		},
		{
			name:       "everything",
			amount:     "12000",
			wantCredit: []string{"3000", "3000", "3000", "3000"},
			wantStatus: []InstallmentStatus{InstallmentWaived, InstallmentWaived, InstallmentWaived, InstallmentWaived},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := quarterly()
			entry, err := WaiveBalance(&l, dec(tt.amount), "hardship", staff, jan1)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			requireConsistent(t, l)
			assert.Equal(t, KindConcession, entry.Kind)
			assert.Equal(t, "hardship", entry.Reason)
			assertDec(t, tt.amount, l.ConcessionAmount)
			assert.True(t, l.TotalDiscount.IsZero())
			for i := range tt.wantCredit {
				assertDec(t, tt.wantCredit[i], l.Installments[i].Credit, "installment", i+1)
				assert.Equal(t, tt.wantStatus[i], l.Installments[i].Status, "installment %d", i+1)
			}
		})
	}
}

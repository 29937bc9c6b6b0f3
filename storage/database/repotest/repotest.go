// Package repotest checks the behaviour shared by every repository implementation.
// Each storage package runs these against its own repositories.
package repotest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/feeledger/core"
	"github.com/trezcool/feeledger/core/fee"
	"github.com/trezcool/feeledger/core/ledger"
	"github.com/trezcool/feeledger/testutil"
)

// Repos are the repositories under test, backed by an empty store.
type Repos struct {
	Definitions fee.Repository
	Ledgers     ledger.Repository
}

var jan1 = testutil.Date(2024, time.January, 1)

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Equal(t, testutil.Dec(want).String(), got.String(), msgAndArgs...)
}

func newDefinition(classRef, periodRef string) fee.Definition {
	nd := testutil.QuarterlyDefinition(classRef, periodRef)
	return fee.Definition{
		ID:            uuid.New(),
		ClassRef:      nd.ClassRef,
		PeriodRef:     nd.PeriodRef,
		Name:          nd.Name,
		Currency:      nd.Currency,
		Components:    nd.Components,
		Plans:         nd.Plans,
		DiscountRules: nd.DiscountRules,
		LateFeePolicy: nd.LateFeePolicy,
		Status:        fee.StatusDraft,
		CreatedAt:     jan1,
		UpdatedAt:     jan1,
	}
}

// publish stores a new active definition for the class and period.
func publish(t *testing.T, repo fee.Repository, classRef, periodRef string) fee.Definition {
	t.Helper()
	ctx := context.Background()
	def, err := repo.CreateDefinition(ctx, newDefinition(classRef, periodRef))
	require.NoError(t, err)
	def.Status = fee.StatusActive
	def.PublishedAt = jan1
	def, err = repo.PublishDefinition(ctx, def)
	require.NoError(t, err)
	return def
}

// newLedger builds the quarterly ledger of a student, the way the ledger service would.
func newLedger(def fee.Definition, studentRef string) ledger.Ledger {
	charges, _ := def.Charges(nil)
	total := fee.Total(charges)
	l := ledger.Ledger{
		ID:               uuid.New(),
		StudentRef:       studentRef,
		ClassRef:         def.ClassRef,
		PeriodRef:        def.PeriodRef,
		DefinitionID:     def.ID,
		PlanName:         "Quarterly",
		Currency:         def.Currency,
		Installments:     ledger.Scheduler{}.Generate(total, def.Plan("Quarterly"), jan1),
		TotalFeeAmount:   total,
		TotalDiscount:    decimal.Zero,
		ConcessionAmount: decimal.Zero,
		Status:           ledger.StatusNotStarted,
		CreatedAt:        jan1,
		UpdatedAt:        jan1,
	}
	for _, c := range charges {
		l.Components = append(l.Components, ledger.ComponentCharge{Name: c.Name, Amount: c.Gross()})
	}
	ledger.Recalculate(&l, jan1)
	return l
}

func payment(t *testing.T, l *ledger.Ledger, amount, reference string) ledger.Payment {
	t.Helper()
	pmt, err := ledger.ApplyPayment(l, ledger.PaymentInput{
		Amount:    testutil.Dec(amount),
		Mode:      ledger.ModeGateway,
		Collector: testutil.Staff,
		Reference: reference,
	}, jan1)
	require.NoError(t, err)
	return pmt
}

// RunDefinitionRepository checks a fee.Repository.
func RunDefinitionRepository(t *testing.T, newRepos func(t *testing.T) Repos) {
	ctx := context.Background()

	t.Run("draft lifecycle", func(t *testing.T) {
		repo := newRepos(t).Definitions

		draft, err := repo.CreateDefinition(ctx, newDefinition("grade-1", "2024"))
		require.NoError(t, err)
		got, err := repo.GetDefinition(ctx, draft.ID)
		require.NoError(t, err)
		assert.Equal(t, fee.StatusDraft, got.Status)
		assert.Equal(t, "grade-1", got.ClassRef)
		require.Len(t, got.Components, 3)
		assertDec(t, "10000", got.Components[0].Amount)
		require.Len(t, got.Plans, 2)
		assert.Len(t, got.Plans[0].Entries, 4)
		assert.Len(t, got.DiscountRules, 2)
		assert.Equal(t, testutil.Date(2024, time.January, 31), got.DiscountRules[1].ValidTo)
		assert.Equal(t, fee.LateFeePerDay, got.LateFeePolicy.Type)
		assert.True(t, got.PublishedAt.IsZero())

		got.Name = "Renamed"
		_, err = repo.UpdateDefinition(ctx, got)
		require.NoError(t, err)
		got, err = repo.GetDefinition(ctx, draft.ID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)

		_, err = repo.GetActiveDefinition(ctx, "grade-1", "2024")
		assert.ErrorIs(t, err, fee.ErrDefinitionNotFound)
		_, err = repo.GetDefinition(ctx, uuid.New())
		assert.ErrorIs(t, err, fee.ErrDefinitionNotFound)
	})

	t.Run("publishing retires the active definition", func(t *testing.T) {
		repo := newRepos(t).Definitions

		first := publish(t, repo, "grade-1", "2024")
		other := publish(t, repo, "grade-2", "2024")
		second := publish(t, repo, "grade-1", "2024")

		active, err := repo.GetActiveDefinition(ctx, "grade-1", "2024")
		require.NoError(t, err)
		assert.Equal(t, second.ID, active.ID)
		assert.Equal(t, jan1, active.PublishedAt)

		first, err = repo.GetDefinition(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, fee.StatusRetired, first.Status)
		other, err = repo.GetDefinition(ctx, other.ID)
		require.NoError(t, err)
		assert.Equal(t, fee.StatusActive, other.Status)

		active.Name = "Renamed"
		_, err = repo.UpdateDefinition(ctx, active)
		assert.ErrorIs(t, err, fee.ErrDefinitionPublished)
		_, err = repo.PublishDefinition(ctx, active)
		assert.ErrorIs(t, err, fee.ErrDefinitionPublished)

		retired, err := repo.RetireDefinition(ctx, second.ID, jan1)
		require.NoError(t, err)
		assert.Equal(t, fee.StatusRetired, retired.Status)

		defs, err := repo.QueryDefinitions(ctx, fee.QueryFilter{Statuses: []fee.Status{fee.StatusRetired}})
		require.NoError(t, err)
		assert.Len(t, defs, 2)
		defs, err = repo.QueryDefinitions(ctx, fee.QueryFilter{ClassRef: "grade-2", PeriodRef: "2024"})
		require.NoError(t, err)
		require.Len(t, defs, 1)
		assert.Equal(t, other.ID, defs[0].ID)
	})
}

// RunLedgerRepository checks a ledger.Repository.
func RunLedgerRepository(t *testing.T, newRepos func(t *testing.T) Repos) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		repos := newRepos(t)
		def := publish(t, repos.Definitions, "grade-1", "2024")

		l := newLedger(def, "student-1")
		created, err := repos.Ledgers.CreateLedger(ctx, l)
		require.NoError(t, err)
		assert.Equal(t, 1, created.Version)

		got, err := repos.Ledgers.GetLedger(ctx, l.ID)
		require.NoError(t, err)
		require.NoError(t, ledger.CheckInvariants(got))
		assert.Equal(t, 1, got.Version)
		assert.Equal(t, "student-1", got.StudentRef)
		assert.Equal(t, def.ID, got.DefinitionID)
		assert.Equal(t, ledger.StatusNotStarted, got.Status)
		assert.Equal(t, testutil.Date(2024, time.January, 5), got.NextDueDate)
		assert.True(t, got.ClosedAt.IsZero())
		assert.Equal(t, jan1, got.CreatedAt)
		assertDec(t, "12000", got.Balance)
		assertDec(t, "3000", got.NextDueAmount)
		require.Len(t, got.Installments, 4)
		assert.Equal(t, "Q4", got.Installments[3].Name)
		assert.Empty(t, got.Payments)

		byStudent, err := repos.Ledgers.GetLedgerFor(ctx, "student-1", "2024")
		require.NoError(t, err)
		assert.Equal(t, l.ID, byStudent.ID)

		_, err = repos.Ledgers.CreateLedger(ctx, newLedger(def, "student-1"))
		assert.ErrorIs(t, err, ledger.ErrDuplicateLedger)
		_, err = repos.Ledgers.GetLedger(ctx, uuid.New())
		assert.ErrorIs(t, err, ledger.ErrLedgerNotFound)
		_, err = repos.Ledgers.GetLedgerFor(ctx, "student-2", "2024")
		assert.ErrorIs(t, err, ledger.ErrLedgerNotFound)
	})

	t.Run("versioned updates", func(t *testing.T) {
		repos := newRepos(t)
		def := publish(t, repos.Definitions, "grade-1", "2024")
		l, err := repos.Ledgers.CreateLedger(ctx, newLedger(def, "student-1"))
		require.NoError(t, err)

		stale := l.Clone()
		pmt := payment(t, &l, "4500", "")
		saved, err := repos.Ledgers.UpdateLedger(ctx, l)
		require.NoError(t, err)
		assert.Equal(t, 2, saved.Version)

		payment(t, &stale, "100", "")
		_, err = repos.Ledgers.UpdateLedger(ctx, stale)
		assert.ErrorIs(t, err, ledger.ErrConcurrentUpdate)

		got, err := repos.Ledgers.GetLedger(ctx, l.ID)
		require.NoError(t, err)
		require.NoError(t, ledger.CheckInvariants(got))
		assert.Equal(t, 2, got.Version)
		assertDec(t, "7500", got.Balance)
		require.Len(t, got.Payments, 1)
		assert.Equal(t, pmt.ID, got.Payments[0].ID)
		assert.Equal(t, testutil.Staff, got.Payments[0].Collector)
		require.Len(t, got.Payments[0].Allocations, 2)
		assertDec(t, "1500", got.Payments[0].Allocations[1].PrincipalApplied)

		_, err = ledger.RefundPayment(&got, pmt.ID, "bounced", testutil.Staff, jan1)
		require.NoError(t, err)
		_, err = repos.Ledgers.UpdateLedger(ctx, got)
		require.NoError(t, err)
		got, err = repos.Ledgers.GetLedger(ctx, l.ID)
		require.NoError(t, err)
		require.NoError(t, ledger.CheckInvariants(got))
		assert.True(t, got.Payments[0].IsRefunded())
		assert.Equal(t, "bounced", got.Payments[0].RefundReason)
		assert.Equal(t, 3, got.Version)

		unknown := newLedger(def, "student-2")
		_, err = repos.Ledgers.UpdateLedger(ctx, unknown)
		assert.ErrorIs(t, err, ledger.ErrLedgerNotFound)
	})

	t.Run("payment references are unique", func(t *testing.T) {
		repos := newRepos(t)
		def := publish(t, repos.Definitions, "grade-1", "2024")
		a, err := repos.Ledgers.CreateLedger(ctx, newLedger(def, "student-1"))
		require.NoError(t, err)
		b, err := repos.Ledgers.CreateLedger(ctx, newLedger(def, "student-2"))
		require.NoError(t, err)

		pmt := payment(t, &a, "1000", "MPESA-1")
		_, err = repos.Ledgers.UpdateLedger(ctx, a)
		require.NoError(t, err)

		payment(t, &b, "1000", "MPESA-1")
		_, err = repos.Ledgers.UpdateLedger(ctx, b)
		assert.ErrorIs(t, err, ledger.ErrDuplicatePaymentReference)

		got, err := repos.Ledgers.GetPaymentByReference(ctx, "MPESA-1")
		require.NoError(t, err)
		assert.Equal(t, pmt.ID, got.ID)
		assert.Equal(t, a.ID, got.LedgerID)
		_, err = repos.Ledgers.GetPaymentByReference(ctx, "MPESA-2")
		assert.ErrorIs(t, err, ledger.ErrPaymentNotFound)

		b, err = repos.Ledgers.GetLedger(ctx, b.ID)
		require.NoError(t, err)
		assert.Empty(t, b.Payments)
		assert.Equal(t, 1, b.Version)
	})

	t.Run("replace", func(t *testing.T) {
		repos := newRepos(t)
		def := publish(t, repos.Definitions, "grade-1", "2024")
		old, err := repos.Ledgers.CreateLedger(ctx, newLedger(def, "student-1"))
		require.NoError(t, err)

		l := newLedger(def, "student-1")
		old.Status = ledger.StatusCancelled
		old.ClosedReason = "superseded by ledger " + l.ID.String()
		old.ClosedBy = testutil.Staff
		old.ClosedAt = jan1
		l, err = repos.Ledgers.ReplaceLedger(ctx, old, l)
		require.NoError(t, err)
		assert.Equal(t, 1, l.Version)

		got, err := repos.Ledgers.GetLedgerFor(ctx, "student-1", "2024")
		require.NoError(t, err)
		assert.Equal(t, l.ID, got.ID)

		old, err = repos.Ledgers.GetLedger(ctx, old.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusCancelled, old.Status)
		assert.Equal(t, testutil.Staff, old.ClosedBy)
		assert.Equal(t, jan1, old.ClosedAt)
		assert.Equal(t, 2, old.Version)

		_, err = repos.Ledgers.ReplaceLedger(ctx, old, newLedger(def, "student-1"))
		assert.ErrorIs(t, err, ledger.ErrDuplicateLedger)
	})

	t.Run("query", func(t *testing.T) {
		repos := newRepos(t)
		g1 := publish(t, repos.Definitions, "grade-1", "2024")
		g2 := publish(t, repos.Definitions, "grade-2", "2024")

		for i, ref := range []string{"s-1", "s-2", "s-3"} {
			l := newLedger(g1, ref)
			l.CreatedAt = jan1.Add(time.Duration(i) * time.Hour)
			if ref == "s-2" {
				payment(t, &l, "12000", "")
			}
			_, err := repos.Ledgers.CreateLedger(ctx, l)
			require.NoError(t, err)
		}
		l := newLedger(g2, "s-4")
		l.CreatedAt = jan1.Add(3 * time.Hour)
		payment(t, &l, "5000", "")
		_, err := repos.Ledgers.CreateLedger(ctx, l)
		require.NoError(t, err)

		refs := func(ledgers []ledger.Ledger) []string {
			out := make([]string, 0, len(ledgers))
			for _, l := range ledgers {
				out = append(out, l.StudentRef)
			}
			return out
		}

		tests := []struct {
			name   string
			filter ledger.QueryFilter
			want   []string
		}{
			{name: "all", want: []string{"s-1", "s-2", "s-3", "s-4"}},
			{name: "class", filter: ledger.QueryFilter{ClassRef: "grade-1"}, want: []string{"s-1", "s-2", "s-3"}},
			{name: "student", filter: ledger.QueryFilter{StudentRef: "s-3", PeriodRef: "2024"}, want: []string{"s-3"}},
			{name: "open", filter: ledger.QueryFilter{Statuses: ledger.OpenStatuses}, want: []string{"s-1", "s-3", "s-4"}},
			{
				name:   "by balance",
				filter: ledger.QueryFilter{Ordering: []core.DBOrdering{{Field: "balance", Ascending: true}}},
				want:   []string{"s-2", "s-4", "s-1", "s-3"},
			},
			{
				name:   "by student, descending",
				filter: ledger.QueryFilter{Ordering: []core.DBOrdering{{Field: "student_ref"}}},
				want:   []string{"s-4", "s-3", "s-2", "s-1"},
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := repos.Ledgers.QueryLedgers(ctx, tt.filter)
				require.NoError(t, err)
				assert.Equal(t, tt.want, refs(got))
			})
		}
	})
}

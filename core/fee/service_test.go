package fee_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/feeledger/core"
	"github.com/trezcool/feeledger/core/fee"
	inmemdb "github.com/trezcool/feeledger/storage/database/inmem"
	"github.com/trezcool/feeledger/testutil"
)

func setup(t *testing.T) *fee.Service {
	testutil.MockNow(t, &fee.NowFunc, testutil.Date(2024, time.January, 1))
	return fee.NewService(inmemdb.NewFeeDefinitionRepository(inmemdb.Open()), testutil.Logger(t))
}

func TestService_Create(t *testing.T) {
	svc := setup(t)
	ctx := context.Background()

	valid := testutil.QuarterlyDefinition("grade-1", "2024")

	tests := []struct {
		name       string
		mutate     func(nd *fee.NewDefinition)
		wantFields []string
	}{
		{name: "valid"},
		{
			name:       "missing refs",
			mutate:     func(nd *fee.NewDefinition) { nd.ClassRef, nd.PeriodRef = "", " " },
			wantFields: []string{"class_ref", "period_ref"},
		},
		{
			name:       "invalid ref",
			mutate:     func(nd *fee.NewDefinition) { nd.ClassRef = "grade 1" },
			wantFields: []string{"class_ref"},
		},
		{
			name:       "no components",
			mutate:     func(nd *fee.NewDefinition) { nd.Components = nil },
			wantFields: []string{"components"},
		},
		{
			name: "duplicate component",
			mutate: func(nd *fee.NewDefinition) {
				nd.Components = append(nd.Components, fee.Component{Name: "Tuition", Amount: testutil.Dec("1")})
			},
			wantFields: []string{"components"},
		},
		{
			name:       "non-positive component amount",
			mutate:     func(nd *fee.NewDefinition) { nd.Components[1].Amount = testutil.Dec("0") },
			wantFields: []string{"components[1].amount"},
		},
		{
			name:       "plan does not add up to 100",
			mutate:     func(nd *fee.NewDefinition) { nd.Plans[0].Entries[3].Percentage = testutil.Dec("20") },
			wantFields: []string{"plans[0].entries"},
		},
		{
			name:       "duplicate installment number",
			mutate:     func(nd *fee.NewDefinition) { nd.Plans[0].Entries[3].Number = 3 },
			wantFields: []string{"plans[0].entries"},
		},
		{
			name:       "percentage discount over 100",
			mutate:     func(nd *fee.NewDefinition) { nd.DiscountRules[0].Value = testutil.Dec("120") },
			wantFields: []string{"discount_rules[0].value"},
		},
		{
			name:       "unknown discount type",
			mutate:     func(nd *fee.NewDefinition) { nd.DiscountRules[1].Type = "bogus" },
			wantFields: []string{"discount_rules[1].type"},
		},
		{
			name:       "discount on unknown component",
			mutate:     func(nd *fee.NewDefinition) { nd.DiscountRules[0].Components = []string{"Lunch"} },
			wantFields: []string{"discount_rules"},
		},
		{
			name: "discount window reversed",
			mutate: func(nd *fee.NewDefinition) {
				nd.DiscountRules[1].ValidFrom = testutil.Date(2024, time.March, 1)
			},
			wantFields: []string{"discount_rules[1].valid_to"},
		},
		{
			name:       "per day late fee without amount",
			mutate:     func(nd *fee.NewDefinition) { nd.LateFeePolicy.PerDayAmount = testutil.Dec("0") },
			wantFields: []string{"late_fee_policy.per_day_amount"},
		},
		{
			name:       "fixed date start without date",
			mutate:     func(nd *fee.NewDefinition) { nd.LateFeePolicy.StartMode = fee.StartFixedDate },
			wantFields: []string{"late_fee_policy.fixed_date"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nd := testutil.QuarterlyDefinition(valid.ClassRef, valid.PeriodRef)
			if tt.mutate != nil {
				tt.mutate(&nd)
			}
			def, err := svc.Create(ctx, nd)
			if len(tt.wantFields) == 0 {
				require.NoError(t, err)
				assert.Equal(t, fee.StatusDraft, def.Status)
				assert.Equal(t, "Installment 1", def.Plans[1].Entries[0].Name)
				assert.True(t, fee.Total(def.Components[:2]).Equal(testutil.Dec("12000")))
				return
			}

			require.Error(t, err)
			var verr *core.ValidationError
			require.ErrorAs(t, err, &verr)
			got := make([]string, 0, len(verr.Fields))
			for _, f := range verr.Fields {
				got = append(got, f.Field)
			}
			for _, want := range tt.wantFields {
				assert.Contains(t, got, want)
			}
		})
	}
}

func TestService_lifecycle(t *testing.T) {
	svc := setup(t)
	ctx := context.Background()

	first := testutil.PublishDefinition(t, svc, testutil.QuarterlyDefinition("grade-1", "2024"))
	assert.True(t, first.IsActive())
	assert.False(t, first.PublishedAt.IsZero())

	_, err := svc.UpdateDraft(ctx, first.ID, testutil.QuarterlyDefinition("grade-1", "2024"))
	assert.ErrorIs(t, err, fee.ErrDefinitionPublished)
	_, err = svc.Publish(ctx, first.ID)
	assert.ErrorIs(t, err, fee.ErrDefinitionPublished)

	draft, err := svc.Create(ctx, testutil.QuarterlyDefinition("grade-1", "2024"))
	require.NoError(t, err)
	nd := testutil.QuarterlyDefinition("grade-1", "2024")
	nd.Name = "Tuition 2024 (revised)"
	draft, err = svc.UpdateDraft(ctx, draft.ID, nd)
	require.NoError(t, err)
	assert.Equal(t, "Tuition 2024 (revised)", draft.Name)

	second, err := svc.Publish(ctx, draft.ID)
	require.NoError(t, err)

	active, err := svc.GetActive(ctx, "grade-1", "2024")
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	first, err = svc.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, fee.StatusRetired, first.Status)

	retired, err := svc.Query(ctx, fee.QueryFilter{ClassRef: "grade-1", Statuses: []fee.Status{fee.StatusRetired}})
	require.NoError(t, err)
	require.Len(t, retired, 1)
	assert.Equal(t, first.ID, retired[0].ID)

	_, err = svc.Retire(ctx, second.ID)
	require.NoError(t, err)
	_, err = svc.Retire(ctx, second.ID)
	assert.ErrorIs(t, err, fee.ErrDefinitionNotActive)
	_, err = svc.GetActive(ctx, "grade-1", "2024")
	assert.ErrorIs(t, err, fee.ErrDefinitionNotFound)
}

func TestDefinition_Charges(t *testing.T) {
	def := fee.Definition{Components: testutil.QuarterlyDefinition("grade-1", "2024").Components}

	tests := []struct {
		name      string
		selected  []string
		wantTotal string
		wantErr   error
	}{
		{name: "mandatory only", wantTotal: "12000"},
		{name: "with optional", selected: []string{"Transport"}, wantTotal: "15000"},
		{name: "unknown component", selected: []string{"Lunch"}, wantErr: fee.ErrUnknownComponent},
		{name: "mandatory component selected", selected: []string{"Tuition"}, wantErr: fee.ErrUnknownComponent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := def.Charges(tt.selected)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, fee.Total(got).Equal(testutil.Dec(tt.wantTotal)), "total = %s", fee.Total(got))
		})
	}
}

func TestComponent_Gross(t *testing.T) {
	c := fee.Component{Name: "Books", Amount: testutil.Dec("1000"), TaxPercentage: testutil.Dec("16")}
	assert.True(t, c.Gross().Equal(testutil.Dec("1160")))
}

func TestDiscountRule_ValidOn(t *testing.T) {
	r := fee.DiscountRule{ValidFrom: testutil.Date(2024, time.January, 1), ValidTo: testutil.Date(2024, time.January, 31)}
	assert.False(t, r.ValidOn(testutil.Date(2023, time.December, 31)))
	assert.True(t, r.ValidOn(testutil.Date(2024, time.January, 1)))
	assert.True(t, r.ValidOn(testutil.Date(2024, time.January, 31)))
	assert.False(t, r.ValidOn(testutil.Date(2024, time.February, 1)))
	assert.True(t, fee.DiscountRule{}.ValidOn(testutil.Date(2030, time.June, 1)))
}

func TestLateFeePolicy_StartDate(t *testing.T) {
	due := testutil.Date(2024, time.January, 5)
	grace := fee.LateFeePolicy{Type: fee.LateFeeFlat, GraceDays: 3}
	assert.Equal(t, testutil.Date(2024, time.January, 8), grace.StartDate(due))

	fixed := fee.LateFeePolicy{Type: fee.LateFeeFlat, StartMode: fee.StartFixedDate, FixedDate: testutil.Date(2024, time.February, 1)}
	assert.Equal(t, testutil.Date(2024, time.February, 1), fixed.StartDate(due))
	assert.Equal(t, testutil.Date(2024, time.April, 5), fixed.StartDate(testutil.Date(2024, time.April, 5)))
}

func TestParseDiscountType(t *testing.T) {
	got, err := fee.ParseDiscountType("fixed")
	require.NoError(t, err)
	assert.Equal(t, fee.DiscountFixed, got)

	_, err = fee.ParseDiscountType("bogo")
	assert.Error(t, err)
}

// Package testutil holds fixtures shared by the package tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/trezcool/feeledger/core"
	"github.com/trezcool/feeledger/core/fee"
	logsvc "github.com/trezcool/feeledger/services/logger"
)

// Staff is the actor recorded by test mutations.
var Staff = core.Actor{ID: "bursar-1", Name: "Bursar"}

// Date returns midnight UTC of the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Dec parses a decimal literal, panicking on malformed input.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func Config() *core.Config {
	return &core.Config{
		Debug:    true,
		TestMode: true,
		Env:      "TEST",
		Build:    "test",
		AppName:  "FeeLedger",
		Billing: core.BillingConfig{
			MaxUpdateRetries: 3,
			BatchWorkers:     4,
			FallbackDueDays:  30,
			Currency:         "KES",
		},
	}
}

// Logger returns a logger writing to the test output, with rollbar disabled.
func Logger(t testing.TB) core.Logger {
	logger := logsvc.NewRollbarLogger(zaptest.NewLogger(t), Config())
	logger.Enable(false)
	return logger
}

// QuarterlyDefinition is a 12000 fee (tuition 10000 + activities 2000, transport 3000 optional)
// with a quarterly and a full-payment plan, two discount rules and a per-day late fee of 10
// after 3 days of grace.
func QuarterlyDefinition(classRef, periodRef string) fee.NewDefinition {
	return fee.NewDefinition{
		ClassRef:  classRef,
		PeriodRef: periodRef,
		Name:      "Tuition " + periodRef,
		Currency:  "KES",
		Components: []fee.Component{
			{Name: "Tuition", Amount: Dec("10000")},
			{Name: "Activities", Amount: Dec("2000")},
			{Name: "Transport", Amount: Dec("3000"), Optional: true},
		},
		Plans: []fee.Plan{
			{
				Name: "Quarterly",
				Entries: []fee.PlanEntry{
					{Number: 1, Name: "Q1", Month: time.January, Day: 5, Percentage: Dec("25")},
					{Number: 2, Name: "Q2", Month: time.April, Day: 5, Percentage: Dec("25")},
					{Number: 3, Name: "Q3", Month: time.July, Day: 5, Percentage: Dec("25")},
					{Number: 4, Name: "Q4", Month: time.October, Day: 5, Percentage: Dec("25")},
				},
			},
			{
				Name:    "Full",
				Entries: []fee.PlanEntry{{Number: 1, Month: time.January, Day: 5, Percentage: Dec("100")}},
			},
		},
		DiscountRules: []fee.DiscountRule{
			{Name: "Sibling", Type: fee.DiscountPercentage, Value: Dec("10"), Components: []string{"Tuition"}, MaxAmount: Dec("2000")},
			{Name: "EarlyBird", Type: fee.DiscountFixed, Value: Dec("500"), ValidTo: Date(2024, time.January, 31)},
		},
		LateFeePolicy: fee.LateFeePolicy{
			Type:         fee.LateFeePerDay,
			GraceDays:    3,
			StartMode:    fee.StartAfterGrace,
			PerDayAmount: Dec("10"),
		},
	}
}

// PublishDefinition creates nd and publishes it, failing the test on error.
func PublishDefinition(t testing.TB, svc *fee.Service, nd fee.NewDefinition) fee.Definition {
	t.Helper()
	ctx := context.Background()
	def, err := svc.Create(ctx, nd)
	if err != nil {
		t.Fatalf("PublishDefinition() create failed: %v", err)
	}
	if def, err = svc.Publish(ctx, def.ID); err != nil {
		t.Fatalf("PublishDefinition() publish failed: %v", err)
	}
	return def
}

// MockNow pins fn to the given time until the test ends.
func MockNow(t testing.TB, fn *func() time.Time, now time.Time) {
	t.Helper()
	orig := *fn
	*fn = func() time.Time { return now }
	t.Cleanup(func() { *fn = orig })
}

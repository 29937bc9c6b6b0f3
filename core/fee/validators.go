package fee

import (
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/trezcool/feeledger/core"
)

var (
	hundred = decimal.NewFromInt(100)

	planSumTag  = "plansum"
	planSumText = "{0} percentages must add up to 100"

	policyAmountTag  = "policyamount"
	policyAmountText = "{0} is required for this late fee type"

	fixedDateTag  = "fixeddate"
	fixedDateText = "{0} is required when late fees start on a fixed date"

	ruleComponentTag  = "rulecomponent"
	ruleComponentText = "{0} must only name components of this fee"

	ruleWindowTag  = "rulewindow"
	ruleWindowText = "{0} must not be before valid_from"
)

func init() {
	core.Validate.RegisterStructValidation(planStructValidation, Plan{})
	core.Validate.RegisterStructValidation(lateFeePolicyStructValidation, LateFeePolicy{})
	core.Validate.RegisterStructValidation(discountRuleStructValidation, DiscountRule{})
	core.Validate.RegisterStructValidation(definitionStructValidation, NewDefinition{})

	core.RegisterCustomTranslation(planSumTag, planSumText)
	core.RegisterCustomTranslation(policyAmountTag, policyAmountText)
	core.RegisterCustomTranslation(fixedDateTag, fixedDateText)
	core.RegisterCustomTranslation(ruleComponentTag, ruleComponentText)
	core.RegisterCustomTranslation(ruleWindowTag, ruleWindowText)
}

// planStructValidation checks that the plan splits exactly 100% of the fee.
func planStructValidation(sl validator.StructLevel) {
	plan := sl.Current().Interface().(Plan)
	if len(plan.Entries) == 0 {
		return
	}
	sum := decimal.Zero
	for _, e := range plan.Entries {
		sum = sum.Add(e.Percentage)
	}
	if !sum.Equal(hundred) {
		sl.ReportError(plan.Entries, "entries", "Entries", planSumTag, "")
	}
}

// lateFeePolicyStructValidation checks the amount matching the policy type and the fixed start date.
func lateFeePolicyStructValidation(sl validator.StructLevel) {
	p := sl.Current().Interface().(LateFeePolicy)
	switch p.Type {
	case LateFeePerDay:
		if !p.PerDayAmount.IsPositive() {
			sl.ReportError(p.PerDayAmount, "per_day_amount", "PerDayAmount", policyAmountTag, "")
		}
	case LateFeeFlat:
		if !p.FlatAmount.IsPositive() {
			sl.ReportError(p.FlatAmount, "flat_amount", "FlatAmount", policyAmountTag, "")
		}
	case LateFeePercentage:
		if !p.Percentage.IsPositive() {
			sl.ReportError(p.Percentage, "percentage", "Percentage", policyAmountTag, "")
		}
	}
	if p.StartMode == StartFixedDate && p.FixedDate.IsZero() {
		sl.ReportError(p.FixedDate, "fixed_date", "FixedDate", fixedDateTag, "")
	}
}

func discountRuleStructValidation(sl validator.StructLevel) {
	r := sl.Current().Interface().(DiscountRule)
	if r.Type == DiscountPercentage && r.Value.GreaterThan(hundred) {
		sl.ReportError(r.Value, "value", "Value", "lte", "100")
	}
	if !r.ValidFrom.IsZero() && !r.ValidTo.IsZero() && r.ValidTo.Before(r.ValidFrom) {
		sl.ReportError(r.ValidTo, "valid_to", "ValidTo", ruleWindowTag, "")
	}
}

// definitionStructValidation checks that discount rules only reference known components.
func definitionStructValidation(sl validator.StructLevel) {
	nd := sl.Current().Interface().(NewDefinition)
	names := lo.Map(nd.Components, func(c Component, _ int) string { return c.Name })
	for _, r := range nd.DiscountRules {
		if missing, _ := lo.Difference(r.Components, names); len(missing) > 0 {
			sl.ReportError(nd.DiscountRules, "discount_rules", "DiscountRules", ruleComponentTag, "")
			return
		}
	}
}

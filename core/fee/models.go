package fee

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/trezcool/feeledger/core/money"
)

// Definition statuses
const (
	StatusDraft   Status = "draft"
	StatusActive  Status = "active"
	StatusRetired Status = "retired"
)

// Discount types
const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Late fee types & start modes
const (
	LateFeePerDay     LateFeeType = "per_day"
	LateFeeFlat       LateFeeType = "flat"
	LateFeePercentage LateFeeType = "percentage"

	StartAfterGrace StartMode = "after_grace"
	StartFixedDate  StartMode = "fixed_date"
)

type (
	Status       string
	DiscountType string
	LateFeeType  string
	StartMode    string
)

// ParseDiscountType only accepts the two known discount variants.
func ParseDiscountType(s string) (DiscountType, error) {
	switch dt := DiscountType(s); dt {
	case DiscountPercentage, DiscountFixed:
		return dt, nil
	}
	return "", errors.Errorf("unknown discount type %q", s)
}

type Component struct {
	Name          string          `json:"name" validate:"required,max=100"`
	Amount        decimal.Decimal `json:"amount" validate:"gt=0"`
	Optional      bool            `json:"optional"`
	TaxPercentage decimal.Decimal `json:"tax_percentage" validate:"gte=0,lte=100"`
}

// Gross is the component amount including tax.
func (c Component) Gross() decimal.Decimal {
	return money.WithTax(c.Amount, c.TaxPercentage)
}

type PlanEntry struct {
	Number     int             `json:"number" validate:"gte=1"`
	Name       string          `json:"name" validate:"max=100"`
	Month      time.Month      `json:"month" validate:"gte=1,lte=12"`
	Day        int             `json:"day" validate:"gte=1,lte=31"`
	Percentage decimal.Decimal `json:"percentage" validate:"gt=0,lte=100"`
}

type Plan struct {
	Name    string      `json:"name" validate:"required,max=50"`
	Entries []PlanEntry `json:"entries" validate:"required,min=1,unique=Number,dive"`
}

type DiscountRule struct {
	Name string       `json:"name" validate:"required,max=100"`
	Type DiscountType `json:"type" validate:"required,oneof=percentage fixed"`
	// Value is a percentage for DiscountPercentage and an amount for DiscountFixed.
	Value decimal.Decimal `json:"value" validate:"gt=0"`
	// Components restricts the discount base; empty means the whole fee.
	Components []string        `json:"components" validate:"dive,required"`
	MaxAmount  decimal.Decimal `json:"max_amount" validate:"gte=0"`
	ValidFrom  time.Time       `json:"valid_from"`
	ValidTo    time.Time       `json:"valid_to"`
}

// ValidOn reports whether t falls in the rule's validity window. Zero bounds are open.
func (r DiscountRule) ValidOn(t time.Time) bool {
	if !r.ValidFrom.IsZero() && t.Before(r.ValidFrom) {
		return false
	}
	if !r.ValidTo.IsZero() && t.After(r.ValidTo) {
		return false
	}
	return true
}

type LateFeePolicy struct {
	// Type is empty when the definition charges no late fees.
	Type         LateFeeType     `json:"type" validate:"omitempty,oneof=per_day flat percentage"`
	GraceDays    int             `json:"grace_days" validate:"gte=0"`
	StartMode    StartMode       `json:"start_mode" validate:"omitempty,oneof=after_grace fixed_date"`
	FixedDate    time.Time       `json:"fixed_date"`
	PerDayAmount decimal.Decimal `json:"per_day_amount" validate:"gte=0"`
	FlatAmount   decimal.Decimal `json:"flat_amount" validate:"gte=0"`
	Percentage   decimal.Decimal `json:"percentage" validate:"gte=0,lte=100"`
	RoundingUnit decimal.Decimal `json:"rounding_unit" validate:"gte=0"`
	// MaxFeeCap bounds the late fee of one installment; zero means uncapped.
	MaxFeeCap decimal.Decimal `json:"max_fee_cap" validate:"gte=0"`
}

func (p LateFeePolicy) Enabled() bool {
	return p.Type != ""
}

// StartDate is the day from which an installment due on dueDate starts accruing late fees.
// In fixed_date mode an installment never accrues before its own due date.
func (p LateFeePolicy) StartDate(dueDate time.Time) time.Time {
	if p.StartMode == StartFixedDate {
		if dueDate.After(p.FixedDate) {
			return dueDate
		}
		return p.FixedDate
	}
	return dueDate.AddDate(0, 0, p.GraceDays)
}

type Definition struct {
	ID            uuid.UUID      `json:"id"`
	ClassRef      string         `json:"class_ref"`
	PeriodRef     string         `json:"period_ref"`
	Name          string         `json:"name"`
	Currency      string         `json:"currency"`
	Components    []Component    `json:"components"`
	Plans         []Plan         `json:"plans"`
	DiscountRules []DiscountRule `json:"discount_rules"`
	LateFeePolicy LateFeePolicy  `json:"late_fee_policy"`
	Status        Status         `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`   // UTC
	UpdatedAt     time.Time      `json:"updated_at"`   // UTC
	PublishedAt   time.Time      `json:"published_at"` // UTC
}

func (d Definition) IsActive() bool {
	return d.Status == StatusActive
}

// Plan returns the installment plan called name, or nil.
func (d Definition) Plan(name string) *Plan {
	p, ok := lo.Find(d.Plans, func(p Plan) bool { return p.Name == name })
	if !ok {
		return nil
	}
	return &p
}

func (d Definition) DiscountRule(name string) (DiscountRule, error) {
	r, ok := lo.Find(d.DiscountRules, func(r DiscountRule) bool { return r.Name == name })
	if !ok {
		return DiscountRule{}, errors.Wrapf(ErrDiscountRuleNotFound, "%q", name)
	}
	return r, nil
}

// Charges returns the mandatory components plus the selected optional ones.
func (d Definition) Charges(selected []string) ([]Component, error) {
	for _, name := range selected {
		c, ok := lo.Find(d.Components, func(c Component) bool { return c.Name == name })
		if !ok || !c.Optional {
			return nil, errors.Wrapf(ErrUnknownComponent, "%q", name)
		}
	}
	return lo.Filter(d.Components, func(c Component, _ int) bool {
		return !c.Optional || lo.Contains(selected, c.Name)
	}), nil
}

// Total sums the gross amounts of components.
func Total(components []Component) decimal.Decimal {
	total := decimal.Zero
	for _, c := range components {
		total = total.Add(c.Gross())
	}
	return total
}

type NewDefinition struct {
	ClassRef      string         `json:"class_ref" validate:"required,ref,max=100"`
	PeriodRef     string         `json:"period_ref" validate:"required,ref,max=100"`
	Name          string         `json:"name" validate:"required,max=200"`
	Currency      string         `json:"currency" validate:"omitempty,len=3"`
	Components    []Component    `json:"components" validate:"required,min=1,unique=Name,dive"`
	Plans         []Plan         `json:"plans" validate:"required,min=1,unique=Name,dive"`
	DiscountRules []DiscountRule `json:"discount_rules" validate:"unique=Name,dive"`
	LateFeePolicy LateFeePolicy  `json:"late_fee_policy"`
}

type QueryFilter struct {
	ClassRef  string
	PeriodRef string
	Statuses  []Status
}

func (f QueryFilter) Match(d Definition) bool {
	if f.ClassRef != "" && d.ClassRef != f.ClassRef {
		return false
	}
	if f.PeriodRef != "" && d.PeriodRef != f.PeriodRef {
		return false
	}
	if len(f.Statuses) > 0 && !lo.Contains(f.Statuses, d.Status) {
		return false
	}
	return true
}

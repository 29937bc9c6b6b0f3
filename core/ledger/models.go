package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/trezcool/feeledger/core"
)

// Ledger statuses
const (
	StatusNotStarted    Status = "not_started"
	StatusPartiallyPaid Status = "partially_paid"
	StatusOverdue       Status = "overdue"
	StatusPaid          Status = "paid"
	StatusWaived        Status = "waived"
	StatusCancelled     Status = "cancelled"
)

// Installment statuses
const (
	InstallmentPending       InstallmentStatus = "pending"
	InstallmentPartiallyPaid InstallmentStatus = "partially_paid"
	InstallmentPaid          InstallmentStatus = "paid"
	InstallmentOverdue       InstallmentStatus = "overdue"
	InstallmentWaived        InstallmentStatus = "waived"
)

// Payment modes
const (
	ModeCash         PaymentMode = "cash"
	ModeBankTransfer PaymentMode = "bank_transfer"
	ModeCheque       PaymentMode = "cheque"
	ModeGateway      PaymentMode = "gateway"
	ModeOther        PaymentMode = "other"
)

// Discount kinds
const (
	KindRule       DiscountKind = "rule"
	KindConcession DiscountKind = "concession"
)

type (
	Status            string
	InstallmentStatus string
	PaymentMode       string
	DiscountKind      string
)

// IsTerminal reports whether payments can no longer be allocated to a ledger in this status.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusWaived || s == StatusCancelled
}

// isAdministrative reports whether s was set by staff rather than derived from balances.
func (s Status) isAdministrative() bool {
	return s == StatusWaived || s == StatusCancelled
}

type Installment struct {
	Number  int             `json:"number"`
	Name    string          `json:"name"`
	DueDate time.Time       `json:"due_date"`
	Amount  decimal.Decimal `json:"amount"`
	// PaidAmount is the principal paid, late fees excluded.
	PaidAmount decimal.Decimal `json:"paid_amount"`
	// Credit is the principal forgiven by discounts and concessions.
	Credit      decimal.Decimal   `json:"credit"`
	LateFee     decimal.Decimal   `json:"late_fee"`
	LateFeePaid decimal.Decimal   `json:"late_fee_paid"`
	Status      InstallmentStatus `json:"status"`
}

func (i Installment) OutstandingPrincipal() decimal.Decimal {
	return i.Amount.Sub(i.PaidAmount).Sub(i.Credit)
}

func (i Installment) OutstandingLateFee() decimal.Decimal {
	return i.LateFee.Sub(i.LateFeePaid)
}

// Outstanding is what must still be paid to settle the installment.
func (i Installment) Outstanding() decimal.Decimal {
	return i.OutstandingPrincipal().Add(i.OutstandingLateFee())
}

// IsOpen reports whether the installment still takes payments.
func (i Installment) IsOpen() bool {
	return i.Status != InstallmentPaid && i.Status != InstallmentWaived
}

// ComponentCharge is the snapshot of a fee component at assignment time.
type ComponentCharge struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"` // tax included
}

type AppliedDiscount struct {
	ID        uuid.UUID       `json:"id"`
	Kind      DiscountKind    `json:"kind"`
	RuleName  string          `json:"rule_name,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason,omitempty"`
	AppliedBy core.Actor      `json:"applied_by"`
	AppliedAt time.Time       `json:"applied_at"`
}

type Allocation struct {
	InstallmentNumber int             `json:"installment_number"`
	PrincipalApplied  decimal.Decimal `json:"principal_applied"`
	LateFeeApplied    decimal.Decimal `json:"late_fee_applied"`
}

func (a Allocation) Total() decimal.Decimal {
	return a.PrincipalApplied.Add(a.LateFeeApplied)
}

type Payment struct {
	ID          uuid.UUID       `json:"id"`
	LedgerID    uuid.UUID       `json:"ledger_id"`
	Amount      decimal.Decimal `json:"amount"`
	PaidAt      time.Time       `json:"paid_at"`
	Mode        PaymentMode     `json:"mode"`
	Collector   core.Actor      `json:"collector"`
	Reference   string          `json:"reference,omitempty"`
	Note        string          `json:"note,omitempty"`
	Allocations []Allocation    `json:"allocations"`
	CreatedAt   time.Time       `json:"created_at"`

	RefundedAt   time.Time  `json:"refunded_at"`
	RefundedBy   core.Actor `json:"refunded_by"`
	RefundReason string     `json:"refund_reason,omitempty"`
}

func (p Payment) IsRefunded() bool {
	return !p.RefundedAt.IsZero()
}

type Ledger struct {
	ID           uuid.UUID         `json:"id"`
	StudentRef   string            `json:"student_ref"`
	ClassRef     string            `json:"class_ref"`
	PeriodRef    string            `json:"period_ref"`
	DefinitionID uuid.UUID         `json:"definition_id"`
	PlanName     string            `json:"plan_name"`
	Currency     string            `json:"currency"`
	Components   []ComponentCharge `json:"components"`
	Installments []Installment     `json:"installments"`

	TotalFeeAmount   decimal.Decimal `json:"total_fee_amount"`
	TotalDiscount    decimal.Decimal `json:"total_discount"`
	ConcessionAmount decimal.Decimal `json:"concession_amount"`
	TotalLateFee     decimal.Decimal `json:"total_late_fee"`
	TotalPaid        decimal.Decimal `json:"total_paid"`
	Balance          decimal.Decimal `json:"balance"`

	Status        Status          `json:"status"`
	NextDueDate   time.Time       `json:"next_due_date"`
	NextDueAmount decimal.Decimal `json:"next_due_amount"`
	LateFeesAsOf  time.Time       `json:"late_fees_as_of"`

	Discounts []AppliedDiscount `json:"discounts"`
	Payments  []Payment         `json:"payments"`

	ClosedReason string     `json:"closed_reason,omitempty"`
	ClosedBy     core.Actor `json:"closed_by"`
	ClosedAt     time.Time  `json:"closed_at"`

	// Version is bumped by the repository on every successful update.
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// Clone returns a deep copy of l.
func (l Ledger) Clone() Ledger {
	c := l
	c.Components = append([]ComponentCharge(nil), l.Components...)
	c.Installments = append([]Installment(nil), l.Installments...)
	c.Discounts = append([]AppliedDiscount(nil), l.Discounts...)
	if l.Payments == nil {
		return c
	}
	c.Payments = make([]Payment, len(l.Payments))
	for i, p := range l.Payments {
		p.Allocations = append([]Allocation(nil), p.Allocations...)
		c.Payments[i] = p
	}
	return c
}

func (l *Ledger) installment(number int) *Installment {
	for i := range l.Installments {
		if l.Installments[i].Number == number {
			return &l.Installments[i]
		}
	}
	return nil
}

// Payment returns the payment with the given id.
func (l Ledger) Payment(id uuid.UUID) (Payment, bool) {
	return lo.Find(l.Payments, func(p Payment) bool { return p.ID == id })
}

// PaymentByReference returns the payment recorded with a gateway reference.
func (l Ledger) PaymentByReference(ref string) (Payment, bool) {
	if ref == "" {
		return Payment{}, false
	}
	return lo.Find(l.Payments, func(p Payment) bool { return p.Reference == ref })
}

// OutstandingPrincipal is the principal still to be collected across installments.
func (l Ledger) OutstandingPrincipal() decimal.Decimal {
	total := decimal.Zero
	for _, inst := range l.Installments {
		total = total.Add(inst.OutstandingPrincipal())
	}
	return total
}

// IsOverdue reports whether any open installment is past its due date, whatever the status.
// A partially paid ledger can be overdue.
func (l Ledger) IsOverdue(asOf time.Time) bool {
	if l.Status.isAdministrative() {
		return false
	}
	asOf = core.Date(asOf)
	return lo.SomeBy(l.Installments, func(inst Installment) bool {
		return inst.IsOpen() && inst.Outstanding().IsPositive() && asOf.After(inst.DueDate)
	})
}

// AssignOptions tune how a fee definition is turned into a ledger.
type AssignOptions struct {
	PlanName           string     `json:"plan_name"`
	OptionalComponents []string   `json:"optional_components"`
	ReferenceDate      time.Time  `json:"reference_date"`
	Discounts          []string   `json:"discounts"`
	Override           bool       `json:"override"`
	AssignedBy         core.Actor `json:"assigned_by"`
}

type PaymentInput struct {
	Amount    decimal.Decimal `json:"amount"`
	PaidAt    time.Time       `json:"paid_at"`
	Mode      PaymentMode     `json:"mode" validate:"required,oneof=cash bank_transfer cheque gateway other"`
	Collector core.Actor      `json:"collector"`
	Reference string          `json:"reference" validate:"max=200"`
	Note      string          `json:"note" validate:"max=500"`
}

// DiscountInput applies either a rule of the ledger's fee definition or a manual concession.
type DiscountInput struct {
	RuleName     string          `json:"rule_name"`
	ManualAmount decimal.Decimal `json:"manual_amount"`
	Reason       string          `json:"reason" validate:"max=500"`
	Actor        core.Actor      `json:"actor"`
}

type QueryFilter struct {
	StudentRef string
	ClassRef   string
	PeriodRef  string
	Statuses   []Status
	Ordering   []core.DBOrdering
}

func (f QueryFilter) Match(l Ledger) bool {
	if f.StudentRef != "" && l.StudentRef != f.StudentRef {
		return false
	}
	if f.ClassRef != "" && l.ClassRef != f.ClassRef {
		return false
	}
	if f.PeriodRef != "" && l.PeriodRef != f.PeriodRef {
		return false
	}
	if len(f.Statuses) > 0 && !lo.Contains(f.Statuses, l.Status) {
		return false
	}
	return true
}

// OpenStatuses are the statuses of ledgers still collecting payments.
var OpenStatuses = []Status{StatusNotStarted, StatusPartiallyPaid, StatusOverdue}

package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/feeledger/core"
	"github.com/trezcool/feeledger/core/fee"
)

const (
	defaultMaxRetries   = 5
	defaultBatchWorkers = 4
)

var (
	NowFunc = time.Now // mockable

	// returned by a mutation that has nothing to save
	errUnchanged = errors.New("ledger unchanged")
)

type (
	// Repository persists ledgers together with their payments. Implementations must make
	// UpdateLedger conditional on the version that was read.
	Repository interface {
		// CreateLedger fails with ErrDuplicateLedger when a ledger that is not cancelled
		// already exists for the same student and period.
		CreateLedger(ctx context.Context, l Ledger) (Ledger, error)
		// ReplaceLedger stores old (cancelled by the caller) and creates l in one step.
		ReplaceLedger(ctx context.Context, old, l Ledger) (Ledger, error)
		// UpdateLedger saves l and its payments if the stored version still equals l.Version,
		// and returns the ledger with its new version. ErrConcurrentUpdate otherwise.
		UpdateLedger(ctx context.Context, l Ledger) (Ledger, error)
		GetLedger(ctx context.Context, id uuid.UUID) (Ledger, error)
		// GetLedgerFor returns the ledger of a student for a period, cancelled ones excluded.
		GetLedgerFor(ctx context.Context, studentRef, periodRef string) (Ledger, error)
		QueryLedgers(ctx context.Context, filter QueryFilter) ([]Ledger, error)
		GetPaymentByReference(ctx context.Context, reference string) (Payment, error)
	}

	// Catalog gives access to published fee definitions.
	Catalog interface {
		Get(ctx context.Context, id uuid.UUID) (fee.Definition, error)
		GetActive(ctx context.Context, classRef, periodRef string) (fee.Definition, error)
	}

	Service struct {
		repo       Repository
		catalog    Catalog
		log        core.Logger
		scheduler  Scheduler
		maxRetries int
		workers    int
	}
)

func NewService(repo Repository, catalog Catalog, logger core.Logger, conf *core.Config) *Service {
	svc := &Service{
		repo:       repo,
		catalog:    catalog,
		log:        logger,
		scheduler:  Scheduler{FallbackDueDays: conf.Billing.FallbackDueDays},
		maxRetries: conf.Billing.MaxUpdateRetries,
		workers:    conf.Billing.BatchWorkers,
	}
	if svc.maxRetries < 0 {
		svc.maxRetries = defaultMaxRetries
	}
	if svc.workers <= 0 {
		svc.workers = defaultBatchWorkers
	}
	return svc
}

// mutate loads a ledger, applies fn and saves the result, retrying from a fresh read when
// another writer got there first.
func (svc *Service) mutate(ctx context.Context, id uuid.UUID, fn func(l *Ledger, now time.Time) error) (Ledger, error) {
	for attempt := 1; attempt <= svc.maxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return Ledger{}, err
		}

		l, err := svc.repo.GetLedger(ctx, id)
		if err != nil {
			return Ledger{}, err
		}
		now := NowFunc().UTC()
		if err = fn(&l, now); err != nil {
			if errors.Is(err, errUnchanged) {
				return l, nil
			}
			return Ledger{}, err
		}
		if err = CheckInvariants(l); err != nil {
			svc.log.Error(fmt.Sprintf("ledger %s: refusing to save: %v", id, err), err)
			return Ledger{}, err
		}

		l.UpdatedAt = now
		saved, err := svc.repo.UpdateLedger(ctx, l)
		if errors.Is(err, ErrConcurrentUpdate) {
			svc.log.Warn(fmt.Sprintf("ledger %s: version %d is stale, retrying (attempt %d)", id, l.Version, attempt))
			continue
		}
		if err != nil {
			return Ledger{}, err
		}
		return saved, nil
	}
	return Ledger{}, errors.Wrapf(ErrConcurrentUpdate, "ledger %s: gave up after %d attempts", id, svc.maxRetries+1)
}

// AssignFee creates the ledger of a student from an active fee definition.
func (svc *Service) AssignFee(ctx context.Context, studentRef string, definitionID uuid.UUID, opts AssignOptions) (Ledger, error) {
	def, err := svc.catalog.Get(ctx, definitionID)
	if err != nil {
		return Ledger{}, err
	}
	return svc.assign(ctx, studentRef, def, opts)
}

// AssignClassFee assigns the definition currently active for a class and period.
func (svc *Service) AssignClassFee(ctx context.Context, studentRef, classRef, periodRef string, opts AssignOptions) (Ledger, error) {
	def, err := svc.catalog.GetActive(ctx, classRef, periodRef)
	if err != nil {
		return Ledger{}, err
	}
	return svc.assign(ctx, studentRef, def, opts)
}

func (svc *Service) assign(ctx context.Context, studentRef string, def fee.Definition, opts AssignOptions) (Ledger, error) {
	studentRef = core.CleanString(studentRef)
	if err := core.CheckVar("student_ref", studentRef, "required,ref,max=100"); err != nil {
		return Ledger{}, err
	}
	if !def.IsActive() {
		return Ledger{}, errors.Wrapf(fee.ErrDefinitionNotActive, "definition %s is %s", def.ID, def.Status)
	}

	l, err := svc.build(studentRef, def, opts)
	if err != nil {
		return Ledger{}, err
	}

	for attempt := 1; attempt <= svc.maxRetries+1; attempt++ {
		if err = ctx.Err(); err != nil {
			return Ledger{}, err
		}

		existing, err := svc.repo.GetLedgerFor(ctx, studentRef, def.PeriodRef)
		switch {
		case errors.Is(err, ErrLedgerNotFound):
			return svc.repo.CreateLedger(ctx, l)
		case err != nil:
			return Ledger{}, err
		case !opts.Override:
			return Ledger{}, errors.Wrapf(ErrDuplicateLedger, "student %s, period %s", studentRef, def.PeriodRef)
		}

		existing.Status = StatusCancelled
		existing.ClosedReason = fmt.Sprintf("superseded by ledger %s", l.ID)
		existing.ClosedBy = opts.AssignedBy
		existing.ClosedAt = l.CreatedAt
		existing.UpdatedAt = l.CreatedAt
		saved, err := svc.repo.ReplaceLedger(ctx, existing, l)
		if errors.Is(err, ErrConcurrentUpdate) {
			svc.log.Warn(fmt.Sprintf("ledger %s: version %d is stale, retrying override (attempt %d)", existing.ID, existing.Version, attempt))
			continue
		}
		if err != nil {
			return Ledger{}, err
		}
		svc.log.Info(fmt.Sprintf("ledger %s replaced by %s", existing.ID, saved.ID), opts.AssignedBy)
		return saved, nil
	}
	return Ledger{}, errors.Wrapf(ErrConcurrentUpdate, "student %s, period %s: gave up overriding after %d attempts", studentRef, def.PeriodRef, svc.maxRetries+1)
}

// build turns a definition into a fresh ledger: charges, schedule and discounts requested at assignment.
func (svc *Service) build(studentRef string, def fee.Definition, opts AssignOptions) (Ledger, error) {
	charges, err := def.Charges(opts.OptionalComponents)
	if err != nil {
		return Ledger{}, err
	}
	total := fee.Total(charges)

	planName := opts.PlanName
	if planName == "" && len(def.Plans) > 0 {
		planName = def.Plans[0].Name
	}
	plan := def.Plan(planName)
	if plan == nil {
		svc.log.Warn(fmt.Sprintf("definition %s has no plan %q, falling back to a single installment", def.ID, planName))
	}

	now := NowFunc().UTC()
	refDate := opts.ReferenceDate
	if refDate.IsZero() {
		refDate = now
	}

	l := Ledger{
		ID:               uuid.New(),
		StudentRef:       studentRef,
		ClassRef:         def.ClassRef,
		PeriodRef:        def.PeriodRef,
		DefinitionID:     def.ID,
		PlanName:         planName,
		Currency:         def.Currency,
		Components:       make([]ComponentCharge, 0, len(charges)),
		Installments:     svc.scheduler.Generate(total, plan, refDate),
		TotalFeeAmount:   total,
		TotalDiscount:    decimal.Zero,
		ConcessionAmount: decimal.Zero,
		Status:           StatusNotStarted,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, c := range charges {
		l.Components = append(l.Components, ComponentCharge{Name: c.Name, Amount: c.Gross()})
	}
	Recalculate(&l, now)

	for _, name := range opts.Discounts {
		rule, err := def.DiscountRule(name)
		if err != nil {
			return Ledger{}, err
		}
		if _, err = ApplyDiscount(&l, rule, opts.AssignedBy, now); err != nil {
			return Ledger{}, errors.Wrapf(err, "applying discount %q", name)
		}
	}
	if err = CheckInvariants(l); err != nil {
		return Ledger{}, err
	}
	return l, nil
}

// RecordPayment allocates a payment to a ledger. Replaying a gateway reference returns the
// payment recorded the first time and allocates nothing.
func (svc *Service) RecordPayment(ctx context.Context, ledgerID uuid.UUID, in PaymentInput) (Payment, error) {
	in.Reference = core.CleanString(in.Reference)
	in.Note = core.CleanString(in.Note)
	if err := core.CheckStruct(in); err != nil {
		return Payment{}, err
	}
	if !in.Amount.IsPositive() {
		return Payment{}, errors.Wrapf(ErrInvalidAmount, "got %s", in.Amount)
	}

	if orig, ok, err := svc.recorded(ctx, in.Reference); err != nil || ok {
		return orig, err
	}

	var (
		pmt      Payment
		replayed bool
	)
	_, err := svc.mutate(ctx, ledgerID, func(l *Ledger, now time.Time) error {
		if orig, ok := l.PaymentByReference(in.Reference); ok {
			pmt, replayed = orig, true
			return errUnchanged
		}
		var err error
		pmt, err = ApplyPayment(l, in, now)
		return err
	})
	if errors.Is(err, ErrDuplicatePaymentReference) {
		// lost a race against the same reference on another ledger
		if orig, ok, lookupErr := svc.recorded(ctx, in.Reference); lookupErr == nil && ok {
			return orig, nil
		}
	}
	if err != nil {
		return Payment{}, err
	}
	if replayed {
		svc.log.Warn(fmt.Sprintf("payment reference %q replayed, returning payment %s", in.Reference, pmt.ID))
		return pmt, nil
	}
	svc.log.Info(fmt.Sprintf("payment %s of %s recorded on ledger %s", pmt.ID, pmt.Amount, ledgerID), in.Collector)
	return pmt, nil
}

// recorded looks up an earlier payment with the same gateway reference.
func (svc *Service) recorded(ctx context.Context, reference string) (Payment, bool, error) {
	if reference == "" {
		return Payment{}, false, nil
	}
	orig, err := svc.repo.GetPaymentByReference(ctx, reference)
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		return Payment{}, false, nil
	case err != nil:
		return Payment{}, false, err
	}
	svc.log.Warn(fmt.Sprintf("payment reference %q replayed, returning payment %s", reference, orig.ID))
	return orig, true, nil
}

// RefundPayment reverses a payment. Only staff-authorized flows should reach this.
func (svc *Service) RefundPayment(ctx context.Context, ledgerID, paymentID uuid.UUID, reason string, by core.Actor) (Payment, error) {
	if err := svc.checkActor(by, reason); err != nil {
		return Payment{}, err
	}
	var pmt Payment
	_, err := svc.mutate(ctx, ledgerID, func(l *Ledger, now time.Time) error {
		var err error
		pmt, err = RefundPayment(l, paymentID, core.CleanString(reason), by, now)
		return err
	})
	if err != nil {
		return Payment{}, err
	}
	svc.log.Info(fmt.Sprintf("payment %s refunded on ledger %s", paymentID, ledgerID), by)
	return pmt, nil
}

// RecomputeLateFees refreshes the late fees of a ledger as of asOf.
func (svc *Service) RecomputeLateFees(ctx context.Context, ledgerID uuid.UUID, asOf time.Time) (Ledger, error) {
	l, err := svc.repo.GetLedger(ctx, ledgerID)
	if err != nil {
		return Ledger{}, err
	}
	def, err := svc.catalog.Get(ctx, l.DefinitionID)
	if err != nil {
		return Ledger{}, errors.Wrapf(err, "ledger %s", ledgerID)
	}

	return svc.mutate(ctx, ledgerID, func(l *Ledger, _ time.Time) error {
		if l.Status.IsTerminal() {
			return errUnchanged
		}
		before := l.Clone()
		RecomputeLateFees(l, def.LateFeePolicy, asOf)
		if !lateFeesChanged(before, *l) {
			return errUnchanged
		}
		return nil
	})
}

func lateFeesChanged(before, after Ledger) bool {
	if before.Status != after.Status || !before.LateFeesAsOf.Equal(after.LateFeesAsOf) {
		return true
	}
	for i := range before.Installments {
		b, a := before.Installments[i], after.Installments[i]
		if !b.LateFee.Equal(a.LateFee) || b.Status != a.Status {
			return true
		}
	}
	return false
}

// ApplyDiscount applies a discount rule of the ledger's fee definition, or a manual
// concession when no rule is named.
func (svc *Service) ApplyDiscount(ctx context.Context, ledgerID uuid.UUID, in DiscountInput) (AppliedDiscount, error) {
	in.RuleName = core.CleanString(in.RuleName)
	if in.RuleName == "" {
		return svc.WaiveBalance(ctx, ledgerID, in.ManualAmount, in.Reason, in.Actor)
	}
	if err := core.CheckStruct(in.Actor); err != nil {
		return AppliedDiscount{}, err
	}

	l, err := svc.repo.GetLedger(ctx, ledgerID)
	if err != nil {
		return AppliedDiscount{}, err
	}
	def, err := svc.catalog.Get(ctx, l.DefinitionID)
	if err != nil {
		return AppliedDiscount{}, errors.Wrapf(err, "ledger %s", ledgerID)
	}
	rule, err := def.DiscountRule(in.RuleName)
	if err != nil {
		return AppliedDiscount{}, err
	}

	var entry AppliedDiscount
	_, err = svc.mutate(ctx, ledgerID, func(l *Ledger, now time.Time) error {
		var err error
		entry, err = ApplyDiscount(l, rule, in.Actor, now)
		return err
	})
	if err != nil {
		return AppliedDiscount{}, err
	}
	svc.log.Info(fmt.Sprintf("discount %q of %s applied to ledger %s", rule.Name, entry.Amount, ledgerID), in.Actor)
	return entry, nil
}

// WaiveBalance grants a manual concession on the outstanding principal.
func (svc *Service) WaiveBalance(ctx context.Context, ledgerID uuid.UUID, amount decimal.Decimal, reason string, approver core.Actor) (AppliedDiscount, error) {
	if err := svc.checkActor(approver, reason); err != nil {
		return AppliedDiscount{}, err
	}
	var entry AppliedDiscount
	_, err := svc.mutate(ctx, ledgerID, func(l *Ledger, now time.Time) error {
		var err error
		entry, err = WaiveBalance(l, amount, core.CleanString(reason), approver, now)
		return err
	})
	if err != nil {
		return AppliedDiscount{}, err
	}
	svc.log.Info(fmt.Sprintf("concession of %s granted on ledger %s", amount, ledgerID), approver)
	return entry, nil
}

// WaiveLedger closes a ledger, forgiving whatever is left to pay.
func (svc *Service) WaiveLedger(ctx context.Context, ledgerID uuid.UUID, reason string, approver core.Actor) (Ledger, error) {
	return svc.close(ctx, ledgerID, StatusWaived, reason, approver)
}

// CancelLedger closes a ledger assigned by mistake.
func (svc *Service) CancelLedger(ctx context.Context, ledgerID uuid.UUID, reason string, by core.Actor) (Ledger, error) {
	return svc.close(ctx, ledgerID, StatusCancelled, reason, by)
}

func (svc *Service) close(ctx context.Context, ledgerID uuid.UUID, status Status, reason string, by core.Actor) (Ledger, error) {
	if err := svc.checkActor(by, reason); err != nil {
		return Ledger{}, err
	}
	l, err := svc.mutate(ctx, ledgerID, func(l *Ledger, now time.Time) error {
		if l.Status.IsTerminal() {
			return errors.Wrapf(ErrLedgerTerminal, "ledger is %s", l.Status)
		}
		l.Status = status
		l.ClosedReason = core.CleanString(reason)
		l.ClosedBy = by
		l.ClosedAt = now
		Recalculate(l, now)
		return nil
	})
	if err != nil {
		return Ledger{}, err
	}
	svc.log.Info(fmt.Sprintf("ledger %s %s: %s", ledgerID, status, reason), by)
	return l, nil
}

func (svc *Service) checkActor(by core.Actor, reason string) error {
	if err := core.CheckStruct(by); err != nil {
		return err
	}
	return core.CheckVar("reason", core.CleanString(reason), "required,max=500")
}

func (svc *Service) GetLedger(ctx context.Context, id uuid.UUID) (Ledger, error) {
	return svc.repo.GetLedger(ctx, id)
}

func (svc *Service) GetLedgerFor(ctx context.Context, studentRef, periodRef string) (Ledger, error) {
	return svc.repo.GetLedgerFor(ctx, core.CleanString(studentRef), core.CleanString(periodRef))
}

func (svc *Service) Installments(ctx context.Context, id uuid.UUID) ([]Installment, error) {
	l, err := svc.repo.GetLedger(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.Installments, nil
}

func (svc *Service) Payments(ctx context.Context, id uuid.UUID) ([]Payment, error) {
	l, err := svc.repo.GetLedger(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.Payments, nil
}

func (svc *Service) QueryLedgers(ctx context.Context, filter QueryFilter) ([]Ledger, error) {
	return svc.repo.QueryLedgers(ctx, filter)
}

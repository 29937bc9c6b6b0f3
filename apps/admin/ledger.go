package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/kat-co/vala"

	"github.com/trezcool/feeledger/core/ledger"
	"github.com/trezcool/feeledger/core/money"
)

func isAmount(s, name string) vala.Checker {
	return func() (bool, string) {
		_, err := money.Parse(s)
		return err == nil, fmt.Sprintf("parameter %s must be a non-negative amount (got %q)", name, s)
	}
}

func (cli *commandLine) printBatch(res ledger.BatchResult) {
	fmt.Fprintf(cli.out, "%d succeeded, %d failed\n", res.Succeeded, res.Failed)
	for _, f := range res.Failures {
		fmt.Fprintf(cli.out, "  %s: %s: %v\n", f.Ref, f.Code, f.Err)
	}
}

func (cli *commandLine) printLedger(l ledger.Ledger) {
	fmt.Fprintf(cli.out, "ledger %s (%s, %s): balance %s %s, %s\n",
		l.ID, l.StudentRef, l.PeriodRef, l.Balance, l.Currency, l.Status)
}

func (cli *commandLine) assignCmd(args []string) error {
	cmd := cli.flagSet("assign")
	students := cmd.String("student", "", "student reference(s), comma separated")
	defID := cmd.String("definition", "", "fee definition ID")
	class := cmd.String("class", "", "class reference; assigns the definition active for -class and -period")
	period := cmd.String("period", "", "academic period reference")
	plan := cmd.String("plan", "", "installment plan name (defaults to the first plan)")
	optional := cmd.String("optional", "", "optional components to charge, comma separated")
	discounts := cmd.String("discounts", "", "discount rules to apply, comma separated")
	date := cmd.String("date", "", "reference date of the schedule, YYYY-MM-DD (defaults to today)")
	override := cmd.Bool("override", false, "replace an existing ledger")
	by := cmd.String("by", "", "ID of the staff member assigning the fee")
	byName := cmd.String("by-name", "", "name of the staff member assigning the fee")
	if err := parseFlags(cmd, args); err != nil {
		return err
	}
	refs := splitList(*students)
	if err := cli.check(cmd,
		func() (bool, string) {
			return len(refs) > 0, "parameter student must name at least one student"
		},
		func() (bool, string) {
			if *defID != "" {
				_, err := uuid.Parse(*defID)
				return err == nil, fmt.Sprintf("parameter definition must be a UUID (got %q)", *defID)
			}
			return *class != "" && *period != "", "either definition or both class and period are required"
		},
		func() (bool, string) {
			return *defID != "" || len(refs) <= 1, "a roster can only be assigned with -definition"
		},
		isDate(*date, "date"),
	); err != nil {
		return err
	}

	ctx := context.Background()
	opts := ledger.AssignOptions{
		PlanName:           *plan,
		OptionalComponents: splitList(*optional),
		Discounts:          splitList(*discounts),
		Override:           *override,
		AssignedBy:         actorFlag(*by, *byName),
	}
	if *date != "" {
		opts.ReferenceDate = parseDate(*date)
	}

	if *defID == "" {
		l, err := cli.ledgerSvc.AssignClassFee(ctx, refs[0], *class, *period, opts)
		if err != nil {
			return err
		}
		cli.printLedger(l)
		return nil
	}

	id := uuid.MustParse(*defID)
	if len(refs) == 1 {
		l, err := cli.ledgerSvc.AssignFee(ctx, refs[0], id, opts)
		if err != nil {
			return err
		}
		cli.printLedger(l)
		return nil
	}
	res, err := cli.ledgerSvc.AssignFeeToRoster(ctx, refs, id, opts)
	if err != nil {
		return err
	}
	cli.printBatch(res)
	return nil
}

func (cli *commandLine) payCmd(args []string) error {
	cmd := cli.flagSet("pay")
	ledgerID := cmd.String("ledger", "", "ledger ID")
	amount := cmd.String("amount", "", "amount paid")
	mode := cmd.String("mode", string(ledger.ModeCash), "cash, bank_transfer, cheque, gateway or other")
	collector := cmd.String("collector", "", "ID of the staff member collecting the payment")
	collectorName := cmd.String("collector-name", "", "name of the staff member collecting the payment")
	reference := cmd.String("reference", "", "gateway transaction reference")
	note := cmd.String("note", "", "free text note")
	date := cmd.String("date", "", "payment date, YYYY-MM-DD (defaults to today)")
	if err := parseFlags(cmd, args); err != nil {
		return err
	}
	if err := cli.check(cmd,
		isUUID(*ledgerID, "ledger"),
		isAmount(*amount, "amount"),
		vala.StringNotEmpty(*collector, "collector"),
		isDate(*date, "date"),
	); err != nil {
		return err
	}

	ctx := context.Background()
	id := uuid.MustParse(*ledgerID)
	amt, _ := money.Parse(*amount)
	in := ledger.PaymentInput{
		Amount:    amt,
		Mode:      ledger.PaymentMode(*mode),
		Collector: actorFlag(*collector, *collectorName),
		Reference: *reference,
		Note:      *note,
	}
	if *date != "" {
		in.PaidAt = parseDate(*date)
	}
	pmt, err := cli.ledgerSvc.RecordPayment(ctx, id, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "payment %s of %s recorded\n", pmt.ID, pmt.Amount)

	l, err := cli.ledgerSvc.GetLedger(ctx, pmt.LedgerID)
	if err != nil {
		return err
	}
	cli.printLedger(l)
	return nil
}

func (cli *commandLine) refundCmd(args []string) error {
	cmd := cli.flagSet("refund")
	ledgerID := cmd.String("ledger", "", "ledger ID")
	paymentID := cmd.String("payment", "", "payment ID")
	reason := cmd.String("reason", "", "why the payment is refunded")
	by := cmd.String("by", "", "ID of the staff member authorizing the refund")
	byName := cmd.String("by-name", "", "name of the staff member authorizing the refund")
	if err := parseFlags(cmd, args); err != nil {
		return err
	}
	if err := cli.check(cmd,
		isUUID(*ledgerID, "ledger"),
		isUUID(*paymentID, "payment"),
		vala.StringNotEmpty(*reason, "reason"),
		vala.StringNotEmpty(*by, "by"),
	); err != nil {
		return err
	}

	pmt, err := cli.ledgerSvc.RefundPayment(context.Background(),
		uuid.MustParse(*ledgerID), uuid.MustParse(*paymentID), *reason, actorFlag(*by, *byName))
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "payment %s of %s refunded\n", pmt.ID, pmt.Amount)
	return nil
}

func (cli *commandLine) discountCmd(args []string) error {
	cmd := cli.flagSet("discount")
	ledgerID := cmd.String("ledger", "", "ledger ID")
	rule := cmd.String("rule", "", "discount rule of the ledger's fee definition")
	amount := cmd.String("amount", "", "manual concession amount, when no rule is given")
	reason := cmd.String("reason", "", "why the concession is granted")
	by := cmd.String("by", "", "ID of the staff member approving the discount")
	byName := cmd.String("by-name", "", "name of the staff member approving the discount")
	if err := parseFlags(cmd, args); err != nil {
		return err
	}
	checks := []vala.Checker{
		isUUID(*ledgerID, "ledger"),
		vala.StringNotEmpty(*by, "by"),
		func() (bool, string) { return *rule != "" || *amount != "", "either rule or amount is required" },
	}
	if *rule == "" && *amount != "" {
		checks = append(checks, isAmount(*amount, "amount"))
	}
	if err := cli.check(cmd, checks...); err != nil {
		return err
	}

	in := ledger.DiscountInput{
		RuleName: *rule,
		Reason:   *reason,
		Actor:    actorFlag(*by, *byName),
	}
	if *rule == "" {
		in.ManualAmount, _ = money.Parse(*amount)
	}
	entry, err := cli.ledgerSvc.ApplyDiscount(context.Background(), uuid.MustParse(*ledgerID), in)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%s discount of %s applied\n", entry.Kind, entry.Amount)
	return nil
}

func (cli *commandLine) waiveCmd(args []string) error {
	cmd := cli.flagSet("waive")
	ledgerID := cmd.String("ledger", "", "ledger ID")
	reason := cmd.String("reason", "", "why the ledger is closed")
	cancel := cmd.Bool("cancel", false, "cancel the ledger (assigned by mistake) instead of waiving it")
	by := cmd.String("by", "", "ID of the approving staff member")
	byName := cmd.String("by-name", "", "name of the approving staff member")
	if err := parseFlags(cmd, args); err != nil {
		return err
	}
	if err := cli.check(cmd,
		isUUID(*ledgerID, "ledger"),
		vala.StringNotEmpty(*reason, "reason"),
		vala.StringNotEmpty(*by, "by"),
	); err != nil {
		return err
	}

	ctx := context.Background()
	id := uuid.MustParse(*ledgerID)
	closeLedger := cli.ledgerSvc.WaiveLedger
	if *cancel {
		closeLedger = cli.ledgerSvc.CancelLedger
	}
	l, err := closeLedger(ctx, id, *reason, actorFlag(*by, *byName))
	if err != nil {
		return err
	}
	cli.printLedger(l)
	return nil
}

func (cli *commandLine) recomputeCmd(args []string) error {
	cmd := cli.flagSet("recompute")
	ledgerID := cmd.String("ledger", "", "ledger ID (defaults to every open ledger)")
	date := cmd.String("date", "", "compute late fees as of this date, YYYY-MM-DD (defaults to today)")
	if err := parseFlags(cmd, args); err != nil {
		return err
	}
	checks := []vala.Checker{isDate(*date, "date")}
	if *ledgerID != "" {
		checks = append(checks, isUUID(*ledgerID, "ledger"))
	}
	if err := cli.check(cmd, checks...); err != nil {
		return err
	}

	ctx := context.Background()
	asOf := parseDate(*date)
	if *ledgerID == "" {
		res, err := cli.ledgerSvc.RecomputeAllLateFees(ctx, asOf)
		if err != nil {
			return err
		}
		cli.printBatch(res)
		return nil
	}
	l, err := cli.ledgerSvc.RecomputeLateFees(ctx, uuid.MustParse(*ledgerID), asOf)
	if err != nil {
		return err
	}
	cli.printLedger(l)
	return nil
}

func (cli *commandLine) showCmd(args []string) error {
	cmd := cli.flagSet("show")
	ledgerID := cmd.String("ledger", "", "ledger ID")
	student := cmd.String("student", "", "student reference, with -period")
	period := cmd.String("period", "", "academic period reference, with -student")
	if err := parseFlags(cmd, args); err != nil {
		return err
	}
	checks := []vala.Checker{
		func() (bool, string) {
			return *ledgerID != "" || (*student != "" && *period != ""), "either ledger or both student and period are required"
		},
	}
	if *ledgerID != "" {
		checks = append(checks, isUUID(*ledgerID, "ledger"))
	}
	if err := cli.check(cmd, checks...); err != nil {
		return err
	}

	ctx := context.Background()
	var (
		l   ledger.Ledger
		err error
	)
	if *ledgerID != "" {
		l, err = cli.ledgerSvc.GetLedger(ctx, uuid.MustParse(*ledgerID))
	} else {
		l, err = cli.ledgerSvc.GetLedgerFor(ctx, *student, *period)
	}
	if err != nil {
		return err
	}
	return cli.print(l)
}

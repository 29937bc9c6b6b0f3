package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/samber/lo"

	"github.com/trezcool/feeledger/core"
	"github.com/trezcool/feeledger/core/fee"
	"github.com/trezcool/feeledger/core/ledger"
)

const dateLayout = "2006-01-02"

var errHelp = errors.New("help provided")

type commandLine struct {
	db        *sql.DB
	feeSvc    *fee.Service
	ledgerSvc *ledger.Service
	out       io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]  - run a goose migration command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  publish -file FILE      - create a fee definition from a JSON file and publish it")
	fmt.Fprintln(cli.out, "  assign                  - assign a fee definition to one or more students")
	fmt.Fprintln(cli.out, "  pay                     - record a payment on a ledger")
	fmt.Fprintln(cli.out, "  refund                  - refund a payment")
	fmt.Fprintln(cli.out, "  discount                - apply a discount rule or a manual concession")
	fmt.Fprintln(cli.out, "  waive                   - waive (or cancel) a ledger")
	fmt.Fprintln(cli.out, "  recompute               - recompute late fees of one or all open ledgers")
	fmt.Fprintln(cli.out, "  show                    - print a ledger")
	fmt.Fprintln(cli.out, "Run COMMAND -h for the flags of a command.")
}

func (cli *commandLine) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

// check runs the argument preconditions of a command, printing its usage when one fails.
func (cli *commandLine) check(fs *flag.FlagSet, checks ...vala.Checker) error {
	if err := vala.BeginValidation().Validate(checks...).Check(); err != nil {
		fmt.Fprintln(cli.out, err)
		fs.Usage()
		return errHelp
	}
	return nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "publish":
		return cli.publishCmd(args[2:])
	case "assign":
		return cli.assignCmd(args[2:])
	case "pay":
		return cli.payCmd(args[2:])
	case "refund":
		return cli.refundCmd(args[2:])
	case "discount":
		return cli.discountCmd(args[2:])
	case "waive":
		return cli.waiveCmd(args[2:])
	case "recompute":
		return cli.recomputeCmd(args[2:])
	case "show":
		return cli.showCmd(args[2:])
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) print(v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cli.out, string(b))
	return err
}

// parseFlags maps flag.ErrHelp to errHelp so -h is not reported as a failure.
func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return errHelp
		}
		return err
	}
	return nil
}

// splitList splits a comma separated flag value, dropping empty items.
func splitList(s string) []string {
	items := lo.Map(strings.Split(s, ","), func(item string, _ int) string { return core.CleanString(item) })
	return lo.Filter(items, func(item string, _ int) bool { return item != "" })
}

func isUUID(s, name string) vala.Checker {
	return func() (bool, string) {
		_, err := uuid.Parse(s)
		return err == nil, fmt.Sprintf("parameter %s must be a UUID (got %q)", name, s)
	}
}

func isDate(s, name string) vala.Checker {
	return func() (bool, string) {
		if s == "" {
			return true, ""
		}
		_, err := time.Parse(dateLayout, s)
		return err == nil, fmt.Sprintf("parameter %s must be a date like %s (got %q)", name, dateLayout, s)
	}
}

// parseDate parses an already checked date flag; empty means today.
func parseDate(s string) time.Time {
	if s == "" {
		return core.Date(time.Now())
	}
	d, _ := time.Parse(dateLayout, s)
	return d
}

func actorFlag(id, name string) core.Actor {
	return core.Actor{ID: core.CleanString(id), Name: core.CleanString(name)}
}

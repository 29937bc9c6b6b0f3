package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	"github.com/trezcool/feeledger/core"
	"github.com/trezcool/feeledger/core/fee"
	"github.com/trezcool/feeledger/core/ledger"
	logsvc "github.com/trezcool/feeledger/services/logger"
	"github.com/trezcool/feeledger/storage/database"
	sqlxrepos "github.com/trezcool/feeledger/storage/database/sqlx"
)

func newLogger(conf *core.Config) (core.Logger, error) {
	zl, err := logsvc.NewZapLogger(conf, "admin")
	if err != nil {
		return nil, err
	}
	logger := logsvc.NewRollbarLogger(zl, conf)
	logger.Enable(!conf.Debug)
	return logger, nil
}

func newDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(context.Background(), conf); err != nil {
		return nil, err
	}
	return database.Open(conf)
}

func newCatalog(svc *fee.Service) ledger.Catalog {
	return svc
}

func newCommandLine(db *sqlx.DB, feeSvc *fee.Service, ledgerSvc *ledger.Service) *commandLine {
	return &commandLine{
		db:        db.DB,
		feeSvc:    feeSvc,
		ledgerSvc: ledgerSvc,
		out:       os.Stdout,
	}
}

func newContainer() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDB))
	must(c.Provide(sqlxrepos.NewFeeDefinitionRepository))
	must(c.Provide(sqlxrepos.NewLedgerRepository))
	must(c.Provide(fee.NewService))
	must(c.Provide(newCatalog))
	must(c.Provide(ledger.NewService))
	must(c.Provide(newCommandLine))

	return c
}

func main() {
	var code int

	err := newContainer().Invoke(func(cli *commandLine, db *sqlx.DB, logger core.Logger) {
		defer func() {
			if err := db.Close(); err != nil {
				logger.Error("closing database", err)
			}
		}()

		if err := cli.run(os.Args); err != nil {
			if err != errHelp {
				logger.Error(fmt.Sprintf("admin %s: %v", os.Args[1], err), err, map[string]interface{}{"code": ledger.ErrorCode(err)})
				fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
			}
			code = 1
		}
	})
	if err != nil {
		log.Fatal(errors.Wrap(err, "starting admin"))
	}
	os.Exit(code)
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}

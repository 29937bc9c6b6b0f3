package main

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/feeledger/core/fee"
)

func (cli *commandLine) publishCmd(args []string) error {
	cmd := cli.flagSet("publish")
	file := cmd.String("file", "", "JSON file holding the fee definition")
	draft := cmd.Bool("draft", false, "only create the draft, do not publish it")
	if err := parseFlags(cmd, args); err != nil {
		return err
	}
	if err := cli.check(cmd, vala.StringNotEmpty(*file, "file")); err != nil {
		return err
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		return errors.Wrap(err, "reading fee definition")
	}
	var nd fee.NewDefinition
	if err = json.Unmarshal(raw, &nd); err != nil {
		return errors.Wrap(err, "decoding fee definition")
	}
	def, err := cli.publish(context.Background(), nd, !*draft)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "fee definition %s is %s\n", def.ID, def.Status)
	return nil
}

func (cli *commandLine) publish(ctx context.Context, nd fee.NewDefinition, activate bool) (fee.Definition, error) {
	def, err := cli.feeSvc.Create(ctx, nd)
	if err != nil {
		return fee.Definition{}, err
	}
	if !activate {
		return def, nil
	}
	return cli.feeSvc.Publish(ctx, def.ID)
}

package cli

import (
	"flag"
	"fmt"

	"github.com/platinummonkey/gatehouse/pkg/roles"
)

func newTableCommand() *Command {
	return &Command{
		Name:        "table",
		Description: "Print the built-in role mapping table",
		Flags:       flag.NewFlagSet("table", flag.ExitOnError),
		Run:         runTable,
	}
}

func runTable(args []string) error {
	flags := flag.NewFlagSet("table", flag.ContinueOnError)
	if err := flags.Parse(args); err != nil {
		return err
	}

	data, err := roles.DefaultTable().Encode()
	if err != nil {
		return fmt.Errorf("failed to encode table: %w", err)
	}
	_, err = out.Write(data)
	return err
}

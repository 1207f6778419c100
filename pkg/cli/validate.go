package cli

import (
	"flag"
	"fmt"

	"github.com/platinummonkey/gatehouse/pkg/roles"
)

func newValidateCommand() *Command {
	cmd := &Command{
		Name:        "validate",
		Description: "Validate a role mapping file",
		Flags:       flag.NewFlagSet("validate", flag.ExitOnError),
		Run:         runValidate,
	}

	cmd.Flags.String("mapping", "", "Role mapping YAML file")

	return cmd
}

func runValidate(args []string) error {
	flags := flag.NewFlagSet("validate", flag.ContinueOnError)
	mapping := flags.String("mapping", "", "Role mapping YAML file")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if *mapping == "" {
		return fmt.Errorf("--mapping is required")
	}

	table, err := roles.LoadTable(*mapping)
	if err != nil {
		return err
	}
	if _, err := roles.NewMapper(table); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s: %d entries, %d patterns\n", *mapping, len(table.Entries), len(table.Patterns))
	return nil
}

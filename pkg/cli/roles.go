package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/roles"
	"github.com/platinummonkey/gatehouse/pkg/token"
)

// RolesReport is the output of the roles command
type RolesReport struct {
	Subject    string   `json:"subject,omitempty"`
	Candidates []string `json:"candidates"`
	Roles      []string `json:"roles"`
	Highest    string   `json:"highest,omitempty"`
	Unmapped   []string `json:"unmapped"`
}

func newRolesCommand() *Command {
	cmd := &Command{
		Name:        "roles",
		Description: "Show the roles derived from a token",
		Flags:       flag.NewFlagSet("roles", flag.ExitOnError),
		Run:         runRoles,
	}

	cmd.Flags.String("mapping", "", "Role mapping YAML file (default: built-in table)")
	cmd.Flags.String("token", "", "Encoded access or ID token")
	cmd.Flags.String("token-file", "", "File holding the token, - for stdin")
	cmd.Flags.Bool("json", false, "Print JSON")

	return cmd
}

func runRoles(args []string) error {
	flags := flag.NewFlagSet("roles", flag.ContinueOnError)
	mapping := flags.String("mapping", "", "Role mapping YAML file (default: built-in table)")
	raw := flags.String("token", "", "Encoded access or ID token")
	tokenFile := flags.String("token-file", "", "File holding the token, - for stdin")
	asJSON := flags.Bool("json", false, "Print JSON")

	if err := flags.Parse(args); err != nil {
		return err
	}

	encoded, err := readToken(*raw, *tokenFile)
	if err != nil {
		return err
	}
	payload, err := token.Decode(encoded)
	if err != nil {
		return err
	}

	mapper := roles.DefaultMapper()
	if *mapping != "" {
		table, err := roles.LoadTable(*mapping)
		if err != nil {
			return err
		}
		if mapper, err = roles.NewMapper(table); err != nil {
			return err
		}
	}

	report := BuildRolesReport(roles.NewExtractor(mapper, ""), payload)
	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	if report.Subject != "" {
		fmt.Fprintf(out, "Subject:    %s\n", report.Subject)
	}
	fmt.Fprintf(out, "Candidates: %s\n", list(report.Candidates))
	fmt.Fprintf(out, "Roles:      %s\n", list(report.Roles))
	fmt.Fprintf(out, "Highest:    %s\n", orNone(report.Highest))
	fmt.Fprintf(out, "Unmapped:   %s\n", list(report.Unmapped))
	return nil
}

// BuildRolesReport derives the roles of payload with extractor
func BuildRolesReport(extractor *roles.Extractor, payload token.Payload) RolesReport {
	derived := extractor.Extract(payload)
	report := RolesReport{
		Candidates: nonNil(extractor.Candidates(payload)),
		Roles:      nonNil(derived.Strings()),
		Unmapped:   nonNil(extractor.Unmapped(payload)),
	}
	report.Subject, _ = payload.String(token.ClaimSubject)
	if highest, ok := derived.Highest(); ok {
		report.Highest = string(highest)
	}
	return report
}

func readToken(raw, file string) (string, error) {
	switch {
	case raw != "" && file != "":
		return "", fmt.Errorf("--token and --token-file are mutually exclusive")
	case raw != "":
		return strings.TrimSpace(raw), nil
	case file == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read token from stdin: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read token file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return "", fmt.Errorf("--token or --token-file is required")
	}
}

func list(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/details"
	"github.com/platinummonkey/gatehouse/pkg/store"
)

func newDetailsCommand() *Command {
	cmd := &Command{
		Name:        "details",
		Description: "Fetch the token details of a session",
		Flags:       flag.NewFlagSet("details", flag.ExitOnError),
		Run:         runDetails,
	}

	cmd.Flags.String("url", "http://localhost:3000", "Gatehouse base URL")
	cmd.Flags.String("cookie", "", "Session cookie value")
	cmd.Flags.String("cookie-name", store.DefaultCookieName, "Session cookie name")
	cmd.Flags.Duration("timeout", 10*time.Second, "Request timeout")

	return cmd
}

func runDetails(args []string) error {
	flags := flag.NewFlagSet("details", flag.ContinueOnError)
	baseURL := flags.String("url", "http://localhost:3000", "Gatehouse base URL")
	cookie := flags.String("cookie", "", "Session cookie value")
	cookieName := flags.String("cookie-name", store.DefaultCookieName, "Session cookie name")
	timeout := flags.Duration("timeout", 10*time.Second, "Request timeout")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if *cookie == "" {
		return fmt.Errorf("--cookie is required")
	}

	loader := details.NewLoader(*baseURL,
		details.WithHTTPClient(&http.Client{Timeout: *timeout}),
		details.WithRequestEditor(func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: *cookieName, Value: *cookie})
		}),
	)

	payload, err := loader.Load(context.Background())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

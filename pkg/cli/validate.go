package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/rbacd/pkg/catalog"
	"github.com/platinummonkey/rbacd/pkg/seeder"
)

// validation is the combined output of the validate command
type validation struct {
	Catalog *catalog.ValidationReport `json:"catalog"`
	Routes  *seeder.ValidationResult  `json:"routes,omitempty"`
}

func newValidateCommand() *Command {
	cmd := &Command{
		Name:        "validate",
		Description: "Validate the catalog and the stored route mappings",
		Flags:       flag.NewFlagSet("validate", flag.ContinueOnError),
	}
	opts := bindOptions(cmd.Flags)
	catalogOnly := cmd.Flags.Bool("catalog-only", false, "Only validate the catalog, without a database")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		ctx := context.Background()

		c, err := catalog.Load(opts.catalogPath)
		if err != nil {
			return err
		}
		out := validation{Catalog: c.Validate()}
		for _, issue := range out.Catalog.Issues {
			log.WithField("subject", issue.Subject).Warnf("catalog %s: %s", issue.Severity, issue.Message)
		}

		if out.Catalog.Valid() && !*catalogOnly {
			env, err := open(ctx, opts, false)
			if err != nil {
				return err
			}
			defer env.Close()

			if out.Routes, err = env.seeder.ValidateRouteMappings(ctx); err != nil {
				return err
			}
			for _, issue := range out.Routes.Issues {
				log.WithField("kind", issue.Kind).Warn(issue.Message)
			}
		}

		if opts.json {
			if err := printJSON(out); err != nil {
				return err
			}
		}

		switch {
		case !out.Catalog.Valid():
			return fmt.Errorf("catalog has %d error(s)", len(out.Catalog.Errors()))
		case out.Routes != nil && !out.Routes.Valid:
			return fmt.Errorf("route mappings have %d issue(s)", len(out.Routes.Issues))
		}
		log.Info("access control configuration is valid")
		return nil
	}
	return cmd
}

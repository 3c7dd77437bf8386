package cli

import (
	"context"
	"flag"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/rbacd/pkg/seeder"
)

func newSeedCommand() *Command {
	cmd := &Command{
		Name:        "seed",
		Description: "Seed permissions, roles, role links and routes",
		Flags:       flag.NewFlagSet("seed", flag.ContinueOnError),
	}
	opts := bindOptions(cmd.Flags)
	overwrite := cmd.Flags.Bool("overwrite", false, "Update permissions and roles that drifted from the catalog")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		ctx := context.Background()

		env, err := open(ctx, opts, *overwrite)
		if err != nil {
			return err
		}
		defer env.Close()

		summary, err := seed(ctx, env)
		if err != nil {
			return err
		}
		if opts.json {
			return printJSON(summary)
		}
		return nil
	}
	return cmd
}

// seed runs every phase, logs the outcome and invalidates shared caches
func seed(ctx context.Context, env *environment) (*seeder.Summary, error) {
	summary, err := env.seeder.SeedAll(ctx)
	if err != nil {
		return summary, err
	}

	logPhase("permissions", summary.Permissions)
	logPhase("roles", summary.Roles)
	logPhase("role permissions", summary.RolePermissions)
	if r := summary.Routes; r != nil {
		log.WithFields(logrus.Fields{
			"created":  r.Created,
			"updated":  r.Updated,
			"mapped":   r.Mapped,
			"public":   r.Public,
			"unmapped": r.Unmapped,
		}).Info("routes seeded")
	}
	for _, w := range summary.Warnings {
		log.Warn(w)
	}
	log.WithField("duration", summary.Duration).Info("seeding complete")

	env.invalidateCaches(ctx)
	return summary, nil
}

func logPhase(name string, r *seeder.Result) {
	if r == nil {
		return
	}
	log.WithFields(logrus.Fields{
		"created": r.Created,
		"updated": r.Updated,
		"skipped": r.Skipped,
	}).Infof("%s seeded", name)
}

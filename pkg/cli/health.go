package cli

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/rbacd/pkg/seeder"
)

func newHealthCommand() *Command {
	cmd := &Command{
		Name:        "health",
		Description: "Check store, catalog and hierarchy health",
		Flags:       flag.NewFlagSet("health", flag.ContinueOnError),
	}
	opts := bindOptions(cmd.Flags)
	timeout := cmd.Flags.Duration("timeout", 10*time.Second, "Health check timeout")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()

		env, err := open(ctx, opts, false)
		if err != nil {
			return err
		}
		defer env.Close()

		report := env.seeder.HealthCheck(ctx)
		if opts.json {
			if err := printJSON(report); err != nil {
				return err
			}
		}

		names := make([]string, 0, len(report.Checks))
		for name := range report.Checks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			check := report.Checks[name]
			entry := log.WithFields(logrus.Fields{"check": name, "duration": check.Duration})
			if check.Status == seeder.StatusHealthy {
				entry.Info("healthy")
			} else {
				entry.Error(check.Message)
			}
		}

		if !report.Healthy() {
			return fmt.Errorf("access control is %s", report.Status)
		}
		return nil
	}
	return cmd
}

package cli

import (
	"context"
	"flag"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/rbacd/pkg/seeder"
)

func newCleanupCommand() *Command {
	cmd := &Command{
		Name:        "cleanup",
		Description: "Delete every role, permission and role link (requires -confirm " + seeder.ConfirmCleanup + ")",
		Flags:       flag.NewFlagSet("cleanup", flag.ContinueOnError),
	}
	opts := bindOptions(cmd.Flags)
	confirm := cmd.Flags.String("confirm", "", "Confirmation phrase: "+seeder.ConfirmCleanup)

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *confirm != seeder.ConfirmCleanup {
			return seeder.ErrCleanupNotConfirmed
		}
		ctx := context.Background()

		env, err := open(ctx, opts, false)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.seeder.Cleanup(ctx, *confirm)
		if err != nil {
			return err
		}
		env.invalidateCaches(ctx)

		log.WithFields(logrus.Fields{
			"role_permissions": result.RolePermissions,
			"permissions":      result.Permissions,
			"roles":            result.Roles,
		}).Warn("access control data deleted")
		if opts.json {
			return printJSON(result)
		}
		return nil
	}
	return cmd
}

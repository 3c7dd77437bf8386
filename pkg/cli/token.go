package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/platinummonkey/rbacd/pkg/auth"
)

func newTokenCommand() *Command {
	cmd := &Command{
		Name:        "token",
		Description: "Issue an access token for an existing account",
		Flags:       flag.NewFlagSet("token", flag.ContinueOnError),
	}
	opts := bindOptions(cmd.Flags)
	userID := cmd.Flags.Int64("user", 0, "Account id")
	secret := cmd.Flags.String("secret", os.Getenv("RBACD_JWT_SECRET"), "JWT signing secret")
	issuer := cmd.Flags.String("issuer", envOr("RBACD_JWT_ISSUER", "rbacd"), "JWT issuer")
	ttl := cmd.Flags.Duration("ttl", time.Hour, "Token lifetime")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *userID <= 0 {
			return errors.New("-user is required")
		}
		issuerSvc, err := auth.NewTokenIssuer(*secret, *issuer, *ttl)
		if err != nil {
			return err
		}
		ctx := context.Background()

		env, err := open(ctx, opts, false)
		if err != nil {
			return err
		}
		defer env.Close()

		user, err := env.store.GetUser(ctx, *userID)
		if err != nil {
			return err
		}

		token, ident, err := issuerSvc.Issue(user.ID, user.Email)
		if err != nil {
			return err
		}
		log.WithField("user", user.Email).WithField("expires_at", ident.ExpiresAt).Info("token issued")
		if opts.json {
			return printJSON(map[string]interface{}{"token": token, "expiresAt": ident.ExpiresAt})
		}
		fmt.Fprintln(stdout, token)
		return nil
	}
	return cmd
}

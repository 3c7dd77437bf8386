package cli

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/rbacd/pkg/discovery"
)

func newReportCommand() *Command {
	cmd := &Command{
		Name:        "report",
		Description: "Print the route mapping report",
		Flags:       flag.NewFlagSet("report", flag.ContinueOnError),
	}
	opts := bindOptions(cmd.Flags)
	unmappedOnly := cmd.Flags.Bool("unmapped", false, "Only list unmapped routes")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		ctx := context.Background()

		env, err := open(ctx, opts, false)
		if err != nil {
			return err
		}
		defer env.Close()

		report, err := env.seeder.GenerateRouteMappingReport(ctx)
		if err != nil {
			return err
		}
		if opts.json {
			return printJSON(report)
		}

		tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TAG\tMETHOD\tPATH\tPERMISSION\tSTORED")
		for _, e := range report.Routes {
			if *unmappedOnly && e.Tag != discovery.MappingUnmapped {
				continue
			}
			perm := e.Permission
			if e.NeedsReview {
				perm += " (review)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.Tag, e.Method, e.Path, perm, e.Stored)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		log.WithFields(logrus.Fields{
			"total":    report.Summary.Total,
			"public":   report.Summary.Public,
			"explicit": report.Summary.Explicit,
			"auto":     report.Summary.Auto,
			"unmapped": report.Summary.Unmapped,
		}).Info("route mapping report")
		return nil
	}
	return cmd
}

func newStatsCommand() *Command {
	cmd := &Command{
		Name:        "stats",
		Description: "Print access control statistics",
		Flags:       flag.NewFlagSet("stats", flag.ContinueOnError),
	}
	opts := bindOptions(cmd.Flags)

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		ctx := context.Background()

		env, err := open(ctx, opts, false)
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.seeder.GetStatistics(ctx)
		if err != nil {
			return err
		}
		if opts.json {
			return printJSON(stats)
		}

		fmt.Fprintf(stdout, "permissions:      %d\n", stats.Permissions)
		for _, category := range sortedKeys(stats.PermissionsByCategory) {
			fmt.Fprintf(stdout, "  %-16s %d\n", category, stats.PermissionsByCategory[category])
		}
		fmt.Fprintf(stdout, "roles:            %d\n", stats.Roles)
		for _, t := range sortedKeys(stats.RolesByType) {
			fmt.Fprintf(stdout, "  %-16s %d\n", t, stats.RolesByType[t])
		}
		fmt.Fprintf(stdout, "role permissions: %d\n", stats.RolePermissions)
		fmt.Fprintf(stdout, "routes:           %d (%d mapped, %d without permission)\n",
			stats.Routes, stats.MappedRoutes, stats.RoutesWithoutPermission)
		return nil
	}
	return cmd
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package cli implements the timesheetctl operator commands.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-timesheets/internal/app"
	"github.com/odyssey-erp/odyssey-timesheets/internal/platform/db"
	"github.com/odyssey-erp/odyssey-timesheets/internal/timesheet/week"
)

// NewRootCommand assembles the command tree. now is used when a date argument is omitted.
func NewRootCommand(now func() time.Time) *cobra.Command {
	if now == nil {
		now = time.Now
	}
	root := &cobra.Command{
		Use:           "timesheetctl",
		Short:         "Operator tooling for the timesheets service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMigrateCommand(), newWeekCommand(now), newJobsCommand())
	return root
}

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			pool, err := db.New(cmd.Context(), cfg.Pool())
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.Migrate(pool); err != nil {
				return err
			}
			status, err := db.Status(pool)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", status.CurrentVersion)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and available schema versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			pool, err := db.New(cmd.Context(), cfg.Pool())
			if err != nil {
				return err
			}
			defer pool.Close()
			status, err := db.Status(pool)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "current: %d\nlatest:  %d\ndirty:   %t\npending: %t\n",
				status.CurrentVersion, status.LatestVersion, status.Dirty, status.Pending)
			return nil
		},
	})
	return cmd
}

func newWeekCommand(now func() time.Time) *cobra.Command {
	return &cobra.Command{
		Use:   "week [YYYY-MM-DD]",
		Short: "Print the reporting week containing a date",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date := now()
			if len(args) == 1 {
				parsed, err := week.ParseDate(args[0])
				if err != nil {
					return err
				}
				date = parsed
			}
			p := week.Canonical(date)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "week %d of %d: %s\n", p.Number, p.Year, p)
			for _, d := range p.Days() {
				fmt.Fprintf(out, "  %-9s %s\n", d.Weekday(), d.Format(week.DateLayout))
			}
			return nil
		},
	}
}

func newJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "trigger <job>",
		Short: "Enqueue a maintenance job (idempotency-cleanup)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(cmd, func(ctx context.Context, c *JobsCLI) error {
				info, err := c.Trigger(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show default queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(cmd, func(ctx context.Context, c *JobsCLI) error {
				stats, err := c.InspectQueue(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queue %s: pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
					stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
				return nil
			})
		},
	})
	return cmd
}

func withJobs(cmd *cobra.Command, fn func(context.Context, *JobsCLI) error) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	c, err := NewJobsCLI(cfg.RedisAddr, cfg.IdempotencyRetention)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(cmd.Context(), c)
}

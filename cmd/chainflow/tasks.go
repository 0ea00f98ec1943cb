package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"chainflow/internal/config"
	"chainflow/internal/domain"
	"chainflow/internal/engine"
)

func newRunCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "run <task-id>",
		Short: "Execute one task chain now and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := newApp(ctx, *cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.engine.ExecuteChain(ctx, args[0], engine.TriggerManual)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if res.Status == domain.ChainFail {
				return errors.Errorf("chain %s failed", args[0])
			}
			return nil
		},
	}
}

func newTasksCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List main tasks with their schedule and next run",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			a, err := newApp(ctx, *cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			tasks, err := a.admin.ListMainTasks(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSCHEDULE\tENABLED\tNEXT RUN\tLAST STATUS")
			for _, t := range tasks {
				sched := "-"
				if t.Schedule != nil {
					sched = t.Schedule.String()
				}
				next := "-"
				if t.Status.NextRunTime.Valid {
					next = t.Status.NextRunTime.Time.Local().Format(time.DateTime)
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", t.ID, sched, t.Enabled, next, t.Status.LastStatus.ValueOrZero())
			}
			return tw.Flush()
		},
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

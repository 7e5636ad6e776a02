package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"report_scheduler/internal/app"
	"report_scheduler/internal/config"
	"report_scheduler/internal/generator"
	"report_scheduler/internal/scheduler"
	"report_scheduler/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var runCmd = &cobra.Command{
	Use:   "run <scheduler-id>",
	Short: "Run a scheduler now and send its notification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(d deps) error {
			report, err := d.Schedulers.RunNow(cmd.Context(), id)
			if report != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", report, report.Status)
			}
			if err != nil {
				return err
			}
			links, err := d.Reports.ResultLinks(cmd.Context(), report)
			if err != nil {
				return err
			}
			for _, link := range links {
				fmt.Fprintf(cmd.OutOrStdout(), "- %s\n", link)
			}
			return nil
		})
	},
}

var runDueCmd = &cobra.Command{
	Use:   "run-due",
	Short: "Run every enabled scheduler whose next run time has passed",
	Long: `Run every enabled scheduler whose next run time has passed, once.

Useful when the server runs with the scheduler worker disabled and
an external cron triggers the runs instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(d deps) error {
			n, err := d.Schedulers.RunDue(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "Ran %d scheduler(s)\n", n)
			return err
		})
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview <scheduler-id> <report-id>",
	Short: "Print the notification a scheduler would send for a report",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		schedulerID, err := parseID(args[0])
		if err != nil {
			return err
		}
		reportID, err := parseID(args[1])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(d deps) error {
			text, err := d.Schedulers.Preview(cmd.Context(), schedulerID, reportID)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
			return nil
		})
	},
}

var reportTypesCmd = &cobra.Command{
	Use:   "report-types",
	Short: "List the configured report types",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(d deps) error {
			for _, t := range d.Generators.Types() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", t.Key, t.Name)
			}
			return nil
		})
	},
}

type deps struct {
	fx.In

	Reports    service.ReportService
	Schedulers *scheduler.Service
	Generators *generator.Registry
}

// withApp builds the application graph, runs fn and tears the graph down.
func withApp(ctx context.Context, fn func(d deps) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var d deps
	application := fx.New(
		fx.Supply(cfg),
		app.Module,
		fx.Populate(&d),
		fx.NopLogger,
	)
	if err := application.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := application.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = application.Stop(stopCtx)
	}()

	return fn(d)
}

func loadConfig() (config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.Load()
}

func parseID(s string) (uint, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return uint(id), nil
}

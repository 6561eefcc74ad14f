package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/wxbot/internal/application/scheduler"
	"github.com/alejandrodnm/wxbot/internal/domain"
)

var (
	cycleDryRun bool
	cycleID     string
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run a single cycle and exit",
	Long: `Run a single cycle now and print its report.

The cycle id defaults to the current AM/PM cycle, so running this command
twice in the same half-day never trades the same bracket twice.

Examples:
  wxbot cycle --dry-run --table
  wxbot cycle --id 2026-07-10-PM`,
	RunE: runCycle,
}

func init() {
	rootCmd.AddCommand(cycleCmd)
	cycleCmd.Flags().BoolVar(&cycleDryRun, "dry-run", false, "compute and journal signals without sending orders")
	cycleCmd.Flags().StringVar(&cycleID, "id", "", "explicit cycle id (default: current AM/PM cycle)")
}

func runCycle(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, cycleDryRun)
	if err != nil {
		return err
	}
	defer a.close()

	if cycleID != "" {
		res, err := a.engine.RunCycle(ctx, cycleID)
		if err != nil {
			return err
		}
		a.console.PrintCycle(summary(res))
		return nil
	}

	sched, err := scheduler.New(scheduler.Config{
		Specs:        cfg.Schedule.Cron,
		Location:     cfg.ScheduleLocation(),
		BoundaryHour: cfg.Schedule.BoundaryHour,
	}, a.engine)
	if err != nil {
		return err
	}
	res, err := sched.RunNow(ctx)
	if err != nil {
		return err
	}
	a.console.PrintCycle(summary(res))
	return nil
}

// currentCycle devuelve el id del ciclo en curso, para mensajes.
func currentCycle() string {
	return domain.CycleID(time.Now(), cfg.ScheduleLocation(), cfg.Schedule.BoundaryHour)
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/wxbot/internal/application/scheduler"
)

var (
	runDryRun bool
	runNow    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run cycles on the configured cron schedule",
	Long: `Run cycles on the configured cron schedule until interrupted.

A cycle never overlaps the previous one: a tick that fires while a cycle is
still running is skipped. Create the kill switch file to stop new entries
without stopping the process; exits and settlement keep running.

Examples:
  wxbot run
  wxbot run --now --table
  wxbot run --dry-run --format json`,
	RunE: runScheduler,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "compute and journal signals without sending orders")
	runCmd.Flags().BoolVar(&runNow, "now", false, "run one cycle immediately before waiting for the schedule")
}

func runScheduler(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, runDryRun)
	if err != nil {
		return err
	}
	defer a.close()

	// Las claves de dedup solo importan dentro de su ciclo.
	if n, err := a.store.PruneClaims(ctx, time.Now().Add(-7*24*time.Hour)); err != nil {
		slog.Warn("run: prune dedup claims", "err", err)
	} else if n > 0 {
		slog.Info("run: pruned dedup claims", "count", n)
	}

	sched, err := scheduler.New(scheduler.Config{
		Specs:        cfg.Schedule.Cron,
		Location:     cfg.ScheduleLocation(),
		BoundaryHour: cfg.Schedule.BoundaryHour,
	}, a.engine)
	if err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(a), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			slog.Info("run: metrics listening", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("run: metrics server", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	slog.Info("wxbot starting",
		"config", configPath,
		"subjects", len(a.subjects),
		"schedule", cfg.Schedule.Cron,
		"dry_run", cfg.Engine.DryRun || runDryRun,
	)

	if runNow {
		if res, err := sched.RunNow(ctx); err != nil {
			slog.Error("run: cycle failed", "err", err)
		} else {
			a.console.PrintCycle(summary(res))
		}
	}

	sched.Start(ctx)
	_, runs, lastErr := sched.Last()
	slog.Info("wxbot stopped cleanly", "cycles", runs, "last_err", lastErr)
	return nil
}

// metricsMux sirve /metrics y un /healthz con el estado de los breakers.
func metricsMux(a *app) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.recorder.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		status := http.StatusOK
		if a.weather.State() == "open" || a.exchange.State() == "open" {
			status = http.StatusServiceUnavailable
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte("weather=" + a.weather.State() + " exchange=" + a.exchange.State() + "\n"))
	})
	return mux
}

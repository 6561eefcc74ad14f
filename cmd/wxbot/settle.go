package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Settle positions of finished events",
	Long: `Poll the exchange for every past event that still has unsettled positions
and settle them. Settlements whose value disagrees with the tracked running
extreme are flagged for manual review, never corrected.

The loss breaker is only updated by scheduled cycles.`,
	RunE: runSettle,
}

var mismatchesCmd = &cobra.Command{
	Use:   "mismatches",
	Short: "List settlements flagged for manual review",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer a.close()
		ms, err := a.store.Mismatches(cmd.Context())
		if err != nil {
			return err
		}
		if len(ms) == 0 {
			fmt.Println("no settlement mismatches")
			return nil
		}
		a.console.PrintMismatches(ms)
		return nil
	},
}

var resetBreakerCmd = &cobra.Command{
	Use:   "reset-breaker",
	Short: "Clear a tripped loss circuit breaker",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.engine.ResetBreaker(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("circuit breaker reset; entries resume next cycle (current: %s)\n", currentCycle())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(settleCmd, mismatchesCmd, resetBreakerCmd)
}

func runSettle(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	n, pnl, mismatches := a.engine.Settle(ctx, time.Now(), nil)
	a.console.PrintSettlement(n, pnl, mismatches)
	return nil
}

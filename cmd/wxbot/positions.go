package main

import (
	"github.com/spf13/cobra"

	"github.com/alejandrodnm/wxbot/internal/adapters/notify"
)

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Show live positions with their current margin",
	Long: `Show live positions graded DANGER, EDGE, TIGHT, WATCH or SAFE by how far
the current estimate sits from the bracket boundary where the position
starts losing. On the settlement day the running extreme is shown too.`,
	RunE: runPositions,
}

func init() {
	rootCmd.AddCommand(positionsCmd)
}

func runPositions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.close()

	views, err := a.engine.Positions(ctx)
	if err != nil {
		return err
	}
	rows := make([]notify.PositionRow, 0, len(views))
	for _, v := range views {
		rows = append(rows, notify.PositionRow{
			Position:   v.Position,
			Bid:        v.Bid,
			Mean:       v.Mean,
			Running:    v.Running,
			Margin:     string(v.Margin),
			Unrealized: v.Unrealized,
		})
	}
	a.console.PrintPositions(rows, a.engine.Snapshot())
	return nil
}

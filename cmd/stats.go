package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"obituaries/internal/bootstrap"
	"obituaries/internal/bootstrap/logging"
	"obituaries/internal/errs"
	"obituaries/internal/transport/wire"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Inspect and repair the aggregate counters",
}

var statsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print totals and distributions",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		snapshot, err := app.Service.Stats(ctx)
		if err != nil {
			return errs.Wrap(err, "read stats")
		}
		return printJSON(cmd, wire.FromSnapshot(snapshot))
	}),
}

var statsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Compare stored counters with a recount of the records",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		divergences, err := app.Service.CheckStats(ctx)
		if err != nil {
			return errs.Wrap(err, "check stats")
		}
		if err := printJSON(cmd, wire.FromDivergences(divergences)); err != nil {
			return err
		}

		strict, _ := cmd.Flags().GetBool("strict")
		if strict && len(divergences) > 0 {
			return fmt.Errorf("%d counter(s) diverge from the records", len(divergences))
		}
		return nil
	}),
}

var statsRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Recount every counter from the records",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		snapshot, err := app.Service.RebuildStats(ctx)
		if err != nil {
			logging.Error(ctx, "rebuild stats failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "rebuild stats")
		}
		logging.Info(ctx, "stats rebuilt", slog.Int64("total_obituaries", snapshot.TotalObituaries))
		return printJSON(cmd, wire.FromSnapshot(snapshot))
	}),
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.AddCommand(statsShowCmd)
	statsCmd.AddCommand(statsCheckCmd)
	statsCmd.AddCommand(statsRebuildCmd)

	statsCheckCmd.Flags().Bool("strict", false, "Exit with an error when any counter diverges")
}

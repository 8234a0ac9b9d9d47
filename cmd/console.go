package cmd

import (
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"obituaries/internal/bootstrap"
	"obituaries/internal/bootstrap/logging"
	"obituaries/internal/errs"
	"obituaries/internal/usecase/reviewconsole"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Terminal console commands",
}

var consoleReviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Start the verifier review console",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		verifier, _ := cmd.Flags().GetString("verifier")
		status, _ := cmd.Flags().GetString("status")
		chainID, _ := cmd.Flags().GetInt64("chain")
		refreshInterval, _ := cmd.Flags().GetDuration("refresh-interval")

		model := reviewconsole.NewReviewModel(ctx, app.Service, reviewconsole.ReviewOptions{
			Verifier:        verifier,
			StatusFilter:    status,
			ChainID:         chainID,
			RefreshInterval: refreshInterval,
		})

		program := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := program.Run(); err != nil {
			return errs.Wrap(err, "run review console")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.AddCommand(consoleReviewCmd)
	consoleReviewCmd.Flags().String("verifier", "", "Address votes are cast as")
	consoleReviewCmd.Flags().String("status", "open", "open|all|pending|disputed|verified|rejected")
	consoleReviewCmd.Flags().Int64("chain", 0, "Optional chain id filter")
	consoleReviewCmd.Flags().Duration("refresh-interval", 5*time.Second, "Auto refresh interval")
}

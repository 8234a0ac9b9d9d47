package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"obituaries/internal/bootstrap"
	"obituaries/internal/bootstrap/logging"
	"obituaries/internal/errs"
	"obituaries/internal/ports"
	"obituaries/internal/transport/wire"
	obituaryuc "obituaries/internal/usecase/obituary"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Request an AI risk analysis of a contract",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		address, _ := cmd.Flags().GetString("address")
		chainID, _ := cmd.Flags().GetInt64("chain")
		abi, err := readOptionalFile(cmd, "abi-file")
		if err != nil {
			return err
		}
		source, err := readOptionalFile(cmd, "source-file")
		if err != nil {
			return err
		}

		res, err := app.Service.AnalyzeContract(ctx, obituaryuc.AnalyzeInput{
			ContractAddress: address,
			ChainID:         chainID,
			SourceCode:      source,
			ABI:             abi,
		})
		if err != nil {
			logging.Error(ctx, "analyze contract failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "analyze contract")
		}
		return printJSON(cmd, wire.AnalyzeResponse{Analysis: res.Analysis, Cached: res.Cached})
	}),
}

var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Draft an obituary description from evidence",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		address, _ := cmd.Flags().GetString("address")
		reason, _ := cmd.Flags().GetString("reason")
		evidence, _ := cmd.Flags().GetStringSlice("evidence")

		text, err := app.Service.DraftDescription(ctx, ports.DescriptionRequest{
			ContractAddress: address,
			Reason:          reason,
			Evidence:        evidence,
		})
		if err != nil {
			return errs.Wrap(err, "draft description")
		}
		return printJSON(cmd, wire.DescriptionResponse{Description: text})
	}),
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(describeCmd)

	analyzeCmd.Flags().String("address", "", "Contract address")
	analyzeCmd.Flags().Int64("chain", 1, "Chain id")
	analyzeCmd.Flags().String("abi-file", "", "Optional path to the contract ABI JSON")
	analyzeCmd.Flags().String("source-file", "", "Optional path to the contract source")
	_ = analyzeCmd.MarkFlagRequired("address")

	describeCmd.Flags().String("address", "", "Contract address")
	describeCmd.Flags().String("reason", "", "exploited|deprecated|abandoned|rugpull|malicious")
	describeCmd.Flags().StringSlice("evidence", nil, "Evidence links")
	_ = describeCmd.MarkFlagRequired("address")
	_ = describeCmd.MarkFlagRequired("reason")
}

func readOptionalFile(cmd *cobra.Command, flag string) (string, error) {
	path, _ := cmd.Flags().GetString(flag)
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", errs.Wrapf(err, "read %s %q", flag, path)
	}
	return string(raw), nil
}

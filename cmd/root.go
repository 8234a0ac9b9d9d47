/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"obituaries/internal/bootstrap/logging"
	"obituaries/internal/errs"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:          "obituaries",
	Short:        "Registry of dead and dangerous smart contracts",
	Long:         "Record, verify, search and stream smart contract obituaries. Cobra + Viper + GORM(SQLite no-cgo).",
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	// The config may replace this logger once it is loaded.
	logger, err := logging.NewLogger(rootCmd.ErrOrStderr(), "text", "info")
	if err != nil {
		return err
	}
	logging.SetDefault(logger)
	ctx = logging.WithAttrs(ctx, slog.String("app", "obituaries"))

	rootCmd.SetContext(ctx)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logging.Error(ctx, "command execution failed", slog.Any("err", errs.Loggable(err)))
		return errs.Wrap(err, "execute root command")
	}

	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "configs/config.yaml", "Config file path")
}

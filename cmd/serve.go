/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"obituaries/internal/bootstrap"
	"obituaries/internal/bootstrap/config"
	"obituaries/internal/bootstrap/logging"
	"obituaries/internal/errs"
	"obituaries/internal/transport/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and the WebSocket change feed",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = logging.WithAttrs(ctx, slog.String("command", cmd.CommandPath()))

		addr, _ := cmd.Flags().GetString("addr")
		if strings.TrimSpace(addr) == "" {
			addr = app.Config.Server.Addr
		}

		server := httpapi.NewServer(ctx, addr, app.Service, app.Hub, httpapi.Options{
			RequestTimeout: app.Config.Server.RequestTimeout,
			RateLimit:      app.Config.Server.RateLimit,
			Burst:          app.Config.Server.Burst,
			Metrics:        app.Metrics,
			MetricsHandler: promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{}),
		})

		if v := app.Config.Verification; v.WatchPolicy && strings.TrimSpace(v.PolicyFile) != "" {
			go func() {
				if err := config.WatchPolicyFile(ctx, v, app.Service.SetPolicy); err != nil {
					logging.Warn(ctx, "policy watcher stopped", slog.Any("err", errs.Loggable(err)))
				}
			}()
		}

		if every := app.Config.Feed.SyncInterval; every > 0 {
			go func() {
				if err := app.Service.Follow(ctx, every); err != nil {
					logging.Warn(ctx, "store follower stopped", slog.Any("err", errs.Loggable(err)))
				}
			}()
		}

		serveErr := make(chan error, 1)
		go func() {
			serveErr <- server.ListenAndServe()
		}()
		logging.Info(ctx, "http server started", slog.String("addr", addr))

		select {
		case err := <-serveErr:
			if err != nil {
				logging.Error(ctx, "http server failed", slog.Any("err", errs.Loggable(err)))
			}
			return err
		case <-ctx.Done():
		}

		logging.Info(ctx, "shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.Warn(ctx, "http server shutdown incomplete", slog.Any("err", errs.Loggable(err)))
			return err
		}
		return <-serveErr
	}),
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (default: server.addr from config)")
}

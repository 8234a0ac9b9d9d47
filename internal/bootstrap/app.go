package bootstrap

import (
	"context"
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"obituaries/internal/bootstrap/config"
	"obituaries/internal/bootstrap/database"
	"obituaries/internal/bootstrap/logging"
	"obituaries/internal/errs"
	"obituaries/internal/feed"
	"obituaries/internal/ports"
	obituaryuc "obituaries/internal/usecase/obituary"
)

// App is what commands get after the container has started: the schema is
// migrated and the in-memory projections are warm.
type App struct {
	Config   config.Config
	DB       *gorm.DB
	Service  *obituaryuc.Service
	Hub      *feed.Hub
	Registry *prometheus.Registry
	Metrics  ports.Metrics
}

func (a *App) InitSchema(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.app"))
	logging.Info(logCtx, "start schema migration")

	if err := database.Migrate(ctx, a.DB); err != nil {
		return err
	}

	logging.Info(logCtx, "schema migration completed")
	return nil
}

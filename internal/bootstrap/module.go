package bootstrap

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"obituaries/internal/bootstrap/config"
	"obituaries/internal/bootstrap/database"
	"obituaries/internal/bootstrap/logging"
	domainobituary "obituaries/internal/domain/obituary"
	"obituaries/internal/errs"
	"obituaries/internal/feed"
	cacheinfra "obituaries/internal/infrastructure/cache"
	"obituaries/internal/infrastructure/enrichment"
	"obituaries/internal/infrastructure/metrics"
	sqliterepo "obituaries/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "obituaries/internal/infrastructure/persistence/sqlite/uow"
	"obituaries/internal/ports"
	obituaryuc "obituaries/internal/usecase/obituary"
)

const metricsNamespace = "obituaries"

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Invoke(configureLogging),
	fx.Provide(provideDatabase),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewObituaryRepository,
			fx.As(new(ports.ObituaryRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewIdempotencyRepository,
			fx.As(new(ports.IdempotencyStore)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewStatsRepository,
			fx.As(new(ports.StatsCounterStore)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliteuow.NewUnitOfWork,
			fx.As(new(ports.UnitOfWork)),
		),
	),
	fx.Provide(provideCache),
	fx.Provide(provideRegistry),
	fx.Provide(
		fx.Annotate(
			provideMetrics,
			fx.As(new(ports.Metrics)),
		),
	),
	fx.Provide(provideHub),
	fx.Provide(providePublisher),
	fx.Provide(provideSources),
	fx.Provide(provideAnalyzer),
	fx.Provide(provideService),
	fx.Provide(provideApp),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

// configureLogging replaces the process logger once the config is known.
func configureLogging(cfg config.Config) error {
	logger, err := logging.NewLogger(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return errs.Wrap(err, "configure logging")
	}
	logging.SetDefault(logger.With(slog.String("app", cfg.App.Name), slog.String("env", cfg.App.Env)))
	return nil
}

// provideDatabase opens the store and migrates it on start, before any
// hook that reads from it.
func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			return database.Migrate(startCtx, db)
		},
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}

// provideCache returns nil when caching is disabled.
func provideCache(lc fx.Lifecycle, cfg config.Config, db *gorm.DB) (ports.Cache, error) {
	var backend ports.Cache
	switch strings.ToLower(cfg.Cache.Backend) {
	case "none":
		return nil, nil
	case "redis":
		rc := cacheinfra.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.RedisPrefix)
		lc.Append(fx.Hook{
			OnStart: func(startCtx context.Context) error {
				return rc.Ping(startCtx)
			},
			OnStop: func(_ context.Context) error {
				return rc.Close()
			},
		})
		backend = rc
	default:
		backend = cacheinfra.NewSQLiteCache(db)
	}
	tiered, err := cacheinfra.NewTieredCache(backend, cfg.Cache.LRUSize, cfg.Cache.TTL)
	if err != nil {
		return nil, err
	}
	return tiered, nil
}

func provideRegistry() (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, errs.Wrap(err, "register go collector")
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, errs.Wrap(err, "register process collector")
	}
	return reg, nil
}

func provideMetrics(reg *prometheus.Registry) (*metrics.Prometheus, error) {
	return metrics.New(metricsNamespace, reg)
}

func provideHub(lc fx.Lifecycle, cfg config.Config, m ports.Metrics) *feed.Hub {
	hub := feed.NewHub(cfg.Feed.Backlog, m)
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			hub.Close()
			return nil
		},
	})
	return hub
}

// providePublisher fans committed events out to the local hub and, when
// configured, to NATS.
func providePublisher(lc fx.Lifecycle, ctx context.Context, cfg config.Config, hub *feed.Hub) (ports.EventPublisher, error) {
	url := strings.TrimSpace(cfg.Feed.NATSURL)
	if url == "" {
		return hub, nil
	}

	relay, err := feed.NewNATSRelay(url, cfg.Feed.NATSSubject)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return relay.Close()
		},
	})

	logging.Info(
		logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx")),
		"nats relay enabled",
		slog.String("subject", cfg.Feed.NATSSubject),
	)
	return feed.Fanout{hub, relay}, nil
}

func provideSources(cfg config.Config) ports.ContractSourceLookup {
	if strings.TrimSpace(cfg.Enrichment.EtherscanKey) == "" {
		return nil
	}
	return enrichment.NewEtherscanClient(enrichment.EtherscanConfig{
		BaseURL:  cfg.Enrichment.EtherscanURL,
		APIKey:   cfg.Enrichment.EtherscanKey,
		Timeout:  cfg.Enrichment.Timeout,
		MaxTries: cfg.Enrichment.MaxTries,
	})
}

// provideAnalyzer returns nil when no analysis backend is configured.
func provideAnalyzer(cfg config.Config) ports.ContractAnalyzer {
	e := cfg.Enrichment
	if strings.EqualFold(e.AIProvider, "openai") {
		if strings.TrimSpace(e.AIKey) == "" {
			return nil
		}
		return enrichment.NewOpenAIAnalyzer(enrichment.OpenAIConfig{
			BaseURL:  e.AIEndpoint,
			APIKey:   e.AIKey,
			Model:    e.AIModel,
			Timeout:  e.Timeout,
			MaxTries: e.MaxTries,
		})
	}

	client := enrichment.NewAIClient(enrichment.AIConfig{
		Endpoint: e.AIEndpoint,
		APIKey:   e.AIKey,
		Timeout:  e.Timeout,
		MaxTries: e.MaxTries,
	})
	if !client.Configured() {
		return nil
	}
	return client
}

type serviceParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Ctx       context.Context
	Config    config.Config
	Repo      ports.ObituaryRepository
	UoW       ports.UnitOfWork
	Keys      ports.IdempotencyStore
	Counters  ports.StatsCounterStore
	Publisher ports.EventPublisher
	Hub       *feed.Hub
	Metrics   ports.Metrics
	Cache     ports.Cache                `optional:"true"`
	Sources   ports.ContractSourceLookup `optional:"true"`
	Analyzer  ports.ContractAnalyzer     `optional:"true"`
}

// provideService builds the obituary service and warms its projections on
// start.
func provideService(p serviceParams) (*obituaryuc.Service, error) {
	policy, err := p.Config.Verification.Policy()
	if err != nil {
		return nil, errs.Wrap(err, "verification policy")
	}
	votePolicy, err := domainobituary.ParseVotePolicy(p.Config.Verification.VotePolicy)
	if err != nil {
		return nil, errs.Wrap(err, "vote policy")
	}

	svc, err := obituaryuc.NewService(obituaryuc.Deps{
		Repo:      p.Repo,
		UoW:       p.UoW,
		Keys:      p.Keys,
		Counters:  p.Counters,
		Publisher: p.Publisher,
		Followers: p.Hub,
		Metrics:   p.Metrics,
		Cache:     p.Cache,
		Sources:   p.Sources,
		Analyzer:  p.Analyzer,
	}, obituaryuc.Options{
		Policy:      policy,
		VotePolicy:  votePolicy,
		AnalysisTTL: p.Config.Cache.TTL,
	})
	if err != nil {
		return nil, err
	}

	logCtx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			if err := svc.Warm(startCtx); err != nil {
				return errs.Wrap(err, "warm projections")
			}
			logging.Info(logCtx, "projections warmed", slog.Int("records", svc.IndexSize()))
			return nil
		},
	})
	return svc, nil
}

type appParams struct {
	fx.In

	Config   config.Config
	DB       *gorm.DB
	Service  *obituaryuc.Service
	Hub      *feed.Hub
	Registry *prometheus.Registry
	Metrics  ports.Metrics
}

func provideApp(p appParams) *App {
	return &App{
		Config:   p.Config,
		DB:       p.DB,
		Service:  p.Service,
		Hub:      p.Hub,
		Registry: p.Registry,
		Metrics:  p.Metrics,
	}
}

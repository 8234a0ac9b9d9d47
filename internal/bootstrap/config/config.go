package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"obituaries/internal/bootstrap/logging"
	domainobituary "obituaries/internal/domain/obituary"
	"obituaries/internal/errs"
)

const EnvPrefix = "OBIT"

type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Log          LogConfig          `mapstructure:"log"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Server       ServerConfig       `mapstructure:"server"`
	Verification VerificationConfig `mapstructure:"verification"`
	Feed         FeedConfig         `mapstructure:"feed"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Enrichment   EnrichmentConfig   `mapstructure:"enrichment"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type LogConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

type DatabaseConfig struct {
	Driver      string        `mapstructure:"driver"`
	DSN         string        `mapstructure:"dsn"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	Burst           int           `mapstructure:"burst"`
}

type VerificationConfig struct {
	ApproveThreshold int    `mapstructure:"approve_threshold"`
	RejectThreshold  int    `mapstructure:"reject_threshold"`
	Quorum           int    `mapstructure:"quorum"`
	ApproveRatio     int    `mapstructure:"approve_ratio"`
	VotePolicy       string `mapstructure:"vote_policy"`

	// PolicyFile is a TOML or YAML file whose keys override the thresholds
	// above. WatchPolicy reloads it while serving.
	PolicyFile  string `mapstructure:"policy_file"`
	WatchPolicy bool   `mapstructure:"watch_policy"`
}

type FeedConfig struct {
	Backlog       int           `mapstructure:"backlog"`
	NATSURL       string        `mapstructure:"nats_url"`
	NATSSubject   string        `mapstructure:"nats_subject"`
	ReconnectBase time.Duration `mapstructure:"reconnect_base"`
	ReconnectMax  time.Duration `mapstructure:"reconnect_max"`

	// SyncInterval is how often serve picks up writes committed by other
	// processes on the same store. Zero disables it.
	SyncInterval time.Duration `mapstructure:"sync_interval"`
}

type CacheConfig struct {
	Backend       string        `mapstructure:"backend"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisPrefix   string        `mapstructure:"redis_prefix"`
	LRUSize       int           `mapstructure:"lru_size"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type EnrichmentConfig struct {
	EtherscanURL string `mapstructure:"etherscan_url"`
	EtherscanKey string `mapstructure:"etherscan_key"`

	// AIProvider selects the analysis backend: "http" for the dedicated
	// analysis service or "openai" for any OpenAI-compatible chat API.
	AIProvider string        `mapstructure:"ai_provider"`
	AIEndpoint string        `mapstructure:"ai_endpoint"`
	AIKey      string        `mapstructure:"ai_key"`
	AIModel    string        `mapstructure:"ai_model"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxTries   uint          `mapstructure:"max_tries"`
}

// Policy builds the verification policy from the thresholds and the
// optional policy file.
func (c VerificationConfig) Policy() (domainobituary.Policy, error) {
	policy := domainobituary.Policy{
		ApproveThreshold: c.ApproveThreshold,
		RejectThreshold:  c.RejectThreshold,
		Quorum:           c.Quorum,
		ApproveRatio:     c.ApproveRatio,
	}
	if path := strings.TrimSpace(c.PolicyFile); path != "" {
		return LoadPolicyFile(path, policy)
	}
	if err := policy.Validate(); err != nil {
		return domainobituary.Policy{}, err
	}
	return policy, nil
}

// LoadPolicyFile overlays a TOML or YAML policy file on base. Keys missing
// from the file keep the values of base.
func LoadPolicyFile(path string, base domainobituary.Policy) (domainobituary.Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domainobituary.Policy{}, errs.Wrapf(err, "read policy file %q", path)
	}

	policy := base
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &policy)
	default:
		err = toml.Unmarshal(raw, &policy)
	}
	if err != nil {
		return domainobituary.Policy{}, errs.Wrapf(err, "decode policy file %q", path)
	}
	if err := policy.Validate(); err != nil {
		return domainobituary.Policy{}, err
	}
	return policy, nil
}

func Load(ctx context.Context, configFile string) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	// .env only fills variables that are not already set.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, errs.Wrap(err, "load .env")
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		} else {
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("database_driver", cfg.Database.Driver),
		slog.String("cache_backend", cfg.Cache.Backend),
		slog.Bool("nats_relay", cfg.Feed.NATSURL != ""),
	)

	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database.dsn is required")
	}
	if _, err := domainobituary.ParseVotePolicy(c.Verification.VotePolicy); err != nil {
		return errs.Wrap(err, "verification.vote_policy")
	}
	switch strings.ToLower(c.Cache.Backend) {
	case "sqlite", "none":
	case "redis":
		if strings.TrimSpace(c.Cache.RedisAddr) == "" {
			return errors.New("cache.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unsupported cache backend %q", c.Cache.Backend)
	}
	switch strings.ToLower(c.Enrichment.AIProvider) {
	case "http", "openai":
	default:
		return fmt.Errorf("unsupported enrichment.ai_provider %q", c.Enrichment.AIProvider)
	}
	if c.Feed.Backlog <= 0 {
		return fmt.Errorf("feed.backlog must be positive, got %d", c.Feed.Backlog)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "obituaries")
	v.SetDefault("app.env", "local")

	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/obituaries.sqlite")
	v.SetDefault("database.busy_timeout", 5*time.Second)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.request_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.burst", 20)

	policy := domainobituary.DefaultPolicy()
	v.SetDefault("verification.approve_threshold", policy.ApproveThreshold)
	v.SetDefault("verification.reject_threshold", policy.RejectThreshold)
	v.SetDefault("verification.quorum", policy.Quorum)
	v.SetDefault("verification.approve_ratio", policy.ApproveRatio)
	v.SetDefault("verification.vote_policy", string(domainobituary.VotePolicyReject))
	v.SetDefault("verification.policy_file", "")
	v.SetDefault("verification.watch_policy", false)

	v.SetDefault("feed.backlog", 64)
	v.SetDefault("feed.nats_url", "")
	v.SetDefault("feed.nats_subject", "obituaries")
	v.SetDefault("feed.reconnect_base", time.Second)
	v.SetDefault("feed.reconnect_max", 30*time.Second)
	v.SetDefault("feed.sync_interval", time.Second)

	v.SetDefault("cache.backend", "sqlite")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.redis_prefix", "obituaries:")
	v.SetDefault("cache.lru_size", 512)
	v.SetDefault("cache.ttl", 24*time.Hour)

	v.SetDefault("enrichment.etherscan_url", "https://api.etherscan.io/v2/api")
	v.SetDefault("enrichment.etherscan_key", "")
	v.SetDefault("enrichment.ai_provider", "http")
	v.SetDefault("enrichment.ai_endpoint", "")
	v.SetDefault("enrichment.ai_key", "")
	v.SetDefault("enrichment.ai_model", "gpt-4o-mini")
	v.SetDefault("enrichment.timeout", 30*time.Second)
	v.SetDefault("enrichment.max_tries", 3)
}

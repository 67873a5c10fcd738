package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mExOms/sor/internal/breaker"
	"github.com/mExOms/sor/internal/engine"
	"github.com/mExOms/sor/internal/execution"
	"github.com/mExOms/sor/internal/intake"
	"github.com/mExOms/sor/internal/monitor"
	"github.com/mExOms/sor/internal/notify"
	"github.com/mExOms/sor/internal/quality"
	"github.com/mExOms/sor/internal/risk"
	"github.com/mExOms/sor/internal/storage"
	natsclient "github.com/mExOms/sor/pkg/nats"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SOR_RISK_MAX_ORDER_NOTIONAL
const EnvPrefix = "SOR"

// Config is the service configuration
type Config struct {
	Server    ServerConfig      `mapstructure:"server"`
	Log       monitor.LogConfig `mapstructure:"log"`
	Risk      RiskConfig        `mapstructure:"risk"`
	Breaker   breaker.Config    `mapstructure:"breaker"`
	Quality   quality.Config    `mapstructure:"quality"`
	Routing   RoutingConfig     `mapstructure:"routing"`
	Jobs      engine.JobsConfig `mapstructure:"jobs"`
	Venues    VenuesConfig      `mapstructure:"venues"`
	Execution ExecutionConfig   `mapstructure:"execution"`
	Notify    NotifyConfig      `mapstructure:"notify"`
	Intake    IntakeConfig      `mapstructure:"intake"`
	Storage   StorageConfig     `mapstructure:"storage"`
}

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Version         string        `mapstructure:"version"`
}

// RiskConfig holds notional ceilings as decimal strings
type RiskConfig struct {
	MaxOrderNotional string `mapstructure:"max_order_notional"`
	MaxDailyNotional string `mapstructure:"max_daily_notional"`
}

// RoutingConfig tunes routing and learning
type RoutingConfig struct {
	LearningRate     float64       `mapstructure:"learning_rate"`
	PriceTTL         time.Duration `mapstructure:"price_ttl"`
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`
	BatchParallelism int           `mapstructure:"batch_parallelism"`
}

// VenuesConfig points at the venue catalogue
type VenuesConfig struct {
	Catalog string `mapstructure:"catalog"`
}

// ExecutionConfig selects the execution adapter
type ExecutionConfig struct {
	Adapter   string                    `mapstructure:"adapter"` // simulator or binance
	Simulator execution.SimulatorConfig `mapstructure:"simulator"`
	Binance   execution.BinanceConfig   `mapstructure:"binance"`
}

// NotifyConfig enables outbound event sinks
type NotifyConfig struct {
	Log   bool        `mapstructure:"log"`
	NATS  NATSConfig  `mapstructure:"nats"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type NATSConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	natsclient.Config `mapstructure:",squash"`
}

type KafkaConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	notify.KafkaConfig `mapstructure:",squash"`
}

// IntakeConfig enables order requests, heartbeats and prices over NATS.
// It shares the notify.nats connection.
type IntakeConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	intake.Config `mapstructure:",squash"`
}

// StorageConfig selects where learner snapshots are kept
type StorageConfig struct {
	Type  string              `mapstructure:"type"` // memory, file or redis
	File  storage.FileConfig  `mapstructure:"file"`
	Redis storage.RedisConfig `mapstructure:"redis"`
}

// Load reads configuration from an optional .env file, an optional YAML
// file and SOR_ environment variables, in increasing precedence
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.version", "dev")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)

	limits := risk.DefaultLimits()
	v.SetDefault("risk.max_order_notional", limits.MaxOrderNotional.String())
	v.SetDefault("risk.max_daily_notional", limits.MaxDailyNotional.String())

	br := breaker.DefaultConfig()
	v.SetDefault("breaker.window", br.Window)
	v.SetDefault("breaker.threshold", br.Threshold)
	v.SetDefault("breaker.cooldown", br.Cooldown)

	q := quality.DefaultConfig()
	v.SetDefault("quality.alert_threshold", q.AlertThreshold)
	v.SetDefault("quality.history_size", q.HistorySize)

	ec := engine.DefaultConfig()
	v.SetDefault("routing.learning_rate", ec.LearningRate)
	v.SetDefault("routing.price_ttl", ec.PriceTTL)
	v.SetDefault("routing.execution_timeout", ec.ExecutionTimeout)
	v.SetDefault("routing.batch_parallelism", 8)

	jobs := engine.DefaultJobsConfig()
	v.SetDefault("jobs.health_interval", jobs.HealthInterval)
	v.SetDefault("jobs.stale_after", jobs.StaleAfter)
	v.SetDefault("jobs.learning_interval", jobs.LearningInterval)
	v.SetDefault("jobs.min_samples", jobs.MinSamples)
	v.SetDefault("jobs.trend_interval", jobs.TrendInterval)
	v.SetDefault("jobs.trend_window", jobs.TrendWindow)
	v.SetDefault("jobs.snapshot_interval", jobs.SnapshotInterval)
	v.SetDefault("jobs.daily_reset", jobs.DailyReset)
	v.SetDefault("jobs.resume_interval", jobs.ResumeInterval)

	v.SetDefault("venues.catalog", "")

	sim := execution.DefaultSimulatorConfig()
	v.SetDefault("execution.adapter", "simulator")
	v.SetDefault("execution.simulator.seed", int64(0))
	v.SetDefault("execution.simulator.sleep", false)
	v.SetDefault("execution.simulator.slices", sim.Slices)
	v.SetDefault("execution.simulator.latency_jitter", sim.LatencyJitter)
	v.SetDefault("execution.simulator.slippage_jitter", sim.SlippageJitter)
	v.SetDefault("execution.binance.api_key", "")
	v.SetDefault("execution.binance.secret_key", "")
	v.SetDefault("execution.binance.testnet", true)
	v.SetDefault("execution.binance.rate_limit", 10.0)
	v.SetDefault("execution.binance.burst", 5)

	v.SetDefault("notify.log", true)
	v.SetDefault("notify.nats.enabled", false)
	v.SetDefault("notify.nats.url", "nats://localhost:4222")
	v.SetDefault("notify.nats.client_id", "sor-server")
	v.SetDefault("notify.kafka.enabled", false)
	v.SetDefault("notify.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("notify.kafka.topic", "sor.events")
	v.SetDefault("notify.kafka.batch_timeout", 50*time.Millisecond)

	in := intake.DefaultConfig()
	v.SetDefault("intake.enabled", false)
	v.SetDefault("intake.queue", in.Queue)
	v.SetDefault("intake.request_timeout", in.RequestTimeout)

	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.file.base_path", "./data")
	v.SetDefault("storage.file.compression_enabled", false)
	v.SetDefault("storage.file.retention_days", 7)
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.key", storage.DefaultRedisKey)
	v.SetDefault("storage.redis.ttl", time.Duration(0))
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.dial_timeout", 5*time.Second)
	v.SetDefault("storage.redis.read_timeout", 3*time.Second)
	v.SetDefault("storage.redis.write_timeout", 3*time.Second)
}

// Validate checks values that viper cannot
func (c *Config) Validate() error {
	if _, err := c.Limits(); err != nil {
		return err
	}
	if c.Breaker.Threshold <= 0 {
		return fmt.Errorf("breaker.threshold must be positive")
	}
	if c.Routing.LearningRate <= 0 || c.Routing.LearningRate >= 1 {
		return fmt.Errorf("routing.learning_rate must be in (0,1), got %v", c.Routing.LearningRate)
	}
	switch c.Execution.Adapter {
	case "simulator":
	case "binance":
		if c.Execution.Binance.APIKey == "" || c.Execution.Binance.SecretKey == "" {
			return fmt.Errorf("execution.binance requires api_key and secret_key")
		}
	default:
		return fmt.Errorf("unknown execution adapter %q", c.Execution.Adapter)
	}
	switch c.Storage.Type {
	case "memory", "file", "redis":
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	if c.Notify.Kafka.Enabled && (len(c.Notify.Kafka.Brokers) == 0 || c.Notify.Kafka.Topic == "") {
		return fmt.Errorf("notify.kafka requires brokers and topic")
	}
	if c.Intake.Enabled && !c.Notify.NATS.Enabled {
		return fmt.Errorf("intake requires notify.nats.enabled")
	}
	return nil
}

// Limits parses the notional ceilings
func (c *Config) Limits() (risk.Limits, error) {
	perOrder, err := decimal.NewFromString(c.Risk.MaxOrderNotional)
	if err != nil {
		return risk.Limits{}, fmt.Errorf("invalid risk.max_order_notional: %w", err)
	}
	daily, err := decimal.NewFromString(c.Risk.MaxDailyNotional)
	if err != nil {
		return risk.Limits{}, fmt.Errorf("invalid risk.max_daily_notional: %w", err)
	}
	if !perOrder.IsPositive() || !daily.IsPositive() {
		return risk.Limits{}, fmt.Errorf("notional limits must be positive")
	}
	return risk.Limits{MaxOrderNotional: perOrder, MaxDailyNotional: daily}, nil
}

// Engine builds the engine configuration
func (c *Config) Engine() engine.Config {
	limits, _ := c.Limits()
	return engine.Config{
		Limits:           limits,
		Breaker:          c.Breaker,
		Quality:          c.Quality,
		LearningRate:     c.Routing.LearningRate,
		PriceTTL:         c.Routing.PriceTTL,
		ExecutionTimeout: c.Routing.ExecutionTimeout,
	}
}

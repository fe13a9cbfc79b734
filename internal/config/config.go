// Package config loads service configuration from config.yaml and the
// environment. Environment variables use the ADDRPOOL_ prefix with dots
// replaced by underscores, e.g. ADDRPOOL_DATABASE_DSN.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Verify   VerifyConfig   `mapstructure:"verify"`
	LogLevel string         `mapstructure:"log_level"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // seconds
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

// KafkaConfig holds event publishing configuration
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	Enabled bool     `mapstructure:"enabled"`
}

// PoolConfig holds the reservation lifecycle parameters
type PoolConfig struct {
	// ReservationTTL is the window a reservation stays valid without a bound
	// deposit task. ExpiresAt is always ReservedAt + ReservationTTL.
	ReservationTTL time.Duration `mapstructure:"reservation_ttl"`
	// SweepInterval is how often the expiration sweeper scans for expired
	// reservations.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// GaugeInterval is how often pool size gauges are exported.
	GaugeInterval time.Duration `mapstructure:"gauge_interval"`
	// MinDepositUSD is the smallest amount a caller may reserve for.
	MinDepositUSD float64 `mapstructure:"min_deposit_usd"`
	// ReserveCandidates is how many available addresses the coordinator
	// fetches per attempt when racing other callers.
	ReserveCandidates int `mapstructure:"reserve_candidates"`
	// StatsCacheTTL bounds staleness of the cached stats view.
	StatsCacheTTL time.Duration `mapstructure:"stats_cache_ttl"`
}

// VerifyConfig holds the blockchain lookup client configuration
type VerifyConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoadConfig reads config.yaml (if present) and environment overrides.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvPrefix("ADDRPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate rejects configurations the lifecycle cannot run with.
func (c *Config) Validate() error {
	if c.Pool.ReservationTTL <= 0 {
		return fmt.Errorf("pool.reservation_ttl must be positive")
	}
	if c.Pool.SweepInterval <= 0 {
		return fmt.Errorf("pool.sweep_interval must be positive")
	}
	if c.Pool.MinDepositUSD <= 0 {
		return fmt.Errorf("pool.min_deposit_usd must be positive")
	}
	if c.Pool.ReserveCandidates <= 0 {
		return fmt.Errorf("pool.reserve_candidates must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.dsn", "host=localhost user=addrpool password=addrpool dbname=addrpool port=5432 sslmode=disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 3600)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", false)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "pool.events")
	v.SetDefault("kafka.enabled", false)

	v.SetDefault("pool.reservation_ttl", 24*time.Hour)
	v.SetDefault("pool.sweep_interval", time.Minute)
	v.SetDefault("pool.gauge_interval", 30*time.Second)
	v.SetDefault("pool.min_deposit_usd", 50)
	v.SetDefault("pool.reserve_candidates", 5)
	v.SetDefault("pool.stats_cache_ttl", 10*time.Second)

	v.SetDefault("verify.base_url", "https://blockstream.info/api")
	v.SetDefault("verify.timeout", 10*time.Second)
}

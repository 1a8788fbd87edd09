// Package config loads server settings from config.yaml, ECONGAMES_*
// environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/wfunc/econgames/monitor"
)

// EnvPrefix prefixes every environment override, e.g. ECONGAMES_SERVER_HTTP_ADDRESS.
const EnvPrefix = "ECONGAMES"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

type Config struct {
	Server    ServerConfig          `mapstructure:"server"`
	Log       LogConfig             `mapstructure:"log"`
	Store     StoreConfig           `mapstructure:"store"`
	SQLite    SQLiteConfig          `mapstructure:"sqlite"`
	Redis     RedisConfig           `mapstructure:"redis"`
	Database  DatabaseConfig        `mapstructure:"database"`
	Games     GamesConfig           `mapstructure:"games"`
	Sessions  SessionsConfig        `mapstructure:"sessions"`
	Telemetry monitor.TracingConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	HTTPAddress    string        `mapstructure:"http_address"`
	RPCAddress     string        `mapstructure:"rpc_address"`
	MetricsAddress string        `mapstructure:"metrics_address"`
	PublicURL      string        `mapstructure:"public_url"`
	Heartbeat      time.Duration `mapstructure:"heartbeat"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	Prefix     string `mapstructure:"prefix"`
	MaxRetries uint64 `mapstructure:"max_retries"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type GamesConfig struct {
	// PayoffsFile is an optional yaml file overriding the compiled-in payoffs.
	PayoffsFile string `mapstructure:"payoffs_file"`
}

type SessionsConfig struct {
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	MaxAge          time.Duration `mapstructure:"max_age"`
	MaxRetries      uint64        `mapstructure:"max_retries"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", "")
	v.SetDefault("server.metrics_address", "")
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.heartbeat", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("sqlite.path", "econgames.db")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "econgames")
	v.SetDefault("redis.max_retries", 5)

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.dbname", "econgames")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("games.payoffs_file", "")

	v.SetDefault("sessions.cleanup_interval", 10*time.Minute)
	v.SetDefault("sessions.max_age", time.Hour)
	v.SetDefault("sessions.max_retries", 25)

	v.SetDefault("telemetry.service_name", "econgames")
	v.SetDefault("telemetry.environment", "development")
	v.SetDefault("telemetry.zipkin_url", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// LoadConfig reads path, a config file or a directory holding config.yaml.
// A missing file is not an error. Flags, when given, override every other
// source; their names match config keys ("server.http_address").
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, err
		}
	}

	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(path)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Games.PayoffsFile != "" && !filepath.IsAbs(cfg.Games.PayoffsFile) && v.ConfigFileUsed() != "" {
		cfg.Games.PayoffsFile = filepath.Join(filepath.Dir(v.ConfigFileUsed()), cfg.Games.PayoffsFile)
	}
	return &cfg, cfg.Validate()
}

// Validate checks addresses, the store driver and the session timings.
func (c *Config) Validate() error {
	var errs []error
	for name, addr := range map[string]string{
		"server.http_address":    c.Server.HTTPAddress,
		"server.rpc_address":     c.Server.RPCAddress,
		"server.metrics_address": c.Server.MetricsAddress,
	} {
		if addr == "" {
			if name == "server.http_address" {
				errs = append(errs, fmt.Errorf("%s is required", name))
			}
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.SQLite.Path == "" {
			errs = append(errs, errors.New("sqlite.path is required for the sqlite driver"))
		}
	case DriverRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis driver"))
		}
	case DriverPostgres:
		p := c.Database.Postgres
		if p.Host == "" || p.DBName == "" {
			errs = append(errs, errors.New("database.postgres host and dbname are required"))
		}
		if p.Port <= 0 || p.Port > 65535 {
			errs = append(errs, fmt.Errorf("database.postgres.port %d out of range", p.Port))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	if c.Sessions.CleanupInterval < 0 {
		errs = append(errs, errors.New("sessions.cleanup_interval must not be negative"))
	}
	if c.Sessions.MaxAge <= 0 {
		errs = append(errs, errors.New("sessions.max_age must be positive"))
	}
	return errors.Join(errs...)
}

package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Wallet   WalletConfig   `mapstructure:"wallet"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port          string  `mapstructure:"port"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	RateBurst     int     `mapstructure:"rate_burst"`
	MetricsPath   string  `mapstructure:"metrics_path"`
}

type ChainConfig struct {
	RPCURL        string `mapstructure:"rpc_url"`
	WSURL         string `mapstructure:"ws_url"`
	ChainID       int64  `mapstructure:"chain_id"`
	CallTimeoutMs int    `mapstructure:"call_timeout_ms"`
}

type WalletConfig struct {
	// Hex private key of the trading account; orders are signed locally.
	PrivateKey string `mapstructure:"private_key"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DatabaseConfig struct {
	DSN                     string `mapstructure:"dsn"`
	SubmissionRetentionDays int    `mapstructure:"submission_retention_days"`
}

type ResolverConfig struct {
	// Buffer size for live event subscriptions.
	EventBuffer int `mapstructure:"event_buffer"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variables support
	// e.g. MARKETGATE_CHAIN_RPC_URL
	viper.SetEnvPrefix("marketgate")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.rate_per_second", 50)
	viper.SetDefault("server.rate_burst", 100)
	viper.SetDefault("server.metrics_path", "/metrics")
	viper.SetDefault("chain.chain_id", 1)
	viper.SetDefault("chain.call_timeout_ms", 5000)
	viper.SetDefault("resolver.event_buffer", 64)
	viper.SetDefault("database.submission_retention_days", 30)
	viper.SetDefault("log.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

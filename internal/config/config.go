package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime settings, loaded from the environment with
// sensible local-development defaults
type Config struct {
	Port      string
	JWTSecret string

	// DatabaseDSN selects postgres when set; empty falls back to a local
	// sqlite file for development
	DatabaseDSN  string
	DatabasePath string

	SplittingPollInterval time.Duration
	ExecutionPollInterval time.Duration
	RecoveryPollInterval  time.Duration

	SplittingWorkers int
	ExecutionWorkers int

	ExecutionBatchSize int
	MaxRetries         int

	SplitTimeout     time.Duration
	ExecutionTimeout time.Duration

	BrokerScenario string
	BrokerLatency  time.Duration
}

// Load reads configuration from the environment
func Load() *Config {
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("JWT_SECRET", "pulse-secret-key")
	viper.SetDefault("DATABASE_DSN", "")
	viper.SetDefault("DATABASE_PATH", "pulse.db")
	viper.SetDefault("SPLITTING_POLL_INTERVAL", "5s")
	viper.SetDefault("EXECUTION_POLL_INTERVAL", "5s")
	viper.SetDefault("RECOVERY_POLL_INTERVAL", "60s")
	viper.SetDefault("SPLITTING_WORKERS", 1)
	viper.SetDefault("EXECUTION_WORKERS", 2)
	viper.SetDefault("EXECUTION_BATCH_SIZE", 10)
	viper.SetDefault("MAX_RETRIES", 3)
	viper.SetDefault("SPLIT_TIMEOUT", "5m")
	viper.SetDefault("EXECUTION_TIMEOUT", "5m")
	viper.SetDefault("BROKER_SCENARIO", "success")
	viper.SetDefault("BROKER_LATENCY", "20ms")
	viper.AutomaticEnv()

	return &Config{
		Port:                  viper.GetString("PORT"),
		JWTSecret:             viper.GetString("JWT_SECRET"),
		DatabaseDSN:           viper.GetString("DATABASE_DSN"),
		DatabasePath:          viper.GetString("DATABASE_PATH"),
		SplittingPollInterval: viper.GetDuration("SPLITTING_POLL_INTERVAL"),
		ExecutionPollInterval: viper.GetDuration("EXECUTION_POLL_INTERVAL"),
		RecoveryPollInterval:  viper.GetDuration("RECOVERY_POLL_INTERVAL"),
		SplittingWorkers:      viper.GetInt("SPLITTING_WORKERS"),
		ExecutionWorkers:      viper.GetInt("EXECUTION_WORKERS"),
		ExecutionBatchSize:    viper.GetInt("EXECUTION_BATCH_SIZE"),
		MaxRetries:            viper.GetInt("MAX_RETRIES"),
		SplitTimeout:          viper.GetDuration("SPLIT_TIMEOUT"),
		ExecutionTimeout:      viper.GetDuration("EXECUTION_TIMEOUT"),
		BrokerScenario:        viper.GetString("BROKER_SCENARIO"),
		BrokerLatency:         viper.GetDuration("BROKER_LATENCY"),
	}
}

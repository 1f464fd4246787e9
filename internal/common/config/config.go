// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Transport TransportConfig `mapstructure:"transport"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Enabled   bool     `mapstructure:"enabled"`
}

// SchedulerConfig controls the due-notification polling loop.
type SchedulerConfig struct {
	TickInterval int `mapstructure:"tick_interval"` // seconds
	ClaimBatch   int `mapstructure:"claim_batch"`   // max due rows claimed per tick
}

// DispatchConfig controls the per-cycle fan-out.
type DispatchConfig struct {
	MaxConcurrency int `mapstructure:"max_concurrency"` // parallel endpoint attempts
	AttemptTimeout int `mapstructure:"attempt_timeout"` // milliseconds, per endpoint
}

type TransportConfig struct {
	Mode      string `mapstructure:"mode"` // "webpush" or "sns"
	AWSRegion string `mapstructure:"aws_region"`
	TTL       int    `mapstructure:"ttl"` // push message TTL, seconds
}

// DirectoryConfig controls subscription-directory behavior.
type DirectoryConfig struct {
	RecentTTL int `mapstructure:"recent_ttl"` // seconds an unlinked endpoint counts as "mine" for its session
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

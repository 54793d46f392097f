// Package config loads service configuration with the precedence
// runtime overrides > environment > config file > defaults.
package config

import "time"

// Config is the full service configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Dispatch     DispatchConfig     `mapstructure:"dispatch"`
	Recovery     RecoveryConfig     `mapstructure:"recovery"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	S3           S3Config           `mapstructure:"s3"`
	Staging      StagingConfig      `mapstructure:"staging"`
	Profiles     ProfilesConfig     `mapstructure:"profiles"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Format is "json" or "console".
	Format string `mapstructure:"format"`
}

// DatabaseConfig configures the job store.
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `mapstructure:"path"`
}

// RedisConfig configures the shared Redis client used for distributed locks
// and the dispatch log.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DispatchConfig configures the creation-event stream consumer.
type DispatchConfig struct {
	Stream   string `mapstructure:"stream"`
	Group    string `mapstructure:"group"`
	Consumer string `mapstructure:"consumer"`
}

// RecoveryConfig configures the stale-job monitor.
type RecoveryConfig struct {
	Interval            time.Duration `mapstructure:"interval"`
	StaleAfter          time.Duration `mapstructure:"stale_after"`
	RecoveriesPerSecond float64       `mapstructure:"recoveries_per_second"`
}

// OrchestratorConfig tunes orchestration behavior.
type OrchestratorConfig struct {
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// S3Config configures the S3 storage-provider handler.
type S3Config struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	Profile         string `mapstructure:"profile"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// StagingConfig configures where transfer workers stage fetched data.
type StagingConfig struct {
	Dir string `mapstructure:"dir"`
}

// ProfilesConfig points at the destination profile file imported at startup.
type ProfilesConfig struct {
	Path string `mapstructure:"path"`
}

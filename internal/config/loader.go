package config

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces all environment overrides (GOHAUL_PORT, ...).
const EnvPrefix = "GOHAUL"

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// envBindings maps config paths to their short environment variable names,
// so operators can set GOHAUL_PORT instead of GOHAUL_SERVER_PORT.
var envBindings = map[string]string{
	"server.host":             "HOST",
	"server.port":             "PORT",
	"server.read_timeout":     "READ_TIMEOUT",
	"server.write_timeout":    "WRITE_TIMEOUT",
	"server.shutdown_timeout": "SHUTDOWN_TIMEOUT",
	"logging.level":           "LOG_LEVEL",
	"logging.format":          "LOG_FORMAT",
	"database.path":           "DB_PATH",
	"redis.addr":              "REDIS_ADDR",
	"redis.password":          "REDIS_PASSWORD",
	"redis.db":                "REDIS_DB",
	"dispatch.group":          "DISPATCH_GROUP",
	"dispatch.consumer":       "DISPATCH_CONSUMER",
	"recovery.interval":       "RECOVERY_INTERVAL",
	"recovery.stale_after":    "RECOVERY_STALE_AFTER",
	"s3.region":               "S3_REGION",
	"s3.endpoint":             "S3_ENDPOINT",
	"s3.access_key_id":        "S3_ACCESS_KEY_ID",
	"s3.secret_access_key":    "S3_SECRET_ACCESS_KEY",
	"s3.force_path_style":     "S3_FORCE_PATH_STYLE",
	"staging.dir":             "STAGING_DIR",
	"profiles.path":           "PROFILES_PATH",
	"orchestrator.lock_ttl":   "LOCK_TTL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.path", "gohaul.db")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("dispatch.stream", "gohaul:jobs:created")
	v.SetDefault("dispatch.group", "gohaul")
	v.SetDefault("dispatch.consumer", "gohaul-1")

	v.SetDefault("recovery.interval", "1m")
	v.SetDefault("recovery.stale_after", "5m")
	v.SetDefault("recovery.recoveries_per_second", 5)

	v.SetDefault("orchestrator.lock_ttl", "15s")
	v.SetDefault("orchestrator.lock_timeout", "2s")

	v.SetDefault("s3.force_path_style", false)

	v.SetDefault("staging.dir", "/var/lib/gohaul/staging")
}

// Load builds the configuration. Optional runtime overrides (nested maps
// keyed like the config file) take precedence over environment variables,
// which take precedence over the config file and defaults. The loaded config
// is cached for GetConfig.
func Load(_ context.Context, overrides ...map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("gohaul")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/gohaul")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for path, name := range envBindings {
		if err := v.BindEnv(path, EnvPrefix+"_"+name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", name, err)
		}
	}

	// Explicit Set calls outrank environment bindings, giving runtime
	// overrides the top of the precedence order.
	for _, o := range overrides {
		applyOverrides(v, "", o)
	}

	var cfg Config
	decode := func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
	if err := v.Unmarshal(&cfg, decode); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// applyOverrides walks a nested override map and sets each leaf under its
// dotted path. Dotted keys are accepted directly.
func applyOverrides(v *viper.Viper, prefix string, values map[string]any) {
	for key, value := range values {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			applyOverrides(v, path, nested)
			continue
		}
		v.Set(path, value)
	}
}

// GetConfig returns the most recently loaded configuration, or nil when Load
// has not run.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("config: server port %d out of range", cfg.Server.Port)
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: unknown log format %q", cfg.Logging.Format)
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	return nil
}

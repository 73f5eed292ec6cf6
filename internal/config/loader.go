package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. CALENDAR_BACKEND_BASE_URL.
const EnvPrefix = "CALENDAR"

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
	envFile    string
}

func NewLoader() *Loader {
	return &Loader{v: viper.New(), envFile: ".env"}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) { l.configFile = path }

// SetEnvFile overrides the dotenv file read before env bindings ("" disables it).
func (l *Loader) SetEnvFile(path string) { l.envFile = path }

// Load applies defaults < config file < .env < env vars.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.envFile != "" {
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", l.envFile, err)
		}
	}

	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		return nil, err
	}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// ConfigFileUsed returns the file viper read, if any.
func (l *Loader) ConfigFileUsed() string { return l.v.ConfigFileUsed() }

// Viper exposes the underlying instance so cobra flags can be bound to keys.
func (l *Loader) Viper() *viper.Viper { return l.v }

func (l *Loader) setupViper(cfg *Config) {
	v := l.v
	v.SetConfigName("calendar")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.setDefaults(cfg)
	v.AutomaticEnv()
}

// setDefaults registers every key so AutomaticEnv can see nested fields.
func (l *Loader) setDefaults(cfg *Config) {
	v := l.v

	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.max_body_bytes", cfg.Server.MaxBodyBytes)
	v.SetDefault("server.api_keys", cfg.Server.APIKeys)
	v.SetDefault("server.rate_limit_per_min", cfg.Server.RateLimitPerMin)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)

	v.SetDefault("backend.mode", cfg.Backend.Mode)
	v.SetDefault("backend.base_url", cfg.Backend.BaseURL)
	v.SetDefault("backend.token", cfg.Backend.Token)
	v.SetDefault("backend.timeout", cfg.Backend.Timeout)
	v.SetDefault("backend.breaker_failures", cfg.Backend.BreakerFailures)
	v.SetDefault("backend.breaker_window", cfg.Backend.BreakerWindow)
	v.SetDefault("backend.breaker_delay", cfg.Backend.BreakerDelay)

	v.SetDefault("postgres.dsn", cfg.Postgres.DSN)
	v.SetDefault("postgres.migration", cfg.Postgres.Migration)

	v.SetDefault("redis.enabled", cfg.Redis.Enabled)
	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.password", cfg.Redis.Password)
	v.SetDefault("redis.db", cfg.Redis.DB)
	v.SetDefault("redis.key_prefix", cfg.Redis.KeyPrefix)

	v.SetDefault("journal.enabled", cfg.Journal.Enabled)
	v.SetDefault("journal.queue_max_size", cfg.Journal.QueueMaxSize)
	v.SetDefault("journal.batch_max_size", cfg.Journal.BatchMaxSize)
	v.SetDefault("journal.batch_max_wait", cfg.Journal.BatchMaxWait)

	v.SetDefault("calendar.default_timezone", cfg.Calendar.DefaultTimezone)
	v.SetDefault("calendar.week_start", cfg.Calendar.WeekStart)
	v.SetDefault("calendar.clock_skew", cfg.Calendar.ClockSkew)

	v.SetDefault("countdown.tick_interval", cfg.Countdown.TickInterval)
	v.SetDefault("countdown.poll_interval", cfg.Countdown.PollInterval)
	v.SetDefault("countdown.idle_timeout", cfg.Countdown.IdleTimeout)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.enable_caller", cfg.Logging.EnableCaller)
}

func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && l.configFile == "" {
			return nil
		}
		return fmt.Errorf("failed to load config file: %w", err)
	}
	return nil
}

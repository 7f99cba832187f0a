// Package config loads ordr process configuration from a YAML file, a .env
// file and ORDR_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/jrjohn/ordr-go/internal/cache"
	"github.com/jrjohn/ordr-go/internal/journal"
	"github.com/jrjohn/ordr-go/internal/monitor"
	"github.com/jrjohn/ordr-go/internal/observability"
	"github.com/jrjohn/ordr-go/internal/relay"
	"github.com/jrjohn/ordr-go/internal/resilience"
	"github.com/jrjohn/ordr-go/internal/server"
	"github.com/jrjohn/ordr-go/pkg/logger"
	"github.com/jrjohn/ordr-go/pkg/ordr"
)

// EnvPrefix prefixes every environment override, e.g. ORDR_CLIENT_VERIFICATION_KEY.
const EnvPrefix = "ORDR"

// Config holds all process configuration
type Config struct {
	Client  ClientConfig                `mapstructure:"client"`
	Log     logger.Config               `mapstructure:"log"`
	Cache   cache.Config                `mapstructure:"cache"`
	Journal journal.Config              `mapstructure:"journal"`
	Metrics observability.MetricsConfig `mapstructure:"metrics"`
	Tracing observability.TracingConfig `mapstructure:"tracing"`
	Server  server.Config               `mapstructure:"server"`
	Relay   relay.Config                `mapstructure:"relay"`
	Monitor monitor.Config              `mapstructure:"monitor"`
}

// ClientConfig holds o!rdr client settings
type ClientConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	WebsocketURL    string        `mapstructure:"websocket_url"`
	VerificationKey string        `mapstructure:"verification_key"`
	DeveloperMode   string        `mapstructure:"developer_mode"`
	Rate            int           `mapstructure:"rate"`
	RatePeriod      time.Duration `mapstructure:"rate_period"`
	Timeout         time.Duration `mapstructure:"timeout"`
	UserAgent       string        `mapstructure:"user_agent"`
	EventBuffer     int           `mapstructure:"event_buffer"`
	DisablePush     bool          `mapstructure:"disable_push"`
}

// Options converts the settings into client options. Runtime collaborators
// such as the logger and cache are left for the caller to set.
func (c ClientConfig) Options() ordr.Options {
	return ordr.Options{
		BaseURL:         c.BaseURL,
		WebsocketURL:    c.WebsocketURL,
		VerificationKey: c.VerificationKey,
		DeveloperMode:   ordr.DeveloperMode(c.DeveloperMode),
		RateLimit:       ordr.RateLimit{Rate: c.Rate, Period: c.RatePeriod},
		Timeout:         c.Timeout,
		UserAgent:       c.UserAgent,
		EventBuffer:     c.EventBuffer,
		DisablePush:     c.DisablePush,
	}
}

// RequestSpacing is the minimum gap between two API requests once the
// unauthenticated floor is applied.
func (c ClientConfig) RequestSpacing() time.Duration {
	authenticated := c.VerificationKey != "" || c.DeveloperMode != ""
	policy := resilience.ResolvePolicy(resilience.Policy{Rate: c.Rate, Period: c.RatePeriod}, authenticated, nil)
	return policy.Period / time.Duration(policy.Rate)
}

// LoadOptions selects where configuration is read from
type LoadOptions struct {
	// ConfigFile is an explicit YAML path. When empty, config.yaml is
	// searched in the working directory, ./config and $HOME/.config/ordr.
	ConfigFile string
	// EnvFile is loaded into the environment first if it exists.
	EnvFile string
}

// Load reads configuration from file and environment variables
func Load(opts LoadOptions) (*Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.config/ordr")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile(path string) error {
	if path == "" {
		// Optional
		_ = godotenv.Load()
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Client defaults
	v.SetDefault("client.base_url", ordr.DefaultBaseURL)
	v.SetDefault("client.websocket_url", ordr.DefaultWebsocketURL)
	v.SetDefault("client.verification_key", "")
	v.SetDefault("client.developer_mode", "")
	v.SetDefault("client.rate", 1)
	v.SetDefault("client.rate_period", 5*time.Minute)
	v.SetDefault("client.timeout", 30*time.Second)
	v.SetDefault("client.user_agent", "")
	v.SetDefault("client.event_buffer", 64)
	v.SetDefault("client.disable_push", false)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.encoding", "console")

	// Cache defaults
	cacheDefaults := cache.DefaultConfig()
	v.SetDefault("cache.enabled", cacheDefaults.Enabled)
	v.SetDefault("cache.driver", cacheDefaults.Driver)
	v.SetDefault("cache.ttl", cacheDefaults.TTL)
	v.SetDefault("cache.prefix", cacheDefaults.Prefix)
	v.SetDefault("cache.redis.addr", cacheDefaults.Redis.Addr)
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)

	// Journal defaults
	journalDefaults := journal.DefaultConfig()
	v.SetDefault("journal.enabled", journalDefaults.Enabled)
	v.SetDefault("journal.driver", journalDefaults.Driver)
	v.SetDefault("journal.dsn", journalDefaults.DSN)
	v.SetDefault("journal.max_open_conns", journalDefaults.MaxOpenConns)
	v.SetDefault("journal.max_idle_conns", journalDefaults.MaxIdleConns)
	v.SetDefault("journal.conn_max_lifetime", journalDefaults.ConnMaxLifetime)

	// Metrics defaults
	metricsDefaults := observability.DefaultMetricsConfig()
	v.SetDefault("metrics.enabled", metricsDefaults.Enabled)
	v.SetDefault("metrics.service_name", metricsDefaults.ServiceName)
	v.SetDefault("metrics.prometheus_path", metricsDefaults.PrometheusPath)

	// Tracing defaults
	tracingDefaults := observability.DefaultTracingConfig()
	v.SetDefault("tracing.enabled", tracingDefaults.Enabled)
	v.SetDefault("tracing.service_name", tracingDefaults.ServiceName)
	v.SetDefault("tracing.service_version", tracingDefaults.ServiceVersion)
	v.SetDefault("tracing.environment", tracingDefaults.Environment)
	v.SetDefault("tracing.exporter_type", tracingDefaults.ExporterType)
	v.SetDefault("tracing.otlp_endpoint", tracingDefaults.OTLPEndpoint)
	v.SetDefault("tracing.otlp_insecure", tracingDefaults.OTLPInsecure)
	v.SetDefault("tracing.sampling_rate", tracingDefaults.SamplingRate)

	// Status server defaults
	serverDefaults := server.DefaultConfig()
	v.SetDefault("server.enabled", serverDefaults.Enabled)
	v.SetDefault("server.host", serverDefaults.Host)
	v.SetDefault("server.port", serverDefaults.Port)
	v.SetDefault("server.debug", serverDefaults.Debug)
	v.SetDefault("server.read_timeout", serverDefaults.ReadTimeout)
	v.SetDefault("server.write_timeout", serverDefaults.WriteTimeout)
	v.SetDefault("server.idle_timeout", serverDefaults.IdleTimeout)
	v.SetDefault("server.cors.allow_origins", serverDefaults.CORS.AllowOrigins)
	v.SetDefault("server.cors.allow_methods", serverDefaults.CORS.AllowMethods)
	v.SetDefault("server.cors.allow_headers", serverDefaults.CORS.AllowHeaders)
	v.SetDefault("server.cors.expose_headers", serverDefaults.CORS.ExposeHeaders)
	v.SetDefault("server.cors.max_age", serverDefaults.CORS.MaxAge)

	// Relay defaults
	relayDefaults := relay.DefaultConfig()
	v.SetDefault("relay.enabled", relayDefaults.Enabled)
	v.SetDefault("relay.path", relayDefaults.Path)
	v.SetDefault("relay.allowed_origins", relayDefaults.AllowedOrigins)
	v.SetDefault("relay.read_buffer_size", relayDefaults.ReadBufferSize)
	v.SetDefault("relay.write_buffer_size", relayDefaults.WriteBufferSize)
	v.SetDefault("relay.handshake_timeout", relayDefaults.HandshakeTimeout)
	v.SetDefault("relay.enable_compression", relayDefaults.EnableCompression)
	v.SetDefault("relay.heartbeat_interval", relayDefaults.HeartbeatInterval)

	// Monitor defaults
	monitorDefaults := monitor.DefaultConfig()
	v.SetDefault("monitor.enabled", monitorDefaults.Enabled)
	v.SetDefault("monitor.online_schedule", monitorDefaults.OnlineSchedule)
	v.SetDefault("monitor.prune_schedule", monitorDefaults.PruneSchedule)
	v.SetDefault("monitor.journal_retention", monitorDefaults.JournalRetention)
	v.SetDefault("monitor.prune_lock_ttl", monitorDefaults.PruneLockTTL)
	v.SetDefault("monitor.timeout", monitorDefaults.Timeout)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if !ordr.DeveloperMode(c.Client.DeveloperMode).Valid() {
		return fmt.Errorf("unknown developer mode %q", c.Client.DeveloperMode)
	}
	if c.Client.Rate <= 0 || c.Client.RatePeriod <= 0 {
		return fmt.Errorf("client rate and rate period must be positive")
	}
	switch c.Cache.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported cache driver: %s", c.Cache.Driver)
	}
	if c.Journal.Enabled {
		switch journal.Driver(c.Journal.Driver) {
		case journal.DriverSQLite, journal.DriverMySQL, journal.DriverPostgres:
		default:
			return fmt.Errorf("unsupported journal driver: %s", c.Journal.Driver)
		}
		if c.Journal.DSN == "" {
			return fmt.Errorf("journal dsn is required")
		}
	}
	if c.Server.Enabled && (c.Server.Port < 0 || c.Server.Port > 65535) {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing sampling rate must be between 0 and 1")
	}
	if c.Monitor.Enabled {
		interval, err := c.Monitor.OnlineInterval()
		if err != nil {
			return err
		}
		if spacing := c.Client.RequestSpacing(); interval < spacing {
			return fmt.Errorf("monitor online schedule polls every %s but the client rate limit allows one request per %s", interval, spacing)
		}
	}
	return nil
}

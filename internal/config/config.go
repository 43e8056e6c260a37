package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // analytics timezones must resolve in minimal containers

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logger    LoggerConfig    `yaml:"logger"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Presence  PresenceConfig  `yaml:"presence"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Jobs      JobsConfig      `yaml:"jobs"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	Mode            string        `yaml:"mode"`
	BasePath        string        `yaml:"base_path"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// GetDSN returns the explicit DSN, or builds a postgres DSN from the discrete fields.
func (d DatabaseConfig) GetDSN() string {
	if d.DSN != "" {
		return d.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	URL           string `yaml:"url"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

type PresenceConfig struct {
	SourceURL        string        `yaml:"source_url"`
	Token            string        `yaml:"token"`
	Batch            bool          `yaml:"batch"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	InitialDelay     time.Duration `yaml:"initial_delay"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	InterEntityDelay time.Duration `yaml:"inter_entity_delay"`
	TrackedEntities  []string      `yaml:"tracked_entities"`
}

type AnalyticsConfig struct {
	Timezone     string `yaml:"timezone"`
	DefaultLimit int    `yaml:"default_limit"`
}

// Location resolves the analytics timezone, falling back to UTC.
func (a AnalyticsConfig) Location() *time.Location {
	if a.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type JobsConfig struct {
	ReconcileSchedule string `yaml:"reconcile_schedule"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            "8002",
			Mode:            "debug",
			BasePath:        "/api/presence",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Logger: LoggerConfig{
			Level: "info",
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "postgres",
			Name:            "presence",
			SSLMode:         "disable",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			DB:            0,
			ChannelPrefix: "presence",
		},
		Presence: PresenceConfig{
			Batch:            true,
			PollInterval:     5 * time.Second,
			InitialDelay:     3 * time.Second,
			RequestTimeout:   10 * time.Second,
			InterEntityDelay: 100 * time.Millisecond,
		},
		Analytics: AnalyticsConfig{
			Timezone:     "UTC",
			DefaultLimit: 10,
		},
		Jobs: JobsConfig{
			ReconcileSchedule: "@every 1h",
		},
	}

	// Load from yaml file if exists
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with environment variables
func applyEnv(cfg *Config) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Server.Port = port
	}
	if mode := os.Getenv("GIN_MODE"); mode != "" {
		cfg.Server.Mode = mode
	}
	if basePath := os.Getenv("SERVER_BASE_PATH"); basePath != "" {
		cfg.Server.BasePath = basePath
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		cfg.Logger.Level = logLevel
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		cfg.Database.Driver = driver
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.DSN = dbURL
	}
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Database.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Database.Port = p
		}
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Database.Name = name
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.Database.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		cfg.Redis.Password = redisPassword
	}
	if sourceURL := os.Getenv("PRESENCE_SOURCE_URL"); sourceURL != "" {
		cfg.Presence.SourceURL = sourceURL
	}
	if token := os.Getenv("PRESENCE_SOURCE_TOKEN"); token != "" {
		cfg.Presence.Token = token
	}
	if interval := os.Getenv("PRESENCE_POLL_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Presence.PollInterval = d
		}
	}
	if entities := os.Getenv("PRESENCE_TRACKED_ENTITIES"); entities != "" {
		cfg.Presence.TrackedEntities = splitList(entities)
	}
	if tz := os.Getenv("ANALYTICS_TIMEZONE"); tz != "" {
		cfg.Analytics.Timezone = tz
	}
}

// Validate checks values that would otherwise fail late at runtime
func (c *Config) Validate() error {
	if c.Presence.PollInterval <= 0 {
		return fmt.Errorf("presence.poll_interval must be positive, got %s", c.Presence.PollInterval)
	}
	if c.Presence.InterEntityDelay < 0 {
		return fmt.Errorf("presence.inter_entity_delay must not be negative")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Analytics.DefaultLimit <= 0 {
		c.Analytics.DefaultLimit = 10
	}
	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the exam API service.
type Config struct {
	AppName            string
	AppEnv             string
	AppPort            string
	DatabaseDriver     string
	DatabaseURL        string
	AutoMigrate        bool
	RedisURL           string
	NATSURL            string
	ChannelBase        string
	JWTSecret          string
	TokenTTL           time.Duration
	SweepInterval      time.Duration
	PollCacheTTL       time.Duration
	EventRateLimit     int
	EventRateWindow    time.Duration
	ShutdownTimeout    time.Duration
	AllowedOrigins     string
	MetricsEnabled     bool
	SweeperEnabled     bool
	InterventionFanout bool
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA_EXAM")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Exam API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("channel.base", "gema:exam")
	v.SetDefault("token.ttl", "12h")
	v.SetDefault("sweep.interval", "60s")
	v.SetDefault("poll.cache_ttl", "30s")
	v.SetDefault("event.rate_limit", 120)
	v.SetDefault("event.rate_window", "1m")
	v.SetDefault("shutdown.timeout", "10s")
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("fanout.enabled", true)

	durations := map[string]*time.Duration{}
	cfg := Config{
		AppName:            v.GetString("app.name"),
		AppEnv:             v.GetString("app.env"),
		AppPort:            v.GetString("app.port"),
		DatabaseDriver:     strings.ToLower(strings.TrimSpace(v.GetString("database.driver"))),
		DatabaseURL:        v.GetString("database.url"),
		AutoMigrate:        v.GetBool("database.auto_migrate"),
		RedisURL:           v.GetString("redis.url"),
		NATSURL:            v.GetString("nats.url"),
		ChannelBase:        v.GetString("channel.base"),
		JWTSecret:          v.GetString("jwt.secret"),
		EventRateLimit:     v.GetInt("event.rate_limit"),
		AllowedOrigins:     v.GetString("cors.allowed_origins"),
		MetricsEnabled:     v.GetBool("metrics.enabled"),
		SweeperEnabled:     v.GetBool("sweeper.enabled"),
		InterventionFanout: v.GetBool("fanout.enabled"),
	}
	durations["token.ttl"] = &cfg.TokenTTL
	durations["sweep.interval"] = &cfg.SweepInterval
	durations["poll.cache_ttl"] = &cfg.PollCacheTTL
	durations["event.rate_window"] = &cfg.EventRateWindow
	durations["shutdown.timeout"] = &cfg.ShutdownTimeout

	for key, target := range durations {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be positive", key)
		}
		*target = parsed
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return Config{}, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}

	if cfg.EventRateLimit <= 0 {
		cfg.EventRateLimit = 120
	}

	return cfg, nil
}

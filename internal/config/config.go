package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName          = "TradePost"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultAccessTokenTTL   = 15 * time.Minute
	defaultRefreshTokenTTL  = 30 * 24 * time.Hour
	defaultBanSweepInterval = time.Minute
	defaultMaxBanDuration   = 365 * 24 * time.Hour
	defaultAutoBanThreshold = 3
	defaultAutoBanWindow    = 24 * time.Hour
	defaultAutoBanDuration  = 24 * time.Hour
	defaultDedupTTL         = 24 * time.Hour
	defaultEventsChannel    = "tradepost:events"
	defaultLoginAttempts    = 5
	devJWTSecret            = "tradepost-dev-access"
	devRefreshSecret        = "tradepost-dev-refresh"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	Env            string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	JWTSecret       string
	RefreshSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	LoginAttempts   int

	BanSweepInterval time.Duration
	MaxBanDuration   time.Duration
	AutoBanThreshold int
	AutoBanWindow    time.Duration
	AutoBanDuration  time.Duration

	MessageDedupTTL time.Duration
	EventsChannel   string

	MeiliURL       string
	MeiliMasterKey string

	MigrateOnStart bool

	AdminUsername string
	AdminPassword string
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		Env:            strings.ToLower(getEnv("APP_ENV", defaultAppEnv)),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		RefreshSecret:  os.Getenv("REFRESH_SECRET"),
		EventsChannel:  getEnv("EVENTS_CHANNEL", defaultEventsChannel),
		MeiliURL:       os.Getenv("MEILI_URL"),
		MeiliMasterKey: os.Getenv("MEILI_MASTER_KEY"),
		AdminUsername:  os.Getenv("ADMIN_USERNAME"),
		AdminPassword:  os.Getenv("ADMIN_PASSWORD"),
	}

	durations := []struct {
		target   *time.Duration
		name     string
		fallback time.Duration
	}{
		{&cfg.ShutdownPeriod, "SHUTDOWN_TIMEOUT", defaultShutdownDelay},
		{&cfg.IdempotencyTTL, "IDEMPOTENCY_TTL", defaultIdempotencyTTL},
		{&cfg.AccessTokenTTL, "ACCESS_TOKEN_TTL", defaultAccessTokenTTL},
		{&cfg.RefreshTokenTTL, "REFRESH_TOKEN_TTL", defaultRefreshTokenTTL},
		{&cfg.BanSweepInterval, "BAN_SWEEP_INTERVAL", defaultBanSweepInterval},
		{&cfg.MaxBanDuration, "MAX_BAN_DURATION", defaultMaxBanDuration},
		{&cfg.AutoBanWindow, "AUTO_BAN_WINDOW", defaultAutoBanWindow},
		{&cfg.AutoBanDuration, "AUTO_BAN_DURATION", defaultAutoBanDuration},
		{&cfg.MessageDedupTTL, "MESSAGE_DEDUP_TTL", defaultDedupTTL},
	}
	for _, d := range durations {
		v, err := getDuration(d.name, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.target = v
	}

	var err error
	if cfg.AutoBanThreshold, err = getInt("AUTO_BAN_THRESHOLD", defaultAutoBanThreshold); err != nil {
		return Config{}, err
	}
	if cfg.LoginAttempts, err = getInt("LOGIN_ATTEMPTS_PER_MINUTE", defaultLoginAttempts); err != nil {
		return Config{}, err
	}
	if cfg.MigrateOnStart, err = getBool("MIGRATE_ON_START", true); err != nil {
		return Config{}, err
	}

	if cfg.IsDev() {
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = devJWTSecret
		}
		if cfg.RefreshSecret == "" {
			cfg.RefreshSecret = devRefreshSecret
		}
		return cfg, nil
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}
	if cfg.JWTSecret == "" || cfg.RefreshSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET and REFRESH_SECRET must be set")
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the process runs in a local development environment,
// where Postgres and Redis fall back to in-memory implementations.
func (c Config) IsDev() bool {
	switch c.Env {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getDuration accepts either KEY_SECONDS as an integer or KEY as a Go duration string.
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	secondsKey := key + "_SECONDS"
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

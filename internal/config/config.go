package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	BackendSupabase = "supabase"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"

	SessionMemory = "memory"
	SessionRedis  = "redis"
)

type Config struct {
	ListenAddr        string
	TableBackend      string
	SupabaseURL       string
	SupabaseKey       string
	SupabaseTable     string
	DatabaseURL       string
	DBPath            string
	AdminPassword     string
	AdminPasswordHash string
	SessionBackend    string
	SessionTTL        time.Duration
	RedisURL          string
	RemoteTimeout     time.Duration
	CookieSecure      bool
	DisplayTZ         string
	LogLevel          string
	LogFile           string
}

func Load() *Config {
	return &Config{
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		TableBackend:      getEnv("TABLE_BACKEND", BackendSupabase),
		SupabaseURL:       getEnv("SUPABASE_URL", ""),
		SupabaseKey:       getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseTable:     getEnv("SUPABASE_TABLE", "tiles"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		DBPath:            getEnv("DB_PATH", "/data/tileinv.db"),
		AdminPassword:     getEnv("ADMIN_PASSWORD", ""),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		SessionBackend:    getEnv("SESSION_BACKEND", SessionMemory),
		SessionTTL:        getDuration("SESSION_TTL", 12*time.Hour),
		RedisURL:          getEnv("REDIS_URL", ""),
		RemoteTimeout:     getDuration("REMOTE_TIMEOUT", 15*time.Second),
		CookieSecure:      os.Getenv("COOKIE_SECURE") == "true",
		DisplayTZ:         getEnv("DISPLAY_TZ", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFile:           getEnv("LOG_FILE", ""),
	}
}

// Validate reports settings that are missing or inconsistent for the selected
// backends.
func (c *Config) Validate() error {
	var errs []error

	switch c.TableBackend {
	case BackendSupabase:
		if c.SupabaseURL == "" {
			errs = append(errs, errors.New("SUPABASE_URL is required when TABLE_BACKEND=supabase"))
		}
		if c.SupabaseKey == "" {
			errs = append(errs, errors.New("SUPABASE_ANON_KEY is required when TABLE_BACKEND=supabase"))
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when TABLE_BACKEND=postgres"))
		}
	case BackendSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH is required when TABLE_BACKEND=sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown TABLE_BACKEND %q", c.TableBackend))
	}

	switch c.SessionBackend {
	case SessionMemory:
	case SessionRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required when SESSION_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend))
	}

	if c.AdminPassword == "" && c.AdminPasswordHash == "" {
		errs = append(errs, errors.New("ADMIN_PASSWORD or ADMIN_PASSWORD_HASH is required"))
	}

	if _, err := c.DisplayLocation(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// DisplayLocation is the zone dates are shown in. It defaults to the server's
// local zone.
func (c *Config) DisplayLocation() (*time.Location, error) {
	if c.DisplayTZ == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.DisplayTZ)
	if err != nil {
		return nil, fmt.Errorf("invalid DISPLAY_TZ %q: %w", c.DisplayTZ, err)
	}
	return loc, nil
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	val, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// Package config loads server settings from the environment. A .env file in
// the working directory is read first when present; real environment
// variables win over it.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Config is the server's runtime configuration.
type Config struct {
	Port            string
	Env             string // development, staging or production
	LogLevel        string
	LogFormat       string // text or json
	ShutdownTimeout time.Duration
	DrainDelay      time.Duration // readiness goes false this long before the listener closes

	// Postgres. An empty DatabaseURL selects the in-memory store.
	DatabaseURL       string
	AutoMigrate       bool
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	AdminSecret    string
	RateLimitRPM   int
	AllowedOrigins []string

	// Account that receives payments. Empty keeps the derived address.
	TreasuryAddress string

	// OTLP gRPC collector. Empty disables tracing.
	OTLPEndpoint     string
	TraceSampleRatio float64
}

const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultRateLimit       = 120
	DefaultShutdownTimeout = 15 * time.Second
	DefaultDrainDelay      = 5 * time.Second
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute
)

var (
	envs       = []string{"development", "staging", "production"}
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"text", "json"}
)

// Load reads the environment and validates the result. Unparseable numbers,
// booleans and durations are errors, not silent defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var r reader
	cfg := &Config{
		Port:              r.str("PORT", DefaultPort),
		Env:               r.str("ENV", DefaultEnv),
		LogLevel:          strings.ToLower(r.str("LOG_LEVEL", DefaultLogLevel)),
		LogFormat:         strings.ToLower(r.str("LOG_FORMAT", DefaultLogFormat)),
		ShutdownTimeout:   r.duration("SHUTDOWN_TIMEOUT", DefaultShutdownTimeout),
		DrainDelay:        r.duration("DRAIN_DELAY", DefaultDrainDelay),
		DatabaseURL:       r.str("DATABASE_URL", ""),
		AutoMigrate:       r.boolean("AUTO_MIGRATE", false),
		DBMaxOpenConns:    r.integer("DB_MAX_OPEN_CONNS", DefaultMaxOpenConns),
		DBMaxIdleConns:    r.integer("DB_MAX_IDLE_CONNS", DefaultMaxIdleConns),
		DBConnMaxLifetime: r.duration("DB_CONN_MAX_LIFETIME", DefaultConnMaxLifetime),
		AdminSecret:       r.str("ADMIN_SECRET", ""),
		RateLimitRPM:      r.integer("RATE_LIMIT_RPM", DefaultRateLimit),
		AllowedOrigins:    splitList(r.str("CORS_ALLOWED_ORIGINS", "")),
		TreasuryAddress:   r.str("TREASURY_ADDRESS", ""),
		OTLPEndpoint:      r.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		TraceSampleRatio:  r.ratio("OTEL_TRACES_SAMPLER_ARG", 1),
	}
	if err := errors.Join(r.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		fail("PORT must be a number between 1 and 65535, got %q", c.Port)
	}
	if !slices.Contains(envs, c.Env) {
		fail("ENV must be one of %s, got %q", strings.Join(envs, ", "), c.Env)
	}
	if !slices.Contains(logLevels, c.LogLevel) {
		fail("LOG_LEVEL must be one of %s, got %q", strings.Join(logLevels, ", "), c.LogLevel)
	}
	if !slices.Contains(logFormats, c.LogFormat) {
		fail("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	if c.RateLimitRPM <= 0 {
		fail("RATE_LIMIT_RPM must be positive")
	}
	if c.DatabaseURL != "" {
		if u, err := url.Parse(c.DatabaseURL); err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
			fail("DATABASE_URL must be a postgres:// URL")
		}
	}
	if c.AutoMigrate && c.DatabaseURL == "" {
		fail("AUTO_MIGRATE requires DATABASE_URL")
	}
	if c.DBMaxOpenConns < 0 || c.DBMaxIdleConns < 0 {
		fail("DB_MAX_OPEN_CONNS and DB_MAX_IDLE_CONNS cannot be negative")
	}
	if c.TreasuryAddress != "" {
		if !common.IsHexAddress(c.TreasuryAddress) || common.HexToAddress(c.TreasuryAddress) == (common.Address{}) {
			fail("TREASURY_ADDRESS must be a non-zero 0x address, got %q", c.TreasuryAddress)
		}
	}
	if c.IsProduction() && c.AdminSecret == "" {
		fail("ADMIN_SECRET is required in production")
	}
	return errors.Join(errs...)
}

func (c *Config) IsDevelopment() bool { return c.Env == "development" }

func (c *Config) IsProduction() bool { return c.Env == "production" }

// Treasury returns the configured treasury override, if any.
func (c *Config) Treasury() (common.Address, bool) {
	if c.TreasuryAddress == "" {
		return common.Address{}, false
	}
	return common.HexToAddress(c.TreasuryAddress), true
}

// UsesPostgres reports whether a database is configured.
func (c *Config) UsesPostgres() bool { return c.DatabaseURL != "" }

// reader looks up variables and remembers parse failures.
type reader struct {
	errs []error
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) parse(key string, parse func(string) error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if err := parse(v); err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: cannot parse %q", key, v))
	}
}

func (r *reader) integer(key string, def int) int {
	out := def
	r.parse(key, func(v string) (err error) {
		out, err = strconv.Atoi(v)
		return err
	})
	return out
}

func (r *reader) boolean(key string, def bool) bool {
	out := def
	r.parse(key, func(v string) (err error) {
		out, err = strconv.ParseBool(v)
		return err
	})
	return out
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	out := def
	r.parse(key, func(v string) (err error) {
		out, err = time.ParseDuration(v)
		return err
	})
	return out
}

func (r *reader) ratio(key string, def float64) float64 {
	out := def
	r.parse(key, func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil && (f < 0 || f > 1) {
			err = errors.New("out of range")
		}
		out = f
		return err
	})
	return out
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

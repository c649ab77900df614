// Package config provides configuration parsing for the analyzer service.
//
// Configuration comes from command-line flags with environment-variable
// fallbacks, in order of precedence:
//
//  1. Command-line flags
//  2. Environment variables
//  3. Default values
//
// The analyzer serves ad-hoc analysis requests over HTTP and can optionally
// run a herd sync loop that periodically pulls each configured animal's
// test-day records from a herd-management API, fits the lactation curve and
// stores the resulting report.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dairylab/lactra/pkg/tls"
)

// Period length bounds enforced at the service boundary. The numerical
// engine itself only requires a positive period.
const (
	MinPeriodDays = 100
	MaxPeriodDays = 500
)

// Config holds all analyzer configuration.
type Config struct {
	Listen    string
	LogFormat string
	LogLevel  string

	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	TLS tls.Config

	// PeriodDays is the default standard lactation length used when a
	// request does not specify one.
	PeriodDays int

	// Herd sync loop settings. The loop is enabled when HerdAPIURL and at
	// least one animal are configured.
	HerdAPIURL    string
	HerdDayPath   string
	HerdYieldPath string
	HerdToken     string

	// HerdTLS presents the configured TLS client certificate to the
	// herd-management API (mTLS). Uses the same cert/key/CA files as the
	// server side.
	HerdTLS bool

	Animals      []string
	SyncInterval time.Duration
}

// ParseFlags parses command-line flags and environment variables.
func ParseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8084"), "HTTP listen address")

	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Storage backend: memory or redis")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	flag.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 24*time.Hour), "Redis report TTL")

	flag.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Enable TLS for HTTP server")
	flag.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	flag.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	flag.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA certificate file for client verification")

	flag.IntVar(&cfg.PeriodDays, "period-days", getEnvInt("PERIOD_DAYS", 305), "Default standard lactation length in days")

	flag.StringVar(&cfg.HerdAPIURL, "herd-api-url", getEnv("HERD_API_URL", ""), "Herd-management API URL template for the sync loop")
	flag.StringVar(&cfg.HerdDayPath, "herd-day-path", getEnv("HERD_DAY_PATH", "records.#.dim"), "gjson path to days-in-milk in the herd API response")
	flag.StringVar(&cfg.HerdYieldPath, "herd-yield-path", getEnv("HERD_YIELD_PATH", "records.#.milkKg"), "gjson path to daily yields in the herd API response")
	flag.StringVar(&cfg.HerdToken, "herd-token", getEnv("HERD_TOKEN", ""), "Bearer token for the herd-management API")
	flag.BoolVar(&cfg.HerdTLS, "herd-tls", getEnvBool("HERD_TLS", false), "Present the TLS client certificate to the herd-management API")

	var animals string
	flag.StringVar(&animals, "animals", getEnv("ANIMALS", ""), "Comma-separated animal IDs for the sync loop")

	flag.DurationVar(&cfg.SyncInterval, "sync-interval", getEnvDuration("SYNC_INTERVAL", 6*time.Hour), "Herd sync loop interval")

	flag.Parse()

	cfg.Animals = splitAnimals(animals)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	return cfg
}

// Validate checks configuration invariants shared by flag and test setup.
func (c *Config) Validate() error {
	if c.PeriodDays < MinPeriodDays || c.PeriodDays > MaxPeriodDays {
		return fmt.Errorf("period-days %d out of range [%d, %d]", c.PeriodDays, MinPeriodDays, MaxPeriodDays)
	}

	switch c.Storage {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown storage backend %q (want memory or redis)", c.Storage)
	}

	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", c.LogFormat)
	}

	if len(c.Animals) > 0 && c.HerdAPIURL == "" {
		return fmt.Errorf("animals configured but herd-api-url is empty")
	}

	if c.HerdTLS && (c.TLS.CertFile == "" || c.TLS.KeyFile == "" || c.TLS.CAFile == "") {
		return fmt.Errorf("herd-tls enabled but tls cert/key/ca files not specified")
	}

	if err := c.TLS.Validate(); err != nil {
		return err
	}

	return nil
}

// SyncEnabled reports whether the herd sync loop should run.
func (c *Config) SyncEnabled() bool {
	return c.HerdAPIURL != "" && len(c.Animals) > 0
}

func splitAnimals(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	animals := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			animals = append(animals, p)
		}
	}
	return animals
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

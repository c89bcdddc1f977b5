// Package config handles environment-based configuration loading and the
// hot-updatable runtime config model.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Await-d/claude-relay-service-sub004/internal/account"
)

// EnvConfig holds all environment-variable-driven settings (not hot-updatable).
type EnvConfig struct {
	// State
	StateDir      string
	StoreBackend  string // sqlite | memory
	PurgeSchedule string
	AccountsFile  string

	// Admin API
	ListenAddress string
	APIPort       int
	AdminToken    string

	// Scheduling
	DefaultStrategy      string
	SessionTTL           time.Duration
	UsageTTL             time.Duration
	RateLimitCheckWindow time.Duration
	RateLimitCacheSize   int

	// Connection pool
	ConnectTimeout      time.Duration
	ProbeTimeout        time.Duration
	HealthInterval      time.Duration
	CleanupInterval     time.Duration
	IdleEvict           time.Duration
	StatsEvict          time.Duration
	FailureWindow       time.Duration
	MaxFailures         int
	RecoveryWindow      time.Duration
	MinErrorSample      int
	MaxConnsPerHost     int
	MaxIdleConnsPerHost int
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any value is invalid; errors are accumulated so one run
// reports every problem.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- State ---
	cfg.StateDir = envStr("RELAY_STATE_DIR", "/var/lib/relayd")
	cfg.StoreBackend = strings.ToLower(envStr("RELAY_STORE", "sqlite"))
	cfg.PurgeSchedule = envStr("RELAY_STORE_PURGE_SCHEDULE", "17 * * * *")
	cfg.AccountsFile = envStr("RELAY_ACCOUNTS_FILE", "")

	// --- Admin API ---
	cfg.ListenAddress = strings.TrimSpace(envStr("RELAY_LISTEN_ADDRESS", "0.0.0.0"))
	cfg.APIPort = envInt("RELAY_API_PORT", 8787, &errs)
	adminToken, hasAdminToken := os.LookupEnv("RELAY_ADMIN_TOKEN")
	cfg.AdminToken = adminToken

	// --- Scheduling ---
	cfg.DefaultStrategy = envStr("RELAY_DEFAULT_STRATEGY", string(account.DefaultStrategy))
	cfg.SessionTTL = envDuration("RELAY_SESSION_TTL", time.Hour, &errs)
	cfg.UsageTTL = envDuration("RELAY_USAGE_TTL", 30*24*time.Hour, &errs)
	cfg.RateLimitCheckWindow = envDuration("RELAY_RATE_LIMIT_CHECK_WINDOW", 30*time.Second, &errs)
	cfg.RateLimitCacheSize = envInt("RELAY_RATE_LIMIT_CACHE_SIZE", 4096, &errs)

	// --- Connection pool ---
	cfg.ConnectTimeout = envDuration("RELAY_CONNECT_TIMEOUT", 30*time.Second, &errs)
	cfg.ProbeTimeout = envDuration("RELAY_PROBE_TIMEOUT", 10*time.Second, &errs)
	cfg.HealthInterval = envDuration("RELAY_HEALTH_INTERVAL", 30*time.Second, &errs)
	cfg.CleanupInterval = envDuration("RELAY_CLEANUP_INTERVAL", time.Minute, &errs)
	cfg.IdleEvict = envDuration("RELAY_IDLE_EVICT", 10*time.Minute, &errs)
	cfg.StatsEvict = envDuration("RELAY_STATS_EVICT", 30*time.Minute, &errs)
	cfg.FailureWindow = envDuration("RELAY_FAILURE_WINDOW", 5*time.Minute, &errs)
	cfg.MaxFailures = envInt("RELAY_MAX_FAILURES", 5, &errs)
	cfg.RecoveryWindow = envDuration("RELAY_RECOVERY_WINDOW", 5*time.Minute, &errs)
	cfg.MinErrorSample = envInt("RELAY_MIN_ERROR_SAMPLE", 20, &errs)
	cfg.MaxConnsPerHost = envInt("RELAY_MAX_CONNS_PER_HOST", 50, &errs)
	cfg.MaxIdleConnsPerHost = envInt("RELAY_MAX_IDLE_CONNS_PER_HOST", 10, &errs)

	// --- Validation ---
	if cfg.StateDir == "" {
		errs = append(errs, "RELAY_STATE_DIR must not be empty")
	}
	if cfg.ListenAddress == "" {
		errs = append(errs, "RELAY_LISTEN_ADDRESS must not be empty")
	}
	if cfg.APIPort < 1 || cfg.APIPort > 65535 {
		errs = append(errs, fmt.Sprintf("RELAY_API_PORT: port must be 1-65535, got %d", cfg.APIPort))
	}
	if !hasAdminToken {
		errs = append(errs, "RELAY_ADMIN_TOKEN must be defined (can be empty to disable auth)")
	}
	switch cfg.StoreBackend {
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Sprintf("RELAY_STORE: invalid value %q (allowed: sqlite, memory)", cfg.StoreBackend))
	}
	if _, err := cron.ParseStandard(cfg.PurgeSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("RELAY_STORE_PURGE_SCHEDULE: invalid cron expression %q: %v", cfg.PurgeSchedule, err))
	}
	if !account.Strategy(cfg.DefaultStrategy).IsValid() {
		errs = append(errs, fmt.Sprintf(
			"RELAY_DEFAULT_STRATEGY: invalid value %q (allowed: %s, %s, %s, %s, %s, %s)",
			cfg.DefaultStrategy,
			account.StrategyLeastRecent, account.StrategyLeastUsed, account.StrategyRoundRobin,
			account.StrategySequential, account.StrategyRandom, account.StrategyWeightedRandom,
		))
	}

	validatePositiveDuration := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, name+" must be positive")
		}
	}
	validatePositiveDuration("RELAY_SESSION_TTL", cfg.SessionTTL)
	validatePositiveDuration("RELAY_USAGE_TTL", cfg.UsageTTL)
	validatePositiveDuration("RELAY_RATE_LIMIT_CHECK_WINDOW", cfg.RateLimitCheckWindow)
	validatePositiveDuration("RELAY_CONNECT_TIMEOUT", cfg.ConnectTimeout)
	validatePositiveDuration("RELAY_PROBE_TIMEOUT", cfg.ProbeTimeout)
	validatePositiveDuration("RELAY_HEALTH_INTERVAL", cfg.HealthInterval)
	validatePositiveDuration("RELAY_CLEANUP_INTERVAL", cfg.CleanupInterval)
	validatePositiveDuration("RELAY_IDLE_EVICT", cfg.IdleEvict)
	validatePositiveDuration("RELAY_STATS_EVICT", cfg.StatsEvict)
	validatePositiveDuration("RELAY_FAILURE_WINDOW", cfg.FailureWindow)
	validatePositiveDuration("RELAY_RECOVERY_WINDOW", cfg.RecoveryWindow)

	validatePositive("RELAY_RATE_LIMIT_CACHE_SIZE", cfg.RateLimitCacheSize, &errs)
	validatePositive("RELAY_MAX_FAILURES", cfg.MaxFailures, &errs)
	validatePositive("RELAY_MIN_ERROR_SAMPLE", cfg.MinErrorSample, &errs)
	validatePositive("RELAY_MAX_CONNS_PER_HOST", cfg.MaxConnsPerHost, &errs)
	validatePositive("RELAY_MAX_IDLE_CONNS_PER_HOST", cfg.MaxIdleConnsPerHost, &errs)
	if cfg.MaxIdleConnsPerHost > cfg.MaxConnsPerHost {
		errs = append(errs, "RELAY_MAX_IDLE_CONNS_PER_HOST must be less than or equal to RELAY_MAX_CONNS_PER_HOST")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}

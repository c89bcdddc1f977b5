package config

import (
	"strings"
	"testing"
	"time"
)

// requiredEnvs returns the minimal environment for a successful load.
func requiredEnvs() map[string]string {
	return map[string]string{
		"RELAY_ADMIN_TOKEN": "test-token",
	}
}

func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

func TestLoadEnvConfigDefaults(t *testing.T) {
	setEnvs(t, requiredEnvs())

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("LoadEnvConfig: %v", err)
	}

	assertEqual(t, "StateDir", cfg.StateDir, "/var/lib/relayd")
	assertEqual(t, "StoreBackend", cfg.StoreBackend, "sqlite")
	assertEqual(t, "PurgeSchedule", cfg.PurgeSchedule, "17 * * * *")
	assertEqual(t, "AccountsFile", cfg.AccountsFile, "")
	assertEqual(t, "ListenAddress", cfg.ListenAddress, "0.0.0.0")
	assertEqual(t, "APIPort", cfg.APIPort, 8787)
	assertEqual(t, "AdminToken", cfg.AdminToken, "test-token")
	assertEqual(t, "DefaultStrategy", cfg.DefaultStrategy, "least_recent")
	assertEqual(t, "SessionTTL", cfg.SessionTTL, time.Hour)
	assertEqual(t, "UsageTTL", cfg.UsageTTL, 30*24*time.Hour)
	assertEqual(t, "RateLimitCheckWindow", cfg.RateLimitCheckWindow, 30*time.Second)
	assertEqual(t, "RateLimitCacheSize", cfg.RateLimitCacheSize, 4096)
	assertEqual(t, "ConnectTimeout", cfg.ConnectTimeout, 30*time.Second)
	assertEqual(t, "ProbeTimeout", cfg.ProbeTimeout, 10*time.Second)
	assertEqual(t, "HealthInterval", cfg.HealthInterval, 30*time.Second)
	assertEqual(t, "CleanupInterval", cfg.CleanupInterval, time.Minute)
	assertEqual(t, "IdleEvict", cfg.IdleEvict, 10*time.Minute)
	assertEqual(t, "StatsEvict", cfg.StatsEvict, 30*time.Minute)
	assertEqual(t, "FailureWindow", cfg.FailureWindow, 5*time.Minute)
	assertEqual(t, "MaxFailures", cfg.MaxFailures, 5)
	assertEqual(t, "RecoveryWindow", cfg.RecoveryWindow, 5*time.Minute)
	assertEqual(t, "MinErrorSample", cfg.MinErrorSample, 20)
	assertEqual(t, "MaxConnsPerHost", cfg.MaxConnsPerHost, 50)
	assertEqual(t, "MaxIdleConnsPerHost", cfg.MaxIdleConnsPerHost, 10)
}

func TestLoadEnvConfigOverrides(t *testing.T) {
	setEnvs(t, map[string]string{
		"RELAY_ADMIN_TOKEN":      "secret",
		"RELAY_STATE_DIR":        "/tmp/relay",
		"RELAY_STORE":            "MEMORY",
		"RELAY_API_PORT":         "9090",
		"RELAY_DEFAULT_STRATEGY": "round_robin",
		"RELAY_SESSION_TTL":      "30m",
		"RELAY_MAX_FAILURES":     "3",
	})

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("LoadEnvConfig: %v", err)
	}

	assertEqual(t, "StateDir", cfg.StateDir, "/tmp/relay")
	assertEqual(t, "StoreBackend", cfg.StoreBackend, "memory")
	assertEqual(t, "APIPort", cfg.APIPort, 9090)
	assertEqual(t, "DefaultStrategy", cfg.DefaultStrategy, "round_robin")
	assertEqual(t, "SessionTTL", cfg.SessionTTL, 30*time.Minute)
	assertEqual(t, "MaxFailures", cfg.MaxFailures, 3)
}

func TestLoadEnvConfigMissingAdminToken(t *testing.T) {
	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error when RELAY_ADMIN_TOKEN is undefined")
	}
	assertContains(t, err.Error(), "RELAY_ADMIN_TOKEN must be defined")
}

func TestLoadEnvConfigEmptyAdminTokenAllowed(t *testing.T) {
	setEnvs(t, map[string]string{"RELAY_ADMIN_TOKEN": ""})

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("LoadEnvConfig: %v", err)
	}
	assertEqual(t, "AdminToken", cfg.AdminToken, "")
}

func TestLoadEnvConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		envs    map[string]string
		wantErr string
	}{
		{
			"invalid store backend",
			map[string]string{"RELAY_STORE": "redis"},
			`RELAY_STORE: invalid value "redis"`,
		},
		{
			"invalid cron schedule",
			map[string]string{"RELAY_STORE_PURGE_SCHEDULE": "not-a-cron"},
			"RELAY_STORE_PURGE_SCHEDULE: invalid cron expression",
		},
		{
			"invalid strategy",
			map[string]string{"RELAY_DEFAULT_STRATEGY": "fastest"},
			`RELAY_DEFAULT_STRATEGY: invalid value "fastest"`,
		},
		{
			"port out of range",
			map[string]string{"RELAY_API_PORT": "70000"},
			"RELAY_API_PORT: port must be 1-65535",
		},
		{
			"non-integer port",
			map[string]string{"RELAY_API_PORT": "eighty"},
			`RELAY_API_PORT: invalid integer "eighty"`,
		},
		{
			"invalid duration",
			map[string]string{"RELAY_SESSION_TTL": "soon"},
			`RELAY_SESSION_TTL: invalid duration "soon"`,
		},
		{
			"negative duration",
			map[string]string{"RELAY_SESSION_TTL": "-5m"},
			"RELAY_SESSION_TTL must be positive",
		},
		{
			"non-positive max failures",
			map[string]string{"RELAY_MAX_FAILURES": "0"},
			"RELAY_MAX_FAILURES: must be positive",
		},
		{
			"idle cap above conn cap",
			map[string]string{"RELAY_MAX_IDLE_CONNS_PER_HOST": "100"},
			"RELAY_MAX_IDLE_CONNS_PER_HOST must be less than or equal to RELAY_MAX_CONNS_PER_HOST",
		},
		{
			"empty state dir",
			map[string]string{"RELAY_STATE_DIR": ""},
			"RELAY_STATE_DIR must not be empty",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnvs(t, requiredEnvs())
			setEnvs(t, tt.envs)

			_, err := LoadEnvConfig()
			if err == nil {
				t.Fatal("expected validation error")
			}
			assertContains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadEnvConfigAccumulatesErrors(t *testing.T) {
	setEnvs(t, requiredEnvs())
	setEnvs(t, map[string]string{
		"RELAY_STORE":            "redis",
		"RELAY_DEFAULT_STRATEGY": "fastest",
		"RELAY_API_PORT":         "70000",
	})

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	msg := err.Error()
	assertContains(t, msg, "RELAY_STORE")
	assertContains(t, msg, "RELAY_DEFAULT_STRATEGY")
	assertContains(t, msg, "RELAY_API_PORT")
	if got := strings.Count(msg, "\n"); got < 2 {
		t.Errorf("expected one line per error, got %d newlines in %q", got, msg)
	}
}

func assertEqual[T comparable](t *testing.T, name string, got, want T) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %v, want %v", name, got, want)
	}
}

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}

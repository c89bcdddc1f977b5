package config

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Await-d/claude-relay-service-sub004/internal/store"
)

// runtimeConfigKey is where the runtime config JSON lives in the state store.
const runtimeConfigKey = "runtime:config"

// RuntimeConfig holds the hot-updatable scheduling settings. They are
// persisted in the state store so an admin change survives restarts without
// touching the environment.
type RuntimeConfig struct {
	// DefaultStrategy overrides the env default when non-empty.
	DefaultStrategy string `json:"default_strategy"`

	// SessionTTL bounds new session-affinity entries.
	SessionTTL Duration `json:"session_ttl"`

	// RateLimitCheckWindow is the validity window of cached rate-limit checks.
	RateLimitCheckWindow Duration `json:"rate_limit_check_window"`
}

// NewDefaultRuntimeConfig returns a RuntimeConfig mirroring the env defaults.
func NewDefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		DefaultStrategy:      "",
		SessionTTL:           Duration(time.Hour),
		RateLimitCheckWindow: Duration(30 * time.Second),
	}
}

// LoadRuntimeConfig reads the persisted runtime config, falling back to
// defaults when none has been saved yet.
func LoadRuntimeConfig(ctx context.Context, s store.Store) (*RuntimeConfig, error) {
	raw, ok, err := s.Get(ctx, runtimeConfigKey)
	if err != nil {
		return nil, fmt.Errorf("load runtime config: %w", err)
	}
	if !ok {
		return NewDefaultRuntimeConfig(), nil
	}
	cfg := NewDefaultRuntimeConfig()
	if err := json.Unmarshal([]byte(raw), cfg); err != nil {
		return nil, fmt.Errorf("parse runtime config: %w", err)
	}
	return cfg, nil
}

// SaveRuntimeConfig persists the runtime config.
func SaveRuntimeConfig(ctx context.Context, s store.Store, cfg *RuntimeConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("save runtime config: %w", err)
	}
	if err := s.Set(ctx, runtimeConfigKey, string(raw)); err != nil {
		return fmt.Errorf("save runtime config: %w", err)
	}
	return nil
}

// Package config loads the module's tunable option table from
// environment variables, with an optional YAML override file for
// operators who prefer a config file over env vars.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/syncqueue/internal/platform/envutil"
)

// Config holds every tunable option this module exposes.
type Config struct {
	DataDir string `yaml:"data_dir"`

	FailureThreshold       int     `yaml:"failure_threshold"`
	SuccessThreshold       int     `yaml:"success_threshold"`
	RecoveryTimeoutSeconds float64 `yaml:"recovery_timeout_seconds"`

	RLInitialRate         float64 `yaml:"rl_initial_rate"`
	RLTargetRate          float64 `yaml:"rl_target_rate"`
	RLRampDurationSeconds float64 `yaml:"rl_ramp_duration_seconds"`
	RLErrorThreshold      float64 `yaml:"rl_error_threshold"`
	RLErrorWindowSeconds  float64 `yaml:"rl_error_window_seconds"`

	ProbeBaseSeconds    float64 `yaml:"probe_base_seconds"`
	ProbeCapSeconds     float64 `yaml:"probe_cap_seconds"`
	ProbeTimeoutSeconds float64 `yaml:"probe_timeout_seconds"`

	DLQRetentionDays       int `yaml:"dlq_retention_days"`
	OutageHistoryCapacity  int `yaml:"outage_history_capacity"`
}

// Default returns a Config populated with its built-in defaults.
func Default() Config {
	return Config{
		DataDir: "./data",

		FailureThreshold:       5,
		SuccessThreshold:       1,
		RecoveryTimeoutSeconds: 60,

		RLInitialRate:         5,
		RLTargetRate:          20,
		RLRampDurationSeconds: 300,
		RLErrorThreshold:      0.30,
		RLErrorWindowSeconds:  60,

		ProbeBaseSeconds:    5,
		ProbeCapSeconds:     60,
		ProbeTimeoutSeconds: 5,

		DLQRetentionDays:      30,
		OutageHistoryCapacity: 30,
	}
}

// Load builds a Config starting from defaults, applying yamlPath's
// contents if it is non-empty and exists, then applying environment
// variable overrides last — env vars always win.
func Load(yamlPath string) (Config, error) {
	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", yamlPath, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", yamlPath, err)
		}
	}

	cfg.DataDir = envutil.String("SYNCQUEUE_DATA_DIR", cfg.DataDir)

	cfg.FailureThreshold = envutil.Int("SYNCQUEUE_FAILURE_THRESHOLD", cfg.FailureThreshold)
	cfg.SuccessThreshold = envutil.Int("SYNCQUEUE_SUCCESS_THRESHOLD", cfg.SuccessThreshold)
	cfg.RecoveryTimeoutSeconds = envutil.Float("SYNCQUEUE_RECOVERY_TIMEOUT_SECONDS", cfg.RecoveryTimeoutSeconds)

	cfg.RLInitialRate = envutil.Float("SYNCQUEUE_RL_INITIAL_RATE", cfg.RLInitialRate)
	cfg.RLTargetRate = envutil.Float("SYNCQUEUE_RL_TARGET_RATE", cfg.RLTargetRate)
	cfg.RLRampDurationSeconds = envutil.Float("SYNCQUEUE_RL_RAMP_DURATION_SECONDS", cfg.RLRampDurationSeconds)
	cfg.RLErrorThreshold = envutil.Float("SYNCQUEUE_RL_ERROR_THRESHOLD", cfg.RLErrorThreshold)
	cfg.RLErrorWindowSeconds = envutil.Float("SYNCQUEUE_RL_ERROR_WINDOW_SECONDS", cfg.RLErrorWindowSeconds)

	cfg.ProbeBaseSeconds = envutil.Float("SYNCQUEUE_PROBE_BASE_SECONDS", cfg.ProbeBaseSeconds)
	cfg.ProbeCapSeconds = envutil.Float("SYNCQUEUE_PROBE_CAP_SECONDS", cfg.ProbeCapSeconds)
	cfg.ProbeTimeoutSeconds = envutil.Float("SYNCQUEUE_PROBE_TIMEOUT_SECONDS", cfg.ProbeTimeoutSeconds)

	cfg.DLQRetentionDays = envutil.Int("SYNCQUEUE_DLQ_RETENTION_DAYS", cfg.DLQRetentionDays)
	cfg.OutageHistoryCapacity = envutil.Int("SYNCQUEUE_OUTAGE_HISTORY_CAPACITY", cfg.OutageHistoryCapacity)

	return cfg, nil
}

// QueueDBPath returns the path to the shared PQ/DLQ SQLite file under
// DataDir.
func (c Config) QueueDBPath() string { return c.DataDir + "/queue.db" }

// CircuitBreakerPath returns the path to the durable CB state file.
func (c Config) CircuitBreakerPath() string { return c.DataDir + "/circuit_breaker.json" }

// RecoveryStatePath returns the path to the durable RS state file.
func (c Config) RecoveryStatePath() string { return c.DataDir + "/recovery_state.json" }

// RecoveryLockPath returns the path RS's non-blocking exclusive lock is
// based on.
func (c Config) RecoveryLockPath() string { return c.DataDir + "/recovery" }

// OutageHistoryPath returns the path to the durable OH ledger file.
func (c Config) OutageHistoryPath() string { return c.DataDir + "/outage_history.json" }

// RateLimiterStatePath returns the path to RL's durable
// recovery_started_at sliver.
func (c Config) RateLimiterStatePath() string { return c.DataDir + "/ratelimit_state.json" }

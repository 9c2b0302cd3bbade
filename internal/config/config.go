// Package config provides configuration constants and runtime configuration.
package config

import (
	"encoding/json"
	"os"
	"strconv"
)

// HealthScoreConfig tunes the per-account health tracker
type HealthScoreConfig struct {
	Initial          float64 `json:"initial"`
	SuccessReward    float64 `json:"successReward"`
	RateLimitPenalty float64 `json:"rateLimitPenalty"`
	FailurePenalty   float64 `json:"failurePenalty"`
	RecoveryPerHour  float64 `json:"recoveryPerHour"`
	MinUsable        float64 `json:"minUsable"`
	MaxScore         float64 `json:"maxScore"`
}

// TokenBucketConfig tunes the per-account request credit bucket
type TokenBucketConfig struct {
	MaxTokens     float64 `json:"maxTokens"`
	InitialTokens float64 `json:"initialTokens"`
}

// QuotaConfig tunes quota-based account filtering
type QuotaConfig struct {
	LowThreshold      float64 `json:"lowThreshold"`
	CriticalThreshold float64 `json:"criticalThreshold"`
	StaleMs           int64   `json:"staleMs"`
	UnknownScore      float64 `json:"unknownScore"`
}

// WeightsConfig holds hybrid-strategy scoring weights
type WeightsConfig struct {
	Health float64 `json:"health"`
	Tokens float64 `json:"tokens"`
	Quota  float64 `json:"quota"`
	Lru    float64 `json:"lru"`
}

// AccountSelectionConfig groups the selection strategy and its tunables
type AccountSelectionConfig struct {
	Strategy    string             `json:"strategy,omitempty"`
	HealthScore *HealthScoreConfig `json:"healthScore,omitempty"`
	TokenBucket *TokenBucketConfig `json:"tokenBucket,omitempty"`
	Quota       *QuotaConfig       `json:"quota,omitempty"`
	Weights     *WeightsConfig     `json:"weights,omitempty"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

// Config is the runtime configuration, loaded from the config file with
// environment overrides applied on top.
type Config struct {
	Port            int               `json:"port,omitempty"`
	Debug           bool              `json:"debug,omitempty"`
	APIKey          string            `json:"apiKey,omitempty"`
	FallbackEnabled *bool             `json:"fallbackEnabled,omitempty"`
	MaxAccounts     int               `json:"maxAccounts,omitempty"`
	ModelMapping    map[string]string `json:"modelMapping,omitempty"`

	Redis            RedisConfig            `json:"redis,omitempty"`
	AccountSelection AccountSelectionConfig `json:"accountSelection,omitempty"`
}

// DefaultConfig returns the configuration defaults
func DefaultConfig() *Config {
	return &Config{
		Port:        DefaultPort,
		MaxAccounts: MaxAccounts,
	}
}

// Load reads the configuration file (if present) and applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = ConfigFilePath()
	}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("DEBUG"); v == "1" || v == "true" {
		c.Debug = true
	}
	if v := os.Getenv("API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("SELECTION_STRATEGY"); v != "" {
		c.AccountSelection.Strategy = v
	}
	if v := os.Getenv("DISABLE_FALLBACK"); v == "1" || v == "true" {
		disabled := false
		c.FallbackEnabled = &disabled
	}
}

// GetStrategy returns the configured selection strategy name, or empty
func (c *Config) GetStrategy() string {
	return c.AccountSelection.Strategy
}

// IsFallbackEnabled reports whether model fallback is enabled (default true)
func (c *Config) IsFallbackEnabled() bool {
	if c.FallbackEnabled == nil {
		return true
	}
	return *c.FallbackEnabled
}

// Save writes the configuration back to the config file
func (c *Config) Save(path string) error {
	if path == "" {
		path = ConfigFilePath()
	}
	if err := os.MkdirAll(ConfigDir(), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

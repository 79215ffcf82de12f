package classlab

import (
	"encoding/json"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the deployable configuration of the platform core.
type Config struct {
	Environment Environment   `json:"environment" yaml:"environment"`
	Limiter     LimiterConfig `json:"limiter" yaml:"limiter"`
	Sandbox     SandboxConfig `json:"sandbox" yaml:"sandbox"`
	Cache       CacheConfig   `json:"cache" yaml:"cache"`
}

// LimiterConfig overrides the limiter defaults; zero values keep them.
type LimiterConfig struct {
	Categories          map[string]CategoryLimitConfig `json:"categories" yaml:"categories"`
	AnalyzeDailyPerUser int                            `json:"analyze_daily_per_user" yaml:"analyze_daily_per_user"`
	AnalyzeDailyGlobal  int                            `json:"analyze_daily_global" yaml:"analyze_daily_global"`
}

type CategoryLimitConfig struct {
	Limit    int   `json:"limit" yaml:"limit"`
	WindowMS int64 `json:"window_ms" yaml:"window_ms"`
}

type SandboxConfig struct {
	WarmUpTimeoutMS int64 `json:"warmup_timeout_ms" yaml:"warmup_timeout_ms"`
}

type CacheConfig struct {
	AccessDecisionTTLMS int64 `json:"access_decision_ttl_ms" yaml:"access_decision_ttl_ms"`
}

// ConfigLoader loads configuration from supported formats.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader { return &ConfigLoader{} }

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = EnvDevelopment
	}
}

// RateLimiterOptions renders the limiter part of the config as constructor
// options.
func (c *Config) RateLimiterOptions() []RateLimiterOption {
	var opts []RateLimiterOption
	for name, lc := range c.Limiter.Categories {
		if lc.Limit > 0 && lc.WindowMS > 0 {
			opts = append(opts, WithCategoryLimit(Category(name), CategoryLimit{
				Limit:  lc.Limit,
				Window: time.Duration(lc.WindowMS) * time.Millisecond,
			}))
		}
	}
	if c.Limiter.AnalyzeDailyPerUser > 0 && c.Limiter.AnalyzeDailyGlobal > 0 {
		opts = append(opts, WithAnalyzeDailyCaps(c.Limiter.AnalyzeDailyPerUser, c.Limiter.AnalyzeDailyGlobal))
	}
	return opts
}

// OrchestratorOptions renders the sandbox part of the config.
func (c *Config) OrchestratorOptions() []OrchestratorOption {
	var opts []OrchestratorOption
	if c.Sandbox.WarmUpTimeoutMS > 0 {
		opts = append(opts, WithWarmUpTimeout(time.Duration(c.Sandbox.WarmUpTimeoutMS)*time.Millisecond))
	}
	return opts
}

// EvaluatorOptions renders the cache part of the config.
func (c *Config) EvaluatorOptions() []EvaluatorOption {
	var opts []EvaluatorOption
	if c.Cache.AccessDecisionTTLMS > 0 {
		opts = append(opts, WithAccessCacheTTL(time.Duration(c.Cache.AccessDecisionTTLMS)*time.Millisecond))
	}
	return opts
}

// ToYAML exports config to YAML
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

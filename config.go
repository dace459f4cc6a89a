package rpcrouter

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Router    RouterConfig     `yaml:"router"`
	Cache     CacheConfig      `yaml:"cache"`
	Quota     QuotaConfig      `yaml:"quota"`
	Providers []ProviderConfig `yaml:"providers"`
	LogLevel  string           `yaml:"log_level"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host         string  `yaml:"host"`
	Port         int     `yaml:"port"`
	InboundRPS   float64 `yaml:"inbound_rps"`
	InboundBurst int     `yaml:"inbound_burst"`
}

// RouterConfig configures routing behaviour. Durations are float
// seconds so sub-second windows read naturally in YAML.
type RouterConfig struct {
	Mode                   string  `yaml:"mode"`
	EnableExploration      bool    `yaml:"enable_exploration"`
	ExplorationRate        float64 `yaml:"exploration_rate"`
	AttemptTimeoutSeconds  float64 `yaml:"attempt_timeout_seconds"`
	DirectTimeoutSeconds   float64 `yaml:"direct_timeout_seconds"`
	WindowSeconds          float64 `yaml:"window_seconds"`
	HealthSuccessRate      float64 `yaml:"health_success_rate"`
	HealthFailureLimit     int     `yaml:"health_failure_limit"`
	HealthProbationSeconds float64 `yaml:"health_probation_seconds"`
}

// CacheConfig configures the score cache.
type CacheConfig struct {
	Enabled    bool    `yaml:"enabled"`
	TTLSeconds float64 `yaml:"ttl_seconds"`
}

// QuotaConfig selects and configures the quota backend.
type QuotaConfig struct {
	Backend     string `yaml:"backend"` // file (default), redis or postgres
	Path        string `yaml:"path"`
	RedisURL    string `yaml:"redis_url"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ProviderConfig is one provider entry as written in YAML. The free
// and paid blocks carry alternative tiers; BuildProviders picks one.
type ProviderConfig struct {
	Name        string           `yaml:"name"`
	BaseURL     string           `yaml:"base_url"`
	Pricing     PricingModel     `yaml:"pricing_model"`
	MethodCosts map[string]int64 `yaml:"method_costs"`
	Tiers       PricingTiers     `yaml:"pricing_tiers"`
	Free        TierConfig       `yaml:"free"`
	Paid        TierConfig       `yaml:"paid"`
}

// TierConfig is the rate and monthly allowance of one tier. Zero
// values mean unlimited.
type TierConfig struct {
	LimitRPS     int   `yaml:"limit_rps"`
	LimitMonthly int64 `yaml:"limit_monthly"`
}

// LoadConfig reads and parses a YAML config file. Environment
// variables in the format ${VAR} are expanded before parsing, and a
// {NAME}_URL variable overrides the matching provider's base_url.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("rpcrouter: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("rpcrouter: parse config: %w", err)
	}

	cfg.applyURLOverrides()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// applyURLOverrides replaces base_url with {NAME}_URL when set.
func (c *Config) applyURLOverrides() {
	for i := range c.Providers {
		key := urlEnvKey(c.Providers[i].Name)
		if v := os.Getenv(key); v != "" {
			c.Providers[i].BaseURL = v
		}
	}
}

func urlEnvKey(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_URL"
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("rpcrouter: config: at least one provider is required")
	}

	names := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("rpcrouter: config: provider[%d]: name is required", i)
		}
		if IsBest(p.Name) {
			return fmt.Errorf("rpcrouter: config: provider[%d]: name %q is reserved", i, p.Name)
		}
		key := strings.ToLower(p.Name)
		if names[key] {
			return fmt.Errorf("rpcrouter: config: duplicate provider name %q", p.Name)
		}
		names[key] = true

		if p.BaseURL == "" {
			return fmt.Errorf("rpcrouter: config: provider[%d] (%s): base_url is required (set %s or the base_url field)",
				i, p.Name, urlEnvKey(p.Name))
		}
		switch p.Pricing {
		case "", PricingFlat, PricingComputeUnit, PricingCredit:
		default:
			return fmt.Errorf("rpcrouter: config: provider[%d] (%s): invalid pricing_model %q", i, p.Name, p.Pricing)
		}
		if p.Tiers.Threshold < 0 {
			return fmt.Errorf("rpcrouter: config: provider[%d] (%s): pricing_tiers.threshold must be >= 0", i, p.Name)
		}
	}

	if c.Router.ExplorationRate < 0 || c.Router.ExplorationRate > 1 {
		return fmt.Errorf("rpcrouter: config: exploration_rate must be in [0,1]")
	}
	if _, err := ParseMode(c.Router.Mode); err != nil {
		return fmt.Errorf("rpcrouter: config: %w", err)
	}
	if c.Router.HealthSuccessRate < 0 || c.Router.HealthSuccessRate > 1 {
		return fmt.Errorf("rpcrouter: config: health_success_rate must be in [0,1]")
	}
	if c.Router.HealthFailureLimit < 0 {
		return fmt.Errorf("rpcrouter: config: health_failure_limit must be >= 0")
	}
	if c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("rpcrouter: config: cache.ttl_seconds must be >= 0")
	}
	switch strings.ToLower(c.Quota.Backend) {
	case "", "file", "redis", "postgres":
	default:
		return fmt.Errorf("rpcrouter: config: invalid quota backend %q", c.Quota.Backend)
	}

	return nil
}

// ParsePaidProviders parses the PAID_PROVIDERS environment variable, a
// comma-separated case-insensitive list of provider names.
func ParsePaidProviders(s string) map[string]bool {
	out := make(map[string]bool)
	for _, name := range strings.Split(s, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" {
			out[name] = true
		}
	}
	return out
}

// BuildProviders resolves each entry against the paid set: matching
// providers load their paid tier at priority 2, the rest load their
// free tier at priority 1. Pricing defaults to flat.
func (c Config) BuildProviders(paid map[string]bool) []Provider {
	out := make([]Provider, 0, len(c.Providers))
	for _, pc := range c.Providers {
		tier, priority := pc.Free, PriorityFree
		if paid[strings.ToLower(pc.Name)] {
			tier, priority = pc.Paid, PriorityPaid
		}
		pricing := pc.Pricing
		if pricing == "" {
			pricing = PricingFlat
		}
		out = append(out, Provider{
			Name:         pc.Name,
			BaseURL:      pc.BaseURL,
			Priority:     priority,
			LimitRPS:     tier.LimitRPS,
			LimitMonthly: tier.LimitMonthly,
			Pricing:      pricing,
			MethodCosts:  pc.MethodCosts,
			Tiers:        pc.Tiers,
		})
	}
	return out
}

// secondsToDuration converts float seconds from YAML to a Duration.
func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

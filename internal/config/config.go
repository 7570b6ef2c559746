// Package config loads the hosted service's configuration surface
// (spec section 6) via viper, from a file and the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sufficit/asterisk-manager-go/pkg/health"
	"github.com/sufficit/asterisk-manager-go/pkg/provider"
	"github.com/sufficit/asterisk-manager-go/pkg/supervisor"
)

// ProviderConfig is the on-disk/env shape of one provider entry.
type ProviderConfig struct {
	Title                string        `mapstructure:"title"`
	Address              string        `mapstructure:"address"`
	Port                 int           `mapstructure:"port"`
	Username             string        `mapstructure:"username"`
	Secret               string        `mapstructure:"secret"`
	UseMD5               bool          `mapstructure:"use_md5"`
	UseTLS               bool          `mapstructure:"use_tls"`
	InsecureSkipVerify   bool          `mapstructure:"insecure_skip_verify"`
	EventMask            string        `mapstructure:"event_mask"`
	KeepAliveInterval    time.Duration `mapstructure:"keepalive_interval"`
	DefaultActionTimeout time.Duration `mapstructure:"default_action_timeout"`
}

func (p ProviderConfig) toProvider() provider.Config {
	return provider.Config{
		Title:                p.Title,
		Address:              p.Address,
		Port:                 p.Port,
		Username:             p.Username,
		Secret:               p.Secret,
		UseMD5:               p.UseMD5,
		UseTLS:               p.UseTLS,
		InsecureSkipVerify:   p.InsecureSkipVerify,
		EventMask:            p.EventMask,
		KeepAliveInterval:    p.KeepAliveInterval,
		DefaultActionTimeout: p.DefaultActionTimeout,
	}
}

// RetryConfig mirrors supervisor.RetryPolicy for file/env loading.
type RetryConfig struct {
	EnableInitialRetry          bool          `mapstructure:"enable_initial_retry"`
	InitialRetryDelay           time.Duration `mapstructure:"initial_retry_delay"`
	DelayIncrement              time.Duration `mapstructure:"delay_increment"`
	MaxDelay                    time.Duration `mapstructure:"max_delay"`
	MaxAttempts                 int           `mapstructure:"max_attempts"`
	StopOnAuthenticationFailure bool          `mapstructure:"stop_on_authentication_failure"`
}

func (r RetryConfig) toPolicy() supervisor.RetryPolicy {
	return supervisor.RetryPolicy{
		EnableInitialRetry:          r.EnableInitialRetry,
		InitialRetryDelay:           r.InitialRetryDelay,
		DelayIncrement:              r.DelayIncrement,
		MaxDelay:                    r.MaxDelay,
		MaxAttempts:                 r.MaxAttempts,
		StopOnAuthenticationFailure: r.StopOnAuthenticationFailure,
	}
}

// HealthConfig mirrors health.Config for file/env loading.
type HealthConfig struct {
	Threshold   string        `mapstructure:"threshold"`
	Percentage  float64       `mapstructure:"percentage"`
	MaxEventAge time.Duration `mapstructure:"max_event_age"`
}

func (h HealthConfig) toHealthConfig() (health.Config, error) {
	var kind health.ThresholdKind
	switch strings.ToLower(h.Threshold) {
	case "", "all":
		kind = health.AllProviders
	case "majority":
		kind = health.MajorityProviders
	case "atleastone", "at_least_one":
		kind = health.AtLeastOneProvider
	case "minimumpercentage", "minimum_percentage":
		kind = health.MinimumPercentage
	default:
		return health.Config{}, fmt.Errorf("config: unknown health threshold %q", h.Threshold)
	}
	return health.Config{
		Threshold:   health.Threshold{Kind: kind, Percentage: h.Percentage},
		MaxEventAge: h.MaxEventAge,
	}, nil
}

// Config is the root of the hosted service's configuration.
type Config struct {
	Providers []ProviderConfig `mapstructure:"providers"`
	Retry     RetryConfig      `mapstructure:"retry"`
	Health    HealthConfig     `mapstructure:"health"`

	BridgeNATSURL     string `mapstructure:"bridge_nats_url"`
	BridgeAMQPURL     string `mapstructure:"bridge_amqp_url"`
	BridgeSubjectRoot string `mapstructure:"bridge_subject_root"`
}

// ProviderConfigs returns the configured providers translated to
// provider.Config values.
func (c Config) ProviderConfigs() []provider.Config {
	out := make([]provider.Config, len(c.Providers))
	for i, p := range c.Providers {
		out[i] = p.toProvider()
	}
	return out
}

// RetryPolicy returns the configured retry policy.
func (c Config) RetryPolicy() supervisor.RetryPolicy { return c.Retry.toPolicy() }

// HealthEvaluatorConfig returns the configured health evaluator settings.
func (c Config) HealthEvaluatorConfig() (health.Config, error) { return c.Health.toHealthConfig() }

// Load reads configuration from built-in defaults, path (if
// non-empty), and environment variables prefixed AMID_, in that order
// of increasing precedence.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("amid")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("retry.enable_initial_retry", true)
	v.SetDefault("retry.initial_retry_delay", 2*time.Second)
	v.SetDefault("retry.delay_increment", 2*time.Second)
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("health.threshold", "all")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

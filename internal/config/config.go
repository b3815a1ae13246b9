// Package config loads this module's runtime configuration from
// environment variables, with an optional YAML file overlay applied on
// top of the env-derived defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/strefethen/sonosstream/internal/apperrors"
	"github.com/strefethen/sonosstream/internal/model"
)

const (
	minSubscriptionTimeoutSec = 60
	maxSubscriptionTimeoutSec = 86400
	maxBufferSize             = 100000
	minCallbackPort           = 1024
	maxRetryAttempts          = 10
)

// Config holds the management server and Sonos event-stream settings.
type Config struct {
	Host string
	Port string

	NodeEnv string

	ManagementAuthSecret string

	Services []string

	SubscriptionTimeoutSec int
	RenewalBufferSec       int
	BackoffBaseSec         int
	BackoffCapSec          int
	MaxAttempts            int

	CallbackPortLo int
	CallbackPortHi int

	BufferSize int
}

// fileOverlay mirrors the subset of Config an operator may want to set
// from a file instead of the environment. Fields left zero/nil do not
// override the env-derived value.
type fileOverlay struct {
	Host                   *string  `yaml:"host"`
	Port                   *string  `yaml:"port"`
	NodeEnv                *string  `yaml:"node_env"`
	ManagementAuthSecret   *string  `yaml:"management_auth_secret"`
	Services               []string `yaml:"services"`
	SubscriptionTimeoutSec *int     `yaml:"subscription_timeout_sec"`
	RenewalBufferSec       *int     `yaml:"renewal_buffer_sec"`
	BackoffBaseSec         *int     `yaml:"backoff_base_sec"`
	BackoffCapSec          *int     `yaml:"backoff_cap_sec"`
	MaxAttempts            *int     `yaml:"max_attempts"`
	CallbackPortLo         *int     `yaml:"callback_port_lo"`
	CallbackPortHi         *int     `yaml:"callback_port_hi"`
	BufferSize             *int     `yaml:"buffer_size"`
}

// Load reads configuration from environment variables, then applies an
// optional YAML overlay named by CONFIG_FILE (if set). The result is
// validated against the same bounds stream.Builder.Start() enforces
// before being returned.
func Load() (Config, error) {
	cfg := Config{
		Host:                   envString("HOST", "0.0.0.0"),
		Port:                   envString("PORT", "9000"),
		NodeEnv:                envString("NODE_ENV", "development"),
		ManagementAuthSecret:   envString("MANAGEMENT_AUTH_SECRET", ""),
		Services:               envCSV("STREAM_SERVICES"),
		SubscriptionTimeoutSec: envInt("SUBSCRIPTION_TIMEOUT_SEC", 1800),
		RenewalBufferSec:       envInt("RENEWAL_BUFFER_SEC", 120),
		BackoffBaseSec:         envInt("BACKOFF_BASE_SEC", 30),
		BackoffCapSec:          envInt("BACKOFF_CAP_SEC", 600),
		MaxAttempts:            envInt("MAX_ATTEMPTS", 5),
		CallbackPortLo:         envInt("CALLBACK_PORT_LO", 8080),
		CallbackPortHi:         envInt("CALLBACK_PORT_HI", 8090),
		BufferSize:             envInt("BUFFER_SIZE", 256),
	}

	if path := envString("CONFIG_FILE", ""); path != "" {
		if err := applyOverlay(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyOverlay(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("reading config overlay %q: %v", path, err), nil)
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("parsing config overlay %q: %v", path, err), nil)
	}

	if overlay.Host != nil {
		cfg.Host = *overlay.Host
	}
	if overlay.Port != nil {
		cfg.Port = *overlay.Port
	}
	if overlay.NodeEnv != nil {
		cfg.NodeEnv = *overlay.NodeEnv
	}
	if overlay.ManagementAuthSecret != nil {
		cfg.ManagementAuthSecret = *overlay.ManagementAuthSecret
	}
	if overlay.Services != nil {
		cfg.Services = overlay.Services
	}
	if overlay.SubscriptionTimeoutSec != nil {
		cfg.SubscriptionTimeoutSec = *overlay.SubscriptionTimeoutSec
	}
	if overlay.RenewalBufferSec != nil {
		cfg.RenewalBufferSec = *overlay.RenewalBufferSec
	}
	if overlay.BackoffBaseSec != nil {
		cfg.BackoffBaseSec = *overlay.BackoffBaseSec
	}
	if overlay.BackoffCapSec != nil {
		cfg.BackoffCapSec = *overlay.BackoffCapSec
	}
	if overlay.MaxAttempts != nil {
		cfg.MaxAttempts = *overlay.MaxAttempts
	}
	if overlay.CallbackPortLo != nil {
		cfg.CallbackPortLo = *overlay.CallbackPortLo
	}
	if overlay.CallbackPortHi != nil {
		cfg.CallbackPortHi = *overlay.CallbackPortHi
	}
	if overlay.BufferSize != nil {
		cfg.BufferSize = *overlay.BufferSize
	}
	return nil
}

// validate enforces the same numeric bounds stream.Builder.Start() checks,
// so a bad configuration is rejected at load time rather than surfacing
// later as an opaque Start() failure.
func (c Config) validate() error {
	if c.CallbackPortLo < minCallbackPort {
		return apperrors.NewValidationError(
			fmt.Sprintf("callback port range must start at %d or above, got %d", minCallbackPort, c.CallbackPortLo), nil)
	}
	if c.CallbackPortLo >= c.CallbackPortHi {
		return apperrors.NewValidationError(
			fmt.Sprintf("callback port range is inverted or empty: lo=%d hi=%d", c.CallbackPortLo, c.CallbackPortHi), nil)
	}
	if c.BufferSize <= 0 || c.BufferSize > maxBufferSize {
		return apperrors.NewValidationError(
			fmt.Sprintf("buffer size must be in (0,%d], got %d", maxBufferSize, c.BufferSize), nil)
	}
	if c.SubscriptionTimeoutSec < minSubscriptionTimeoutSec || c.SubscriptionTimeoutSec > maxSubscriptionTimeoutSec {
		return apperrors.NewValidationError(
			fmt.Sprintf("subscription timeout must be in [%d,%d] seconds, got %d", minSubscriptionTimeoutSec, maxSubscriptionTimeoutSec, c.SubscriptionTimeoutSec), nil)
	}
	if c.BackoffBaseSec <= 0 {
		return apperrors.NewValidationError("backoff base must be positive", nil)
	}
	if c.MaxAttempts < 0 || c.MaxAttempts > maxRetryAttempts {
		return apperrors.NewValidationError(
			fmt.Sprintf("max retry attempts must be in [0,%d], got %d", maxRetryAttempts, c.MaxAttempts), nil)
	}
	if len(c.ServiceTypes()) == 0 {
		return apperrors.NewValidationError("at least one service must be enabled", nil)
	}
	return nil
}

// ServiceTypes resolves the configured service name strings into
// model.ServiceType values, defaulting to every known service when none
// were named.
func (c Config) ServiceTypes() []model.ServiceType {
	if len(c.Services) == 0 {
		return model.AllServices()
	}
	var out []model.ServiceType
	for _, name := range c.Services {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "avtransport":
			out = append(out, model.ServiceAVTransport)
		case "renderingcontrol":
			out = append(out, model.ServiceRenderingControl)
		case "zonegrouptopology":
			out = append(out, model.ServiceZoneGroupTopology)
		}
	}
	return out
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envCSV(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}
	return result
}

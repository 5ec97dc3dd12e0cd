// Package config holds the gateway configuration. Precedence is flags over
// environment over config file over built-in defaults; callers run
// SetDefaults, LoadFile, ApplyEnv, then BindFlagsFromCurrent and
// flag.Parse.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds configuration for the orbgate gateway.
type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	ConfigFile  string `yaml:"-"`

	// Inbound surface.
	APIKey         string   `yaml:"api_key"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Schemas and mapping.
	SourceSchema  string `yaml:"source_schema"`
	TargetSchema  string `yaml:"target_schema"`
	OverridesFile string `yaml:"overrides_file"`

	// Outbound transport. TargetURL selects the HTTP transport; when empty
	// the websocket agent plane is used and agents authenticate with
	// AgentKey.
	TargetURL    string `yaml:"target_url"`
	TargetAPIKey string `yaml:"target_api_key"`
	AgentKey     string `yaml:"agent_key"`

	// Per-call default deadline when the caller supplies none, and drain
	// window on shutdown.
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`

	// Shared lifecycle state for multi-replica deployments.
	RedisAddr string `yaml:"redis_addr"`
}

// SetDefaults initializes c with built-in defaults.
func (c *ServerConfig) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 5 * time.Minute
	}
}

// ResolvedMetricsAddr returns the metrics listen address, defaulting to the
// main port. Resolved late so file, env, and flag overrides of the port are
// already in effect.
func (c *ServerConfig) ResolvedMetricsAddr() string {
	if c.MetricsAddr != "" {
		return c.MetricsAddr
	}
	return fmt.Sprintf(":%d", c.Port)
}

// LoadFile populates the config from a YAML file.
func (c *ServerConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, c)
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *ServerConfig) ApplyEnv() {
	if v := getEnv("CONFIG_FILE", ""); v != "" {
		c.ConfigFile = v
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := getEnv("PORT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := getEnv("METRICS_PORT", ""); v != "" {
		if strings.Contains(v, ":") {
			c.MetricsAddr = v
		} else {
			c.MetricsAddr = ":" + v
		}
	}
	if v := getEnv("API_KEY", ""); v != "" {
		c.APIKey = v
	}
	if v := getEnv("AGENT_KEY", ""); v != "" {
		c.AgentKey = v
	}
	if v := getEnv("SOURCE_SCHEMA", ""); v != "" {
		c.SourceSchema = v
	}
	if v := getEnv("TARGET_SCHEMA", ""); v != "" {
		c.TargetSchema = v
	}
	if v := getEnv("OVERRIDES_FILE", ""); v != "" {
		c.OverridesFile = v
	}
	if v := getEnv("TARGET_URL", ""); v != "" {
		c.TargetURL = v
	}
	if v := getEnv("TARGET_API_KEY", ""); v != "" {
		c.TargetAPIKey = v
	}
	if v := getEnv("REDIS_ADDR", ""); v != "" {
		c.RedisAddr = v
	}
	if v := getEnv("DEFAULT_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DefaultTimeout = d
		}
	}
	if v := getEnv("DRAIN_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DrainTimeout = d
		}
	}
	if v := getEnv("ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitComma(v)
	}
}

// BindFlagsFromCurrent binds command line flags using the current config
// values as defaults so main can call flag.Parse().
func (c *ServerConfig) BindFlagsFromCurrent() {
	flag.StringVar(&c.ConfigFile, "config", c.ConfigFile, "gateway config file path")
	flag.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	flag.IntVar(&c.Port, "port", c.Port, "HTTP listen port for the inbound RPC surface")
	flag.StringVar(&c.MetricsAddr, "metrics-port", c.MetricsAddr, "Prometheus metrics listen address or port; defaults to the value of --port")
	flag.StringVar(&c.APIKey, "api-key", c.APIKey, "caller API key required for inbound calls; leave empty to disable auth")
	flag.StringVar(&c.AgentKey, "agent-key", c.AgentKey, "shared key target agents must present when registering")
	flag.StringVar(&c.SourceSchema, "source-schema", c.SourceSchema, "source interface descriptor file (inbound dialect)")
	flag.StringVar(&c.TargetSchema, "target-schema", c.TargetSchema, "target interface descriptor file (outbound dialect)")
	flag.StringVar(&c.OverridesFile, "overrides", c.OverridesFile, "operation mapping overrides file")
	flag.StringVar(&c.TargetURL, "target-url", c.TargetURL, "outbound HTTP base URL; leave empty to dispatch to websocket agents")
	flag.StringVar(&c.TargetAPIKey, "target-api-key", c.TargetAPIKey, "bearer key sent with outbound HTTP calls")
	flag.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "redis connection URL for shared gateway state")
	flag.DurationVar(&c.DefaultTimeout, "default-timeout", c.DefaultTimeout, "deadline applied to calls that carry none")
	flag.DurationVar(&c.DrainTimeout, "drain-timeout", c.DrainTimeout, "time to wait for in-flight calls on shutdown")
	flag.Func("allowed-origins", "comma separated list of allowed CORS origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})
}

func getEnv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

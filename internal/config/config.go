// Package config provides the configuration schema for wiretap, a
// man-in-the-middle proxy that sits between an MCP client and server and
// lets an operator hold, inspect, modify, and replay messages crossing
// the wire.
package config

import (
	"os"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for wiretap.
type Config struct {
	// Server configures logging and the admin HTTP listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Transport configures how wiretap reaches the client and the
	// upstream MCP server it proxies to.
	Transport TransportConfig `yaml:"transport" mapstructure:"transport"`

	// Capture configures where captured session messages are persisted.
	Capture CaptureConfig `yaml:"capture" mapstructure:"capture"`

	// Admin configures the operator HTTP control surface.
	Admin AdminConfig `yaml:"admin" mapstructure:"admin"`

	// RateLimit configures throttling of replay and admin-API requests.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// CEL lists the auto-decision rules consulted before a message would
	// otherwise be held in Intercept mode.
	CEL CELConfig `yaml:"cel" mapstructure:"cel"`

	// Observability configures metrics and tracing export.
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`

	// DevMode enables permissive defaults for local development.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures logging and the admin listener.
type ServerConfig struct {
	// AdminAddr is the address the admin HTTP API listens on.
	// Defaults to "127.0.0.1:8088" (localhost only) if empty.
	AdminAddr string `yaml:"admin_addr" mapstructure:"admin_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// TransportConfig configures the client-facing and server-facing ends of
// the proxy. Kind selects the wire transport used on both ends; exactly
// one of Upstream's HTTP or Command applies depending on Kind.
type TransportConfig struct {
	// Kind selects the transport the proxy speaks on both sides.
	// Valid values: "stdio", "sse", "streamable_http".
	Kind string `yaml:"kind" mapstructure:"kind" validate:"required,oneof=stdio sse streamable_http"`

	// Upstream identifies the MCP server being proxied to.
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`

	// ListenAddr is the address the proxy listens on for SSE/streamable
	// HTTP client connections. Unused for stdio.
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr" validate:"omitempty,hostname_port"`
}

// UpstreamConfig configures the upstream MCP server.
// Exactly one of HTTP or Command must be specified.
type UpstreamConfig struct {
	// HTTP is the URL of a remote MCP server (e.g., "http://localhost:3000/mcp").
	HTTP string `yaml:"http" mapstructure:"http" validate:"omitempty,url"`

	// Command is the path to an MCP server executable to spawn as a subprocess.
	Command string `yaml:"command" mapstructure:"command"`

	// Args are the arguments to pass to the subprocess command.
	Args []string `yaml:"args" mapstructure:"args"`

	// HTTPTimeout is the timeout for HTTP requests to upstream (e.g., "30s").
	HTTPTimeout string `yaml:"http_timeout" mapstructure:"http_timeout" validate:"omitempty"`
}

// CaptureConfig configures where captured session messages are persisted.
type CaptureConfig struct {
	// Backend selects the durable store. Valid values: "file", "sqlite".
	// The in-memory store is always active regardless of this setting;
	// Backend names an additional persistence target.
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=file sqlite"`

	// Dir is the directory session files or the sqlite database live in.
	Dir string `yaml:"dir" mapstructure:"dir"`

	// FlushInterval is how often the session snapshot is flushed to disk.
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty"`
}

// AdminConfig configures the operator HTTP control surface.
type AdminConfig struct {
	// StatePath is the file holding persisted operators and API keys.
	StatePath string `yaml:"state_path" mapstructure:"state_path"`
}

// RateLimitConfig configures rate limiting.
type RateLimitConfig struct {
	// Enabled turns rate limiting on or off.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// ReplayRate is the maximum replays per minute per operator.
	ReplayRate int `yaml:"replay_rate" mapstructure:"replay_rate" validate:"omitempty,min=1"`

	// AdminAPIRate is the maximum admin-API requests per minute per operator.
	AdminAPIRate int `yaml:"admin_api_rate" mapstructure:"admin_api_rate" validate:"omitempty,min=1"`

	// CleanupInterval is how often expired rate limit entries are swept.
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty"`

	// MaxTTL is the maximum age of a rate limit entry before removal.
	MaxTTL string `yaml:"max_ttl" mapstructure:"max_ttl" validate:"omitempty"`
}

// CELRuleConfig defines one auto-decision rule.
type CELRuleConfig struct {
	// Name is a human-readable identifier for this rule.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Expression is the CEL expression deciding whether the rule matches.
	Expression string `yaml:"expression" mapstructure:"expression" validate:"required"`

	// Action is applied when Expression matches. One of "forward", "drop".
	Action string `yaml:"action" mapstructure:"action" validate:"required,oneof=forward drop"`
}

// CELConfig lists the auto-decision rules evaluated in Intercept mode.
type CELConfig struct {
	Rules []CELRuleConfig `yaml:"rules" mapstructure:"rules" validate:"omitempty,dive"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	// MetricsEnabled exposes Prometheus metrics.
	MetricsEnabled bool `yaml:"metrics_enabled" mapstructure:"metrics_enabled"`

	// MetricsAddr is the address the /metrics endpoint listens on.
	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`

	// TracingEnabled emits a trace span per forwarded message to stdout.
	TracingEnabled bool `yaml:"tracing_enabled" mapstructure:"tracing_enabled"`
}

// SetDevDefaults applies permissive defaults for development mode,
// applied before validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if c.Transport.Kind == "" {
		c.Transport.Kind = "stdio"
	}
	if c.Admin.StatePath == "" {
		c.Admin.StatePath = "./wiretap-operators.json"
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	if c.Server.AdminAddr == "" {
		c.Server.AdminAddr = "127.0.0.1:8088"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	if c.Transport.Upstream.HTTPTimeout == "" {
		c.Transport.Upstream.HTTPTimeout = "30s"
	}

	if c.Capture.Backend == "" {
		c.Capture.Backend = "file"
	}
	if c.Capture.Dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Capture.Dir = home + "/.wiretap/sessions"
		}
	}
	if c.Capture.FlushInterval == "" {
		c.Capture.FlushInterval = "5s"
	}

	if c.Admin.StatePath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Admin.StatePath = home + "/.wiretap/operators.json"
		}
	}

	if !viper.IsSet("rate_limit.enabled") {
		c.RateLimit.Enabled = true
	}
	if c.RateLimit.ReplayRate == 0 {
		c.RateLimit.ReplayRate = 30
	}
	if c.RateLimit.AdminAPIRate == 0 {
		c.RateLimit.AdminAPIRate = 300
	}
	if c.RateLimit.CleanupInterval == "" {
		c.RateLimit.CleanupInterval = "5m"
	}
	if c.RateLimit.MaxTTL == "" {
		c.RateLimit.MaxTTL = "1h"
	}

	if c.Observability.MetricsAddr == "" {
		c.Observability.MetricsAddr = "127.0.0.1:9090"
	}
}

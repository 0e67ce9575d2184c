// Package config provides configuration loading for dashscope-mcp.
//
// Configuration is assembled from hardcoded defaults, an optional YAML file,
// and environment variables (highest precedence). Both binaries share the
// same Config: the stdio server reads the DashScope and server sections, the
// proxy reads the proxy section and forwards the API key to its child.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete dashscope-mcp configuration.
type Config struct {
	DashScope DashScopeConfig `koanf:"dashscope"`
	Server    ServerConfig    `koanf:"server"`
	Proxy     ProxyConfig     `koanf:"proxy"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// DashScopeConfig configures the remote text-generation client.
type DashScopeConfig struct {
	APIKey  Secret        `koanf:"api_key"`
	BaseURL string        `koanf:"base_url"`
	Model   string        `koanf:"model"`
	Timeout time.Duration `koanf:"timeout"`

	// RateLimit is the maximum number of requests per second sent upstream.
	// Zero disables client-side limiting.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

// ServerConfig configures the stdio MCP server.
type ServerConfig struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`

	// ScrubFileSecrets redacts credentials from file resource text.
	// Off by default so file reads return the exact file contents.
	ScrubFileSecrets bool `koanf:"scrub_file_secrets"`

	// SecretScanner selects the scrubber: "builtin" or "gitleaks".
	SecretScanner string `koanf:"secret_scanner"`

	// SecretAllowlist is a gitleaks-style TOML allowlist used by the
	// gitleaks scanner.
	SecretAllowlist string `koanf:"secret_allowlist"`
}

// Secret scanners accepted by ServerConfig.SecretScanner.
const (
	ScannerBuiltin  = "builtin"
	ScannerGitleaks = "gitleaks"
)

// ProxyConfig configures the HTTP proxy and the child process it supervises.
type ProxyConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// Command is the stdio server executable spawned as a child process.
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`

	RequestTimeout  time.Duration `koanf:"request_timeout"`
	RestartDelay    time.Duration `koanf:"restart_delay"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// WatchBinary restarts the child when Command is rebuilt on disk.
	WatchBinary bool `koanf:"watch_binary"`

	// StaticDir overrides the embedded web client with files on disk.
	StaticDir string `koanf:"static_dir"`
}

// LoggingConfig selects the log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Defaults returns a Config populated with default values.
func Defaults() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// ErrMissingAPIKey is returned when the DashScope API key is not configured.
var ErrMissingAPIKey = errors.New("DASHSCOPE_API_KEY is not set")

// Validate validates the configuration.
//
// Returns an error if:
//   - Proxy port is not between 1 and 65535
//   - Request timeout is not positive
//   - Restart delay is negative
//   - DashScope base URL or model is empty
//   - Logging format is not json or console
//   - Secret scanner is not builtin or gitleaks
func (c *Config) Validate() error {
	if c.Proxy.Port < 1 || c.Proxy.Port > 65535 {
		return fmt.Errorf("invalid proxy port: %d (must be 1-65535)", c.Proxy.Port)
	}
	if c.Proxy.RequestTimeout <= 0 {
		return errors.New("proxy request timeout must be positive")
	}
	if c.Proxy.RestartDelay < 0 {
		return errors.New("proxy restart delay cannot be negative")
	}
	if c.Proxy.ShutdownTimeout <= 0 {
		return errors.New("proxy shutdown timeout must be positive")
	}
	if c.DashScope.BaseURL == "" {
		return errors.New("dashscope base_url is required")
	}
	if c.DashScope.Model == "" {
		return errors.New("dashscope model is required")
	}
	if c.DashScope.RateLimit < 0 {
		return fmt.Errorf("invalid dashscope rate_limit: %v", c.DashScope.RateLimit)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if c.Server.SecretScanner != ScannerBuiltin && c.Server.SecretScanner != ScannerGitleaks {
		return fmt.Errorf("server secret_scanner must be %q or %q, got %q", ScannerBuiltin, ScannerGitleaks, c.Server.SecretScanner)
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.New("telemetry endpoint is required when telemetry is enabled")
	}
	return nil
}

// RequireAPIKey returns ErrMissingAPIKey when no API key is configured.
// Only the stdio server needs the key; the proxy merely forwards it.
func (c *Config) RequireAPIKey() error {
	if !c.DashScope.APIKey.IsSet() {
		return ErrMissingAPIKey
	}
	return nil
}

// Addr returns the proxy listen address.
func (p ProxyConfig) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

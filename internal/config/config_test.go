package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_AreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.ErrorIs(t, cfg.RequireAPIKey(), ErrMissingAPIKey)
	assert.Equal(t, ":3000", cfg.Proxy.Addr())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port zero", func(c *Config) { c.Proxy.Port = 0 }, "invalid proxy port"},
		{"port too high", func(c *Config) { c.Proxy.Port = 70000 }, "invalid proxy port"},
		{"request timeout", func(c *Config) { c.Proxy.RequestTimeout = -time.Second }, "request timeout"},
		{"restart delay", func(c *Config) { c.Proxy.RestartDelay = -time.Second }, "restart delay"},
		{"shutdown timeout", func(c *Config) { c.Proxy.ShutdownTimeout = -1 }, "shutdown timeout"},
		{"base url", func(c *Config) { c.DashScope.BaseURL = "" }, "base_url"},
		{"model", func(c *Config) { c.DashScope.Model = "" }, "model"},
		{"rate limit", func(c *Config) { c.DashScope.RateLimit = -1 }, "rate_limit"},
		{"log format", func(c *Config) { c.Logging.Format = "text" }, "logging format"},
		{"secret scanner", func(c *Config) { c.Server.SecretScanner = "trufflehog" }, "secret_scanner"},
		{"telemetry endpoint", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Endpoint = ""
		}, "telemetry endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("sk-abcdef")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "sk-abcdef")
	assert.Equal(t, "sk-abcdef", s.Value())
	assert.True(t, s.IsSet())

	out, err := json.Marshal(DashScopeConfig{APIKey: s})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "sk-abcdef")

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestSecret_UnmarshalText(t *testing.T) {
	var s Secret
	require.NoError(t, s.UnmarshalText([]byte("sk-raw")))
	assert.Equal(t, "sk-raw", s.Value())
}

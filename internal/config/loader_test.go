package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the allowed config dir.
func setupTestHome(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", appDirName)
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	dir := setupTestHome(t)

	cfg, err := LoadWithFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "https://dashscope.aliyuncs.com/api/v1", cfg.DashScope.BaseURL)
	assert.Equal(t, "qwen-turbo", cfg.DashScope.Model)
	assert.Equal(t, 3000, cfg.Proxy.Port)
	assert.Equal(t, 30*time.Second, cfg.Proxy.RequestTimeout)
	assert.Equal(t, time.Second, cfg.Proxy.RestartDelay)
	assert.Equal(t, "dashscope-mcp", cfg.Server.Name)
	assert.Equal(t, "1.0.0", cfg.Server.Version)
	assert.Equal(t, ScannerBuiltin, cfg.Server.SecretScanner)
}

func TestLoadWithFile_EmptyPathUsesDefaultLocation(t *testing.T) {
	setupTestHome(t)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Proxy.Port)
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, `
dashscope:
  model: qwen-plus
  timeout: 15s
proxy:
  host: 127.0.0.1
  port: 8088
  command: /usr/local/bin/dashscope-mcp
  args: ["--log-level", "debug"]
  request_timeout: 5s
server:
  scrub_file_secrets: true
  secret_scanner: gitleaks
  secret_allowlist: /etc/dashscope-mcp/allowlist.toml
logging:
  format: console
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "qwen-plus", cfg.DashScope.Model)
	assert.Equal(t, 15*time.Second, cfg.DashScope.Timeout)
	assert.Equal(t, "127.0.0.1:8088", cfg.Proxy.Addr())
	assert.Equal(t, "/usr/local/bin/dashscope-mcp", cfg.Proxy.Command)
	assert.Equal(t, []string{"--log-level", "debug"}, cfg.Proxy.Args)
	assert.Equal(t, 5*time.Second, cfg.Proxy.RequestTimeout)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.True(t, cfg.Server.ScrubFileSecrets)
	assert.Equal(t, ScannerGitleaks, cfg.Server.SecretScanner)
	assert.Equal(t, "/etc/dashscope-mcp/allowlist.toml", cfg.Server.SecretAllowlist)
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "proxy:\n  port: 8088\ndashscope:\n  model: qwen-plus\n", 0600)

	t.Setenv("PORT", "9099")
	t.Setenv("DASHSCOPE_MODEL", "qwen-max")
	t.Setenv("DASHSCOPE_API_KEY", "sk-test")
	t.Setenv("PROXY_REQUEST_TIMEOUT", "2s")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9099, cfg.Proxy.Port)
	assert.Equal(t, "qwen-max", cfg.DashScope.Model)
	assert.Equal(t, "sk-test", cfg.DashScope.APIKey.Value())
	assert.Equal(t, 2*time.Second, cfg.Proxy.RequestTimeout)
	assert.NoError(t, cfg.RequireAPIKey())
}

func TestLoadWithFile_IgnoresUnrelatedEnv(t *testing.T) {
	setupTestHome(t)
	t.Setenv("PROXY", "http://corp-proxy:8080")
	t.Setenv("SERVER", "whatever")

	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Proxy.Port)
}

func TestLoadWithFile_RejectsPathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)

	_, err := LoadWithFile(filepath.Join(t.TempDir(), "config.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config path validation failed")
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on windows")
	}
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "proxy:\n  port: 8088\n", 0644)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_RejectsOversizedFile(t *testing.T) {
	dir := setupTestHome(t)
	big := "# " + strings.Repeat("x", maxConfigFileSize) + "\n"
	path := writeConfig(t, dir, big, 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

func TestLoadWithFile_InvalidValues(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, "logging:\n  format: xml\n", 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging format")
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"PORT":                  "proxy.port",
		"DASHSCOPE_API_KEY":     "dashscope.api_key",
		"PROXY_REQUEST_TIMEOUT": "proxy.request_timeout",
		"LOGGING_LEVEL":         "logging.level",
		"TELEMETRY_ENABLED":     "telemetry.enabled",
		"HOME":                  "",
		"HTTP_PROXY":            "",
		"PROXY":                 "",
		"PROXY_":                "",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, envKey(in))
		})
	}
}

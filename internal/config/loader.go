package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	appDirName = "dashscope-mcp"
)

// DefaultPath returns ~/.config/dashscope-mcp/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", appDirName, "config.yaml"), nil
}

// LoadWithFile loads configuration from a YAML file, then overrides with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DASHSCOPE_API_KEY, PROXY_REQUEST_TIMEOUT, PORT, etc.)
//  2. YAML config file (~/.config/dashscope-mcp/config.yaml)
//  3. Hardcoded defaults
//
// A missing file is not an error. An existing file must live under
// ~/.config/dashscope-mcp/ or /etc/dashscope-mcp/, have 0600 or 0400
// permissions and be at most 1MB.
//
// # Environment Variable Mapping
//
// The first underscore separates the section from the field name:
//
//	DASHSCOPE_API_KEY       -> dashscope.api_key
//	PROXY_REQUEST_TIMEOUT   -> proxy.request_timeout
//	LOGGING_LEVEL           -> logging.level
//
// PORT is accepted as an alias for proxy.port.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envSections lists the config sections that environment variables may set.
var envSections = map[string]bool{
	"dashscope": true,
	"server":    true,
	"proxy":     true,
	"logging":   true,
	"telemetry": true,
}

// envKey maps an environment variable name onto a koanf key path. Variables
// outside the known sections map to "" and are skipped by the provider.
func envKey(s string) string {
	lower := strings.ToLower(s)
	if lower == "port" {
		return "proxy.port"
	}

	parts := strings.SplitN(lower, "_", 2)
	if len(parts) != 2 || parts[1] == "" || !envSections[parts[0]] {
		return ""
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile opens the file once and validates it through the open
// descriptor to avoid a stat/open race.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", appDirName),
		filepath.Join("/etc", appDirName),
	}

	for _, dir := range allowedDirs {
		if resolvedPath == dir || strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/%s/ or /etc/%s/", appDirName, appDirName)
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	// DashScope defaults
	if cfg.DashScope.BaseURL == "" {
		cfg.DashScope.BaseURL = "https://dashscope.aliyuncs.com/api/v1"
	}
	if cfg.DashScope.Model == "" {
		cfg.DashScope.Model = "qwen-turbo"
	}
	if cfg.DashScope.Timeout == 0 {
		cfg.DashScope.Timeout = 60 * time.Second
	}
	if cfg.DashScope.RateBurst == 0 {
		cfg.DashScope.RateBurst = 1
	}

	// Server defaults
	if cfg.Server.Name == "" {
		cfg.Server.Name = "dashscope-mcp"
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = "1.0.0"
	}
	if cfg.Server.SecretScanner == "" {
		cfg.Server.SecretScanner = ScannerBuiltin
	}

	// Proxy defaults
	if cfg.Proxy.Port == 0 {
		cfg.Proxy.Port = 3000
	}
	if cfg.Proxy.Command == "" {
		cfg.Proxy.Command = "dashscope-mcp"
	}
	if cfg.Proxy.RequestTimeout == 0 {
		cfg.Proxy.RequestTimeout = 30 * time.Second
	}
	if cfg.Proxy.RestartDelay == 0 {
		cfg.Proxy.RestartDelay = time.Second
	}
	if cfg.Proxy.ShutdownTimeout == 0 {
		cfg.Proxy.ShutdownTimeout = 10 * time.Second
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	// Telemetry defaults
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = appDirName
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

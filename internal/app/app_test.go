package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/dashscope-mcp/internal/config"
	"github.com/fyrsmithlabs/dashscope-mcp/internal/logging"
)

func isolatedHome(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, key := range []string{"DASHSCOPE_API_KEY", "PORT", "PROXY_PORT", "LOGGING_LEVEL", "TELEMETRY_ENABLED"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestInit_Defaults(t *testing.T) {
	isolatedHome(t)

	rt, err := Init(context.Background(), Options{LogWriter: logging.WriterStderr, Version: "test"})
	require.NoError(t, err)
	defer func() { assert.NoError(t, rt.Close(context.Background())) }()

	assert.Equal(t, 3000, rt.Config.Proxy.Port)
	assert.Equal(t, "qwen-turbo", rt.Config.DashScope.Model)
	assert.NotNil(t, rt.Logger)
	assert.False(t, rt.Telemetry.IsEnabled())
}

func TestInit_MutateIsValidated(t *testing.T) {
	isolatedHome(t)

	rt, err := Init(context.Background(), Options{
		LogWriter: logging.WriterStdout,
		Mutate:    func(c *config.Config) { c.Proxy.Port = 8123 },
	})
	require.NoError(t, err)
	assert.Equal(t, 8123, rt.Config.Proxy.Port)
	_ = rt.Close(context.Background())

	_, err = Init(context.Background(), Options{
		LogWriter: logging.WriterStdout,
		Mutate:    func(c *config.Config) { c.Proxy.Port = 70000 },
	})
	assert.Error(t, err)
}

func TestInit_InvalidLogLevel(t *testing.T) {
	isolatedHome(t)
	t.Setenv("LOGGING_LEVEL", "loud")

	_, err := Init(context.Background(), Options{LogWriter: logging.WriterStderr})
	assert.Error(t, err)
}

func TestInit_BadConfigPath(t *testing.T) {
	isolatedHome(t)

	_, err := Init(context.Background(), Options{ConfigPath: filepath.Join(t.TempDir(), "elsewhere.yaml")})
	assert.Error(t, err, "config files outside the allowed directories are rejected")
}

// Package main implements mcpctl, a command-line client for dashscope-mcp.
//
// Most commands talk to a running dashscope-proxy over HTTP. The smoke
// command spawns the stdio server directly and drives it over MCP.
package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// proxyURL is the base URL of the dashscope-proxy HTTP server
	proxyURL string
	// requestTimeout bounds each HTTP request to the proxy
	requestTimeout time.Duration
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mcpctl",
	Short: "CLI for the dashscope-mcp server and proxy",
	Long: `mcpctl talks to a running dashscope-proxy to inspect the supervised MCP
server, call its tools and read resources. It can also smoke-test the stdio
server binary directly.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&proxyURL, "proxy", envOr("DASHSCOPE_PROXY_URL", "http://localhost:3000"), "dashscope-proxy URL")
	rootCmd.PersistentFlags().DurationVar(&requestTimeout, "timeout", 35*time.Second, "HTTP request timeout")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(resourcesCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(smokeCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient() *ProxyClient {
	return NewProxyClient(proxyURL, requestTimeout)
}

package main

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/dashscope-mcp/internal/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live dashboard of proxy metrics",
	Long: `Poll the proxy's /metrics and status endpoints and render a live
dashboard of request rates, latency, frame errors and child restarts.

Press 'r' to refresh now and 'q' to quit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		if interval <= 0 {
			interval = 2 * time.Second
		}
		_, err := tea.NewProgram(monitor.NewModel(proxyURL, interval), tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
		return err
	},
}

func init() {
	monitorCmd.Flags().Duration("interval", 2*time.Second, "refresh interval")
}

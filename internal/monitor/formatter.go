package monitor

import (
	"fmt"
	"time"
)

// FormatRate formats a per-minute rate as "X.X req/min".
func FormatRate(perMinute float64) string {
	return fmt.Sprintf("%.1f req/min", perMinute)
}

// FormatLatency formats seconds as "X.Xms" below one second, else "X.Xs".
func FormatLatency(seconds float64) string {
	if seconds < 1.0 {
		return fmt.Sprintf("%.1fms", seconds*1000)
	}
	return fmt.Sprintf("%.1fs", seconds)
}

// FormatPercentage formats a ratio (0-1) as a percentage.
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatMemory formats bytes as "X.X GB", "X.X MB", "X.X KB" or "X B".
func FormatMemory(bytes uint64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// FormatUptime formats d as "Xh Ym", "Xm Ys" or "Xs".
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int64(d / time.Hour)
	minutes := int64(d%time.Hour) / int64(time.Minute)
	seconds := int64(d%time.Minute) / int64(time.Second)

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// FormatCount formats a counter value without a fractional part.
func FormatCount(v float64) string {
	return fmt.Sprintf("%.0f", v)
}

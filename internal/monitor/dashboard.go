// Package monitor renders a live terminal dashboard for a running
// dashscope-proxy from its status endpoint and Prometheus metrics.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30

	// defaultMemoryMax scales the memory bar until a larger value is seen.
	defaultMemoryMax = 256 * 1024 * 1024
)

// Model is the BubbleTea dashboard model.
type Model struct {
	proxyURL   string
	interval   time.Duration
	lastUpdate time.Time
	metrics    MetricsSnapshot
	err        error
	quitting   bool

	memoryProgress  progress.Model
	requestProgress progress.Model
}

// MetricsSnapshot holds one reading plus the history derived from earlier
// readings.
type MetricsSnapshot struct {
	Status  string
	PID     int
	ChildUp bool

	RequestsTotal float64
	Outcomes      map[string]float64
	DurationSum   float64
	DurationCount float64

	Pending         float64
	LateResponses   float64
	MalformedFrames float64
	Restarts        float64

	MemoryBytes uint64
	Goroutines  int
	StartTime   time.Time
	ScrapedAt   time.Time

	// Derived from the previous reading.
	RequestRate float64 // requests per minute
	AvgLatency  float64 // seconds per request since the previous reading

	RateHistory    []float64
	LatencyHistory []float64
	PendingHistory []float64
	MemoryHistory  []float64

	RatePeak  float64
	MemoryMax float64
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard for the proxy at proxyURL, refreshed every
// interval.
func NewModel(proxyURL string, interval time.Duration) Model {
	return Model{
		proxyURL: proxyURL,
		interval: interval,
		memoryProgress: progress.New(
			progress.WithGradient("#00ff00", "#ffff00"),
			progress.WithWidth(40),
		),
		requestProgress: progress.New(
			progress.WithGradient("#00ffff", "#ff00ff"),
			progress.WithWidth(40),
		),
		metrics: MetricsSnapshot{
			Outcomes:       map[string]float64{},
			RateHistory:    make([]float64, 0, historySize),
			LatencyHistory: make([]float64, 0, historySize),
			PendingHistory: make([]float64, 0, historySize),
			MemoryHistory:  make([]float64, 0, historySize),
			RatePeak:       1.0,
			MemoryMax:      defaultMemoryMax,
		},
	}
}

// getStatusBadge returns the child process badge.
func getStatusBadge(s MetricsSnapshot) string {
	switch {
	case s.ChildUp || s.Status == "connected":
		return healthyStyle.Render("✓ CONNECTED")
	case s.Status == "":
		return warningStyle.Render("⚠ UNKNOWN")
	default:
		return errorStyle.Render("✗ DISCONNECTED")
	}
}

// getCountBadge flags a counter that is non-zero.
func getCountBadge(v float64) string {
	if v == 0 {
		return healthyStyle.Render("[✓]")
	}
	return warningStyle.Render("[⚠]")
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type metricsMsg MetricsSnapshot
type errMsg error

// Init starts the refresh loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchMetrics(m.proxyURL),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchMetrics reads one snapshot from the proxy.
func fetchMetrics(proxyURL string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		snap, err := NewMetricsClient(proxyURL).Snapshot(ctx)
		if err != nil {
			return errMsg(err)
		}
		return metricsMsg(snap)
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchMetrics(m.proxyURL)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchMetrics(m.proxyURL),
		)

	case metricsMsg:
		m.metrics = m.advance(MetricsSnapshot(msg))
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// advance derives rates from the previous reading and carries history over.
func (m Model) advance(next MetricsSnapshot) MetricsSnapshot {
	prev := m.metrics

	if !prev.ScrapedAt.IsZero() && next.ScrapedAt.After(prev.ScrapedAt) {
		elapsed := next.ScrapedAt.Sub(prev.ScrapedAt)
		// Counters reset when the proxy restarts.
		if delta := next.RequestsTotal - prev.RequestsTotal; delta > 0 {
			next.RequestRate = delta / elapsed.Minutes()
		}
		if dCount := next.DurationCount - prev.DurationCount; dCount > 0 {
			next.AvgLatency = (next.DurationSum - prev.DurationSum) / dCount
		}
	} else if next.DurationCount > 0 {
		next.AvgLatency = next.DurationSum / next.DurationCount
	}

	next.RateHistory = appendToHistory(prev.RateHistory, next.RequestRate)
	next.LatencyHistory = appendToHistory(prev.LatencyHistory, next.AvgLatency*1000)
	next.PendingHistory = appendToHistory(prev.PendingHistory, next.Pending)
	next.MemoryHistory = appendToHistory(prev.MemoryHistory, float64(next.MemoryBytes))

	next.RatePeak = prev.RatePeak
	if next.RequestRate > next.RatePeak {
		next.RatePeak = next.RequestRate
	}
	next.MemoryMax = prev.MemoryMax
	if float64(next.MemoryBytes) > next.MemoryMax {
		next.MemoryMax = float64(next.MemoryBytes)
	}
	if next.Outcomes == nil {
		next.Outcomes = map[string]float64{}
	}
	return next
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render("dashscope-proxy Monitor")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot reach dashscope-proxy") + "\n"
	content += "\n"
	content += dimStyle.Render("URL: ") + valueStyle.Render(m.proxyURL) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += dimStyle.Render("Please ensure:") + "\n"
	content += dimStyle.Render("  1. dashscope-proxy is running") + "\n"
	content += dimStyle.Render("  2. --proxy points at its listen address") + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	return containerStyle.Render(header + "\n" + content)
}

func (m Model) renderDashboard() string {
	s := m.metrics
	var content string

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}
	uptimeStr := "-"
	if !s.StartTime.IsZero() {
		uptimeStr = FormatUptime(time.Since(s.StartTime))
	}

	content += headerStyle.Render(" dashscope-proxy Monitor ") + "\n"
	content += fmt.Sprintf("%s   %s   %s   %s",
		getStatusBadge(s),
		dimStyle.Render("Uptime:"),
		valueStyle.Render(uptimeStr),
		dimStyle.Render(lastUpdateStr)) + "\n"

	// Server process
	content += "\n" + sectionStyle.Render("┃ Server Process") + "\n"
	pid := "-"
	if s.PID > 0 {
		pid = fmt.Sprintf("%d", s.PID)
	}
	content += labelStyle.Render("  PID: ") + valueStyle.Render(pid) +
		"   " + labelStyle.Render("Restarts: ") + valueStyle.Render(FormatCount(s.Restarts)) +
		" " + getCountBadge(s.Restarts) + "\n"

	// Requests
	content += "\n" + sectionStyle.Render("┃ Requests") + "\n"
	content += labelStyle.Render("  Rate: ") +
		valueStyle.Render(FormatRate(s.RequestRate)) +
		"   " + createSparkline(s.RateHistory) + "\n"
	content += labelStyle.Render("  Latency (avg): ") +
		valueStyle.Render(FormatLatency(s.AvgLatency)) +
		"   " + createSparkline(s.LatencyHistory) + "\n"
	content += labelStyle.Render("  Pending: ") +
		valueStyle.Render(FormatCount(s.Pending)) +
		"   " + createSparkline(s.PendingHistory) + "\n"
	content += labelStyle.Render("  Outcomes: ") +
		dimStyle.Render("ok=") + valueStyle.Render(FormatCount(s.Outcomes["ok"])) +
		dimStyle.Render("  rpc_error=") + valueStyle.Render(FormatCount(s.Outcomes["rpc_error"])) +
		dimStyle.Render("  timeout=") + valueStyle.Render(FormatCount(s.Outcomes["timeout"])) +
		dimStyle.Render("  transport=") + valueStyle.Render(FormatCount(s.Outcomes["transport_error"])) + "\n"

	ratePercent := 0.0
	if s.RatePeak > 0 {
		ratePercent = s.RequestRate / s.RatePeak
		if ratePercent > 1.0 {
			ratePercent = 1.0
		}
	}
	content += labelStyle.Render("  Load: ") +
		m.requestProgress.ViewAs(ratePercent) +
		" " + dimStyle.Render(fmt.Sprintf("%.0f%%", ratePercent*100)) + "\n"

	// Frames
	content += "\n" + sectionStyle.Render("┃ Frames") + "\n"
	content += labelStyle.Render("  Late responses: ") +
		valueStyle.Render(FormatCount(s.LateResponses)) + " " + getCountBadge(s.LateResponses) +
		"   " + labelStyle.Render("Malformed: ") +
		valueStyle.Render(FormatCount(s.MalformedFrames)) + " " + getCountBadge(s.MalformedFrames) + "\n"

	// System
	content += "\n" + sectionStyle.Render("┃ System") + "\n"
	memoryPercent := 0.0
	if s.MemoryMax > 0 {
		memoryPercent = float64(s.MemoryBytes) / s.MemoryMax
	}
	content += labelStyle.Render("  Memory: ") +
		m.memoryProgress.ViewAs(memoryPercent) +
		" " + dimStyle.Render(FormatMemory(s.MemoryBytes)) + "\n"
	content += labelStyle.Render("  Goroutines: ") +
		valueStyle.Render(fmt.Sprintf("%d", s.Goroutines)) + "\n"

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))

	content += "\n" + footer

	return containerStyle.Render(content)
}

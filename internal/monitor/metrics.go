package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
)

// Metric family names exported by dashscope-proxy.
const (
	metricRequests        = "dashscope_proxy_requests_total"
	metricDuration        = "dashscope_proxy_request_duration_seconds"
	metricPending         = "dashscope_proxy_pending_requests"
	metricLateResponses   = "dashscope_proxy_late_responses_total"
	metricMalformedFrames = "dashscope_proxy_malformed_frames_total"
	metricRestarts        = "dashscope_proxy_child_restarts_total"
	metricChildUp         = "dashscope_proxy_child_up"
	metricResidentMemory  = "process_resident_memory_bytes"
	metricStartTime       = "process_start_time_seconds"
	metricGoroutines      = "go_goroutines"
)

// MetricsClient reads a dashscope-proxy's status endpoint and scrapes its
// Prometheus metrics.
type MetricsClient struct {
	baseURL string
	client  *http.Client
}

// ProxyStatus mirrors GET /api/mcp/status.
type ProxyStatus struct {
	Status string `json:"status"`
	PID    int    `json:"pid,omitempty"`
}

// NewMetricsClient creates a new metrics client for the proxy at baseURL.
func NewMetricsClient(baseURL string) *MetricsClient {
	return &MetricsClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

func (c *MetricsClient) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	return resp, nil
}

// Status fetches the child process status.
func (c *MetricsClient) Status(ctx context.Context) (ProxyStatus, error) {
	resp, err := c.get(ctx, "/api/mcp/status")
	if err != nil {
		return ProxyStatus{}, err
	}
	defer resp.Body.Close()

	var status ProxyStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return ProxyStatus{}, fmt.Errorf("failed to decode status: %w", err)
	}
	return status, nil
}

// Scrape fetches and parses the text exposition at /metrics.
func (c *MetricsClient) Scrape(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	resp, err := c.get(ctx, "/metrics")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse metrics: %w", err)
	}
	return families, nil
}

// Snapshot combines status and metrics into one reading.
func (c *MetricsClient) Snapshot(ctx context.Context) (MetricsSnapshot, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return MetricsSnapshot{}, err
	}
	families, err := c.Scrape(ctx)
	if err != nil {
		return MetricsSnapshot{}, err
	}

	snap := snapshotFrom(families)
	snap.Status = status.Status
	snap.PID = status.PID
	snap.ScrapedAt = time.Now()
	return snap, nil
}

// snapshotFrom extracts the dashboard values from scraped families.
func snapshotFrom(families map[string]*dto.MetricFamily) MetricsSnapshot {
	snap := MetricsSnapshot{
		Outcomes: map[string]float64{},
	}

	if f, ok := families[metricRequests]; ok {
		for _, m := range f.GetMetric() {
			v := m.GetCounter().GetValue()
			snap.RequestsTotal += v
			snap.Outcomes[labelValue(m, "outcome")] += v
		}
	}
	if f, ok := families[metricDuration]; ok {
		for _, m := range f.GetMetric() {
			h := m.GetHistogram()
			snap.DurationSum += h.GetSampleSum()
			snap.DurationCount += float64(h.GetSampleCount())
		}
	}

	snap.Pending = sumValue(families[metricPending])
	snap.LateResponses = sumValue(families[metricLateResponses])
	snap.MalformedFrames = sumValue(families[metricMalformedFrames])
	snap.Restarts = sumValue(families[metricRestarts])
	snap.ChildUp = sumValue(families[metricChildUp]) > 0
	snap.MemoryBytes = uint64(sumValue(families[metricResidentMemory]))
	snap.Goroutines = int(sumValue(families[metricGoroutines]))
	if start := sumValue(families[metricStartTime]); start > 0 {
		snap.StartTime = time.Unix(int64(start), 0)
	}
	return snap
}

// sumValue adds up gauge, counter and untyped samples of f.
func sumValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		switch {
		case m.Gauge != nil:
			total += m.GetGauge().GetValue()
		case m.Counter != nil:
			total += m.GetCounter().GetValue()
		case m.Untyped != nil:
			total += m.GetUntyped().GetValue()
		}
	}
	return total
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

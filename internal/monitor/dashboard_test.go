package monitor

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModel(t *testing.T) {
	model := NewModel("http://localhost:3000", 5*time.Second)
	assert.Equal(t, "http://localhost:3000", model.proxyURL)
	assert.Equal(t, 5*time.Second, model.interval)
	assert.False(t, model.quitting)
	assert.Equal(t, float64(defaultMemoryMax), model.metrics.MemoryMax)
}

func TestModel_Init(t *testing.T) {
	model := NewModel("http://localhost:3000", 5*time.Second)
	assert.NotNil(t, model.Init())
}

func TestModel_Update_QuitKey(t *testing.T) {
	model := NewModel("http://localhost:3000", 5*time.Second)

	updated, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})

	assert.True(t, updated.(Model).quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, updated.View())
}

func TestModel_Update_RefreshKey(t *testing.T) {
	model := NewModel("http://localhost:3000", 5*time.Second)

	updated, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})

	assert.False(t, updated.(Model).quitting)
	assert.NotNil(t, cmd)
}

func TestModel_Update_TickMsg(t *testing.T) {
	model := NewModel("http://localhost:3000", 5*time.Second)

	_, cmd := model.Update(tickMsg(time.Now()))
	assert.NotNil(t, cmd)
}

func TestModel_Update_MetricsDerivesRates(t *testing.T) {
	model := NewModel("http://localhost:3000", 5*time.Second)
	t0 := time.Now()

	updated, _ := model.Update(metricsMsg(MetricsSnapshot{
		Status:        "connected",
		RequestsTotal: 10,
		DurationSum:   5,
		DurationCount: 10,
		ScrapedAt:     t0,
	}))
	m := updated.(Model)
	assert.Zero(t, m.metrics.RequestRate, "no rate without a previous reading")
	assert.InDelta(t, 0.5, m.metrics.AvgLatency, 1e-9)
	assert.False(t, m.lastUpdate.IsZero())

	updated, _ = m.Update(metricsMsg(MetricsSnapshot{
		Status:        "connected",
		RequestsTotal: 40,
		DurationSum:   8,
		DurationCount: 40,
		ScrapedAt:     t0.Add(30 * time.Second),
		MemoryBytes:   512 * 1024 * 1024,
	}))
	m = updated.(Model)
	assert.InDelta(t, 60.0, m.metrics.RequestRate, 1e-9)
	assert.InDelta(t, 0.1, m.metrics.AvgLatency, 1e-9)
	assert.Equal(t, 60.0, m.metrics.RatePeak)
	assert.Equal(t, float64(512*1024*1024), m.metrics.MemoryMax)
	assert.Len(t, m.metrics.RateHistory, 2)
	assert.NotNil(t, m.metrics.Outcomes)
}

func TestModel_Update_CounterReset(t *testing.T) {
	model := NewModel("http://localhost:3000", 5*time.Second)
	t0 := time.Now()

	updated, _ := model.Update(metricsMsg(MetricsSnapshot{RequestsTotal: 100, ScrapedAt: t0}))
	updated, _ = updated.(Model).Update(metricsMsg(MetricsSnapshot{RequestsTotal: 3, ScrapedAt: t0.Add(time.Minute)}))

	assert.Zero(t, updated.(Model).metrics.RequestRate)
}

func TestAppendToHistory_Bounded(t *testing.T) {
	var h []float64
	for i := 0; i < historySize+5; i++ {
		h = appendToHistory(h, float64(i))
	}
	require.Len(t, h, historySize)
	assert.Equal(t, float64(5), h[0])
}

func TestModel_Update_ErrMsg(t *testing.T) {
	model := NewModel("http://localhost:3000", 5*time.Second)

	updated, cmd := model.Update(errMsg(errors.New("connection refused")))
	m := updated.(Model)

	assert.Nil(t, cmd)
	assert.EqualError(t, m.err, "connection refused")
	view := m.View()
	assert.Contains(t, view, "Cannot reach dashscope-proxy")
	assert.Contains(t, view, "http://localhost:3000")
}

func TestModel_View_WithMetrics(t *testing.T) {
	model := NewModel("http://localhost:3000", 5*time.Second)
	updated, _ := model.Update(metricsMsg(MetricsSnapshot{
		Status:     "connected",
		PID:        4242,
		ChildUp:    true,
		Restarts:   2,
		Outcomes:   map[string]float64{"ok": 7},
		Goroutines: 12,
		StartTime:  time.Now().Add(-90 * time.Second),
		ScrapedAt:  time.Now(),
	}))

	view := updated.View()
	assert.Contains(t, view, "dashscope-proxy Monitor")
	assert.Contains(t, view, "CONNECTED")
	assert.Contains(t, view, "4242")
	assert.Contains(t, view, "Server Process")
	assert.Contains(t, view, "Goroutines")
}

func TestModel_View_Disconnected(t *testing.T) {
	model := NewModel("http://localhost:3000", 5*time.Second)
	updated, _ := model.Update(metricsMsg(MetricsSnapshot{Status: "disconnected", ScrapedAt: time.Now()}))

	assert.Contains(t, updated.View(), "DISCONNECTED")
}

func TestModel_View_NoData(t *testing.T) {
	model := NewModel("http://localhost:3000", 5*time.Second)
	view := model.View()

	assert.Contains(t, view, "no data")
	assert.Contains(t, view, "UNKNOWN")
}

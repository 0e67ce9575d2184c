package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatRate(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.0 req/min"},
		{1.26, "1.3 req/min"},
		{120, "120.0 req/min"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatRate(tt.in))
	}
}

func TestFormatLatency(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.0ms"},
		{0.0123, "12.3ms"},
		{0.999, "999.0ms"},
		{1, "1.0s"},
		{30, "30.0s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatLatency(tt.in), tt.in)
	}
}

func TestFormatPercentage(t *testing.T) {
	assert.Equal(t, "0.0%", FormatPercentage(0))
	assert.Equal(t, "50.0%", FormatPercentage(0.5))
	assert.Equal(t, "100.0%", FormatPercentage(1))
}

func TestFormatMemory(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1536, "1.5 KB"},
		{25 * 1024 * 1024, "25.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatMemory(tt.in))
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{-time.Second, "0s"},
		{0, "0s"},
		{42 * time.Second, "42s"},
		{5*time.Minute + 3*time.Second, "5m 3s"},
		{2*time.Hour + 15*time.Minute + 59*time.Second, "2h 15m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatUptime(tt.in), tt.in.String())
	}
}

func TestFormatCount(t *testing.T) {
	assert.Equal(t, "0", FormatCount(0))
	assert.Equal(t, "17", FormatCount(17))
}

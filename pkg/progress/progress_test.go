package progress

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		consumed  int64
		total     int64
		elapsed   time.Duration
		percent   float64
		projected bool
		remaining time.Duration
	}{
		{"nothing consumed", 0, 100, 5 * time.Second, 0, false, 0},
		{"quarter", 25, 100, 10 * time.Second, 25, true, 30 * time.Second},
		{"half", 50, 100, 10 * time.Second, 50, true, 10 * time.Second},
		{"done", 100, 100, 10 * time.Second, 100, true, 0},
		{"empty total", 0, 0, time.Second, 100, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Compute(tt.consumed, tt.total, tt.elapsed, start)
			assert.InDelta(t, tt.percent, e.Percent, 0.001)
			assert.Equal(t, tt.projected, e.Projected)
			if tt.projected {
				assert.Equal(t, tt.remaining, e.ProjectedRemaining)
				assert.Equal(t, start.Add(e.ProjectedTotal), e.ProjectedFinish)
			} else {
				assert.Zero(t, e.ProjectedTotal)
				assert.True(t, e.ProjectedFinish.IsZero())
			}
		})
	}
}

func TestTracker(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	tracker := NewTracker(1000, clock)
	now = now.Add(4 * time.Second)

	e := tracker.Observe(400)
	assert.InDelta(t, 40.0, e.Percent, 0.001)
	assert.Equal(t, 10*time.Second, e.ProjectedTotal)
	assert.Equal(t, 6*time.Second, e.ProjectedRemaining)
}

func TestLoggerObserver(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	observe := Logger(logger, "a.txt")
	observe(Compute(50, 100, 2*time.Second, time.Now()))

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"name":"a.txt"`)
	assert.Contains(t, out, `"percent":"50"`)
	assert.Contains(t, out, "seconds_remaining")
}

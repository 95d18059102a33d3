package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/skyward-labs/skyward/internal/upstream"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func headingPtr(h float64) *float64 { return &h }

func makeTrack(prevLon, prevLat, targetLon, targetLat float64, prevHdg, targetHdg *float64) *Track {
	return &Track{
		ID:    "abc123",
		State: StateActive,
		Prev: upstream.Snapshot{
			ID: "abc123", Lon: prevLon, Lat: prevLat, Heading: prevHdg, GroundSpeed: 250,
		},
		Target: upstream.Snapshot{
			ID: "abc123", Lon: targetLon, Lat: targetLat, Heading: targetHdg, GroundSpeed: 250,
		},
		InterpStart: baseTime,
		LastSeen:    baseTime,
	}
}

func TestProgress(t *testing.T) {
	t.Parallel()

	window := 15 * time.Second

	tests := []struct {
		name string
		now  time.Time
		want float64
	}{
		{"at start", baseTime, 0},
		{"quarter", baseTime.Add(3750 * time.Millisecond), 0.25},
		{"half", baseTime.Add(7500 * time.Millisecond), 0.5},
		{"at window end", baseTime.Add(15 * time.Second), 1},
		{"past window clamps to one", baseTime.Add(time.Minute), 1},
		{"before start clamps to zero", baseTime.Add(-time.Second), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, progress(tt.now, baseTime, window), 1e-9)
		})
	}
}

func TestProgressZeroWindow(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 1.0, progress(baseTime, baseTime, 0))
}

func TestRenderAtLinearPosition(t *testing.T) {
	t.Parallel()

	tr := makeTrack(-80.0, 43.0, -79.0, 44.0, headingPtr(45), headingPtr(45))
	window := 15 * time.Second

	t.Run("at start renders prev", func(t *testing.T) {
		t.Parallel()
		lon, lat, _ := renderAt(tr, baseTime, window, 2.0)
		assert.Equal(t, -80.0, lon)
		assert.Equal(t, 43.0, lat)
	})

	t.Run("halfway renders midpoint", func(t *testing.T) {
		t.Parallel()
		lon, lat, _ := renderAt(tr, baseTime.Add(7500*time.Millisecond), window, 2.0)
		assert.InDelta(t, -79.5, lon, 1e-9)
		assert.InDelta(t, 43.5, lat, 1e-9)
	})

	t.Run("past window holds target exactly", func(t *testing.T) {
		t.Parallel()
		lon, lat, _ := renderAt(tr, baseTime.Add(time.Hour), window, 2.0)
		assert.Equal(t, -79.0, lon)
		assert.Equal(t, 44.0, lat)
	})
}

func TestInterpHeadingShortestPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		prev float64
		tgt  float64
		p    float64
		want float64
	}{
		{"no wrap", 80, 100, 0.5, 90},
		{"wrap clockwise through north", 350, 10, 0.5, 0},
		{"wrap counterclockwise through north", 10, 350, 0.5, 0},
		{"wrap partial", 350, 10, 0.25, 355},
		{"wrap completes at target", 350, 10, 1, 10},
		{"stays at prev", 350, 10, 0, 350},
		{"opposite headings halfway", 0, 180, 0.5, 90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := interpHeading(tt.prev, tt.tgt, tt.p)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.Less(t, got, 360.0)
		})
	}
}

func TestHeadingOfMissingSides(t *testing.T) {
	t.Parallel()

	t.Run("only target heading", func(t *testing.T) {
		t.Parallel()
		tr := makeTrack(-80, 43, -79, 44, nil, headingPtr(120))
		assert.Equal(t, 120.0, headingOf(tr, 0.5))
	})

	t.Run("only prev heading", func(t *testing.T) {
		t.Parallel()
		tr := makeTrack(-80, 43, -79, 44, headingPtr(240), nil)
		assert.Equal(t, 240.0, headingOf(tr, 0.5))
	})

	t.Run("neither heading", func(t *testing.T) {
		t.Parallel()
		tr := makeTrack(-80, 43, -79, 44, nil, nil)
		assert.Equal(t, 0.0, headingOf(tr, 0.5))
	})
}

func TestRenderAtFreezesSlowTargets(t *testing.T) {
	t.Parallel()

	tr := makeTrack(-80.0, 43.0, -79.9, 43.1, headingPtr(90), headingPtr(90))
	tr.Target.GroundSpeed = 0.5 // Below the jitter threshold
	window := 15 * time.Second

	t.Run("early frames hold prev", func(t *testing.T) {
		t.Parallel()
		lon, lat, _ := renderAt(tr, baseTime.Add(2*time.Second), window, 2.0)
		assert.Equal(t, -80.0, lon)
		assert.Equal(t, 43.0, lat)
	})

	t.Run("late frames hold target", func(t *testing.T) {
		t.Parallel()
		lon, lat, _ := renderAt(tr, baseTime.Add(12*time.Second), window, 2.0)
		assert.Equal(t, -79.9, lon)
		assert.Equal(t, 43.1, lat)
	})
}

func TestOpacityAt(t *testing.T) {
	t.Parallel()

	soft := 30 * time.Second
	hard := 120 * time.Second
	floor := 0.3

	tests := []struct {
		name    string
		elapsed time.Duration
		want    float64
	}{
		{"fresh", 0, 1.0},
		{"at soft threshold", 30 * time.Second, 1.0},
		{"midway fades", 75 * time.Second, 0.65},
		{"at hard threshold", 120 * time.Second, 0.3},
		{"beyond hard clamps to floor", 10 * time.Minute, 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := opacityAt(baseTime.Add(tt.elapsed), baseTime, soft, hard, floor)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

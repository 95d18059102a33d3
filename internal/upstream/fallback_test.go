package upstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyward-labs/skyward/internal/geo"
)

func TestSynthesizeDeterministic(t *testing.T) {
	t.Parallel()

	bbox := geo.BBox{LatMin: 43.0, LonMin: -80.0, LatMax: 44.0, LonMax: -79.0}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := Synthesize(bbox, 8, now)
	b := Synthesize(bbox, 8, now)

	// Same region, same entities: aircraft must not teleport between
	// polls during an outage
	require.Equal(t, a.Snapshots, b.Snapshots)

	other := Synthesize(geo.BBox{LatMin: 50.0, LonMin: 0.0, LatMax: 51.0, LonMax: 1.0}, 8, now)
	assert.NotEqual(t, a.Snapshots[0].Lat, other.Snapshots[0].Lat)
}

func TestSynthesizeShape(t *testing.T) {
	t.Parallel()

	bbox := geo.BBox{LatMin: 43.0, LonMin: -80.0, LatMax: 44.0, LonMax: -79.0}
	set := Synthesize(bbox, 5, time.Now().UTC())

	assert.True(t, set.Fallback)
	require.Len(t, set.Snapshots, 5)

	seen := make(map[string]bool)
	for _, snap := range set.Snapshots {
		assert.True(t, bbox.Contains(snap.Lat, snap.Lon))
		assert.False(t, seen[snap.ID], "duplicate synthetic id %s", snap.ID)
		seen[snap.ID] = true

		require.NotNil(t, snap.Heading)
		assert.GreaterOrEqual(t, *snap.Heading, 0.0)
		assert.Less(t, *snap.Heading, 360.0)
		assert.GreaterOrEqual(t, snap.GroundSpeed, 250.0)
		assert.LessOrEqual(t, snap.GroundSpeed, 450.0)
		assert.False(t, snap.OnGround)
	}
}

func TestSynthesizeDefaultCount(t *testing.T) {
	t.Parallel()

	bbox := geo.BBox{LatMin: 43.0, LonMin: -80.0, LatMax: 44.0, LonMax: -79.0}
	set := Synthesize(bbox, 0, time.Now().UTC())
	assert.Len(t, set.Snapshots, 8)
}

func TestAdvanceDeadReckons(t *testing.T) {
	t.Parallel()

	heading := 90.0
	snap := Snapshot{
		ID:          "SYN001",
		Lat:         43.5,
		Lon:         -79.5,
		Heading:     &heading,
		GroundSpeed: 360, // 0.1 NM per second
		ObservedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	moved := Advance(snap, 10*time.Second)

	// Heading 090 moves east
	assert.Greater(t, moved.Lon, snap.Lon)
	assert.InDelta(t, snap.Lat, moved.Lat, 1e-6)
	assert.Equal(t, snap.ObservedAt.Add(10*time.Second), moved.ObservedAt)

	dist := geo.MetersToNM(geo.Haversine(snap.Lat, snap.Lon, moved.Lat, moved.Lon))
	assert.InDelta(t, 1.0, dist, 0.02)

	// Input snapshot is untouched
	assert.Equal(t, -79.5, snap.Lon)
}

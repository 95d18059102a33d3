package upstream

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/skyward-labs/skyward/internal/geo"
)

// Synthesize generates a deterministic synthetic snapshot set within the
// given bounding box, used when the upstream provider is unavailable
// after retries. The set is explicitly flagged Fallback so consumers can
// warn the user instead of presenting fabricated traffic as real.
//
// Determinism matters for two reasons: repeated queries during an outage
// show stable (not teleporting) aircraft, and tests can assert exact
// output. The generator is seeded from the canonical bbox key.
func Synthesize(bbox geo.BBox, count int, now time.Time) *SnapshotSet {
	if count <= 0 {
		count = 8
	}

	h := fnv.New64a()
	h.Write([]byte(bbox.Key()))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	snapshots := make([]Snapshot, 0, count)
	for i := 0; i < count; i++ {
		heading := rng.Float64() * 360

		snap := Snapshot{
			ID:           fmt.Sprintf("SYN%03d", i+1),
			Callsign:     fmt.Sprintf("SIM%03d", rng.Intn(999)+1),
			Lat:          bbox.LatMin + rng.Float64()*bbox.Height(),
			Lon:          bbox.LonMin + rng.Float64()*bbox.Width(),
			Heading:      &heading,
			GroundSpeed:  250 + rng.Float64()*200,
			VerticalRate: 0,
			Altitude:     20000 + rng.Float64()*18000,
			OnGround:     false,
			ObservedAt:   now,
		}
		snapshots = append(snapshots, snap)
	}

	return &SnapshotSet{
		Snapshots: snapshots,
		Fallback:  true,
		FetchedAt: now,
	}
}

// Advance dead-reckons a synthetic snapshot forward by deltaTime so a
// sustained outage still shows plausible motion between polls.
func Advance(snap Snapshot, deltaTime time.Duration) Snapshot {
	heading := 0.0
	if snap.Heading != nil {
		heading = *snap.Heading
	}

	distanceNM := snap.GroundSpeed * deltaTime.Seconds() / 3600
	lat, lon := geo.DestinationPoint(snap.Lat, snap.Lon, heading, distanceNM)

	out := snap
	out.Lat = lat
	out.Lon = lon
	out.ObservedAt = snap.ObservedAt.Add(deltaTime)
	return out
}

package tracker

import (
	"time"

	"github.com/skyward-labs/skyward/internal/geo"
)

// progress returns the normalized fraction of elapsed time within the
// interpolation window, clamped to [0, 1]. Deliberately linear: constant
// velocity between snapshots, and no overshoot when the next snapshot
// arrives before the previous interpolation finished.
func progress(now, start time.Time, window time.Duration) float64 {
	if window <= 0 {
		return 1
	}
	p := float64(now.Sub(start)) / float64(window)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// lerp linearly interpolates between a and b
func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// interpHeading interpolates between two headings along the shortest
// circular path. 350 -> 10 at t=0.5 yields 0, not 180.
func interpHeading(prev, target, t float64) float64 {
	diff := geo.HeadingDiff(prev, target)
	return geo.NormalizeHeading(prev + diff*t)
}

// headingOf resolves a track's heading at the given progress. Absent
// headings fall back to whichever side has one; 0 when neither does.
func headingOf(t *Track, p float64) float64 {
	switch {
	case t.Prev.Heading != nil && t.Target.Heading != nil:
		return interpHeading(*t.Prev.Heading, *t.Target.Heading, p)
	case t.Target.Heading != nil:
		return geo.NormalizeHeading(*t.Target.Heading)
	case t.Prev.Heading != nil:
		return geo.NormalizeHeading(*t.Prev.Heading)
	default:
		return 0
	}
}

// renderAt computes the interpolated position and heading of a track at
// the given instant. This is the single source of interpolation truth:
// the animation engine calls it every frame, and Ingest calls it to
// capture the currently-rendered point as the next interpolation origin.
func renderAt(t *Track, now time.Time, window time.Duration, minSpeedKts float64) (lon, lat, heading float64) {
	p := progress(now, t.InterpStart, window)

	// Near-zero ground speed is mostly sensor noise; freeze at whichever
	// endpoint is closer to the current instant instead of jittering.
	if t.Target.GroundSpeed < minSpeedKts {
		src := t.Prev
		if p >= 0.5 {
			src = t.Target
		}
		return src.Lon, src.Lat, headingOf(t, p)
	}

	lon = lerp(t.Prev.Lon, t.Target.Lon, p)
	lat = lerp(t.Prev.Lat, t.Target.Lat, p)
	heading = headingOf(t, p)
	return lon, lat, heading
}

// opacityAt computes the render opacity for a track: full while fresh,
// fading linearly toward the floor between the soft and hard staleness
// thresholds, and recovering to full as soon as the track reappears in
// an ingest.
func opacityAt(now, lastSeen time.Time, soft, hard time.Duration, floor float64) float64 {
	elapsed := now.Sub(lastSeen)
	if elapsed <= soft {
		return 1.0
	}
	if elapsed >= hard {
		return floor
	}
	frac := float64(elapsed-soft) / float64(hard-soft)
	return 1.0 - frac*(1.0-floor)
}

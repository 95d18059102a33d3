package tracker

import (
	"time"

	"github.com/skyward-labs/skyward/internal/upstream"
)

// TrackState is the lifecycle state of a tracked entity. Transitions are
// driven by ingest timestamps, never by render frames.
type TrackState string

const (
	StateNew    TrackState = "new"    // First sighting; previous == target
	StateActive TrackState = "active" // Interpolating between two snapshots
	StateStale  TrackState = "stale"  // Missing past the soft threshold, fading
)

// Track holds the interpolation state for one entity. Owned exclusively
// by the Store; the animation engine reads it and emits derived
// RenderedPosition values, never writing back.
type Track struct {
	ID       string     `json:"id"`
	Callsign string     `json:"callsign"`
	State    TrackState `json:"state"`

	// Prev is the interpolation origin: the position that was being
	// rendered at the instant the current target arrived.
	Prev   upstream.Snapshot `json:"prev"`
	Target upstream.Snapshot `json:"target"`

	// InterpStart is the interpolation clock; monotonically
	// non-decreasing across the track's lifetime.
	InterpStart time.Time `json:"interp_start"`
	LastSeen    time.Time `json:"last_seen"`
	Fallback    bool      `json:"fallback"` // Target came from a synthetic fallback set

	// MagVar is the magnetic declination at the target position,
	// computed once per ingest rather than per frame.
	MagVar float64 `json:"mag_var"`
}

// TrackMap is a map of tracks keyed by entity id
type TrackMap map[string]*Track

// RenderedPosition is one entity's renderable state for a single frame.
// Derived and non-authoritative: recomputed every frame from the track.
type RenderedPosition struct {
	ID         string  `json:"id"`
	Callsign   string  `json:"callsign,omitempty"`
	Lon        float64 `json:"lon"`
	Lat        float64 `json:"lat"`
	Heading    float64 `json:"heading"`     // True heading, degrees [0, 360)
	MagHeading float64 `json:"mag_heading"` // Magnetic heading, degrees [0, 360)
	Altitude   float64 `json:"altitude"`
	Opacity    float64 `json:"opacity"`
	Stale      bool    `json:"stale,omitempty"`
	Fallback   bool    `json:"fallback,omitempty"`
}

// FrameResponse is the API response for a full render frame
type FrameResponse struct {
	Timestamp time.Time          `json:"timestamp"`
	Count     int                `json:"count"`
	Positions []RenderedPosition `json:"positions"`
}

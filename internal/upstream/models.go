package upstream

import (
	"time"
)

// Snapshot is a single timestamped observation of one aircraft from the
// upstream provider. It is assembled exactly once, at the ingestion
// boundary, immediately after the raw positional arrays are decoded;
// downstream code only ever sees named fields. Immutable once created.
type Snapshot struct {
	ID           string    `json:"id"`       // Stable external identity (ICAO hex)
	Callsign     string    `json:"callsign"` // May be empty
	Lon          float64   `json:"lon"`
	Lat          float64   `json:"lat"`
	Heading      *float64  `json:"heading,omitempty"` // True track in degrees [0, 360); nil when the provider omits it
	GroundSpeed  float64   `json:"gs"`                // Knots
	VerticalRate float64   `json:"vertical_rate"`     // Feet per minute
	Altitude     float64   `json:"altitude"`          // Barometric altitude in feet
	OnGround     bool      `json:"on_ground"`
	ObservedAt   time.Time `json:"observed_at"`
}

// SnapshotSet is the result of one bounded-region query: the decoded
// snapshots plus provenance flags.
type SnapshotSet struct {
	Snapshots []Snapshot `json:"snapshots"`
	Fallback  bool       `json:"fallback"` // True when the set was synthesized because the upstream was unavailable
	FetchedAt time.Time  `json:"fetched_at"`
}

// rawStateResponse mirrors the provider's wire format: a timestamp plus
// positional state vectors. Field meaning by index follows the provider
// contract; decoding into Snapshot happens in convertStates and nowhere
// else.
type rawStateResponse struct {
	Time   int64           `json:"time"`
	States [][]interface{} `json:"states"`
}

// State vector indices in the provider's positional arrays.
const (
	stateIdxID           = 0
	stateIdxCallsign     = 1
	stateIdxLon          = 5
	stateIdxLat          = 6
	stateIdxAltitude     = 7
	stateIdxOnGround     = 8
	stateIdxVelocity     = 9
	stateIdxTrack        = 10
	stateIdxVerticalRate = 11
)

// Unit conversions from the provider's SI values.
const (
	metersToFeet = 3.28084
	msToKnots    = 1.943844
	msToFPM      = 196.850394
)

// convertStates decodes the provider's positional arrays into named
// Snapshot records. Short or mistyped vectors yield zero values rather
// than panics, and a vector without an id is dropped.
func convertStates(raw *rawStateResponse) []Snapshot {
	observedAt := time.Unix(raw.Time, 0).UTC()
	if raw.Time == 0 {
		observedAt = time.Now().UTC()
	}

	snapshots := make([]Snapshot, 0, len(raw.States))
	for _, s := range raw.States {
		id := stringAt(s, stateIdxID)
		if id == "" {
			continue
		}

		snap := Snapshot{
			ID:           id,
			Callsign:     stringAt(s, stateIdxCallsign),
			Lon:          floatAt(s, stateIdxLon),
			Lat:          floatAt(s, stateIdxLat),
			Altitude:     floatAt(s, stateIdxAltitude) * metersToFeet,
			OnGround:     boolAt(s, stateIdxOnGround),
			GroundSpeed:  floatAt(s, stateIdxVelocity) * msToKnots,
			VerticalRate: floatAt(s, stateIdxVerticalRate) * msToFPM,
			ObservedAt:   observedAt,
		}

		if hdg, ok := optionalFloatAt(s, stateIdxTrack); ok {
			snap.Heading = &hdg
		}

		snapshots = append(snapshots, snap)
	}

	return snapshots
}

func stringAt(s []interface{}, idx int) string {
	if len(s) > idx {
		if v, ok := s[idx].(string); ok {
			return v
		}
	}
	return ""
}

func floatAt(s []interface{}, idx int) float64 {
	if len(s) > idx {
		if v, ok := s[idx].(float64); ok {
			return v
		}
	}
	return 0
}

func optionalFloatAt(s []interface{}, idx int) (float64, bool) {
	if len(s) > idx {
		if v, ok := s[idx].(float64); ok {
			return v, true
		}
	}
	return 0, false
}

func boolAt(s []interface{}, idx int) bool {
	if len(s) > idx {
		if v, ok := s[idx].(bool); ok {
			return v
		}
	}
	return false
}

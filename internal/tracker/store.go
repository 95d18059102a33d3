package tracker

import (
	"sync"
	"time"

	"github.com/skyward-labs/skyward/internal/config"
	"github.com/skyward-labs/skyward/internal/geo"
	"github.com/skyward-labs/skyward/internal/upstream"
	"github.com/skyward-labs/skyward/pkg/logger"
)

// Store is the authoritative map from entity identity to interpolation
// state. Ingest is the sole writer; the animation engine and API only
// read. One record per id, always.
type Store struct {
	updateInterval time.Duration
	softStale      time.Duration
	hardStale      time.Duration
	minSpeedKts    float64
	minOpacity     float64
	logger         *logger.Logger

	mu     sync.RWMutex
	tracks TrackMap
}

// NewStore creates a new track store
func NewStore(cfg config.TrackerConfig, log *logger.Logger) *Store {
	return &Store{
		updateInterval: time.Duration(cfg.UpdateIntervalSecs) * time.Second,
		softStale:      time.Duration(cfg.SoftStaleSecs) * time.Second,
		hardStale:      time.Duration(cfg.HardStaleSecs) * time.Second,
		minSpeedKts:    cfg.MinSpeedKts,
		minOpacity:     cfg.MinOpacity,
		logger:         log.Named("tracker"),
		tracks:         make(TrackMap),
	}
}

// Ingest applies a snapshot set to the store.
//
// For a known id, the new interpolation origin is the position being
// rendered at this instant - computed with the same math the animation
// engine uses - never the old target snapshot. Using the old target
// would snap the entity backward whenever a snapshot arrives mid-
// interpolation.
//
// Tracked ids absent from the set age out: past the soft threshold they
// fade, past the hard threshold they are evicted. A track whose own
// last-reported timestamp is older than the hard bound is evicted
// immediately regardless of thresholds.
func (s *Store) Ingest(set *upstream.SnapshotSet, observedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	present := make(map[string]bool, len(set.Snapshots))

	created, updated := 0, 0
	for _, snap := range set.Snapshots {
		present[snap.ID] = true

		track, exists := s.tracks[snap.ID]
		if !exists {
			// First sighting: previous == target, nothing to interpolate
			s.tracks[snap.ID] = &Track{
				ID:          snap.ID,
				Callsign:    snap.Callsign,
				State:       StateNew,
				Prev:        snap,
				Target:      snap,
				InterpStart: observedAt,
				LastSeen:    observedAt,
				Fallback:    set.Fallback,
				MagVar:      geo.MagneticVariation(snap.Lat, snap.Lon, snap.Altitude, observedAt),
			}
			created++
			continue
		}

		// Capture the currently-rendered point before touching anything
		lon, lat, heading := renderAt(track, observedAt, s.updateInterval, s.minSpeedKts)

		newPrev := track.Target
		newPrev.Lon = lon
		newPrev.Lat = lat
		newPrev.Heading = &heading
		newPrev.ObservedAt = observedAt

		track.Prev = newPrev
		track.Target = snap
		if observedAt.After(track.InterpStart) {
			// The interpolation clock never runs backward
			track.InterpStart = observedAt
		}
		track.LastSeen = observedAt
		track.State = StateActive
		track.Fallback = set.Fallback
		if snap.Callsign != "" {
			track.Callsign = snap.Callsign
		}
		track.MagVar = geo.MagneticVariation(snap.Lat, snap.Lon, snap.Altitude, observedAt)
		updated++
	}

	evicted, staled := 0, 0
	for id, track := range s.tracks {
		if present[id] {
			continue
		}

		age := observedAt.Sub(track.LastSeen)
		reportAge := observedAt.Sub(track.Target.ObservedAt)

		if age > s.hardStale || reportAge > s.hardStale {
			delete(s.tracks, id)
			evicted++
			continue
		}
		if age > s.softStale && track.State != StateStale {
			track.State = StateStale
			staled++
		}
	}

	s.logger.Debug("Ingested snapshot set",
		logger.Int("snapshots", len(set.Snapshots)),
		logger.Int("created", created),
		logger.Int("updated", updated),
		logger.Int("staled", staled),
		logger.Int("evicted", evicted),
		logger.Bool("fallback", set.Fallback),
		logger.Int("total", len(s.tracks)))
}

// RenderFrame computes the renderable position of every track at the
// given instant. Read-only with respect to track state; output at
// progress 1 is exactly the target snapshot, never an extrapolation.
func (s *Store) RenderFrame(now time.Time) []RenderedPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make([]RenderedPosition, 0, len(s.tracks))
	for _, track := range s.tracks {
		lon, lat, heading := renderAt(track, now, s.updateInterval, s.minSpeedKts)

		positions = append(positions, RenderedPosition{
			ID:         track.ID,
			Callsign:   track.Callsign,
			Lon:        lon,
			Lat:        lat,
			Heading:    heading,
			MagHeading: geo.NormalizeHeading(heading - track.MagVar),
			Altitude:   track.Target.Altitude,
			Opacity:    opacityAt(now, track.LastSeen, s.softStale, s.hardStale, s.minOpacity),
			Stale:      track.State == StateStale,
			Fallback:   track.Fallback,
		})
	}

	return positions
}

// Get returns the track for the given id
func (s *Store) Get(id string) (*Track, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	track, ok := s.tracks[id]
	if !ok {
		return nil, false
	}
	copied := *track
	return &copied, true
}

// All returns a copy of every track
func (s *Store) All() []*Track {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Track, 0, len(s.tracks))
	for _, track := range s.tracks {
		copied := *track
		out = append(out, &copied)
	}
	return out
}

// Count returns the number of tracked entities
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracks)
}

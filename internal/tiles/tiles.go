package tiles

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/skyward-labs/skyward/internal/config"
	"github.com/skyward-labs/skyward/internal/geo"
	"github.com/skyward-labs/skyward/internal/upstream"
	"github.com/skyward-labs/skyward/pkg/logger"
)

// Fetcher is the upstream region fetch dependency
type Fetcher interface {
	FetchRegion(ctx context.Context, bbox geo.BBox) (*upstream.SnapshotSet, error)
}

// TileStore is the optional persistent mirror of the tile cache
type TileStore interface {
	Get(bboxKey string) (*upstream.SnapshotSet, time.Time, bool)
	Put(bboxKey string, set *upstream.SnapshotSet) error
	PruneExpired(cutoff time.Time) (int64, error)
}

// ProgressFunc reports tile sequence progress so callers can render
// partial results instead of waiting for the whole grid
type ProgressFunc func(tilesCompleted, tilesTotal int)

// cacheEntry is one cached tile result. Valid only while
// now - fetchedAt < TTL; expired entries are treated as absent.
type cacheEntry struct {
	set       *upstream.SnapshotSet
	fetchedAt time.Time
}

// Service splits oversized viewport queries into provider-cap-sized
// tiles, fetches them sequentially with inter-request spacing, caches
// each tile under a TTL, and merges results deduplicated by entity id.
type Service struct {
	fetcher Fetcher
	store   TileStore // may be nil
	ttl     time.Duration
	spacing time.Duration
	maxDeg  float64
	logger  *logger.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry

	statsMu   sync.Mutex
	hits      int64
	misses    int64
	fetches   int64
	lastFetch time.Time
}

// NewService creates a new tile splitter/cache service
func NewService(cfg config.TilesConfig, fetcher Fetcher, store TileStore, log *logger.Logger) *Service {
	return &Service{
		fetcher: fetcher,
		store:   store,
		ttl:     time.Duration(cfg.CacheTTLSecs) * time.Second,
		spacing: time.Duration(cfg.RequestSpacingMs) * time.Millisecond,
		maxDeg:  cfg.MaxExtentDeg,
		logger:  log.Named("tiles"),
		cache:   make(map[string]cacheEntry),
	}
}

// Split partitions a bounding box into a grid of sub-tiles, each no
// larger than the provider's per-query extent cap along either axis.
// The union of the returned tiles covers the input exactly, with no
// gaps: interior tiles have the full cap extent and the last row/column
// absorbs the remainder.
func (s *Service) Split(bbox geo.BBox) []geo.BBox {
	cols := int(math.Ceil(bbox.Width() / s.maxDeg))
	rows := int(math.Ceil(bbox.Height() / s.maxDeg))
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}

	tiles := make([]geo.BBox, 0, rows*cols)
	for r := 0; r < rows; r++ {
		latMin := bbox.LatMin + float64(r)*s.maxDeg
		latMax := latMin + s.maxDeg
		if latMax > bbox.LatMax {
			latMax = bbox.LatMax
		}
		for c := 0; c < cols; c++ {
			lonMin := bbox.LonMin + float64(c)*s.maxDeg
			lonMax := lonMin + s.maxDeg
			if lonMax > bbox.LonMax {
				lonMax = bbox.LonMax
			}
			tiles = append(tiles, geo.BBox{
				LatMin: latMin,
				LonMin: lonMin,
				LatMax: latMax,
				LonMax: lonMax,
			})
		}
	}
	return tiles
}

// FetchLarge fetches a snapshot set for a bounding box of any size below
// the viewport cap. A box within the provider cap is a single direct
// fetch; anything larger is split into a sequential, rate-limit-safe
// tile sequence. The progress callback may be nil.
//
// Cancellation is cooperative: ctx is checked before each tile request
// and before the final merge, and a canceled sequence discards partial
// results rather than merging stale data.
func (s *Service) FetchLarge(ctx context.Context, bbox geo.BBox, progress ProgressFunc) (*upstream.SnapshotSet, error) {
	grid := s.Split(bbox)

	if len(grid) == 1 {
		return s.fetchTile(ctx, grid[0])
	}

	s.logger.Info("Splitting oversized region into tiles",
		logger.String("bbox", bbox.String()),
		logger.Int("tiles", len(grid)))

	results := make([]*upstream.SnapshotSet, 0, len(grid))
	for i, tile := range grid {
		if err := ctx.Err(); err != nil {
			s.logger.Debug("Tile sequence canceled, discarding partial results",
				logger.Int("completed", i),
				logger.Int("total", len(grid)))
			return nil, err
		}

		// Inter-request spacing keeps the sequence under the provider's
		// per-minute quota. Cached tiles skip both the spacing and the
		// network call.
		if i > 0 && !s.hasFreshEntry(tile) {
			select {
			case <-time.After(s.spacing):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		set, err := s.fetchTile(ctx, tile)
		if err != nil {
			// No point continuing the sequence once the quota is hit.
			var rateErr *upstream.RateLimitedError
			if errors.As(err, &rateErr) {
				s.logger.Warn("Rate limited mid-sequence, aborting remaining tiles",
					logger.Int("completed", i),
					logger.Int("total", len(grid)),
					logger.Duration("retry_after", rateErr.RetryAfter))
			}
			return nil, err
		}

		results = append(results, set)
		if progress != nil {
			progress(i+1, len(grid))
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return merge(results), nil
}

// fetchTile returns the cached result for a tile when still within TTL,
// otherwise fetches from upstream and caches the result.
func (s *Service) fetchTile(ctx context.Context, tile geo.BBox) (*upstream.SnapshotSet, error) {
	key := tile.Key()

	if set, ok := s.lookup(key); ok {
		s.recordHit()
		s.logger.Debug("Tile cache hit", logger.String("bbox_key", key))
		return set, nil
	}
	s.recordMiss()

	set, err := s.fetcher.FetchRegion(ctx, tile)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[key] = cacheEntry{set: set, fetchedAt: set.FetchedAt}
	s.mu.Unlock()

	// Synthetic fallback tiles are not persisted: they are placeholders,
	// not provider data worth conserving quota for.
	if s.store != nil && !set.Fallback {
		if err := s.store.Put(key, set); err != nil {
			s.logger.Warn("Failed to persist tile", logger.String("bbox_key", key), logger.Error(err))
		}
	}

	s.statsMu.Lock()
	s.fetches++
	s.lastFetch = time.Now().UTC()
	s.statsMu.Unlock()

	return set, nil
}

// lookup checks the in-memory cache, then the persistent mirror. Either
// way an entry past its TTL is treated as absent.
func (s *Service) lookup(key string) (*upstream.SnapshotSet, bool) {
	now := time.Now()

	s.mu.RLock()
	entry, ok := s.cache[key]
	s.mu.RUnlock()
	if ok && now.Sub(entry.fetchedAt) < s.ttl {
		return entry.set, true
	}

	if s.store != nil {
		if set, fetchedAt, ok := s.store.Get(key); ok && now.Sub(fetchedAt) < s.ttl {
			// Warm the in-memory cache from the mirror
			s.mu.Lock()
			s.cache[key] = cacheEntry{set: set, fetchedAt: fetchedAt}
			s.mu.Unlock()
			return set, true
		}
	}

	return nil, false
}

func (s *Service) hasFreshEntry(tile geo.BBox) bool {
	_, ok := s.lookup(tile.Key())
	return ok
}

// Prune drops expired entries from the in-memory cache and the
// persistent mirror
func (s *Service) Prune() {
	cutoff := time.Now().Add(-s.ttl)

	s.mu.Lock()
	for key, entry := range s.cache {
		if entry.fetchedAt.Before(cutoff) {
			delete(s.cache, key)
		}
	}
	s.mu.Unlock()

	if s.store != nil {
		if _, err := s.store.PruneExpired(cutoff); err != nil {
			s.logger.Warn("Failed to prune persisted tiles", logger.Error(err))
		}
	}
}

// Stats returns cache statistics
func (s *Service) Stats() map[string]interface{} {
	s.mu.RLock()
	entries := len(s.cache)
	s.mu.RUnlock()

	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	return map[string]interface{}{
		"entries":          entries,
		"hits":             s.hits,
		"misses":           s.misses,
		"upstream_fetches": s.fetches,
		"last_fetch":       s.lastFetch,
		"ttl_seconds":      int(s.ttl.Seconds()),
	}
}

func (s *Service) recordHit() {
	s.statsMu.Lock()
	s.hits++
	s.statsMu.Unlock()
}

func (s *Service) recordMiss() {
	s.statsMu.Lock()
	s.misses++
	s.statsMu.Unlock()
}

// merge combines tile results into a single snapshot set, keeping at
// most one snapshot per entity id. Entities straddling a tile boundary
// appear in multiple tiles; the last tile to report wins. The fallback
// flag is sticky: one synthetic tile marks the whole merged set.
func merge(results []*upstream.SnapshotSet) *upstream.SnapshotSet {
	byID := make(map[string]upstream.Snapshot)
	order := make([]string, 0)
	fallback := false
	var fetchedAt time.Time

	for _, set := range results {
		if set.Fallback {
			fallback = true
		}
		if set.FetchedAt.After(fetchedAt) {
			fetchedAt = set.FetchedAt
		}
		for _, snap := range set.Snapshots {
			if _, seen := byID[snap.ID]; !seen {
				order = append(order, snap.ID)
			}
			byID[snap.ID] = snap
		}
	}

	merged := make([]upstream.Snapshot, 0, len(byID))
	for _, id := range order {
		merged = append(merged, byID[id])
	}

	return &upstream.SnapshotSet{
		Snapshots: merged,
		Fallback:  fallback,
		FetchedAt: fetchedAt,
	}
}

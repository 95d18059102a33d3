package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyward-labs/skyward/internal/upstream"
	"github.com/skyward-labs/skyward/pkg/logger"
)

func newTestStorage(t *testing.T) *TileStorage {
	t.Helper()
	storage, err := NewTileStorage(filepath.Join(t.TempDir(), "tiles.db"), logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })
	return storage
}

func sampleSet(fetchedAt time.Time) *upstream.SnapshotSet {
	heading := 270.0
	return &upstream.SnapshotSet{
		Snapshots: []upstream.Snapshot{{
			ID:          "abc123",
			Callsign:    "ACA101",
			Lat:         43.5,
			Lon:         -79.5,
			Heading:     &heading,
			GroundSpeed: 250,
			Altitude:    35000,
			ObservedAt:  fetchedAt,
		}},
		FetchedAt: fetchedAt,
	}
}

func TestTileStoragePutGet(t *testing.T) {
	t.Parallel()

	storage := newTestStorage(t)
	fetchedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	key := "43.000,-80.000,44.000,-79.000"

	require.NoError(t, storage.Put(key, sampleSet(fetchedAt)))

	set, gotFetchedAt, ok := storage.Get(key)
	require.True(t, ok)
	assert.True(t, gotFetchedAt.Equal(fetchedAt))
	require.Len(t, set.Snapshots, 1)

	snap := set.Snapshots[0]
	assert.Equal(t, "abc123", snap.ID)
	assert.Equal(t, 43.5, snap.Lat)
	require.NotNil(t, snap.Heading)
	assert.Equal(t, 270.0, *snap.Heading)
	assert.False(t, set.Fallback)
}

func TestTileStorageGetMissing(t *testing.T) {
	t.Parallel()

	storage := newTestStorage(t)

	_, _, ok := storage.Get("no.such,key")
	assert.False(t, ok)
}

func TestTileStoragePutReplaces(t *testing.T) {
	t.Parallel()

	storage := newTestStorage(t)
	key := "43.000,-80.000,44.000,-79.000"

	first := sampleSet(time.Now().UTC().Add(-time.Minute))
	require.NoError(t, storage.Put(key, first))

	second := sampleSet(time.Now().UTC())
	second.Snapshots[0].Altitude = 36000
	require.NoError(t, storage.Put(key, second))

	set, _, ok := storage.Get(key)
	require.True(t, ok)
	require.Len(t, set.Snapshots, 1)
	assert.Equal(t, 36000.0, set.Snapshots[0].Altitude)

	count, err := storage.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTileStorageFallbackFlagRoundTrip(t *testing.T) {
	t.Parallel()

	storage := newTestStorage(t)
	key := "50.000,0.000,51.000,1.000"

	set := sampleSet(time.Now().UTC())
	set.Fallback = true
	require.NoError(t, storage.Put(key, set))

	got, _, ok := storage.Get(key)
	require.True(t, ok)
	assert.True(t, got.Fallback)
}

func TestTileStoragePruneExpired(t *testing.T) {
	t.Parallel()

	storage := newTestStorage(t)
	now := time.Now().UTC()

	require.NoError(t, storage.Put("old,key", sampleSet(now.Add(-time.Hour))))
	require.NoError(t, storage.Put("fresh,key", sampleSet(now)))

	removed, err := storage.PruneExpired(now.Add(-30 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, _, ok := storage.Get("old,key")
	assert.False(t, ok)

	_, _, ok = storage.Get("fresh,key")
	assert.True(t, ok)
}

func TestTileStorageSurvivesReopen(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "tiles.db")
	key := "43.000,-80.000,44.000,-79.000"

	storage, err := NewTileStorage(dbPath, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, storage.Put(key, sampleSet(time.Now().UTC())))
	require.NoError(t, storage.Close())

	// A new process sees the previous run's tiles: a restart does not
	// re-spend upstream quota
	reopened, err := NewTileStorage(dbPath, logger.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	_, _, ok := reopened.Get(key)
	assert.True(t, ok)
}

package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/skyward-labs/skyward/internal/upstream"
	"github.com/skyward-labs/skyward/pkg/logger"
	_ "modernc.org/sqlite"
)

// TileStorage is a SQLite-backed mirror of the in-memory tile cache.
// It exists so a restart does not re-spend the upstream request quota on
// tiles that were fetched moments earlier. Only tile results are
// persisted; track history never touches disk.
type TileStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewTileStorage creates a new SQLite-based tile storage
func NewTileStorage(dbPath string, log *logger.Logger) (*TileStorage, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite tile storage",
		logger.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := initTileSchema(db, storageLogger); err != nil {
		db.Close()
		return nil, err
	}

	return &TileStorage{
		db:     db,
		logger: storageLogger,
	}, nil
}

// Close closes the database connection
func (s *TileStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// initTileSchema initializes the database schema
func initTileSchema(db *sql.DB, log *logger.Logger) error {
	log.Info("Initializing tile cache schema")

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS tile_cache (
			bbox_key TEXT PRIMARY KEY,
			fetched_at TIMESTAMP NOT NULL,
			fallback INTEGER DEFAULT 0,
			payload TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create tile_cache table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_tile_cache_fetched_at ON tile_cache(fetched_at)`)
	if err != nil {
		return fmt.Errorf("failed to create tile_cache index: %w", err)
	}

	return nil
}

// Get returns the persisted snapshot set for the given canonical bbox
// key, or (nil, false) when absent. TTL filtering is the caller's job;
// this layer only reports what it has and when it was fetched.
func (s *TileStorage) Get(bboxKey string) (*upstream.SnapshotSet, time.Time, bool) {
	var fetchedAt time.Time
	var fallback int
	var payload string

	row := s.db.QueryRow(
		`SELECT fetched_at, fallback, payload FROM tile_cache WHERE bbox_key = ?`, bboxKey)
	if err := row.Scan(&fetchedAt, &fallback, &payload); err != nil {
		if err != sql.ErrNoRows {
			s.logger.Error("Failed to read tile cache entry",
				logger.String("bbox_key", bboxKey),
				logger.Error(err))
		}
		return nil, time.Time{}, false
	}

	var snapshots []upstream.Snapshot
	if err := json.Unmarshal([]byte(payload), &snapshots); err != nil {
		s.logger.Error("Failed to decode persisted tile payload",
			logger.String("bbox_key", bboxKey),
			logger.Error(err))
		return nil, time.Time{}, false
	}

	return &upstream.SnapshotSet{
		Snapshots: snapshots,
		Fallback:  fallback != 0,
		FetchedAt: fetchedAt,
	}, fetchedAt, true
}

// Put stores a tile result under its canonical bbox key, replacing any
// previous entry.
func (s *TileStorage) Put(bboxKey string, set *upstream.SnapshotSet) error {
	payload, err := json.Marshal(set.Snapshots)
	if err != nil {
		return fmt.Errorf("failed to encode tile payload: %w", err)
	}

	fallback := 0
	if set.Fallback {
		fallback = 1
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO tile_cache (bbox_key, fetched_at, fallback, payload) VALUES (?, ?, ?, ?)`,
		bboxKey, set.FetchedAt, fallback, string(payload))
	if err != nil {
		return fmt.Errorf("failed to persist tile: %w", err)
	}

	return nil
}

// PruneExpired deletes entries fetched before the given cutoff and
// returns the number removed.
func (s *TileStorage) PruneExpired(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM tile_cache WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune tile cache: %w", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Debug("Pruned expired tiles", logger.Int64("count", n))
	}
	return n, nil
}

// Count returns the number of persisted tiles
func (s *TileStorage) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM tile_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tiles: %w", err)
	}
	return n, nil
}

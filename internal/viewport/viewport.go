package viewport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skyward-labs/skyward/internal/config"
	"github.com/skyward-labs/skyward/internal/geo"
	"github.com/skyward-labs/skyward/internal/tiles"
	"github.com/skyward-labs/skyward/internal/upstream"
	"github.com/skyward-labs/skyward/pkg/logger"
)

// AreaTooLargeError is returned when the requested bounds exceed the
// maximum extent on either axis.
type AreaTooLargeError struct {
	MaxExtentDeg float64
}

func (e *AreaTooLargeError) Error() string {
	return fmt.Sprintf("requested area too large: maximum extent is %.1f degrees per axis, zoom in and retry", e.MaxExtentDeg)
}

// ErrThrottled is returned when a bounds change arrives inside the
// throttle window of the previous accepted one.
var ErrThrottled = fmt.Errorf("viewport change throttled")

// Ingestor receives merged snapshot sets from completed pipelines
type Ingestor interface {
	Ingest(set *upstream.SnapshotSet, observedAt time.Time)
}

// Controller turns viewport bounds changes into tile fetch pipelines.
// Each accepted change starts a new generation; the previous
// generation's pipeline is cancelled so its results never reach the
// ingestor.
type Controller struct {
	tiles    *tiles.Service
	ingestor Ingestor
	throttle time.Duration
	maxDeg   float64
	interval time.Duration
	logger   *logger.Logger

	mu           sync.Mutex
	lastAccepted time.Time
	current      geo.BBox
	hasCurrent   bool
	generation   uint64
	cancel       context.CancelFunc

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewController creates a new viewport controller
func NewController(tileSvc *tiles.Service, ingestor Ingestor, cfg config.ViewportConfig, trackerCfg config.TrackerConfig, log *logger.Logger) *Controller {
	return &Controller{
		tiles:    tileSvc,
		ingestor: ingestor,
		throttle: time.Duration(cfg.ThrottleMs) * time.Millisecond,
		maxDeg:   cfg.MaxExtentDeg,
		interval: time.Duration(trackerCfg.UpdateIntervalSecs) * time.Second,
		logger:   log.Named("viewport"),
		stopCh:   make(chan struct{}),
	}
}

// OnBoundsChanged validates and accepts a viewport change. Invalid or
// oversized bounds are rejected before any network activity. Changes
// inside the throttle window of the previous accepted change are
// dropped, not queued.
func (c *Controller) OnBoundsChanged(bounds geo.BBox) error {
	if err := bounds.Validate(); err != nil {
		return fmt.Errorf("invalid viewport bounds: %w", err)
	}
	clamped := bounds.Clamped()
	if clamped.Width() > c.maxDeg || clamped.Height() > c.maxDeg {
		return &AreaTooLargeError{MaxExtentDeg: c.maxDeg}
	}

	c.mu.Lock()
	now := time.Now()
	if !c.lastAccepted.IsZero() && now.Sub(c.lastAccepted) < c.throttle {
		c.mu.Unlock()
		c.logger.Debug("Viewport change dropped by throttle",
			logger.String("bounds", clamped.String()))
		return ErrThrottled
	}
	c.lastAccepted = now
	c.current = clamped
	c.hasCurrent = true

	// Supersede any in-flight pipeline for the previous viewport
	if c.cancel != nil {
		c.cancel()
	}
	c.generation++
	gen := c.generation
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	c.logger.Info("Viewport changed",
		logger.String("bounds", clamped.String()),
		logger.Int64("generation", int64(gen)))

	c.wg.Add(1)
	go c.runPipeline(ctx, clamped, gen)
	return nil
}

// Bounds returns the current viewport, if one has been accepted
func (c *Controller) Bounds() (geo.BBox, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.hasCurrent
}

// Start begins the periodic refresh loop for the current viewport
func (c *Controller) Start() {
	c.wg.Add(1)
	go c.refreshLoop()
	c.logger.Info("Viewport controller started",
		logger.Duration("throttle", c.throttle),
		logger.Float64("max_extent_deg", c.maxDeg))
}

// Stop cancels any in-flight pipeline and halts the refresh loop
func (c *Controller) Stop() {
	close(c.stopCh)
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
	c.logger.Info("Viewport controller stopped")
}

func (c *Controller) refreshLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.refresh()
		}
	}
}

// refresh re-fetches the current viewport on the update cadence
// without resetting the generation clock for user-driven changes.
func (c *Controller) refresh() {
	c.mu.Lock()
	if !c.hasCurrent {
		c.mu.Unlock()
		return
	}
	bounds := c.current
	if c.cancel != nil {
		c.cancel()
	}
	c.generation++
	gen := c.generation
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.runPipeline(ctx, bounds, gen)
}

func (c *Controller) runPipeline(ctx context.Context, bounds geo.BBox, gen uint64) {
	defer c.wg.Done()

	set, err := c.tiles.FetchLarge(ctx, bounds, func(done, total int) {
		c.logger.Debug("Tile progress",
			logger.Int64("generation", int64(gen)),
			logger.Int("done", done),
			logger.Int("total", total))
	})
	if err != nil {
		if ctx.Err() != nil {
			c.logger.Debug("Pipeline superseded",
				logger.Int64("generation", int64(gen)))
			return
		}
		c.logger.Warn("Viewport pipeline failed",
			logger.Int64("generation", int64(gen)),
			logger.Error(err))
		return
	}

	// A pipeline cancelled between fetch completion and ingest must
	// not write a stale viewport into the store
	c.mu.Lock()
	live := gen == c.generation
	c.mu.Unlock()
	if !live || ctx.Err() != nil {
		c.logger.Debug("Pipeline result discarded",
			logger.Int64("generation", int64(gen)))
		return
	}

	c.ingestor.Ingest(set, time.Now())
}

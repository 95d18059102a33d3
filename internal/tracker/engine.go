package tracker

import (
	"sync"
	"time"

	"github.com/skyward-labs/skyward/internal/config"
	"github.com/skyward-labs/skyward/pkg/logger"
)

// Broadcaster pushes rendered frames to connected clients
type Broadcaster interface {
	BroadcastPositions(frame *FrameResponse)
}

// Engine drives the animation clock. On every tick it renders a frame
// from the store and hands it to the broadcaster.
type Engine struct {
	store         *Store
	broadcaster   Broadcaster
	frameInterval time.Duration
	logger        *logger.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngine creates a new animation engine
func NewEngine(store *Store, broadcaster Broadcaster, cfg config.TrackerConfig, log *logger.Logger) *Engine {
	return &Engine{
		store:         store,
		broadcaster:   broadcaster,
		frameInterval: time.Duration(cfg.FrameIntervalMs) * time.Millisecond,
		logger:        log.Named("animation"),
		stopCh:        make(chan struct{}),
	}
}

// Start begins the frame loop
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.run()
	e.logger.Info("Animation engine started",
		logger.Duration("frame_interval", e.frameInterval))
}

// Stop halts the frame loop and waits for it to exit
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
	e.logger.Info("Animation engine stopped")
}

func (e *Engine) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case now := <-ticker.C:
			e.tick(now)
		}
	}
}

func (e *Engine) tick(now time.Time) {
	positions := e.store.RenderFrame(now)
	if len(positions) == 0 {
		return
	}

	e.broadcaster.BroadcastPositions(&FrameResponse{
		Timestamp: now,
		Count:     len(positions),
		Positions: positions,
	})
}

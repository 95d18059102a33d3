package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/skyward-labs/skyward/internal/api"
	"github.com/skyward-labs/skyward/internal/config"
	"github.com/skyward-labs/skyward/internal/storage/sqlite"
	"github.com/skyward-labs/skyward/internal/tiles"
	"github.com/skyward-labs/skyward/internal/tracker"
	"github.com/skyward-labs/skyward/internal/upstream"
	"github.com/skyward-labs/skyward/internal/viewport"
	"github.com/skyward-labs/skyward/internal/websocket"
	"github.com/skyward-labs/skyward/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting Skyward server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// Upstream access: token cache plus retrying bbox client
	tokenCache := upstream.NewTokenCache(
		cfg.Upstream.TokenURL,
		cfg.Upstream.CredentialsPath,
		time.Duration(cfg.Upstream.TokenBufferSecs)*time.Second,
		time.Duration(cfg.Upstream.TimeoutSecs)*time.Second,
		log,
	)
	client := upstream.NewClient(cfg.Upstream, cfg.Fallback, tokenCache, log)

	// Durable tile cache, optional. Survives restarts so a bounce does
	// not re-spend the upstream request quota.
	var tileStore tiles.TileStore
	if cfg.Tiles.PersistCache {
		if err := os.MkdirAll(cfg.Storage.SQLiteBasePath, 0755); err != nil {
			log.Error("Failed to create database directory", logger.Error(err), logger.String("path", cfg.Storage.SQLiteBasePath))
			os.Exit(1)
		}
		dbPath := filepath.Join(cfg.Storage.SQLiteBasePath, "skyward-tiles.db")
		storage, err := sqlite.NewTileStorage(dbPath, log)
		if err != nil {
			log.Error("Failed to create SQLite tile storage", logger.Error(err))
			os.Exit(1)
		}
		defer storage.Close()
		tileStore = storage
		log.Info("Using SQLite tile cache", logger.String("path", dbPath))
	}

	tileService := tiles.NewService(cfg.Tiles, client, tileStore, log)

	// WebSocket hub
	wsServer := websocket.NewServer(log)
	go wsServer.Run()

	// Track store plus animation engine
	trackStore := tracker.NewStore(cfg.Tracker, log)
	engine := tracker.NewEngine(trackStore, wsServer, cfg.Tracker, log)
	engine.Start()

	// Viewport controller drives the tile fetch pipeline
	controller := viewport.NewController(tileService, trackStore, cfg.Viewport, cfg.Tracker, log)
	controller.Start()
	wsServer.SetMessageHandler(viewport.NewWebSocketHandler(controller, log))

	// Periodic prune of expired tile cache entries
	pruneStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Duration(cfg.Tiles.PruneIntervalMin) * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-pruneStop:
				return
			case <-ticker.C:
				tileService.Prune()
			}
		}
	}()

	router := api.NewRouter(tileService, trackStore, controller, cfg, log, wsServer)

	// --- Setup for multiple HTTP servers ---
	var servers []*http.Server
	allPorts := []int{cfg.Server.Port}
	if len(cfg.Server.AdditionalPorts) > 0 {
		allPorts = append(allPorts, cfg.Server.AdditionalPorts...)
	}

	log.Info("Configured listener ports", logger.Any("ports", allPorts))

	for _, port := range allPorts {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, port)
		server := &http.Server{
			Addr:         addr,
			Handler:      router.Routes(),
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
			IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
		}
		servers = append(servers, server)

		go func(s *http.Server) {
			log.Info("Starting HTTP server", logger.String("addr", s.Addr))
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("HTTP server error on startup", logger.String("addr", s.Addr), logger.Error(err))
			}
		}(server)
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	log.Info("Stopping viewport controller...")
	controller.Stop()
	log.Info("Viewport controller stopped.")

	log.Info("Stopping animation engine...")
	engine.Stop()
	log.Info("Animation engine stopped.")

	close(pruneStop)

	// Shutdown all HTTP servers
	log.Info("Shutting down HTTP servers...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)
		go func(srv *http.Server) {
			defer wg.Done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("HTTP server shutdown error", logger.String("addr", srv.Addr), logger.Error(err))
			} else {
				log.Info("HTTP server shutdown complete", logger.String("addr", srv.Addr))
			}
		}(s)
	}
	wg.Wait()

	log.Info("Server fully stopped")
}

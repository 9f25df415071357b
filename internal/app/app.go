package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jonathanvineet/DAIO/internal/config"
	"github.com/jonathanvineet/DAIO/internal/logger"
	"github.com/jonathanvineet/DAIO/internal/pipeline"
	"github.com/jonathanvineet/DAIO/internal/repository/sqlite"
	"github.com/jonathanvineet/DAIO/internal/route"
	"github.com/jonathanvineet/DAIO/internal/service/ai"
	"github.com/jonathanvineet/DAIO/internal/service/capture"
	"github.com/jonathanvineet/DAIO/internal/service/inference"
	"github.com/jonathanvineet/DAIO/internal/service/presentation"
	"github.com/jonathanvineet/DAIO/internal/service/storage"
	"github.com/jonathanvineet/DAIO/internal/service/websocket"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	config        *config.Config
	logger        *logger.Logger
	detector      *ai.DNNDetector
	window        *presentation.WindowSink
	db            *sqlite.DB
	bufferService *storage.BufferService
	hubService    *websocket.HubService
	pipeline      *pipeline.Pipeline
	server        *http.Server
}

// NewApp loads the configuration and builds every component. Close releases
// what it opened, also when NewApp fails half way.
func NewApp() (*App, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &App{config: cfg, logger: log}
	if err := a.build(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.config

	detector, err := ai.NewDNNDetector(cfg, a.logger.Named("detector"))
	if err != nil {
		return fmt.Errorf("failed to load detector: %w", err)
	}
	a.detector = detector

	components := pipeline.Components{
		Connector: connectorFor(cfg),
		Detector:  detector,
	}

	if cfg.UsesWindow() {
		a.window = presentation.NewWindowSink(cfg.WindowTitle)
		components.Sinks = append(components.Sinks, a.window)
	}

	var stream *presentation.MJPEGSink
	if cfg.UsesHTTP() {
		stream = presentation.NewMJPEGSink(cfg.JPEGQuality)
		a.hubService = websocket.NewHubService(a.logger.Named("hub"))
		components.Sinks = append(components.Sinks, stream, presentation.NewHubSink(a.hubService, cfg.JPEGQuality))
	}

	deps := route.Dependencies{
		Config: cfg,
		Logger: a.logger.Named("http"),
		Hub:    a.hubService,
	}
	if stream != nil {
		deps.Stream = stream
	}

	opts := optionsFor(cfg)
	opts.RunID = uuid.NewString()

	if cfg.SnapshotsEnabled {
		db, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open snapshot database: %w", err)
		}
		a.db = db
		snapshotRepo := sqlite.NewSnapshotRepository(db)
		detectionRepo := sqlite.NewDetectionRepository(db)
		deps.SnapshotRepo, deps.DetectionRepo = snapshotRepo, detectionRepo

		a.bufferService = storage.NewBufferService(cfg, opts.RunID, a.logger.Named("storage"), snapshotRepo, detectionRepo)
		// Assigned only when enabled; a nil *BufferService would not be a nil Recorder.
		components.Recorder = a.bufferService
	}
	a.pipeline = pipeline.New(components, opts, a.logger.Named("pipeline"))

	deps.Pipeline = a.pipeline
	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           route.SetupRoutes(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if a.hubService != nil {
		a.pipeline.Go("hub", func(ctx context.Context) error {
			a.hubService.Run(ctx)
			return nil
		})
	}
	if a.bufferService != nil {
		a.pipeline.Go("snapshots", a.bufferService.Run)
	}
	if cfg.UsesHTTP() {
		// Without it there is no display and no remote stop.
		a.pipeline.Require("http", a.serve)
	} else {
		a.pipeline.Go("http", a.serve)
	}
	return nil
}

// Run blocks until the pipeline stops. It returns the error that stopped it,
// or nil for a user stop.
func (a *App) Run(ctx context.Context) error {
	fmt.Printf("🚀 Detection pipeline %s\n", a.pipeline.RunID)
	fmt.Printf("📷 Source: %s\n", a.pipeline.Stats().Source)
	fmt.Printf("📍 URL: http://localhost:%d\n", a.config.Port)
	fmt.Printf("🤖 AI Model: %s\n", a.config.ModelPath)
	if a.bufferService != nil {
		fmt.Printf("📁 Images: %s\n", a.bufferService.ImageDirectory())
	}

	return a.pipeline.Run(ctx)
}

func (a *App) serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warning("HTTP shutdown: %v", err)
	}
	return nil
}

// Close releases the detector, the window and the database.
func (a *App) Close() {
	if a.window != nil {
		a.window.Close()
	}
	if a.detector != nil {
		a.detector.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("Closing database: %v", err)
		}
	}
}

func connectorFor(cfg *config.Config) capture.Connector {
	if cfg.Source == config.SourceDevice {
		return capture.NewDeviceConnector(cfg.DeviceIndex, cfg.DeviceProbeLimit)
	}
	return capture.NewStreamConnector(capture.StreamConfig{
		URL:            cfg.StreamURL,
		ChunkSize:      cfg.StreamChunkSize,
		ConnectTimeout: cfg.StreamConnectTimeout,
		ReadTimeout:    cfg.StreamReadTimeout,
		BufferCeiling:  cfg.BufferCeiling,
	})
}

func optionsFor(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		ReconnectBackoff: cfg.ReconnectBackoff,
		Inference:        inference.OptionsFromConfig(cfg),
		Presentation: presentation.Options{
			TargetFPS:     cfg.TargetFPS,
			StatusOverlay: cfg.StatusOverlay,
		},
	}
}

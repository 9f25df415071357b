package storage

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonathanvineet/DAIO/internal/config"
	"github.com/jonathanvineet/DAIO/internal/logger"
	"github.com/jonathanvineet/DAIO/internal/model"
	"github.com/jonathanvineet/DAIO/internal/repository"
)

const timestampLayout = "2006-01-02_15-04-05.000"

// bufferedSnapshot is an encoded frame waiting to be flushed.
type bufferedSnapshot struct {
	seq        uint64
	capturedAt time.Time
	detections []model.Detection
	data       []byte
}

// BufferService buffers annotated frames in memory and periodically flushes
// them to disk and the database.
type BufferService struct {
	imagesDir     string
	limit         int
	flushInterval time.Duration
	minGap        time.Duration
	quality       int
	runID         string
	source        string

	images       []bufferedSnapshot
	lastAccepted time.Time
	skipped      uint64
	mu           sync.Mutex
	flushMu      sync.Mutex
	now          func() time.Time

	logger        *logger.Logger
	snapshotRepo  repository.SnapshotRepository
	detectionRepo repository.DetectionRepository
}

// NewBufferService creates a new BufferService. Either repository may be nil,
// in which case only files are written.
func NewBufferService(cfg *config.Config, runID string, logger *logger.Logger, snapshotRepo repository.SnapshotRepository, detectionRepo repository.DetectionRepository) *BufferService {
	source := cfg.StreamURL
	if cfg.Source == config.SourceDevice {
		source = fmt.Sprintf("device:%d", cfg.DeviceIndex)
	}
	return &BufferService{
		imagesDir:     cfg.ImageDirectory,
		limit:         cfg.SnapshotBufferLimit,
		flushInterval: cfg.SnapshotFlushInterval,
		minGap:        cfg.SnapshotMinGap,
		quality:       cfg.JPEGQuality,
		runID:         runID,
		source:        source,
		images:        make([]bufferedSnapshot, 0),
		now:           time.Now,
		logger:        logger,
		snapshotRepo:  snapshotRepo,
		detectionRepo: detectionRepo,
	}
}

// Run flushes on every interval until ctx is done, then flushes once more.
func (s *BufferService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.FlushImages()
			return nil
		case <-ticker.C:
			s.FlushImages()
		}
	}
}

// Record encodes f and buffers it. Frames arriving within the minimum gap of
// the previous one, or once the buffer is full, are skipped.
func (s *BufferService) Record(f *model.Frame) {
	now := s.now()

	s.mu.Lock()
	if len(s.images) >= s.limit || (!s.lastAccepted.IsZero() && now.Sub(s.lastAccepted) < s.minGap) {
		s.skipped++
		s.mu.Unlock()
		return
	}
	s.lastAccepted = now
	s.mu.Unlock()

	data, err := f.JPEG(s.quality)
	if err != nil {
		s.logger.Error("Failed to encode snapshot of frame %d: %v", f.Seq, err)
		return
	}

	snapshot := bufferedSnapshot{
		seq:        f.Seq,
		capturedAt: f.CapturedAt,
		detections: append([]model.Detection(nil), f.Detections...),
		data:       data,
	}

	s.mu.Lock()
	s.images = append(s.images, snapshot)
	size := len(s.images)
	s.mu.Unlock()

	s.logger.Debug("Snapshot buffer size: %d/%d", size, s.limit)
}

// FlushImages writes buffered snapshots to disk and indexes them.
func (s *BufferService) FlushImages() int {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	images := s.images
	s.images = make([]bufferedSnapshot, 0, len(images))
	s.mu.Unlock()

	if len(images) == 0 {
		return 0
	}

	if err := os.MkdirAll(s.imagesDir, 0755); err != nil {
		s.logger.Error("Error creating directory: %v", err)
		return 0
	}

	savedCount := 0
	for _, image := range images {
		filename := snapshotFilename(image)
		fullpath := filepath.Join(s.imagesDir, filename)

		if err := os.WriteFile(fullpath, image.data, 0644); err != nil {
			s.logger.Error("Error saving snapshot %s: %v", filename, err)
			continue
		}

		if err := s.index(filename, fullpath, image); err != nil {
			s.logger.Error("Error indexing snapshot %s: %v", filename, err)
		}
		savedCount++
	}

	s.logger.Info("Flushed %d snapshots to disk", savedCount)
	return savedCount
}

func (s *BufferService) index(filename, fullpath string, image bufferedSnapshot) error {
	if s.snapshotRepo == nil {
		return nil
	}

	snapshotID, err := s.snapshotRepo.Insert(&model.Snapshot{
		Filename:   filename,
		RunID:      s.runID,
		Source:     s.source,
		Seq:        image.seq,
		CapturedAt: image.capturedAt,
		FilePath:   fullpath,
		FileSize:   int64(len(image.data)),
	})
	if err != nil {
		return err
	}

	if s.detectionRepo == nil || len(image.detections) == 0 {
		return nil
	}

	rows := make([]model.SnapshotDetection, 0, len(image.detections))
	for _, det := range image.detections {
		rect := det.Box.Rect()
		rows = append(rows, model.SnapshotDetection{
			SnapshotID: snapshotID,
			Label:      det.Label,
			X:          rect.Min.X,
			Y:          rect.Min.Y,
			Width:      rect.Dx(),
			Height:     rect.Dy(),
			Confidence: math.Round(det.Confidence*1000) / 1000,
		})
	}
	return s.detectionRepo.InsertBatch(rows)
}

// Pending returns the number of buffered snapshots.
func (s *BufferService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

// Skipped returns how many frames were not buffered because of the gap or
// the buffer limit.
func (s *BufferService) Skipped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

// ImageDirectory returns where snapshots are written.
func (s *BufferService) ImageDirectory() string {
	return s.imagesDir
}

// snapshotFilename builds a filename with the detected object names.
func snapshotFilename(image bufferedSnapshot) string {
	seen := make(map[string]bool)
	var labels []string
	for _, det := range image.detections {
		label := strings.ReplaceAll(det.Label, " ", "-")
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		labels = append(labels, label)
	}
	return fmt.Sprintf("%s_%06d_%s.jpg", image.capturedAt.Format(timestampLayout), image.seq, strings.Join(labels, "_"))
}

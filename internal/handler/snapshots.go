package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jonathanvineet/DAIO/internal/config"
	"github.com/jonathanvineet/DAIO/internal/dto"
	"github.com/jonathanvineet/DAIO/internal/logger"
	"github.com/jonathanvineet/DAIO/internal/repository"
)

// GetSnapshotsHandler returns a filtered, paginated list of snapshots.
func GetSnapshotsHandler(logger *logger.Logger, snapshotRepo repository.SnapshotRepository, detectionRepo repository.DetectionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), 24)

		filter := &repository.SnapshotFilter{
			RunID:  q.Get("run"),
			Label:  q.Get("object"),
			Limit:  limit,
			Offset: (page - 1) * limit,
		}

		snapshots, err := snapshotRepo.GetAll(filter)
		if err != nil {
			logger.Error("Error querying snapshots from database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		totalCount, err := snapshotRepo.GetTotalCount(filter)
		if err != nil {
			logger.Error("Error counting snapshots: %v", err)
			totalCount = len(snapshots)
		}

		labels, err := detectionRepo.GetAllLabels()
		if err != nil {
			logger.Error("Error listing labels: %v", err)
		}

		infos := make([]dto.SnapshotInfo, 0, len(snapshots))
		for _, s := range snapshots {
			objects := []dto.DetectionInfo{}
			detections, err := detectionRepo.GetBySnapshotID(s.ID)
			if err != nil {
				logger.Error("Error getting objects for snapshot %d: %v", s.ID, err)
			}
			for _, d := range detections {
				objects = append(objects, dto.DetectionInfo{
					Label:      d.Label,
					X:          d.X,
					Y:          d.Y,
					Width:      d.Width,
					Height:     d.Height,
					Confidence: d.Confidence,
				})
			}

			infos = append(infos, dto.SnapshotInfo{
				Name:       s.Filename,
				RunID:      s.RunID,
				Seq:        s.Seq,
				CapturedAt: s.CapturedAt,
				Size:       s.FileSize,
				Objects:    objects,
			})
		}

		writeJSON(w, http.StatusOK, dto.SnapshotsData{
			Snapshots:   infos,
			Labels:      labels,
			Length:      totalCount,
			TotalPages:  (totalCount + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		}, logger)
	}
}

// ViewSnapshotHandler serves a single snapshot file named by the "name" query
// parameter. Only files directly inside the image directory are served.
func ViewSnapshotHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name == "" {
			http.Error(w, "Name parameter is required", http.StatusBadRequest)
			return
		}
		if name != filepath.Base(name) || name == "." || name == ".." {
			http.Error(w, "Invalid name", http.StatusBadRequest)
			return
		}

		filePath := filepath.Join(cfg.ImageDirectory, name)
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		http.ServeFile(w, r, filePath)
	}
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

package repository

import "github.com/jonathanvineet/DAIO/internal/model"

// SnapshotFilter narrows snapshot queries. Zero fields match everything.
type SnapshotFilter struct {
	RunID  string
	Label  string
	Limit  int
	Offset int
}

// SnapshotRepository defines the interface for snapshot data operations.
type SnapshotRepository interface {
	// Create operations
	Insert(s *model.Snapshot) (int64, error)

	// Read operations
	GetByFilename(filename string) (*model.Snapshot, error)
	GetAll(filter *SnapshotFilter) ([]model.Snapshot, error)
	GetTotalCount(filter *SnapshotFilter) (int, error)

	// Delete operations
	DeleteAll() error
}

// DetectionRepository defines the interface for stored detection operations.
type DetectionRepository interface {
	// Create operations
	InsertBatch(detections []model.SnapshotDetection) error

	// Read operations
	GetBySnapshotID(snapshotID int64) ([]model.SnapshotDetection, error)
	GetAllLabels() ([]string, error)
}

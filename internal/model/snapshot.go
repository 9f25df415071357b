package model

import "time"

// Snapshot represents a stored annotated frame.
type Snapshot struct {
	ID         int64     `json:"id"`
	Filename   string    `json:"filename"`
	RunID      string    `json:"run_id"`
	Source     string    `json:"source"`
	Seq        uint64    `json:"seq"`
	CapturedAt time.Time `json:"captured_at"`
	FilePath   string    `json:"filepath"`
	FileSize   int64     `json:"filesize"`
}

// SnapshotDetection represents a detected object stored with a snapshot.
type SnapshotDetection struct {
	ID         int64   `json:"id"`
	SnapshotID int64   `json:"snapshot_id"`
	Label      string  `json:"label"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
}

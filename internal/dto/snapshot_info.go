package dto

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SnapshotInfo represents a stored snapshot as listed by the API.
type SnapshotInfo struct {
	Name       string          `json:"name"`
	RunID      string          `json:"runId"`
	Seq        uint64          `json:"seq"`
	CapturedAt time.Time       `json:"capturedAt"`
	Size       int64           `json:"size"`
	Objects    []DetectionInfo `json:"objects"`
}

// DetectionInfo is one object stored with a snapshot.
type DetectionInfo struct {
	Label      string  `json:"label"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"`
}

// MarshalJSON adds the date and time of day the gallery shows.
func (s SnapshotInfo) MarshalJSON() ([]byte, error) {
	type Alias SnapshotInfo
	return json.Marshal(&struct {
		Date      string `json:"date"`
		TimeOfDay string `json:"timeOfDay"`
		Alias
	}{
		Date:      s.CapturedAt.Format("02-01-2006"),
		TimeOfDay: s.CapturedAt.Format("15:04:05"),
		Alias:     (Alias)(s),
	})
}

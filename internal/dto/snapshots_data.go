// Package dto holds HTTP response payloads.
package dto

// SnapshotsData is a paginated response payload for the snapshot list.
type SnapshotsData struct {
	Snapshots   []SnapshotInfo `json:"snapshots"`
	Labels      []string       `json:"labels"`
	Length      int            `json:"length"`
	TotalPages  int            `json:"totalPages"`
	CurrentPage int            `json:"currentPage"`
	Limit       int            `json:"pageSize"`
}

package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/jonathanvineet/DAIO/internal/model"
	"github.com/jonathanvineet/DAIO/internal/repository"
)

// SnapshotRepository implements repository.SnapshotRepository for SQLite.
type SnapshotRepository struct {
	db *DB
}

// NewSnapshotRepository creates a new SQLite snapshot repository.
func NewSnapshotRepository(db *DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

const snapshotColumns = `s.id, s.filename, s.run_id, s.source, s.seq, s.captured_at, s.filepath, s.filesize`

// Insert adds a new snapshot record to the database.
func (r *SnapshotRepository) Insert(s *model.Snapshot) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO snapshots (filename, run_id, source, seq, captured_at, filepath, filesize)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.Filename, s.RunID, s.Source, s.Seq, s.CapturedAt, s.FilePath, s.FileSize)
	if err != nil {
		return 0, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	return result.LastInsertId()
}

// GetByFilename retrieves a snapshot by its filename. It returns nil, nil when
// there is no such snapshot.
func (r *SnapshotRepository) GetByFilename(filename string) (*model.Snapshot, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var s model.Snapshot
	err := r.db.Conn().QueryRow(`SELECT `+snapshotColumns+` FROM snapshots s WHERE s.filename = ?`, filename).
		Scan(&s.ID, &s.Filename, &s.RunID, &s.Source, &s.Seq, &s.CapturedAt, &s.FilePath, &s.FileSize)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return &s, nil
}

// GetAll retrieves snapshots, newest first, based on filter criteria.
func (r *SnapshotRepository) GetAll(filter *repository.SnapshotFilter) ([]model.Snapshot, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := buildWhere(filter)
	query := `SELECT DISTINCT ` + snapshotColumns + `
		FROM snapshots s
		LEFT JOIN detections d ON s.id = d.snapshot_id` + where + `
		ORDER BY s.captured_at DESC, s.id DESC`

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []model.Snapshot
	for rows.Next() {
		var s model.Snapshot
		if err := rows.Scan(&s.ID, &s.Filename, &s.RunID, &s.Source, &s.Seq, &s.CapturedAt, &s.FilePath, &s.FileSize); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}

	return snapshots, rows.Err()
}

// GetTotalCount returns the number of snapshots matching the filter.
func (r *SnapshotRepository) GetTotalCount(filter *repository.SnapshotFilter) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := buildWhere(filter)
	query := `SELECT COUNT(DISTINCT s.id)
		FROM snapshots s
		LEFT JOIN detections d ON s.id = d.snapshot_id` + where

	var count int
	if err := r.db.Conn().QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return count, nil
}

// DeleteAll removes all snapshots and their detections.
func (r *SnapshotRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detections`); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}

	if _, err := r.db.Conn().Exec(`DELETE FROM snapshots`); err != nil {
		return fmt.Errorf("failed to delete snapshots: %w", err)
	}

	return nil
}

func buildWhere(filter *repository.SnapshotFilter) (string, []interface{}) {
	if filter == nil {
		return "", nil
	}

	var (
		clauses []string
		args    []interface{}
	)
	if filter.RunID != "" {
		clauses = append(clauses, "s.run_id = ?")
		args = append(args, filter.RunID)
	}
	if filter.Label != "" {
		clauses = append(clauses, "d.label = ?")
		args = append(args, filter.Label)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

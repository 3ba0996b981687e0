package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DatasetEntry describes one uploaded tabular file: where its bytes live,
// what its columns mean, and a short summary of the contents. Entries are
// written once at ingestion and read-only afterward.
type DatasetEntry struct {
	ID         string            `json:"id"`
	Filename   string            `json:"filename"`
	ObjectName string            `json:"objectName"` // blob store locator, unique
	Kind       string            `json:"kind"`       // csv, xlsx, xls
	Columns    map[string]string `json:"columns"`    // column name -> meaning
	Summary    string            `json:"summary"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// MetadataService persists dataset schema entries in the reference store.
type MetadataService struct {
	db *sql.DB
}

// NewMetadataService creates a new MetadataService instance
func NewMetadataService(db *sql.DB) *MetadataService {
	return &MetadataService{db: db}
}

// Create inserts a new dataset entry.
func (s *MetadataService) Create(ctx context.Context, entry DatasetEntry) error {
	columnsJSON, err := json.Marshal(entry.Columns)
	if err != nil {
		return fmt.Errorf("failed to encode columns: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dataset_schema (id, filename, object_name, kind, columns_json, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Filename, entry.ObjectName, entry.Kind, string(columnsJSON), entry.Summary, entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert dataset entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries ordered newest first. Recency is the
// only ranking signal for analysis context selection.
func (s *MetadataService) Recent(ctx context.Context, limit int) ([]DatasetEntry, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, object_name, kind, columns_json, summary, created_at
		FROM dataset_schema ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dataset entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Get returns a single entry by id.
func (s *MetadataService) Get(ctx context.Context, id string) (*DatasetEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, object_name, kind, columns_json, summary, created_at
		FROM dataset_schema WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("dataset %s not found", id)
	}
	return &entries[0], nil
}

// Count returns the number of stored entries.
func (s *MetadataService) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dataset_schema").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func scanEntries(rows *sql.Rows) ([]DatasetEntry, error) {
	var entries []DatasetEntry
	for rows.Next() {
		var e DatasetEntry
		var columnsJSON string
		var summary sql.NullString
		var createdAt time.Time
		if err := rows.Scan(&e.ID, &e.Filename, &e.ObjectName, &e.Kind, &columnsJSON, &summary, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan dataset entry: %w", err)
		}
		if err := json.Unmarshal([]byte(columnsJSON), &e.Columns); err != nil {
			// A corrupt columns blob should not hide the entry itself.
			e.Columns = map[string]string{}
		}
		e.Summary = summary.String
		e.CreatedAt = createdAt
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

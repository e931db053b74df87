package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// FSStore implements Store on the filesystem. Each record lives in
// <baseDir>/fits/<id>/ next to its trace and previews.
//
// Writes go through a temp file and a rename, so readers never see a
// partially written record.
type FSStore struct {
	baseDir string // e.g. "./data"
}

// NewFSStore creates a new filesystem-based store.
// The baseDir will be created if it doesn't exist.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

// BaseDir returns the root directory of the store.
func (fs *FSStore) BaseDir() string {
	return fs.baseDir
}

// Dir returns the directory holding the artifacts of record id.
func (fs *FSStore) Dir(id string) string {
	return fitDir(fs.baseDir, id)
}

func fitDir(baseDir, id string) string {
	return filepath.Join(baseDir, "fits", id)
}

func (fs *FSStore) recordPath(id string) string {
	return filepath.Join(fs.Dir(id), "result.json")
}

// SaveRecord implements Store.
func (fs *FSStore) SaveRecord(id string, rec *Record) error {
	if id == "" {
		return fmt.Errorf("record ID cannot be empty")
	}
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	if err := os.MkdirAll(fs.Dir(id), 0755); err != nil {
		return fmt.Errorf("failed to create fit directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize record: %w", err)
	}

	finalPath := fs.recordPath(id)
	tempPath := finalPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp record file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename record file: %w", err)
	}

	slog.Debug("Fit record saved", "id", id, "path", finalPath)
	return nil
}

// LoadRecord implements Store.
func (fs *FSStore) LoadRecord(id string) (*Record, error) {
	if id == "" {
		return nil, fmt.Errorf("record ID cannot be empty")
	}

	path := fs.recordPath(id)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &NotFoundError{ID: id}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to deserialize record: %w", err)
	}

	slog.Debug("Fit record loaded", "id", id, "path", path)
	return &rec, nil
}

// ListRecords implements Store. Records are sorted oldest first; unreadable
// records are skipped with a warning.
func (fs *FSStore) ListRecords() ([]RecordInfo, error) {
	fitsDir := filepath.Join(fs.baseDir, "fits")
	entries, err := os.ReadDir(fitsDir)
	if os.IsNotExist(err) {
		return []RecordInfo{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read fits directory: %w", err)
	}

	infos := []RecordInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		if _, err := os.Stat(fs.recordPath(id)); os.IsNotExist(err) {
			continue // Trace without a result yet
		}
		rec, err := fs.LoadRecord(id)
		if err != nil {
			slog.Warn("Failed to load fit record for listing", "id", id, "error", err)
			continue
		}
		infos = append(infos, rec.ToInfo())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Timestamp.Before(infos[j].Timestamp)
	})

	slog.Debug("Listed fit records", "count", len(infos))
	return infos, nil
}

// DeleteRecord implements Store.
func (fs *FSStore) DeleteRecord(id string) error {
	if id == "" {
		return fmt.Errorf("record ID cannot be empty")
	}

	dir := fs.Dir(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return &NotFoundError{ID: id}
	} else if err != nil {
		return fmt.Errorf("failed to stat fit directory: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove fit directory: %w", err)
	}

	slog.Debug("Fit record deleted", "id", id, "path", dir)
	return nil
}

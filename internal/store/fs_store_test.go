package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cwbudde/multifit/internal/config"
	"github.com/cwbudde/multifit/internal/model"
)

// setupTestStore creates a temporary directory and returns an FSStore for testing.
func setupTestStore(t *testing.T) (*FSStore, string) {
	t.Helper()

	tempDir := t.TempDir()
	store, err := NewFSStore(tempDir)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	return store, tempDir
}

// createTestRecord creates a record with test data.
func createTestRecord(id string) *Record {
	return &Record{
		ID:              id,
		Timestamp:       time.Now(),
		ScenePath:       "scenes/test.json",
		Kind:            model.KindPointSource,
		ParameterNames:  []string{"flux", "x", "y"},
		Linear:          []float64{1002.5},
		Nonlinear:       []float64{0.01, -0.02},
		Errors:          []float64{5.1, 0.02, 0.02},
		Covariance:      [][]float64{{26, 0, 0}, {0, 4e-4, 0}, {0, 0, 4e-4}},
		CovarianceValid: true,
		Value:           1420.7,
		Valid:           true,
		Status:          "FunctionConvergence",
		Iterations:      12,
		FuncEvaluations: 30,
		GradEvaluations: 30,
		Frames:          3,
		Pixels:          1290,
		Config:          config.Defaults(),
	}
}

func TestNewFSStore(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "nested", "data")

	store, err := NewFSStore(baseDir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	if store.BaseDir() != baseDir {
		t.Errorf("Expected base dir %s, got %s", baseDir, store.BaseDir())
	}
	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		t.Fatal("Base directory was not created")
	}
}

func TestSaveRecord(t *testing.T) {
	store, tempDir := setupTestStore(t)

	id := "fit-123"
	if err := store.SaveRecord(id, createTestRecord(id)); err != nil {
		t.Fatalf("SaveRecord failed: %v", err)
	}

	expectedPath := filepath.Join(tempDir, "fits", id, "result.json")
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Fatalf("Record file was not created at %s", expectedPath)
	}
	if _, err := os.Stat(expectedPath + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("Temp file should not exist after save")
	}
}

func TestSaveRecord_RejectsBadInput(t *testing.T) {
	store, _ := setupTestStore(t)

	if err := store.SaveRecord("", createTestRecord("x")); err == nil {
		t.Error("Expected error for empty ID")
	}
	if err := store.SaveRecord("fit", nil); err == nil {
		t.Error("Expected error for nil record")
	}

	bad := createTestRecord("fit")
	bad.Errors = []float64{1}
	if err := store.SaveRecord("fit", bad); err == nil {
		t.Error("Expected error for invalid record")
	}
}

func TestSaveRecord_Overwrite(t *testing.T) {
	store, _ := setupTestStore(t)

	id := "fit-overwrite"
	first := createTestRecord(id)
	first.Value = 10
	second := createTestRecord(id)
	second.Value = 5

	if err := store.SaveRecord(id, first); err != nil {
		t.Fatalf("First save failed: %v", err)
	}
	if err := store.SaveRecord(id, second); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	loaded, err := store.LoadRecord(id)
	if err != nil {
		t.Fatalf("LoadRecord failed: %v", err)
	}
	if loaded.Value != 5 {
		t.Errorf("Expected overwritten value 5, got %f", loaded.Value)
	}
}

func TestLoadRecord(t *testing.T) {
	store, _ := setupTestStore(t)

	id := "fit-load"
	original := createTestRecord(id)
	if err := store.SaveRecord(id, original); err != nil {
		t.Fatalf("SaveRecord failed: %v", err)
	}

	loaded, err := store.LoadRecord(id)
	if err != nil {
		t.Fatalf("LoadRecord failed: %v", err)
	}
	if loaded.Kind != original.Kind {
		t.Errorf("Kind mismatch: expected %s, got %s", original.Kind, loaded.Kind)
	}
	if len(loaded.Covariance) != 3 || loaded.Covariance[0][0] != 26 {
		t.Errorf("Covariance not restored: %v", loaded.Covariance)
	}
	if loaded.Config != original.Config {
		t.Errorf("Config mismatch: expected %+v, got %+v", original.Config, loaded.Config)
	}

	m, err := loaded.Model()
	if err != nil {
		t.Fatalf("Model failed: %v", err)
	}
	if got := m.LinearParameters()[0]; got != 1002.5 {
		t.Errorf("Expected flux 1002.5, got %f", got)
	}
}

func TestLoadRecord_NotFound(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.LoadRecord("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.ID != "missing" {
		t.Errorf("Expected NotFoundError for 'missing', got %v", err)
	}
}

func TestLoadRecord_Corrupted(t *testing.T) {
	store, tempDir := setupTestStore(t)

	dir := filepath.Join(tempDir, "fits", "broken")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "result.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := store.LoadRecord("broken")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected deserialization error, got %v", err)
	}
}

func TestListRecords(t *testing.T) {
	store, tempDir := setupTestStore(t)

	infos, err := store.ListRecords()
	if err != nil {
		t.Fatalf("ListRecords on empty store failed: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("Expected no records, got %d", len(infos))
	}

	base := time.Date(2025, 10, 23, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"c", "a", "b"} {
		rec := createTestRecord(id)
		rec.Timestamp = base.Add(time.Duration(i) * time.Minute)
		if err := store.SaveRecord(id, rec); err != nil {
			t.Fatalf("SaveRecord %s failed: %v", id, err)
		}
	}
	// A directory with only a trace and a stray file are skipped
	if err := os.MkdirAll(filepath.Join(tempDir, "fits", "running"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, "fits", "stray.txt"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	infos, err = store.ListRecords()
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(infos))
	}
	for i, want := range []string{"c", "a", "b"} {
		if infos[i].ID != want {
			t.Errorf("Record %d: expected %s, got %s", i, want, infos[i].ID)
		}
	}
}

func TestDeleteRecord(t *testing.T) {
	store, tempDir := setupTestStore(t)

	id := "fit-delete"
	if err := store.SaveRecord(id, createTestRecord(id)); err != nil {
		t.Fatalf("SaveRecord failed: %v", err)
	}
	tw, err := NewTraceWriter(tempDir, id, false)
	if err != nil {
		t.Fatalf("NewTraceWriter failed: %v", err)
	}
	tw.Close()

	if err := store.DeleteRecord(id); err != nil {
		t.Fatalf("DeleteRecord failed: %v", err)
	}
	if _, err := os.Stat(store.Dir(id)); !os.IsNotExist(err) {
		t.Error("Fit directory should be removed")
	}
	if err := store.DeleteRecord(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

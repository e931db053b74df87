package store

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/cwbudde/multifit/internal/config"
	"github.com/cwbudde/multifit/internal/fit"
	"github.com/cwbudde/multifit/internal/model"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	if a == b {
		t.Fatal("Expected distinct IDs")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("ID %q is not a UUID: %v", a, err)
	}
}

func TestNewRecord(t *testing.T) {
	result := &fit.Result{
		Model:           model.NewGaussian(500, 1, 2, 0.5),
		Parameters:      []float64{500, 1, 2, 0.5},
		Errors:          []float64{1, 2, 3, 4},
		Value:           12.5,
		Valid:           true,
		Status:          "FunctionConvergence",
		Covariance:      mat.NewSymDense(4, []float64{1, 0, 0, 0, 0, 4, 0.5, 0, 0, 0.5, 9, 0, 0, 0, 0, 16}),
		CovarianceValid: true,
		Iterations:      7,
		GradientCheck:   &fit.GradientReport{Numeric: []float64{1}, Analytic: []float64{1}, Ratio: []float64{1}},
	}

	rec := NewRecord("id-1", "scene.json", config.Defaults(), true, result, 2, 400)
	if err := rec.Validate(); err != nil {
		t.Fatalf("Record should be valid: %v", err)
	}
	if rec.Kind != model.KindGaussian {
		t.Errorf("Expected kind gaussian, got %s", rec.Kind)
	}
	if len(rec.ParameterNames) != 4 {
		t.Errorf("Expected 4 parameter names, got %v", rec.ParameterNames)
	}
	if rec.Covariance[1][2] != 0.5 || rec.Covariance[2][1] != 0.5 {
		t.Errorf("Covariance not copied: %v", rec.Covariance)
	}
	got := rec.Parameters()
	for i, want := range result.Parameters {
		if got[i] != want {
			t.Errorf("Parameter %d: expected %f, got %f", i, want, got[i])
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Failed to marshal record: %v", err)
	}
	var restored Record
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("Failed to unmarshal record: %v", err)
	}
	if !restored.Numeric || restored.Pixels != 400 || restored.GradientCheck == nil {
		t.Errorf("Record not restored: %+v", restored)
	}
}

func TestRecordValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Record)
	}{
		{"empty ID", func(r *Record) { r.ID = "" }},
		{"no kind", func(r *Record) { r.Kind = "" }},
		{"no parameters", func(r *Record) { r.Linear, r.Nonlinear, r.Errors, r.Covariance = nil, nil, nil, nil }},
		{"error count", func(r *Record) { r.Errors = r.Errors[:2] }},
		{"covariance rows", func(r *Record) { r.Covariance = r.Covariance[:1] }},
		{"non-finite value", func(r *Record) { r.Value = math.Inf(1) }},
	}

	if err := createTestRecord("ok").Validate(); err != nil {
		t.Fatalf("Base record should be valid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := createTestRecord("ok")
			tt.modify(rec)
			if err := rec.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestRecordIsCompatible(t *testing.T) {
	rec := createTestRecord("compat")

	if err := rec.IsCompatible(model.NewPointSource(1, 0, 0)); err != nil {
		t.Errorf("Expected compatible, got %v", err)
	}

	err := rec.IsCompatible(model.NewGaussian(1, 0, 0, 1))
	var ce *CompatibilityError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected CompatibilityError, got %v", err)
	}
	if ce.Field != "Kind" {
		t.Errorf("Expected Kind mismatch, got %s", ce.Field)
	}

	rec.Nonlinear = []float64{0}
	if err := rec.IsCompatible(model.NewPointSource(1, 0, 0)); !errors.As(err, &ce) || ce.Field != "Parameters" {
		t.Errorf("Expected Parameters mismatch, got %v", err)
	}
}

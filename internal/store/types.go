package store

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cwbudde/multifit/internal/config"
	"github.com/cwbudde/multifit/internal/fit"
	"github.com/cwbudde/multifit/internal/model"
	"github.com/google/uuid"
)

// Record is the persisted outcome of one fit.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	// ScenePath is the scene file the fit was run on.
	ScenePath string `json:"scenePath"`
	// Numeric is true when the gradient came from finite differences.
	Numeric bool `json:"numeric"`

	Kind           model.Kind `json:"kind"`
	ParameterNames []string   `json:"parameterNames"`
	Linear         []float64  `json:"linear"`
	Nonlinear      []float64  `json:"nonlinear"`
	Errors         []float64  `json:"errors,omitempty"`

	// Covariance is row-major, one row per parameter. Empty when the
	// covariance could not be computed.
	Covariance      [][]float64 `json:"covariance,omitempty"`
	CovarianceValid bool        `json:"covarianceValid"`

	Value           float64 `json:"value"`
	Valid           bool    `json:"valid"`
	Status          string  `json:"status"`
	Iterations      int     `json:"iterations"`
	FuncEvaluations int     `json:"funcEvaluations"`
	GradEvaluations int     `json:"gradEvaluations"`

	Frames int `json:"frames"`
	Pixels int `json:"pixels"`

	GradientCheck *fit.GradientReport `json:"gradientCheck,omitempty"`
	Config        config.Config       `json:"config"`
}

// RecordInfo is the listing summary of a record.
type RecordInfo struct {
	ID         string     `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	Kind       model.Kind `json:"kind"`
	Value      float64    `json:"value"`
	Valid      bool       `json:"valid"`
	Iterations int        `json:"iterations"`
	ScenePath  string     `json:"scenePath"`
}

// NewID returns a fresh record identifier.
func NewID() string {
	return uuid.NewString()
}

// NewRecord captures a fit result.
func NewRecord(id, scenePath string, cfg config.Config, numeric bool, r *fit.Result, frames, pixels int) *Record {
	rec := &Record{
		ID:              id,
		Timestamp:       time.Now(),
		ScenePath:       scenePath,
		Numeric:         numeric,
		Kind:            r.Model.Kind(),
		ParameterNames:  r.Model.ParameterNames(),
		Linear:          r.Model.LinearParameters(),
		Nonlinear:       r.Model.NonlinearParameters(),
		Errors:          r.Errors,
		CovarianceValid: r.CovarianceValid,
		Value:           r.Value,
		Valid:           r.Valid,
		Status:          r.Status,
		Iterations:      r.Iterations,
		FuncEvaluations: r.FuncEvaluations,
		GradEvaluations: r.GradEvaluations,
		Frames:          frames,
		Pixels:          pixels,
		GradientCheck:   r.GradientCheck,
		Config:          cfg,
	}
	if r.Covariance != nil {
		n := r.Covariance.SymmetricDim()
		rec.Covariance = make([][]float64, n)
		for i := range rec.Covariance {
			rec.Covariance[i] = make([]float64, n)
			for j := range rec.Covariance[i] {
				rec.Covariance[i][j] = r.Covariance.At(i, j)
			}
		}
	}
	return rec
}

// ToInfo converts a full Record to its listing summary.
func (r *Record) ToInfo() RecordInfo {
	return RecordInfo{
		ID:         r.ID,
		Timestamp:  r.Timestamp,
		Kind:       r.Kind,
		Value:      r.Value,
		Valid:      r.Valid,
		Iterations: r.Iterations,
		ScenePath:  r.ScenePath,
	}
}

// Parameters returns the fitted parameters as one vector, linear first.
func (r *Record) Parameters() []float64 {
	return append(append([]float64(nil), r.Linear...), r.Nonlinear...)
}

// Model rebuilds the fitted model.
func (r *Record) Model() (model.Model, error) {
	return model.New(r.Kind, r.Linear, r.Nonlinear)
}

// Validate checks if the record has valid data.
func (r *Record) Validate() error {
	if r.ID == "" {
		return errors.New("record ID is empty")
	}
	if r.Kind == "" {
		return errors.New("record has no model kind")
	}
	n := len(r.Linear) + len(r.Nonlinear)
	if n == 0 {
		return errors.New("record has no parameters")
	}
	if r.Errors != nil && len(r.Errors) != n {
		return fmt.Errorf("record has %d errors for %d parameters", len(r.Errors), n)
	}
	if len(r.Covariance) != 0 && len(r.Covariance) != n {
		return fmt.Errorf("covariance has %d rows for %d parameters", len(r.Covariance), n)
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return fmt.Errorf("objective value is not finite: %g", r.Value)
	}
	return nil
}

// IsCompatible checks that the record can seed a fit of m.
// Returns an error if the models differ in kind or parameter layout.
func (r *Record) IsCompatible(m model.Model) error {
	if r.Kind != m.Kind() {
		return &CompatibilityError{
			Field:    "Kind",
			Expected: string(r.Kind),
			Actual:   string(m.Kind()),
		}
	}
	if len(r.Linear) != m.LinearParameterSize() || len(r.Nonlinear) != m.NonlinearParameterSize() {
		return &CompatibilityError{
			Field:    "Parameters",
			Expected: fmt.Sprintf("%d+%d", len(r.Linear), len(r.Nonlinear)),
			Actual:   fmt.Sprintf("%d+%d", m.LinearParameterSize(), m.NonlinearParameterSize()),
		}
	}
	return nil
}

// CompatibilityError represents a record compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}

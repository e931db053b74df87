package opt

import (
	"errors"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
)

// Migrad is a quasi-Newton variable-metric minimizer backed by gonum's
// optimize package. Strategy 0 uses limited-memory BFGS, higher strategies
// full BFGS. Without an analytic gradient it differentiates the objective
// with forward (strategy 0) or central differences.
type Migrad struct{}

// NewMigrad creates a variable-metric minimizer.
func NewMigrad() *Migrad {
	return &Migrad{}
}

func (m *Migrad) method(strategy int) optimize.Method {
	if strategy == 0 {
		return &optimize.LBFGS{}
	}
	return &optimize.BFGS{}
}

// Minimize implements Minimizer.
func (m *Migrad) Minimize(p Problem, x0 []float64, s Settings) (*Minimum, error) {
	if p.Func == nil {
		return nil, errors.New("migrad: nil objective")
	}
	if len(x0) == 0 {
		return nil, errors.New("migrad: no parameters")
	}
	up := s.Up
	if up == 0 {
		up = 1
	}

	sc := newScaling(x0, s.Errors)
	problem := optimize.Problem{Func: sc.fn(p.Func)}
	if p.Grad != nil {
		problem.Grad = sc.grad(p.Grad)
	} else {
		formula := fd.Central
		if s.Strategy == 0 {
			formula = fd.Forward
		}
		scaled := problem.Func
		problem.Grad = func(grad, u []float64) {
			fd.Gradient(grad, scaled, u, &fd.Settings{Formula: formula})
		}
	}

	settings := &optimize.Settings{
		MajorIterations: s.IterationMax,
		Converger:       NewConvergenceTracker(DefaultConvergenceConfig(s.Tolerance, up)),
	}
	if s.OnIteration != nil || s.Context != nil {
		settings.Recorder = &iterationRecorder{scaling: sc, fn: s.OnIteration, settings: s}
	}

	u0 := make([]float64, len(x0))
	result, err := optimize.Minimize(problem, u0, settings, m.method(s.Strategy))
	if cerr := s.canceled(); cerr != nil {
		return nil, fmt.Errorf("migrad: %w", cerr)
	}
	if result == nil {
		return nil, fmt.Errorf("migrad: minimization failed: %w", err)
	}

	minimum := &Minimum{
		X:               sc.toX(nil, result.X),
		F:               result.F,
		Valid:           err == nil && !result.Status.Early(),
		Status:          result.Status.String(),
		Iterations:      result.Stats.MajorIterations,
		FuncEvaluations: result.Stats.FuncEvaluations,
		GradEvaluations: result.Stats.GradEvaluations,
	}
	if err != nil {
		slog.Warn("Minimizer stopped early", "status", minimum.Status, "error", err)
	}
	slog.Debug("Migrad finished",
		"status", minimum.Status,
		"valid", minimum.Valid,
		"f", minimum.F,
		"iterations", minimum.Iterations,
	)
	return minimum, nil
}

// iterationRecorder forwards major iterations to a callback and stops the
// run when the settings' context is done.
type iterationRecorder struct {
	scaling  scaling
	fn       func(Iteration)
	settings Settings
}

func (r *iterationRecorder) Init() error { return nil }

func (r *iterationRecorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if err := r.settings.canceled(); err != nil {
		return err
	}
	if op&optimize.MajorIteration == 0 || r.fn == nil {
		return nil
	}
	r.fn(Iteration{
		Index:           stats.MajorIterations,
		X:               r.scaling.toX(nil, loc.X),
		F:               loc.F,
		FuncEvaluations: stats.FuncEvaluations,
		GradEvaluations: stats.GradEvaluations,
	})
	return nil
}

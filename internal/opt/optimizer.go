package opt

import "context"

// Problem is an objective function to minimize.
type Problem struct {
	// Func returns the objective at x.
	Func func(x []float64) float64
	// Grad writes the gradient of Func at x into grad. When nil, minimizers
	// that need a gradient differentiate Func numerically.
	Grad func(grad, x []float64)
}

// Settings controls a minimization run.
type Settings struct {
	// Strategy trades speed for robustness, 0 (fast) to 2 (careful).
	Strategy int
	// IterationMax bounds the number of major iterations; 0 means no limit.
	IterationMax int
	// Tolerance is the convergence tolerance, scaled by Up.
	Tolerance float64
	// Up is the objective change that corresponds to one standard deviation.
	Up float64
	// Errors are the initial parameter uncertainties. They set the scale of
	// each parameter during the search; zero entries mean unit scale.
	Errors []float64
	// OnIteration, if set, is called after every major iteration.
	OnIteration func(Iteration)
	// Context, if set, stops the run between iterations once it is done.
	// The minimizer then returns the context's error.
	Context context.Context
}

// canceled returns the error of a done context, or nil.
func (s Settings) canceled() error {
	if s.Context == nil {
		return nil
	}
	return s.Context.Err()
}

// Iteration is the state reported after a major iteration.
type Iteration struct {
	Index           int
	X               []float64
	F               float64
	FuncEvaluations int
	GradEvaluations int
}

// Minimum is the terminal state of a minimization.
type Minimum struct {
	X               []float64
	F               float64
	Valid           bool
	Status          string
	Iterations      int
	FuncEvaluations int
	GradEvaluations int
}

// Minimizer defines an optimization algorithm interface
type Minimizer interface {
	// Minimize searches for the minimum of p starting from x0.
	// Running out of iterations is reported through Minimum.Valid, not as
	// an error.
	Minimize(p Problem, x0 []float64, s Settings) (*Minimum, error)
}

// scaling maps search coordinates u onto parameters x = x0 + scale*u.
type scaling struct {
	x0    []float64
	scale []float64
}

func newScaling(x0, errors []float64) scaling {
	s := scaling{x0: append([]float64(nil), x0...), scale: make([]float64, len(x0))}
	for i := range s.scale {
		s.scale[i] = 1
		if i < len(errors) && errors[i] != 0 {
			s.scale[i] = errors[i]
		}
	}
	return s
}

func (s scaling) toX(dst, u []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(u))
	}
	for i := range u {
		dst[i] = s.x0[i] + s.scale[i]*u[i]
	}
	return dst
}

func (s scaling) fn(f func([]float64) float64) func([]float64) float64 {
	x := make([]float64, len(s.x0))
	return func(u []float64) float64 {
		return f(s.toX(x, u))
	}
}

func (s scaling) grad(g func(grad, x []float64)) func(grad, u []float64) {
	x := make([]float64, len(s.x0))
	return func(grad, u []float64) {
		g(grad, s.toX(x, u))
		for i := range grad {
			grad[i] *= s.scale[i]
		}
	}
}

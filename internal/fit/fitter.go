package fit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cwbudde/multifit/internal/config"
	"github.com/cwbudde/multifit/internal/model"
	"github.com/cwbudde/multifit/internal/opt"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInvalidParameter is returned for parameter or error vectors of the
	// wrong length.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrNoPixels is returned when a fit is requested on an evaluator with
	// no contributing pixels.
	ErrNoPixels = errors.New("no contributing pixels")
)

// Result is the terminal state of one fit.
type Result struct {
	// Model is a copy of the evaluator's model at the minimum.
	Model      model.Model
	Parameters []float64
	// Errors are the square roots of the covariance diagonal. Nil when the
	// covariance is not valid. The covariance is 2*Up*H^-1 for the objective
	// F = chi^2/2, the Minuit convention with Up = 1, so Errors are sqrt(2)
	// times the one-sigma errors of a chi^2 fit.
	Errors []float64
	Value  float64
	// Valid is false when the minimizer stopped before converging.
	Valid  bool
	Status string

	Covariance      *mat.SymDense
	CovarianceValid bool

	Iterations      int
	FuncEvaluations int
	GradEvaluations int

	// GradientCheck is set when the analytic gradient was checked.
	GradientCheck *GradientReport
}

// Fitter fits the model bound to an evaluator.
type Fitter interface {
	// Apply minimizes the objective starting from the evaluator's current
	// parameters. initialErrors sets the parameter scales and must have one
	// entry per parameter. On return the evaluator holds the best parameters.
	Apply(ev Evaluator, initialErrors []float64) (*Result, error)
}

// Option configures a fitter.
type Option func(*fitter)

// WithMinimizer replaces the minimizer chosen from the configuration.
func WithMinimizer(m opt.Minimizer) Option {
	return func(f *fitter) { f.minimizer = m }
}

// WithIterationCallback reports every major minimizer iteration to fn.
func WithIterationCallback(fn func(opt.Iteration)) Option {
	return func(f *fitter) { f.onIteration = fn }
}

// WithContext stops the minimizer between iterations once ctx is done.
// Apply then returns the context's error.
func WithContext(ctx context.Context) Option {
	return func(f *fitter) { f.ctx = ctx }
}

type fitter struct {
	config      config.Config
	minimizer   opt.Minimizer
	onIteration func(opt.Iteration)
	ctx         context.Context
}

func newFitter(cfg config.Config, opts []Option) fitter {
	f := fitter{config: cfg}
	for _, o := range opts {
		o(&f)
	}
	if f.minimizer == nil {
		f.minimizer = minimizerFor(cfg)
	}
	return f
}

func minimizerFor(cfg config.Config) opt.Minimizer {
	if !cfg.GlobalSearch {
		return opt.NewMigrad()
	}
	return &opt.Seeded{
		Global: opt.NewMayfly(cfg.GlobalIterations, cfg.PopulationSize, cfg.Seed, cfg.SearchWidth),
		Local:  opt.NewMigrad(),
	}
}

// AnalyticFitter minimizes with the analytic gradient of the objective.
type AnalyticFitter struct {
	fitter
}

// NewAnalyticFitter creates a fitter using analytic derivatives.
func NewAnalyticFitter(cfg config.Config, opts ...Option) *AnalyticFitter {
	return &AnalyticFitter{fitter: newFitter(cfg, opts)}
}

// Apply implements Fitter. With CheckGradient set, the analytic gradient is
// compared with a numeric one at the starting point first.
func (f *AnalyticFitter) Apply(ev Evaluator, initialErrors []float64) (*Result, error) {
	return f.apply(ev, initialErrors, true)
}

// NumericFitter minimizes with finite-difference gradients of the objective
// value.
type NumericFitter struct {
	fitter
}

// NewNumericFitter creates a fitter using numeric derivatives.
func NewNumericFitter(cfg config.Config, opts ...Option) *NumericFitter {
	return &NumericFitter{fitter: newFitter(cfg, opts)}
}

// Apply implements Fitter.
func (f *NumericFitter) Apply(ev Evaluator, initialErrors []float64) (*Result, error) {
	return f.apply(ev, initialErrors, false)
}

func (f *fitter) apply(ev Evaluator, initialErrors []float64, analytic bool) (*Result, error) {
	chisq := NewChisqFunction(ev)
	if len(initialErrors) != chisq.Dim() {
		return nil, fmt.Errorf("%w: %d initial errors for %d parameters", ErrInvalidParameter, len(initialErrors), chisq.Dim())
	}
	if ev.NPixels() == 0 {
		return nil, ErrNoPixels
	}

	x0 := chisq.Parameters()
	slog.Info("Starting fit",
		"parameters", len(x0),
		"pixels", ev.NPixels(),
		"analytic", analytic,
		"strategy", f.config.Strategy,
	)

	result := &Result{}
	if analytic && f.config.CheckGradient {
		report, err := CheckGradient(chisq, x0)
		if err != nil {
			return nil, fmt.Errorf("gradient check failed: %w", err)
		}
		report.Log()
		result.GradientCheck = report
	}

	problem := chisq.Problem()
	if !analytic {
		problem.Grad = nil
	}
	settings := opt.Settings{
		Strategy:     f.config.Strategy,
		IterationMax: f.config.IterationMax,
		Tolerance:    f.config.Tolerance,
		Up:           chisq.Up(),
		Errors:       initialErrors,
		OnIteration:  f.onIteration,
		Context:      f.ctx,
	}

	minimum, err := f.minimizer.Minimize(problem, x0, settings)
	if err != nil {
		return nil, fmt.Errorf("minimization failed: %w", err)
	}
	if err := chisq.Err(); err != nil {
		return nil, fmt.Errorf("objective evaluation failed: %w", err)
	}

	cov, err := covariance(chisq, minimum.X, f.config.Strategy)
	if err != nil {
		return nil, fmt.Errorf("covariance failed: %w", err)
	}
	if cov != nil {
		result.Covariance = cov
		result.CovarianceValid = true
		result.Errors = standardErrors(cov)
	} else {
		slog.Warn("Covariance is not positive definite")
	}

	// Leave the evaluator at the minimum.
	value, err := chisq.Value(minimum.X)
	if err != nil {
		return nil, err
	}

	result.Model = ev.Model().Clone()
	result.Parameters = append([]float64(nil), minimum.X...)
	result.Value = value
	result.Valid = minimum.Valid
	result.Status = minimum.Status
	result.Iterations = minimum.Iterations
	result.FuncEvaluations = minimum.FuncEvaluations
	result.GradEvaluations = minimum.GradEvaluations

	slog.Info("Fit complete",
		"valid", result.Valid,
		"status", result.Status,
		"value", result.Value,
		"iterations", result.Iterations,
	)
	return result, nil
}

package opt

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// MayflyAdapter wraps the external Mayfly library as a global, derivative
// free Minimizer. It searches the box x0 ± width*errors.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
	width    float64
}

// NewMayfly creates a new Mayfly optimizer adapter. popSize must be at least 20.
func NewMayfly(maxIters, popSize int, seed int64, width float64) *MayflyAdapter {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
		width:    width,
	}
}

// Minimize implements Minimizer. The gradient and the iteration settings are
// ignored; the population runs for its own iteration budget.
func (m *MayflyAdapter) Minimize(p Problem, x0 []float64, s Settings) (*Minimum, error) {
	if p.Func == nil {
		return nil, errors.New("mayfly: nil objective")
	}
	if len(x0) == 0 {
		return nil, errors.New("mayfly: no parameters")
	}

	if err := s.canceled(); err != nil {
		return nil, err
	}

	// Mayfly takes scalar bounds, so search in scaled coordinates where
	// every parameter spans the same interval.
	sc := newScaling(x0, s.Errors)
	evals := 0
	scaled := sc.fn(p.Func)

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = func(u []float64) float64 {
		evals++
		return scaled(u)
	}
	config.ProblemSize = len(x0)
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = -m.width
	config.UpperBound = m.width
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, fmt.Errorf("mayfly: %w", err)
	}

	best := result.GlobalBest
	minimum := &Minimum{
		X:               sc.toX(nil, best.Position),
		F:               best.Cost,
		Valid:           !math.IsNaN(best.Cost) && !math.IsInf(best.Cost, 0),
		Status:          "PopulationExhausted",
		Iterations:      m.maxIters,
		FuncEvaluations: evals,
	}
	if s.OnIteration != nil {
		s.OnIteration(Iteration{Index: m.maxIters, X: minimum.X, F: minimum.F, FuncEvaluations: evals})
	}
	slog.Debug("Mayfly finished", "f", minimum.F, "evaluations", evals)
	return minimum, nil
}

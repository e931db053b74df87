package fit

import (
	"fmt"
	"math"

	"github.com/cwbudde/multifit/internal/model"
	"github.com/cwbudde/multifit/internal/opt"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Evaluator is the model evaluator surface the objective and the fitters
// drive. *evaluator.Evaluator implements it.
type Evaluator interface {
	Model() model.Model
	NPixels() int
	LinearParameterSize() int
	NonlinearParameterSize() int
	LinearParameters() []float64
	NonlinearParameters() []float64
	SetLinearParameters(p []float64) error
	SetNonlinearParameters(p []float64) error
	WeightedData() []float64
	ComputeModelImage() ([]float64, error)
	ComputeLinearParameterDerivative() (*mat.Dense, error)
	ComputeNonlinearParameterDerivative() (*mat.Dense, error)
}

// ChisqFunction exposes an evaluator as a chi-square objective over the
// concatenated parameter vector [linear..., nonlinear...].
//
// The value is half the squared norm of the whitened residual r and the
// gradient is -J^T r, so Up is 1.
type ChisqFunction struct {
	ev         Evaluator
	measured   []float64
	nLinear    int
	nNonlinear int

	dirty    bool
	residual []float64
	err      error
}

// NewChisqFunction wraps ev. The evaluator must stay bound to the same
// exposures while the function is in use.
func NewChisqFunction(ev Evaluator) *ChisqFunction {
	return &ChisqFunction{
		ev:         ev,
		measured:   ev.WeightedData(),
		nLinear:    ev.LinearParameterSize(),
		nNonlinear: ev.NonlinearParameterSize(),
		dirty:      true,
	}
}

// Up returns the objective change that corresponds to one standard deviation.
func (c *ChisqFunction) Up() float64 { return 1.0 }

// Dim returns the length of the parameter vector.
func (c *ChisqFunction) Dim() int { return c.nLinear + c.nNonlinear }

// Parameters returns the evaluator's current parameters as one vector.
func (c *ChisqFunction) Parameters() []float64 {
	return append(c.ev.LinearParameters(), c.ev.NonlinearParameters()...)
}

// setParameters pushes p into the evaluator unless every element already
// matches the evaluator's current values.
func (c *ChisqFunction) setParameters(p []float64) error {
	if len(p) != c.Dim() {
		return fmt.Errorf("%w: parameter vector has %d elements, want %d", ErrInvalidParameter, len(p), c.Dim())
	}
	linear, nonlinear := p[:c.nLinear], p[c.nLinear:]
	same := floats.Equal(linear, c.ev.LinearParameters()) &&
		floats.Equal(nonlinear, c.ev.NonlinearParameters())
	if same {
		return nil
	}
	c.dirty = true
	if err := c.ev.SetLinearParameters(linear); err != nil {
		return err
	}
	return c.ev.SetNonlinearParameters(nonlinear)
}

func (c *ChisqFunction) residuals() ([]float64, error) {
	if !c.dirty {
		return c.residual, nil
	}
	img, err := c.ev.ComputeModelImage()
	if err != nil {
		return nil, err
	}
	r := make([]float64, len(c.measured))
	floats.SubTo(r, c.measured, img)
	c.residual = r
	c.dirty = false
	return r, nil
}

// Value returns the chi-square objective at p.
func (c *ChisqFunction) Value(p []float64) (float64, error) {
	if err := c.setParameters(p); err != nil {
		return 0, err
	}
	r, err := c.residuals()
	if err != nil {
		return 0, err
	}
	return 0.5 * floats.Dot(r, r), nil
}

// Gradient returns the gradient of the objective at p, linear block first.
func (c *ChisqFunction) Gradient(p []float64) ([]float64, error) {
	if err := c.setParameters(p); err != nil {
		return nil, err
	}
	r, err := c.residuals()
	if err != nil {
		return nil, err
	}
	grad := make([]float64, c.Dim())
	if len(r) == 0 {
		return grad, nil
	}
	linear, err := c.ev.ComputeLinearParameterDerivative()
	if err != nil {
		return nil, err
	}
	nonlinear, err := c.ev.ComputeNonlinearParameterDerivative()
	if err != nil {
		return nil, err
	}
	rv := mat.NewVecDense(len(r), r)
	if linear != nil {
		g := mat.NewVecDense(c.nLinear, grad[:c.nLinear])
		g.MulVec(linear.T(), rv)
	}
	if nonlinear != nil {
		g := mat.NewVecDense(c.nNonlinear, grad[c.nLinear:])
		g.MulVec(nonlinear.T(), rv)
	}
	floats.Scale(-1, grad)
	return grad, nil
}

// Err returns the first error raised inside a Problem callback.
func (c *ChisqFunction) Err() error { return c.err }

// Problem adapts the function to the minimizer callbacks. Callback errors
// turn into NaN values and are kept for Err.
func (c *ChisqFunction) Problem() opt.Problem {
	return opt.Problem{
		Func: func(x []float64) float64 {
			v, err := c.Value(x)
			if err != nil {
				c.fail(err)
				return math.NaN()
			}
			return v
		},
		Grad: func(grad, x []float64) {
			g, err := c.Gradient(x)
			if err != nil {
				c.fail(err)
				for i := range grad {
					grad[i] = math.NaN()
				}
				return
			}
			copy(grad, g)
		},
	}
}

func (c *ChisqFunction) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

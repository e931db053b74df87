package fit

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// covariance returns 2*Up*H^-1 at x, where H is the Hessian of the objective.
// Strategies below 2 use the Gauss-Newton approximation J^T J from the
// whitened derivatives; strategy 2 differentiates the objective numerically.
// It returns nil when H is not positive definite.
func covariance(c *ChisqFunction, x []float64, strategy int) (*mat.SymDense, error) {
	var h *mat.SymDense
	var err error
	if strategy >= 2 {
		h, err = numericHessian(c, x)
	} else {
		h, err = gaussNewtonHessian(c, x)
	}
	if err != nil || h == nil {
		return nil, err
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(h); !ok {
		return nil, nil
	}
	cov := mat.NewSymDense(c.Dim(), nil)
	if err := chol.InverseTo(cov); err != nil {
		return nil, nil
	}
	cov.ScaleSym(2*c.Up(), cov)
	return cov, nil
}

func gaussNewtonHessian(c *ChisqFunction, x []float64) (*mat.SymDense, error) {
	if err := c.setParameters(x); err != nil {
		return nil, err
	}
	linear, err := c.ev.ComputeLinearParameterDerivative()
	if err != nil {
		return nil, err
	}
	nonlinear, err := c.ev.ComputeNonlinearParameterDerivative()
	if err != nil {
		return nil, err
	}

	var j mat.Matrix
	switch {
	case linear != nil && nonlinear != nil:
		var both mat.Dense
		both.Augment(linear, nonlinear)
		j = &both
	case linear != nil:
		j = linear
	case nonlinear != nil:
		j = nonlinear
	default:
		return nil, nil
	}

	h := mat.NewSymDense(c.Dim(), nil)
	h.SymOuterK(1, j.T())
	return h, nil
}

func numericHessian(c *ChisqFunction, x []float64) (*mat.SymDense, error) {
	f := c.Problem().Func
	h := mat.NewSymDense(c.Dim(), nil)
	fd.Hessian(h, f, x, nil)
	if err := c.Err(); err != nil {
		return nil, err
	}
	return h, nil
}

func standardErrors(cov *mat.SymDense) []float64 {
	n := cov.SymmetricDim()
	errs := make([]float64, n)
	for i := range errs {
		errs[i] = math.Sqrt(cov.At(i, i))
	}
	return errs
}

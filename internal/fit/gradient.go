package fit

import (
	"log/slog"

	"gonum.org/v1/gonum/diff/fd"
)

// GradientReport compares the analytic gradient with central differences.
type GradientReport struct {
	Numeric  []float64 `json:"numeric"`
	Analytic []float64 `json:"analytic"`
	// Ratio is Numeric/Analytic, or 0 where the analytic entry is 0.
	Ratio []float64 `json:"ratio"`
}

// CheckGradient evaluates both gradients of c at x.
func CheckGradient(c *ChisqFunction, x []float64) (*GradientReport, error) {
	analytic, err := c.Gradient(x)
	if err != nil {
		return nil, err
	}
	numeric := fd.Gradient(nil, c.Problem().Func, x, &fd.Settings{Formula: fd.Central})
	if err := c.Err(); err != nil {
		return nil, err
	}

	ratio := make([]float64, len(x))
	for i := range ratio {
		if analytic[i] != 0 {
			ratio[i] = numeric[i] / analytic[i]
		}
	}
	return &GradientReport{Numeric: numeric, Analytic: analytic, Ratio: ratio}, nil
}

// Log writes the report to the default logger.
func (r *GradientReport) Log() {
	slog.Info("Gradient check",
		"numeric", r.Numeric,
		"analytic", r.Analytic,
		"ratio", r.Ratio,
	)
}

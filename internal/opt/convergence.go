package opt

import (
	"log/slog"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// ConvergenceConfig defines parameters for detecting optimization convergence
type ConvergenceConfig struct {
	// Enabled controls whether convergence detection is active
	Enabled bool

	// Patience is the number of consecutive major iterations without a
	// significant decrease before stopping
	Patience int

	// Threshold is the minimum absolute decrease of the objective that
	// counts as progress
	Threshold float64
}

// DefaultConvergenceConfig returns the tolerance-derived stopping rule: the
// objective must keep dropping by more than 0.002*tolerance*up.
func DefaultConvergenceConfig(tolerance, up float64) ConvergenceConfig {
	return ConvergenceConfig{
		Enabled:   true,
		Patience:  3,
		Threshold: 0.002 * tolerance * up,
	}
}

// ConvergenceTracker tracks cost history and detects when optimization has
// converged. It implements optimize.Converger.
type ConvergenceTracker struct {
	config          ConvergenceConfig
	costHistory     []float64
	bestCost        float64 // Best cost ever seen
	lastSignificant float64 // Last cost that was a significant improvement
	staleCount      int     // Number of iterations without significant improvement
}

var _ optimize.Converger = (*ConvergenceTracker)(nil)

// NewConvergenceTracker creates a new convergence tracker with the given config
func NewConvergenceTracker(config ConvergenceConfig) *ConvergenceTracker {
	return &ConvergenceTracker{
		config:          config,
		bestCost:        math.Inf(1),
		lastSignificant: math.Inf(1),
	}
}

// Init implements optimize.Converger.
func (c *ConvergenceTracker) Init(int) {
	c.Reset()
}

// Converged implements optimize.Converger.
func (c *ConvergenceTracker) Converged(loc *optimize.Location) optimize.Status {
	if c.Update(loc.F) {
		return optimize.FunctionConvergence
	}
	return optimize.NotTerminated
}

// Update records a new cost value and returns true if convergence is detected
func (c *ConvergenceTracker) Update(cost float64) bool {
	if !c.config.Enabled {
		return false
	}

	c.costHistory = append(c.costHistory, cost)
	if cost < c.bestCost {
		c.bestCost = cost
	}

	if len(c.costHistory) == 1 {
		c.lastSignificant = cost
		return false
	}

	improvement := c.lastSignificant - cost
	if improvement > c.config.Threshold {
		c.lastSignificant = cost
		c.staleCount = 0
		return false
	}

	c.staleCount++
	slog.Debug("No significant objective decrease",
		"cost", cost,
		"last_significant", c.lastSignificant,
		"improvement", improvement,
		"stale_count", c.staleCount,
		"patience", c.config.Patience,
	)
	if c.staleCount >= c.config.Patience {
		slog.Debug("Convergence detected",
			"stale_count", c.staleCount,
			"best_cost", c.bestCost,
		)
		return true
	}
	return false
}

// BestCost returns the best cost seen so far
func (c *ConvergenceTracker) BestCost() float64 {
	return c.bestCost
}

// History returns the full cost history
func (c *ConvergenceTracker) History() []float64 {
	return append([]float64{}, c.costHistory...)
}

// StaleCount returns the current number of iterations without improvement
func (c *ConvergenceTracker) StaleCount() int {
	return c.staleCount
}

// Reset clears the tracker's state
func (c *ConvergenceTracker) Reset() {
	c.costHistory = nil
	c.bestCost = math.Inf(1)
	c.lastSignificant = math.Inf(1)
	c.staleCount = 0
}

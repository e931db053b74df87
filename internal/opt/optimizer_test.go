package opt

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Sphere function: f(x) = sum(x_i^2), minimum at origin
func sphere(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return sum
}

func sphereGrad(grad, x []float64) {
	for i, v := range x {
		grad[i] = 2 * v
	}
}

// Rosenbrock function, minimum at (1, 1)
func rosenbrock(x []float64) float64 {
	a := 1 - x[0]
	b := x[1] - x[0]*x[0]
	return a*a + 100*b*b
}

func rosenbrockGrad(grad, x []float64) {
	b := x[1] - x[0]*x[0]
	grad[0] = -2*(1-x[0]) - 400*x[0]*b
	grad[1] = 200 * b
}

func defaultSettings() Settings {
	return Settings{Strategy: 1, IterationMax: 500, Tolerance: 1e-6, Up: 1}
}

func TestMigradAnalyticGradient(t *testing.T) {
	for _, strategy := range []int{0, 1, 2} {
		s := defaultSettings()
		s.Strategy = strategy
		m, err := NewMigrad().Minimize(Problem{Func: rosenbrock, Grad: rosenbrockGrad}, []float64{-1.2, 1}, s)
		require.NoError(t, err)

		assert.True(t, m.Valid, "strategy %d: status %s", strategy, m.Status)
		assert.InDelta(t, 1, m.X[0], 1e-3, "strategy %d", strategy)
		assert.InDelta(t, 1, m.X[1], 1e-3, "strategy %d", strategy)
		assert.Less(t, m.F, 1e-6)
	}
}

func TestMigradNumericGradient(t *testing.T) {
	s := defaultSettings()
	s.Errors = []float64{0.5, 2, 1}
	m, err := NewMigrad().Minimize(Problem{Func: sphere}, []float64{3, -2, 1}, s)
	require.NoError(t, err)

	assert.True(t, m.Valid, m.Status)
	for i, v := range m.X {
		assert.InDelta(t, 0, v, 1e-4, "parameter %d", i)
	}
}

func TestMigradIterationLimitIsNotAnError(t *testing.T) {
	s := defaultSettings()
	s.IterationMax = 1
	x0 := []float64{-1.2, 1}
	m, err := NewMigrad().Minimize(Problem{Func: rosenbrock, Grad: rosenbrockGrad}, x0, s)
	require.NoError(t, err)

	assert.False(t, m.Valid)
	assert.LessOrEqual(t, m.Iterations, 1)
	assert.LessOrEqual(t, m.F, rosenbrock(x0), "best value found is reported")
}

func TestMigradReportsIterations(t *testing.T) {
	var seen []Iteration
	s := defaultSettings()
	s.OnIteration = func(it Iteration) { seen = append(seen, it) }

	_, err := NewMigrad().Minimize(Problem{Func: sphere, Grad: sphereGrad}, []float64{1, 1}, s)
	require.NoError(t, err)
	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.LessOrEqual(t, seen[i].F, seen[i-1].F)
	}
}

func TestMigradRejectsEmptyProblems(t *testing.T) {
	_, err := NewMigrad().Minimize(Problem{}, []float64{1}, defaultSettings())
	assert.Error(t, err)
	_, err = NewMigrad().Minimize(Problem{Func: sphere}, nil, defaultSettings())
	assert.Error(t, err)
}

func TestMigradStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := defaultSettings()
	s.Context = ctx

	calls := 0
	s.OnIteration = func(it Iteration) {
		calls++
		if calls == 2 {
			cancel()
		}
	}
	_, err := NewMigrad().Minimize(Problem{Func: rosenbrock, Grad: rosenbrockGrad}, []float64{-1.2, 1}, s)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, calls)
}

func TestSeededStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := defaultSettings()
	s.Context = ctx

	seeded := &Seeded{Global: NewMayfly(5, 20, 1, 2), Local: NewMigrad()}
	_, err := seeded.Minimize(Problem{Func: sphere}, []float64{1, 1}, s)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScaling(t *testing.T) {
	sc := newScaling([]float64{1, 2}, []float64{0, 3})
	assert.Equal(t, []float64{1, 3}, sc.scale)
	assert.Equal(t, []float64{2, 8}, sc.toX(nil, []float64{1, 2}))

	grad := make([]float64, 2)
	sc.grad(sphereGrad)(grad, []float64{1, 1})
	// x = (2, 5), df/dx = (4, 10), scaled by (1, 3)
	assert.Equal(t, []float64{4, 30}, grad)
}

func TestMayflyAdapterOnSphere(t *testing.T) {
	optimizer := NewMayfly(100, 20, 42, 5) // maxIters, popSize, seed, width

	s := defaultSettings()
	s.Errors = []float64{1, 1, 1}
	m, err := optimizer.Minimize(Problem{Func: sphere}, []float64{3, -2, 1}, s)
	require.NoError(t, err)
	require.Len(t, m.X, 3)

	// Should converge close to zero
	assert.Less(t, m.F, 0.1)
	for i, v := range m.X {
		assert.Less(t, math.Abs(v), 1.0, "parameter %d", i)
	}
	assert.Positive(t, m.FuncEvaluations)
}

func TestMayflyAdapterDeterministic(t *testing.T) {
	x0 := []float64{2, -2}
	s := defaultSettings()

	m1, err := NewMayfly(50, 20, 123, 5).Minimize(Problem{Func: sphere}, x0, s)
	require.NoError(t, err)
	m2, err := NewMayfly(50, 20, 123, 5).Minimize(Problem{Func: sphere}, x0, s)
	require.NoError(t, err)

	assert.Equal(t, m1.F, m2.F, "same seed must give the same result")
}

func TestSeeded(t *testing.T) {
	seeded := &Seeded{Global: NewMayfly(30, 20, 7, 5), Local: NewMigrad()}
	m, err := seeded.Minimize(Problem{Func: sphere, Grad: sphereGrad}, []float64{4, 4}, defaultSettings())
	require.NoError(t, err)

	assert.True(t, m.Valid, m.Status)
	assert.InDelta(t, 0, m.X[0], 1e-4)
	assert.InDelta(t, 0, m.X[1], 1e-4)
}

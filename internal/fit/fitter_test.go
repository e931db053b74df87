package fit

import (
	"context"
	"testing"

	"github.com/cwbudde/multifit/internal/config"
	"github.com/cwbudde/multifit/internal/evaluator"
	"github.com/cwbudde/multifit/internal/model"
	"github.com/cwbudde/multifit/internal/opt"
	"github.com/cwbudde/multifit/internal/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingMinimizer records calls and returns a fixed terminal state.
type countingMinimizer struct {
	calls int
	valid bool
}

func (m *countingMinimizer) Minimize(p opt.Problem, x0 []float64, s opt.Settings) (*opt.Minimum, error) {
	m.calls++
	return &opt.Minimum{
		X:          append([]float64(nil), x0...),
		F:          p.Func(x0),
		Valid:      m.valid,
		Status:     "IterationLimit",
		Iterations: s.IterationMax,
	}, nil
}

func assertRecovers(t *testing.T, r *Result, truth model.Model) {
	t.Helper()
	flux := truth.LinearParameters()[0]
	assert.InEpsilon(t, flux, r.Parameters[0], 0.03)
	for i, v := range truth.NonlinearParameters() {
		assert.InDelta(t, v, r.Parameters[1+i], 0.1, "nonlinear parameter %d", i)
	}
	assert.Equal(t, r.Parameters[:1], r.Model.LinearParameters())
	assert.Equal(t, r.Parameters[1:], r.Model.NonlinearParameters())
}

func TestAnalyticFitterRecoversTruth(t *testing.T) {
	ev, s := simulated(t, scene.DefaultSimulateOptions())
	start, err := NewChisqFunction(ev).Value(append(s.Model.LinearParameters(), s.Model.NonlinearParameters()...))
	require.NoError(t, err)

	var iterations int
	fitter := NewAnalyticFitter(config.Defaults(), WithIterationCallback(func(opt.Iteration) { iterations++ }))
	r, err := fitter.Apply(ev, s.Errors)
	require.NoError(t, err)

	assert.True(t, r.Valid, r.Status)
	assert.Less(t, r.Value, start)
	assertRecovers(t, r, s.Truth)
	assert.Positive(t, iterations)
	assert.Nil(t, r.GradientCheck)

	require.True(t, r.CovarianceValid)
	require.Len(t, r.Errors, 3)
	for i, e := range r.Errors {
		assert.Positive(t, e, "parameter %d", i)
	}

	// The evaluator is left at the minimum
	assert.Equal(t, r.Parameters[:1], ev.LinearParameters())
	assert.Equal(t, r.Parameters[1:], ev.NonlinearParameters())
}

func TestNumericFitterRecoversTruth(t *testing.T) {
	opts := scene.DefaultSimulateOptions()
	opts.Kind = model.KindGaussian
	ev, s := simulated(t, opts)

	r, err := NewNumericFitter(config.Defaults()).Apply(ev, s.Errors)
	require.NoError(t, err)
	assert.True(t, r.Valid, r.Status)
	assertRecovers(t, r, s.Truth)
}

func TestStrategiesAgreeOnErrors(t *testing.T) {
	var errs [][]float64
	for _, strategy := range []int{0, 1, 2} {
		ev, s := simulated(t, scene.DefaultSimulateOptions())
		cfg := config.Defaults()
		cfg.Strategy = strategy
		r, err := NewAnalyticFitter(cfg).Apply(ev, s.Errors)
		require.NoError(t, err)
		require.True(t, r.CovarianceValid, "strategy %d", strategy)
		errs = append(errs, r.Errors)
	}
	for i := range errs[0] {
		assert.InEpsilon(t, errs[1][i], errs[0][i], 0.05)
		assert.InEpsilon(t, errs[1][i], errs[2][i], 0.2)
	}
}

func TestApplyChecksErrorLengthBeforeMinimizing(t *testing.T) {
	ev, _ := simulated(t, scene.DefaultSimulateOptions())
	m := &countingMinimizer{}

	_, err := NewAnalyticFitter(config.Defaults(), WithMinimizer(m)).Apply(ev, []float64{1, 1})
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = NewNumericFitter(config.Defaults(), WithMinimizer(m)).Apply(ev, []float64{1, 1, 1, 1})
	assert.ErrorIs(t, err, ErrInvalidParameter)
	assert.Zero(t, m.calls)
}

func TestApplyOnEmptyEvaluator(t *testing.T) {
	ev, err := evaluator.New(model.NewPointSource(1, 0, 0))
	require.NoError(t, err)
	require.NoError(t, ev.SetExposureList(nil))
	m := &countingMinimizer{}

	_, err = NewAnalyticFitter(config.Defaults(), WithMinimizer(m)).Apply(ev, []float64{1, 1, 1})
	assert.ErrorIs(t, err, ErrNoPixels)
	assert.Zero(t, m.calls)
}

func TestApplyStopsOnCanceledContext(t *testing.T) {
	ev, s := simulated(t, scene.DefaultSimulateOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewAnalyticFitter(config.Defaults(), WithContext(ctx)).Apply(ev, s.Errors)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIterationLimitIsNotAFailure(t *testing.T) {
	ev, s := simulated(t, scene.DefaultSimulateOptions())
	cfg := config.Defaults()
	cfg.IterationMax = 1

	start, err := NewChisqFunction(ev).Value(append(s.Model.LinearParameters(), s.Model.NonlinearParameters()...))
	require.NoError(t, err)
	r, err := NewAnalyticFitter(cfg).Apply(ev, s.Errors)
	require.NoError(t, err)
	assert.False(t, r.Valid)
	assert.LessOrEqual(t, r.Value, start, "best value found is kept")
}

func TestInvalidMinimumIsReported(t *testing.T) {
	ev, s := simulated(t, scene.DefaultSimulateOptions())
	m := &countingMinimizer{}

	r, err := NewAnalyticFitter(config.Defaults(), WithMinimizer(m)).Apply(ev, s.Errors)
	require.NoError(t, err)
	assert.Equal(t, 1, m.calls)
	assert.False(t, r.Valid)
	assert.Equal(t, "IterationLimit", r.Status)
	assert.Equal(t, 500, r.Iterations)
}

func TestCheckGradientIsReported(t *testing.T) {
	ev, s := simulated(t, scene.DefaultSimulateOptions())
	cfg := config.Defaults()
	cfg.CheckGradient = true

	r, err := NewAnalyticFitter(cfg).Apply(ev, s.Errors)
	require.NoError(t, err)
	require.NotNil(t, r.GradientCheck)
	assert.Len(t, r.GradientCheck.Numeric, 3)

	// The numeric fitter has no analytic gradient to check
	ev, s = simulated(t, scene.DefaultSimulateOptions())
	r, err = NewNumericFitter(cfg).Apply(ev, s.Errors)
	require.NoError(t, err)
	assert.Nil(t, r.GradientCheck)
}

func TestGlobalSearchSeedsLocalMinimizer(t *testing.T) {
	ev, s := simulated(t, scene.DefaultSimulateOptions())
	cfg := config.Defaults()
	cfg.GlobalSearch = true
	cfg.GlobalIterations = 10

	r, err := NewAnalyticFitter(cfg).Apply(ev, s.Errors)
	require.NoError(t, err)
	assert.True(t, r.Valid, r.Status)
	assertRecovers(t, r, s.Truth)
	assert.Greater(t, r.FuncEvaluations, cfg.GlobalIterations)
}

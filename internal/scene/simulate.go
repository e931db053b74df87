package scene

import (
	"errors"
	"fmt"
	"image"
	"math"
	"math/rand"

	"github.com/cwbudde/multifit/internal/exposure"
	"github.com/cwbudde/multifit/internal/model"
	"github.com/cwbudde/multifit/internal/pixbuf"
)

// ErrNoExposures is returned by Simulate when asked for zero exposures.
var ErrNoExposures = errors.New("scene needs at least one exposure")

// SimulateOptions describes a synthetic scene.
type SimulateOptions struct {
	Kind   model.Kind
	Flux   float64
	X, Y   float64 // sky position
	Radius float64 // gaussian only

	Exposures int
	Size      int     // exposure width and height in pixels
	PSFSigma  float64 // PSF width of the first exposure, pixels
	Variance  float64 // per-pixel noise variance
	Noise     bool

	// Perturbation offsets the starting model from the truth: the flux is
	// scaled by 1+Perturbation and nonlinear parameters are shifted by it.
	Perturbation float64
	Seed         int64
}

// DefaultSimulateOptions returns a small point-source scene.
func DefaultSimulateOptions() SimulateOptions {
	return SimulateOptions{
		Kind:         model.KindPointSource,
		Flux:         1000,
		Radius:       1.5,
		Exposures:    3,
		Size:         31,
		PSFSigma:     1.5,
		Variance:     1,
		Noise:        true,
		Perturbation: 0.2,
		Seed:         42,
	}
}

// Simulate renders the truth model into dithered, rotated exposures.
// Exposure i is centered near the source with a sub-pixel shift, rotated by
// 10*i degrees and observed with a PSF that widens by 10% per exposure.
func Simulate(opts SimulateOptions) (*Scene, error) {
	if opts.Exposures <= 0 {
		return nil, ErrNoExposures
	}
	if opts.Size <= 0 || opts.PSFSigma <= 0 || opts.Variance <= 0 {
		return nil, fmt.Errorf("simulate: size, PSF sigma and variance must be positive")
	}

	truth, err := truthModel(opts)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	noise := math.Sqrt(opts.Variance)

	s := &Scene{Truth: truth}
	for i := 0; i < opts.Exposures; i++ {
		exp, err := newExposure(opts, i)
		if err != nil {
			return nil, err
		}
		img, err := Render(truth, exp)
		if err != nil {
			return nil, fmt.Errorf("exposure %d: %w", i, err)
		}
		for k := range img {
			if opts.Noise {
				img[k] += noise * rng.NormFloat64()
			}
			exp.Variance[k] = opts.Variance
		}
		exp.Image = img
		s.Exposures = append(s.Exposures, exp)
	}

	s.Model = truth.Clone()
	p := opts.Perturbation
	start := truth.LinearParameters()
	for i := range start {
		start[i] *= 1 + p
	}
	if err := s.Model.SetLinearParameters(start); err != nil {
		return nil, err
	}
	nonlinear := truth.NonlinearParameters()
	for i := range nonlinear {
		nonlinear[i] += p
	}
	if err := s.Model.SetNonlinearParameters(nonlinear); err != nil {
		return nil, err
	}
	s.Errors = DefaultErrors(truth)
	return s, nil
}

func truthModel(opts SimulateOptions) (model.Model, error) {
	switch opts.Kind {
	case model.KindGaussian:
		return model.NewGaussian(opts.Flux, opts.X, opts.Y, opts.Radius), nil
	case model.KindPointSource, "":
		return model.NewPointSource(opts.Flux, opts.X, opts.Y), nil
	}
	return nil, fmt.Errorf("simulate: unknown model kind %q", opts.Kind)
}

func newExposure(opts SimulateOptions, i int) (*exposure.Exposure, error) {
	half := float64(opts.Size-1) / 2
	shift := 0.3 * float64(i)
	angle := float64(i) * 10 * math.Pi / 180
	cos, sin := math.Cos(angle), math.Sin(angle)
	wcs, err := exposure.NewAffineWCS(
		exposure.Point{X: half + shift, Y: half - shift},
		exposure.Point{X: opts.X, Y: opts.Y},
		[2][2]float64{{cos, -sin}, {sin, cos}},
	)
	if err != nil {
		return nil, err
	}
	psf := exposure.NewPSF(opts.PSFSigma * (1 + 0.1*float64(i)))
	exp := exposure.New(image.Rect(0, 0, opts.Size, opts.Size), psf, wcs)
	exp.ID = fmt.Sprintf("sim-%03d", i)
	exp.Filter = i % 2
	return exp, nil
}

// DefaultErrors returns starting errors for m: 10% of each linear parameter
// (at least 1) and one sky unit for every nonlinear parameter.
func DefaultErrors(m model.Model) []float64 {
	var errs []float64
	for _, v := range m.LinearParameters() {
		errs = append(errs, math.Max(0.1*math.Abs(v), 1))
	}
	for range m.NonlinearParameters() {
		errs = append(errs, 1)
	}
	return errs
}

// Render evaluates m over every pixel of exp and returns the noiseless
// image in plane order.
func Render(m model.Model, exp *exposure.Exposure) ([]float64, error) {
	fp := exposure.NewBoxFootprint(exp.BBox)
	proj, err := m.MakeProjection(exp.PSF, exp.WCS, fp)
	if err != nil {
		return nil, err
	}
	layout, err := pixbuf.NewLayout([]int{fp.Npix()})
	if err != nil {
		return nil, err
	}
	buf := pixbuf.Allocate(layout, m.LinearParameterSize(), m.NonlinearParameterSize())
	if err := proj.SetBuffers(buf.ModelImage, buf.LinearDerivative, buf.NonlinearDerivative); err != nil {
		return nil, err
	}
	if err := proj.RecomputeModelImage(); err != nil {
		return nil, err
	}
	img := make([]float64, len(exp.Image))
	fp.ForEach(func(i, x, y int) {
		img[exp.Index(x, y)] = buf.ModelImage[i]
	})
	return img, nil
}
